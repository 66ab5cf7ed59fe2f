package ffmpeg

/*
#cgo pkg-config: libavformat libavcodec libavutil
#include <libavformat/avformat.h>
#include <stdlib.h>
#include <string.h>

static inline int has_flag(const AVOutputFormat *f, int flag) {
    return f != NULL && (f->flags & flag) != 0;
}
*/
import "C"
import (
	"unsafe"

	"github.com/sirupsen/logrus"
	"github.com/stydxm/screenrec/pkg/stream"
)

// NeedsGlobalHeader 按输出路径推断容器格式，判断编码器是否需要全局头
func NeedsGlobalHeader(path string) bool {
	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))
	return C.has_flag(C.av_guess_format(nil, cpath, nil), C.AVFMT_GLOBALHEADER) != 0
}

// Container libavformat输出文件，实现 stream.Sink
type Container struct {
	path    string
	fmtCtx  *C.AVFormatContext
	stream  *C.AVStream
	packet  *C.AVPacket
	trailer bool
}

// OpenContainer 创建单视频流的容器并写入文件头。流参数取自已打开的编码器。
func OpenContainer(path string, enc *Encoder) (_ *Container, err error) {
	c := &Container{path: path}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	if ret := C.avformat_alloc_output_context2(&c.fmtCtx, nil, nil, cpath); ret < 0 || c.fmtCtx == nil {
		return nil, &stream.InitError{Kind: stream.OutputOpenFailed, Err: avError("avformat_alloc_output_context2", ret)}
	}

	c.stream = C.avformat_new_stream(c.fmtCtx, nil)
	if c.stream == nil {
		return nil, stream.NewInitError(stream.ResourceAllocationFailed, "avformat_new_stream")
	}
	if ret := C.avcodec_parameters_from_context(c.stream.codecpar, enc.codecCtx); ret < 0 {
		return nil, &stream.InitError{Kind: stream.ResourceAllocationFailed, Err: avError("avcodec_parameters_from_context", ret)}
	}
	c.stream.time_base = enc.codecCtx.time_base
	if NeedsGlobalHeader(path) && len(enc.Headers()) == 0 {
		logrus.Warnf("%s 需要全局头，但编码器 %s 没有输出 extradata", path, enc.Name())
	}

	// 打开输出文件
	if C.has_flag(c.fmtCtx.oformat, C.AVFMT_NOFILE) == 0 {
		if ret := C.avio_open(&c.fmtCtx.pb, cpath, C.AVIO_FLAG_WRITE); ret < 0 {
			return nil, &stream.InitError{Kind: stream.OutputOpenFailed, Err: avError("avio_open "+path, ret)}
		}
	}
	// 写文件头后 time_base 可能被容器改写（例如 mp4 的 1/15360）
	if ret := C.avformat_write_header(c.fmtCtx, nil); ret < 0 {
		return nil, &stream.InitError{Kind: stream.OutputOpenFailed, Err: avError("avformat_write_header", ret)}
	}

	c.packet = C.av_packet_alloc()
	if c.packet == nil {
		return nil, stream.NewInitError(stream.ResourceAllocationFailed, "av_packet_alloc")
	}

	logrus.Debugf("输出容器已打开: %s (%s), 时间基 %s", path, C.GoString(c.fmtCtx.oformat.name), c.TimeBase())
	return c, nil
}

func (c *Container) TimeBase() stream.Rational {
	tb := c.stream.time_base
	return stream.Rational{Num: int(tb.num), Den: int(tb.den)}
}

func (c *Container) StreamIndex() int {
	return int(c.stream.index)
}

// WritePacket 时间戳须已换算到 TimeBase()
func (c *Container) WritePacket(pkt stream.Packet) error {
	if len(pkt.Data) == 0 {
		return nil
	}
	if ret := C.av_new_packet(c.packet, C.int(len(pkt.Data))); ret < 0 {
		return avError("av_new_packet", ret)
	}
	C.memcpy(unsafe.Pointer(c.packet.data), unsafe.Pointer(&pkt.Data[0]), C.size_t(len(pkt.Data)))
	c.packet.pts = fromTS(pkt.PTS)
	c.packet.dts = fromTS(pkt.DTS)
	c.packet.duration = C.int64_t(pkt.Duration)
	c.packet.stream_index = C.int(pkt.StreamIndex)
	if pkt.Keyframe {
		c.packet.flags |= C.AV_PKT_FLAG_KEY
	}

	// av_interleaved_write_frame 接管包的引用
	if ret := C.av_interleaved_write_frame(c.fmtCtx, c.packet); ret < 0 {
		C.av_packet_unref(c.packet)
		return avError("av_interleaved_write_frame", ret)
	}
	return nil
}

// WriteTrailer 写入尾部/索引，使文件可播放
func (c *Container) WriteTrailer() error {
	if c.trailer {
		return stream.ErrAlreadyFinalized
	}
	c.trailer = true
	if ret := C.av_write_trailer(c.fmtCtx); ret < 0 {
		return avError("av_write_trailer", ret)
	}
	return nil
}

// Close 关闭文件并释放上下文
func (c *Container) Close() error {
	var err error
	if c.packet != nil {
		C.av_packet_free(&c.packet)
		c.packet = nil
	}
	if c.fmtCtx != nil {
		if c.fmtCtx.pb != nil && C.has_flag(c.fmtCtx.oformat, C.AVFMT_NOFILE) == 0 {
			if ret := C.avio_closep(&c.fmtCtx.pb); ret < 0 {
				err = avError("avio_closep", ret)
			}
		}
		C.avformat_free_context(c.fmtCtx)
		c.fmtCtx = nil
	}
	logrus.Debugf("输出容器已关闭: %s", c.path)
	return err
}

var _ stream.Sink = (*Container)(nil)

var _ stream.Codec = (*Encoder)(nil)
