package ffmpeg

/*
#cgo pkg-config: libavcodec libavutil
#include <libavcodec/avcodec.h>
#include <libavutil/opt.h>
#include <libavutil/imgutils.h>
#include <stdlib.h>
#include <string.h>
*/
import "C"
import (
	"fmt"
	"io"
	"unsafe"

	"github.com/sirupsen/logrus"
	"github.com/stydxm/screenrec/pkg/stream"
)

// Encoder 使用FFmpeg libavcodec的视频编码器，实现 stream.Codec
type Encoder struct {
	config   stream.EncoderConfig
	name     string
	codec    *C.AVCodec
	codecCtx *C.AVCodecContext
	frame    *C.AVFrame
	packet   *C.AVPacket
}

// OpenEncoder 协商并打开编码器：依次尝试 config.Candidates，最后按 config.Codec 查找默认实现。
// globalHeader 为 true 时把SPS/PPS放入extradata（mp4/mkv等容器需要）。
func OpenEncoder(config stream.EncoderConfig, globalHeader bool) (*Encoder, error) {
	QuietLogs()

	var lastErr error
	for _, codec := range findEncoders(config) {
		name := C.GoString(codec.name)
		enc, err := openWith(codec, config, globalHeader)
		if err == nil {
			enc.name = name
			logrus.Debugf("FFmpeg编码器初始化成功: %s %dx%d @ %d fps, bitrate: %d bps, gop: %d, b帧: %d",
				name, config.Width, config.Height, config.FPS, config.Bitrate, config.GopSize, config.MaxBFrames)
			return enc, nil
		}
		logrus.Debugf("编码器 %s 不可用: %v", name, err)
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no encoder registered for %q", config.Codec)
	}
	return nil, &stream.InitError{Kind: stream.UnsupportedCodec, Err: lastErr}
}

func findEncoders(config stream.EncoderConfig) []*C.AVCodec {
	var found []*C.AVCodec
	seen := map[*C.AVCodec]bool{}
	add := func(c *C.AVCodec) {
		if c != nil && !seen[c] && C.av_codec_is_encoder(c) != 0 {
			seen[c] = true
			found = append(found, c)
		}
	}
	for _, name := range config.Candidates {
		cname := C.CString(name)
		add(C.avcodec_find_encoder_by_name(cname))
		C.free(unsafe.Pointer(cname))
	}
	if config.Codec != "" {
		cname := C.CString(config.Codec)
		if desc := C.avcodec_descriptor_get_by_name(cname); desc != nil {
			add(C.avcodec_find_encoder(desc.id))
		}
		add(C.avcodec_find_encoder_by_name(cname))
		C.free(unsafe.Pointer(cname))
	}
	return found
}

func openWith(codec *C.AVCodec, config stream.EncoderConfig, globalHeader bool) (*Encoder, error) {
	encoder := &Encoder{config: config, codec: codec}

	// 分配编码器上下文
	encoder.codecCtx = C.avcodec_alloc_context3(codec)
	if encoder.codecCtx == nil {
		return nil, fmt.Errorf("allocate codec context")
	}

	// 设置编码参数
	encoder.codecCtx.width = C.int(config.Width)
	encoder.codecCtx.height = C.int(config.Height)
	encoder.codecCtx.time_base = C.AVRational{num: 1, den: C.int(config.FPS)}
	encoder.codecCtx.framerate = C.AVRational{num: C.int(config.FPS), den: 1}
	encoder.codecCtx.pix_fmt = C.AV_PIX_FMT_YUV420P
	if config.GopSize > 0 {
		encoder.codecCtx.gop_size = C.int(config.GopSize)
	}
	encoder.codecCtx.max_b_frames = C.int(config.MaxBFrames)
	if config.Bitrate > 0 {
		encoder.codecCtx.bit_rate = C.int64_t(config.Bitrate)
	}
	if globalHeader {
		encoder.codecCtx.flags |= C.AV_CODEC_FLAG_GLOBAL_HEADER
	}

	// 预设只对支持的编码器生效（如libx264），其余忽略
	if config.Preset != "" {
		key, val := C.CString("preset"), C.CString(config.Preset)
		C.av_opt_set(encoder.codecCtx.priv_data, key, val, 0)
		C.free(unsafe.Pointer(key))
		C.free(unsafe.Pointer(val))
	}

	// 打开编码器
	if ret := C.avcodec_open2(encoder.codecCtx, codec, nil); ret < 0 {
		C.avcodec_free_context(&encoder.codecCtx)
		return nil, avError("avcodec_open2", ret)
	}

	// 分配帧
	encoder.frame = C.av_frame_alloc()
	if encoder.frame == nil {
		encoder.Close()
		return nil, fmt.Errorf("allocate frame")
	}
	encoder.frame.format = C.int(encoder.codecCtx.pix_fmt)
	encoder.frame.width = encoder.codecCtx.width
	encoder.frame.height = encoder.codecCtx.height

	// 分配帧缓冲区
	if ret := C.av_frame_get_buffer(encoder.frame, 0); ret < 0 {
		encoder.Close()
		return nil, avError("av_frame_get_buffer", ret)
	}

	// 分配数据包
	encoder.packet = C.av_packet_alloc()
	if encoder.packet == nil {
		encoder.Close()
		return nil, fmt.Errorf("allocate packet")
	}
	return encoder, nil
}

func (e *Encoder) Name() string { return e.name }

func (e *Encoder) TimeBase() stream.Rational {
	tb := e.codecCtx.time_base
	return stream.Rational{Num: int(tb.num), Den: int(tb.den)}
}

// SendFrame 拷贝三个平面并送入编码器；nil 表示流结束
func (e *Encoder) SendFrame(f *stream.PlanarFrame) error {
	if f == nil {
		if ret := C.avcodec_send_frame(e.codecCtx, nil); ret < 0 && !isEOF(ret) {
			return avError("avcodec_send_frame(flush)", ret)
		}
		return nil
	}
	if f.Width != int(e.frame.width) || f.Height != int(e.frame.height) {
		return fmt.Errorf("frame %dx%d, encoder %dx%d", f.Width, f.Height, int(e.frame.width), int(e.frame.height))
	}

	// 确保帧可写（编码器可能仍持有上一帧的引用）
	if ret := C.av_frame_make_writable(e.frame); ret < 0 {
		return avError("av_frame_make_writable", ret)
	}

	cw, ch := f.ChromaSize()
	copyPlane(e.frame, 0, f.Y, f.StrideY, f.Width, f.Height)
	copyPlane(e.frame, 1, f.Cb, f.StrideC, cw, ch)
	copyPlane(e.frame, 2, f.Cr, f.StrideC, cw, ch)

	e.frame.pts = C.int64_t(f.PTS)
	if ret := C.avcodec_send_frame(e.codecCtx, e.frame); ret < 0 {
		return avError("avcodec_send_frame", ret)
	}
	return nil
}

func copyPlane(frame *C.AVFrame, plane int, src []byte, srcStride, width, height int) {
	lineSize := int(frame.linesize[plane])
	dst := unsafe.Slice((*byte)(unsafe.Pointer(frame.data[plane])), lineSize*height)
	for y := 0; y < height; y++ {
		copy(dst[y*lineSize:y*lineSize+width], src[y*srcStride:y*srcStride+width])
	}
}

// ReceivePacket 取出一个编码后的包
func (e *Encoder) ReceivePacket() (stream.Packet, error) {
	ret := C.avcodec_receive_packet(e.codecCtx, e.packet)
	switch {
	case isEAgain(ret):
		return stream.Packet{}, stream.ErrAgain
	case isEOF(ret):
		return stream.Packet{}, io.EOF
	case ret < 0:
		return stream.Packet{}, avError("avcodec_receive_packet", ret)
	}
	defer C.av_packet_unref(e.packet)

	return stream.Packet{
		Data:     C.GoBytes(unsafe.Pointer(e.packet.data), e.packet.size),
		PTS:      toTS(e.packet.pts),
		DTS:      toTS(e.packet.dts),
		Duration: int64(e.packet.duration),
		Keyframe: e.packet.flags&C.AV_PKT_FLAG_KEY != 0,
	}, nil
}

// Headers 获取SPS/PPS头信息（extradata）
func (e *Encoder) Headers() []byte {
	if e.codecCtx == nil || e.codecCtx.extradata_size <= 0 {
		return nil
	}
	return C.GoBytes(unsafe.Pointer(e.codecCtx.extradata), e.codecCtx.extradata_size)
}

// Close 关闭编码器并释放资源
func (e *Encoder) Close() error {
	if e.packet != nil {
		C.av_packet_free(&e.packet)
		e.packet = nil
	}
	if e.frame != nil {
		C.av_frame_free(&e.frame)
		e.frame = nil
	}
	if e.codecCtx != nil {
		C.avcodec_free_context(&e.codecCtx)
		e.codecCtx = nil
	}
	logrus.Debug("FFmpeg编码器已关闭")
	return nil
}
