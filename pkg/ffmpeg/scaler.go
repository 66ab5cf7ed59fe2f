package ffmpeg

/*
#cgo pkg-config: libswscale libavutil
#include <libswscale/swscale.h>
#include <libavutil/imgutils.h>
#include <stdlib.h>
*/
import "C"
import (
	"fmt"
	"unsafe"

	"github.com/stydxm/screenrec/pkg/stream"
)

// Scaler 用 sws_scale 做颜色转换（BGRA/RGBA -> YUV420P，双线性），实现 stream.Converter。
// 源和目标缓冲区都放在C内存里，避免cgo指针规则问题。
type Scaler struct {
	srcW, srcH int
	dstW, dstH int
	layout     stream.PixelLayout
	swsCtx     *C.struct_SwsContext

	srcBuf  unsafe.Pointer
	srcSize int
	src     *[4]*C.uint8_t
	srcLine *[4]C.int
	dst     *[4]*C.uint8_t
	dstLine *[4]C.int
	dstBuf  unsafe.Pointer
}

func NewScaler(srcW, srcH int, layout stream.PixelLayout, dstW, dstH int) (*Scaler, error) {
	srcFmt := C.enum_AVPixelFormat(C.AV_PIX_FMT_BGRA)
	if layout == stream.LayoutRGBA {
		srcFmt = C.AV_PIX_FMT_RGBA
	}

	// 初始化swscale上下文
	swsCtx := C.sws_getContext(
		C.int(srcW), C.int(srcH), srcFmt,
		C.int(dstW), C.int(dstH), C.AV_PIX_FMT_YUV420P,
		C.SWS_BILINEAR,
		nil, nil, nil,
	)
	if swsCtx == nil {
		return nil, fmt.Errorf("sws_getContext %dx%d -> %dx%d failed", srcW, srcH, dstW, dstH)
	}

	s := &Scaler{
		srcW: srcW, srcH: srcH,
		dstW: dstW, dstH: dstH,
		layout: layout,
		swsCtx: swsCtx,
	}
	// 在C内存中创建指针数组和linesize数组
	s.src = (*[4]*C.uint8_t)(C.calloc(4, C.size_t(unsafe.Sizeof(uintptr(0)))))
	s.srcLine = (*[4]C.int)(C.calloc(4, C.size_t(unsafe.Sizeof(C.int(0)))))
	s.dst = (*[4]*C.uint8_t)(C.calloc(4, C.size_t(unsafe.Sizeof(uintptr(0)))))
	s.dstLine = (*[4]C.int)(C.calloc(4, C.size_t(unsafe.Sizeof(C.int(0)))))
	if s.src == nil || s.srcLine == nil || s.dst == nil || s.dstLine == nil {
		s.Close()
		return nil, fmt.Errorf("allocate scaler pointer arrays")
	}

	size := C.av_image_alloc(&s.dst[0], &s.dstLine[0], C.int(dstW), C.int(dstH), C.AV_PIX_FMT_YUV420P, 1)
	if size < 0 {
		s.Close()
		return nil, avError("av_image_alloc", size)
	}
	s.dstBuf = unsafe.Pointer(s.dst[0])
	return s, nil
}

// Convert 把源帧拷入C缓冲区，sws_scale 后再拷回目标平面
func (s *Scaler) Convert(src *stream.RawFrame, dst *stream.PlanarFrame) {
	if src.Width != s.srcW || src.Height != s.srcH || src.Layout != s.layout {
		panic(fmt.Sprintf("scaler: source %dx%d/%s, configured %dx%d/%s",
			src.Width, src.Height, src.Layout, s.srcW, s.srcH, s.layout))
	}
	if dst.Width != s.dstW || dst.Height != s.dstH {
		panic(fmt.Sprintf("scaler: destination %dx%d, configured %dx%d", dst.Width, dst.Height, s.dstW, s.dstH))
	}

	need := src.Stride * src.Height
	if s.srcSize < need {
		// 只增不减
		C.free(s.srcBuf)
		s.srcBuf = C.malloc(C.size_t(need))
		if s.srcBuf == nil {
			panic("scaler: out of memory")
		}
		s.srcSize = need
	}
	// 最后一行之后的对齐填充可能不在 Pix 里，sws_scale 也不会读它
	n := min(need, len(src.Pix))
	copy(unsafe.Slice((*byte)(s.srcBuf), n), src.Pix[:n])
	s.src[0] = (*C.uint8_t)(s.srcBuf)
	s.srcLine[0] = C.int(src.Stride)

	C.sws_scale(
		s.swsCtx,
		(**C.uint8_t)(unsafe.Pointer(&s.src[0])),
		&s.srcLine[0],
		0,
		C.int(s.srcH),
		(**C.uint8_t)(unsafe.Pointer(&s.dst[0])),
		&s.dstLine[0],
	)

	cw, ch := dst.ChromaSize()
	readPlane(s.dst[0], int(s.dstLine[0]), dst.Y, dst.StrideY, dst.Width, dst.Height)
	readPlane(s.dst[1], int(s.dstLine[1]), dst.Cb, dst.StrideC, cw, ch)
	readPlane(s.dst[2], int(s.dstLine[2]), dst.Cr, dst.StrideC, cw, ch)
}

func readPlane(plane *C.uint8_t, lineSize int, dst []byte, dstStride, width, height int) {
	src := unsafe.Slice((*byte)(unsafe.Pointer(plane)), lineSize*height)
	for y := 0; y < height; y++ {
		copy(dst[y*dstStride:y*dstStride+width], src[y*lineSize:y*lineSize+width])
	}
}

func (s *Scaler) Close() error {
	if s.swsCtx != nil {
		C.sws_freeContext(s.swsCtx)
		s.swsCtx = nil
	}
	if s.dstBuf != nil {
		C.av_free(s.dstBuf)
		s.dstBuf = nil
	}
	if s.srcBuf != nil {
		C.free(s.srcBuf)
		s.srcBuf = nil
		s.srcSize = 0
	}
	for _, p := range []unsafe.Pointer{unsafe.Pointer(s.src), unsafe.Pointer(s.srcLine), unsafe.Pointer(s.dst), unsafe.Pointer(s.dstLine)} {
		if p != nil {
			C.free(p)
		}
	}
	s.src, s.srcLine, s.dst, s.dstLine = nil, nil, nil, nil
	return nil
}

var _ stream.Converter = (*Scaler)(nil)
