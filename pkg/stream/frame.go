package stream

import "fmt"

// PixelLayout 原始帧的4通道交错字节顺序
type PixelLayout int

const (
	LayoutBGRA PixelLayout = iota
	LayoutRGBA
)

func (l PixelLayout) String() string {
	switch l {
	case LayoutBGRA:
		return "bgra"
	case LayoutRGBA:
		return "rgba"
	}
	return fmt.Sprintf("layout(%d)", int(l))
}

// RawFrame 采集得到的交错像素缓冲区，Stride 可能大于 Width*4
type RawFrame struct {
	Width  int
	Height int
	Stride int
	Layout PixelLayout
	Pix    []byte
}

// Validate 检查 stride 与缓冲区长度是否满足宽高
func (f *RawFrame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("raw frame: invalid size %dx%d", f.Width, f.Height)
	}
	if f.Stride < f.Width*4 {
		return fmt.Errorf("raw frame: stride %d < width*4 (%d)", f.Stride, f.Width*4)
	}
	if need := f.Stride*(f.Height-1) + f.Width*4; len(f.Pix) < need {
		return fmt.Errorf("raw frame: buffer %d bytes, need %d", len(f.Pix), need)
	}
	return nil
}

// Clone 复制一份独立的帧，供跨goroutine交接使用
func (f *RawFrame) Clone() *RawFrame {
	c := *f
	c.Pix = append([]byte(nil), f.Pix...)
	return &c
}

// Grow 只增不减地调整缓冲区，返回可写的 Pix
func (f *RawFrame) Grow(width, height, stride int) []byte {
	need := stride * height
	if cap(f.Pix) < need {
		f.Pix = make([]byte, need)
	}
	f.Pix = f.Pix[:need]
	f.Width, f.Height, f.Stride = width, height, stride
	return f.Pix
}

// PlanarFrame YUV420P 三平面帧，PTS 以编码器时间基为单位
type PlanarFrame struct {
	Width   int
	Height  int
	Y       []byte
	Cb      []byte
	Cr      []byte
	StrideY int
	StrideC int
	PTS     int64
}

// NewPlanarFrame 按 4:2:0 分配三个平面（奇数宽高向上取整）
func NewPlanarFrame(width, height int) *PlanarFrame {
	cw, ch := (width+1)/2, (height+1)/2
	return &PlanarFrame{
		Width:   width,
		Height:  height,
		Y:       make([]byte, width*height),
		Cb:      make([]byte, cw*ch),
		Cr:      make([]byte, cw*ch),
		StrideY: width,
		StrideC: cw,
	}
}

// ChromaSize 色度平面的宽高
func (f *PlanarFrame) ChromaSize() (int, int) {
	return (f.Width + 1) / 2, (f.Height + 1) / 2
}

// NoPTS 未设置的时间戳
const NoPTS int64 = -1 << 63

// Packet 编码器输出的压缩数据
type Packet struct {
	Data        []byte
	PTS         int64
	DTS         int64
	Duration    int64
	StreamIndex int
	Keyframe    bool
}

// orderKey 容器写入时用于排序判断的时间戳
func (p *Packet) orderKey() int64 {
	if p.DTS != NoPTS {
		return p.DTS
	}
	return p.PTS
}
