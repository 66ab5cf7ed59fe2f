package stream

import "fmt"

// Converter 把交错的原始帧转换为编码器需要的平面格式
type Converter interface {
	Convert(src *RawFrame, dst *PlanarFrame)
	Close() error
}

// YUVConverter 纯Go实现的 BT.601 (limited range) 转换，宽高不同时做双线性缩放
type YUVConverter struct {
	srcW, srcH int
	dstW, dstH int
	layout     PixelLayout

	// 每个目标列/行在源图中的 16.16 定点坐标
	xmap []int
	ymap []int
}

// NewYUVConverter 固定源/目标尺寸，之后尺寸不一致视为编程错误
func NewYUVConverter(srcW, srcH int, layout PixelLayout, dstW, dstH int) *YUVConverter {
	c := &YUVConverter{srcW: srcW, srcH: srcH, dstW: dstW, dstH: dstH, layout: layout}
	c.xmap = axisMap(srcW, dstW)
	c.ymap = axisMap(srcH, dstH)
	return c
}

func axisMap(src, dst int) []int {
	m := make([]int, dst)
	if src == dst {
		for i := range m {
			m[i] = i << 16
		}
		return m
	}
	// 像素中心对齐
	for i := range m {
		pos := ((2*i+1)*src<<16)/(2*dst) - (1 << 15)
		if pos < 0 {
			pos = 0
		}
		if limit := (src - 1) << 16; pos > limit {
			pos = limit
		}
		m[i] = pos
	}
	return m
}

func (c *YUVConverter) Convert(src *RawFrame, dst *PlanarFrame) {
	if src.Width != c.srcW || src.Height != c.srcH || src.Layout != c.layout {
		panic(fmt.Sprintf("converter: source %dx%d/%s, configured %dx%d/%s",
			src.Width, src.Height, src.Layout, c.srcW, c.srcH, c.layout))
	}
	if dst.Width != c.dstW || dst.Height != c.dstH {
		panic(fmt.Sprintf("converter: destination %dx%d, configured %dx%d",
			dst.Width, dst.Height, c.dstW, c.dstH))
	}

	for y := 0; y < c.dstH; y++ {
		row := dst.Y[y*dst.StrideY:]
		for x := 0; x < c.dstW; x++ {
			r, g, b := c.sample(src, c.xmap[x], c.ymap[y])
			row[x] = lumaOf(r, g, b)
		}
	}

	cw, ch := dst.ChromaSize()
	for cy := 0; cy < ch; cy++ {
		cbRow := dst.Cb[cy*dst.StrideC:]
		crRow := dst.Cr[cy*dst.StrideC:]
		for cx := 0; cx < cw; cx++ {
			var sr, sg, sb, n int
			for dy := 0; dy < 2; dy++ {
				y := cy*2 + dy
				if y >= c.dstH {
					continue
				}
				for dx := 0; dx < 2; dx++ {
					x := cx*2 + dx
					if x >= c.dstW {
						continue
					}
					r, g, b := c.sample(src, c.xmap[x], c.ymap[y])
					sr, sg, sb = sr+r, sg+g, sb+b
					n++
				}
			}
			r, g, b := (sr+n/2)/n, (sg+n/2)/n, (sb+n/2)/n
			cbRow[cx] = cbOf(r, g, b)
			crRow[cx] = crOf(r, g, b)
		}
	}
}

func (c *YUVConverter) Close() error { return nil }

func (c *YUVConverter) pixel(src *RawFrame, x, y int) (int, int, int) {
	p := src.Pix[y*src.Stride+x*4:]
	if c.layout == LayoutRGBA {
		return int(p[0]), int(p[1]), int(p[2])
	}
	return int(p[2]), int(p[1]), int(p[0])
}

func (c *YUVConverter) sample(src *RawFrame, fx, fy int) (int, int, int) {
	x0, y0 := fx>>16, fy>>16
	wx, wy := (fx>>8)&0xff, (fy>>8)&0xff
	if wx == 0 && wy == 0 {
		return c.pixel(src, x0, y0)
	}
	x1, y1 := min(x0+1, c.srcW-1), min(y0+1, c.srcH-1)
	r00, g00, b00 := c.pixel(src, x0, y0)
	r10, g10, b10 := c.pixel(src, x1, y0)
	r01, g01, b01 := c.pixel(src, x0, y1)
	r11, g11, b11 := c.pixel(src, x1, y1)
	lerp := func(a, b, cc, d int) int {
		top := a*(256-wx) + b*wx
		bot := cc*(256-wx) + d*wx
		return (top*(256-wy) + bot*wy + (1 << 15)) >> 16
	}
	return lerp(r00, r10, r01, r11), lerp(g00, g10, g01, g11), lerp(b00, b10, b01, b11)
}

func lumaOf(r, g, b int) byte {
	return clamp8(((66*r + 129*g + 25*b + 128) >> 8) + 16)
}

func cbOf(r, g, b int) byte {
	return clamp8(((-38*r - 74*g + 112*b + 128) >> 8) + 128)
}

func crOf(r, g, b int) byte {
	return clamp8(((112*r - 94*g - 18*b + 128) >> 8) + 128)
}

func clamp8(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}
