package capture

import (
	"image/color"

	"github.com/stydxm/screenrec/pkg/stream"
)

// BorderStyle 录制区域边框
type BorderStyle struct {
	Width int
	Color color.RGBA
}

// DefaultBorder 与屏幕同大小的1像素红框
var DefaultBorder = BorderStyle{Width: 1, Color: color.RGBA{R: 255, A: 255}}

func setPixel(f *stream.RawFrame, x, y int, c color.RGBA) {
	if x < 0 || y < 0 || x >= f.Width || y >= f.Height {
		return
	}
	p := f.Pix[y*f.Stride+x*4:]
	if f.Layout == stream.LayoutRGBA {
		p[0], p[1], p[2], p[3] = c.R, c.G, c.B, 0xff
	} else {
		p[0], p[1], p[2], p[3] = c.B, c.G, c.R, 0xff
	}
}

// DrawBorder 在帧的四条边上画框
func DrawBorder(f *stream.RawFrame, style BorderStyle) {
	w := min(style.Width, f.Width/2, f.Height/2)
	for i := 0; i < w; i++ {
		for x := 0; x < f.Width; x++ {
			setPixel(f, x, i, style.Color)
			setPixel(f, x, f.Height-1-i, style.Color)
		}
		for y := 0; y < f.Height; y++ {
			setPixel(f, i, y, style.Color)
			setPixel(f, f.Width-1-i, y, style.Color)
		}
	}
}

// 箭头光标，热点在左上角 (0,0)。'#' 黑色描边，'.' 白色填充
var arrowSprite = []string{
	"#",
	"##",
	"#.#",
	"#..#",
	"#...#",
	"#....#",
	"#.....#",
	"#......#",
	"#.......#",
	"#........#",
	"#.....#####",
	"#..#..#",
	"#.# #..#",
	"##  #..#",
	"#    #..#",
	"     #..#",
	"      ##",
}

// DrawCursor 以 (x,y) 为热点画箭头光标，超出帧的部分被裁掉。
// 相同位置总是得到相同像素。
func DrawCursor(f *stream.RawFrame, x, y int) {
	black := color.RGBA{A: 255}
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	for dy, row := range arrowSprite {
		for dx, ch := range row {
			switch ch {
			case '#':
				setPixel(f, x+dx, y+dy, black)
			case '.':
				setPixel(f, x+dx, y+dy, white)
			}
		}
	}
}
