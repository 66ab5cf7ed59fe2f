package stream

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func filled(w, h, stride int, layout PixelLayout, r, g, b byte) *RawFrame {
	f := &RawFrame{Layout: layout}
	pix := f.Grow(w, h, stride)
	for i := range pix {
		pix[i] = 0x5A // 行尾填充字节，不应影响结果
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p := pix[y*stride+x*4:]
			if layout == LayoutRGBA {
				p[0], p[1], p[2], p[3] = r, g, b, 0xff
			} else {
				p[0], p[1], p[2], p[3] = b, g, r, 0xff
			}
		}
	}
	return f
}

func TestConvertSolidColours(t *testing.T) {
	cases := []struct {
		name      string
		r, g, b   byte
		y, cb, cr byte
	}{
		{"red", 255, 0, 0, 82, 90, 240},
		{"blue", 0, 0, 255, 41, 240, 110},
		{"black", 0, 0, 0, 16, 128, 128},
		{"white", 255, 255, 255, 235, 128, 128},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := filled(4, 4, 16, LayoutBGRA, tc.r, tc.g, tc.b)
			dst := NewPlanarFrame(4, 4)
			NewYUVConverter(4, 4, LayoutBGRA, 4, 4).Convert(src, dst)
			for _, v := range dst.Y {
				require.Equal(t, tc.y, v)
			}
			for i := range dst.Cb {
				require.Equal(t, tc.cb, dst.Cb[i])
				require.Equal(t, tc.cr, dst.Cr[i])
			}
		})
	}
}

func TestConvertDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	src := &RawFrame{Layout: LayoutBGRA}
	rng.Read(src.Grow(33, 17, 33*4+12))

	conv := NewYUVConverter(33, 17, LayoutBGRA, 33, 17)
	a, b := NewPlanarFrame(33, 17), NewPlanarFrame(33, 17)
	conv.Convert(src, a)
	conv.Convert(src, b)
	assert.Equal(t, a.Y, b.Y)
	assert.Equal(t, a.Cb, b.Cb)
	assert.Equal(t, a.Cr, b.Cr)
}

func TestConvertIgnoresStridePaddingAndLayout(t *testing.T) {
	tight := filled(6, 4, 24, LayoutBGRA, 10, 200, 30)
	padded := filled(6, 4, 32, LayoutRGBA, 10, 200, 30)

	a, b := NewPlanarFrame(6, 4), NewPlanarFrame(6, 4)
	NewYUVConverter(6, 4, LayoutBGRA, 6, 4).Convert(tight, a)
	NewYUVConverter(6, 4, LayoutRGBA, 6, 4).Convert(padded, b)
	assert.Equal(t, a.Y, b.Y)
	assert.Equal(t, a.Cb, b.Cb)
	assert.Equal(t, a.Cr, b.Cr)
}

func TestConvertScales(t *testing.T) {
	src := filled(8, 6, 32, LayoutBGRA, 0, 0, 255)
	dst := NewPlanarFrame(4, 2)
	NewYUVConverter(8, 6, LayoutBGRA, 4, 2).Convert(src, dst)
	for _, v := range dst.Y {
		assert.EqualValues(t, 41, v)
	}
}

func TestConvertDimensionMismatchPanics(t *testing.T) {
	conv := NewYUVConverter(4, 4, LayoutBGRA, 4, 4)
	assert.Panics(t, func() {
		conv.Convert(filled(2, 2, 8, LayoutBGRA, 0, 0, 0), NewPlanarFrame(4, 4))
	})
	assert.Panics(t, func() {
		conv.Convert(filled(4, 4, 16, LayoutBGRA, 0, 0, 0), NewPlanarFrame(2, 2))
	})
}

func TestRawFrameValidateAndGrow(t *testing.T) {
	f := &RawFrame{}
	pix := f.Grow(4, 2, 16)
	assert.Len(t, pix, 32)
	require.NoError(t, f.Validate())

	f.Grow(2, 2, 8)
	assert.Len(t, f.Pix, 16)
	assert.GreaterOrEqual(t, cap(f.Pix), 32, "buffer never shrinks")

	f.Stride = 4
	assert.Error(t, f.Validate())
}
