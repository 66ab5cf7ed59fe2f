package capture

import (
	"context"
	"fmt"
	"image"

	"github.com/kbinani/screenshot"
	"github.com/sirupsen/logrus"

	"github.com/stydxm/screenrec/pkg/stream"
)

// CursorLocator 返回指针在屏幕坐标系中的位置
type CursorLocator interface {
	Cursor() (x, y int, visible bool, err error)
	Close() error
}

// ScreenOptions 屏幕采集参数
type ScreenOptions struct {
	Display int
	Border  *BorderStyle // nil 表示不画边框
	Cursor  bool
}

// ScreenSource 整屏采集，实现 stream.FrameSource。
// 帧缓冲区跨tick复用，只在需要更大空间时重新分配。
type ScreenSource struct {
	opts   ScreenOptions
	bounds image.Rectangle
	cursor CursorLocator
	frame  stream.RawFrame
	log    *logrus.Entry
}

func NewScreenSource(opts ScreenOptions) (*ScreenSource, error) {
	total := screenshot.NumActiveDisplays()
	if total <= 0 {
		return nil, fmt.Errorf("capture: no active displays detected")
	}
	if opts.Display < 0 || opts.Display >= total {
		return nil, fmt.Errorf("capture: invalid display index %d (max %d)", opts.Display, total-1)
	}
	bounds := screenshot.GetDisplayBounds(opts.Display)
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return nil, fmt.Errorf("capture: display %d has zero bounds", opts.Display)
	}

	s := &ScreenSource{
		opts:   opts,
		bounds: bounds,
		frame:  stream.RawFrame{Layout: stream.LayoutRGBA},
		log:    logrus.WithField("component", "capture"),
	}
	if opts.Cursor {
		cursor, err := newCursorLocator()
		if err != nil {
			s.log.Warnf("无法获取光标位置，录制中不绘制光标: %v", err)
		} else {
			s.cursor = cursor
		}
	}
	s.log.Debugf("屏幕 %d: %v", opts.Display, bounds)
	return s, nil
}

func (s *ScreenSource) Format() (int, int, stream.PixelLayout) {
	return s.bounds.Dx(), s.bounds.Dy(), stream.LayoutRGBA
}

func (s *ScreenSource) Acquire(ctx context.Context) (*stream.RawFrame, error) {
	img, err := screenshot.CaptureRect(s.bounds)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", stream.ErrCaptureUnavailable, err)
	}
	if err := copyImage(&s.frame, img, s.bounds.Dx(), s.bounds.Dy()); err != nil {
		return nil, err
	}

	if s.opts.Border != nil {
		DrawBorder(&s.frame, *s.opts.Border)
	}
	if s.cursor != nil {
		x, y, visible, err := s.cursor.Cursor()
		if err != nil {
			s.log.Debugf("读取光标失败: %v", err)
		} else if visible {
			DrawCursor(&s.frame, x-s.bounds.Min.X, y-s.bounds.Min.Y)
		}
	}
	return &s.frame, nil
}

// copyImage 把截图按行拷入复用的帧缓冲区
func copyImage(dst *stream.RawFrame, img *image.RGBA, width, height int) error {
	if img.Rect.Dx() != width || img.Rect.Dy() != height {
		return fmt.Errorf("%w: got %dx%d, want %dx%d", stream.ErrCaptureUnavailable,
			img.Rect.Dx(), img.Rect.Dy(), width, height)
	}
	dst.Layout = stream.LayoutRGBA
	pix := dst.Grow(width, height, width*4)
	row := width * 4
	for y := 0; y < height; y++ {
		off := img.PixOffset(img.Rect.Min.X, img.Rect.Min.Y+y)
		copy(pix[y*row:(y+1)*row], img.Pix[off:off+row])
	}
	return nil
}

func (s *ScreenSource) Close() error {
	if s.cursor != nil {
		err := s.cursor.Close()
		s.cursor = nil
		return err
	}
	return nil
}

var _ stream.FrameSource = (*ScreenSource)(nil)
