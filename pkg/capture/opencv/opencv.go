package opencv

import (
	"context"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"

	"github.com/stydxm/screenrec/pkg/stream"
)

// captureParams 打开后由 VideoCapture 报告的参数
type captureParams struct {
	frameWidth  int
	frameHeight int
	fps         float64
}

func probe(capture *gocv.VideoCapture) captureParams {
	return captureParams{
		frameWidth:  int(capture.Get(gocv.VideoCaptureFrameWidth)),
		frameHeight: int(capture.Get(gocv.VideoCaptureFrameHeight)),
		fps:         capture.Get(gocv.VideoCaptureFPS),
	}
}

// Source 基于 OpenCV VideoCapture 的帧源。
// device 为纯数字时按摄像头序号打开，否则按文件路径或URL打开。
// 文件读完后 Acquire 返回 stream.ErrSourceExhausted。
type Source struct {
	capture *gocv.VideoCapture
	params  captureParams
	finite  bool

	bgr   gocv.Mat
	bgra  gocv.Mat
	frame stream.RawFrame
	log   *logrus.Entry
}

// Open width/height 为0时使用设备默认分辨率
func Open(device string, width, height int) (*Source, error) {
	var (
		capture *gocv.VideoCapture
		err     error
		finite  bool
	)
	if index, convErr := strconv.Atoi(device); convErr == nil {
		capture, err = gocv.OpenVideoCapture(index)
	} else {
		capture, err = gocv.OpenVideoCapture(device)
		finite = true
	}
	if err != nil {
		return nil, fmt.Errorf("opencv: open %q: %w", device, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("opencv: %q is not opened", device)
	}
	if !finite && width > 0 && height > 0 {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(width))
		capture.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}

	params := probe(capture)
	if params.frameWidth <= 0 || params.frameHeight <= 0 {
		capture.Close()
		return nil, fmt.Errorf("opencv: %q reports invalid size %dx%d", device, params.frameWidth, params.frameHeight)
	}

	s := &Source{
		capture: capture,
		params:  params,
		finite:  finite,
		bgr:     gocv.NewMat(),
		bgra:    gocv.NewMat(),
		frame:   stream.RawFrame{Layout: stream.LayoutBGRA},
		log:     logrus.WithFields(logrus.Fields{"component": "opencv", "device": device}),
	}
	s.log.Infof("视频源 %dx%d@%.2f", params.frameWidth, params.frameHeight, params.fps)
	return s, nil
}

func (s *Source) Format() (int, int, stream.PixelLayout) {
	return s.params.frameWidth, s.params.frameHeight, stream.LayoutBGRA
}

// FPS 设备或文件声明的帧率，未知时为0。配置帧率为0时录制沿用它。
func (s *Source) FPS() float64 { return s.params.fps }

func (s *Source) Acquire(ctx context.Context) (*stream.RawFrame, error) {
	if ok := s.capture.Read(&s.bgr); !ok || s.bgr.Empty() {
		if s.finite {
			return nil, stream.ErrSourceExhausted
		}
		return nil, fmt.Errorf("%w: empty read", stream.ErrCaptureUnavailable)
	}
	if s.bgr.Cols() != s.params.frameWidth || s.bgr.Rows() != s.params.frameHeight {
		return nil, fmt.Errorf("%w: frame size changed to %dx%d", stream.ErrCaptureUnavailable, s.bgr.Cols(), s.bgr.Rows())
	}
	gocv.CvtColor(s.bgr, &s.bgra, gocv.ColorBGRToBGRA)

	data, err := s.bgra.DataPtrUint8()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", stream.ErrCaptureUnavailable, err)
	}
	w, h := s.params.frameWidth, s.params.frameHeight
	pix := s.frame.Grow(w, h, w*4)
	copy(pix, data[:w*h*4])
	return &s.frame, nil
}

func (s *Source) Close() error {
	s.bgr.Close()
	s.bgra.Close()
	return s.capture.Close()
}

var (
	_ stream.FrameSource  = (*Source)(nil)
	_ stream.RateReporter = (*Source)(nil)
)
