package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) SleepUntil(ctx context.Context, deadline time.Time) error {
	c.mu.Lock()
	if deadline.After(c.now) {
		c.now = deadline
	}
	c.mu.Unlock()
	return ctx.Err()
}

// step 脚本化采集源的一个tick
type step struct {
	bgr  [3]byte
	err  error
	work time.Duration
}

type fakeSource struct {
	w, h   int
	steps  []step
	repeat *step // 脚本结束后一直返回该步，nil 表示输入结束
	clock  *fakeClock
	frame  RawFrame
	calls  int
	closed int
}

func solidSource(w, h int, steps ...step) *fakeSource {
	return &fakeSource{w: w, h: h, steps: steps}
}

func (s *fakeSource) Format() (int, int, PixelLayout) { return s.w, s.h, LayoutBGRA }

func (s *fakeSource) Acquire(ctx context.Context) (*RawFrame, error) {
	var st step
	switch {
	case s.calls < len(s.steps):
		st = s.steps[s.calls]
	case s.repeat != nil:
		st = *s.repeat
	default:
		return nil, ErrSourceExhausted
	}
	s.calls++
	if s.clock != nil && st.work > 0 {
		s.clock.Advance(st.work)
	}
	if st.err != nil {
		return nil, st.err
	}
	pix := s.frame.Grow(s.w, s.h, s.w*4)
	s.frame.Layout = LayoutBGRA
	for i := 0; i < len(pix); i += 4 {
		pix[i], pix[i+1], pix[i+2], pix[i+3] = st.bgr[0], st.bgr[1], st.bgr[2], 0xff
	}
	return &s.frame, nil
}

func (s *fakeSource) Close() error {
	s.closed++
	return nil
}

var (
	red  = [3]byte{0, 0, 255}
	blue = [3]byte{255, 0, 0}
)

// fakeCodec 模拟带延迟/重排的编码器
type fakeCodec struct {
	tb      Rational
	delay   int  // 输出前缓冲的帧数
	reorder bool // 成对交换输出顺序（PTS乱序、DTS递增）
	badDTS  bool // DTS 跟随 PTS，重排时会出现倒序
	failOn  int64

	sent    []int64
	pending []int64
	out     []Packet
	dts     int64
	eof     bool
	closed  int
}

func newFakeCodec(fps int) *fakeCodec {
	return &fakeCodec{tb: Rational{Num: 1, Den: fps}, failOn: -1}
}

func (c *fakeCodec) SendFrame(f *PlanarFrame) error {
	if c.eof {
		return io.EOF
	}
	if f == nil {
		c.eof = true
		for _, pts := range c.pending {
			c.emit(pts)
		}
		c.pending = nil
		return nil
	}
	c.sent = append(c.sent, f.PTS)
	if f.PTS == c.failOn {
		return errors.New("compressor exploded")
	}
	c.pending = append(c.pending, f.PTS)
	if c.reorder {
		for len(c.pending) >= 2 && len(c.pending) > c.delay {
			c.emit(c.pending[1])
			c.emit(c.pending[0])
			c.pending = c.pending[2:]
		}
		return nil
	}
	for len(c.pending) > c.delay {
		c.emit(c.pending[0])
		c.pending = c.pending[1:]
	}
	return nil
}

func (c *fakeCodec) emit(pts int64) {
	dts := c.dts
	if c.badDTS {
		dts = pts
	}
	c.dts++
	c.out = append(c.out, Packet{
		Data:     []byte{byte(pts), 0xAA, 0xBB},
		PTS:      pts,
		DTS:      dts,
		Duration: 1,
		Keyframe: pts == 0,
	})
}

func (c *fakeCodec) ReceivePacket() (Packet, error) {
	if len(c.out) > 0 {
		p := c.out[0]
		c.out = c.out[1:]
		return p, nil
	}
	if c.eof {
		return Packet{}, io.EOF
	}
	return Packet{}, ErrAgain
}

func (c *fakeCodec) TimeBase() Rational { return c.tb }

func (c *fakeCodec) Close() error {
	c.closed++
	return nil
}

type fakeSink struct {
	tb        Rational
	index     int
	packets   []Packet
	data      []byte
	trailers  int
	closed    int
	failWrite int // 第n次写入失败（从1开始），0 表示不失败
	writes    int
}

func newFakeSink() *fakeSink {
	return &fakeSink{tb: Rational{Num: 1, Den: 15360}, index: 0}
}

func (s *fakeSink) TimeBase() Rational { return s.tb }

func (s *fakeSink) StreamIndex() int { return s.index }

func (s *fakeSink) WritePacket(pkt Packet) error {
	s.writes++
	if s.failWrite > 0 && s.writes == s.failWrite {
		return errors.New("disk full")
	}
	s.packets = append(s.packets, pkt)
	s.data = append(s.data, pkt.Data...)
	return nil
}

func (s *fakeSink) WriteTrailer() error {
	s.trailers++
	s.data = append(s.data, "trailer"...)
	return nil
}

func (s *fakeSink) Close() error {
	s.closed++
	return nil
}

// harness 把假组件装配进 Recorder，并统计工厂调用次数
type harness struct {
	source *fakeSource
	codec  *fakeCodec
	sink   *fakeSink
	clock  *fakeClock

	sourceInits int
	codecErr    error
	sinkErr     error
}

func newHarness(src *fakeSource, fps int) *harness {
	h := &harness{
		source: src,
		codec:  newFakeCodec(fps),
		sink:   newFakeSink(),
		clock:  newFakeClock(),
	}
	src.clock = h.clock
	return h
}

func (h *harness) factories() Factories {
	return Factories{
		Source: func(ctx context.Context) (FrameSource, error) {
			h.sourceInits++
			return h.source, nil
		},
		Codec: func(cfg EncoderConfig) (Codec, error) {
			if h.codecErr != nil {
				return nil, h.codecErr
			}
			h.codec.tb = cfg.TimeBase()
			return h.codec, nil
		},
		Sink: func(codec Codec) (Sink, error) {
			if h.sinkErr != nil {
				return nil, h.sinkErr
			}
			return h.sink, nil
		},
		Converter: func(srcW, srcH int, layout PixelLayout, dstW, dstH int) (Converter, error) {
			return NewYUVConverter(srcW, srcH, layout, dstW, dstH), nil
		},
	}
}

func (h *harness) recorder(fps, maxFailures int) *Recorder {
	return NewRecorder(RecorderConfig{
		Encoder:            EncoderConfig{Codec: "fake", FPS: fps, Bitrate: 1000},
		MaxCaptureFailures: maxFailures,
		Clock:              h.clock,
	}, h.factories())
}

// wedgedSource 前 n 次 Acquire 正常返回，之后阻塞且不理会 ctx，模拟卡死的系统采集调用
type wedgedSource struct {
	n       int64
	calls   atomic.Int64
	closed  atomic.Int32
	release chan struct{}
	frame   RawFrame
}

func newWedgedSource(n int64) *wedgedSource {
	w := &wedgedSource{n: n, release: make(chan struct{})}
	pix := w.frame.Grow(2, 2, 8)
	w.frame.Layout = LayoutBGRA
	for i := 0; i < len(pix); i += 4 {
		pix[i+2], pix[i+3] = 0xff, 0xff
	}
	return w
}

func (w *wedgedSource) Format() (int, int, PixelLayout) { return 2, 2, LayoutBGRA }

func (w *wedgedSource) Acquire(ctx context.Context) (*RawFrame, error) {
	if w.calls.Add(1) > w.n {
		<-w.release
	}
	return &w.frame, nil
}

func (w *wedgedSource) Close() error {
	w.closed.Add(1)
	return nil
}

// ratedSource 报告自身帧率的源
type ratedSource struct {
	*fakeSource
	fps float64
}

func (s ratedSource) FPS() float64 { return s.fps }

func (h *harness) asyncRecorder(fps int, fac Factories) *Recorder {
	return NewRecorder(RecorderConfig{
		Encoder:      EncoderConfig{Codec: "fake", FPS: fps, Bitrate: 1000},
		AsyncCapture: true,
		Clock:        h.clock,
	}, fac)
}
