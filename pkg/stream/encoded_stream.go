package stream

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
)

// DefaultMaxCaptureFailures 连续采集失败达到该值后升级为致命错误
const DefaultMaxCaptureFailures = 30

// Factories 获取外部资源的构造函数，Init 按顺序调用，失败时逆序释放
type Factories struct {
	Source    func(ctx context.Context) (FrameSource, error)
	Codec     func(cfg EncoderConfig) (Codec, error)
	Sink      func(codec Codec) (Sink, error)
	Converter func(srcW, srcH int, layout PixelLayout, dstW, dstH int) (Converter, error)
}

// RecorderConfig 录制参数，进入核心后不再变化
type RecorderConfig struct {
	Encoder            EncoderConfig
	MaxCaptureFailures int
	AsyncCapture       bool
	Clock              Clock
	OnStateChange      func(from, to PipelineState)
}

// StopFunc 非阻塞地查询是否收到停止信号，每个tick调用一次
type StopFunc func() bool

// Recorder 流水线控制器：持有全部长生命周期资源，驱动
// 采集 -> 颜色转换 -> 编码 -> 封装，并负责收尾刷新。
type Recorder struct {
	cfg     RecorderConfig
	fac     Factories
	state   StateMachine
	clock   Clock
	session string
	log     *logrus.Entry

	source FrameSource
	async  *AsyncSource
	conv   Converter
	codec  Codec
	enc    *Encoder
	sink   Sink
	mux    *Muxer
	frame  *PlanarFrame
	pts    int64

	stats counters
}

func NewRecorder(cfg RecorderConfig, fac Factories) *Recorder {
	if cfg.MaxCaptureFailures <= 0 {
		cfg.MaxCaptureFailures = DefaultMaxCaptureFailures
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	session := xid.New().String()
	r := &Recorder{
		cfg:     cfg,
		fac:     fac,
		clock:   cfg.Clock,
		session: session,
		log:     logrus.WithFields(logrus.Fields{"session": session, "component": "recorder"}),
	}
	r.state.onChange = func(from, to PipelineState) {
		r.log.Debugf("状态 %s -> %s", from, to)
		if cfg.OnStateChange != nil {
			cfg.OnStateChange(from, to)
		}
	}
	return r
}

func (r *Recorder) Session() string { return r.session }

func (r *Recorder) State() PipelineState { return r.state.Current() }

func (r *Recorder) Config() RecorderConfig { return r.cfg }

// Stats 可以在其他goroutine中调用（Init 返回之后）
func (r *Recorder) Stats() Stats {
	s := r.stats.snapshot()
	s.Session = r.session
	s.State = r.state.Current()
	s.FPS = r.cfg.Encoder.FPS
	return s
}

// Init 获取采集源、编码器、输出容器和转换器。任一失败都会释放已获取的资源，
// 并返回 *InitError。
func (r *Recorder) Init(ctx context.Context) (err error) {
	if st := r.state.Current(); st != Uninitialized {
		return fmt.Errorf("%w: init in state %s", ErrInvalidTransition, st)
	}
	defer func() {
		if err != nil {
			r.release()
			var ie *InitError
			if !errors.As(err, &ie) {
				err = &InitError{Kind: ResourceAllocationFailed, Err: err}
			}
			r.log.Errorf("初始化失败: %v", err)
		}
	}()

	if r.source, err = r.fac.Source(ctx); err != nil {
		return fmt.Errorf("open frame source: %w", err)
	}
	srcW, srcH, layout := r.source.Format()

	encCfg := r.cfg.Encoder
	if encCfg.Width <= 0 || encCfg.Height <= 0 {
		encCfg.Width, encCfg.Height = evenDown(srcW), evenDown(srcH)
	}
	if encCfg.FPS <= 0 {
		encCfg.FPS = sourceRate(r.source)
		r.log.Debugf("帧率取自输入: %d fps", encCfg.FPS)
	}
	if encCfg.FPS <= 0 {
		return &InitError{Kind: ResourceAllocationFailed, Err: errors.New("no frame rate configured and source reports none")}
	}
	r.cfg.Encoder = encCfg

	if r.codec, err = r.fac.Codec(encCfg); err != nil {
		return err
	}
	r.enc = NewEncoder(r.codec)

	if r.sink, err = r.fac.Sink(r.codec); err != nil {
		var ie *InitError
		if !errors.As(err, &ie) {
			err = &InitError{Kind: OutputOpenFailed, Err: err}
		}
		return err
	}
	r.mux = NewMuxer(r.sink, r.codec.TimeBase())

	if r.conv, err = r.fac.Converter(srcW, srcH, layout, encCfg.Width, encCfg.Height); err != nil {
		return fmt.Errorf("create converter: %w", err)
	}
	r.frame = NewPlanarFrame(encCfg.Width, encCfg.Height)

	if r.cfg.AsyncCapture {
		r.async = NewAsyncSource(r.source, time.Second/time.Duration(encCfg.FPS), r.log.WithField("component", "capture"))
		r.source = r.async
	}

	r.log.Infof("录制初始化完成: 源 %dx%d(%s) -> 编码 %dx%d @ %d fps, %d bps",
		srcW, srcH, layout, encCfg.Width, encCfg.Height, encCfg.FPS, encCfg.Bitrate)
	return r.state.Transition(Running)
}

// RateReporter 由能报告自身帧率的源实现（例如视频文件），配置帧率为0时使用
type RateReporter interface {
	FPS() float64
}

func sourceRate(src FrameSource) int {
	rr, ok := src.(RateReporter)
	if !ok {
		return 0
	}
	return int(math.Round(rr.FPS()))
}

func evenDown(v int) int {
	if v > 2 && v%2 != 0 {
		return v - 1
	}
	return v
}

// Run 按固定帧率循环直到 stop 返回 true、ctx 取消、输入结束或出现致命错误，
// 然后排空编码器并写入容器尾部。任何致命路径都会尝试走完 Draining -> Finalized。
func (r *Recorder) Run(ctx context.Context, stop StopFunc) error {
	if st := r.state.Current(); st != Running {
		return fmt.Errorf("%w: run in state %s", ErrInvalidTransition, st)
	}
	if stop == nil {
		stop = func() bool { return false }
	}

	pacer := NewPacer(r.clock, r.cfg.Encoder.FPS)
	started := r.clock.Now()
	r.stats.started.Store(started.UnixNano())
	pacer.Start(started)

	var fatal error
	for fatal == nil {
		if stop() || ctx.Err() != nil {
			r.log.Info("收到停止信号")
			break
		}

		err := r.tick(ctx)
		if errors.Is(err, ErrSourceExhausted) {
			r.log.Info("输入结束")
			break
		}
		if err != nil && ctx.Err() != nil {
			break
		}
		fatal = r.classify(err)

		if fatal == nil {
			if _, err := pacer.Tick(ctx); err != nil {
				break
			}
		}
		r.stats.late.Store(pacer.Late())
		r.stats.skipped.Store(pacer.Skipped())
		if r.async != nil {
			r.stats.drops.Store(r.async.Drops())
		}
	}

	return r.shutdown(fatal)
}

// classify 是唯一决定 跳过/中止/升级 的地方
func (r *Recorder) classify(err error) error {
	if err == nil {
		r.stats.consecutive.Store(0)
		return nil
	}
	r.stats.setError(err)

	if !IsFatal(err) {
		r.stats.failures.Add(1)
		n := r.stats.consecutive.Add(1)
		r.log.Warnf("采集失败 (%d/%d 连续): %v", n, r.cfg.MaxCaptureFailures, err)
		if n >= uint64(r.cfg.MaxCaptureFailures) {
			return fmt.Errorf("%w: %d consecutive: %v", ErrCaptureEscalated, n, err)
		}
		return nil
	}

	var me *MuxError
	if errors.As(err, &me) {
		r.mux.Abort(err)
	}
	return err
}

// tick 采集一帧、转换、提交，并写出编码器此刻吐出的所有包
func (r *Recorder) tick(ctx context.Context) error {
	raw, err := r.source.Acquire(ctx)
	if err != nil {
		if errors.Is(err, ErrSourceExhausted) || ctx.Err() != nil {
			return err
		}
		if !errors.Is(err, ErrCaptureUnavailable) {
			err = fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
		}
		return err
	}
	r.stats.captured.Add(1)

	r.conv.Convert(raw, r.frame)
	r.frame.PTS = r.pts
	r.pts++

	pkts, encErr := r.enc.Submit(r.frame)
	if encErr == nil {
		r.stats.submitted.Add(1)
	}
	if err := r.write(pkts); err != nil {
		return err
	}
	return encErr
}

func (r *Recorder) write(pkts []Packet) error {
	for _, pkt := range pkts {
		if err := r.mux.Write(pkt); err != nil {
			return err
		}
		r.stats.packets.Store(r.mux.Packets())
		r.stats.bytes.Store(r.mux.Bytes())
	}
	return nil
}

// shutdown Running -> Draining -> Finalized。
// 编码失败时不再刷新编码器；封装失败时不再写包，但都会尝试写入容器尾部。
func (r *Recorder) shutdown(fatal error) error {
	if err := r.state.Transition(Draining); err != nil {
		return errors.Join(fatal, err)
	}
	if fatal != nil {
		r.log.Errorf("致命错误，开始收尾: %v", fatal)
	}

	var errs []error
	errs = append(errs, fatal)

	var ee *EncodeError
	var me *MuxError
	switch {
	case errors.As(fatal, &ee):
		r.log.Warn("编码器状态未知，跳过刷新")
	case errors.As(fatal, &me):
		r.log.Warn("容器写入已中止，跳过刷新")
	default:
		r.log.Debug("刷新编码器缓冲区")
		pkts, err := r.enc.Flush()
		if werr := r.write(pkts); werr != nil {
			errs = append(errs, werr)
		}
		if err != nil {
			errs = append(errs, err)
		}
		r.log.Debugf("刷新得到 %d 个包", len(pkts))
	}

	if err := r.mux.Finalize(); err != nil {
		errs = append(errs, err)
	}

	r.release()
	if err := r.state.Transition(Finalized); err != nil {
		errs = append(errs, err)
	}

	s := r.Stats()
	r.log.Infof("录制结束: %d 帧, %d 包, %d 字节, 采集失败 %d, 迟到 %d, 跳过 %d",
		s.FramesSubmitted, s.PacketsWritten, s.BytesWritten, s.CaptureFailures, s.LateTicks, s.SkippedTicks)
	return errors.Join(errs...)
}

// Close 强制结束：运行中的录制走完收尾，未初始化或已结束时无操作
func (r *Recorder) Close() error {
	switch r.state.Current() {
	case Running:
		return r.shutdown(nil)
	case Draining:
		r.release()
	}
	return nil
}

// release 逆序释放所有资源，可重复调用
func (r *Recorder) release() {
	if r.async != nil {
		r.stats.drops.Store(r.async.Drops())
	}
	if r.conv != nil {
		if err := r.conv.Close(); err != nil {
			r.log.Warnf("释放转换器失败: %v", err)
		}
		r.conv = nil
	}
	if r.sink != nil {
		if err := r.sink.Close(); err != nil {
			r.log.Warnf("关闭输出失败: %v", err)
		}
		r.sink = nil
	}
	if r.enc != nil {
		if err := r.enc.Close(); err != nil {
			r.log.Warnf("关闭编码器失败: %v", err)
		}
		r.enc = nil
		r.codec = nil
	} else if r.codec != nil {
		if err := r.codec.Close(); err != nil {
			r.log.Warnf("关闭编码器失败: %v", err)
		}
		r.codec = nil
	}
	if r.source != nil {
		if err := r.source.Close(); err != nil {
			r.log.Warnf("关闭采集源失败: %v", err)
		}
		r.source = nil
		r.async = nil
	}
}
