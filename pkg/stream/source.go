package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// FrameSource 每个tick提供一帧原始像素。
// 返回的帧在下一次 Acquire 之前有效，实现可以复用同一块缓冲区。
// 暂时无法采集时返回 ErrCaptureUnavailable；有限输入结束时返回 ErrSourceExhausted。
type FrameSource interface {
	Format() (width, height int, layout PixelLayout)
	Acquire(ctx context.Context) (*RawFrame, error)
	Close() error
}

type slotItem struct {
	frame *RawFrame
	err   error
}

// AsyncSource 在独立goroutine上采集，通过单槽、满则覆盖的通道交给流水线。
// 被覆盖而未消费的帧计入 Drops。
type AsyncSource struct {
	src     FrameSource
	timeout time.Duration
	slot    chan slotItem
	drops   atomic.Uint64
	done    atomic.Bool
	log     *logrus.Entry

	cancel context.CancelFunc
	exited chan struct{}
	once   sync.Once
	err    error
}

// closeGracePeriods Close 等待采集goroutine退出的最长时间（以 period 计）
const closeGracePeriods = 2

// NewAsyncSource 启动采集goroutine，每个 period 采集一次；Acquire 最多等待一个 period
func NewAsyncSource(src FrameSource, period time.Duration, log *logrus.Entry) *AsyncSource {
	ctx, cancel := context.WithCancel(context.Background())
	a := &AsyncSource{
		src:     src,
		timeout: period,
		slot:    make(chan slotItem, 1),
		log:     log,
		cancel:  cancel,
		exited:  make(chan struct{}),
	}
	go a.loop(ctx)
	return a
}

func (a *AsyncSource) loop(ctx context.Context) {
	defer close(a.exited)
	ticker := time.NewTicker(a.timeout)
	defer ticker.Stop()
	for {
		frame, err := a.src.Acquire(ctx)
		if ctx.Err() != nil {
			return
		}
		item := slotItem{err: err}
		if err == nil {
			item.frame = frame.Clone()
		}
		if errors.Is(err, ErrSourceExhausted) {
			a.done.Store(true)
			a.publish(item)
			return
		}
		a.publish(item)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (a *AsyncSource) publish(item slotItem) {
	select {
	case a.slot <- item:
		return
	default:
	}
	select {
	case stale := <-a.slot:
		if stale.frame != nil {
			a.drops.Add(1)
			a.log.Debug("覆盖未消费的帧")
		}
	default:
	}
	a.slot <- item
}

func (a *AsyncSource) Format() (int, int, PixelLayout) {
	return a.src.Format()
}

// Acquire 取最新一帧；超时视为本tick采集不可用
func (a *AsyncSource) Acquire(ctx context.Context) (*RawFrame, error) {
	if a.done.Load() && len(a.slot) == 0 {
		return nil, ErrSourceExhausted
	}
	t := time.NewTimer(a.timeout)
	defer t.Stop()
	select {
	case item := <-a.slot:
		return item.frame, item.err
	case <-t.C:
		if a.done.Load() {
			return nil, ErrSourceExhausted
		}
		return nil, ErrCaptureUnavailable
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (a *AsyncSource) Drops() uint64 { return a.drops.Load() }

// Close 停止采集goroutine并关闭底层源。
// 底层 Acquire 不响应 ctx 时最多等待 closeGracePeriods 个周期，之后放弃该goroutine。
func (a *AsyncSource) Close() error {
	a.once.Do(func() {
		a.cancel()
		t := time.NewTimer(closeGracePeriods * a.timeout)
		defer t.Stop()
		select {
		case <-a.exited:
		case <-t.C:
			a.log.Warnf("采集goroutine %s 内未退出，放弃等待", closeGracePeriods*a.timeout)
		}
		a.err = a.src.Close()
	})
	return a.err
}
