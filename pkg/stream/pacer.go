package stream

import (
	"context"
	"time"
)

// Clock 抽象墙钟，测试中用模拟时钟替换
type Clock interface {
	Now() time.Time
	SleepUntil(ctx context.Context, deadline time.Time) error
}

type systemClock struct{}

// SystemClock 基于单调时钟的真实实现
func SystemClock() Clock { return systemClock{} }

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) SleepUntil(ctx context.Context, deadline time.Time) error {
	d := time.Until(deadline)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Pacer 以固定周期推进绝对截止时间：下一个截止时间 = 上一个截止时间 + 周期，
// 而不是 now + 周期，处理时间的抖动不会累积成漂移。
type Pacer struct {
	clock  Clock
	period time.Duration
	next   time.Time

	late    uint64
	skipped uint64
}

func NewPacer(clock Clock, fps int) *Pacer {
	return &Pacer{clock: clock, period: time.Second / time.Duration(fps)}
}

func (p *Pacer) Period() time.Duration { return p.period }

// Start 以 t0 为起点，第一个截止时间为 t0+P
func (p *Pacer) Start(t0 time.Time) {
	p.next = t0
}

// Next 计算下一个截止时间。若已落后一个完整周期以上，跳过错过的格点
// （截止时间仍在 t0+kP 网格上），避免连续补帧。
func (p *Pacer) Next() time.Time {
	p.next = p.next.Add(p.period)
	if lag := p.clock.Now().Sub(p.next); lag >= p.period {
		n := lag / p.period
		p.next = p.next.Add(n * p.period)
		p.skipped += uint64(n)
	}
	return p.next
}

// Wait 阻塞到 deadline；已过期则立即返回
func (p *Pacer) Wait(ctx context.Context, deadline time.Time) error {
	if !p.clock.Now().Before(deadline) {
		p.late++
		return ctx.Err()
	}
	return p.clock.SleepUntil(ctx, deadline)
}

// Tick 等价于 Wait(ctx, Next())
func (p *Pacer) Tick(ctx context.Context) (time.Time, error) {
	d := p.Next()
	return d, p.Wait(ctx, d)
}

func (p *Pacer) Late() uint64 { return p.late }

func (p *Pacer) Skipped() uint64 { return p.skipped }
