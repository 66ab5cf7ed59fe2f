package telemetry

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/stydxm/screenrec/pkg/stream"
)

// Publisher 周期性发布录制状态，并在状态切换时发事件
type Publisher struct {
	broker *Broker
	log    *logrus.Entry
}

func NewPublisher(b *Broker) *Publisher {
	return &Publisher{broker: b, log: b.log}
}

// Run 按 Interval 发布 statsFn 的快照，直到 ctx 结束。退出前再发一次最终状态。
func (p *Publisher) Run(ctx context.Context, statsFn func() stream.Stats) error {
	interval := p.broker.cfg.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.publishStats(statsFn())
			return nil
		case <-ticker.C:
			p.publishStats(statsFn())
		}
	}
}

func (p *Publisher) publishStats(s stream.Stats) {
	if p.broker.cfg.StatusTopic == "" {
		return
	}
	out, err := encodeStats(s)
	if err != nil {
		p.log.Warnf("pb序列化失败: %v", err)
		return
	}
	if err := p.broker.Publish(p.broker.cfg.StatusTopic, out, true); err != nil {
		p.log.Warnf("发布状态失败: %v", err)
	}
}

// StateChanged 可直接作为 stream.RecorderConfig.OnStateChange
func (p *Publisher) StateChanged(from, to stream.PipelineState) {
	if p.broker.cfg.EventTopic == "" {
		return
	}
	msg, err := structpb.NewStruct(map[string]any{
		"from": from.String(),
		"to":   to.String(),
		"at":   time.Now().UnixMilli(),
	})
	if err != nil {
		p.log.Warnf("pb序列化失败: %v", err)
		return
	}
	out, err := proto.Marshal(msg)
	if err != nil {
		p.log.Warnf("pb序列化失败: %v", err)
		return
	}
	if err := p.broker.Publish(p.broker.cfg.EventTopic, out, false); err != nil {
		p.log.Warnf("发布事件失败: %v", err)
	}
}

func encodeStats(s stream.Stats) ([]byte, error) {
	fields := map[string]any{
		"session":              s.Session,
		"state":                s.State.String(),
		"fps":                  s.FPS,
		"frames_captured":      s.FramesCaptured,
		"frames_submitted":     s.FramesSubmitted,
		"capture_failures":     s.CaptureFailures,
		"consecutive_failures": s.ConsecutiveFailures,
		"packets_written":      s.PacketsWritten,
		"bytes_written":        s.BytesWritten,
		"late_ticks":           s.LateTicks,
		"skipped_ticks":        s.SkippedTicks,
		"handoff_drops":        s.HandoffDrops,
		"media_seconds":        s.Elapsed(s.FPS).Seconds(),
	}
	if !s.Started.IsZero() {
		fields["started_unix_ms"] = s.Started.UnixMilli()
	}
	if s.LastError != "" {
		fields["last_error"] = s.LastError
	}
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(msg)
}
