package stream

import (
	"sync/atomic"
	"time"
)

// Stats 录制过程的统计快照
type Stats struct {
	Session             string
	State               PipelineState
	FPS                 int
	Started             time.Time
	FramesCaptured      uint64
	FramesSubmitted     uint64
	CaptureFailures     uint64
	ConsecutiveFailures uint64
	PacketsWritten      uint64
	BytesWritten        uint64
	LateTicks           uint64
	SkippedTicks        uint64
	HandoffDrops        uint64
	LastError           string
}

// Elapsed 以已提交帧数换算的录制时长
func (s Stats) Elapsed(fps int) time.Duration {
	if fps <= 0 {
		return 0
	}
	return time.Duration(s.FramesSubmitted) * time.Second / time.Duration(fps)
}

// counters 流水线goroutine写、遥测goroutine读
type counters struct {
	captured    atomic.Uint64
	submitted   atomic.Uint64
	failures    atomic.Uint64
	consecutive atomic.Uint64
	packets     atomic.Uint64
	bytes       atomic.Uint64
	late        atomic.Uint64
	skipped     atomic.Uint64
	drops       atomic.Uint64
	lastErr     atomic.Value
	started     atomic.Int64
}

func (c *counters) setError(err error) {
	if err != nil {
		c.lastErr.Store(err.Error())
	}
}

func (c *counters) snapshot() Stats {
	s := Stats{
		FramesCaptured:      c.captured.Load(),
		FramesSubmitted:     c.submitted.Load(),
		CaptureFailures:     c.failures.Load(),
		ConsecutiveFailures: c.consecutive.Load(),
		PacketsWritten:      c.packets.Load(),
		BytesWritten:        c.bytes.Load(),
		LateTicks:           c.late.Load(),
		SkippedTicks:        c.skipped.Load(),
		HandoffDrops:        c.drops.Load(),
	}
	if ns := c.started.Load(); ns != 0 {
		s.Started = time.Unix(0, ns)
	}
	if v, ok := c.lastErr.Load().(string); ok {
		s.LastError = v
	}
	return s
}
