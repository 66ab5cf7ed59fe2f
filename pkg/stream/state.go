package stream

import (
	"fmt"
	"sync/atomic"
)

// PipelineState 录制流水线的生命周期
type PipelineState int32

const (
	Uninitialized PipelineState = iota
	Running
	Draining
	Finalized
)

func (s PipelineState) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Finalized:
		return "finalized"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// StateMachine 只允许 Uninitialized -> Running -> Draining -> Finalized。
// 读取可以来自其他goroutine（遥测），转换只发生在流水线goroutine。
type StateMachine struct {
	cur      atomic.Int32
	onChange func(from, to PipelineState)
}

func (m *StateMachine) Current() PipelineState {
	return PipelineState(m.cur.Load())
}

func (m *StateMachine) Transition(to PipelineState) error {
	from := m.Current()
	if !validTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	m.cur.Store(int32(to))
	if m.onChange != nil {
		m.onChange(from, to)
	}
	return nil
}

func validTransition(from, to PipelineState) bool {
	switch from {
	case Uninitialized:
		return to == Running
	case Running:
		return to == Draining
	case Draining:
		return to == Finalized
	}
	return false
}
