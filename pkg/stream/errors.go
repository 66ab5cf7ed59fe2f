package stream

import (
	"errors"
	"fmt"
)

var (
	ErrInitialization     = errors.New("initialization failed")
	ErrCaptureUnavailable = errors.New("capture unavailable")
	ErrCaptureEscalated   = errors.New("capture failures exceeded threshold")
	ErrSourceExhausted    = errors.New("frame source exhausted")

	ErrAgain            = errors.New("codec needs more input")
	ErrEncoderClosed    = errors.New("encoder closed")
	ErrOutOfOrder       = errors.New("packet timestamp out of order")
	ErrMuxAborted       = errors.New("muxer aborted")
	ErrAlreadyFinalized = errors.New("container already finalized")

	ErrInvalidTransition = errors.New("invalid pipeline state transition")
)

// InitErrorKind 初始化失败的具体类别
type InitErrorKind int

const (
	UnsupportedCodec InitErrorKind = iota + 1
	OutputOpenFailed
	ResourceAllocationFailed
)

func (k InitErrorKind) String() string {
	switch k {
	case UnsupportedCodec:
		return "unsupported codec"
	case OutputOpenFailed:
		return "output open failed"
	case ResourceAllocationFailed:
		return "resource allocation failed"
	}
	return "unknown"
}

type InitError struct {
	Kind InitErrorKind
	Err  error
}

func NewInitError(kind InitErrorKind, format string, args ...any) *InitError {
	return &InitError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

func (e *InitError) Error() string {
	return fmt.Sprintf("init: %s: %v", e.Kind, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

func (e *InitError) Is(target error) bool { return target == ErrInitialization }

// EncodeError 编码器处于未知状态，本次会话不可再提交
type EncodeError struct {
	PTS int64
	Err error
}

func (e *EncodeError) Error() string {
	if e.PTS == NoPTS {
		return fmt.Sprintf("encode: %v", e.Err)
	}
	return fmt.Sprintf("encode pts=%d: %v", e.PTS, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// MuxError 容器写入失败，文件只在最后一个成功包之前可信
type MuxError struct {
	DTS int64
	Err error
}

func (e *MuxError) Error() string {
	return fmt.Sprintf("mux dts=%d: %v", e.DTS, e.Err)
}

func (e *MuxError) Unwrap() error { return e.Err }

// IsFatal 除了单次采集失败外都不可恢复
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrCaptureUnavailable) || errors.Is(err, ErrCaptureEscalated)
}
