package stream

import (
	"errors"
	"fmt"
	"io"
)

// EncoderConfig 编码器配置
type EncoderConfig struct {
	Codec      string   // 编解码器名，如 h264
	Candidates []string // 按顺序尝试的具体编码器实现，如 libx264
	Width      int
	Height     int
	FPS        int
	Bitrate    int // bps
	GopSize    int
	MaxBFrames int
	Preset     string // https://trac.ffmpeg.org/wiki/Encode/H.264
}

// TimeBase 编码器时间基，一个tick为一个单位
func (c EncoderConfig) TimeBase() Rational {
	return Rational{Num: 1, Den: c.FPS}
}

// Codec 外部压缩库的 send/receive 契约。
// SendFrame(nil) 表示流结束；ReceivePacket 在需要更多输入时返回 ErrAgain，全部输出完毕后返回 io.EOF。
type Codec interface {
	SendFrame(frame *PlanarFrame) error
	ReceivePacket() (Packet, error)
	TimeBase() Rational
	Close() error
}

type EncoderState int

const (
	EncoderOpen EncoderState = iota
	EncoderFlushing
	EncoderClosed
)

func (s EncoderState) String() string {
	switch s {
	case EncoderOpen:
		return "open"
	case EncoderFlushing:
		return "flushing"
	case EncoderClosed:
		return "closed"
	}
	return "unknown"
}

// Encoder 包装 Codec，维护 Open -> Flushing -> Closed 状态机。
// 每次提交可能产生零个或多个包（编码器内部有前瞻/B帧缓冲）。
type Encoder struct {
	codec   Codec
	state   EncoderState
	lastDTS int64
}

func NewEncoder(codec Codec) *Encoder {
	return &Encoder{codec: codec, lastDTS: NoPTS}
}

func (e *Encoder) State() EncoderState { return e.state }

func (e *Encoder) TimeBase() Rational { return e.codec.TimeBase() }

// Submit 提交一帧并收集当前可得的全部包
func (e *Encoder) Submit(frame *PlanarFrame) ([]Packet, error) {
	if e.state != EncoderOpen {
		return nil, &EncodeError{PTS: frame.PTS, Err: fmt.Errorf("submit in state %s: %w", e.state, ErrEncoderClosed)}
	}
	if err := e.codec.SendFrame(frame); err != nil {
		return nil, &EncodeError{PTS: frame.PTS, Err: err}
	}
	pkts, err := e.collect()
	if err != nil {
		return pkts, &EncodeError{PTS: frame.PTS, Err: err}
	}
	return pkts, nil
}

// Flush 发送流结束信号并排空缓冲，直到编码器报告没有更多输出。
// 完成后再次调用返回空结果。
func (e *Encoder) Flush() ([]Packet, error) {
	switch e.state {
	case EncoderClosed:
		return nil, nil
	case EncoderOpen:
		if err := e.codec.SendFrame(nil); err != nil {
			return nil, &EncodeError{PTS: NoPTS, Err: fmt.Errorf("send eof: %w", err)}
		}
		e.state = EncoderFlushing
	}

	var out []Packet
	for {
		pkts, err := e.collect()
		out = append(out, pkts...)
		if errors.Is(err, io.EOF) {
			e.state = EncoderClosed
			return out, nil
		}
		if err != nil {
			return out, &EncodeError{PTS: NoPTS, Err: err}
		}
		if len(pkts) == 0 {
			// 刷新过程中 EAGAIN 且没有新包，说明编码器不会再输出
			e.state = EncoderClosed
			return out, nil
		}
	}
}

// collect 拉取包直到 ErrAgain；io.EOF 原样返回给调用方
func (e *Encoder) collect() ([]Packet, error) {
	var pkts []Packet
	for {
		pkt, err := e.codec.ReceivePacket()
		if errors.Is(err, ErrAgain) {
			return pkts, nil
		}
		if err != nil {
			return pkts, err
		}
		if pkt.DTS != NoPTS {
			if e.lastDTS != NoPTS && pkt.DTS < e.lastDTS {
				return pkts, fmt.Errorf("dts %d after %d: %w", pkt.DTS, e.lastDTS, ErrOutOfOrder)
			}
			e.lastDTS = pkt.DTS
		}
		pkts = append(pkts, pkt)
	}
}

// Close 释放底层编码器
func (e *Encoder) Close() error {
	e.state = EncoderClosed
	if e.codec == nil {
		return nil
	}
	err := e.codec.Close()
	e.codec = nil
	return err
}
