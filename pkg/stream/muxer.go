package stream

import (
	"fmt"
)

// Sink 输出容器。WritePacket 收到的时间戳已换算到 TimeBase()。
type Sink interface {
	TimeBase() Rational
	StreamIndex() int
	WritePacket(pkt Packet) error
	WriteTrailer() error
	Close() error
}

// Muxer 负责时间基换算、流索引，并保证写入顺序
type Muxer struct {
	sink      Sink
	codecTB   Rational
	lastDTS   int64
	aborted   error
	finalized bool

	packets uint64
	bytes   uint64
}

func NewMuxer(sink Sink, codecTB Rational) *Muxer {
	return &Muxer{sink: sink, codecTB: codecTB, lastDTS: NoPTS}
}

// Write 换算时间戳并写入；乱序包会被显式拒绝
func (m *Muxer) Write(pkt Packet) error {
	if m.finalized {
		return &MuxError{DTS: pkt.DTS, Err: ErrAlreadyFinalized}
	}
	if m.aborted != nil {
		return &MuxError{DTS: pkt.DTS, Err: fmt.Errorf("%w: %v", ErrMuxAborted, m.aborted)}
	}

	tb := m.sink.TimeBase()
	pkt.PTS = Rescale(pkt.PTS, m.codecTB, tb)
	pkt.DTS = Rescale(pkt.DTS, m.codecTB, tb)
	if pkt.Duration > 0 {
		pkt.Duration = Rescale(pkt.Duration, m.codecTB, tb)
	}
	pkt.StreamIndex = m.sink.StreamIndex()

	key := pkt.orderKey()
	if m.lastDTS != NoPTS && key < m.lastDTS {
		return &MuxError{DTS: key, Err: fmt.Errorf("%w: %d after %d", ErrOutOfOrder, key, m.lastDTS)}
	}
	if err := m.sink.WritePacket(pkt); err != nil {
		m.aborted = err
		return &MuxError{DTS: key, Err: err}
	}
	m.lastDTS = key
	m.packets++
	m.bytes += uint64(len(pkt.Data))
	return nil
}

// Abort 停止后续写入，Finalize 仍然可以调用
func (m *Muxer) Abort(cause error) {
	if m.aborted == nil {
		m.aborted = cause
	}
}

// Finalize 写入容器尾部/索引，只能调用一次
func (m *Muxer) Finalize() error {
	if m.finalized {
		return ErrAlreadyFinalized
	}
	m.finalized = true
	if err := m.sink.WriteTrailer(); err != nil {
		return &MuxError{DTS: m.lastDTS, Err: fmt.Errorf("write trailer: %w", err)}
	}
	return nil
}

func (m *Muxer) Packets() uint64 { return m.packets }

func (m *Muxer) Bytes() uint64 { return m.bytes }
