package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func submitN(t *testing.T, e *Encoder, n int) []Packet {
	t.Helper()
	var out []Packet
	f := NewPlanarFrame(2, 2)
	for i := 0; i < n; i++ {
		f.PTS = int64(i)
		pkts, err := e.Submit(f)
		require.NoError(t, err)
		out = append(out, pkts...)
	}
	return out
}

func TestEncoderBufferedEmission(t *testing.T) {
	codec := newFakeCodec(30)
	codec.delay = 2
	e := NewEncoder(codec)

	pkts := submitN(t, e, 5)
	assert.Len(t, pkts, 3, "two frames still held by lookahead")

	rest, err := e.Flush()
	require.NoError(t, err)
	assert.Len(t, rest, 2)
	assert.Equal(t, EncoderClosed, e.State())
}

func TestEncoderFlushRepeatable(t *testing.T) {
	codec := newFakeCodec(30)
	codec.delay = 1
	e := NewEncoder(codec)
	submitN(t, e, 3)

	pkts, err := e.Flush()
	require.NoError(t, err)
	assert.Len(t, pkts, 1)

	for i := 0; i < 3; i++ {
		pkts, err = e.Flush()
		require.NoError(t, err)
		assert.Empty(t, pkts)
	}

	_, err = e.Submit(NewPlanarFrame(2, 2))
	require.ErrorIs(t, err, ErrEncoderClosed)
}

func TestEncoderReorderedPresentation(t *testing.T) {
	codec := newFakeCodec(30)
	codec.reorder = true
	e := NewEncoder(codec)

	pkts := submitN(t, e, 4)
	require.Len(t, pkts, 4)
	assert.Equal(t, []int64{1, 0, 3, 2}, []int64{pkts[0].PTS, pkts[1].PTS, pkts[2].PTS, pkts[3].PTS})
	for i := 1; i < len(pkts); i++ {
		assert.Greater(t, pkts[i].DTS, pkts[i-1].DTS)
	}
}

func TestEncoderDetectsDecreasingDTS(t *testing.T) {
	codec := newFakeCodec(30)
	codec.reorder = true
	codec.badDTS = true
	e := NewEncoder(codec)

	f := NewPlanarFrame(2, 2)
	_, err := e.Submit(f)
	require.NoError(t, err)
	f.PTS = 1
	_, err = e.Submit(f)
	require.ErrorIs(t, err, ErrOutOfOrder)
	var ee *EncodeError
	require.ErrorAs(t, err, &ee)
}

func TestEncoderSendFailure(t *testing.T) {
	codec := newFakeCodec(30)
	codec.failOn = 0
	e := NewEncoder(codec)
	_, err := e.Submit(NewPlanarFrame(2, 2))
	var ee *EncodeError
	require.ErrorAs(t, err, &ee)
	assert.EqualValues(t, 0, ee.PTS)
	assert.True(t, IsFatal(err))
}
