package stream

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsyncSourceCountsOverwrittenFrames(t *testing.T) {
	src := solidSource(2, 2)
	src.repeat = &step{bgr: red}
	a := NewAsyncSource(src, 2*time.Millisecond, logrus.WithField("test", t.Name()))

	require.Eventually(t, func() bool { return a.Drops() >= 3 }, time.Second, time.Millisecond)

	f, err := a.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, f.Width)
	assert.NotSame(t, &src.frame, f, "handed-off frame is a private copy")

	require.NoError(t, a.Close())
	assert.Equal(t, 1, src.closed)
}

func TestAsyncSourceExhaustion(t *testing.T) {
	src := solidSource(2, 2, step{bgr: red})
	a := NewAsyncSource(src, 5*time.Millisecond, logrus.WithField("test", t.Name()))
	defer a.Close()

	require.Eventually(t, func() bool {
		_, err := a.Acquire(context.Background())
		return err == ErrSourceExhausted
	}, time.Second, time.Millisecond)

	_, err := a.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrSourceExhausted)
}

func TestAsyncSourceTimeout(t *testing.T) {
	src := solidSource(2, 2)
	src.repeat = &step{err: ErrCaptureUnavailable}
	a := NewAsyncSource(src, 5*time.Millisecond, logrus.WithField("test", t.Name()))
	defer a.Close()

	_, err := a.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrCaptureUnavailable)
}
