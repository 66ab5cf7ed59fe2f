package opencv

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/stydxm/screenrec/pkg/stream"
)

// writeClip 用 VideoWriter 生成一段纯色短视频，环境不支持时跳过
func writeClip(t *testing.T, frames int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.avi")
	writer, err := gocv.VideoWriterFile(path, "MJPG", 10, 32, 24, true)
	if err != nil || !writer.IsOpened() {
		t.Skipf("VideoWriter unavailable: %v", err)
	}
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 0, 0, 0), 24, 32, gocv.MatTypeCV8UC3)
	defer img.Close()
	for i := 0; i < frames; i++ {
		require.NoError(t, writer.Write(img))
	}
	require.NoError(t, writer.Close())
	return path
}

func TestFileSourceExhausts(t *testing.T) {
	path := writeClip(t, 3)
	src, err := Open(path, 0, 0)
	require.NoError(t, err)
	defer src.Close()

	w, h, layout := src.Format()
	assert.Equal(t, 32, w)
	assert.Equal(t, 24, h)
	assert.Equal(t, stream.LayoutBGRA, layout)
	assert.InDelta(t, 10, src.FPS(), 0.5)

	got := 0
	for {
		f, err := src.Acquire(context.Background())
		if errors.Is(err, stream.ErrSourceExhausted) {
			break
		}
		require.NoError(t, err)
		require.NoError(t, f.Validate())
		// 蓝色在 BGRA 中位于第0字节，MJPG有损所以只看大致范围
		assert.Greater(t, f.Pix[0], byte(200))
		assert.Equal(t, byte(255), f.Pix[3])
		got++
	}
	assert.Equal(t, 3, got)
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.avi"), 0, 0)
	assert.Error(t, err)
}
