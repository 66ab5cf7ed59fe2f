package config

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "screenrec.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "output.mp4", cfg.Output)
	assert.Equal(t, 30, cfg.Encoder.FPS)
	assert.EqualValues(t, 4_000_000, cfg.Encoder.Bitrate)
	assert.Equal(t, []string{"libx264", "libopenh264", "h264_mf", "mpeg4"}, cfg.Encoder.Candidates)
	assert.Equal(t, 30, cfg.Recorder.MaxCaptureFailures)
	assert.Equal(t, ":1883", cfg.Telemetry.Address)
}

func TestLoadFileKeepsUnsetDefaults(t *testing.T) {
	path := writeFile(t, `
output: rec.mkv
encoder:
  fps: 10
  candidates: [libx264, "", libx264, mpeg4]
source:
  kind: opencv
  device: demo.avi
recorder:
  max_duration: 90s
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "rec.mkv", cfg.Output)
	assert.Equal(t, 10, cfg.Encoder.FPS)
	assert.Equal(t, "h264", cfg.Encoder.Codec)
	assert.Equal(t, []string{"libx264", "mpeg4"}, cfg.Encoder.Candidates)
	assert.Equal(t, SourceOpenCV, cfg.Source.Kind)
	assert.Equal(t, 90*time.Second, cfg.Recorder.MaxDuration)
	assert.True(t, cfg.Overlay.Border)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SCREENREC_OUTPUT", "env.mp4")
	t.Setenv("SCREENREC_FPS", "15")
	t.Setenv("SCREENREC_BITRATE", "1000000")
	t.Setenv("SCREENREC_MAX_DURATION", "2m")
	t.Setenv("SCREENREC_MQTT_ADDR", "127.0.0.1:0")
	cfg, err := Load(writeFile(t, "output: file.mp4\nencoder:\n  fps: 60\n"))
	require.NoError(t, err)
	assert.Equal(t, "env.mp4", cfg.Output)
	assert.Equal(t, 15, cfg.Encoder.FPS)
	assert.EqualValues(t, 1_000_000, cfg.Encoder.Bitrate)
	assert.Equal(t, 2*time.Minute, cfg.Recorder.MaxDuration)
	assert.Equal(t, "127.0.0.1:0", cfg.Telemetry.Address)

	t.Setenv("SCREENREC_FPS", "fast")
	_, err = Load("")
	assert.ErrorContains(t, err, "SCREENREC_FPS")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Encoder.FPS = 0
	cfg.Source.Kind = "window"
	cfg.Overlay.BorderColor = "red"
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "fps 0 (follow source)")
	assert.ErrorContains(t, err, `unknown source kind "window"`)
	assert.ErrorContains(t, err, `invalid color "red"`)

	_, err = Load(writeFile(t, "encoder: [broken"))
	assert.ErrorContains(t, err, "parse")
	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read")
}

func TestZeroFPSFollowsOpenCVSource(t *testing.T) {
	cfg := Default()
	cfg.Encoder.FPS = 0
	cfg.Source.Kind = SourceOpenCV
	cfg.Source.Device = "demo.avi"
	assert.NoError(t, cfg.Validate())

	cfg.Source.Kind = SourceScreen
	assert.ErrorContains(t, cfg.Validate(), "needs an opencv source")

	cfg.Encoder.FPS = -1
	assert.ErrorContains(t, cfg.Validate(), "fps -1 out of range")
}

func TestParseColor(t *testing.T) {
	c, err := ParseColor("#00FF80")
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{G: 0xff, B: 0x80, A: 0xff}, c)
	_, err = ParseColor("#12345")
	assert.Error(t, err)
}
