package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

const (
	SourceScreen = "screen"
	SourceOpenCV = "opencv"
)

var sourceKinds = []string{SourceScreen, SourceOpenCV}

type Config struct {
	Log       Log       `yaml:"log"`
	Output    string    `yaml:"output"`
	Encoder   Encoder   `yaml:"encoder"`
	Source    Source    `yaml:"source"`
	Overlay   Overlay   `yaml:"overlay"`
	Recorder  Recorder  `yaml:"recorder"`
	Telemetry Telemetry `yaml:"telemetry"`
}

type Log struct {
	Level string `yaml:"level"`
}

type Encoder struct {
	FPS        int      `yaml:"fps"`
	Bitrate    int      `yaml:"bitrate"`
	Codec      string   `yaml:"codec"`
	Candidates []string `yaml:"candidates"`
	GopSize    int      `yaml:"gop_size"`
	MaxBFrames int      `yaml:"max_b_frames"`
	Preset     string   `yaml:"preset"`
}

type Source struct {
	Kind    string `yaml:"kind"`
	Display int    `yaml:"display"`
	// Device 摄像头序号或视频文件路径，仅 opencv 使用
	Device string `yaml:"device"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
}

type Overlay struct {
	Border      bool   `yaml:"border"`
	BorderWidth int    `yaml:"border_width"`
	BorderColor string `yaml:"border_color"` // #RRGGBB
	Cursor      bool   `yaml:"cursor"`
}

type Recorder struct {
	AsyncCapture       bool          `yaml:"async_capture"`
	MaxCaptureFailures int           `yaml:"max_capture_failures"`
	MaxDuration        time.Duration `yaml:"max_duration"`
}

type Telemetry struct {
	Enabled     bool          `yaml:"enabled"`
	Address     string        `yaml:"address"`
	StatusTopic string        `yaml:"status_topic"`
	EventTopic  string        `yaml:"event_topic"`
	StopTopic   string        `yaml:"stop_topic"`
	Interval    time.Duration `yaml:"interval"`
}

func Default() Config {
	return Config{
		Log:    Log{Level: "info"},
		Output: "output.mp4",
		Encoder: Encoder{
			FPS:        30,
			Bitrate:    4_000_000,
			Codec:      "h264",
			Candidates: []string{"libx264", "libopenh264", "h264_mf", "mpeg4"},
			GopSize:    60,
			MaxBFrames: 2,
			Preset:     "veryfast",
		},
		Source: Source{Kind: SourceScreen, Device: "0"},
		Overlay: Overlay{
			Border:      true,
			BorderWidth: 1,
			BorderColor: "#FF0000",
			Cursor:      true,
		},
		Recorder: Recorder{MaxCaptureFailures: 30},
		Telemetry: Telemetry{
			Enabled:     true,
			Address:     ":1883",
			StatusTopic: "screenrec/status",
			EventTopic:  "screenrec/event",
			StopTopic:   "screenrec/stop",
			Interval:    time.Second,
		},
	}
}

// Load 读取 YAML，未写的字段保留默认值，再叠加环境变量。path 为空时只用默认值和环境变量。
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	cfg.Encoder.Candidates = lo.Uniq(lo.Compact(cfg.Encoder.Candidates))
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) error {
	if v, ok := os.LookupEnv("SCREENREC_OUTPUT"); ok {
		cfg.Output = v
	}
	if v, ok := os.LookupEnv("SCREENREC_SOURCE"); ok {
		cfg.Source.Kind = v
	}
	if v, ok := os.LookupEnv("SCREENREC_MQTT_ADDR"); ok {
		cfg.Telemetry.Address = v
	}
	if v, ok := os.LookupEnv("SCREENREC_FPS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: SCREENREC_FPS: %w", err)
		}
		cfg.Encoder.FPS = n
	}
	if v, ok := os.LookupEnv("SCREENREC_BITRATE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: SCREENREC_BITRATE: %w", err)
		}
		cfg.Encoder.Bitrate = n
	}
	if v, ok := os.LookupEnv("SCREENREC_MAX_DURATION"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: SCREENREC_MAX_DURATION: %w", err)
		}
		cfg.Recorder.MaxDuration = d
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Output == "" {
		errs = append(errs, errors.New("output path is empty"))
	}
	// fps 为0表示沿用输入帧率，只有 opencv 源能报告
	switch {
	case c.Encoder.FPS < 0 || c.Encoder.FPS > 240:
		errs = append(errs, fmt.Errorf("fps %d out of range (1..240)", c.Encoder.FPS))
	case c.Encoder.FPS == 0 && c.Source.Kind != SourceOpenCV:
		errs = append(errs, fmt.Errorf("fps 0 (follow source) needs an opencv source, got %q", c.Source.Kind))
	}
	if c.Encoder.Bitrate <= 0 {
		errs = append(errs, fmt.Errorf("bitrate %d must be positive", c.Encoder.Bitrate))
	}
	if c.Encoder.Codec == "" && len(c.Encoder.Candidates) == 0 {
		errs = append(errs, errors.New("no codec or encoder candidates"))
	}
	if c.Encoder.GopSize < 0 || c.Encoder.MaxBFrames < 0 {
		errs = append(errs, errors.New("gop_size and max_b_frames must not be negative"))
	}
	if !lo.Contains(sourceKinds, c.Source.Kind) {
		errs = append(errs, fmt.Errorf("unknown source kind %q (want one of %v)", c.Source.Kind, sourceKinds))
	}
	if c.Source.Kind == SourceOpenCV && c.Source.Device == "" {
		errs = append(errs, errors.New("opencv source needs a device"))
	}
	if c.Source.Display < 0 {
		errs = append(errs, fmt.Errorf("display %d must not be negative", c.Source.Display))
	}
	if c.Overlay.Border {
		if c.Overlay.BorderWidth <= 0 {
			errs = append(errs, fmt.Errorf("border width %d must be positive", c.Overlay.BorderWidth))
		}
		if _, err := ParseColor(c.Overlay.BorderColor); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Recorder.MaxCaptureFailures <= 0 {
		errs = append(errs, fmt.Errorf("max_capture_failures %d must be positive", c.Recorder.MaxCaptureFailures))
	}
	if c.Recorder.MaxDuration < 0 {
		errs = append(errs, errors.New("max_duration must not be negative"))
	}
	if c.Telemetry.Enabled && c.Telemetry.Interval <= 0 {
		errs = append(errs, errors.New("telemetry interval must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
