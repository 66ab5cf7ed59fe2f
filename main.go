package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/stydxm/screenrec/pkg/capture"
	"github.com/stydxm/screenrec/pkg/capture/opencv"
	"github.com/stydxm/screenrec/pkg/config"
	"github.com/stydxm/screenrec/pkg/ffmpeg"
	"github.com/stydxm/screenrec/pkg/stream"
	"github.com/stydxm/screenrec/pkg/telemetry"
)

func main() {
	configPath := flag.String("config", "", "YAML 配置文件路径")
	flag.Parse()

	logrus.SetOutput(os.Stdout)
	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("读取配置失败: %v", err)
	}
	setupLogging(cfg.Log)
	ffmpeg.QuietLogs()

	if err := run(cfg); err != nil {
		logrus.Errorf("录制异常结束: %v", err)
		os.Exit(1)
	}
	logrus.Infof("退出程序")
}

func setupLogging(cfg config.Log) {
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		logrus.SetLevel(level)
	} else {
		logrus.Warnf("未知日志级别 %q，使用 info", cfg.Level)
	}
	if os.Getenv("mode") == "dev" {
		logrus.SetLevel(logrus.DebugLevel)
	}
}

func run(cfg config.Config) error {
	ctx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	// 录制结束后发布者再发一次最终状态，broker 在所有goroutine退出后才关闭
	telCtx, stopTelemetry := context.WithCancel(context.Background())
	defer stopTelemetry()

	var (
		broker    *telemetry.Broker
		publisher *telemetry.Publisher
	)
	if cfg.Telemetry.Enabled {
		b, err := telemetry.StartBroker(context.Background(), telemetry.Config{
			Address:     cfg.Telemetry.Address,
			StatusTopic: cfg.Telemetry.StatusTopic,
			EventTopic:  cfg.Telemetry.EventTopic,
			StopTopic:   cfg.Telemetry.StopTopic,
			Interval:    cfg.Telemetry.Interval,
		})
		if err != nil {
			logrus.Warnf("遥测未启动，继续录制: %v", err)
		} else {
			broker = b
			defer broker.Close()
			publisher = telemetry.NewPublisher(b)
		}
	}

	recCfg := stream.RecorderConfig{
		Encoder: stream.EncoderConfig{
			Codec:      cfg.Encoder.Codec,
			Candidates: cfg.Encoder.Candidates,
			FPS:        cfg.Encoder.FPS,
			Bitrate:    cfg.Encoder.Bitrate,
			GopSize:    cfg.Encoder.GopSize,
			MaxBFrames: cfg.Encoder.MaxBFrames,
			Preset:     cfg.Encoder.Preset,
		},
		MaxCaptureFailures: cfg.Recorder.MaxCaptureFailures,
		AsyncCapture:       cfg.Recorder.AsyncCapture,
	}
	if publisher != nil {
		recCfg.OnStateChange = publisher.StateChanged
	}

	rec := stream.NewRecorder(recCfg, factories(cfg))
	log := logrus.WithField("session", rec.Session())
	if err := rec.Init(ctx); err != nil {
		var ie *stream.InitError
		if errors.As(err, &ie) {
			log.Errorf("初始化失败 (%s)", ie.Kind)
		}
		return err
	}
	log.Infof("开始录制 -> %s", cfg.Output)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer stopTelemetry()
		return rec.Run(gctx, stopPoll(cfg.Recorder.MaxDuration, broker))
	})
	if publisher != nil {
		g.Go(func() error {
			return publisher.Run(telCtx, rec.Stats)
		})
	}
	return g.Wait()
}

// stopPoll 合并 MQTT 停止指令和最长录制时长，信号由 ctx 处理
func stopPoll(maxDuration time.Duration, broker *telemetry.Broker) stream.StopFunc {
	var deadline time.Time
	return func() bool {
		if broker != nil && broker.StopRequested() {
			return true
		}
		if maxDuration <= 0 {
			return false
		}
		now := time.Now()
		if deadline.IsZero() {
			deadline = now.Add(maxDuration)
		}
		if !now.Before(deadline) {
			logrus.Infof("达到最长录制时长 %s", maxDuration)
			return true
		}
		return false
	}
}

func factories(cfg config.Config) stream.Factories {
	return stream.Factories{
		Source: func(ctx context.Context) (stream.FrameSource, error) {
			return openSource(cfg)
		},
		Codec: func(ec stream.EncoderConfig) (stream.Codec, error) {
			enc, err := ffmpeg.OpenEncoder(ec, ffmpeg.NeedsGlobalHeader(cfg.Output))
			if err != nil {
				return nil, err
			}
			logrus.Infof("使用编码器 %s", enc.Name())
			return enc, nil
		},
		Sink: func(codec stream.Codec) (stream.Sink, error) {
			enc, ok := codec.(*ffmpeg.Encoder)
			if !ok {
				return nil, fmt.Errorf("unexpected codec type %T", codec)
			}
			return ffmpeg.OpenContainer(cfg.Output, enc)
		},
		Converter: func(srcW, srcH int, layout stream.PixelLayout, dstW, dstH int) (stream.Converter, error) {
			scaler, err := ffmpeg.NewScaler(srcW, srcH, layout, dstW, dstH)
			if err != nil {
				logrus.Warnf("swscale 不可用，改用内置转换: %v", err)
				return stream.NewYUVConverter(srcW, srcH, layout, dstW, dstH), nil
			}
			return scaler, nil
		},
	}
}

func openSource(cfg config.Config) (stream.FrameSource, error) {
	switch cfg.Source.Kind {
	case config.SourceOpenCV:
		return opencv.Open(cfg.Source.Device, cfg.Source.Width, cfg.Source.Height)
	default:
		opts := capture.ScreenOptions{Display: cfg.Source.Display, Cursor: cfg.Overlay.Cursor}
		if cfg.Overlay.Border {
			c, err := config.ParseColor(cfg.Overlay.BorderColor)
			if err != nil {
				return nil, err
			}
			opts.Border = &capture.BorderStyle{Width: cfg.Overlay.BorderWidth, Color: c}
		}
		return capture.NewScreenSource(opts)
	}
}
