package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"
	sloglogrus "github.com/samber/slog-logrus/v2"
	"github.com/sirupsen/logrus"
)

const stopSubscriptionID = 1

// Config 内嵌MQTT服务的参数。Address 为空时只开启 inline client，不监听端口。
type Config struct {
	Address     string
	StatusTopic string
	EventTopic  string
	StopTopic   string
	Interval    time.Duration
}

// Broker 内嵌的MQTT服务，同时负责接收外部的停止指令
type Broker struct {
	cfg    Config
	server *mqtt.Server
	stop   atomic.Bool
	once   sync.Once
	err    error
	log    *logrus.Entry
}

// StartBroker 启动服务。ctx 可取消时在其结束后自动关闭，否则由调用方 Close。
func StartBroker(ctx context.Context, cfg Config) (*Broker, error) {
	slogLogger := slog.New(sloglogrus.Option{Level: slog.LevelWarn, Logger: logrus.StandardLogger()}.NewLogrusHandler())
	server := mqtt.New(&mqtt.Options{Logger: slogLogger, InlineClient: true})
	_ = server.AddHook(new(auth.AllowHook), nil)

	b := &Broker{
		cfg:    cfg,
		server: server,
		log:    logrus.WithField("component", "telemetry"),
	}

	if cfg.Address != "" {
		tcp := listeners.NewTCP(listeners.Config{ID: "t1", Address: cfg.Address})
		if err := server.AddListener(tcp); err != nil {
			return nil, fmt.Errorf("telemetry: listen %s: %w", cfg.Address, err)
		}
	}
	if cfg.StopTopic != "" {
		err := server.Subscribe(cfg.StopTopic, stopSubscriptionID, func(_ *mqtt.Client, _ packets.Subscription, pk packets.Packet) {
			if b.stop.CompareAndSwap(false, true) {
				b.log.Infof("收到停止指令: %s", pk.TopicName)
			}
		})
		if err != nil {
			_ = server.Close()
			return nil, fmt.Errorf("telemetry: subscribe %s: %w", cfg.StopTopic, err)
		}
	}
	if err := server.Serve(); err != nil {
		_ = server.Close()
		return nil, fmt.Errorf("telemetry: serve: %w", err)
	}
	b.log.Infof("MQTT服务已启动 %s", cfg.Address)

	if ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			_ = b.Close()
		}()
	}
	return b, nil
}

// StopRequested 是否收到过停止指令，非阻塞
func (b *Broker) StopRequested() bool {
	return b.stop.Load()
}

func (b *Broker) Publish(topic string, payload []byte, retain bool) error {
	return b.server.Publish(topic, payload, retain, 0)
}

// Server 暴露底层服务，供同进程内订阅
func (b *Broker) Server() *mqtt.Server { return b.server }

func (b *Broker) Close() error {
	b.once.Do(func() {
		b.err = b.server.Close()
		b.log.Infof("MQTT服务已关闭")
	})
	return b.err
}
