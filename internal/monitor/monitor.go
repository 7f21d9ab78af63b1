// Package monitor publishes periodic control-loop health to an MQTT topic.
// It sits entirely outside the inference path: a broker outage degrades
// monitoring, never inference.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/clawinfra/teleclaw/internal/config"
	"github.com/clawinfra/teleclaw/internal/telemetry"
)

const (
	defaultInterval = 30 * time.Second
	defaultTopic    = "teleclaw/status"
	connectTimeout  = 10 * time.Second
	publishTimeout  = 5 * time.Second
)

// StatsSource provides the aggregate to publish. telemetry.Store satisfies it.
type StatsSource interface {
	Summary() (telemetry.Stats, error)
}

// MQTTClient is an interface for MQTT client operations
// This allows us to mock MQTT calls in tests
type MQTTClient interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
}

// DefaultMQTTClient wraps the paho MQTT client
type DefaultMQTTClient struct {
	client mqtt.Client
}

func (d *DefaultMQTTClient) Connect() mqtt.Token { return d.client.Connect() }

func (d *DefaultMQTTClient) Disconnect(quiesce uint) { d.client.Disconnect(quiesce) }

func (d *DefaultMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	return d.client.Publish(topic, qos, retained, payload)
}

func (d *DefaultMQTTClient) IsConnected() bool { return d.client.IsConnected() }

// Publisher periodically publishes the current session's stats.
type Publisher struct {
	cfg    config.MonitorConfig
	src    StatsSource
	logger *slog.Logger

	clientFactory func(opts *mqtt.ClientOptions) MQTTClient
	client        MQTTClient
}

// New creates a publisher for the configured broker and topic.
func New(cfg config.MonitorConfig, src StatsSource, logger *slog.Logger) *Publisher {
	return &Publisher{
		cfg:    cfg,
		src:    src,
		logger: logger.With("component", "monitor"),
		clientFactory: func(opts *mqtt.ClientOptions) MQTTClient {
			return &DefaultMQTTClient{client: mqtt.NewClient(opts)}
		},
	}
}

// Run connects to the broker and publishes stats at the configured interval
// until ctx is cancelled. Connection failure is returned; per-publish
// failures are logged and skipped.
func (p *Publisher) Run(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(p.cfg.BrokerURL)
	opts.SetClientID("teleclaw-monitor-" + uuid.NewString()[:8])
	opts.SetAutoReconnect(true)

	p.client = p.clientFactory(opts)

	p.logger.Info("connecting to mqtt broker", "broker", p.cfg.BrokerURL)
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("monitor: connect to %s: timeout", p.cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("monitor: connect to %s: %w", p.cfg.BrokerURL, err)
	}
	defer p.client.Disconnect(250)

	interval := time.Duration(p.cfg.IntervalSec) * time.Second
	if interval <= 0 {
		interval = defaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("monitor stopped")
			return nil
		case <-ticker.C:
			p.publishOnce()
		}
	}
}

func (p *Publisher) publishOnce() {
	stats, err := p.src.Summary()
	if err != nil {
		p.logger.Warn("stats summary failed", "error", err)
		return
	}
	payload, err := json.Marshal(stats)
	if err != nil {
		p.logger.Warn("encode stats failed", "error", err)
		return
	}

	topic := p.cfg.Topic
	if topic == "" {
		topic = defaultTopic
	}
	// QoS 1 (at least once delivery)
	token := p.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		p.logger.Warn("publish timeout", "topic", topic)
		return
	}
	if err := token.Error(); err != nil {
		p.logger.Warn("publish failed", "topic", topic, "error", err)
		return
	}
	p.logger.Debug("status published", "topic", topic, "exchanges", stats.Exchanges)
}
