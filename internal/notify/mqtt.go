package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	internalcommon "github.com/goran-ethernal/ChainReducer/internal/common"
	"github.com/goran-ethernal/ChainReducer/internal/logger"
	"github.com/goran-ethernal/ChainReducer/internal/metrics"
	"github.com/goran-ethernal/ChainReducer/pkg/config"
)

const disconnectQuiesceMs = 250

// Publisher sends a payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// MQTTSink publishes changes as JSON to <prefix>/<family>/<id>.
type MQTTSink struct {
	pub    Publisher
	prefix string
}

// NewMQTTSink creates an MQTTSink over pub.
func NewMQTTSink(pub Publisher, prefix string) *MQTTSink {
	return &MQTTSink{pub: pub, prefix: strings.TrimSuffix(prefix, "/")}
}

func (s *MQTTSink) Name() string { return "mqtt" }

func (s *MQTTSink) Send(ctx context.Context, c Change) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode change: %w", err)
	}
	return s.pub.Publish(ctx, s.Topic(c), payload)
}

// Topic returns the topic a change is published to.
func (s *MQTTSink) Topic(c Change) string {
	// wildcards are not allowed in published topics
	id := strings.NewReplacer("#", "_", "+", "_", "/", "_").Replace(c.ID)
	return s.prefix + "/" + c.Family + "/" + id
}

// MQTTPublisher is a Publisher backed by a paho client.
type MQTTPublisher struct {
	client mqtt.Client
	qos    byte
	log    *logger.Logger
}

// NewMQTTPublisher connects to the broker in cfg. cfg must have its
// defaults applied.
func NewMQTTPublisher(cfg config.MQTTConfig, log *logger.Logger) (*MQTTPublisher, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	log = log.WithComponent(internalcommon.ComponentNotifier)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetConnectTimeout(cfg.ConnectTimeout.Duration)
	opts.SetAutoReconnect(true)
	opts.OnConnect = func(mqtt.Client) {
		log.Infow("connected to MQTT broker", "broker", cfg.Broker)
		metrics.ComponentHealthSet(internalcommon.ComponentNotifier, true)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warnw("MQTT connection lost", "broker", cfg.Broker, "error", err)
		metrics.ComponentHealthSet(internalcommon.ComponentNotifier, false)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout.Duration) {
		return nil, fmt.Errorf("timed out connecting to MQTT broker %s", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", cfg.Broker, err)
	}

	return &MQTTPublisher{client: client, qos: cfg.QoS, log: log}, nil
}

// Publish waits for the broker to acknowledge the message or ctx to end.
func (p *MQTTPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	token := p.client.Publish(topic, p.qos, false, payload)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() error {
	if p.client.IsConnected() {
		p.client.Disconnect(disconnectQuiesceMs)
	}
	metrics.ComponentHealthSet(internalcommon.ComponentNotifier, false)
	return nil
}
