package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// DefaultTopic is the MQTT topic prefix for lifecycle events
const DefaultTopic = "stream-watcher/events"

// MQTTSink publishes events to <topic>/<type>
type MQTTSink struct {
	client  mqtt.Client
	topic   string
	qos     byte
	timeout time.Duration
	logger  *zap.Logger
}

// NewMQTTSink wraps a connected client
func NewMQTTSink(client mqtt.Client, topic string, logger *zap.Logger) *MQTTSink {
	if topic == "" {
		topic = DefaultTopic
	}
	return &MQTTSink{
		client:  client,
		topic:   strings.TrimSuffix(topic, "/"),
		timeout: 2 * time.Second,
		logger:  logger,
	}
}

// ConnectMQTT connects to broker with automatic reconnection
func ConnectMQTT(broker, clientID string, logger *zap.Logger) (mqtt.Client, error) {
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		logger.Info("mqtt connection established", zap.String("broker", broker), zap.String("client_id", clientID))
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost, will auto-reconnect", zap.String("broker", broker), zap.Error(err))
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}
	return client, nil
}

// Publish sends the event as JSON with QoS 0
func (s *MQTTSink) Publish(ctx context.Context, event Event) error {
	if !s.client.IsConnected() {
		return fmt.Errorf("mqtt not connected")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	topic := fmt.Sprintf("%s/%s", s.topic, event.Type)
	token := s.client.Publish(topic, s.qos, false, payload)

	timeout := s.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}

	s.logger.Debug("event published", zap.String("topic", topic), zap.Int("size", len(payload)))
	return nil
}

// Close disconnects the client
func (s *MQTTSink) Close() {
	if s.client.IsConnected() {
		s.client.Disconnect(250)
	}
}
