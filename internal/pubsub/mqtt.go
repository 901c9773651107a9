// Package pubsub provides implementations of message publishers.
package pubsub

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/jellevictoor/sdm-modbus-reader/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// NoopPublisher is a no-operation implementation of the MessagePublisher
// interface, used when MQTT is disabled or unreachable.
type NoopPublisher struct{}

// NewNoopPublisher creates a new no-operation publisher.
func NewNoopPublisher() *NoopPublisher {
	return &NoopPublisher{}
}

// Connect is a no-op for the NoopPublisher.
func (p *NoopPublisher) Connect(_ context.Context) error {
	return nil
}

// PublishFields is a no-op for the NoopPublisher.
func (p *NoopPublisher) PublishFields(_ context.Context, _ string, _ map[string]float64) error {
	return nil
}

// Close is a no-op for the NoopPublisher.
func (p *NoopPublisher) Close() error {
	return nil
}

// MQTTPublisher implements the MessagePublisher interface for MQTT. Every
// field of a reading is published to its own topic with the retained flag
// set, so a late subscriber immediately receives the last known value.
type MQTTPublisher struct {
	config        *config.Config
	client        mqtt.Client
	connected     bool
	logger        zerolog.Logger
	clientFactory func(*config.Config) mqtt.Client // Factory function for creating MQTT clients (testable)
}

// NewMQTTPublisher creates a new MQTT publisher.
func NewMQTTPublisher(cfg *config.Config) *MQTTPublisher {
	return &MQTTPublisher{
		config:        cfg,
		clientFactory: createMQTTClient,
		connected:     false,
		logger:        log.With().Str("component", "mqtt").Logger(),
	}
}

// NewMQTTPublisherWithClient creates a new MQTT publisher with a custom client (for testing).
func NewMQTTPublisherWithClient(cfg *config.Config, client mqtt.Client) *MQTTPublisher {
	return &MQTTPublisher{
		config:    cfg,
		client:    client,
		connected: false,
		logger:    log.With().Str("component", "mqtt").Logger(),
	}
}

// createMQTTClient is the default factory function for creating MQTT clients.
func createMQTTClient(cfg *config.Config) mqtt.Client {
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTT.Host, cfg.MQTT.Port)).
		SetClientID(fmt.Sprintf("sdm-reader-%d", time.Now().Unix())).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second).
		SetWriteTimeout(5 * time.Second).
		SetKeepAlive(30 * time.Second).
		SetCleanSession(false)

	// Set credentials if provided
	if cfg.MQTT.Username != "" {
		opts.SetUsername(cfg.MQTT.Username)
		opts.SetPassword(cfg.MQTT.Password)
	}

	return mqtt.NewClient(opts)
}

// Connect establishes a connection to the MQTT broker.
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	// If MQTT is disabled, do nothing
	if !p.config.MQTT.Enabled {
		return nil
	}

	// Create client if not already set (for testing)
	if p.client == nil {
		p.client = p.clientFactory(p.config)
	}

	// Connect with context for timeout
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	connToken := p.client.Connect()

	// Wait for connection or context timeout
	select {
	case <-connectCtx.Done():
		return fmt.Errorf("failed to connect to MQTT broker: timeout after 10 seconds")
	case <-connToken.Done():
		if connToken.Error() != nil {
			return fmt.Errorf("failed to connect to MQTT broker: %w", connToken.Error())
		}
	}

	p.connected = true
	return nil
}

// PublishFields publishes every field of a flattened reading to
// <topic_prefix>/<meterSlug>/<field>, retained. Absent fields never reach
// this point: the flattening already omitted them.
func (p *MQTTPublisher) PublishFields(ctx context.Context, meterSlug string, fields map[string]float64) error {
	if !p.config.MQTT.Enabled || !p.connected {
		return nil
	}

	baseTopic := fmt.Sprintf("%s/%s", p.config.MQTT.TopicPrefix, meterSlug)

	for name, value := range fields {
		topic := fmt.Sprintf("%s/%s", baseTopic, name)
		if err := p.publishRetained(ctx, topic, FormatValue(value)); err != nil {
			return fmt.Errorf("failed to publish %s: %w", topic, err)
		}
	}

	p.logger.Debug().
		Str("meter", meterSlug).
		Int("fields", len(fields)).
		Msg("Published reading fields")

	return nil
}

// PublishRaw publishes an arbitrary payload to a fully qualified topic,
// outside the reading topic tree. Used for Home Assistant discovery
// messages.
func (p *MQTTPublisher) PublishRaw(ctx context.Context, topic string, payload []byte, retain bool) error {
	if !p.config.MQTT.Enabled || !p.connected {
		return nil
	}

	publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	token := p.client.Publish(topic, 0, retain, payload)

	select {
	case <-publishCtx.Done():
		return fmt.Errorf("publish timeout after 5 seconds")
	case <-token.Done():
		if token.Error() != nil {
			return fmt.Errorf("failed to publish message: %w", token.Error())
		}
	}

	return nil
}

// publishRetained sends one retained message and waits for the broker ack.
func (p *MQTTPublisher) publishRetained(ctx context.Context, topic, payload string) error {
	publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	token := p.client.Publish(topic, 0, true, payload)

	// Wait for publication or context timeout
	select {
	case <-publishCtx.Done():
		return fmt.Errorf("publish timeout after 5 seconds")
	case <-token.Done():
		if token.Error() != nil {
			return fmt.Errorf("failed to publish message: %w", token.Error())
		}
	}

	return nil
}

// Close terminates the connection to the MQTT broker.
func (p *MQTTPublisher) Close() error {
	if p.client != nil && p.connected {
		p.client.Disconnect(250) // Disconnect with 250ms timeout
		p.connected = false
	}
	return nil
}

// FormatValue renders a field value as decimal text with magnitude-based
// precision, the historical wire format consumers of the topics expect:
// |v| >= 100 uses 2 decimals, 1 <= |v| < 100 uses 3, |v| < 1 uses 6.
func FormatValue(value float64) string {
	switch abs := math.Abs(value); {
	case abs >= 100:
		return strconv.FormatFloat(value, 'f', 2, 64)
	case abs >= 1:
		return strconv.FormatFloat(value, 'f', 3, 64)
	default:
		return strconv.FormatFloat(value, 'f', 6, 64)
	}
}
