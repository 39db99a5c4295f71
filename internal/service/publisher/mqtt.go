package publisher

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"analyticsengine/internal/logger"
)

// MQTTOptions configures the MQTT bus.
type MQTTOptions struct {
	Broker         string
	ClientID       string
	QoS            byte
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// MQTTBus publishes to an MQTT broker. QoS 1 gives at-least-once delivery;
// the paho client owns reconnecting and in-flight redelivery.
type MQTTBus struct {
	client mqtt.Client
	opts   MQTTOptions
	logger *logger.Logger

	mu        sync.RWMutex
	connected bool
}

// NewMQTTBus connects to the broker. The client keeps retrying in the
// background if the broker drops later.
func NewMQTTBus(opts MQTTOptions, logger *logger.Logger) (*MQTTBus, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 2 * time.Second
	}

	bus := &MQTTBus{opts: opts, logger: logger}

	clientOpts := mqtt.NewClientOptions()
	clientOpts.AddBroker(opts.Broker)
	clientOpts.SetClientID(opts.ClientID)
	clientOpts.SetCleanSession(false)
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetConnectRetry(true)
	clientOpts.SetConnectRetryInterval(2 * time.Second)
	clientOpts.SetMaxReconnectInterval(30 * time.Second)

	clientOpts.OnConnect = func(c mqtt.Client) {
		bus.setConnected(true)
		logger.Info("MQTT connected to %s as %s", opts.Broker, opts.ClientID)
	}
	clientOpts.OnConnectionLost = func(c mqtt.Client, err error) {
		bus.setConnected(false)
		logger.Warning("MQTT connection to %s lost, reconnecting: %v", opts.Broker, err)
	}

	bus.client = mqtt.NewClient(clientOpts)

	token := bus.client.Connect()
	if !token.WaitTimeout(opts.ConnectTimeout) {
		logger.Warning("MQTT broker %s not reachable yet, retrying in background", opts.Broker)
		return bus, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection to %s failed: %w", opts.Broker, err)
	}
	return bus, nil
}

// Publish sends the payload and waits for the broker acknowledgement, bounded
// by PublishTimeout or ctx.
func (b *MQTTBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if !b.isConnected() {
		return fmt.Errorf("mqtt not connected")
	}

	token := b.client.Publish(topic, b.opts.QoS, false, payload)

	timer := time.NewTimer(b.opts.PublishTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return fmt.Errorf("publish to %s timed out after %v", topic, b.opts.PublishTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close disconnects with a short grace period for in-flight messages.
func (b *MQTTBus) Close() error {
	if b.client != nil && b.client.IsConnected() {
		b.client.Disconnect(250)
		b.logger.Info("MQTT disconnected")
	}
	b.setConnected(false)
	return nil
}

func (b *MQTTBus) setConnected(connected bool) {
	b.mu.Lock()
	b.connected = connected
	b.mu.Unlock()
}

func (b *MQTTBus) isConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}
