package broadcast

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// MQTTConfig holds connection settings for the MQTT broker.
type MQTTConfig struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string

	// ConnectTimeout bounds the initial connection (default: 10 seconds).
	ConnectTimeout time.Duration

	Logger zerolog.Logger
}

// MQTTBroker publishes over a paho MQTT client.
type MQTTBroker struct {
	client mqtt.Client
	logger zerolog.Logger
}

// DialMQTT connects to the broker. The client reconnects automatically after
// the initial connection succeeds.
func DialMQTT(cfg MQTTConfig) (*MQTTBroker, error) {
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout == 0 {
		connectTimeout = 10 * time.Second
	}

	logger := cfg.Logger
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.OnConnect = func(mqtt.Client) {
		logger.Info().Str("broker", cfg.BrokerURL).Msg("connected to MQTT broker")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn().Err(err).Str("broker", cfg.BrokerURL).Msg("MQTT connection lost")
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("connecting to MQTT broker %s: timed out", cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to MQTT broker %s: %w", cfg.BrokerURL, err)
	}

	return &MQTTBroker{client: client, logger: logger}, nil
}

// Publish sends payload to topic and waits for the broker acknowledgement or ctx.
func (b *MQTTBroker) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	token := b.client.Publish(topic, qos, retained, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("publishing to %s: %w", topic, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close disconnects from the broker, waiting up to 250ms for in-flight work.
func (b *MQTTBroker) Close() {
	b.client.Disconnect(250)
}
