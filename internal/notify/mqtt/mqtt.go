// Package mqtt publishes detection events as JSON messages to an MQTT broker.
package mqtt

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/oshokin/doorbell-monitor/internal/config"
	"github.com/oshokin/doorbell-monitor/internal/detector"
	"github.com/oshokin/doorbell-monitor/internal/logger"
)

// Name is the transport name used in logs and metrics.
const Name = "mqtt"

const (
	connectRetryInterval = 10 * time.Second
	keepAlive            = 60 * time.Second
	pingTimeout          = 10 * time.Second
	disconnectQuiesce    = 250 // milliseconds
)

// Payload is the JSON body published for every event.
type Payload struct {
	ID        string    `json:"id"`
	Band      int       `json:"band"`
	Label     string    `json:"label"`
	Frequency float64   `json:"frequency"`
	Magnitude float64   `json:"magnitude"`
	Timestamp time.Time `json:"timestamp"`
}

// publisher is the part of paho.Client the transport uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload any) paho.Token
	Disconnect(quiesce uint)
}

// Transport publishes events to a topic.
type Transport struct {
	client   publisher
	topic    string
	qos      byte
	retained bool
}

// Dial connects to the broker. The connection keeps retrying in the background
// when the broker is not reachable within connectTimeout.
func Dial(ctx context.Context, settings config.MQTT, connectTimeout time.Duration) (*Transport, error) {
	opts := paho.NewClientOptions()
	opts.AddBroker(settings.Broker)
	opts.SetClientID(clientID(settings.ClientID))

	if settings.Username != "" {
		opts.SetUsername(settings.Username)
	}

	if settings.Password != "" {
		opts.SetPassword(settings.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(connectRetryInterval)
	opts.SetKeepAlive(keepAlive)
	opts.SetPingTimeout(pingTimeout)

	opts.SetOnConnectHandler(func(paho.Client) {
		logger.InfoKV(ctx, "MQTT connected", "broker", settings.Broker)
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.WarnKV(ctx, "MQTT connection lost", "broker", settings.Broker, "error", err)
	})

	client := paho.NewClient(opts)

	token := client.Connect()
	if token.WaitTimeout(connectTimeout) && token.Error() != nil {
		return nil, fmt.Errorf("connect to %s: %w", settings.Broker, token.Error())
	}

	return newTransport(client, settings), nil
}

func newTransport(client publisher, settings config.MQTT) *Transport {
	return &Transport{
		client:   client,
		topic:    settings.Topic,
		qos:      settings.QoS,
		retained: settings.Retained,
	}
}

// Name implements notify.Transport.
func (t *Transport) Name() string {
	return Name
}

// Send publishes the event and waits for the broker acknowledgement or ctx.
func (t *Transport) Send(ctx context.Context, event detector.Event) error {
	body, err := json.Marshal(Payload{
		ID:        event.ID.String(),
		Band:      event.Band,
		Label:     event.Label,
		Frequency: event.Frequency,
		Magnitude: event.Magnitude,
		Timestamp: event.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	token := t.client.Publish(t.topic, t.qos, t.retained, body)

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("publish to %s: %w", t.topic, err)
		}

		return nil
	case <-ctx.Done():
		return fmt.Errorf("publish to %s: %w", t.topic, ctx.Err())
	}
}

// Close disconnects from the broker.
func (t *Transport) Close() error {
	t.client.Disconnect(disconnectQuiesce)
	return nil
}

// clientID returns configured or a random "doorbell_<hex>" identifier.
func clientID(configured string) string {
	if configured != "" {
		return configured
	}

	raw := make([]byte, 8) //nolint:mnd // 64 random bits are plenty for a client id.
	_, _ = rand.Read(raw)

	return "doorbell_" + hex.EncodeToString(raw)
}
