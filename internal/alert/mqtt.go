// Package alert publishes fall alerts and service logs over MQTT.
package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/smartcare-lab/care-monitor/internal/config"
	"github.com/smartcare-lab/care-monitor/pkg/types"
)

// publisher is the part of mqtt.Client used here.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Dial connects to the alert broker.
func Dial(cfg config.AlertConfig) (mqtt.Client, error) {
	if cfg.Broker == "" {
		return nil, errors.New("alert: broker not configured")
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("alert: connect %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("alert: connect %s: %w", cfg.Broker, err)
	}
	return client, nil
}

// Message is the JSON payload published for each fall.
type Message struct {
	ID          string   `json:"id"`
	DetectedAt  string   `json:"detected_at"`
	IsFallen    bool     `json:"isFallen"`
	Confidence  *float64 `json:"confidence,omitempty"`
	Description string   `json:"description"`
}

// Notifier publishes one QoS 1 message per fall.
type Notifier struct {
	client publisher
	topic  string
}

func NewNotifier(client publisher, topic string) *Notifier {
	if topic == "" {
		topic = "alerts/fall"
	}
	return &Notifier{client: client, topic: topic}
}

func (n *Notifier) NotifyFall(ctx context.Context, ev types.FallEvent) error {
	payload, err := json.Marshal(Message{
		ID:          ev.ID,
		DetectedAt:  ev.DetectedAt.UTC().Format(time.RFC3339),
		IsFallen:    ev.Result.IsFallen,
		Confidence:  ev.Result.Confidence,
		Description: ev.Result.Description,
	})
	if err != nil {
		return fmt.Errorf("alert: encode: %w", err)
	}

	token := n.client.Publish(n.topic, 1, false, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("alert: publish %s: %w", n.topic, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("alert: publish %s: %w", n.topic, ctx.Err())
	}
}

// LogWriter is an io.Writer that forwards log lines to an MQTT topic.
// Publishing is fire-and-forget so logging never blocks on the broker.
type LogWriter struct {
	client publisher
	topic  string
}

// NewLogWriter publishes to logs/<service>.
func NewLogWriter(client publisher, service string) *LogWriter {
	return &LogWriter{client: client, topic: "logs/" + service}
}

// NewLogWriterTopic publishes to an explicit topic.
func NewLogWriterTopic(client publisher, topic string) *LogWriter {
	return &LogWriter{client: client, topic: topic}
}

func (w *LogWriter) Write(p []byte) (int, error) {
	// p may be reused by the caller once Write returns.
	payload := make([]byte, len(p))
	copy(payload, p)
	w.client.Publish(w.topic, 0, false, payload)
	return len(p), nil
}
