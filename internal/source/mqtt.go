package source

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/smartcare-lab/care-monitor/internal/config"
	"github.com/smartcare-lab/care-monitor/pkg/types"
)

// MQTT keeps the last telemetry message seen on a topic. Latest never
// touches the network; it answers from the cached message.
type MQTT struct {
	client mqtt.Client
	topic  string

	mu     sync.RWMutex
	latest *types.SensorSnapshot
}

func OpenMQTT(cfg config.MQTTConfig) (*MQTT, error) {
	if cfg.Broker == "" || cfg.Topic == "" {
		return nil, fmt.Errorf("mqtt broker/topic: %w", ErrNotConfigured)
	}

	m := &MQTT{topic: cfg.Topic}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		// subscriptions are lost on reconnect with a clean session
		if token := c.Subscribe(m.topic, 1, m.onMessage); token.WaitTimeout(5*time.Second) && token.Error() != nil {
			log.Error("MQTT subscribe %s failed: %v", m.topic, token.Error())
			return
		}
		log.Info("Listening for telemetry on %s", m.topic)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("MQTT connection lost: %v", err)
	})

	m.client = mqtt.NewClient(opts)
	token := m.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.Broker, err)
	}
	return m, nil
}

func (m *MQTT) onMessage(_ mqtt.Client, msg mqtt.Message) {
	if err := m.handlePayload(msg.Payload()); err != nil {
		log.Warn("Dropping telemetry on %s: %v", msg.Topic(), err)
	}
}

func (m *MQTT) handlePayload(payload []byte) error {
	var rec map[string]any
	if err := json.Unmarshal(payload, &rec); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if rec == nil {
		return fmt.Errorf("empty payload")
	}
	snap := Normalize(rec)

	m.mu.Lock()
	m.latest = &snap
	m.mu.Unlock()
	return nil
}

func (m *MQTT) Latest(ctx context.Context) (types.SensorSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return types.SensorSnapshot{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.latest == nil {
		return types.SensorSnapshot{}, ErrNoData
	}
	return *m.latest, nil
}

func (m *MQTT) Close() error {
	if m.client != nil {
		m.client.Disconnect(250)
	}
	return nil
}
