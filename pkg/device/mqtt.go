package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	paho_mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/levenlabs/go-lflag"

	"github.com/raterudder/loadshift/pkg/common"
	"github.com/raterudder/loadshift/pkg/log"
)

// publisher is the subset of paho_mqtt.Client used to send commands.
type publisher interface {
	IsConnected() bool
	Connect() paho_mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) paho_mqtt.Token
}

// MQTT publishes ON/OFF to a per-device command topic, the way Tasmota style
// relays expect.
type MQTT struct {
	topicTemplate string
	qos           byte
	timeout       time.Duration

	mu     sync.Mutex
	client publisher

	broker   string
	clientID string
	username string
	password string
}

// configuredMQTT sets up flags for MQTT and returns the instance.
func configuredMQTT() *MQTT {
	m := &MQTT{}
	broker := lflag.String("mqtt-broker", "tcp://localhost:1883", "MQTT broker URL")
	clientID := lflag.String("mqtt-client-id", "loadshift", "MQTT client ID")
	username := lflag.String("mqtt-username", "", "MQTT username")
	password := lflag.String("mqtt-password", "", "MQTT password")
	topic := lflag.String("mqtt-topic-template", "cmnd/%s/POWER", "Command topic, %s is replaced with the device switch")
	timeout := lflag.Duration("mqtt-timeout", 5*time.Second, "Timeout for MQTT connect and publish")

	lflag.Do(func() {
		m.broker = *broker
		m.clientID = *clientID
		m.username = *username
		m.password = *password
		m.topicTemplate = *topic
		m.qos = 1
		m.timeout = *timeout
	})
	return m
}

// NewMQTT returns a Switch publishing through client.
func NewMQTT(client paho_mqtt.Client, topicTemplate string, timeout time.Duration) *MQTT {
	return newMQTT(client, topicTemplate, timeout)
}

func newMQTT(client publisher, topicTemplate string, timeout time.Duration) *MQTT {
	return &MQTT{
		client:        client,
		topicTemplate: topicTemplate,
		qos:           1,
		timeout:       timeout,
	}
}

// Validate ensures the configuration is valid.
func (m *MQTT) Validate() error {
	if m.broker == "" {
		return fmt.Errorf("mqtt-broker is required")
	}
	if !strings.Contains(m.topicTemplate, "%s") {
		return fmt.Errorf("mqtt-topic-template must contain %%s: %q", m.topicTemplate)
	}
	return nil
}

func (m *MQTT) connected() (publisher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client == nil {
		opts := paho_mqtt.NewClientOptions().
			AddBroker(m.broker).
			SetClientID(m.clientID).
			SetUsername(m.username).
			SetPassword(m.password).
			SetAutoReconnect(true).
			SetConnectTimeout(m.timeout).
			SetHTTPHeaders(map[string][]string{"User-Agent": {common.UserAgent()}})
		m.client = paho_mqtt.NewClient(opts)
	}
	if m.client.IsConnected() {
		return m.client, nil
	}

	token := m.client.Connect()
	if !token.WaitTimeout(m.timeout) {
		return nil, errors.New("unable to connect in time")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to mqtt broker: %w", err)
	}
	return m.client, nil
}

func (m *MQTT) publish(ctx context.Context, id, payload string) error {
	client, err := m.connected()
	if err != nil {
		return err
	}
	topic := fmt.Sprintf(m.topicTemplate, id)
	log.Ctx(ctx).DebugContext(ctx, "publishing mqtt command", slog.String("topic", topic), slog.String("payload", payload))

	token := client.Publish(topic, m.qos, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(m.timeout):
		return fmt.Errorf("timed out publishing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// TurnOn implements Switch.
func (m *MQTT) TurnOn(ctx context.Context, id string) error {
	return m.publish(ctx, id, "ON")
}

// TurnOff implements Switch.
func (m *MQTT) TurnOff(ctx context.Context, id string) error {
	return m.publish(ctx, id, "OFF")
}
