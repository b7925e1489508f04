package mqtt

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

const opTimeout = 5 * time.Second

// Handler receives a message delivered on a subscribed topic.
type Handler func(topic string, payload []byte)

// Client wraps the paho client with the agent's topic layout.
type Client struct {
	client mqtt.Client
	topics Topics
	logger *logrus.Logger

	mu   sync.Mutex
	subs map[string]Handler
}

// NewClient connects to the broker. Both WebSocket (ws, wss) and plain MQTT
// (mqtt, mqtts) URLs are accepted; credentials may be embedded in the URL.
// The availability topic is set as last will so Home Assistant marks the
// sensors unavailable when the head unit drops off.
func NewClient(mqttURL string, topics Topics, logger *logrus.Logger) (*Client, error) {
	parsedURL, err := url.Parse(mqttURL)
	if err != nil {
		return nil, fmt.Errorf("invalid MQTT URL: %w", err)
	}

	brokerURL, secure, err := brokerAddress(parsedURL)
	if err != nil {
		return nil, err
	}

	clientID := fmt.Sprintf("hass-sensors-%s", topics.DeviceID())
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(1 * time.Second)
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetMaxReconnectInterval(10 * time.Second)
	opts.SetWill(topics.Availability(), "offline", 1, true)
	if secure {
		// Self-signed certificates are the norm on home brokers.
		opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: true}) //nolint:gosec
	}

	if parsedURL.User != nil {
		password, _ := parsedURL.User.Password()
		opts.SetUsername(parsedURL.User.Username())
		opts.SetPassword(password)
	}

	c := &Client{
		topics: topics,
		logger: logger,
		subs:   make(map[string]Handler),
	}

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.WithError(err).Warn("MQTT connection lost")
	})
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		logger.Debug("MQTT reconnecting...")
	})

	firstConnect := true
	opts.SetOnConnectHandler(func(mqtt.Client) {
		if firstConnect {
			logger.Debug("MQTT connected")
			firstConnect = false
			return
		}
		// Clean sessions drop subscriptions; restore them after a reconnect.
		logger.Info("MQTT reconnected")
		go c.resubscribe()
	})

	c.client = mqtt.NewClient(opts)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	logger.WithFields(logrus.Fields{
		"broker":    cleanURL(mqttURL),
		"protocol":  parsedURL.Scheme,
		"client_id": clientID,
	}).Info("MQTT client connected")

	return c, nil
}

// brokerAddress maps the user-facing scheme onto the one paho expects.
func brokerAddress(u *url.URL) (string, bool, error) {
	raw := u.String()
	switch u.Scheme {
	case "ws":
		return raw, false, nil
	case "wss":
		return raw, true, nil
	case "mqtt":
		return strings.Replace(raw, "mqtt://", "tcp://", 1), false, nil
	case "mqtts":
		return strings.Replace(raw, "mqtts://", "ssl://", 1), true, nil
	default:
		return "", false, fmt.Errorf("unsupported protocol scheme: %s (supported: ws, wss, mqtt, mqtts)", u.Scheme)
	}
}

// Topics returns the topic layout of this client.
func (c *Client) Topics() Topics { return c.topics }

// Publish publishes a message with QoS 1.
func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	token := c.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(opTimeout) {
		return fmt.Errorf("publish to topic %s timed out after %s", topic, opTimeout)
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}

	c.logger.WithFields(logrus.Fields{
		"topic":    topic,
		"size":     len(payload),
		"retained": retained,
	}).Debug("Published MQTT message")
	return nil
}

// Subscribe subscribes to a topic filter. The subscription is remembered and
// restored after reconnects.
func (c *Client) Subscribe(filter string, handler Handler) error {
	if err := c.subscribe(filter, handler); err != nil {
		return err
	}
	c.mu.Lock()
	c.subs[filter] = handler
	c.mu.Unlock()
	return nil
}

func (c *Client) subscribe(filter string, handler Handler) error {
	token := c.client.Subscribe(filter, 1, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(opTimeout) {
		return fmt.Errorf("subscribe to topic %s timed out after %s", filter, opTimeout)
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", filter, token.Error())
	}
	c.logger.WithField("topic", filter).Debug("Subscribed to MQTT topic")
	return nil
}

func (c *Client) resubscribe() {
	c.mu.Lock()
	subs := make(map[string]Handler, len(c.subs))
	for f, h := range c.subs {
		subs[f] = h
	}
	c.mu.Unlock()

	for filter, handler := range subs {
		if err := c.subscribe(filter, handler); err != nil {
			c.logger.WithError(err).WithField("topic", filter).Warn("MQTT resubscribe failed")
		}
	}
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// PublishAvailability publishes the retained online/offline status.
func (c *Client) PublishAvailability(online bool) error {
	status := "offline"
	if online {
		status = "online"
	}
	return c.Publish(c.topics.Availability(), []byte(status), true)
}

// Disconnect marks the agent offline and disconnects.
func (c *Client) Disconnect(quiesce uint) {
	if err := c.PublishAvailability(false); err != nil {
		c.logger.WithError(err).Debug("Failed to publish offline status")
	}
	c.client.Disconnect(quiesce)
	c.logger.Debug("MQTT client disconnected")
}

// cleanURL removes credentials from URL for logging.
func cleanURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	if parsed.User != nil {
		parsed.User = url.UserPassword("***", "***")
	}
	return parsed.String()
}
