package mqttio

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

type ClientConfig struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
}

type subscription struct {
	qos     byte
	handler mqtt.MessageHandler
}

// Conn is a paho client shared by the sensor and the actuator. Subscriptions
// are replayed after every reconnect.
type Conn struct {
	client mqtt.Client
	log    *logrus.Entry

	mu   sync.Mutex
	subs map[string]subscription
}

// Dial connects to the broker and blocks until the first connection
// succeeds or fails.
func Dial(cfg ClientConfig, log *logrus.Entry) (*Conn, error) {
	if cfg.BrokerURL == "" {
		cfg.BrokerURL = "tcp://localhost:1883"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "thermopid-io"
	}
	c := newConn(log)

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(2 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.OnConnect = c.resubscribe
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		c.log.WithError(err).Warn("mqtt connection lost")
	}

	c.client = mqtt.NewClient(opts)
	tok := c.client.Connect()
	tok.Wait()
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return c, nil
}

// NewConn wraps an already connected client.
func NewConn(client mqtt.Client, log *logrus.Entry) *Conn {
	c := newConn(log)
	c.client = client
	return c
}

func newConn(log *logrus.Entry) *Conn {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Conn{log: log.WithField("component", "mqttio"), subs: map[string]subscription{}}
}

func (c *Conn) Client() mqtt.Client { return c.client }

func (c *Conn) Subscribe(topic string, qos byte, h mqtt.MessageHandler) error {
	c.mu.Lock()
	c.subs[topic] = subscription{qos: qos, handler: h}
	c.mu.Unlock()

	tok := c.client.Subscribe(topic, qos, h)
	tok.Wait()
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", topic, err)
	}
	return nil
}

func (c *Conn) Unsubscribe(topic string) {
	c.mu.Lock()
	delete(c.subs, topic)
	c.mu.Unlock()
	c.client.Unsubscribe(topic)
}

func (c *Conn) Publish(topic string, qos byte, retain bool, payload []byte) mqtt.Token {
	return c.client.Publish(topic, qos, retain, payload)
}

func (c *Conn) Close() {
	c.client.Disconnect(250)
}

func (c *Conn) resubscribe(cl mqtt.Client) {
	c.mu.Lock()
	subs := make(map[string]subscription, len(c.subs))
	for t, s := range c.subs {
		subs[t] = s
	}
	c.mu.Unlock()

	for topic, s := range subs {
		tok := cl.Subscribe(topic, s.qos, s.handler)
		tok.Wait()
		if err := tok.Error(); err != nil {
			c.log.WithError(err).WithField("topic", topic).Error("resubscribe failed")
		}
	}
	c.log.WithField("subscriptions", len(subs)).Info("mqtt connected")
}
