package testutil

import (
	"encoding/json"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type FakeMessage struct {
	TopicName string
	Body      []byte
	Retain    bool
}

func (m FakeMessage) Duplicate() bool   { return false }
func (m FakeMessage) Qos() byte         { return 0 }
func (m FakeMessage) Retained() bool    { return m.Retain }
func (m FakeMessage) Topic() string     { return m.TopicName }
func (m FakeMessage) MessageID() uint16 { return 0 }
func (m FakeMessage) Payload() []byte   { return m.Body }
func (m FakeMessage) Ack()              {}

type FakeToken struct {
	Err error
}

func (t FakeToken) Done() <-chan struct{} {
	done := make(chan struct{})
	close(done)
	return done
}

func (t FakeToken) Wait() bool                       { return true }
func (t FakeToken) WaitTimeout(_ time.Duration) bool { return true }
func (t FakeToken) Error() error                     { return t.Err }

type PublishCall struct {
	Topic   string
	QoS     byte
	Retain  bool
	Payload []byte
}

// FakeMQTTClient is an in-memory mqtt.Client. Published messages are recorded
// and Deliver routes a message to the handler subscribed on that exact topic
// (or a trailing "+" wildcard).
type FakeMQTTClient struct {
	mu        sync.Mutex
	Publishes []PublishCall
	subs      map[string]mqtt.MessageHandler

	ConnectErr   error
	SubscribeErr error
	Disconnected bool
}

func NewFakeMQTTClient() *FakeMQTTClient {
	return &FakeMQTTClient{subs: map[string]mqtt.MessageHandler{}}
}

func (c *FakeMQTTClient) IsConnected() bool      { return true }
func (c *FakeMQTTClient) IsConnectionOpen() bool { return true }
func (c *FakeMQTTClient) Connect() mqtt.Token    { return FakeToken{Err: c.ConnectErr} }
func (c *FakeMQTTClient) Disconnect(_ uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Disconnected = true
}

func (c *FakeMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	var b []byte
	switch v := payload.(type) {
	case []byte:
		b = append([]byte(nil), v...)
	case string:
		b = []byte(v)
	default:
		b, _ = json.Marshal(v)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Publishes = append(c.Publishes, PublishCall{Topic: topic, QoS: qos, Retain: retained, Payload: b})
	return FakeToken{}
}

func (c *FakeMQTTClient) Subscribe(topic string, _ byte, h mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SubscribeErr == nil {
		c.subs[topic] = h
	}
	return FakeToken{Err: c.SubscribeErr}
}

func (c *FakeMQTTClient) SubscribeMultiple(filters map[string]byte, h mqtt.MessageHandler) mqtt.Token {
	for topic, qos := range filters {
		c.Subscribe(topic, qos, h)
	}
	return FakeToken{Err: c.SubscribeErr}
}

func (c *FakeMQTTClient) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.subs, t)
	}
	return FakeToken{}
}

func (c *FakeMQTTClient) AddRoute(_ string, _ mqtt.MessageHandler) {}
func (c *FakeMQTTClient) OptionsReader() mqtt.ClientOptionsReader  { return mqtt.ClientOptionsReader{} }

// Subscribed reports whether a handler is registered for topic.
func (c *FakeMQTTClient) Subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[topic]
	return ok
}

// Deliver hands a message to the matching subscriber. It returns false when
// nobody is subscribed.
func (c *FakeMQTTClient) Deliver(topic string, payload []byte, retained bool) bool {
	c.mu.Lock()
	h, ok := c.subs[topic]
	if !ok {
		for filter, fh := range c.subs {
			if n := len(filter); n > 0 && filter[n-1] == '+' && len(topic) >= n-1 && topic[:n-1] == filter[:n-1] {
				h, ok = fh, true
				break
			}
		}
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	h(c, FakeMessage{TopicName: topic, Body: payload, Retain: retained})
	return true
}

// Published returns a copy of every publish on topic.
func (c *FakeMQTTClient) Published(topic string) []PublishCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []PublishCall
	for _, p := range c.Publishes {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}
