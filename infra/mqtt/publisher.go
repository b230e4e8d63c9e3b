package mqtt

import (
	"fmt"
	"sync"
)

// Publisher sends raw payloads to a topic.
type Publisher interface {
	Publish(topic string, qos byte, payload []byte) error
}

// Subscriber routes messages of a topic filter to a handler.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler MessageHandler) error
}

// Message is a payload captured by MockPublisher.
type Message struct {
	Topic   string
	QoS     byte
	Payload []byte
}

// MockPublisher is a simple in-memory Publisher and Subscriber used in tests.
// Publishing to a topic with a registered exact-match handler delivers the
// message synchronously.
type MockPublisher struct {
	Messages   []Message
	FailTopics map[string]bool
	handlers   map[string]MessageHandler
	mu         sync.Mutex
}

// NewMockPublisher creates a new MockPublisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		FailTopics: make(map[string]bool),
		handlers:   make(map[string]MessageHandler),
	}
}

// Publish records the message or returns an error if configured to fail.
func (m *MockPublisher) Publish(topic string, qos byte, payload []byte) error {
	m.mu.Lock()
	if m.FailTopics[topic] {
		m.mu.Unlock()
		return fmt.Errorf("publish %s failed", topic)
	}
	cp := append([]byte(nil), payload...)
	m.Messages = append(m.Messages, Message{Topic: topic, QoS: qos, Payload: cp})
	h := m.handlers[topic]
	m.mu.Unlock()
	if h != nil {
		h(topic, cp)
	}
	return nil
}

// Subscribe registers handler for an exact topic.
func (m *MockPublisher) Subscribe(topic string, _ byte, handler MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

// Published returns a copy of the recorded messages.
func (m *MockPublisher) Published() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.Messages...)
}
