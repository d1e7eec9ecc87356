package delivery

import (
	"context"
	"sync"
)

type publishedMessage struct {
	Topic string
	Data  []byte
}

// MockPublisher records every message handed to Publish.
type MockPublisher struct {
	mu          sync.Mutex
	messages    []publishedMessage
	PublishFunc func(ctx context.Context, topic string, msg []byte) error
}

func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, msg []byte) error {
	m.mu.Lock()
	m.messages = append(m.messages, publishedMessage{Topic: topic, Data: msg})
	m.mu.Unlock()
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, topic, msg)
	}
	return nil
}

func (m *MockPublisher) Messages() []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]publishedMessage, len(m.messages))
	copy(out, m.messages)
	return out
}
