package nats

import (
	"context"
	"sync"
)

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu           sync.RWMutex
	published    []*ActivityMessage
	seenIDs      map[string]bool
	publishError error
	closed       bool
}

// NewMockPublisher creates a new mock publisher for testing.
// Like the real stream, it drops messages whose ID it has already seen.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		published: make([]*ActivityMessage, 0),
		seenIDs:   make(map[string]bool),
	}
}

// PublishActivity records the message and returns any configured error.
func (m *MockPublisher) PublishActivity(ctx context.Context, msg *ActivityMessage) error {
	_, err := m.record(msg)
	return err
}

// PublishActivityBatch records the messages and returns any configured error.
// Duplicates are not counted.
func (m *MockPublisher) PublishActivityBatch(ctx context.Context, msgs []*ActivityMessage) (int, error) {
	published := 0
	for _, msg := range msgs {
		duplicate, err := m.record(msg)
		if err != nil {
			return published, err
		}
		if !duplicate {
			published++
		}
	}
	return published, nil
}

func (m *MockPublisher) record(msg *ActivityMessage) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return false, m.publishError
	}

	if m.seenIDs[msg.MsgID()] {
		return true, nil
	}
	m.seenIDs[msg.MsgID()] = true
	m.published = append(m.published, msg)
	return false, nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetPublished returns all published messages (for testing).
func (m *MockPublisher) GetPublished() []*ActivityMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Return a copy to avoid race conditions
	msgs := make([]*ActivityMessage, len(m.published))
	copy(msgs, m.published)
	return msgs
}

// GetPublishedCount returns the number of published messages.
func (m *MockPublisher) GetPublishedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.published)
}

// GetPublishedForMint returns messages published for a specific mint.
func (m *MockPublisher) GetPublishedForMint(mint string) []*ActivityMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := make([]*ActivityMessage, 0)
	for _, msg := range m.published {
		if msg.Mint == mint {
			msgs = append(msgs, msg)
		}
	}
	return msgs
}

// SetPublishError configures the mock to return an error on PublishActivity.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// Reset clears all published messages and errors.
func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = make([]*ActivityMessage, 0)
	m.seenIDs = make(map[string]bool)
	m.publishError = nil
	m.closed = false
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
