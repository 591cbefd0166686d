package testutil

import (
	"context"
	"encoding/json"
	"sync"
)

// PublishedMessage is one message captured by FakePublisher
type PublishedMessage struct {
	Subject string
	Data    []byte
}

// FakePublisher captures queue publishes for verification
type FakePublisher struct {
	mu       sync.Mutex
	messages []PublishedMessage

	// PublishErr, when set, is returned by every Publish call
	PublishErr error
}

// NewFakePublisher creates an empty fake publisher
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// PublishJSON marshals payload and records it under subject
func (f *FakePublisher) PublishJSON(_ context.Context, subject string, payload any) error {
	if f.PublishErr != nil {
		return f.PublishErr
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, PublishedMessage{Subject: subject, Data: data})
	return nil
}

// Messages returns a copy of every captured message
func (f *FakePublisher) Messages() []PublishedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]PublishedMessage, len(f.messages))
	copy(out, f.messages)
	return out
}

// MessagesFor returns the captured messages published to subject
func (f *FakePublisher) MessagesFor(subject string) []PublishedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []PublishedMessage
	for _, msg := range f.messages {
		if msg.Subject == subject {
			out = append(out, msg)
		}
	}
	return out
}

// Reset discards all captured messages
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = nil
}
