// Package memory implements an in-memory publisher for development/testing.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Message is one published payload, retained for assertions.
type Message struct {
	Topic string
	Data  []byte
}

// Publisher records published messages in memory.
type Publisher struct {
	mu       sync.Mutex
	nextID   int
	messages []Message
}

// New constructs a Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish marshals the payload to JSON and appends it to the message log.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	p.messages = append(p.messages, Message{Topic: topic, Data: data})
	return fmt.Sprintf("mem-%d", p.nextID), nil
}

// Messages returns a copy of everything published so far.
func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}
