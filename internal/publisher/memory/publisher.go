// Package memory records listing notifications in memory for dry runs and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"sync"
)

// Message is one recorded publish in the shape it would have on the wire.
// Payload keeps the original value for type assertions in tests.
type Message struct {
	ID         string
	Topic      string
	Data       []byte
	Attributes map[string]string
	Payload    any
}

// Publisher records messages per topic.
type Publisher struct {
	mu       sync.Mutex
	messages []Message
	seq      int
	failures []error
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailNext makes the next len(errs) Publish calls return errs in order.
func (p *Publisher) FailNext(errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = append(p.failures, errs...)
}

// Publish JSON-encodes payload, copies its attributes when it has any, and
// records the message.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	attrs := map[string]string{}
	if a, ok := payload.(interface{ Attributes() map[string]string }); ok {
		maps.Copy(attrs, a.Attributes())
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.failures) > 0 {
		err := p.failures[0]
		p.failures = p.failures[1:]
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	p.seq++
	id := fmt.Sprintf("memory-%d", p.seq)
	p.messages = append(p.messages, Message{ID: id, Topic: topic, Data: data, Attributes: attrs, Payload: payload})
	return id, nil
}

// Messages returns a copy of every recorded message.
func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.messages...)
}

// Topic returns the messages recorded for topic.
func (p *Publisher) Topic(topic string) []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Message
	for _, m := range p.messages {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}
