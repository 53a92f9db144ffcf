// Package memory contains an in-memory result publisher for tests and dry runs.
package memory

import (
	"context"
	"sync"
)

// Publisher stores published bodies for inspection. Fail, when set, is
// consulted before each publish and its error returned instead.
type Publisher struct {
	mu       sync.RWMutex
	messages [][]byte
	Fail     func(n int, body []byte) error
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records a copy of body.
func (p *Publisher) Publish(_ context.Context, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Fail != nil {
		if err := p.Fail(len(p.messages), body); err != nil {
			return err
		}
	}
	p.messages = append(p.messages, append([]byte(nil), body...))
	return nil
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() [][]byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([][]byte, len(p.messages))
	copy(out, p.messages)
	return out
}
