// Package bus provides message bus adapters.
package bus

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/jobrunner/mapshell/internal/ports/output"
)

// Handler receives a published message.
type Handler func(topic string, payload any)

type subscription struct {
	id      uint64
	pattern string
	handler Handler
}

// Memory is the in-process message bus. Delivery is synchronous and in
// subscription order.
type Memory struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
	logger *slog.Logger
}

var _ output.EventPublisher = (*Memory)(nil)

// NewMemory creates an empty bus.
func NewMemory(logger *slog.Logger) *Memory {
	return &Memory{logger: logger}
}

// Subscribe registers handler for topics matching pattern. A pattern is an
// exact topic, "*" for every topic, or "prefix.*" for every topic below
// prefix. The returned function removes the subscription.
func (b *Memory) Subscribe(pattern string, handler Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, pattern: pattern, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Memory) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish implements output.EventPublisher. A panicking handler is logged
// and does not stop delivery to the others.
func (b *Memory) Publish(topic string, payload any) {
	b.mu.RLock()
	targets := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if Match(s.pattern, topic) {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range targets {
		b.deliver(s, topic, payload)
	}
}

func (b *Memory) deliver(s subscription, topic string, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("message handler panicked", "topic", topic, "pattern", s.pattern, "panic", r)
		}
	}()
	s.handler(topic, payload)
}

// Match reports whether topic matches a subscription pattern.
func Match(pattern, topic string) bool {
	switch {
	case pattern == "*":
		return true
	case strings.HasSuffix(pattern, ".*"):
		return strings.HasPrefix(topic, strings.TrimSuffix(pattern, "*"))
	default:
		return pattern == topic
	}
}

// Fanout publishes every message to several publishers in order.
type Fanout []output.EventPublisher

// Publish implements output.EventPublisher.
func (f Fanout) Publish(topic string, payload any) {
	for _, p := range f {
		p.Publish(topic, payload)
	}
}
