package events

import (
	"context"
	"sync"
)

// MemoryPublisher records events in order for unit tests.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []*Event
}

func NewMemory() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Publish(_ context.Context, ev *Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := *ev
	p.events = append(p.events, &cp)
	return nil
}

// Events returns everything published so far.
func (p *MemoryPublisher) Events() []*Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Event(nil), p.events...)
}

// ByType filters published events by type.
func (p *MemoryPublisher) ByType(eventType string) []*Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*Event
	for _, ev := range p.events {
		if ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// Reset clears the recording.
func (p *MemoryPublisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}
