package store

import (
	"sync"

	"hermescore/internal/events"
)

// ImportedPool holds events brought in from file imports. They are kept in
// memory for the session only and are never written to the cache store, so
// collected history stays trustworthy. The separation is structural: the
// pool is the only container that accepts imported events.
type ImportedPool struct {
	mu     sync.RWMutex
	events []events.NormalizedEvent
	index  map[string]struct{}
}

func NewImportedPool() *ImportedPool {
	return &ImportedPool{index: make(map[string]struct{})}
}

// Add marks the given events as imported and adds the ones not already in
// the pool. Returns how many were added. The pool shares the query
// pipeline's resident ceiling.
func (p *ImportedPool) Add(evs []events.NormalizedEvent) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	added := 0
	for _, e := range evs {
		if e.ID == "" {
			continue
		}
		if _, dup := p.index[e.ID]; dup {
			continue
		}
		if len(p.events) >= MaxResidentEvents {
			break
		}
		e.Imported = true
		p.events = append(p.events, e)
		p.index[e.ID] = struct{}{}
		added++
	}
	return added
}

// Snapshot returns a copy of the pool contents.
func (p *ImportedPool) Snapshot() []events.NormalizedEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]events.NormalizedEvent, len(p.events))
	copy(out, p.events)
	return out
}

func (p *ImportedPool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.events)
}
