// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/umbra/earnings-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	earnings    map[generic.ProcessorID][]generic.Earning
	idempotency map[string]bool
}

func NewMemory() *Memory {
	return &Memory{
		earnings:    make(map[generic.ProcessorID][]generic.Earning),
		idempotency: make(map[string]bool),
	}
}

// Append adds a single earning. Append-only.
func (m *Memory) Append(_ context.Context, e generic.Earning) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.IdempotencyKey != "" && m.idempotency[e.IdempotencyKey] {
		return generic.ErrDuplicateIdempotencyKey
	}
	m.appendLocked(e)
	return nil
}

// AppendBatch adds multiple earnings atomically.
func (m *Memory) AppendBatch(_ context.Context, es []generic.Earning) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check all idempotency keys first, including duplicates inside the batch
	seen := make(map[string]bool)
	for _, e := range es {
		if e.IdempotencyKey == "" {
			continue
		}
		if m.idempotency[e.IdempotencyKey] || seen[e.IdempotencyKey] {
			return generic.ErrDuplicateIdempotencyKey
		}
		seen[e.IdempotencyKey] = true
	}

	for _, e := range es {
		m.appendLocked(e)
	}
	return nil
}

func (m *Memory) appendLocked(e generic.Earning) {
	es := m.earnings[e.ProcessorID]

	// Binary search for insertion point, keeping EffectiveAt order
	i := sort.Search(len(es), func(i int) bool {
		return es[i].EffectiveAt.After(e.EffectiveAt)
	})

	es = append(es, generic.Earning{})
	copy(es[i+1:], es[i:])
	es[i] = e
	m.earnings[e.ProcessorID] = es

	if e.IdempotencyKey != "" {
		m.idempotency[e.IdempotencyKey] = true
	}
}

func (m *Memory) Load(_ context.Context, pid generic.ProcessorID) ([]generic.Earning, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]generic.Earning, len(m.earnings[pid]))
	copy(result, m.earnings[pid])
	return result, nil
}

func (m *Memory) LoadRange(_ context.Context, pid generic.ProcessorID, from, to time.Time) ([]generic.Earning, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []generic.Earning
	for _, e := range m.earnings[pid] {
		if !e.EffectiveAt.Before(from) && e.EffectiveAt.Before(to) {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *Memory) Exists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}
