package cache

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/modelproof/xaibench/internal/model"

	"go.uber.org/zap"
)

// Memory is the in-process cache backend. Eviction is a resource concern,
// not a correctness one: when maxEntries is exceeded the oldest unpinned
// entries go first, and pinned keys are never evicted.
type Memory struct {
	mu         sync.RWMutex
	entries    map[string]*model.Explanation
	order      []string // insertion order, oldest first
	pins       map[string]int
	maxEntries int
	hits       atomic.Int64
}

// NewMemory creates an in-process cache. maxEntries <= 0 disables eviction.
func NewMemory(maxEntries int) *Memory {
	return &Memory{
		entries:    make(map[string]*model.Explanation),
		pins:       make(map[string]int),
		maxEntries: maxEntries,
	}
}

func (m *Memory) Get(_ context.Context, key string) (*model.Explanation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	exp, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	if err := validate(exp); err != nil {
		// Corrupt artifacts are dropped and reported as a miss.
		delete(m.entries, key)
		zap.L().Warn("cache: dropping corrupt artifact", zap.String("key", key), zap.Error(err))
		return nil, nil
	}
	exp.CacheHits++
	m.hits.Add(1)
	cp := *exp
	return &cp, nil
}

func (m *Memory) Put(_ context.Context, key string, exp *model.Explanation) error {
	if err := validate(exp); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[key]; !exists {
		m.order = append(m.order, key)
	}
	cp := *exp
	m.entries[key] = &cp
	m.evictLocked()
	return nil
}

func (m *Memory) Pin(key string) {
	m.mu.Lock()
	m.pins[key]++
	m.mu.Unlock()
}

func (m *Memory) Unpin(key string) {
	m.mu.Lock()
	if m.pins[key] > 1 {
		m.pins[key]--
	} else {
		delete(m.pins, key)
	}
	m.mu.Unlock()
}

func (m *Memory) Hits() int64 { return m.hits.Load() }

// Len reports the number of cached artifacts.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *Memory) evictLocked() {
	if m.maxEntries <= 0 || len(m.entries) <= m.maxEntries {
		return
	}
	kept := m.order[:0]
	for _, key := range m.order {
		if len(m.entries) <= m.maxEntries {
			kept = append(kept, key)
			continue
		}
		if m.pins[key] > 0 {
			kept = append(kept, key)
			continue
		}
		if _, ok := m.entries[key]; ok {
			delete(m.entries, key)
		}
	}
	m.order = kept
}

var _ Cache = (*Memory)(nil)
