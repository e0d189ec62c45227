// Package memory provides an in-memory Store implementation (for testing/dev).
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/strata/billing-engine/store"
)

type Memory struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

func New() *Memory {
	return &Memory{docs: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.docs[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *Memory) ScanPrefix(_ context.Context, prefix string) ([]store.Doc, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k := range m.docs {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	docs := make([]store.Doc, 0, len(keys))
	for _, k := range keys {
		data := make([]byte, len(m.docs[k]))
		copy(data, m.docs[k])
		docs = append(docs, store.Doc{Key: k, Data: data})
	}
	return docs, nil
}

// Apply checks every guard before touching the map, so a failed guard leaves
// the store untouched (all-or-nothing).
func (m *Memory) Apply(_ context.Context, ops []store.WriteOp) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, op := range ops {
		_, exists := m.docs[op.Key]
		if op.RequireExists && !exists {
			return &store.GuardError{Key: op.Key, Err: store.ErrNotFound}
		}
		if op.RequireAbsent && exists {
			return &store.GuardError{Key: op.Key, Err: store.ErrAlreadyExists}
		}
	}

	for _, op := range ops {
		data := make([]byte, len(op.Data))
		copy(data, op.Data)
		m.docs[op.Key] = data
	}
	return nil
}
