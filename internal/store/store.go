package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Record kinds used as the first half of every key.
const (
	KindConfig      = "config"
	KindPool        = "pool"
	KindPosition    = "position"
	KindParticipant = "participant"
	KindAsset       = "asset"
	KindMember      = "member"
	KindChain       = "chain"
)

// Key namespaces a record by (kind, id).
type Key struct {
	Kind string
	ID   string
}

func NewKey(kind, id string) Key {
	return Key{Kind: kind, ID: id}
}

func (k Key) String() string {
	return k.Kind + "/" + k.ID
}

// Write is a single buffered mutation.
type Write struct {
	Key   string
	Value []byte
}

// Store is the persistent key-value collaborator. Apply must persist all
// writes or none of them.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Apply(ctx context.Context, writes []Write) error
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (m *MemoryStore) Apply(_ context.Context, writes []Write) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range writes {
		if w.Key == "" {
			return fmt.Errorf("empty key in write set")
		}
	}
	for _, w := range writes {
		v := make([]byte, len(w.Value))
		copy(v, w.Value)
		m.data[w.Key] = v
	}
	return nil
}

// Len returns the number of stored keys.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Snapshot returns a sorted copy of all entries.
func (m *MemoryStore) Snapshot() []Write {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Write, 0, len(m.data))
	for k, v := range m.data {
		c := make([]byte, len(v))
		copy(c, v)
		out = append(out, Write{Key: k, Value: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
