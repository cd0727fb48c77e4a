package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// Tx buffers writes over a Store. Reads see the buffered writes first.
// Nothing reaches the Store until Commit.
type Tx struct {
	base   Store
	writes map[string][]byte
}

func Begin(base Store) *Tx {
	return &Tx{
		base:   base,
		writes: make(map[string][]byte),
	}
}

// Get decodes the record at key into v. It reports false when the key is absent.
func (tx *Tx) Get(ctx context.Context, key Key, v interface{}) (bool, error) {
	raw, ok := tx.writes[key.String()]
	if !ok {
		var err error
		raw, ok, err = tx.base.Get(ctx, key.String())
		if err != nil {
			return false, fmt.Errorf("store get %s: %w", key, err)
		}
		if !ok {
			return false, nil
		}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// Put encodes v and buffers it under key.
func (tx *Tx) Put(key Key, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	tx.writes[key.String()] = raw
	return nil
}

// Writes returns the buffered writes sorted by key.
func (tx *Tx) Writes() []Write {
	out := make([]Write, 0, len(tx.writes))
	for k, v := range tx.writes {
		out = append(out, Write{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Dirty reports whether any write is buffered.
func (tx *Tx) Dirty() bool {
	return len(tx.writes) > 0
}

// Commit applies all buffered writes atomically.
func (tx *Tx) Commit(ctx context.Context) error {
	if len(tx.writes) == 0 {
		return nil
	}
	if err := tx.base.Apply(ctx, tx.Writes()); err != nil {
		return fmt.Errorf("store apply: %w", err)
	}
	tx.writes = make(map[string][]byte)
	return nil
}
