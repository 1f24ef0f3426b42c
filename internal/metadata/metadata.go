// Package metadata is the room-scoped key-value boundary shared by every
// peer in a room. Values are opaque JSON documents; validation is the
// reader's job.
package metadata

import (
	"context"
	"errors"
	"slices"
	"sync"
)

var ErrNotFound = errors.New("metadata: key not found")

const (
	StateKey  = "com.ose-tactical-initiative/state"
	RosterKey = "com.ose-tactical-initiative/roster"
)

// Backend reads and writes named entries. OnChange fires for every write
// to key, including the caller's own, with the full latest value (nil
// once deleted).
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Set replaces the value under key. A nil value deletes it.
	Set(ctx context.Context, key string, value []byte) error
	OnChange(key string, fn func(value []byte)) (unsubscribe func())
}

// Memory is an in-process Backend. Listeners run synchronously inside Set,
// in registration order.
type Memory struct {
	mu        sync.Mutex
	values    map[string][]byte
	listeners map[string][]*listener
}

type listener struct {
	fn func([]byte)
}

func NewMemory() *Memory {
	return &Memory{
		values:    make(map[string][]byte),
		listeners: make(map[string][]*listener),
	}
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(v), nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if value == nil {
		delete(m.values, key)
	} else {
		m.values[key] = slices.Clone(value)
	}
	ls := slices.Clone(m.listeners[key])
	m.mu.Unlock()

	for _, l := range ls {
		l.fn(slices.Clone(value))
	}
	return nil
}

func (m *Memory) OnChange(key string, fn func([]byte)) func() {
	l := &listener{fn: fn}
	m.mu.Lock()
	m.listeners[key] = append(m.listeners[key], l)
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.listeners[key] = slices.DeleteFunc(m.listeners[key], func(x *listener) bool { return x == l })
	}
}
