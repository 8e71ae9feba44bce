// Package state tracks per-conversation AI state across turns.
package state

import (
	"context"
	"errors"
	"sync"

	"github.com/nats-io/nats.go/jetstream"
)

var (
	// ErrNotFound is returned when a conversation has no stored state.
	ErrNotFound = errors.New("conversation state not found")

	// ErrUnavailable signals the backing store is unreachable. A
	// conversation cannot safely proceed without its state, so this
	// propagates to the caller as a hard failure.
	ErrUnavailable = errors.New("state store unavailable")
)

// Backend stores serialized conversation state keyed by conversation ID.
type Backend interface {
	Get(ctx context.Context, conversationID string) ([]byte, error)
	Put(ctx context.Context, conversationID string, value []byte) error
	Delete(ctx context.Context, conversationID string) error
	Close() error
}

// KVBackend stores state in a JetStream key-value bucket. Bucket TTL
// garbage-collects idle conversations; each Put refreshes the entry.
type KVBackend struct {
	kv jetstream.KeyValue
}

// NewKVBackend wraps a JetStream KV bucket.
func NewKVBackend(kv jetstream.KeyValue) *KVBackend {
	return &KVBackend{kv: kv}
}

func (b *KVBackend) Get(ctx context.Context, conversationID string) ([]byte, error) {
	entry, err := b.kv.Get(ctx, conversationID)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Join(ErrUnavailable, err)
	}
	return entry.Value(), nil
}

func (b *KVBackend) Put(ctx context.Context, conversationID string, value []byte) error {
	if _, err := b.kv.Put(ctx, conversationID, value); err != nil {
		return errors.Join(ErrUnavailable, err)
	}
	return nil
}

func (b *KVBackend) Delete(ctx context.Context, conversationID string) error {
	if err := b.kv.Delete(ctx, conversationID); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return errors.Join(ErrUnavailable, err)
	}
	return nil
}

// Close is a no-op; the NATS connection is owned by the process.
func (b *KVBackend) Close() error { return nil }

// MemoryBackend is an in-process Backend used by tests and local development.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string][]byte)}
}

func (b *MemoryBackend) Get(_ context.Context, conversationID string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	value, ok := b.data[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	return value, nil
}

func (b *MemoryBackend) Put(_ context.Context, conversationID string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	copied := make([]byte, len(value))
	copy(copied, value)
	b.data[conversationID] = copied
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, conversationID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.data, conversationID)
	return nil
}

func (b *MemoryBackend) Close() error { return nil }
