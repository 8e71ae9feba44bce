package timing

import (
	"context"
	"errors"
	"sync"

	"github.com/nats-io/nats.go/jetstream"
)

// KVBackend adapts a JetStream key-value bucket to the Backend interface.
// Bucket TTL handles record expiry.
type KVBackend struct {
	kv jetstream.KeyValue
}

// NewKVBackend wraps a JetStream KV bucket.
func NewKVBackend(kv jetstream.KeyValue) *KVBackend {
	return &KVBackend{kv: kv}
}

func (b *KVBackend) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := b.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return entry.Value(), nil
}

func (b *KVBackend) Put(ctx context.Context, key string, value []byte) error {
	_, err := b.kv.Put(ctx, key, value)
	return err
}

func (b *KVBackend) Keys(ctx context.Context) ([]string, error) {
	keys, err := b.kv.Keys(ctx)
	if errors.Is(err, jetstream.ErrNoKeysFound) {
		return nil, nil
	}
	return keys, err
}

// MemoryBackend is an in-process Backend used by tests and local development.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string][]byte)}
}

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	value, ok := b.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return value, nil
}

func (b *MemoryBackend) Put(_ context.Context, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	copied := make([]byte, len(value))
	copy(copied, value)
	b.data[key] = copied
	return nil
}

func (b *MemoryBackend) Keys(_ context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := make([]string, 0, len(b.data))
	for key := range b.data {
		keys = append(keys, key)
	}
	return keys, nil
}
