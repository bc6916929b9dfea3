package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// ObjectStorage abstracts the avatar object store.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
	// URL returns the public URL serving the stored object.
	URL(key string) string
}

// Memory is an in-memory ObjectStorage used by tests.
type Memory struct {
	mu      sync.Mutex
	objects map[string][]byte
}

var _ ObjectStorage = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

func (m *Memory) EnsureBucket(ctx context.Context) error { return nil }

func (m *Memory) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *Memory) URL(key string) string {
	return fmt.Sprintf("memory://%s", key)
}

// Get returns a stored object; tests use it to assert upload content.
func (m *Memory) Get(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, false
	}
	return bytes.Clone(data), true
}
