package storage

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"
)

type memoryObject struct {
	data        []byte
	contentType string
}

// Memory is an in-process store for tests and ephemeral deployments
type Memory struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{objects: make(map[string]memoryObject)}
}

// Backend returns the backend type identifier
func (m *Memory) Backend() string {
	return "memory"
}

// Get returns a copy of the stored bytes
func (m *Memory) Get(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := clean(path)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	return append([]byte(nil), obj.data...), nil
}

// Put stores a copy of data
func (m *Memory) Put(ctx context.Context, path string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := clean(path)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[p] = memoryObject{data: append([]byte(nil), data...), contentType: contentType}
	return nil
}

// SignedURL returns a memory:// URL; there is nothing to sign in-process
func (m *Memory) SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	p, err := clean(path)
	if err != nil {
		return "", err
	}
	m.mu.RLock()
	_, ok := m.objects[p]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	return (&url.URL{Scheme: "memory", Path: "/" + p, RawQuery: "ttl=" + ttl.String()}).String(), nil
}

// ContentType returns the content type an object was stored with
func (m *Memory) ContentType(path string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.objects[NormalizePath(path)].contentType
}

// Count returns the number of stored objects
func (m *Memory) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
