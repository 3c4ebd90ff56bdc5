// Package photos stores uploaded ID photos.
package photos

import (
	"bytes"
	"context"
	"sync"

	"agegate/pkg/platform/sentinel"
)

type object struct {
	data        []byte
	contentType string
}

type InMemoryStore struct {
	mu      sync.RWMutex
	objects map[string]object
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{objects: make(map[string]object)}
}

func (s *InMemoryStore) Put(_ context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = object{data: bytes.Clone(data), contentType: contentType}
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return bytes.Clone(obj.data), nil
}

// ContentType returns the content type a photo was stored with.
func (s *InMemoryStore) ContentType(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	return obj.contentType, ok
}

// Len is the number of stored photos.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
