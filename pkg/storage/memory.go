package storage

import (
	"context"
	"fmt"
	"sync"

	"pixelforge/pkg/errutil"
)

// MemoryStore is an in-process ObjectStore used by tests and local runs.
// Uploaded content round-trips byte-identical.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	data        []byte
	contentType string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memoryObject)}
}

func (s *MemoryStore) Download(ctx context.Context, bucket, key string) ([]byte, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[bucket+"/"+key]
	if !ok {
		return nil, "", errutil.Storage(nil, "object %s/%s does not exist", bucket, key)
	}

	data := make([]byte, len(obj.data))
	copy(data, obj.data)
	return data, obj.contentType, nil
}

func (s *MemoryStore) Upload(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]byte, len(data))
	copy(stored, data)
	s.objects[bucket+"/"+key] = memoryObject{data: stored, contentType: contentType}

	return fmt.Sprintf("memory://%s/%s", bucket, key), nil
}
