package storage

import (
	"context"
	"sync"
)

type memoryStore struct {
	mu       sync.Mutex
	bindings map[string]string
	audit    []AuditEntry
	closed   bool
}

// NewMemory returns a non-durable Store.
func NewMemory() Store {
	return &memoryStore{bindings: map[string]string{}}
}

func (s *memoryStore) LoadBindings(context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make(map[string]string, len(s.bindings))
	for k, v := range s.bindings {
		out[k] = v
	}
	return out, nil
}

func (s *memoryStore) PutBinding(_ context.Context, scopeID, destinationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.bindings[scopeID] = destinationID
	return nil
}

func (s *memoryStore) DeleteBinding(_ context.Context, scopeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.bindings, scopeID)
	return nil
}

func (s *memoryStore) AppendAudit(_ context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.audit = append(s.audit, e)
	return nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
