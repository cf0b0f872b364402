package catalog

import (
	"context"
	"sync"
)

// Static is an in-memory registry.
type Static struct {
	mu      sync.RWMutex
	entries map[Kind]map[string]Status
}

func NewStatic() *Static {
	return &Static{entries: map[Kind]map[string]Status{}}
}

func (s *Static) Put(kind Kind, id string, status Status) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries[kind] == nil {
		s.entries[kind] = map[string]Status{}
	}
	s.entries[kind][id] = status
	return s
}

func (s *Static) EntityExists(ctx context.Context, kind Kind, id string) (Status, error) {
	if err := ctx.Err(); err != nil {
		return StatusNotFound, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if status, ok := s.entries[kind][id]; ok {
		return status, nil
	}
	return StatusNotFound, nil
}
