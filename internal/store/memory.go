package store

import (
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store used by tests and by callers that
// manage resource definitions themselves.
type MemoryStore struct {
	mu        sync.Mutex
	resources map[string]Resource
	overrides map[string]map[string]bool
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		resources: make(map[string]Resource),
		overrides: make(map[string]map[string]bool),
	}
}

func (s *MemoryStore) Add(r Resource) {
	s.mu.Lock()
	s.resources[r.Name] = r
	s.mu.Unlock()
}

func (s *MemoryStore) Remove(name string) {
	s.mu.Lock()
	delete(s.resources, name)
	s.mu.Unlock()
}

func (s *MemoryStore) EffectiveSet(taskID string) ([]Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.resources))
	for name := range s.resources {
		names = append(names, name)
	}
	sort.Strings(names)

	resources := make([]Resource, 0, len(names))
	for _, name := range names {
		resources = append(resources, s.resources[name])
	}
	return effective(resources, s.overrides[taskID]), nil
}

func (s *MemoryStore) SetDefaultEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.resources[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownResource, name)
	}
	r.Enabled = enabled
	s.resources[name] = r
	return nil
}

func (s *MemoryStore) SetTaskOverride(taskID, name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.resources[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownResource, name)
	}
	if s.overrides[taskID] == nil {
		s.overrides[taskID] = make(map[string]bool)
	}
	s.overrides[taskID][name] = enabled
	return nil
}
