package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// FileStore is a YAML-file-backed Store. The whole file is rewritten on
// every mutation; reads serve from memory.
type FileStore struct {
	path string

	mu   sync.Mutex
	data fileData
}

type fileData struct {
	Resources []Resource                 `yaml:"resources"`
	Tasks     map[string]map[string]bool `yaml:"tasks"`
}

// OpenFile loads (or initializes) a FileStore at path. A missing file is
// an empty store, created on first mutation.
func OpenFile(path string) (*FileStore, error) {
	s := &FileStore{path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		s.data.Tasks = make(map[string]map[string]bool)
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading resource store: %w", err)
	}
	if err := yaml.Unmarshal(data, &s.data); err != nil {
		return nil, fmt.Errorf("parsing resource store: %w", err)
	}
	if s.data.Tasks == nil {
		s.data.Tasks = make(map[string]map[string]bool)
	}
	return s, nil
}

func (s *FileStore) EffectiveSet(taskID string) ([]Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resources := make([]Resource, len(s.data.Resources))
	copy(resources, s.data.Resources)
	sort.Slice(resources, func(i, j int) bool { return resources[i].Name < resources[j].Name })
	return effective(resources, s.data.Tasks[taskID]), nil
}

func (s *FileStore) SetDefaultEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.data.Resources {
		if s.data.Resources[i].Name == name {
			s.data.Resources[i].Enabled = enabled
			return s.save()
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownResource, name)
}

func (s *FileStore) SetTaskOverride(taskID, name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	for i := range s.data.Resources {
		if s.data.Resources[i].Name == name {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrUnknownResource, name)
	}

	if s.data.Tasks[taskID] == nil {
		s.data.Tasks[taskID] = make(map[string]bool)
	}
	s.data.Tasks[taskID][name] = enabled
	return s.save()
}

// AddResource defines a new resource or replaces an existing definition
// with the same name.
func (s *FileStore) AddResource(r Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.data.Resources {
		if s.data.Resources[i].Name == r.Name {
			s.data.Resources[i] = r
			return s.save()
		}
	}
	s.data.Resources = append(s.data.Resources, r)
	return s.save()
}

func (s *FileStore) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("creating store directory: %w", err)
	}
	data, err := yaml.Marshal(&s.data)
	if err != nil {
		return fmt.Errorf("encoding resource store: %w", err)
	}
	return os.WriteFile(s.path, data, 0644)
}
