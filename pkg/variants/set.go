package variants

import (
	"fmt"
	"sort"
	"sync/atomic"
)

// RegistrySet holds the current registries keyed by objective ID. Readers
// get an immutable snapshot; Replace swaps the whole set atomically so an
// evaluation pass never observes a half-applied reload.
type RegistrySet struct {
	current atomic.Pointer[map[string]*VariantRegistry]
}

// NewRegistrySet creates a set seeded with the given registries.
func NewRegistrySet(registries map[string]*VariantRegistry) *RegistrySet {
	s := &RegistrySet{}
	s.Replace(registries)
	return s
}

// Replace installs a new snapshot.
func (s *RegistrySet) Replace(registries map[string]*VariantRegistry) {
	snapshot := make(map[string]*VariantRegistry, len(registries))
	for id, reg := range registries {
		snapshot[id] = reg
	}
	s.current.Store(&snapshot)
}

// Get returns the registry for an objective.
func (s *RegistrySet) Get(objectiveID string) (*VariantRegistry, error) {
	snapshot := s.current.Load()
	if snapshot != nil {
		if reg, ok := (*snapshot)[objectiveID]; ok {
			return reg, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrRegistryNotFound, objectiveID)
}

// ObjectiveIDs returns the known objective IDs in sorted order.
func (s *RegistrySet) ObjectiveIDs() []string {
	snapshot := s.current.Load()
	if snapshot == nil {
		return nil
	}
	ids := make([]string, 0, len(*snapshot))
	for id := range *snapshot {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Reload loads path and replaces the snapshot. On error the previous
// snapshot stays in place.
func (s *RegistrySet) Reload(path string) error {
	registries, err := LoadRegistries(path)
	if err != nil {
		return err
	}
	s.Replace(registries)
	return nil
}
