package importer

import "sync"

// ResolutionMap maps natural keys to synthetic keys for one submission.
//
// It starts empty, is filled from store lookups and from keys assigned by the executor,
// and is dropped with the submission. Nothing in it outlives a pipeline run.
type ResolutionMap struct {
	mu      sync.RWMutex
	keys    map[EntityKind]map[string]string
	missing map[EntityKind]map[string]struct{}
}

// NewResolutionMap returns an empty map.
func NewResolutionMap() *ResolutionMap {
	return &ResolutionMap{
		keys:    make(map[EntityKind]map[string]string),
		missing: make(map[EntityKind]map[string]struct{}),
	}
}

// Get returns the synthetic key for a natural key. known is true when the key is
// either mapped or was already confirmed absent from the store.
func (m *ResolutionMap) Get(key NaturalKey) (id string, found bool, known bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := key.ID()
	if id, ok := m.keys[key.Kind][s]; ok {
		return id, true, true
	}
	if _, ok := m.missing[key.Kind][s]; ok {
		return "", false, true
	}
	return "", false, false
}

// Assign records a synthetic key, replacing any earlier assignment or miss.
func (m *ResolutionMap) Assign(key NaturalKey, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := key.ID()
	if m.keys[key.Kind] == nil {
		m.keys[key.Kind] = make(map[string]string)
	}
	m.keys[key.Kind][s] = id
	delete(m.missing[key.Kind], s)
}

// MarkMissing remembers that the store has no record for the key.
func (m *ResolutionMap) MarkMissing(key NaturalKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := key.ID()
	if _, ok := m.keys[key.Kind][s]; ok {
		return
	}
	if m.missing[key.Kind] == nil {
		m.missing[key.Kind] = make(map[string]struct{})
	}
	m.missing[key.Kind][s] = struct{}{}
}

// Len returns the number of mapped keys for a kind.
func (m *ResolutionMap) Len(kind EntityKind) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.keys[kind])
}
