package importer

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// memStore is an in-memory Store keyed by kind and natural key.
type memStore struct {
	mu        sync.Mutex
	records   map[EntityKind]map[string]string
	fields    map[EntityKind]map[string]map[string]interface{}
	seq       int
	lookups   int
	upserts   []string
	failWrite func(kind EntityKind, key NaturalKey) error
	lookupErr error
	inFlight  map[string]int
	overlap   bool
}

func newMemStore() *memStore {
	return &memStore{
		records:  make(map[EntityKind]map[string]string),
		fields:   make(map[EntityKind]map[string]map[string]interface{}),
		inFlight: make(map[string]int),
	}
}

// seed registers an already persisted record.
func (m *memStore) seed(key NaturalKey, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records[key.Kind] == nil {
		m.records[key.Kind] = make(map[string]string)
	}
	m.records[key.Kind][key.ID()] = id
}

func (m *memStore) LookupByNaturalKey(_ context.Context, kind EntityKind, key NaturalKey) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	if m.lookupErr != nil {
		return "", m.lookupErr
	}
	if id, ok := m.records[kind][key.ID()]; ok {
		return id, nil
	}
	return "", ErrNotFound
}

func (m *memStore) UpsertByNaturalKey(_ context.Context, kind EntityKind, key NaturalKey, fields map[string]interface{}) (UpsertResult, error) {
	flight := string(kind) + "|" + key.ID()
	m.mu.Lock()
	m.inFlight[flight]++
	if m.inFlight[flight] > 1 {
		m.overlap = true
	}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.inFlight[flight]--
		m.mu.Unlock()
	}()

	if m.failWrite != nil {
		if err := m.failWrite(kind, key); err != nil {
			return UpsertResult{}, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts = append(m.upserts, flight)
	if m.records[kind] == nil {
		m.records[kind] = make(map[string]string)
		m.fields[kind] = make(map[string]map[string]interface{})
	}
	if m.fields[kind] == nil {
		m.fields[kind] = make(map[string]map[string]interface{})
	}
	m.fields[kind][key.ID()] = fields
	if id, ok := m.records[kind][key.ID()]; ok {
		return UpsertResult{ID: id}, nil
	}
	m.seq++
	id := fmt.Sprintf("%s-%d", kind, m.seq)
	m.records[kind][key.ID()] = id
	return UpsertResult{ID: id, Created: true}, nil
}

func (m *memStore) count(kind EntityKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records[kind])
}

func (m *memStore) id(key NaturalKey) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[key.Kind][key.ID()]
}

func (m *memStore) written(kind EntityKind, key NaturalKey) map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fields[kind][key.ID()]
}

var errConstraint = errors.New("violates check constraint")
