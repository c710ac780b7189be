package capstore

import (
	"context"
	"fmt"
	"sync"

	"capbridge/internal/cap"
	"capbridge/pkg/platform/sentinel"
)

// InMemoryStore keeps CAP records in process memory. It intentionally favors
// clarity over performance.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]cap.Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]cap.Record)}
}

func (s *InMemoryStore) Save(_ context.Context, record cap.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[record.CAPID]; ok {
		return fmt.Errorf("cap record %q: %w", record.CAPID, sentinel.ErrConflict)
	}
	s.records[record.CAPID] = record
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, capID string) (cap.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if record, ok := s.records[capID]; ok {
		return record, nil
	}
	return cap.Record{}, fmt.Errorf("cap record %q: %w", capID, sentinel.ErrNotFound)
}

func (s *InMemoryStore) Exists(_ context.Context, capID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[capID]
	return ok, nil
}
