package storage

import (
	"context"
	"sync"

	"github.com/bkowalcz/pricewatch/internal/models"
)

// MemoryStore is the in-process store used when no Firestore project is
// configured, and by tests.
type MemoryStore struct {
	mu        sync.RWMutex
	selectors map[string]models.LearnedSelector
	records   []models.ExtractionRecord
}

func NewMemory() *MemoryStore {
	return &MemoryStore{selectors: make(map[string]models.LearnedSelector)}
}

func (s *MemoryStore) LoadSelector(_ context.Context, key string) (*models.LearnedSelector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sel, ok := s.selectors[key]
	if !ok {
		return nil, nil
	}
	out := sel
	return &out, nil
}

func (s *MemoryStore) SaveSelector(_ context.Context, key string, sel models.LearnedSelector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectors[key] = sel
	return nil
}

func (s *MemoryStore) DeleteSelector(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.selectors, key)
	return nil
}

func (s *MemoryStore) RecordExtraction(_ context.Context, rec models.ExtractionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// TrimOldRecords drops the oldest records once the slice exceeds the cap.
// Records are appended in order, so the front is oldest.
func (s *MemoryStore) TrimOldRecords(_ context.Context, maxRecords int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) > maxRecords {
		s.records = append([]models.ExtractionRecord(nil), s.records[len(s.records)-maxRecords:]...)
	}
	return nil
}

// Records returns a copy of the stored extraction records, newest last.
func (s *MemoryStore) Records() []models.ExtractionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ExtractionRecord, len(s.records))
	copy(out, s.records)
	return out
}
