package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory, thread-safe Store. It is primarily useful
// for tests and for single-process deployments that do not need records to
// survive a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[int64]*Record
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[int64]*Record)}
}

// Count implements Store.
func (s *MemoryStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.records)), nil
}

// GetBySequence implements Store.
func (s *MemoryStore) GetBySequence(_ context.Context, seq int64) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[seq]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return r.clone(), nil
}

// GetByID implements Store.
func (s *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if r.ID == id {
			return r.clone(), nil
		}
	}
	return nil, ErrRecordNotFound
}

// Last implements Store.
func (s *MemoryStore) Last(_ context.Context) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	last := s.lastLocked()
	if last == nil {
		return nil, ErrRecordNotFound
	}
	return last.clone(), nil
}

// All implements Store.
func (s *MemoryStore) All(_ context.Context) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

// Insert implements Store.
func (s *MemoryStore) Insert(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	last := s.lastLocked()
	switch {
	case last == nil && rec.Sequence != 1:
		return ErrSequenceTaken
	case last != nil && (rec.Sequence != last.Sequence+1 || rec.PrevHash != last.Hash):
		return ErrSequenceTaken
	}
	if _, taken := s.records[rec.Sequence]; taken {
		return ErrSequenceTaken
	}
	s.records[rec.Sequence] = rec.clone()
	return nil
}

// Reset implements Store.
func (s *MemoryStore) Reset(_ context.Context) error {
	s.mu.Lock()
	s.records = make(map[int64]*Record)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) lastLocked() *Record {
	var last *Record
	for _, r := range s.records {
		if last == nil || r.Sequence > last.Sequence {
			last = r
		}
	}
	return last
}
