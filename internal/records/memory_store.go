// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package records

import (
	"context"
	"sync"
)

// MemoryStore implements Store using a map (thread-safe). Nothing survives
// a restart.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Record
}

// NewMemoryStore creates an in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]Record)}
}

func (s *MemoryStore) Exists(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[name]
	return ok, nil
}

func (s *MemoryStore) Get(_ context.Context, name string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.data[name]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r, nil
}

func (s *MemoryStore) Upsert(_ context.Context, rec Record) error {
	if err := validName(rec.SegmentName); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return ErrClosed
	}
	s.data[rec.SegmentName] = rec
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.data))
	for _, r := range s.data {
		out = append(out, r)
	}
	sortByName(out)
	return out, nil
}

func (s *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	recs, err := s.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	return ComputeStats(recs), nil
}

func (s *MemoryStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]Record)
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.data = nil
	s.mu.Unlock()
	return nil
}
