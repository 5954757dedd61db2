package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/mikenoired/synapse-sub000/internal/syncmodel"
)

// MemoryStore keeps records in per-user maps. It is the default backend when
// no database DSN is configured and the backend used by tests.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]map[string]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]map[string]*Record)}
}

func (s *MemoryStore) Get(ctx context.Context, userID string, entityType syncmodel.EntityType, entityID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.users[userID][syncmodel.SinceKey(entityType, entityID)]
	if !ok {
		return nil, nil
	}
	return cloneRecord(rec), nil
}

func (s *MemoryStore) Upsert(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.users[rec.UserID]
	if !ok {
		rows = make(map[string]*Record)
		s.users[rec.UserID] = rows
	}
	rows[rec.Key()] = cloneRecord(rec)
	return nil
}

func (s *MemoryStore) ListSince(ctx context.Context, userID string, since map[string]int64) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*Record
	for key, rec := range s.users[userID] {
		if rec.Version > since[key] {
			result = append(result, cloneRecord(rec))
		}
	}
	sortRecords(result)
	return result, nil
}

func (s *MemoryStore) ListLive(ctx context.Context, userID string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*Record
	for _, rec := range s.users[userID] {
		if !rec.Deleted {
			result = append(result, cloneRecord(rec))
		}
	}
	sortRecords(result)
	return result, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func cloneRecord(rec *Record) *Record {
	c := *rec
	if rec.Data != nil {
		c.Data = append([]byte(nil), rec.Data...)
	}
	return &c
}

// sortRecords keeps list results deterministic, map iteration is not.
func sortRecords(rs []*Record) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].UpdatedAt != rs[j].UpdatedAt {
			return rs[i].UpdatedAt < rs[j].UpdatedAt
		}
		return rs[i].Key() < rs[j].Key()
	})
}
