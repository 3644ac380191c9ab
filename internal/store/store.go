package store

import (
	"sync"

	"github.com/avcs-dna/sentinel/pkg/types"
)

// Store is a thread-safe in-memory risk history, keyed by asset id. Each
// asset's history is append-only and strictly time-ordered; once the
// configured retention is reached the oldest records are evicted.
type Store struct {
	mu        sync.RWMutex
	data      map[string][]*types.RiskRecord
	retention int
}

// New creates a Store keeping at most retention records per asset.
func New(retention int) *Store {
	return &Store{
		data:      make(map[string][]*types.RiskRecord),
		retention: retention,
	}
}

// Append adds rec to its asset's history, evicting the oldest record when
// the retention bound is reached. Callers must not modify rec after Append.
func (s *Store) Append(rec *types.RiskRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := append(s.data[rec.AssetID], rec)
	if len(h) > s.retention {
		h = h[len(h)-s.retention:]
	}
	s.data[rec.AssetID] = h
}

// Latest returns the most recent record for the asset and whether one exists.
func (s *Store) Latest(assetID string) (*types.RiskRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.data[assetID]
	if len(h) == 0 {
		return nil, false
	}
	return h[len(h)-1], true
}

// History returns up to limit most-recent records in ascending time order.
// limit <= 0 returns the full retained history. The returned slice is a
// copy; the records themselves are immutable.
func (s *Store) History(assetID string, limit int) []*types.RiskRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.data[assetID]
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	out := make([]*types.RiskRecord, len(h))
	copy(out, h)
	return out
}

// SetRetention changes the retention bound and trims existing histories
// that now exceed it. Used on config reload.
func (s *Store) SetRetention(retention int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retention = retention
	for id, h := range s.data {
		if len(h) > retention {
			s.data[id] = h[len(h)-retention:]
		}
	}
}

// Count returns the number of retained records for the asset.
func (s *Store) Count(assetID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data[assetID])
}

// Drop removes the asset's entire history. Used when an asset is
// unregistered on config reload.
func (s *Store) Drop(assetID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, assetID)
}
