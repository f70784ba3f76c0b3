package ledger

import (
	"context"
	"sort"
	"sync"

	"ratescope/internal/position"
)

// Store is the position ledger. Upserts are keyed by the row identity and a
// batch submitted in one persist step lands all-or-nothing.
type Store interface {
	// ActivePositions returns every row of the pool whose last update
	// precedes the given timestamp.
	ActivePositions(ctx context.Context, chainID uint64, vammAddress string, updatedBefore int64) ([]position.Row, error)
	// GetPosition returns the row for a key, reporting absence.
	GetPosition(ctx context.Context, key position.Key) (position.Row, bool, error)
	// UpsertPositions writes the batch atomically.
	UpsertPositions(ctx context.Context, rows []position.Row) error
}

// MemoryStore is an in-memory ledger for tests.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[position.Key]position.Row

	// UpsertCount tracks persist steps, used by sync-cycle tests.
	UpsertCount int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[position.Key]position.Row)}
}

func (s *MemoryStore) ActivePositions(_ context.Context, chainID uint64, vammAddress string, updatedBefore int64) ([]position.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]position.Row, 0)
	for _, row := range s.rows {
		if row.ChainID == chainID && row.VAMMAddress == vammAddress && row.LastUpdatedTimestamp < updatedBefore {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out, nil
}

func (s *MemoryStore) GetPosition(_ context.Context, key position.Key) (position.Row, bool, error) {
	s.mu.RLock()
	row, ok := s.rows[key]
	s.mu.RUnlock()
	return row, ok, nil
}

func (s *MemoryStore) UpsertPositions(_ context.Context, rows []position.Row) error {
	if len(rows) == 0 {
		return nil
	}
	s.mu.Lock()
	for _, row := range rows {
		s.rows[row.Key] = row
	}
	s.UpsertCount++
	s.mu.Unlock()
	return nil
}

// All returns a snapshot of every row, for assertions.
func (s *MemoryStore) All() []position.Row {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]position.Row, 0, len(s.rows))
	for _, row := range s.rows {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}
