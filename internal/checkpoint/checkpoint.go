package checkpoint

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Cursor is the durable resume point of one sync process over one AMM.
type Cursor struct {
	BlockNumber uint64
}

// Store persists cursors keyed by (sync process, chain, vamm). Set is called
// only after the corresponding ledger write succeeded; that ordering is the
// durability contract that keeps the cursor behind truth on a crash.
type Store interface {
	Get(ctx context.Context, process string, chainID uint64, vammAddress string) (Cursor, bool, error)
	Set(ctx context.Context, process string, chainID uint64, vammAddress string, blockNumber uint64) error
}

// CursorKey renders the canonical cursor key.
func CursorKey(process string, chainID uint64, vammAddress string) string {
	return fmt.Sprintf("ratescope:cursor:%s:%d:%s", process, chainID, strings.ToLower(vammAddress))
}

// MemoryStore is an in-memory Store for tests and single-process runs.
type MemoryStore struct {
	mu      sync.RWMutex
	cursors map[string]uint64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{cursors: make(map[string]uint64)}
}

func (s *MemoryStore) Get(_ context.Context, process string, chainID uint64, vammAddress string) (Cursor, bool, error) {
	s.mu.RLock()
	block, ok := s.cursors[CursorKey(process, chainID, vammAddress)]
	s.mu.RUnlock()
	if !ok {
		return Cursor{}, false, nil
	}
	return Cursor{BlockNumber: block}, true, nil
}

func (s *MemoryStore) Set(_ context.Context, process string, chainID uint64, vammAddress string, blockNumber uint64) error {
	s.mu.Lock()
	s.cursors[CursorKey(process, chainID, vammAddress)] = blockNumber
	s.mu.Unlock()
	return nil
}
