package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/couchcryptid/ndvi-forecast-service/internal/domain"
)

// Store holds the current MonthIndex. Readers load a snapshot without locking;
// writers go through Begin/Commit so that a slow run can never overwrite the
// result of a run started after it.
type Store struct {
	current atomic.Pointer[domain.MonthIndex]

	mu        sync.Mutex
	latest    uint64 // highest sequence handed out by Begin
	committed uint64 // sequence of the current index
}

// NewStore returns a store holding an empty index. It reports not ready until
// the first commit.
func NewStore() *Store {
	s := &Store{}
	s.current.Store(domain.EmptyMonthIndex(domain.IndexMeta{}))
	return s
}

// Current returns the latest committed index. It is never nil.
func (s *Store) Current() *domain.MonthIndex {
	return s.current.Load()
}

// Begin reserves the next run sequence number.
func (s *Store) Begin() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest++
	return s.latest
}

// Commit installs idx if its sequence is still the newest one handed out.
// It returns false for a superseded run.
func (s *Store) Commit(idx *domain.MonthIndex) bool {
	seq := idx.Meta().Seq
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.latest || seq <= s.committed {
		return false
	}
	s.committed = seq
	s.current.Store(idx)
	return true
}

// CheckReadiness returns nil once an index has been committed.
func (s *Store) CheckReadiness(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.committed == 0 {
		return errors.New("no NDVI index has been committed yet")
	}
	return nil
}
