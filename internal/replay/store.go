package replay

import (
	"sync"
	"time"
)

// Record is one accepted nonce.
type Record struct {
	Nonce       string
	FirstSeenAt time.Time
	Timestamp   int64
}

// NonceStore holds accepted nonces. Implementations must be safe for
// concurrent use, and Insert must check and insert atomically.
type NonceStore interface {
	// Insert adds r unless its nonce is present. It reports whether r was added.
	Insert(r Record) bool

	// DeleteBefore removes records first seen before cutoff and returns how many.
	DeleteBefore(cutoff time.Time) int

	// Len returns the number of retained records.
	Len() int
}

// MemoryStore is a mutex-guarded in-process NonceStore.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Insert(r Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[r.Nonce]; ok {
		return false
	}
	s.records[r.Nonce] = r
	return true
}

func (s *MemoryStore) DeleteBefore(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for nonce, r := range s.records {
		if r.FirstSeenAt.Before(cutoff) {
			delete(s.records, nonce)
			n++
		}
	}
	return n
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
