package testutil

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// UUIDSequence generates predictable UUIDs: the n-th call returns
// 00000000-0000-0000-0000-<n as 12 decimal digits>.
//
// Thread-safety: Next is safe for concurrent use.
type UUIDSequence struct {
	mu sync.Mutex
	n  int
}

// NewUUIDSequence creates a sequence whose first UUID ends in ...0001.
func NewUUIDSequence() *UUIDSequence {
	return &UUIDSequence{}
}

// Next returns the next UUID in the sequence.
func (s *UUIDSequence) Next() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return SeqUUID(s.n)
}

// SeqUUID returns the n-th UUID of any sequence.
func SeqUUID(n int) uuid.UUID {
	return uuid.MustParse(fmt.Sprintf("00000000-0000-0000-0000-%012d", n))
}
