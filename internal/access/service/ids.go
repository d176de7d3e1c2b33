package service

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// idSource mints time-ordered ULIDs for events and alerts, and random
// UUIDs for persons and visitor passes.
type idSource struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func newIDSource() *idSource {
	return &idSource{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (s *idSource) ulid(at time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(at), s.entropy)
	if err != nil {
		// Entropy overflow inside one millisecond.
		return ulid.Make().String()
	}
	return id.String()
}

func (s *idSource) uuid() string {
	return uuid.NewString()
}
