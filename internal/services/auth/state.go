package auth

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// stateTTL bounds how long a login state nonce stays redeemable.
const stateTTL = 10 * time.Minute

type stateEntry struct {
	redirectURI string
	expires     time.Time
}

// stateStore is the in-memory single-use store backing the code flow: one
// nonce per login attempt, consumed exactly once, expired after stateTTL.
type stateStore struct {
	mu      sync.Mutex
	entries map[string]stateEntry
	now     func() time.Time
}

func newStateStore() *stateStore {
	return &stateStore{
		entries: make(map[string]stateEntry),
		now:     time.Now,
	}
}

// Issue stores the client redirect target under a fresh nonce.
func (s *stateStore) Issue(redirectURI string) string {
	state := uuid.New().String()
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.entries {
		if now.After(e.expires) {
			delete(s.entries, k)
		}
	}
	s.entries[state] = stateEntry{redirectURI: redirectURI, expires: now.Add(stateTTL)}
	return state
}

// Consume redeems a nonce, returning the stored redirect target. A nonce is
// valid at most once.
func (s *stateStore) Consume(state string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[state]
	if !ok {
		return "", false
	}
	delete(s.entries, state)
	if s.now().After(entry.expires) {
		return "", false
	}
	return entry.redirectURI, true
}
