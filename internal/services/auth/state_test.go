package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateSingleUse(t *testing.T) {
	store := newStateStore()
	state := store.Issue("http://localhost:54321/callback")

	redirect, ok := store.Consume(state)
	require.True(t, ok)
	assert.Equal(t, "http://localhost:54321/callback", redirect)

	_, ok = store.Consume(state)
	assert.False(t, ok, "a state nonce is valid at most once")
}

func TestStateUnknown(t *testing.T) {
	store := newStateStore()
	_, ok := store.Consume("never-issued")
	assert.False(t, ok)
}

func TestStateExpiry(t *testing.T) {
	store := newStateStore()
	current := time.Now()
	store.now = func() time.Time { return current }

	state := store.Issue("http://localhost:54321/cb")
	current = current.Add(stateTTL + time.Second)

	_, ok := store.Consume(state)
	assert.False(t, ok, "expired state must not be redeemable")
}

func TestStatePruneOnIssue(t *testing.T) {
	store := newStateStore()
	current := time.Now()
	store.now = func() time.Time { return current }

	stale := store.Issue("http://localhost:54321/old")
	current = current.Add(stateTTL + time.Minute)
	store.Issue("http://localhost:54321/new")

	store.mu.Lock()
	_, exists := store.entries[stale]
	store.mu.Unlock()
	assert.False(t, exists, "expired entries are pruned on issue")
}
