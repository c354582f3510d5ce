package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huddle-live/huddle/internal/presence"
)

func newTestTracker() (*SpeakingTracker, *presence.Store) {
	store := presence.NewStore()
	return NewSpeakingTracker(store, 0.12, 600*time.Millisecond, 250*time.Millisecond), store
}

func TestSpeakingFlagFlipsOnLoudSample(t *testing.T) {
	tr, store := newTestTracker()

	tr.Observe("alice-0001", 0.5)
	tr.tick(time.Now())

	p, ok := store.Get("alice-0001")
	require.True(t, ok)
	assert.True(t, p.IsSpeaking)
}

func TestQuietSamplesAreIgnored(t *testing.T) {
	tr, store := newTestTracker()

	tr.Observe("alice-0001", 0.05)
	tr.tick(time.Now())

	_, ok := store.Get("alice-0001")
	assert.False(t, ok)
}

func TestSpeakingHoldsThroughWordGaps(t *testing.T) {
	tr, store := newTestTracker()

	tr.Observe("alice-0001", 0.5)
	tr.tick(time.Now())

	// Within the hold window the flag stays up despite silence.
	tr.tick(time.Now().Add(300 * time.Millisecond))
	p, _ := store.Get("alice-0001")
	assert.True(t, p.IsSpeaking)

	// Past the hold window it decays.
	tr.tick(time.Now().Add(2 * time.Second))
	p, _ = store.Get("alice-0001")
	assert.False(t, p.IsSpeaking)
}

func TestForgetDropsDerivedState(t *testing.T) {
	tr, store := newTestTracker()

	tr.Observe("alice-0001", 0.5)
	tr.tick(time.Now())
	tr.Forget("alice-0001")
	store.Remove("alice-0001")

	// A later tick must not resurrect the presence entry.
	tr.tick(time.Now())
	assert.Equal(t, 0, store.Count())

	// A fresh sample starts over from a clean slate.
	tr.Observe("alice-0001", 0.5)
	tr.tick(time.Now())
	p, ok := store.Get("alice-0001")
	require.True(t, ok)
	assert.True(t, p.IsSpeaking)
}
