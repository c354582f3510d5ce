package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huddle-live/huddle/internal/domain"
)

func TestUpsertCreatesOnFirstSight(t *testing.T) {
	s := NewStore()

	err := s.Upsert("alice-0001", Patch{DisplayName: String("Alice")})
	require.NoError(t, err)

	p, ok := s.Get("alice-0001")
	require.True(t, ok)
	assert.Equal(t, "Alice", p.DisplayName)
	assert.Equal(t, domain.ActivityNone, p.CurrentActivity)
	assert.Equal(t, 1.0, p.LocalVolume)
	assert.True(t, p.Pending)
}

func TestUpsertRejectsEmptyID(t *testing.T) {
	s := NewStore()
	err := s.Upsert("", Patch{})
	assert.ErrorIs(t, err, ErrEmptyPeerID)
}

func TestStatusMergeKeepsUnrelatedFields(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Upsert("bob-0002", Patch{
		DisplayName: String("Bob"),
		Avatar:      String("ref:avatar"),
		Activity:    Act(domain.ActivityPlayback),
	}))

	// A status-only update must never clobber profile or activity.
	require.NoError(t, s.Upsert("bob-0002", StatusPatch(domain.Status{Muted: true})))

	p, ok := s.Get("bob-0002")
	require.True(t, ok)
	assert.True(t, p.Status.Muted)
	assert.Equal(t, "Bob", p.DisplayName)
	assert.Equal(t, "ref:avatar", p.Avatar)
	assert.Equal(t, domain.ActivityPlayback, p.CurrentActivity)
}

func TestStatusPatchSpreadsAllFields(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Upsert("bob-0002", StatusPatch(domain.Status{Muted: true, Deafened: true})))
	require.NoError(t, s.Upsert("bob-0002", StatusPatch(domain.Status{VideoEnabled: true})))

	p, _ := s.Get("bob-0002")
	// A full status replace resets fields absent from the new status.
	assert.False(t, p.Status.Muted)
	assert.False(t, p.Status.Deafened)
	assert.True(t, p.Status.VideoEnabled)
}

func TestLocalVolumeSurvivesStatusUpdates(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Upsert("carol-0003", Patch{LocalVolume: Float(0.4)}))
	require.NoError(t, s.Upsert("carol-0003", StatusPatch(domain.Status{Muted: true})))

	p, _ := s.Get("carol-0003")
	assert.Equal(t, 0.4, p.LocalVolume)
}

func TestRemove(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Upsert("alice-0001", Patch{}))
	require.Equal(t, 1, s.Count())

	s.Remove("alice-0001")
	assert.Equal(t, 0, s.Count())
	_, ok := s.Get("alice-0001")
	assert.False(t, ok)

	// Removing twice is a no-op.
	s.Remove("alice-0001")
}

func TestSnapshotIsSortedCopy(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Upsert("b-0002", Patch{}))
	require.NoError(t, s.Upsert("a-0001", Patch{}))

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, domain.PeerID("a-0001"), snap[0].ID)
	assert.Equal(t, domain.PeerID("b-0002"), snap[1].ID)

	// Mutating the snapshot must not touch the store.
	snap[0].DisplayName = "mutated"
	p, _ := s.Get("a-0001")
	assert.Empty(t, p.DisplayName)
}

func TestSubscribeDeliversEvents(t *testing.T) {
	s := NewStore()
	ch := s.Subscribe()
	defer s.Unsubscribe(ch)

	require.NoError(t, s.Upsert("alice-0001", Patch{DisplayName: String("Alice")}))
	evt := <-ch
	assert.Equal(t, "update", evt.Type)
	assert.Equal(t, domain.PeerID("alice-0001"), evt.PeerID)
	require.NotNil(t, evt.Peer)
	assert.Equal(t, "Alice", evt.Peer.DisplayName)

	s.Remove("alice-0001")
	evt = <-ch
	assert.Equal(t, "remove", evt.Type)
	assert.Nil(t, evt.Peer)
}

func TestSlowSubscriberLosesEventsWithoutBlocking(t *testing.T) {
	s := NewStore()
	ch := s.Subscribe()
	defer s.Unsubscribe(ch)

	// Overflow the listener buffer; Upsert must not block.
	for i := 0; i < 100; i++ {
		require.NoError(t, s.Upsert("alice-0001", Patch{Speaking: Bool(i%2 == 0)}))
	}
	assert.Equal(t, 1, s.Count())
}
