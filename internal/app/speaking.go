package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/huddle-live/huddle/internal/domain"
	"github.com/huddle-live/huddle/internal/presence"
)

// SpeakingTracker derives per-peer isSpeaking from receiver-side audio
// levels. It polls on a fixed tick and holds the speaking flag for a
// short decay so word gaps do not flicker the indicator.
type SpeakingTracker struct {
	logger zerolog.Logger

	mu     sync.Mutex
	levels map[domain.PeerID]levelSample
	flags  map[domain.PeerID]bool

	store     *presence.Store
	threshold float64
	hold      time.Duration
	poll      time.Duration
}

type levelSample struct {
	level float64
	at    time.Time
}

func NewSpeakingTracker(store *presence.Store, threshold float64, hold, poll time.Duration) *SpeakingTracker {
	if threshold <= 0 {
		threshold = 0.12
	}
	if hold <= 0 {
		hold = 600 * time.Millisecond
	}
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	return &SpeakingTracker{
		logger:    log.With().Str("module", "app.speaking").Logger(),
		levels:    make(map[domain.PeerID]levelSample),
		flags:     make(map[domain.PeerID]bool),
		store:     store,
		threshold: threshold,
		hold:      hold,
		poll:      poll,
	}
}

// Observe records the latest audio level for a peer. Called from the
// media adapter's read path, so it must stay cheap.
func (t *SpeakingTracker) Observe(id domain.PeerID, level float64) {
	t.mu.Lock()
	if level >= t.threshold {
		t.levels[id] = levelSample{level: level, at: time.Now()}
	}
	t.mu.Unlock()
}

// Forget drops a removed peer's derived state.
func (t *SpeakingTracker) Forget(id domain.PeerID) {
	t.mu.Lock()
	delete(t.levels, id)
	delete(t.flags, id)
	t.mu.Unlock()
}

// Start runs the poll loop until ctx is cancelled.
func (t *SpeakingTracker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(t.poll)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.tick(time.Now())
			}
		}
	}()
}

func (t *SpeakingTracker) tick(now time.Time) {
	type change struct {
		id       domain.PeerID
		speaking bool
	}
	var changes []change

	t.mu.Lock()
	for id, sample := range t.levels {
		speaking := now.Sub(sample.at) <= t.hold
		if t.flags[id] != speaking {
			t.flags[id] = speaking
			changes = append(changes, change{id: id, speaking: speaking})
		}
	}
	t.mu.Unlock()

	for _, ch := range changes {
		if err := t.store.Upsert(ch.id, presence.Patch{Speaking: presence.Bool(ch.speaking)}); err != nil {
			t.logger.Warn().Err(err).Msg("speaking upsert")
		}
	}
}
