// Package playback reconciles shared video playback across the mesh.
// There is no leader: any participant with local playback authority
// broadcasts state changes and everyone converges on them.
package playback

import (
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/huddle-live/huddle/internal/domain"
	"github.com/huddle-live/huddle/internal/protocol"
)

const (
	// DefaultDriftThreshold is the minimum position disagreement, in
	// seconds, that triggers a corrective seek.
	DefaultDriftThreshold = 1.5
	// DefaultGuardDelay is how long the remote-update guard holds:
	// long enough to absorb the player's own event from the seek/play
	// we just issued, short enough not to mask the next real update.
	DefaultGuardDelay = 800 * time.Millisecond
)

// Player is the external media player collaborator.
type Player interface {
	Play()
	Pause()
	Seek(position float64)
	Position() float64
	State() domain.PlayerState
}

// Sender broadcasts outbound messages; the message router implements it.
type Sender interface {
	Broadcast(v any)
}

type Controller struct {
	logger zerolog.Logger

	mu         sync.Mutex
	send       Sender
	player     Player
	active     bool
	queue      []domain.QueueItem
	activeID   string
	drift      float64
	guardDelay time.Duration
	guardUntil time.Time
	now        func() time.Time
}

func NewController(send Sender, player Player, drift float64, guardDelay time.Duration) *Controller {
	if drift <= 0 {
		drift = DefaultDriftThreshold
	}
	if guardDelay <= 0 {
		guardDelay = DefaultGuardDelay
	}
	return &Controller{
		logger:     log.With().Str("module", "activity.playback").Logger(),
		send:       send,
		player:     player,
		drift:      drift,
		guardDelay: guardDelay,
		now:        time.Now,
	}
}

// Start begins the shared playback activity and announces it.
func (c *Controller) Start() {
	c.mu.Lock()
	c.active = true
	c.mu.Unlock()
	c.broadcast(protocol.ActionStart, nil)
}

// Stop leaves the activity. The queue survives; playback halts.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.active = false
	c.mu.Unlock()
	c.player.Pause()
	c.broadcast(protocol.ActionStop, nil)
}

func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// LocalStateChanged is called by the player glue whenever the local
// player changes state (play, pause, seek, buffer). While the
// remote-update guard holds, the change is our own reaction to a
// remote sync and must not be re-broadcast, or every peer would echo
// it around the mesh forever.
func (c *Controller) LocalStateChanged() {
	c.mu.Lock()
	if !c.active || c.now().Before(c.guardUntil) {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.broadcast(protocol.ActionSyncState, protocol.SyncState{
		State:    c.player.State(),
		Position: c.player.Position(),
	})
}

// HandleRemote consumes a routed playback activity message.
func (c *Controller) HandleRemote(from domain.PeerID, action string, data json.RawMessage) {
	switch action {
	case protocol.ActionStart:
		c.mu.Lock()
		c.active = true
		c.mu.Unlock()
	case protocol.ActionStop:
		c.mu.Lock()
		c.active = false
		c.mu.Unlock()
		c.player.Pause()
	case protocol.ActionSyncState:
		var st protocol.SyncState
		if err := json.Unmarshal(data, &st); err != nil {
			c.logger.Warn().Err(err).Str("peer", string(from)).Msg("bad sync-state payload")
			return
		}
		c.applySyncState(from, st)
	case protocol.ActionQueueAdd:
		var p protocol.QueueAdd
		if err := json.Unmarshal(data, &p); err != nil {
			c.logger.Warn().Err(err).Str("peer", string(from)).Msg("bad queue-add payload")
			return
		}
		c.applyQueueAdd(p.Item)
	case protocol.ActionQueueRemove:
		var p protocol.QueueRemove
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		c.applyQueueRemove(p.ItemID)
	case protocol.ActionQueueSet:
		var p protocol.QueueSet
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		c.mu.Lock()
		c.queue = p.Items
		c.activeID = p.ActiveID
		c.mu.Unlock()
	case protocol.ActionPlayItem:
		var p protocol.PlayItem
		if err := json.Unmarshal(data, &p); err != nil {
			return
		}
		c.mu.Lock()
		c.activeID = p.ItemID
		c.armGuardLocked()
		c.mu.Unlock()
		c.player.Seek(0)
		c.player.Play()
	default:
		c.logger.Debug().Str("action", action).Msg("unknown playback action ignored")
	}
}

// applySyncState reconciles the local player toward a remote state:
// seek only when the drift exceeds the threshold (hysteresis against
// clock skew stutter), always reconcile play/pause.
func (c *Controller) applySyncState(from domain.PeerID, st protocol.SyncState) {
	c.mu.Lock()
	c.armGuardLocked()
	c.mu.Unlock()

	local := c.player.Position()
	if math.Abs(local-st.Position) > c.drift {
		c.logger.Debug().
			Str("peer", string(from)).
			Float64("local", local).
			Float64("remote", st.Position).
			Msg("drift over threshold, seeking")
		c.player.Seek(st.Position)
	}
	switch st.State {
	case domain.PlayerPlaying:
		if c.player.State() != domain.PlayerPlaying {
			c.player.Play()
		}
	case domain.PlayerPaused, domain.PlayerBuffering:
		if c.player.State() == domain.PlayerPlaying {
			c.player.Pause()
		}
	}
}

// armGuardLocked sets the remote-update guard; released by time, not
// by event, so a wedged player cannot leave it stuck.
func (c *Controller) armGuardLocked() {
	c.guardUntil = c.now().Add(c.guardDelay)
}

// AddLocal appends an item and broadcasts just that item.
func (c *Controller) AddLocal(item domain.QueueItem) {
	c.applyQueueAdd(item)
	c.broadcast(protocol.ActionQueueAdd, protocol.QueueAdd{Item: item})
}

// applyQueueAdd appends and auto-plays the first item added to an
// empty queue with nothing active.
func (c *Controller) applyQueueAdd(item domain.QueueItem) {
	c.mu.Lock()
	c.queue = append(c.queue, item)
	autoplay := c.activeID == ""
	if autoplay {
		c.activeID = item.ID
		c.armGuardLocked()
	}
	c.mu.Unlock()
	if autoplay {
		c.player.Play()
	}
}

// RemoveLocal deletes an item and broadcasts the single change.
func (c *Controller) RemoveLocal(itemID string) {
	c.applyQueueRemove(itemID)
	c.broadcast(protocol.ActionQueueRemove, protocol.QueueRemove{ItemID: itemID})
}

func (c *Controller) applyQueueRemove(itemID string) {
	c.mu.Lock()
	kept := c.queue[:0]
	for _, it := range c.queue {
		if it.ID != itemID {
			kept = append(kept, it)
		}
	}
	c.queue = kept
	wasActive := c.activeID == itemID
	if wasActive {
		c.activeID = ""
	}
	c.mu.Unlock()
	if wasActive {
		c.player.Pause()
	}
}

// ReorderLocal replaces the whole queue and broadcasts the full
// snapshot; receivers replace their copy wholesale. Snapshot replace
// over list diffs: queues are small, human-curated.
func (c *Controller) ReorderLocal(items []domain.QueueItem) {
	c.mu.Lock()
	c.queue = items
	activeID := c.activeID
	c.mu.Unlock()
	c.broadcast(protocol.ActionQueueSet, protocol.QueueSet{Items: items, ActiveID: activeID})
}

// PlayLocal selects an item and tells everyone to play it.
func (c *Controller) PlayLocal(itemID string) {
	c.mu.Lock()
	c.activeID = itemID
	c.mu.Unlock()
	c.player.Seek(0)
	c.player.Play()
	c.broadcast(protocol.ActionPlayItem, protocol.PlayItem{ItemID: itemID})
}

func (c *Controller) Queue() []domain.QueueItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.QueueItem, len(c.queue))
	copy(out, c.queue)
	return out
}

func (c *Controller) ActiveItem() (domain.QueueItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, it := range c.queue {
		if it.ID == c.activeID {
			return it, true
		}
	}
	return domain.QueueItem{}, false
}

func (c *Controller) broadcast(action string, payload any) {
	msg, err := protocol.NewActivity(protocol.ActivityPlayback, action, payload)
	if err != nil {
		c.logger.Error().Err(err).Str("action", action).Msg("activity marshal")
		return
	}
	c.send.Broadcast(msg)
}
