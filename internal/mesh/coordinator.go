// Package mesh maintains the invariant "my peer set plus self forms,
// or is converging toward, a complete graph".
package mesh

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/huddle-live/huddle/internal/core"
	"github.com/huddle-live/huddle/internal/domain"
	"github.com/huddle-live/huddle/internal/presence"
	"github.com/huddle-live/huddle/internal/protocol"
)

// LocalPeerCeiling is the absolute local limit on simultaneous peers,
// independent of whatever capacity the host announced.
const LocalPeerCeiling = 8

// DefaultCapacity is the room size (including host) assumed until the
// host's peer-list says otherwise.
const DefaultCapacity = 4

type link struct {
	data     core.DataChannel
	media    core.MediaChannel
	dataOpen bool
}

// Endpoint pairs a peer id with its data channel for broadcast
// iteration. Always a snapshot, never the live map.
type Endpoint struct {
	ID domain.PeerID
	Ch core.DataChannel
}

// Hooks let the session layer react to membership changes without the
// coordinator knowing about routers or activity state.
type Hooks struct {
	// OnPeerOpen fires when a peer's data channel opens; the session
	// bootstraps the new peer from it.
	OnPeerOpen func(domain.PeerID)
	// OnPeerGone fires after a peer was fully removed, to clear
	// per-peer derived state (speaking tracker, pinned view).
	OnPeerGone func(domain.PeerID)
	// OnAudioLevel forwards receiver-side audio activity per peer.
	OnAudioLevel func(domain.PeerID, float64)
}

type Coordinator struct {
	logger    zerolog.Logger
	self      domain.PeerID
	selfName  string
	transport core.Transport
	store     *presence.Store

	mu       sync.RWMutex
	links    map[domain.PeerID]*link
	capacity int

	hooks   Hooks
	onFrame func(domain.PeerID, core.Frame)

	ctx context.Context
}

func NewCoordinator(self domain.PeerID, selfName string, capacity int, tr core.Transport, store *presence.Store) *Coordinator {
	if capacity < 2 || capacity > DefaultCapacity {
		capacity = DefaultCapacity
	}
	return &Coordinator{
		logger:    log.With().Str("module", "mesh").Str("self", string(self)).Logger(),
		self:      self,
		selfName:  selfName,
		transport: tr,
		store:     store,
		links:     make(map[domain.PeerID]*link),
		capacity:  capacity,
	}
}

func (c *Coordinator) SetHooks(h Hooks)                           { c.hooks = h }
func (c *Coordinator) OnFrame(fn func(domain.PeerID, core.Frame)) { c.onFrame = fn }

// Start registers the inbound-channel handlers with the transport.
// ctx bounds every connection the coordinator opens afterwards.
func (c *Coordinator) Start(ctx context.Context) {
	c.ctx = ctx
	c.transport.OnConnection(c.adoptDataChannel)
	c.transport.OnCall(c.adoptMediaChannel)
}

// ConnectTo opens a data and a media channel to target and registers a
// pending peer. No-op for self, empty or already-known ids. Over the
// local ceiling it only logs; admission is best-effort.
func (c *Coordinator) ConnectTo(ctx context.Context, target domain.PeerID) {
	if target == "" || target == c.self {
		return
	}
	c.mu.Lock()
	if _, ok := c.links[target]; ok {
		c.mu.Unlock()
		return
	}
	if len(c.links) >= LocalPeerCeiling {
		c.mu.Unlock()
		c.logger.Warn().Str("peer", string(target)).Int("ceiling", LocalPeerCeiling).Msg("local peer ceiling reached, not connecting")
		return
	}
	ln := &link{}
	c.links[target] = ln
	c.mu.Unlock()

	meta := core.ConnectMeta{DisplayName: c.selfName}
	dc, err := c.transport.Connect(ctx, target, meta)
	if err != nil {
		c.logger.Error().Err(err).Str("peer", string(target)).Msg("data connect failed")
		c.drop(target)
		return
	}
	mc, err := c.transport.Call(ctx, target)
	if err != nil {
		c.logger.Error().Err(err).Str("peer", string(target)).Msg("media call failed")
		dc.Close()
		c.drop(target)
		return
	}

	c.mu.Lock()
	ln.data = dc
	ln.media = mc
	c.mu.Unlock()

	_ = c.store.Upsert(target, presence.Patch{Pending: presence.Bool(true)})
	c.bindData(target, dc)
	c.bindMedia(target, mc)
	c.logger.Info().Str("peer", string(target)).Msg("connecting")
}

// adoptDataChannel admits or rejects an inbound data channel. The
// admission check is local only: current peer count against the
// host-announced capacity minus one. Concurrent joins at different
// members can transiently exceed the announced capacity; accepted
// trade-off, not auto-corrected.
func (c *Coordinator) adoptDataChannel(from domain.PeerID, ch core.DataChannel) {
	c.mu.Lock()
	ln, known := c.links[from]
	if !known && c.atCapacityLocked() {
		c.mu.Unlock()
		c.logger.Info().Str("peer", string(from)).Int("capacity", c.capacity).Msg("room full, rejecting data channel")
		ch.Close()
		return
	}
	if !known {
		ln = &link{}
		c.links[from] = ln
	}
	ln.data = ch
	c.mu.Unlock()

	_ = c.store.Upsert(from, presence.Patch{Pending: presence.Bool(true)})
	c.bindData(from, ch)
}

func (c *Coordinator) adoptMediaChannel(from domain.PeerID, ch core.MediaChannel) {
	c.mu.Lock()
	ln, known := c.links[from]
	if !known && c.atCapacityLocked() {
		c.mu.Unlock()
		c.logger.Info().Str("peer", string(from)).Int("capacity", c.capacity).Msg("room full, rejecting media channel")
		ch.Close()
		return
	}
	if !known {
		ln = &link{}
		c.links[from] = ln
	}
	ln.media = ch
	c.mu.Unlock()

	_ = c.store.Upsert(from, presence.Patch{Pending: presence.Bool(true)})
	c.bindMedia(from, ch)
	c.refreshPending(from)
}

// atCapacityLocked counts existing links against capacity-1; capacity
// counts total room size including the local member.
func (c *Coordinator) atCapacityLocked() bool {
	return len(c.links) >= c.capacity-1 || len(c.links) >= LocalPeerCeiling
}

func (c *Coordinator) bindData(id domain.PeerID, dc core.DataChannel) {
	dc.Bind(core.ChannelEvents{
		OnOpen: func() { c.onDataOpen(id) },
		OnData: func(f core.Frame) {
			if c.onFrame != nil {
				c.onFrame(id, f)
			}
		},
		OnClose: func() {
			c.logger.Info().Str("peer", string(id)).Msg("data channel closed")
			c.RemovePeer(id)
		},
		OnError: func(err error) {
			c.logger.Error().Err(err).Str("peer", string(id)).Msg("data channel error")
			c.RemovePeer(id)
		},
	})
}

func (c *Coordinator) bindMedia(id domain.PeerID, mc core.MediaChannel) {
	mc.Bind(core.MediaEvents{
		OnClose: func() {
			c.logger.Info().Str("peer", string(id)).Msg("media channel closed")
			c.RemovePeer(id)
		},
		OnAudioLevel: func(level float64) {
			if c.hooks.OnAudioLevel != nil {
				c.hooks.OnAudioLevel(id, level)
			}
		},
	})
}

// onDataOpen runs the mesh discovery protocol: the already-connected
// side announces every *other* connected peer to the newcomer. A lost
// announcement is not retried; a partial mesh stays partial until a
// manual reconnect.
func (c *Coordinator) onDataOpen(id domain.PeerID) {
	c.mu.Lock()
	ln, ok := c.links[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	ln.dataOpen = true
	others := make([]domain.PeerID, 0, len(c.links))
	for pid, l := range c.links {
		if pid != id && l.dataOpen {
			others = append(others, pid)
		}
	}
	capacity := c.capacity
	dc := ln.data
	c.mu.Unlock()

	c.logger.Info().Str("peer", string(id)).Int("known_others", len(others)).Msg("data channel open")
	c.refreshPending(id)

	if len(others) > 0 {
		frame, err := protocol.Marshal(protocol.PeerList{Type: protocol.TypePeerList, Peers: others, Capacity: capacity})
		if err == nil {
			if err = dc.TrySend(frame); err != nil {
				c.logger.Warn().Err(err).Str("peer", string(id)).Msg("peer-list send dropped")
			}
		}
	}

	if c.hooks.OnPeerOpen != nil {
		c.hooks.OnPeerOpen(id)
	}
}

// HandlePeerList reacts to a peer-list announcement: adopt the
// informational capacity and dial every peer we do not know yet.
func (c *Coordinator) HandlePeerList(from domain.PeerID, msg protocol.PeerList) {
	if msg.Capacity >= 2 && msg.Capacity <= LocalPeerCeiling {
		c.mu.Lock()
		c.capacity = msg.Capacity
		c.mu.Unlock()
	}
	for _, pid := range msg.Peers {
		if pid == c.self {
			continue
		}
		c.mu.RLock()
		_, known := c.links[pid]
		c.mu.RUnlock()
		if known {
			continue
		}
		c.logger.Info().Str("peer", string(pid)).Str("via", string(from)).Msg("discovered peer")
		c.ConnectTo(c.ctx, pid)
	}
}

// RemovePeer closes both channels (closing an already-closed channel
// is a no-op), deletes the presence entry and clears derived state.
func (c *Coordinator) RemovePeer(id domain.PeerID) {
	c.mu.Lock()
	ln, ok := c.links[id]
	delete(c.links, id)
	c.mu.Unlock()
	if !ok {
		return
	}
	if ln.data != nil {
		ln.data.Close()
	}
	if ln.media != nil {
		ln.media.Close()
	}
	c.store.Remove(id)
	c.logger.Info().Str("peer", string(id)).Msg("peer removed")
	if c.hooks.OnPeerGone != nil {
		c.hooks.OnPeerGone(id)
	}
}

// drop discards a link that never finished setup.
func (c *Coordinator) drop(id domain.PeerID) {
	c.mu.Lock()
	delete(c.links, id)
	c.mu.Unlock()
}

// refreshPending flips the peer to fully joined once both channels
// are present and the data channel is open.
func (c *Coordinator) refreshPending(id domain.PeerID) {
	c.mu.RLock()
	ln, ok := c.links[id]
	joined := ok && ln.dataOpen && ln.media != nil
	c.mu.RUnlock()
	if joined {
		_ = c.store.Upsert(id, presence.Patch{Pending: presence.Bool(false)})
	}
}

// Channel implements the router's directory lookup.
func (c *Coordinator) Channel(id domain.PeerID) (core.DataChannel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ln, ok := c.links[id]
	if !ok || ln.data == nil {
		return nil, false
	}
	return ln.data, true
}

// Endpoints snapshots every open data channel for broadcast.
func (c *Coordinator) Endpoints() []Endpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Endpoint, 0, len(c.links))
	for id, ln := range c.links {
		if ln.data != nil && ln.dataOpen {
			out = append(out, Endpoint{ID: id, Ch: ln.data})
		}
	}
	return out
}

func (c *Coordinator) PeerCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.links)
}

func (c *Coordinator) Capacity() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.capacity
}

// Close tears down every link and the transport.
func (c *Coordinator) Close() {
	c.mu.Lock()
	ids := make([]domain.PeerID, 0, len(c.links))
	for id := range c.links {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	for _, id := range ids {
		c.RemovePeer(id)
	}
	c.transport.Close()
}
