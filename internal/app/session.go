// Package app wires the mesh, router, presence and activity layers
// into one local session.
package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/huddle-live/huddle/internal/activity/drawing"
	"github.com/huddle-live/huddle/internal/activity/playback"
	"github.com/huddle-live/huddle/internal/chat"
	"github.com/huddle-live/huddle/internal/config"
	"github.com/huddle-live/huddle/internal/core"
	"github.com/huddle-live/huddle/internal/domain"
	"github.com/huddle-live/huddle/internal/mesh"
	"github.com/huddle-live/huddle/internal/presence"
	"github.com/huddle-live/huddle/internal/protocol"
	"github.com/huddle-live/huddle/internal/router"
)

// Session owns one participant's view of a huddle.
type Session struct {
	logger zerolog.Logger

	mu   sync.RWMutex
	self domain.Peer
	// pinned is a per-peer derived UI reference, cleared on removal.
	pinned domain.PeerID

	Store    *presence.Store
	Mesh     *mesh.Coordinator
	Router   *router.Router
	Chat     *chat.Log
	Playback *playback.Controller
	Drawing  *drawing.Board

	speaking *SpeakingTracker

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSession assembles the full component graph around the supplied
// external collaborators. The caller mints the peer id first because
// the transport and signaling client register under it before the
// session exists.
func NewSession(cfg *config.Config, id domain.PeerID, tr core.Transport, player playback.Player, canvas drawing.Canvas) *Session {
	s := &Session{
		logger: log.With().Str("module", "app.session").Str("self", string(id)).Logger(),
		self: domain.Peer{
			ID:              id,
			DisplayName:     cfg.DisplayName,
			Avatar:          cfg.Avatar,
			CurrentActivity: domain.ActivityNone,
			LocalVolume:     1,
		},
	}

	s.Store = presence.NewStore()
	s.Mesh = mesh.NewCoordinator(id, cfg.DisplayName, cfg.Capacity, tr, s.Store)
	s.Router = router.New(s.Mesh)
	s.Chat = chat.NewLog(chat.DefaultBufferSize)
	s.Playback = playback.NewController(s.Router, player, cfg.DriftThreshold, cfg.GuardDelay)
	s.Drawing = drawing.NewBoard(s.Router, canvas, cfg.DrawFlushInterval)
	s.speaking = NewSpeakingTracker(s.Store, cfg.SpeakingThreshold, cfg.SpeakingHold, cfg.SpeakingPoll)

	s.Router.Presence = s.Store
	s.Router.Chat = s.Chat
	s.Router.Playback = s.Playback
	s.Router.Drawing = s.Drawing
	s.Router.Mesh = s.Mesh
	s.Router.Local = s

	s.Mesh.OnFrame(s.Router.Dispatch)
	s.Mesh.SetHooks(mesh.Hooks{
		OnPeerOpen:   s.onPeerOpen,
		OnPeerGone:   s.onPeerGone,
		OnAudioLevel: s.speaking.Observe,
	})
	return s
}

func (s *Session) Self() domain.Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.self
}

func (s *Session) SelfID() domain.PeerID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.self.ID
}

// Start arms the transport handlers and the speaking poll loop.
func (s *Session) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.Mesh.Start(s.ctx)
	s.speaking.Start(s.ctx)
	s.logger.Info().Str("name", s.self.DisplayName).Msg("session started")
}

// Join dials the host (or any member) of an existing huddle; mesh
// discovery takes it from there.
func (s *Session) Join(target domain.PeerID) {
	s.Mesh.ConnectTo(s.ctx, target)
}

// Leave tears the session down: activities stopped, every link closed,
// timers cancelled cooperatively.
func (s *Session) Leave() {
	if s.Playback.Active() {
		s.Playback.Stop()
	}
	if s.Drawing.Active() {
		s.Drawing.Stop()
	}
	s.Mesh.Close()
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info().Msg("session left")
}

func (s *Session) onPeerOpen(id domain.PeerID) {
	s.Router.Bootstrap(id)
}

func (s *Session) onPeerGone(id domain.PeerID) {
	s.speaking.Forget(id)
	s.mu.Lock()
	if s.pinned == id {
		s.pinned = ""
	}
	s.mu.Unlock()
}

// LocalStatus implements router.LocalState.
func (s *Session) LocalStatus() protocol.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return protocol.Status{
		Type:     protocol.TypeStatus,
		Status:   s.self.Status,
		Activity: s.self.CurrentActivity,
	}
}

// LocalProfile implements router.LocalState.
func (s *Session) LocalProfile() protocol.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return protocol.Profile{
		Type:   protocol.TypeProfileUpdate,
		Name:   s.self.DisplayName,
		Avatar: s.self.Avatar,
	}
}

// ActiveAnnouncement implements router.LocalState: replayed to newly
// connected peers so they learn about a running activity immediately.
func (s *Session) ActiveAnnouncement() (protocol.Activity, bool) {
	s.mu.RLock()
	activity := s.self.CurrentActivity
	s.mu.RUnlock()
	switch activity {
	case domain.ActivityPlayback:
		msg, err := protocol.NewActivity(protocol.ActivityPlayback, protocol.ActionStart, nil)
		return msg, err == nil
	case domain.ActivityDrawing:
		msg, err := protocol.NewActivity(protocol.ActivityDrawing, protocol.ActionStart, nil)
		return msg, err == nil
	}
	return protocol.Activity{}, false
}
