// Package router is the single inbound/outbound funnel per channel:
// it decodes inbound frames into tagged messages and serializes
// outbound messages for best-effort delivery.
package router

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/huddle-live/huddle/internal/chat"
	"github.com/huddle-live/huddle/internal/core"
	"github.com/huddle-live/huddle/internal/domain"
	"github.com/huddle-live/huddle/internal/mesh"
	"github.com/huddle-live/huddle/internal/presence"
	"github.com/huddle-live/huddle/internal/protocol"
)

// Directory resolves peer ids to data channels. The mesh coordinator
// implements it; lookups always resolve current state, never captured
// references.
type Directory interface {
	Channel(domain.PeerID) (core.DataChannel, bool)
	Endpoints() []mesh.Endpoint
}

// ActivityHandler consumes routed activity messages for one activity
// type. Handlers unmarshal their own payloads.
type ActivityHandler interface {
	HandleRemote(from domain.PeerID, action string, data json.RawMessage)
}

// PeerListSink consumes mesh discovery announcements.
type PeerListSink interface {
	HandlePeerList(from domain.PeerID, msg protocol.PeerList)
}

// LocalState supplies the local peer's announcements for bootstrapping
// newly connected peers.
type LocalState interface {
	LocalStatus() protocol.Status
	LocalProfile() protocol.Profile
	// ActiveAnnouncement returns the activity/start message to replay
	// to a new peer, if a shared activity is currently active.
	ActiveAnnouncement() (protocol.Activity, bool)
}

type Router struct {
	logger zerolog.Logger

	Dir      Directory
	Presence *presence.Store
	Chat     *chat.Log
	Playback ActivityHandler
	Drawing  ActivityHandler
	Mesh     PeerListSink
	Local    LocalState
}

func New(dir Directory) *Router {
	return &Router{
		logger: log.With().Str("module", "router").Logger(),
		Dir:    dir,
	}
}

// Send serializes v to one peer. Absent or closed channels drop
// silently: no queueing, no retry.
func (r *Router) Send(to domain.PeerID, v any) {
	ch, ok := r.Dir.Channel(to)
	if !ok || !ch.IsOpen() {
		r.logger.Debug().Str("peer", string(to)).Msg("send dropped, no open channel")
		return
	}
	frame, err := protocol.Marshal(v)
	if err != nil {
		r.logger.Error().Err(err).Str("peer", string(to)).Msg("send marshal")
		return
	}
	if err = ch.TrySend(frame); err != nil {
		r.logger.Debug().Err(err).Str("peer", string(to)).Msg("send dropped")
	}
}

// Broadcast serializes v once and fans it out to every currently-open
// data channel. Openness is re-checked immediately before each send
// since a close can land between snapshot and flush.
func (r *Router) Broadcast(v any) {
	frame, err := protocol.Marshal(v)
	if err != nil {
		r.logger.Error().Err(err).Msg("broadcast marshal")
		return
	}
	sent, dropped := 0, 0
	for _, ep := range r.Dir.Endpoints() {
		if !ep.Ch.IsOpen() {
			dropped++
			continue
		}
		if err = ep.Ch.TrySend(frame); err != nil {
			dropped++
			continue
		}
		sent++
	}
	if dropped > 0 {
		r.logger.Debug().Int("sent", sent).Int("dropped", dropped).Msg("broadcast result")
	}
}

// Bootstrap proactively announces the local peer's full state to a
// newly connected peer so it needs no other trigger to converge.
func (r *Router) Bootstrap(to domain.PeerID) {
	if r.Local == nil {
		return
	}
	r.Send(to, r.Local.LocalStatus())
	r.Send(to, r.Local.LocalProfile())
	if ann, ok := r.Local.ActiveAnnouncement(); ok {
		r.Send(to, ann)
	}
}

// Dispatch decodes one inbound frame and forwards it to the matching
// consumer. Unknown tags are ignored for forward compatibility.
func (r *Router) Dispatch(from domain.PeerID, frame core.Frame) {
	typ, err := protocol.Probe(frame)
	if err != nil {
		r.logger.Warn().Err(err).Str("peer", string(from)).Msg("bad frame")
		return
	}
	switch typ {
	case protocol.TypeStatus:
		r.handleStatus(from, frame)
	case protocol.TypeProfileUpdate:
		r.handleProfile(from, frame)
	case protocol.TypeChat:
		r.handleChat(from, frame)
	case protocol.TypeFileShare:
		r.handleFileShare(from, frame)
	case protocol.TypePeerList:
		r.handlePeerList(from, frame)
	case protocol.TypeActivity:
		r.handleActivity(from, frame)
	default:
		r.logger.Debug().Str("peer", string(from)).Str("type", string(typ)).Msg("unknown message type ignored")
	}
}

func (r *Router) handleStatus(from domain.PeerID, frame core.Frame) {
	var msg protocol.Status
	if err := json.Unmarshal(frame, &msg); err != nil {
		r.logger.Warn().Err(err).Str("peer", string(from)).Msg("bad status payload")
		return
	}
	p := presence.StatusPatch(msg.Status)
	if msg.Activity != "" {
		p.Activity = presence.Act(msg.Activity)
	}
	if err := r.Presence.Upsert(from, p); err != nil {
		r.logger.Warn().Err(err).Msg("status upsert")
	}
}

func (r *Router) handleProfile(from domain.PeerID, frame core.Frame) {
	var msg protocol.Profile
	if err := json.Unmarshal(frame, &msg); err != nil {
		r.logger.Warn().Err(err).Str("peer", string(from)).Msg("bad profile payload")
		return
	}
	p := presence.Patch{}
	if msg.Name != "" {
		p.DisplayName = presence.String(msg.Name)
	}
	if msg.Avatar != "" {
		p.Avatar = presence.String(msg.Avatar)
	}
	if err := r.Presence.Upsert(from, p); err != nil {
		r.logger.Warn().Err(err).Msg("profile upsert")
	}
}

func (r *Router) handleChat(from domain.PeerID, frame core.Frame) {
	var msg protocol.Chat
	if err := json.Unmarshal(frame, &msg); err != nil {
		r.logger.Warn().Err(err).Str("peer", string(from)).Msg("bad chat payload")
		return
	}
	r.Chat.Append(chat.Entry{
		From:     from,
		FromName: r.displayName(from),
		Kind:     chat.KindMessage,
		Body:     msg.Body,
		At:       time.Unix(msg.SentAt, 0),
	})
}

func (r *Router) handleFileShare(from domain.PeerID, frame core.Frame) {
	var msg protocol.FileShare
	if err := json.Unmarshal(frame, &msg); err != nil {
		r.logger.Warn().Err(err).Str("peer", string(from)).Msg("bad file-share payload")
		return
	}
	r.Chat.Append(chat.Entry{
		From:     from,
		FromName: r.displayName(from),
		Kind:     chat.KindFile,
		FileName: msg.Name,
		FileSize: msg.Size,
		FileRef:  msg.Ref,
		At:       time.Unix(msg.SentAt, 0),
	})
}

func (r *Router) handlePeerList(from domain.PeerID, frame core.Frame) {
	var msg protocol.PeerList
	if err := json.Unmarshal(frame, &msg); err != nil {
		r.logger.Warn().Err(err).Str("peer", string(from)).Msg("bad peer-list payload")
		return
	}
	if r.Mesh != nil {
		r.Mesh.HandlePeerList(from, msg)
	}
}

func (r *Router) handleActivity(from domain.PeerID, frame core.Frame) {
	var msg protocol.Activity
	if err := json.Unmarshal(frame, &msg); err != nil {
		r.logger.Warn().Err(err).Str("peer", string(from)).Msg("bad activity payload")
		return
	}
	switch msg.Activity {
	case protocol.ActivityPlayback:
		if r.Playback != nil {
			r.Playback.HandleRemote(from, msg.Action, msg.Data)
		}
	case protocol.ActivityDrawing:
		if r.Drawing != nil {
			r.Drawing.HandleRemote(from, msg.Action, msg.Data)
		}
	default:
		r.logger.Debug().Str("activity", string(msg.Activity)).Msg("unknown activity type ignored")
	}
}

func (r *Router) displayName(id domain.PeerID) string {
	if p, ok := r.Presence.Get(id); ok && p.DisplayName != "" {
		return p.DisplayName
	}
	return string(id)
}
