package app

import (
	"time"

	"github.com/huddle-live/huddle/internal/chat"
	"github.com/huddle-live/huddle/internal/domain"
	"github.com/huddle-live/huddle/internal/presence"
	"github.com/huddle-live/huddle/internal/protocol"
)

// Local user controls. Each mutates the local peer and broadcasts the
// resulting status or profile; remote peers merge, never replace.

func (s *Session) SetMuted(muted bool) {
	s.mu.Lock()
	s.self.Status.Muted = muted
	s.mu.Unlock()
	s.Router.Broadcast(s.LocalStatus())
}

func (s *Session) SetDeafened(deafened bool) {
	s.mu.Lock()
	s.self.Status.Deafened = deafened
	s.mu.Unlock()
	s.Router.Broadcast(s.LocalStatus())
}

func (s *Session) SetVideoEnabled(enabled bool) {
	s.mu.Lock()
	s.self.Status.VideoEnabled = enabled
	s.mu.Unlock()
	s.Router.Broadcast(s.LocalStatus())
}

func (s *Session) SetScreenSharing(sharing bool) {
	s.mu.Lock()
	s.self.Status.ScreenSharing = sharing
	s.mu.Unlock()
	s.Router.Broadcast(s.LocalStatus())
}

func (s *Session) Rename(name string) error {
	if err := domain.ValidateDisplayName(name); err != nil {
		return err
	}
	s.mu.Lock()
	s.self.DisplayName = name
	s.mu.Unlock()
	s.Router.Broadcast(s.LocalProfile())
	return nil
}

func (s *Session) SetAvatar(ref string) {
	s.mu.Lock()
	s.self.Avatar = ref
	s.mu.Unlock()
	s.Router.Broadcast(s.LocalProfile())
}

// SetLocalVolume adjusts how loud a remote peer plays here.
// Receiver-side only, never transmitted.
func (s *Session) SetLocalVolume(id domain.PeerID, volume float64) {
	if volume < 0 {
		volume = 0
	}
	if volume > 1 {
		volume = 1
	}
	_ = s.Store.Upsert(id, presence.Patch{LocalVolume: presence.Float(volume)})
}

// Pin marks one peer's view as the focused tile.
func (s *Session) Pin(id domain.PeerID) {
	s.mu.Lock()
	s.pinned = id
	s.mu.Unlock()
}

func (s *Session) Pinned() domain.PeerID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pinned
}

// SendChat appends to the local log and broadcasts.
func (s *Session) SendChat(body string) {
	now := time.Now()
	self := s.Self()
	s.Chat.Append(chat.Entry{
		From:     self.ID,
		FromName: self.DisplayName,
		Kind:     chat.KindMessage,
		Body:     body,
		At:       now,
	})
	s.Router.Broadcast(protocol.Chat{Type: protocol.TypeChat, Body: body, SentAt: now.Unix()})
}

// ShareFile announces an opaque file reference; payload transfer is
// the collaborator's business.
func (s *Session) ShareFile(name string, size int64, ref string) {
	now := time.Now()
	self := s.Self()
	s.Chat.Append(chat.Entry{
		From:     self.ID,
		FromName: self.DisplayName,
		Kind:     chat.KindFile,
		FileName: name,
		FileSize: size,
		FileRef:  ref,
		At:       now,
	})
	s.Router.Broadcast(protocol.FileShare{Type: protocol.TypeFileShare, Name: name, Size: size, Ref: ref, SentAt: now.Unix()})
}

// StartPlayback enters the shared playback activity.
func (s *Session) StartPlayback() {
	s.setActivity(domain.ActivityPlayback)
	s.Playback.Start()
	s.Router.Broadcast(s.LocalStatus())
}

func (s *Session) StopPlayback() {
	s.Playback.Stop()
	s.setActivity(domain.ActivityNone)
	s.Router.Broadcast(s.LocalStatus())
}

// StartDrawing enters the drawing activity as initiator.
func (s *Session) StartDrawing() {
	s.setActivity(domain.ActivityDrawing)
	s.Drawing.Start(s.ctx)
	s.Router.Broadcast(s.LocalStatus())
}

// JoinDrawing enters a drawing activity someone else started; the
// board catches up via a sync-request to one established peer.
func (s *Session) JoinDrawing() {
	s.setActivity(domain.ActivityDrawing)
	s.Drawing.Join(s.ctx, s.syncSource())
	s.Router.Broadcast(s.LocalStatus())
}

// syncSource picks the peer to catch up from: any single open data
// channel serves, every participant holds the full history.
func (s *Session) syncSource() domain.PeerID {
	eps := s.Mesh.Endpoints()
	if len(eps) == 0 {
		return ""
	}
	return eps[0].ID
}

func (s *Session) StopDrawing() {
	s.Drawing.Stop()
	s.setActivity(domain.ActivityNone)
	s.Router.Broadcast(s.LocalStatus())
}

func (s *Session) setActivity(a domain.Activity) {
	s.mu.Lock()
	s.self.CurrentActivity = a
	s.mu.Unlock()
}
