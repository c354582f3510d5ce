// Package presence holds the authoritative local view of all known
// peers. Pure state: no I/O, all mutation funnels through the mesh
// coordinator and message router.
package presence

import (
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/huddle-live/huddle/internal/domain"
)

var ErrEmptyPeerID = errors.New("peer id is empty")

// Patch is a partial update. Nil fields are left untouched, so a
// status update can never clobber an unrelated field.
type Patch struct {
	DisplayName   *string
	Avatar        *string
	Muted         *bool
	Deafened      *bool
	VideoEnabled  *bool
	ScreenSharing *bool
	Activity      *domain.Activity
	LocalVolume   *float64
	Speaking      *bool
	Pending       *bool
}

type Event struct {
	Type   string        `json:"type"` // "update" or "remove"
	PeerID domain.PeerID `json:"peer_id"`
	Peer   *domain.Peer  `json:"peer,omitempty"`
}

type Store struct {
	mu        sync.RWMutex
	peers     map[domain.PeerID]*domain.Peer
	listeners []chan Event
}

func NewStore() *Store {
	return &Store{peers: make(map[domain.PeerID]*domain.Peer)}
}

// Upsert creates the peer on first sight and merges the patch into it.
// Beyond "id must be non-empty" there is no validation; the protocol
// trusts its peers.
func (s *Store) Upsert(id domain.PeerID, p Patch) error {
	if id == "" {
		return ErrEmptyPeerID
	}
	s.mu.Lock()
	peer, ok := s.peers[id]
	if !ok {
		peer = &domain.Peer{ID: id, CurrentActivity: domain.ActivityNone, LocalVolume: 1, Pending: true}
		s.peers[id] = peer
		log.Debug().Str("module", "presence").Str("peer", string(id)).Msg("peer created")
	}
	merge(peer, p)
	cp := *peer
	s.mu.Unlock()
	s.notify(Event{Type: "update", PeerID: id, Peer: &cp})
	return nil
}

func merge(peer *domain.Peer, p Patch) {
	if p.DisplayName != nil {
		peer.DisplayName = *p.DisplayName
	}
	if p.Avatar != nil {
		peer.Avatar = *p.Avatar
	}
	if p.Muted != nil {
		peer.Status.Muted = *p.Muted
	}
	if p.Deafened != nil {
		peer.Status.Deafened = *p.Deafened
	}
	if p.VideoEnabled != nil {
		peer.Status.VideoEnabled = *p.VideoEnabled
	}
	if p.ScreenSharing != nil {
		peer.Status.ScreenSharing = *p.ScreenSharing
	}
	if p.Activity != nil {
		peer.CurrentActivity = *p.Activity
	}
	if p.LocalVolume != nil {
		peer.LocalVolume = *p.LocalVolume
	}
	if p.Speaking != nil {
		peer.IsSpeaking = *p.Speaking
	}
	if p.Pending != nil {
		peer.Pending = *p.Pending
	}
}

func (s *Store) Get(id domain.PeerID) (domain.Peer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	peer, ok := s.peers[id]
	if !ok {
		return domain.Peer{}, false
	}
	return *peer, true
}

func (s *Store) Remove(id domain.PeerID) {
	s.mu.Lock()
	_, ok := s.peers[id]
	delete(s.peers, id)
	s.mu.Unlock()
	if ok {
		log.Debug().Str("module", "presence").Str("peer", string(id)).Msg("peer removed")
		s.notify(Event{Type: "remove", PeerID: id})
	}
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

func (s *Store) IDs() []domain.PeerID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]domain.PeerID, 0, len(s.peers))
	for id := range s.peers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Snapshot returns copies; callers never see live records.
func (s *Store) Snapshot() []domain.Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Subscribe returns a channel of presence events for UI observation.
// Slow subscribers lose events instead of blocking mutation.
func (s *Store) Subscribe() chan Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan Event, 16)
	s.listeners = append(s.listeners, ch)
	return ch
}

func (s *Store) Unsubscribe(ch chan Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, listener := range s.listeners {
		if listener == ch {
			close(listener)
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}

func (s *Store) notify(evt Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.listeners {
		select {
		case ch <- evt:
		default:
		}
	}
}
