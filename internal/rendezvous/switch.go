// Package rendezvous is the signaling relay: it forwards negotiation
// envelopes between registered peers and knows nothing about rooms,
// membership or session state.
package rendezvous

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrPeerTaken   = errors.New("peer id already registered")
	ErrEmptyPeerID = errors.New("empty peer id")
)

// Envelope mirrors the node-side signal envelope; the switchboard
// only reads the address fields and re-stamps src so a peer cannot
// impersonate another.
type Envelope struct {
	DST     string          `json:"dst"`
	SRC     string          `json:"src"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Wire is one registered peer's outbound queue.
type Wire struct {
	TX chan []byte
}

type Switchboard struct {
	logger zerolog.Logger
	mu     sync.RWMutex
	wires  map[string]Wire
}

func NewSwitchboard() *Switchboard {
	return &Switchboard{
		logger: log.With().Str("module", "rendezvous.switch").Logger(),
		wires:  make(map[string]Wire),
	}
}

// Register claims a peer id and returns its wire. Duplicate ids are
// rejected; first registration wins.
func (sw *Switchboard) Register(peerID string) (Wire, error) {
	if peerID == "" {
		return Wire{}, ErrEmptyPeerID
	}
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if _, ok := sw.wires[peerID]; ok {
		return Wire{}, ErrPeerTaken
	}
	w := Wire{TX: make(chan []byte, 32)}
	sw.wires[peerID] = w
	sw.logger.Debug().Str("peer", peerID).Msg("peer registered")
	return w, nil
}

func (sw *Switchboard) Unregister(peerID string) {
	sw.mu.Lock()
	w, ok := sw.wires[peerID]
	delete(sw.wires, peerID)
	sw.mu.Unlock()
	if ok {
		close(w.TX)
		sw.logger.Debug().Str("peer", peerID).Msg("peer unregistered")
	}
}

func (sw *Switchboard) Count() int {
	sw.mu.RLock()
	defer sw.mu.RUnlock()
	return len(sw.wires)
}

// Route re-stamps the src and forwards one envelope. An empty dst
// fans the envelope out to every other peer. Unknown destinations and
// full wires drop the frame; signaling is as best-effort as the mesh
// it bootstraps.
func (sw *Switchboard) Route(src string, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		sw.logger.Warn().Err(err).Str("src", src).Msg("bad envelope")
		return
	}
	env.SRC = src
	if env.DST == src {
		sw.logger.Debug().Str("src", src).Str("type", env.Type).Msg("self-addressed envelope dropped")
		return
	}
	out, err := json.Marshal(env)
	if err != nil {
		sw.logger.Error().Err(err).Msg("re-stamp marshal")
		return
	}

	if env.DST == "" {
		sw.mu.RLock()
		for id, w := range sw.wires {
			if id == src {
				continue
			}
			sw.push(id, w, out)
		}
		sw.mu.RUnlock()
		return
	}

	sw.mu.RLock()
	w, ok := sw.wires[env.DST]
	sw.mu.RUnlock()
	if !ok {
		sw.logger.Debug().Str("src", src).Str("dst", env.DST).Msg("cannot forward, dst not found")
		return
	}
	sw.push(env.DST, w, out)
}

func (sw *Switchboard) push(id string, w Wire, out []byte) {
	select {
	case w.TX <- out:
	default:
		sw.logger.Warn().Str("dst", id).Msg("dead endpoint, envelope dropped")
	}
}
