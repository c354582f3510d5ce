// Package rtc implements core.Transport over pion/webrtc: one
// PeerConnection per remote peer carrying a data channel and the
// audio/video legs, negotiated through the rendezvous.
package rtc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/huddle-live/huddle/internal/adapters/signal"
	"github.com/huddle-live/huddle/internal/core"
	"github.com/huddle-live/huddle/internal/domain"
)

const dataChannelLabel = "huddle"

type peerLink struct {
	id    domain.PeerID
	pc    *webrtc.PeerConnection
	data  *dataChannel
	media *mediaChannel

	// polite side yields on offer glare, per perfect negotiation.
	polite      bool
	mu          sync.Mutex
	makingOffer bool

	closeOnce sync.Once
}

func (l *peerLink) close() {
	l.closeOnce.Do(func() {
		_ = l.pc.Close()
		if l.media != nil {
			l.media.fireClose()
		}
	})
}

type Transport struct {
	logger zerolog.Logger
	self   domain.PeerID
	api    *webrtc.API
	cfg    webrtc.Configuration
	sig    *signal.Client
	ctx    context.Context

	mu    sync.RWMutex
	links map[domain.PeerID]*peerLink

	onConnection func(domain.PeerID, core.DataChannel)
	onCall       func(domain.PeerID, core.MediaChannel)
	// selfName is guarded by mu; Connect writes it, offer goroutines
	// read it.
	selfName string
}

func NewTransport(ctx context.Context, self domain.PeerID, stunServers []string, sig *signal.Client) (*Transport, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	if err := m.RegisterHeaderExtension(
		webrtc.RTPHeaderExtensionCapability{URI: audioLevelURI}, webrtc.RTPCodecTypeAudio,
	); err != nil {
		return nil, fmt.Errorf("register audio-level extension: %w", err)
	}

	servers := make([]webrtc.ICEServer, 0, len(stunServers))
	for _, s := range stunServers {
		servers = append(servers, webrtc.ICEServer{URLs: []string{s}})
	}

	t := &Transport{
		logger: log.With().Str("module", "rtc").Str("self", string(self)).Logger(),
		self:   self,
		api:    webrtc.NewAPI(webrtc.WithMediaEngine(m)),
		cfg:    webrtc.Configuration{ICEServers: servers},
		sig:    sig,
		ctx:    ctx,
		links:  make(map[domain.PeerID]*peerLink),
	}
	sig.OnEnvelope(t.handleEnvelope)
	return t, nil
}

func (t *Transport) OnConnection(fn func(domain.PeerID, core.DataChannel)) { t.onConnection = fn }
func (t *Transport) OnCall(fn func(domain.PeerID, core.MediaChannel))      { t.onCall = fn }

// Connect opens the data leg toward target. The channel reports open
// via its bound events once negotiation completes.
func (t *Transport) Connect(_ context.Context, target domain.PeerID, meta core.ConnectMeta) (core.DataChannel, error) {
	t.mu.Lock()
	t.selfName = meta.DisplayName
	t.mu.Unlock()
	link, err := t.ensureLink(target)
	if err != nil {
		return nil, err
	}
	link.mu.Lock()
	defer link.mu.Unlock()
	if link.data == nil {
		dc, err := link.pc.CreateDataChannel(dataChannelLabel, nil)
		if err != nil {
			return nil, fmt.Errorf("create data channel: %w", err)
		}
		link.data = newDataChannel(link, dc)
	}
	return link.data, nil
}

// Call opens the media leg toward target: sendrecv audio and video
// transceivers on the shared PeerConnection. Actual capture tracks
// are attached by the collaborator via AddLocalTrack.
func (t *Transport) Call(_ context.Context, target domain.PeerID) (core.MediaChannel, error) {
	link, err := t.ensureLink(target)
	if err != nil {
		return nil, err
	}
	link.mu.Lock()
	defer link.mu.Unlock()
	if link.media == nil {
		for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
			if _, err := link.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
				Direction: webrtc.RTPTransceiverDirectionSendrecv,
			}); err != nil {
				return nil, fmt.Errorf("add %s transceiver: %w", kind, err)
			}
		}
		link.media = newMediaChannel(link)
	}
	return link.media, nil
}

// AddLocalTrack attaches a captured local track to the link for one
// peer. Mirrors the media engine collaborator boundary: capture stays
// outside, attachment is ours.
func (t *Transport) AddLocalTrack(target domain.PeerID, track *webrtc.TrackLocalStaticRTP) (*webrtc.RTPSender, error) {
	t.mu.RLock()
	link, ok := t.links[target]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no link to %s", target)
	}
	return link.pc.AddTrack(track)
}

func (t *Transport) Close() {
	t.mu.Lock()
	links := make([]*peerLink, 0, len(t.links))
	for _, l := range t.links {
		links = append(links, l)
	}
	t.links = make(map[domain.PeerID]*peerLink)
	t.mu.Unlock()
	for _, l := range links {
		l.close()
	}
	t.sig.Close()
}

// ensureLink returns the existing link or builds a PeerConnection
// with all handlers wired.
func (t *Transport) ensureLink(id domain.PeerID) (*peerLink, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if link, ok := t.links[id]; ok {
		return link, nil
	}

	pc, err := t.api.NewPeerConnection(t.cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	link := &peerLink{
		id:     id,
		pc:     pc,
		polite: t.self > id,
	}
	t.links[id] = link

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		init := cand.ToJSON()
		env, err := signal.NewEnvelope(string(id), signal.TypeCandidate, signal.CandidatePayload{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		})
		if err == nil {
			if err = t.sig.Send(env); err != nil {
				t.logger.Warn().Err(err).Str("peer", string(id)).Msg("candidate send dropped")
			}
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		t.logger.Info().Str("peer", string(id)).Str("state", s.String()).Msg("peer connection state")
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			t.dropLink(id)
			link.close()
		}
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		link.mu.Lock()
		if link.data != nil {
			link.mu.Unlock()
			return
		}
		link.data = newDataChannel(link, dc)
		ch := link.data
		link.mu.Unlock()
		if t.onConnection != nil {
			t.onConnection(id, ch)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		t.logger.Info().
			Str("peer", string(id)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Msg("remote track")
		link.mu.Lock()
		media := link.media
		first := media == nil
		if first {
			media = newMediaChannel(link)
			link.media = media
		}
		link.mu.Unlock()
		if first && t.onCall != nil {
			t.onCall(id, media)
		}
		if track.Kind() == webrtc.RTPCodecTypeAudio {
			go t.readAudioLevels(track, media)
		}
	})

	pc.OnNegotiationNeeded(func() {
		go t.negotiate(link)
	})

	return link, nil
}

func (t *Transport) dropLink(id domain.PeerID) {
	t.mu.Lock()
	delete(t.links, id)
	t.mu.Unlock()
}

func (t *Transport) negotiate(link *peerLink) {
	link.mu.Lock()
	if link.makingOffer {
		link.mu.Unlock()
		return
	}
	link.makingOffer = true
	link.mu.Unlock()

	offer, err := link.pc.CreateOffer(nil)
	if err != nil {
		t.logger.Error().Err(err).Str("peer", string(link.id)).Msg("create offer")
		t.clearMakingOffer(link)
		return
	}
	if err = link.pc.SetLocalDescription(offer); err != nil {
		t.logger.Error().Err(err).Str("peer", string(link.id)).Msg("set local offer")
		t.clearMakingOffer(link)
		return
	}
	t.mu.RLock()
	selfName := t.selfName
	t.mu.RUnlock()
	env, err := signal.NewEnvelope(string(link.id), signal.TypeOffer, signal.SDPPayload{
		SDP:         offer.SDP,
		DisplayName: selfName,
	})
	if err != nil {
		t.clearMakingOffer(link)
		return
	}
	if err = t.sig.Send(env); err != nil {
		t.logger.Warn().Err(err).Str("peer", string(link.id)).Msg("offer send dropped")
	}
}

func (t *Transport) clearMakingOffer(link *peerLink) {
	link.mu.Lock()
	link.makingOffer = false
	link.mu.Unlock()
}

func (t *Transport) handleEnvelope(env signal.Envelope) {
	from := domain.PeerID(env.SRC)
	switch env.Type {
	case signal.TypeOffer:
		t.handleOffer(from, env)
	case signal.TypeAnswer:
		t.handleAnswer(from, env)
	case signal.TypeCandidate:
		t.handleCandidate(from, env)
	default:
		t.logger.Debug().Str("type", env.Type).Msg("unknown signal envelope ignored")
	}
}

func (t *Transport) handleOffer(from domain.PeerID, env signal.Envelope) {
	var p signal.SDPPayload
	if err := unmarshalPayload(env, &p); err != nil {
		t.logger.Warn().Err(err).Msg("bad offer payload")
		return
	}
	link, err := t.ensureLink(from)
	if err != nil {
		t.logger.Error().Err(err).Str("peer", string(from)).Msg("offer link")
		return
	}

	// Offer glare: the impolite side keeps its own offer, the polite
	// side rolls back and takes the remote one.
	link.mu.Lock()
	glare := link.makingOffer || link.pc.SignalingState() != webrtc.SignalingStateStable
	if glare && !link.polite {
		link.mu.Unlock()
		t.logger.Debug().Str("peer", string(from)).Msg("offer glare, ignoring (impolite)")
		return
	}
	link.makingOffer = false
	link.mu.Unlock()
	if glare {
		if err = link.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
			t.logger.Warn().Err(err).Str("peer", string(from)).Msg("rollback failed")
		}
	}

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: p.SDP}
	if err = link.pc.SetRemoteDescription(offer); err != nil {
		t.logger.Error().Err(err).Str("peer", string(from)).Msg("set remote offer")
		return
	}
	answer, err := link.pc.CreateAnswer(nil)
	if err != nil {
		t.logger.Error().Err(err).Str("peer", string(from)).Msg("create answer")
		return
	}
	if err = link.pc.SetLocalDescription(answer); err != nil {
		t.logger.Error().Err(err).Str("peer", string(from)).Msg("set local answer")
		return
	}
	reply, err := signal.NewEnvelope(string(from), signal.TypeAnswer, signal.SDPPayload{SDP: answer.SDP})
	if err == nil {
		if err = t.sig.Send(reply); err != nil {
			t.logger.Warn().Err(err).Str("peer", string(from)).Msg("answer send dropped")
		}
	}
}

func (t *Transport) handleAnswer(from domain.PeerID, env signal.Envelope) {
	var p signal.SDPPayload
	if err := unmarshalPayload(env, &p); err != nil {
		t.logger.Warn().Err(err).Msg("bad answer payload")
		return
	}
	t.mu.RLock()
	link, ok := t.links[from]
	t.mu.RUnlock()
	if !ok {
		t.logger.Warn().Str("peer", string(from)).Msg("answer for unknown link")
		return
	}
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: p.SDP}
	if err := link.pc.SetRemoteDescription(answer); err != nil {
		t.logger.Error().Err(err).Str("peer", string(from)).Msg("set remote answer")
		return
	}
	t.clearMakingOffer(link)
}

func (t *Transport) handleCandidate(from domain.PeerID, env signal.Envelope) {
	var p signal.CandidatePayload
	if err := unmarshalPayload(env, &p); err != nil {
		t.logger.Warn().Err(err).Msg("bad candidate payload")
		return
	}
	t.mu.RLock()
	link, ok := t.links[from]
	t.mu.RUnlock()
	if !ok {
		t.logger.Warn().Str("peer", string(from)).Msg("candidate for unknown link")
		return
	}
	init := webrtc.ICECandidateInit{
		Candidate:     p.Candidate,
		SDPMid:        p.SDPMid,
		SDPMLineIndex: p.SDPMLineIndex,
	}
	if err := link.pc.AddICECandidate(init); err != nil {
		t.logger.Error().Err(err).Str("peer", string(from)).Msg("add ice candidate")
	}
}

func unmarshalPayload(env signal.Envelope, v any) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("%s envelope without payload", env.Type)
	}
	return json.Unmarshal(env.Payload, v)
}
