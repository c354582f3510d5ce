package rtc

import (
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/huddle-live/huddle/internal/core"
)

var ErrChannelNotOpen = errors.New("data channel not open")

// dataChannel adapts a pion data channel to core.DataChannel. Events
// that fire before Bind are remembered so adoption never misses the
// open edge.
type dataChannel struct {
	link *peerLink
	dc   *webrtc.DataChannel

	mu     sync.Mutex
	events core.ChannelEvents
	opened bool
	closed bool
}

func newDataChannel(link *peerLink, dc *webrtc.DataChannel) *dataChannel {
	ch := &dataChannel{link: link, dc: dc}
	dc.OnOpen(func() {
		ch.mu.Lock()
		ch.opened = true
		fn := ch.events.OnOpen
		ch.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		ch.mu.Lock()
		fn := ch.events.OnData
		ch.mu.Unlock()
		if fn != nil {
			fn(core.Frame(msg.Data))
		}
	})
	dc.OnClose(func() {
		ch.mu.Lock()
		already := ch.closed
		ch.closed = true
		fn := ch.events.OnClose
		ch.mu.Unlock()
		if !already && fn != nil {
			fn()
		}
	})
	dc.OnError(func(err error) {
		ch.mu.Lock()
		fn := ch.events.OnError
		ch.mu.Unlock()
		if fn != nil {
			fn(err)
		}
	})
	return ch
}

func (ch *dataChannel) Bind(ev core.ChannelEvents) {
	ch.mu.Lock()
	ch.events = ev
	replayOpen := ch.opened && ev.OnOpen != nil
	ch.mu.Unlock()
	if replayOpen {
		ev.OnOpen()
	}
}

func (ch *dataChannel) TrySend(f core.Frame) error {
	if ch.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrChannelNotOpen
	}
	return ch.dc.Send(f)
}

func (ch *dataChannel) IsOpen() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.opened && !ch.closed && ch.dc.ReadyState() == webrtc.DataChannelStateOpen
}

// Close tears down the whole peer link: one PeerConnection carries
// both legs, so closing either closes both. Idempotent.
func (ch *dataChannel) Close() {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return
	}
	ch.closed = true
	ch.mu.Unlock()
	ch.link.close()
}

// mediaChannel adapts the media leg of a peer link.
type mediaChannel struct {
	link *peerLink

	mu     sync.Mutex
	events core.MediaEvents
	closed bool
}

func newMediaChannel(link *peerLink) *mediaChannel {
	return &mediaChannel{link: link}
}

func (ch *mediaChannel) Bind(ev core.MediaEvents) {
	ch.mu.Lock()
	ch.events = ev
	ch.mu.Unlock()
}

func (ch *mediaChannel) IsClosed() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.closed
}

func (ch *mediaChannel) Close() {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return
	}
	ch.closed = true
	ch.mu.Unlock()
	ch.link.close()
}

func (ch *mediaChannel) fireClose() {
	ch.mu.Lock()
	already := ch.closed
	ch.closed = true
	fn := ch.events.OnClose
	ch.mu.Unlock()
	if !already && fn != nil {
		fn()
	}
}

func (ch *mediaChannel) fireAudioLevel(level float64) {
	ch.mu.Lock()
	fn := ch.events.OnAudioLevel
	ch.mu.Unlock()
	if fn != nil {
		fn(level)
	}
}
