package core

// Frame is a raw payload carried over a data channel.
type Frame []byte

// ChannelEvents is the handler contract for one data channel.
// It is registered once, at adoption time, before any traffic is
// processed; handlers must capture peer ids, not live state.
type ChannelEvents struct {
	OnOpen  func()
	OnData  func(Frame)
	OnClose func()
	OnError func(error)
}

// DataChannel abstracts one reliable-ordered connection to one remote
// peer. Owned by the adapter; the adapter must Close() it.
type DataChannel interface {
	// Bind registers the event handlers. Must be called before the
	// channel is used; calling it again replaces the previous set.
	Bind(ChannelEvents)
	// TrySend queues a frame without blocking. It fails when the
	// channel is closed or the send buffer is full.
	TrySend(Frame) error
	IsOpen() bool
	// Close is idempotent.
	Close()
}

// MediaEvents is the handler contract for one media channel.
type MediaEvents struct {
	OnClose func()
	// OnAudioLevel reports receiver-side audio activity in [0,1].
	OnAudioLevel func(level float64)
}

// MediaChannel abstracts the audio/video leg to one remote peer.
// Capture and rendering stay with the external collaborator.
type MediaChannel interface {
	Bind(MediaEvents)
	IsClosed() bool
	Close()
}
