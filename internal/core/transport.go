package core

import (
	"context"

	"github.com/huddle-live/huddle/internal/domain"
)

// ConnectMeta travels with an outbound connection attempt so the
// remote side can label the pending peer before any protocol message.
type ConnectMeta struct {
	DisplayName string `json:"display_name"`
}

// Transport is the external signaling/peer-connection collaborator.
// Implementations own channel resources; the mesh coordinator owns
// their lifecycle (when to open, adopt and close them).
type Transport interface {
	// Connect opens a data channel to target. The returned channel is
	// not necessarily open yet; openness is signaled via ChannelEvents.
	Connect(ctx context.Context, target domain.PeerID, meta ConnectMeta) (DataChannel, error)
	// Call opens a media channel to target carrying the local stream.
	Call(ctx context.Context, target domain.PeerID) (MediaChannel, error)
	// OnConnection registers the handler for inbound data channels.
	OnConnection(func(from domain.PeerID, ch DataChannel))
	// OnCall registers the handler for inbound media channels.
	OnCall(func(from domain.PeerID, ch MediaChannel))
	Close()
}
