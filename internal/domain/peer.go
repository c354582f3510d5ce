// Package domain contains entity without logic, just meta-data
package domain

import "errors"

const (
	MaxPeerIDLen      = 64
	MaxDisplayNameLen = 36
)

var (
	ErrDisplayNameTooLong = errors.New("display name too long")
	ErrDisplayNameEmpty   = errors.New("display name empty")
)

type PeerID string

// Activity is the shared sub-session a peer currently participates in.
type Activity string

const (
	ActivityNone     Activity = "none"
	ActivityPlayback Activity = "playback"
	ActivityDrawing  Activity = "drawing"
)

// Status is a peer's broadcastable state.
type Status struct {
	Muted         bool `json:"muted"`
	Deafened      bool `json:"deafened"`
	VideoEnabled  bool `json:"video_enabled"`
	ScreenSharing bool `json:"screen_sharing"`
}

// Peer is one remote participant as known locally.
// LocalVolume and IsSpeaking are receiver-side only and never transmitted.
type Peer struct {
	ID              PeerID   `json:"id"`
	DisplayName     string   `json:"display_name"`
	Avatar          string   `json:"avatar,omitempty"`
	Status          Status   `json:"status"`
	CurrentActivity Activity `json:"current_activity"`
	LocalVolume     float64  `json:"-"`
	IsSpeaking      bool     `json:"-"`
	// Pending is true until both the data and media channel are open.
	Pending bool `json:"-"`
}

// ValidateDisplayName checks a user-chosen name before it is adopted
// or broadcast.
func ValidateDisplayName(name string) error {
	if len(name) == 0 {
		return ErrDisplayNameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return ErrDisplayNameTooLong
	}
	return nil
}
