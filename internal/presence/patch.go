package presence

import "github.com/huddle-live/huddle/internal/domain"

// Pointer helpers for building patches inline.

func Bool(v bool) *bool { return &v }

func String(v string) *string { return &v }

func Float(v float64) *float64 { return &v }

func Act(v domain.Activity) *domain.Activity { return &v }

// StatusPatch spreads a full status struct into a field-level patch.
func StatusPatch(st domain.Status) Patch {
	return Patch{
		Muted:         Bool(st.Muted),
		Deafened:      Bool(st.Deafened),
		VideoEnabled:  Bool(st.VideoEnabled),
		ScreenSharing: Bool(st.ScreenSharing),
	}
}
