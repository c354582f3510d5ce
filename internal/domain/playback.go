package domain

// PlayerState mirrors the external player's coarse state.
type PlayerState string

const (
	PlayerPlaying   PlayerState = "playing"
	PlayerPaused    PlayerState = "paused"
	PlayerBuffering PlayerState = "buffering"
)

// QueueItem is one entry of the shared playback queue.
// The queue is replicated by full-snapshot broadcast, not diffs.
type QueueItem struct {
	ID           string `json:"id"`
	MediaRef     string `json:"media_ref"`
	Title        string `json:"title"`
	ThumbnailRef string `json:"thumbnail_ref,omitempty"`
	AddedByID    PeerID `json:"added_by_id"`
	AddedByName  string `json:"added_by_name"`
}
