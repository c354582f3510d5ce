// Package protocol defines the wire schema shared by all peers.
// Every message is a JSON object with a "type" tag; unknown tags are
// ignored by receivers for forward compatibility.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/huddle-live/huddle/internal/core"
	"github.com/huddle-live/huddle/internal/domain"
)

type Type string

const (
	TypeStatus        Type = "status"
	TypeProfileUpdate Type = "profile-update"
	TypeChat          Type = "chat"
	TypeFileShare     Type = "file-share"
	TypePeerList      Type = "peer-list"
	TypeActivity      Type = "activity"
)

type ActivityType string

const (
	ActivityPlayback ActivityType = "playback"
	ActivityDrawing  ActivityType = "drawing"
)

// Activity actions.
const (
	ActionStart       = "start"
	ActionStop        = "stop"
	ActionSyncState   = "sync-state"
	ActionQueueAdd    = "queue-add"
	ActionQueueRemove = "queue-remove"
	ActionQueueSet    = "queue-set"
	ActionPlayItem    = "play-item"
	ActionSegments    = "segments"
	ActionClear       = "clear"
	ActionPage        = "page"
	ActionSyncRequest = "sync-request"
)

type Status struct {
	Type     Type            `json:"type"`
	Status   domain.Status   `json:"status"`
	Activity domain.Activity `json:"activity"`
}

type Profile struct {
	Type   Type   `json:"type"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

type Chat struct {
	Type   Type   `json:"type"`
	Body   string `json:"body"`
	SentAt int64  `json:"sent_at"`
}

type FileShare struct {
	Type   Type   `json:"type"`
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	Ref    string `json:"ref"`
	SentAt int64  `json:"sent_at"`
}

// PeerList announces all other currently-connected peers to a new
// joiner. Capacity is the host-announced room size including the host,
// carried informationally; enforcement stays local to each member.
type PeerList struct {
	Type     Type            `json:"type"`
	Peers    []domain.PeerID `json:"peers"`
	Capacity int             `json:"capacity,omitempty"`
}

type Activity struct {
	Type     Type            `json:"type"`
	Activity ActivityType    `json:"activity"`
	Action   string          `json:"action"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// Playback payloads.

type SyncState struct {
	State    domain.PlayerState `json:"state"`
	Position float64            `json:"position"`
}

type QueueAdd struct {
	Item domain.QueueItem `json:"item"`
}

type QueueRemove struct {
	ItemID string `json:"item_id"`
}

// QueueSet is a full-snapshot replace of the queue and selection.
type QueueSet struct {
	Items    []domain.QueueItem `json:"items"`
	ActiveID string             `json:"active_id,omitempty"`
}

type PlayItem struct {
	ItemID string `json:"item_id"`
}

// Drawing payloads.

type Segments struct {
	Page     int                  `json:"page"`
	Segments []domain.DrawSegment `json:"segments"`
}

type Clear struct {
	Page int `json:"page"`
}

type Page struct {
	Page int `json:"page"`
}

// NewActivity wraps a payload into an activity message.
func NewActivity(at ActivityType, action string, payload any) (Activity, error) {
	msg := Activity{Type: TypeActivity, Activity: at, Action: action}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Activity{}, fmt.Errorf("marshal %s/%s payload: %w", at, action, err)
		}
		msg.Data = data
	}
	return msg, nil
}

// Marshal encodes any outbound message into a frame.
func Marshal(v any) (core.Frame, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	return data, nil
}

// Probe reads only the type tag of an inbound frame.
func Probe(data core.Frame) (Type, error) {
	var env struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("bad envelope: %w", err)
	}
	return env.Type, nil
}
