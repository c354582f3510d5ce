package router

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huddle-live/huddle/internal/chat"
	"github.com/huddle-live/huddle/internal/core"
	"github.com/huddle-live/huddle/internal/domain"
	"github.com/huddle-live/huddle/internal/mesh"
	"github.com/huddle-live/huddle/internal/presence"
	"github.com/huddle-live/huddle/internal/protocol"
)

type fakeChannel struct {
	open bool
	full bool
	sent []core.Frame
}

func (f *fakeChannel) Bind(core.ChannelEvents) {}
func (f *fakeChannel) TrySend(fr core.Frame) error {
	if f.full {
		return errors.New("backpressure")
	}
	f.sent = append(f.sent, fr)
	return nil
}
func (f *fakeChannel) IsOpen() bool { return f.open }
func (f *fakeChannel) Close()       { f.open = false }

type fakeDirectory struct {
	chans map[domain.PeerID]*fakeChannel
}

func (f *fakeDirectory) Channel(id domain.PeerID) (core.DataChannel, bool) {
	ch, ok := f.chans[id]
	return ch, ok
}

func (f *fakeDirectory) Endpoints() []mesh.Endpoint {
	out := make([]mesh.Endpoint, 0, len(f.chans))
	for id, ch := range f.chans {
		out = append(out, mesh.Endpoint{ID: id, Ch: ch})
	}
	return out
}

type recordedActivity struct {
	from   domain.PeerID
	action string
	data   json.RawMessage
}

type fakeActivity struct {
	got []recordedActivity
}

func (f *fakeActivity) HandleRemote(from domain.PeerID, action string, data json.RawMessage) {
	f.got = append(f.got, recordedActivity{from, action, data})
}

type fakePeerListSink struct {
	got []protocol.PeerList
}

func (f *fakePeerListSink) HandlePeerList(_ domain.PeerID, msg protocol.PeerList) {
	f.got = append(f.got, msg)
}

type fakeLocalState struct {
	announce bool
}

func (f *fakeLocalState) LocalStatus() protocol.Status {
	return protocol.Status{Type: protocol.TypeStatus, Activity: domain.ActivityNone}
}

func (f *fakeLocalState) LocalProfile() protocol.Profile {
	return protocol.Profile{Type: protocol.TypeProfileUpdate, Name: "Self"}
}

func (f *fakeLocalState) ActiveAnnouncement() (protocol.Activity, bool) {
	if !f.announce {
		return protocol.Activity{}, false
	}
	msg, _ := protocol.NewActivity(protocol.ActivityPlayback, protocol.ActionStart, nil)
	return msg, true
}

func newTestRouter(dir *fakeDirectory) *Router {
	r := New(dir)
	r.Presence = presence.NewStore()
	r.Chat = chat.NewLog(10)
	return r
}

func frame(t *testing.T, v any) core.Frame {
	t.Helper()
	f, err := protocol.Marshal(v)
	require.NoError(t, err)
	return f
}

func TestSendDropsWhenChannelAbsentOrClosed(t *testing.T) {
	dir := &fakeDirectory{chans: map[domain.PeerID]*fakeChannel{
		"closed-0001": {open: false},
	}}
	r := newTestRouter(dir)

	r.Send("missing-0000", protocol.Chat{Type: protocol.TypeChat, Body: "hi"})
	r.Send("closed-0001", protocol.Chat{Type: protocol.TypeChat, Body: "hi"})
	assert.Empty(t, dir.chans["closed-0001"].sent)
}

func TestBroadcastBestEffort(t *testing.T) {
	ok1 := &fakeChannel{open: true}
	ok2 := &fakeChannel{open: true}
	closed := &fakeChannel{open: false}
	full := &fakeChannel{open: true, full: true}
	dir := &fakeDirectory{chans: map[domain.PeerID]*fakeChannel{
		"a-0001": ok1, "b-0002": ok2, "c-0003": closed, "d-0004": full,
	}}
	r := newTestRouter(dir)

	r.Broadcast(protocol.Chat{Type: protocol.TypeChat, Body: "hi"})

	assert.Len(t, ok1.sent, 1)
	assert.Len(t, ok2.sent, 1)
	assert.Empty(t, closed.sent)
	assert.Empty(t, full.sent)
	// A frame is marshalled once and shared.
	assert.Equal(t, ok1.sent[0], ok2.sent[0])
}

func TestBootstrapAnnouncesFullState(t *testing.T) {
	ch := &fakeChannel{open: true}
	dir := &fakeDirectory{chans: map[domain.PeerID]*fakeChannel{"new-0001": ch}}
	r := newTestRouter(dir)
	r.Local = &fakeLocalState{announce: true}

	r.Bootstrap("new-0001")

	require.Len(t, ch.sent, 3)
	types := make([]protocol.Type, 0, 3)
	for _, f := range ch.sent {
		typ, err := protocol.Probe(f)
		require.NoError(t, err)
		types = append(types, typ)
	}
	assert.Equal(t, []protocol.Type{protocol.TypeStatus, protocol.TypeProfileUpdate, protocol.TypeActivity}, types)
}

func TestBootstrapSkipsAnnouncementWhenIdle(t *testing.T) {
	ch := &fakeChannel{open: true}
	dir := &fakeDirectory{chans: map[domain.PeerID]*fakeChannel{"new-0001": ch}}
	r := newTestRouter(dir)
	r.Local = &fakeLocalState{announce: false}

	r.Bootstrap("new-0001")
	assert.Len(t, ch.sent, 2)
}

func TestDispatchStatusUpdatesPresence(t *testing.T) {
	r := newTestRouter(&fakeDirectory{})

	r.Dispatch("alice-0001", frame(t, protocol.Status{
		Type:     protocol.TypeStatus,
		Status:   domain.Status{Muted: true},
		Activity: domain.ActivityDrawing,
	}))

	p, ok := r.Presence.Get("alice-0001")
	require.True(t, ok)
	assert.True(t, p.Status.Muted)
	assert.Equal(t, domain.ActivityDrawing, p.CurrentActivity)
}

func TestDispatchProfileUpdatesPresence(t *testing.T) {
	r := newTestRouter(&fakeDirectory{})

	r.Dispatch("alice-0001", frame(t, protocol.Profile{Type: protocol.TypeProfileUpdate, Name: "Alice", Avatar: "ref:a"}))

	p, _ := r.Presence.Get("alice-0001")
	assert.Equal(t, "Alice", p.DisplayName)
	assert.Equal(t, "ref:a", p.Avatar)
}

func TestDispatchChatAppendsWithResolvedName(t *testing.T) {
	r := newTestRouter(&fakeDirectory{})
	require.NoError(t, r.Presence.Upsert("alice-0001", presence.Patch{DisplayName: presence.String("Alice")}))

	r.Dispatch("alice-0001", frame(t, protocol.Chat{Type: protocol.TypeChat, Body: "hello", SentAt: 1700000000}))

	entries := r.Chat.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "Alice", entries[0].FromName)
	assert.Equal(t, "hello", entries[0].Body)
	assert.Equal(t, chat.KindMessage, entries[0].Kind)
}

func TestDispatchChatFallsBackToPeerID(t *testing.T) {
	r := newTestRouter(&fakeDirectory{})
	r.Dispatch("bob-0002", frame(t, protocol.Chat{Type: protocol.TypeChat, Body: "hi"}))

	entries := r.Chat.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "bob-0002", entries[0].FromName)
}

func TestDispatchFileShare(t *testing.T) {
	r := newTestRouter(&fakeDirectory{})
	r.Dispatch("bob-0002", frame(t, protocol.FileShare{
		Type: protocol.TypeFileShare, Name: "pic.png", Size: 2048, Ref: "blob:xyz",
	}))

	entries := r.Chat.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, chat.KindFile, entries[0].Kind)
	assert.Equal(t, "pic.png", entries[0].FileName)
	assert.Equal(t, int64(2048), entries[0].FileSize)
}

func TestDispatchPeerListForwardsToMesh(t *testing.T) {
	r := newTestRouter(&fakeDirectory{})
	sink := &fakePeerListSink{}
	r.Mesh = sink

	r.Dispatch("host-0001", frame(t, protocol.PeerList{
		Type: protocol.TypePeerList, Peers: []domain.PeerID{"x-0009"}, Capacity: 3,
	}))

	require.Len(t, sink.got, 1)
	assert.Equal(t, []domain.PeerID{"x-0009"}, sink.got[0].Peers)
}

func TestDispatchActivityRoutesByType(t *testing.T) {
	r := newTestRouter(&fakeDirectory{})
	pb := &fakeActivity{}
	dw := &fakeActivity{}
	r.Playback = pb
	r.Drawing = dw

	msg, err := protocol.NewActivity(protocol.ActivityPlayback, protocol.ActionSyncState, protocol.SyncState{Position: 3})
	require.NoError(t, err)
	r.Dispatch("alice-0001", frame(t, msg))

	msg, err = protocol.NewActivity(protocol.ActivityDrawing, protocol.ActionClear, protocol.Clear{Page: 1})
	require.NoError(t, err)
	r.Dispatch("alice-0001", frame(t, msg))

	require.Len(t, pb.got, 1)
	assert.Equal(t, protocol.ActionSyncState, pb.got[0].action)
	require.Len(t, dw.got, 1)
	assert.Equal(t, protocol.ActionClear, dw.got[0].action)
}

func TestDispatchIgnoresUnknownAndBadFrames(t *testing.T) {
	r := newTestRouter(&fakeDirectory{})
	pb := &fakeActivity{}
	r.Playback = pb

	r.Dispatch("alice-0001", core.Frame(`{"type":"time-travel"}`))
	r.Dispatch("alice-0001", core.Frame(`not json`))

	assert.Empty(t, pb.got)
	assert.Equal(t, 0, r.Presence.Count())
}
