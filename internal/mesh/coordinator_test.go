package mesh

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huddle-live/huddle/internal/core"
	"github.com/huddle-live/huddle/internal/domain"
	"github.com/huddle-live/huddle/internal/presence"
	"github.com/huddle-live/huddle/internal/protocol"
)

type fakeData struct {
	events core.ChannelEvents
	open   bool
	closed bool
	sent   []core.Frame
}

func (f *fakeData) Bind(ev core.ChannelEvents) { f.events = ev }
func (f *fakeData) TrySend(fr core.Frame) error {
	if f.closed {
		return errors.New("closed")
	}
	f.sent = append(f.sent, fr)
	return nil
}
func (f *fakeData) IsOpen() bool { return f.open && !f.closed }
func (f *fakeData) Close()       { f.closed = true }

type fakeMedia struct {
	events core.MediaEvents
	closed bool
}

func (f *fakeMedia) Bind(ev core.MediaEvents) { f.events = ev }
func (f *fakeMedia) IsClosed() bool           { return f.closed }
func (f *fakeMedia) Close()                   { f.closed = true }

type fakeTransport struct {
	onConnection func(domain.PeerID, core.DataChannel)
	onCall       func(domain.PeerID, core.MediaChannel)
	data         map[domain.PeerID]*fakeData
	media        map[domain.PeerID]*fakeMedia
	dialed       []domain.PeerID
	closed       bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		data:  make(map[domain.PeerID]*fakeData),
		media: make(map[domain.PeerID]*fakeMedia),
	}
}

func (f *fakeTransport) Connect(_ context.Context, target domain.PeerID, _ core.ConnectMeta) (core.DataChannel, error) {
	dc := &fakeData{}
	f.data[target] = dc
	f.dialed = append(f.dialed, target)
	return dc, nil
}

func (f *fakeTransport) Call(_ context.Context, target domain.PeerID) (core.MediaChannel, error) {
	mc := &fakeMedia{}
	f.media[target] = mc
	return mc, nil
}

func (f *fakeTransport) OnConnection(fn func(domain.PeerID, core.DataChannel)) { f.onConnection = fn }
func (f *fakeTransport) OnCall(fn func(domain.PeerID, core.MediaChannel))      { f.onCall = fn }
func (f *fakeTransport) Close()                                                { f.closed = true }

func newTestCoordinator(t *testing.T, capacity int) (*Coordinator, *fakeTransport, *presence.Store) {
	t.Helper()
	tr := newFakeTransport()
	store := presence.NewStore()
	c := NewCoordinator("self-0000", "Self", capacity, tr, store)
	c.Start(context.Background())
	return c, tr, store
}

// openPeer simulates the full outbound handshake with target.
func openPeer(t *testing.T, c *Coordinator, tr *fakeTransport, id domain.PeerID) *fakeData {
	t.Helper()
	c.ConnectTo(context.Background(), id)
	dc := tr.data[id]
	require.NotNil(t, dc)
	dc.open = true
	dc.events.OnOpen()
	return dc
}

func TestConnectToNoOps(t *testing.T) {
	c, tr, _ := newTestCoordinator(t, 4)

	c.ConnectTo(context.Background(), "")
	c.ConnectTo(context.Background(), "self-0000")
	assert.Empty(t, tr.dialed)

	c.ConnectTo(context.Background(), "alice-0001")
	c.ConnectTo(context.Background(), "alice-0001")
	assert.Equal(t, []domain.PeerID{"alice-0001"}, tr.dialed)
	assert.Equal(t, 1, c.PeerCount())
}

func TestConnectMarksPeerPending(t *testing.T) {
	c, _, store := newTestCoordinator(t, 4)

	c.ConnectTo(context.Background(), "alice-0001")
	p, ok := store.Get("alice-0001")
	require.True(t, ok)
	assert.True(t, p.Pending)
}

func TestPeerJoinedAfterBothChannels(t *testing.T) {
	c, tr, store := newTestCoordinator(t, 4)

	openPeer(t, c, tr, "alice-0001")
	p, ok := store.Get("alice-0001")
	require.True(t, ok)
	assert.False(t, p.Pending)
}

func TestInboundAdmissionAtCapacity(t *testing.T) {
	c, tr, store := newTestCoordinator(t, 3)

	openPeer(t, c, tr, "alice-0001")
	openPeer(t, c, tr, "bob-0002")
	require.Equal(t, 2, c.PeerCount())

	// Third remote peer would exceed capacity-1 links; rejected locally.
	late := &fakeData{open: true}
	tr.onConnection("carol-0003", late)
	assert.True(t, late.closed)
	assert.Equal(t, 2, c.PeerCount())
	_, ok := store.Get("carol-0003")
	assert.False(t, ok)
}

func TestInboundAdmissionBelowCapacity(t *testing.T) {
	c, tr, _ := newTestCoordinator(t, 4)

	dc := &fakeData{}
	tr.onConnection("alice-0001", dc)
	assert.False(t, dc.closed)
	assert.Equal(t, 1, c.PeerCount())
}

func TestMeshDiscoveryAnnouncesOthers(t *testing.T) {
	c, tr, _ := newTestCoordinator(t, 4)

	openPeer(t, c, tr, "alice-0001")
	bob := openPeer(t, c, tr, "bob-0002")

	// The newcomer gets a peer-list naming everyone already open.
	require.NotEmpty(t, bob.sent)
	var msg protocol.PeerList
	require.NoError(t, json.Unmarshal(bob.sent[0], &msg))
	assert.Equal(t, protocol.TypePeerList, msg.Type)
	assert.Equal(t, []domain.PeerID{"alice-0001"}, msg.Peers)
	assert.Equal(t, 4, msg.Capacity)
}

func TestFirstPeerGetsNoPeerList(t *testing.T) {
	c, tr, _ := newTestCoordinator(t, 4)
	alice := openPeer(t, c, tr, "alice-0001")
	assert.Empty(t, alice.sent)
}

func TestHandlePeerListDialsUnknowns(t *testing.T) {
	c, tr, _ := newTestCoordinator(t, 4)
	openPeer(t, c, tr, "host-0001")

	c.HandlePeerList("host-0001", protocol.PeerList{
		Type:     protocol.TypePeerList,
		Peers:    []domain.PeerID{"bob-0002", "self-0000", "host-0001"},
		Capacity: 3,
	})

	assert.Equal(t, []domain.PeerID{"host-0001", "bob-0002"}, tr.dialed)
	assert.Equal(t, 3, c.Capacity())
}

func TestHandlePeerListIgnoresBogusCapacity(t *testing.T) {
	c, _, _ := newTestCoordinator(t, 4)

	c.HandlePeerList("host-0001", protocol.PeerList{Capacity: 1})
	assert.Equal(t, 4, c.Capacity())

	c.HandlePeerList("host-0001", protocol.PeerList{Capacity: 99})
	assert.Equal(t, 4, c.Capacity())
}

func TestRemovePeerIdempotent(t *testing.T) {
	c, tr, store := newTestCoordinator(t, 4)
	var gone []domain.PeerID
	c.SetHooks(Hooks{OnPeerGone: func(id domain.PeerID) { gone = append(gone, id) }})

	dc := openPeer(t, c, tr, "alice-0001")
	mc := tr.media["alice-0001"]

	c.RemovePeer("alice-0001")
	c.RemovePeer("alice-0001")

	assert.True(t, dc.closed)
	assert.True(t, mc.closed)
	assert.Equal(t, 0, c.PeerCount())
	_, ok := store.Get("alice-0001")
	assert.False(t, ok)
	assert.Equal(t, []domain.PeerID{"alice-0001"}, gone)
}

func TestDataCloseRemovesPeer(t *testing.T) {
	c, tr, _ := newTestCoordinator(t, 4)
	dc := openPeer(t, c, tr, "alice-0001")

	dc.events.OnClose()
	assert.Equal(t, 0, c.PeerCount())
}

func TestAudioLevelForwarded(t *testing.T) {
	c, tr, _ := newTestCoordinator(t, 4)
	var levels []float64
	c.SetHooks(Hooks{OnAudioLevel: func(_ domain.PeerID, lvl float64) { levels = append(levels, lvl) }})

	openPeer(t, c, tr, "alice-0001")
	tr.media["alice-0001"].events.OnAudioLevel(0.5)
	assert.Equal(t, []float64{0.5}, levels)
}

func TestEndpointsSnapshotsOnlyOpenChannels(t *testing.T) {
	c, tr, _ := newTestCoordinator(t, 4)
	openPeer(t, c, tr, "alice-0001")
	c.ConnectTo(context.Background(), "bob-0002") // never opens

	eps := c.Endpoints()
	require.Len(t, eps, 1)
	assert.Equal(t, domain.PeerID("alice-0001"), eps[0].ID)
}

func TestCloseTearsDownEverything(t *testing.T) {
	c, tr, _ := newTestCoordinator(t, 4)
	openPeer(t, c, tr, "alice-0001")
	openPeer(t, c, tr, "bob-0002")

	c.Close()
	assert.Equal(t, 0, c.PeerCount())
	assert.True(t, tr.closed)
	assert.True(t, tr.data["alice-0001"].closed)
	assert.True(t, tr.data["bob-0002"].closed)
}
