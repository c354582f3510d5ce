package rendezvous

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEnvelope(t *testing.T, dst, src, typ string) []byte {
	t.Helper()
	data, err := json.Marshal(Envelope{DST: dst, SRC: src, Type: typ, Payload: json.RawMessage(`{"sdp":"v=0"}`)})
	require.NoError(t, err)
	return data
}

func recv(t *testing.T, w Wire) Envelope {
	t.Helper()
	select {
	case data := <-w.TX:
		var env Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		return env
	default:
		t.Fatal("expected an envelope on the wire")
		return Envelope{}
	}
}

func TestRegisterRejectsDuplicatesAndEmpty(t *testing.T) {
	sw := NewSwitchboard()

	_, err := sw.Register("")
	assert.ErrorIs(t, err, ErrEmptyPeerID)

	_, err = sw.Register("alice-0001")
	require.NoError(t, err)
	_, err = sw.Register("alice-0001")
	assert.ErrorIs(t, err, ErrPeerTaken)
	assert.Equal(t, 1, sw.Count())
}

func TestRouteReStampsSource(t *testing.T) {
	sw := NewSwitchboard()
	_, err := sw.Register("alice-0001")
	require.NoError(t, err)
	bob, err := sw.Register("bob-0002")
	require.NoError(t, err)

	// The sender claims to be someone else; the switch overwrites it.
	sw.Route("alice-0001", mustEnvelope(t, "bob-0002", "mallory-0666", "offer"))

	env := recv(t, bob)
	assert.Equal(t, "alice-0001", env.SRC)
	assert.Equal(t, "offer", env.Type)
}

func TestRouteUnknownDestinationDrops(t *testing.T) {
	sw := NewSwitchboard()
	_, err := sw.Register("alice-0001")
	require.NoError(t, err)

	sw.Route("alice-0001", mustEnvelope(t, "ghost-0000", "", "offer"))
}

func TestRouteSelfAddressedDrops(t *testing.T) {
	sw := NewSwitchboard()
	alice, err := sw.Register("alice-0001")
	require.NoError(t, err)

	sw.Route("alice-0001", mustEnvelope(t, "alice-0001", "", "offer"))
	assert.Empty(t, alice.TX)
}

func TestRouteEmptyDestinationBroadcasts(t *testing.T) {
	sw := NewSwitchboard()
	alice, err := sw.Register("alice-0001")
	require.NoError(t, err)
	bob, err := sw.Register("bob-0002")
	require.NoError(t, err)
	carol, err := sw.Register("carol-0003")
	require.NoError(t, err)

	sw.Route("alice-0001", mustEnvelope(t, "", "", "candidate"))

	assert.Empty(t, alice.TX)
	assert.Equal(t, "alice-0001", recv(t, bob).SRC)
	assert.Equal(t, "alice-0001", recv(t, carol).SRC)
}

func TestRouteBadJSONDrops(t *testing.T) {
	sw := NewSwitchboard()
	bob, err := sw.Register("bob-0002")
	require.NoError(t, err)

	sw.Route("alice-0001", []byte(`{not json`))
	assert.Empty(t, bob.TX)
}

func TestRouteFullWireDropsInsteadOfBlocking(t *testing.T) {
	sw := NewSwitchboard()
	_, err := sw.Register("alice-0001")
	require.NoError(t, err)
	bob, err := sw.Register("bob-0002")
	require.NoError(t, err)

	for i := 0; i < cap(bob.TX)+5; i++ {
		sw.Route("alice-0001", mustEnvelope(t, "bob-0002", "", "candidate"))
	}
	assert.Len(t, bob.TX, cap(bob.TX))
}

func TestUnregisterClosesWire(t *testing.T) {
	sw := NewSwitchboard()
	alice, err := sw.Register("alice-0001")
	require.NoError(t, err)

	sw.Unregister("alice-0001")
	_, open := <-alice.TX
	assert.False(t, open)
	assert.Equal(t, 0, sw.Count())

	// The id is free again.
	_, err = sw.Register("alice-0001")
	assert.NoError(t, err)

	// Unregistering an unknown id is a no-op.
	sw.Unregister("ghost-0000")
}
