package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleOffers(t *testing.T) {
	assert.True(t, RoleBroadcaster.Offers(RoleViewer))
	assert.False(t, RoleViewer.Offers(RoleBroadcaster))
	assert.False(t, RoleViewer.Offers(RoleViewer))
	assert.False(t, RoleBroadcaster.Offers(RoleBroadcaster))
}

func TestRoleValid(t *testing.T) {
	assert.True(t, RoleBroadcaster.Valid())
	assert.True(t, RoleViewer.Valid())
	assert.False(t, Role("moderator").Valid())
	assert.False(t, Role("").Valid())
}

func TestNewRoom(t *testing.T) {
	room := NewRoom("standup", time.Hour)

	assert.Equal(t, "standup", room.Name)
	assert.Len(t, room.Link, linkLength)
	assert.NotEmpty(t, room.ID)
	assert.False(t, room.IsExpired())

	other := NewRoom("standup", time.Hour)
	assert.NotEqual(t, room.Link, other.Link)
}

func TestRoomExpiry(t *testing.T) {
	room := NewRoom("ephemeral", time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	assert.True(t, room.IsExpired())

	unlimited := NewRoom("forever", 0)
	assert.False(t, unlimited.IsExpired())

	var nilRoom *Room
	assert.True(t, nilRoom.IsExpired())
}

func TestRoomBroadcasterAndRoster(t *testing.T) {
	room := NewRoom("standup", time.Hour)
	require.Nil(t, room.Broadcaster())

	b := NewPeer("b1", RoleBroadcaster)
	v := NewPeer("v1", RoleViewer)
	room.Peers["b1"] = b
	room.Peers["v1"] = v

	assert.Same(t, b, room.Broadcaster())

	roster := room.Roster()
	assert.Len(t, roster, 2)
}

func TestPeerEnqueueEventNeverBlocks(t *testing.T) {
	peer := NewPeer("v1", RoleViewer)

	for i := 0; i < cap(peer.Events); i++ {
		assert.True(t, peer.EnqueueEvent(Envelope{Kind: KindUserJoined}))
	}
	assert.False(t, peer.EnqueueEvent(Envelope{Kind: KindUserJoined}))
	assert.Len(t, peer.Events, cap(peer.Events))
}

func TestPeerEnqueueAfterCloseIsSafe(t *testing.T) {
	peer := NewPeer("v1", RoleViewer)

	peer.CloseEvents()
	peer.CloseEvents()

	assert.NotPanics(t, func() {
		assert.False(t, peer.EnqueueEvent(Envelope{Kind: KindUserLeft}))
	})

	_, open := <-peer.Events
	assert.False(t, open)
}
