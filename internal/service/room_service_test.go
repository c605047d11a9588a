package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelichka/streamcast/internal/domain"
	"github.com/avelichka/streamcast/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newService(t *testing.T) *RoomService {
	t.Helper()
	return NewRoomService(repository.NewInMemoryRoomRepository(), testLogger())
}

func createRoom(t *testing.T, s *RoomService) *domain.Room {
	t.Helper()
	room, err := s.CreateRoom(context.Background(), "standup", time.Hour)
	require.NoError(t, err)
	return room
}

func drainEvent(t *testing.T, peer *domain.Peer) domain.Envelope {
	t.Helper()
	select {
	case env := <-peer.Events:
		return env
	case <-time.After(time.Second):
		t.Fatalf("peer %s received no event", peer.ID)
		return domain.Envelope{}
	}
}

func assertNoEvent(t *testing.T, peer *domain.Peer) {
	t.Helper()
	select {
	case env := <-peer.Events:
		t.Fatalf("peer %s unexpectedly received %s", peer.ID, env.Kind)
	default:
	}
}

func TestCreateRoom(t *testing.T) {
	s := newService(t)

	room := createRoom(t, s)
	assert.Equal(t, "standup", room.Name)
	assert.NotEmpty(t, room.Link)
	assert.False(t, room.IsExpired())

	got, err := s.GetRoom(context.Background(), room.ID)
	require.NoError(t, err)
	assert.Same(t, room, got)

	byLink, err := s.GetRoomByLink(context.Background(), room.Link)
	require.NoError(t, err)
	assert.Same(t, room, byLink)
}

func TestCreateRoomRequiresName(t *testing.T) {
	s := newService(t)

	_, err := s.CreateRoom(context.Background(), "", time.Hour)
	assert.Error(t, err)
}

func TestGetExpiredRoom(t *testing.T) {
	s := newService(t)

	room, err := s.CreateRoom(context.Background(), "gone", time.Millisecond)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = s.GetRoom(context.Background(), room.ID)
	assert.ErrorIs(t, err, ErrRoomExpired)
}

func TestRegisterPeerRosterAndAnnouncement(t *testing.T) {
	s := newService(t)
	room := createRoom(t, s)
	ctx := context.Background()

	broadcaster, err := s.RegisterPeer(ctx, room.ID, "b1", domain.RoleBroadcaster)
	require.NoError(t, err)

	// First peer: empty roster snapshot, nobody to announce to.
	snapshot := drainEvent(t, broadcaster)
	assert.Equal(t, domain.KindRoomUsers, snapshot.Kind)
	assert.Empty(t, snapshot.Peers)

	viewer, err := s.RegisterPeer(ctx, room.ID, "v1", domain.RoleViewer)
	require.NoError(t, err)

	snapshot = drainEvent(t, viewer)
	assert.Equal(t, domain.KindRoomUsers, snapshot.Kind)
	require.Len(t, snapshot.Peers, 1)
	assert.Equal(t, "b1", snapshot.Peers[0].ID)
	assert.Equal(t, domain.RoleBroadcaster, snapshot.Peers[0].Role)

	joined := drainEvent(t, broadcaster)
	assert.Equal(t, domain.KindUserJoined, joined.Kind)
	assert.Equal(t, "v1", joined.Sender)
	assert.Equal(t, domain.RoleViewer, joined.Role)

	assertNoEvent(t, viewer)
}

func TestRegisterPeerRejectsDuplicateID(t *testing.T) {
	s := newService(t)
	room := createRoom(t, s)
	ctx := context.Background()

	_, err := s.RegisterPeer(ctx, room.ID, "v1", domain.RoleViewer)
	require.NoError(t, err)

	_, err = s.RegisterPeer(ctx, room.ID, "v1", domain.RoleViewer)
	assert.ErrorIs(t, err, ErrPeerExists)
}

func TestRegisterPeerSingleBroadcaster(t *testing.T) {
	s := newService(t)
	room := createRoom(t, s)
	ctx := context.Background()

	_, err := s.RegisterPeer(ctx, room.ID, "b1", domain.RoleBroadcaster)
	require.NoError(t, err)

	_, err = s.RegisterPeer(ctx, room.ID, "b2", domain.RoleBroadcaster)
	assert.ErrorIs(t, err, ErrBroadcasterExists)

	// Viewers are unaffected by the cap.
	_, err = s.RegisterPeer(ctx, room.ID, "v1", domain.RoleViewer)
	assert.NoError(t, err)
}

func TestRegisterPeerInvalidInput(t *testing.T) {
	s := newService(t)
	room := createRoom(t, s)
	ctx := context.Background()

	_, err := s.RegisterPeer(ctx, room.ID, "", domain.RoleViewer)
	assert.Error(t, err)

	_, err = s.RegisterPeer(ctx, room.ID, "x1", domain.Role("moderator"))
	assert.Error(t, err)
}

func TestUnregisterPeerAnnouncesLeave(t *testing.T) {
	s := newService(t)
	room := createRoom(t, s)
	ctx := context.Background()

	broadcaster, err := s.RegisterPeer(ctx, room.ID, "b1", domain.RoleBroadcaster)
	require.NoError(t, err)
	drainEvent(t, broadcaster)

	viewer, err := s.RegisterPeer(ctx, room.ID, "v1", domain.RoleViewer)
	require.NoError(t, err)
	drainEvent(t, viewer)
	drainEvent(t, broadcaster)

	require.NoError(t, s.UnregisterPeer(ctx, room.ID, "v1"))

	left := drainEvent(t, broadcaster)
	assert.Equal(t, domain.KindUserLeft, left.Kind)
	assert.Equal(t, "v1", left.Sender)

	room.Mutex.RLock()
	_, present := room.Peers["v1"]
	room.Mutex.RUnlock()
	assert.False(t, present)

	assert.ErrorIs(t, s.UnregisterPeer(ctx, room.ID, "v1"), ErrPeerNotFound)
}

func TestHandleSignalForwardsToTarget(t *testing.T) {
	s := newService(t)
	room := createRoom(t, s)
	ctx := context.Background()

	broadcaster, err := s.RegisterPeer(ctx, room.ID, "b1", domain.RoleBroadcaster)
	require.NoError(t, err)
	drainEvent(t, broadcaster)

	viewer, err := s.RegisterPeer(ctx, room.ID, "v1", domain.RoleViewer)
	require.NoError(t, err)
	drainEvent(t, viewer)
	drainEvent(t, broadcaster)

	require.NoError(t, s.HandleSignal(ctx, room.ID, "b1", &domain.Envelope{
		Kind:   domain.KindOffer,
		Target: "v1",
	}))

	offer := drainEvent(t, viewer)
	assert.Equal(t, domain.KindOffer, offer.Kind)
	assert.Equal(t, "b1", offer.Sender)
	assert.Equal(t, domain.RoleBroadcaster, offer.Role)
	assert.Equal(t, room.ID.String(), offer.Room)

	// Addressed envelopes never leak to third parties.
	assertNoEvent(t, broadcaster)
}

func TestHandleSignalRequiresTarget(t *testing.T) {
	s := newService(t)
	room := createRoom(t, s)
	ctx := context.Background()

	peer, err := s.RegisterPeer(ctx, room.ID, "b1", domain.RoleBroadcaster)
	require.NoError(t, err)
	drainEvent(t, peer)

	err = s.HandleSignal(ctx, room.ID, "b1", &domain.Envelope{Kind: domain.KindOffer})
	assert.Error(t, err)
}

func TestHandleSignalAbsentTarget(t *testing.T) {
	s := newService(t)
	room := createRoom(t, s)
	ctx := context.Background()

	peer, err := s.RegisterPeer(ctx, room.ID, "b1", domain.RoleBroadcaster)
	require.NoError(t, err)
	drainEvent(t, peer)

	err = s.HandleSignal(ctx, room.ID, "b1", &domain.Envelope{
		Kind:   domain.KindICECandidate,
		Target: "ghost",
	})
	assert.ErrorIs(t, err, ErrPeerNotFound)
}

func TestHandleSignalUnregisteredSender(t *testing.T) {
	s := newService(t)
	room := createRoom(t, s)

	err := s.HandleSignal(context.Background(), room.ID, "stranger", &domain.Envelope{
		Kind:   domain.KindOffer,
		Target: "v1",
	})
	assert.ErrorIs(t, err, ErrPeerNotFound)
}

func TestHandleSignalStreamTypeBroadcast(t *testing.T) {
	s := newService(t)
	room := createRoom(t, s)
	ctx := context.Background()

	broadcaster, err := s.RegisterPeer(ctx, room.ID, "b1", domain.RoleBroadcaster)
	require.NoError(t, err)
	drainEvent(t, broadcaster)

	v1, err := s.RegisterPeer(ctx, room.ID, "v1", domain.RoleViewer)
	require.NoError(t, err)
	drainEvent(t, v1)
	drainEvent(t, broadcaster)

	v2, err := s.RegisterPeer(ctx, room.ID, "v2", domain.RoleViewer)
	require.NoError(t, err)
	drainEvent(t, v2)
	drainEvent(t, broadcaster)
	drainEvent(t, v1)

	require.NoError(t, s.HandleSignal(ctx, room.ID, "b1", &domain.Envelope{
		Kind:       domain.KindStreamType,
		StreamType: domain.StreamScreen,
	}))

	for _, viewer := range []*domain.Peer{v1, v2} {
		env := drainEvent(t, viewer)
		assert.Equal(t, domain.KindStreamType, env.Kind)
		assert.Equal(t, domain.StreamScreen, env.StreamType)
		assert.Equal(t, "b1", env.Sender)
	}
	assertNoEvent(t, broadcaster)
}

func TestHandleSignalLeaveRoom(t *testing.T) {
	s := newService(t)
	room := createRoom(t, s)
	ctx := context.Background()

	broadcaster, err := s.RegisterPeer(ctx, room.ID, "b1", domain.RoleBroadcaster)
	require.NoError(t, err)
	drainEvent(t, broadcaster)

	viewer, err := s.RegisterPeer(ctx, room.ID, "v1", domain.RoleViewer)
	require.NoError(t, err)
	drainEvent(t, viewer)
	drainEvent(t, broadcaster)

	require.NoError(t, s.HandleSignal(ctx, room.ID, "v1", &domain.Envelope{
		Kind: domain.KindLeaveRoom,
	}))

	left := drainEvent(t, broadcaster)
	assert.Equal(t, domain.KindUserLeft, left.Kind)
	assert.Equal(t, "v1", left.Sender)
}

func TestHandleSignalUnknownKindIgnored(t *testing.T) {
	s := newService(t)
	room := createRoom(t, s)
	ctx := context.Background()

	peer, err := s.RegisterPeer(ctx, room.ID, "b1", domain.RoleBroadcaster)
	require.NoError(t, err)
	drainEvent(t, peer)

	err = s.HandleSignal(ctx, room.ID, "b1", &domain.Envelope{Kind: "telemetry"})
	assert.NoError(t, err)
	assertNoEvent(t, peer)
}

func TestListParticipants(t *testing.T) {
	s := newService(t)
	room := createRoom(t, s)
	ctx := context.Background()

	_, err := s.RegisterPeer(ctx, room.ID, "b1", domain.RoleBroadcaster)
	require.NoError(t, err)
	_, err = s.RegisterPeer(ctx, room.ID, "v1", domain.RoleViewer)
	require.NoError(t, err)

	roster, err := s.ListParticipants(ctx, room.ID)
	require.NoError(t, err)

	ids := make([]string, 0, len(roster))
	for _, info := range roster {
		ids = append(ids, info.ID)
	}
	assert.ElementsMatch(t, []string{"b1", "v1"}, ids)
}
