package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avelichka/streamcast/internal/domain"
	"github.com/avelichka/streamcast/internal/repository"
	"github.com/avelichka/streamcast/lib/logger/sl"
)

var (
	ErrRoomExpired       = errors.New("room expired")
	ErrPeerNotFound      = errors.New("peer not found")
	ErrPeerExists        = errors.New("peer id already in room")
	ErrBroadcasterExists = errors.New("room already has a broadcaster")
)

// RoomService is the relay: a room-scoped message bus that forwards addressed
// signaling envelopes between participants. It carries no media and makes no
// WebRTC decisions; the peers' orchestrators own the protocol.
type RoomService struct {
	rooms       repository.RoomRepository
	log         *slog.Logger
	mu          sync.RWMutex
	activeRooms map[uuid.UUID]*domain.Room
}

func NewRoomService(rooms repository.RoomRepository, log *slog.Logger) *RoomService {
	if log == nil {
		log = slog.Default()
	}
	return &RoomService{
		rooms:       rooms,
		log:         log,
		activeRooms: make(map[uuid.UUID]*domain.Room),
	}
}

func (s *RoomService) CreateRoom(ctx context.Context, name string, lifetime time.Duration) (*domain.Room, error) {
	if name == "" {
		return nil, errors.New("room name is required")
	}

	for {
		room := domain.NewRoom(name, lifetime)
		if err := s.rooms.Create(ctx, room); err != nil {
			if errors.Is(err, repository.ErrRoomLinkExists) {
				continue
			}
			return nil, err
		}

		s.mu.Lock()
		s.activeRooms[room.ID] = room
		s.mu.Unlock()

		s.log.Info("room created",
			"room_id", room.ID.String(),
			"link", room.Link,
		)
		return room, nil
	}
}

func (s *RoomService) GetRoom(ctx context.Context, id uuid.UUID) (*domain.Room, error) {
	if room := s.getActiveRoom(id); room != nil {
		if room.IsExpired() {
			s.removeActiveRoom(id)
			return nil, ErrRoomExpired
		}
		return room, nil
	}

	roomFromDB, err := s.rooms.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	room := s.activateRoom(roomFromDB)
	if room.IsExpired() {
		s.removeActiveRoom(room.ID)
		return nil, ErrRoomExpired
	}

	return room, nil
}

func (s *RoomService) GetRoomByLink(ctx context.Context, link string) (*domain.Room, error) {
	if room := s.getActiveRoomByLink(link); room != nil {
		if room.IsExpired() {
			s.removeActiveRoom(room.ID)
			return nil, ErrRoomExpired
		}
		return room, nil
	}

	roomFromDB, err := s.rooms.GetByLink(ctx, link)
	if err != nil {
		return nil, err
	}

	room := s.activateRoom(roomFromDB)
	if room.IsExpired() {
		s.removeActiveRoom(room.ID)
		return nil, ErrRoomExpired
	}

	return room, nil
}

// RegisterPeer adds a participant to the room, sends it the current roster
// snapshot and announces it to everyone else. A room holds at most one
// broadcaster at a time.
func (s *RoomService) RegisterPeer(ctx context.Context, roomID uuid.UUID, peerID string, role domain.Role) (*domain.Peer, error) {
	const op = "service.room.register.peer"
	log := s.log.With(
		slog.String("op", op),
		slog.String("room_id", roomID.String()),
		slog.String("peer_id", peerID),
	)

	if peerID == "" {
		return nil, errors.New("peer id is required")
	}
	if !role.Valid() {
		return nil, errors.New("invalid role: " + string(role))
	}

	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		log.Info("room lookup failed", sl.Err(err))
		return nil, err
	}

	peer := domain.NewPeer(peerID, role)

	room.Mutex.Lock()
	if _, ok := room.Peers[peerID]; ok {
		room.Mutex.Unlock()
		return nil, ErrPeerExists
	}
	if role == domain.RoleBroadcaster {
		for _, existing := range room.Peers {
			if existing.Role == domain.RoleBroadcaster {
				room.Mutex.Unlock()
				return nil, ErrBroadcasterExists
			}
		}
	}
	roster := make([]domain.PeerInfo, 0, len(room.Peers))
	for _, existing := range room.Peers {
		roster = append(roster, existing.Info())
	}
	room.Peers[peerID] = peer
	room.Mutex.Unlock()

	if err := s.rooms.Update(ctx, room); err != nil {
		log.Error("failed to persist room", sl.Err(err))
		room.Mutex.Lock()
		delete(room.Peers, peerID)
		room.Mutex.Unlock()
		return nil, err
	}

	// The newcomer gets a roster snapshot; everyone else gets a join notice.
	peer.EnqueueEvent(domain.Envelope{
		Kind:  domain.KindRoomUsers,
		Room:  room.ID.String(),
		Peers: roster,
	})

	s.broadcast(room, domain.Envelope{
		Kind:   domain.KindUserJoined,
		Room:   room.ID.String(),
		Sender: peer.ID,
		Role:   peer.Role,
	}, peer.ID)

	log.Info("peer registered", "role", string(role), "roster_size", len(roster))
	return peer, nil
}

func (s *RoomService) UnregisterPeer(ctx context.Context, roomID uuid.UUID, peerID string) error {
	const op = "service.room.unregister.peer"
	log := s.log.With(
		slog.String("op", op),
		slog.String("room_id", roomID.String()),
		slog.String("peer_id", peerID),
	)

	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}

	room.Mutex.Lock()
	peer, ok := room.Peers[peerID]
	if !ok {
		room.Mutex.Unlock()
		return ErrPeerNotFound
	}

	delete(room.Peers, peerID)
	roomEmpty := len(room.Peers) == 0
	room.Mutex.Unlock()

	if peer != nil {
		peer.SetStatus(domain.PeerStatusDisconnected)
		peer.CloseEvents()
		if peer.Socket != nil {
			peer.Socket.Close()
			peer.Socket = nil
		}
	}

	if err := s.rooms.Update(ctx, room); err != nil {
		log.Error("failed to persist room", sl.Err(err))
		return err
	}

	s.broadcast(room, domain.Envelope{
		Kind:   domain.KindUserLeft,
		Room:   room.ID.String(),
		Sender: peerID,
	}, peerID)

	if roomEmpty {
		s.removeActiveRoom(room.ID)
	}

	log.Info("peer unregistered")
	return nil
}

// HandleSignal routes one envelope from a registered peer. Addressed kinds
// go to their target only; stream-type is broadcast; unknown kinds are
// dropped so older relays stay compatible with newer peers.
func (s *RoomService) HandleSignal(ctx context.Context, roomID uuid.UUID, peerID string, env *domain.Envelope) error {
	const op = "service.room.signal"
	if env == nil {
		return errors.New("envelope is required")
	}
	log := s.log.With(
		"op", op,
		"room_id", roomID.String(),
		"peer_id", peerID,
	)

	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}

	room.Mutex.RLock()
	peer, ok := room.Peers[peerID]
	room.Mutex.RUnlock()
	if !ok {
		return ErrPeerNotFound
	}
	peer.Touch()

	switch env.Kind {
	case domain.KindOffer, domain.KindAnswer, domain.KindICECandidate, domain.KindPeerConnectionState:
		forward := *env
		forward.Room = room.ID.String()
		forward.Sender = peer.ID
		forward.Role = peer.Role

		if forward.Target == "" {
			return errors.New("target is required for " + string(env.Kind))
		}

		room.Mutex.RLock()
		target, ok := room.Peers[forward.Target]
		room.Mutex.RUnlock()
		if !ok {
			log.Debug("dropping signal for absent target",
				"kind", string(env.Kind),
				"target", forward.Target,
			)
			return ErrPeerNotFound
		}
		target.EnqueueEvent(forward)

	case domain.KindStreamType:
		forward := *env
		forward.Room = room.ID.String()
		forward.Sender = peer.ID
		forward.Role = peer.Role
		s.broadcast(room, forward, peer.ID)

	case domain.KindLeaveRoom:
		return s.UnregisterPeer(ctx, roomID, peerID)

	case domain.KindJoinRoom:
		// Membership is established by the websocket upgrade; the explicit
		// join-room envelope is informational.

	default:
		log.Debug("ignoring unknown signal kind", "kind", string(env.Kind))
	}

	return nil
}

func (s *RoomService) ListParticipants(ctx context.Context, roomID uuid.UUID) ([]domain.PeerInfo, error) {
	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return room.Roster(), nil
}

func (s *RoomService) broadcast(room *domain.Room, env domain.Envelope, exclude string) {
	room.Mutex.RLock()
	peers := make([]*domain.Peer, 0, len(room.Peers))
	for id, peer := range room.Peers {
		if id == exclude {
			continue
		}
		peers = append(peers, peer)
	}
	room.Mutex.RUnlock()

	for _, peer := range peers {
		if !peer.EnqueueEvent(env) {
			s.log.Debug("dropping broadcast event",
				slog.String("peer", peer.ID),
				slog.String("kind", string(env.Kind)),
			)
		}
	}
}

func (s *RoomService) getActiveRoom(id uuid.UUID) *domain.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeRooms[id]
}

func (s *RoomService) getActiveRoomByLink(link string) *domain.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, room := range s.activeRooms {
		if room.Link == link {
			return room
		}
	}
	return nil
}

func (s *RoomService) removeActiveRoom(id uuid.UUID) {
	s.mu.Lock()
	delete(s.activeRooms, id)
	s.mu.Unlock()
}

func (s *RoomService) activateRoom(room *domain.Room) *domain.Room {
	if room == nil {
		return nil
	}

	if room.Peers == nil {
		room.Peers = make(map[string]*domain.Peer)
	} else {
		for _, peer := range room.Peers {
			if peer == nil {
				continue
			}
			peer.Events = make(chan domain.Envelope, 16)
			if peer.Status == "" {
				peer.Status = domain.PeerStatusDisconnected
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing := s.activeRooms[room.ID]; existing != nil {
		return existing
	}

	s.activeRooms[room.ID] = room
	return room
}
