package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/avelichka/streamcast/internal/domain"
)

type RoomInteractor interface {
	CreateRoom(ctx context.Context, name string, lifetime time.Duration) (*domain.Room, error)
	GetRoom(ctx context.Context, id uuid.UUID) (*domain.Room, error)
	GetRoomByLink(ctx context.Context, link string) (*domain.Room, error)
	RegisterPeer(ctx context.Context, roomID uuid.UUID, peerID string, role domain.Role) (*domain.Peer, error)
	UnregisterPeer(ctx context.Context, roomID uuid.UUID, peerID string) error
	HandleSignal(ctx context.Context, roomID uuid.UUID, peerID string, env *domain.Envelope) error
	ListParticipants(ctx context.Context, roomID uuid.UUID) ([]domain.PeerInfo, error)
}
