package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/avelichka/streamcast/internal/domain"
	"github.com/avelichka/streamcast/internal/repository/model"
)

type PostgresRoomRepository struct {
	db *gorm.DB
}

func NewPostgresRoomRepository(db *gorm.DB) *PostgresRoomRepository {
	return &PostgresRoomRepository{db: db}
}

func (r *PostgresRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if room == nil {
		return errors.New("room is nil")
	}

	roomModel := toModelRoom(room)

	if err := r.db.WithContext(ctx).Create(roomModel).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrRoomLinkExists
		}
		return err
	}
	return nil
}

func (r *PostgresRoomRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var room model.Room
	err := r.db.WithContext(ctx).Preload("Peers").First(&room, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}

	return toDomainRoom(&room), nil
}

func (r *PostgresRoomRepository) GetByLink(ctx context.Context, link string) (*domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var room model.Room
	err := r.db.WithContext(ctx).Preload("Peers").First(&room, "link = ?", link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}

	return toDomainRoom(&room), nil
}

func (r *PostgresRoomRepository) Update(ctx context.Context, room *domain.Room) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if room == nil {
		return errors.New("room is nil")
	}

	roomModel := toModelRoom(room)

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{
			"name": roomModel.Name,
			"link": roomModel.Link,
		}

		if roomModel.ExpiresAt == nil {
			updates["expires_at"] = gorm.Expr("NULL")
		} else {
			updates["expires_at"] = roomModel.ExpiresAt
		}

		res := tx.Model(&model.Room{}).Where("id = ?", roomModel.ID).Updates(updates)
		if res.Error != nil {
			if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
				return ErrRoomLinkExists
			}
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrRoomNotFound
		}

		if err := tx.Where("room_id = ?", roomModel.ID).Delete(&model.Peer{}).Error; err != nil {
			return err
		}

		if len(roomModel.Peers) > 0 {
			if err := tx.Create(&roomModel.Peers).Error; err != nil {
				return err
			}
		}

		return nil
	})
}

func (r *PostgresRoomRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	res := r.db.WithContext(ctx).Delete(&model.Room{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRoomNotFound
	}
	return nil
}

func (r *PostgresRoomRepository) List(ctx context.Context) ([]*domain.Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rooms []model.Room
	if err := r.db.WithContext(ctx).Preload("Peers").Find(&rooms).Error; err != nil {
		return nil, err
	}

	result := make([]*domain.Room, 0, len(rooms))
	for i := range rooms {
		result = append(result, toDomainRoom(&rooms[i]))
	}

	return result, nil
}

func toModelRoom(room *domain.Room) *model.Room {
	var expiresAt *time.Time
	if !room.ExpiresAt.IsZero() {
		t := room.ExpiresAt.UTC()
		expiresAt = &t
	}

	peers := make([]model.Peer, 0, len(room.Peers))
	for _, p := range room.Peers {
		if p == nil {
			continue
		}
		status := p.Status
		if status == "" {
			status = domain.PeerStatusConnected
		}
		joinedAt := p.JoinedAt
		if joinedAt.IsZero() {
			joinedAt = time.Now().UTC()
		}
		lastSeen := p.LastSeen
		if lastSeen.IsZero() {
			lastSeen = joinedAt
		}
		peers = append(peers, model.Peer{
			ID:       p.ID,
			RoomID:   room.ID,
			Role:     string(p.Role),
			Status:   string(status),
			JoinedAt: joinedAt.UTC(),
			LastSeen: lastSeen.UTC(),
		})
	}

	return &model.Room{
		ID:        room.ID,
		Name:      room.Name,
		Link:      room.Link,
		CreatedAt: room.CreatedAt.UTC(),
		ExpiresAt: expiresAt,
		Peers:     peers,
	}
}

func toDomainRoom(room *model.Room) *domain.Room {
	peers := make(map[string]*domain.Peer, len(room.Peers))
	for i := range room.Peers {
		p := room.Peers[i]
		status := domain.PeerStatus(p.Status)
		if status == "" {
			status = domain.PeerStatusConnected
		}
		peer := &domain.Peer{
			ID:       p.ID,
			Role:     domain.Role(p.Role),
			Status:   status,
			JoinedAt: p.JoinedAt.UTC(),
			LastSeen: p.LastSeen.UTC(),
			Events:   make(chan domain.Envelope, 16),
		}
		peers[peer.ID] = peer
	}

	var expiresAt time.Time
	if room.ExpiresAt != nil {
		expiresAt = room.ExpiresAt.UTC()
	}

	return &domain.Room{
		ID:        room.ID,
		Name:      room.Name,
		Link:      room.Link,
		Peers:     peers,
		CreatedAt: room.CreatedAt.UTC(),
		ExpiresAt: expiresAt,
	}
}
