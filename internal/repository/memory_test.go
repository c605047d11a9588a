package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avelichka/streamcast/internal/domain"
)

func TestInMemoryRoomRepository(t *testing.T) {
	repo := NewInMemoryRoomRepository()
	ctx := context.Background()

	room := domain.NewRoom("demo", time.Hour)
	require.NoError(t, repo.Create(ctx, room))

	t.Run("get by id", func(t *testing.T) {
		got, err := repo.GetByID(ctx, room.ID)
		require.NoError(t, err)
		assert.Same(t, room, got)
	})

	t.Run("get by link", func(t *testing.T) {
		got, err := repo.GetByLink(ctx, room.Link)
		require.NoError(t, err)
		assert.Same(t, room, got)
	})

	t.Run("missing room", func(t *testing.T) {
		_, err := repo.GetByID(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrRoomNotFound)

		_, err = repo.GetByLink(ctx, "no-such-link")
		assert.ErrorIs(t, err, ErrRoomNotFound)
	})

	t.Run("duplicate link", func(t *testing.T) {
		clash := domain.NewRoom("clash", time.Hour)
		clash.Link = room.Link
		assert.ErrorIs(t, repo.Create(ctx, clash), ErrRoomLinkExists)
	})

	t.Run("update", func(t *testing.T) {
		room.Name = "renamed"
		require.NoError(t, repo.Update(ctx, room))

		got, err := repo.GetByID(ctx, room.ID)
		require.NoError(t, err)
		assert.Equal(t, "renamed", got.Name)

		unknown := domain.NewRoom("unknown", time.Hour)
		assert.ErrorIs(t, repo.Update(ctx, unknown), ErrRoomNotFound)
	})

	t.Run("list", func(t *testing.T) {
		rooms, err := repo.List(ctx)
		require.NoError(t, err)
		assert.Len(t, rooms, 1)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, room.ID))
		assert.ErrorIs(t, repo.Delete(ctx, room.ID), ErrRoomNotFound)

		_, err := repo.GetByLink(ctx, room.Link)
		assert.ErrorIs(t, err, ErrRoomNotFound)
	})
}

func TestInMemoryRoomRepositoryContext(t *testing.T) {
	repo := NewInMemoryRoomRepository()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, repo.Create(ctx, domain.NewRoom("demo", 0)), context.Canceled)
	_, err := repo.List(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
