package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rocketscienceinc/chessroom-backend/internal/apperror"
	"github.com/rocketscienceinc/chessroom-backend/internal/entity"
)

type RoomRepository interface {
	Save(ctx context.Context, state *entity.RoomState) error
	GetByID(ctx context.Context, id string) (*entity.RoomState, error)
	DeleteByID(ctx context.Context, id string) error
}

type dbRoom struct {
	client *redis.Client
}

func NewRoomRepository(client *redis.Client) RoomRepository {
	return &dbRoom{
		client: client,
	}
}

// Save - persists the room's fen and history as a single durable record.
func (that *dbRoom) Save(ctx context.Context, state *entity.RoomState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("could not marshal room state: %w", err)
	}

	roomKey := "room:" + state.ID
	if err = that.client.Set(ctx, roomKey, stateJSON, 0).Err(); err != nil {
		return fmt.Errorf("failed to set room state: %w", err)
	}

	return nil
}

func (that *dbRoom) GetByID(ctx context.Context, id string) (*entity.RoomState, error) {
	roomKey := "room:" + id

	response, err := that.client.Get(ctx, roomKey).Result()

	if errors.Is(err, redis.Nil) {
		return nil, apperror.ErrRoomNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get room state: %w", err)
	}

	var state entity.RoomState
	if err = json.Unmarshal([]byte(response), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room state: %w", err)
	}

	return &state, nil
}

func (that *dbRoom) DeleteByID(ctx context.Context, id string) error {
	roomKey := "room:" + id

	if err := that.client.Del(ctx, roomKey).Err(); err != nil {
		return fmt.Errorf("failed to delete room state: %w", err)
	}

	return nil
}
