package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rocketscienceinc/chessroom-backend/internal/apperror"
	"github.com/rocketscienceinc/chessroom-backend/internal/entity"
)

// Session records expire on their own in case a disconnect cleanup is lost.
const sessionTTL = 24 * time.Hour

type SessionRepository interface {
	Save(ctx context.Context, session *entity.Session) error
	GetByID(ctx context.Context, connectionID string) (*entity.Session, error)
	DeleteByID(ctx context.Context, connectionID string) error
}

type dbSession struct {
	client *redis.Client
}

func NewSessionRepository(client *redis.Client) SessionRepository {
	return &dbSession{
		client: client,
	}
}

// Save - persists session metadata keyed by connection id, so a recreated
// room actor can restore seats for sockets that stayed open.
func (that *dbSession) Save(ctx context.Context, session *entity.Session) error {
	sessionJSON, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("could not marshal session: %w", err)
	}

	sessionKey := "session:" + session.ConnectionID
	if err = that.client.Set(ctx, sessionKey, sessionJSON, sessionTTL).Err(); err != nil {
		return fmt.Errorf("failed to set session: %w", err)
	}

	return nil
}

func (that *dbSession) GetByID(ctx context.Context, connectionID string) (*entity.Session, error) {
	sessionKey := "session:" + connectionID

	response, err := that.client.Get(ctx, sessionKey).Result()

	if errors.Is(err, redis.Nil) {
		return nil, apperror.ErrSessionNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session entity.Session
	if err = json.Unmarshal([]byte(response), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	return &session, nil
}

func (that *dbSession) DeleteByID(ctx context.Context, connectionID string) error {
	sessionKey := "session:" + connectionID

	if err := that.client.Del(ctx, sessionKey).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	return nil
}
