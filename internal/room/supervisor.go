package room

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rocketscienceinc/chessroom-backend/internal/repository"
)

// Supervisor - create-on-demand hosting for room actors. It guarantees at
// most one live Coordinator per room id, evicts idle ones, and lets the next
// request recreate them from persisted state.
type Supervisor struct {
	baseCtx     context.Context
	logger      *slog.Logger
	roomRepo    repository.RoomRepository
	sessionRepo repository.SessionRepository
	idleTimeout time.Duration

	mu    sync.Mutex
	rooms map[string]*Coordinator
}

// NewSupervisor - the base context bounds the lifetime of every actor the
// supervisor creates.
func NewSupervisor(baseCtx context.Context, logger *slog.Logger, roomRepo repository.RoomRepository, sessionRepo repository.SessionRepository, idleTimeout time.Duration) *Supervisor {
	return &Supervisor{
		baseCtx:     baseCtx,
		logger:      logger,
		roomRepo:    roomRepo,
		sessionRepo: sessionRepo,
		idleTimeout: idleTimeout,
		rooms:       make(map[string]*Coordinator),
	}
}

// Ensure - returns the live actor for the room, creating and rehydrating one
// if none exists.
func (that *Supervisor) Ensure(ctx context.Context, roomID string) (*Coordinator, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if coordinator, ok := that.rooms[roomID]; ok {
		return coordinator, nil
	}

	store := NewStore(that.roomRepo)
	if err := store.Hydrate(ctx, roomID); err != nil {
		return nil, fmt.Errorf("failed to hydrate room %s: %w", roomID, err)
	}

	coordinator := newCoordinator(that.baseCtx, roomID, that.logger, store, that.sessionRepo)
	that.rooms[roomID] = coordinator

	return coordinator, nil
}

// Run - evicts idle empty rooms until the context is canceled, then stops
// every remaining actor.
func (that *Supervisor) Run(ctx context.Context) {
	log := that.logger.With("component", "supervisor")

	interval := that.idleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			that.stopAll()
			return

		case <-ticker.C:
			for _, roomID := range that.evictIdle() {
				log.Debug("evicted idle room", "room_id", roomID)
			}
		}
	}
}

func (that *Supervisor) evictIdle() []string {
	that.mu.Lock()
	defer that.mu.Unlock()

	var evicted []string
	for roomID, coordinator := range that.rooms {
		if coordinator.Idle(that.idleTimeout) {
			coordinator.Stop()
			delete(that.rooms, roomID)
			evicted = append(evicted, roomID)
		}
	}

	return evicted
}

func (that *Supervisor) stopAll() {
	that.mu.Lock()
	defer that.mu.Unlock()

	for roomID, coordinator := range that.rooms {
		coordinator.Stop()
		delete(that.rooms, roomID)
	}
}
