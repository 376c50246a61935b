package room

import (
	"context"
	"errors"
	"fmt"

	"github.com/rocketscienceinc/chessroom-backend/internal/apperror"
	"github.com/rocketscienceinc/chessroom-backend/internal/chess"
	"github.com/rocketscienceinc/chessroom-backend/internal/entity"
	"github.com/rocketscienceinc/chessroom-backend/internal/protocol"
	"github.com/rocketscienceinc/chessroom-backend/internal/repository"
)

// Store - the authoritative position of one room. Every mutation is written
// through the repository before the caller is allowed to answer the client,
// so an acknowledged move is always a persisted move.
type Store struct {
	repo  repository.RoomRepository
	state *entity.RoomState
}

func NewStore(repo repository.RoomRepository) *Store {
	return &Store{
		repo: repo,
	}
}

// Hydrate - loads the room's persisted record, re-canonicalizing each history
// entry and dropping the unparsable ones. A partially written record degrades
// to the bare fen, and a fully broken one to a fresh starting position.
func (that *Store) Hydrate(ctx context.Context, roomID string) error {
	persisted, err := that.repo.GetByID(ctx, roomID)

	if errors.Is(err, apperror.ErrRoomNotFound) {
		that.state = entity.NewRoomState(roomID, chess.StartingFEN)
		return that.persist(ctx)
	}

	if err != nil {
		return fmt.Errorf("failed to load room state: %w", err)
	}

	history := make([]string, 0, len(persisted.FENHistory))
	for _, fen := range persisted.FENHistory {
		canonical, canonErr := chess.Canonicalize(fen)
		if canonErr != nil {
			continue
		}
		history = append(history, canonical)
	}

	that.state = &entity.RoomState{ID: roomID}

	switch {
	case len(history) > 0:
		that.state.FENHistory = history
		that.state.FEN = history[len(history)-1]
	default:
		canonical, canonErr := chess.Canonicalize(persisted.FEN)
		if canonErr != nil {
			canonical = chess.StartingFEN
		}
		that.state.Reseed(canonical)
	}

	return that.persist(ctx)
}

// ApplyMove - validates the claimed transition and, when legal, appends the
// canonical fen and persists. On rejection the state is untouched and the
// returned code plus unchanged fen let the client resync in one round trip.
func (that *Store) ApplyMove(ctx context.Context, claimedFEN, color, role string) (string, string, error) {
	canonical, code := chess.ValidateMove(that.state.FEN, claimedFEN, color, role)
	if code != "" {
		return "", code, nil
	}

	that.state.Push(canonical)

	if err := that.persist(ctx); err != nil {
		that.state.Pop()
		return "", "", fmt.Errorf("failed to persist move: %w", err)
	}

	return canonical, "", nil
}

// Reset - reseeds the room to the starting position. Spectators may not
// reset.
func (that *Store) Reset(ctx context.Context, role string) (string, error) {
	if role != entity.RolePlayer {
		return protocol.CodeSpectatorCannotReset, nil
	}

	previous := *that.state
	that.state.Reseed(chess.StartingFEN)

	if err := that.persist(ctx); err != nil {
		*that.state = previous
		return "", fmt.Errorf("failed to persist reset: %w", err)
	}

	return "", nil
}

// Undo - pops the latest history entry. The single-entry history (nothing but
// the current position) cannot be undone.
func (that *Store) Undo(ctx context.Context) (string, error) {
	if !that.state.CanUndo() {
		return protocol.CodeCannotUndo, nil
	}

	popped := that.state.FEN
	that.state.Pop()

	if err := that.persist(ctx); err != nil {
		that.state.Push(popped)
		return "", fmt.Errorf("failed to persist undo: %w", err)
	}

	return "", nil
}

func (that *Store) CanUndo() bool {
	return that.state.CanUndo()
}

func (that *Store) FEN() string {
	return that.state.FEN
}

func (that *Store) History() []string {
	history := make([]string, len(that.state.FENHistory))
	copy(history, that.state.FENHistory)
	return history
}

func (that *Store) persist(ctx context.Context) error {
	if err := that.repo.Save(ctx, that.state); err != nil {
		return fmt.Errorf("failed to save room state: %w", err)
	}
	return nil
}
