package room

import (
	"github.com/rocketscienceinc/chessroom-backend/internal/apperror"
	"github.com/rocketscienceinc/chessroom-backend/internal/entity"
)

// Registry - bookkeeping of the sessions attached to one room. It is owned
// by the room's actor goroutine, so no locking happens here; seat exclusivity
// holds because mutations never interleave.
type Registry struct {
	sessions map[string]*entity.Session
	order    []string
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*entity.Session),
	}
}

// Add - registers an already-built session, keeping arrival order for
// promotion fairness. Adding an existing id is a no-op.
func (that *Registry) Add(session *entity.Session) {
	if _, ok := that.sessions[session.ConnectionID]; ok {
		return
	}

	that.sessions[session.ConnectionID] = session
	that.order = append(that.order, session.ConnectionID)
}

func (that *Registry) Get(connectionID string) (*entity.Session, bool) {
	session, ok := that.sessions[connectionID]
	return session, ok
}

// Seat - applies the join seating policy: the first occupant takes white,
// the second takes the remaining color, everyone after stays a spectator.
func (that *Registry) Seat(connectionID string) (*entity.Session, error) {
	session, ok := that.sessions[connectionID]
	if !ok {
		return nil, apperror.ErrSessionNotFound
	}

	if session.IsSeated() {
		return session, nil
	}

	white, black := that.seated()

	switch {
	case white == nil && black == nil:
		session.Seat(entity.ColorWhite)
	case white == nil:
		session.Seat(entity.ColorWhite)
	case black == nil:
		session.Seat(entity.ColorBlack)
	}

	return session, nil
}

// Remove - drops a session. If it held a seat, the earliest-arrived waiting
// spectator inherits the vacated role and color and is returned as promoted.
func (that *Registry) Remove(connectionID string) (removed, promoted *entity.Session) {
	session, ok := that.sessions[connectionID]
	if !ok {
		return nil, nil
	}

	delete(that.sessions, connectionID)
	for i, id := range that.order {
		if id == connectionID {
			that.order = append(that.order[:i], that.order[i+1:]...)
			break
		}
	}

	if !session.IsSeated() {
		return session, nil
	}

	vacated := session.Color
	for _, id := range that.order {
		waiting := that.sessions[id]
		if waiting.IsSeated() {
			continue
		}

		waiting.Seat(vacated)
		return session, waiting
	}

	return session, nil
}

// Swap - exchanges the two seated players' colors atomically.
func (that *Registry) Swap() (white, black *entity.Session, err error) {
	white, black = that.seated()
	if white == nil || black == nil {
		return nil, nil, apperror.ErrSeatsNotFilled
	}

	white.Color, black.Color = black.Color, white.Color

	return white, black, nil
}

// Opponent - the other seated player, or nil if the given session is not
// seated or sits alone.
func (that *Registry) Opponent(connectionID string) *entity.Session {
	session, ok := that.sessions[connectionID]
	if !ok || !session.IsSeated() {
		return nil
	}

	for _, other := range that.sessions {
		if other.ConnectionID != connectionID && other.IsSeated() {
			return other
		}
	}

	return nil
}

// Users - snapshot in arrival order, for room-state payloads.
func (that *Registry) Users() []*entity.Session {
	users := make([]*entity.Session, 0, len(that.order))
	for _, id := range that.order {
		users = append(users, that.sessions[id])
	}
	return users
}

func (that *Registry) Len() int {
	return len(that.sessions)
}

func (that *Registry) seated() (white, black *entity.Session) {
	for _, id := range that.order {
		session := that.sessions[id]
		switch session.Color {
		case entity.ColorWhite:
			white = session
		case entity.ColorBlack:
			black = session
		}
	}
	return white, black
}
