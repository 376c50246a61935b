package room

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rocketscienceinc/chessroom-backend/internal/apperror"
	"github.com/rocketscienceinc/chessroom-backend/internal/entity"
	"github.com/rocketscienceinc/chessroom-backend/internal/protocol"
)

// memRoomRepo - in-memory stand-in for the Redis room repository.
type memRoomRepo struct {
	mu       sync.Mutex
	states   map[string]*entity.RoomState
	failSave bool
}

func newMemRoomRepo() *memRoomRepo {
	return &memRoomRepo{states: make(map[string]*entity.RoomState)}
}

func (that *memRoomRepo) Save(_ context.Context, state *entity.RoomState) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.failSave {
		return apperror.ErrRoomNotFound
	}

	stored := *state
	stored.FENHistory = append([]string(nil), state.FENHistory...)
	that.states[state.ID] = &stored

	return nil
}

func (that *memRoomRepo) GetByID(_ context.Context, id string) (*entity.RoomState, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	state, ok := that.states[id]
	if !ok {
		return nil, apperror.ErrRoomNotFound
	}

	copied := *state
	copied.FENHistory = append([]string(nil), state.FENHistory...)

	return &copied, nil
}

func (that *memRoomRepo) DeleteByID(_ context.Context, id string) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	delete(that.states, id)
	return nil
}

// memSessionRepo - in-memory stand-in for the Redis session repository.
type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*entity.Session
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: make(map[string]*entity.Session)}
}

func (that *memSessionRepo) Save(_ context.Context, session *entity.Session) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	copied := *session
	that.sessions[session.ConnectionID] = &copied

	return nil
}

func (that *memSessionRepo) GetByID(_ context.Context, connectionID string) (*entity.Session, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	session, ok := that.sessions[connectionID]
	if !ok {
		return nil, apperror.ErrSessionNotFound
	}

	copied := *session
	return &copied, nil
}

func (that *memSessionRepo) DeleteByID(_ context.Context, connectionID string) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	delete(that.sessions, connectionID)
	return nil
}

// fakeConn - records everything the room sends to one socket.
type fakeConn struct {
	id string

	mu   sync.Mutex
	sent []protocol.Envelope
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (that *fakeConn) ID() string { return that.id }

func (that *fakeConn) Send(data []byte) {
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		return
	}

	that.mu.Lock()
	defer that.mu.Unlock()
	that.sent = append(that.sent, *env)
}

// envelopes - snapshot of everything received so far.
func (that *fakeConn) envelopes() []protocol.Envelope {
	that.mu.Lock()
	defer that.mu.Unlock()

	return append([]protocol.Envelope(nil), that.sent...)
}

// lastOfType - the most recent envelope of the given type, if any.
func (that *fakeConn) lastOfType(eventType string) (protocol.Envelope, bool) {
	that.mu.Lock()
	defer that.mu.Unlock()

	for i := len(that.sent) - 1; i >= 0; i-- {
		if that.sent[i].Type == eventType {
			return that.sent[i], true
		}
	}

	return protocol.Envelope{}, false
}

func (that *fakeConn) countOfType(eventType string) int {
	that.mu.Lock()
	defer that.mu.Unlock()

	count := 0
	for _, env := range that.sent {
		if env.Type == eventType {
			count++
		}
	}

	return count
}

func decodePayload[T any](env protocol.Envelope) (T, error) {
	var payload T
	err := json.Unmarshal(env.Payload, &payload)
	return payload, err
}
