package room

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocketscienceinc/chessroom-backend/internal/chess"
	"github.com/rocketscienceinc/chessroom-backend/internal/entity"
	"github.com/rocketscienceinc/chessroom-backend/internal/protocol"
)

const (
	waitTimeout = 2 * time.Second
	waitTick    = 5 * time.Millisecond
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRoom(t *testing.T) (*Coordinator, *memRoomRepo, *memSessionRepo) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	roomRepo := newMemRoomRepo()
	sessionRepo := newMemSessionRepo()

	store := NewStore(roomRepo)
	require.NoError(t, store.Hydrate(ctx, "r1"))

	coordinator := newCoordinator(ctx, "r1", discardLogger(), store, sessionRepo)
	t.Cleanup(coordinator.Stop)

	return coordinator, roomRepo, sessionRepo
}

func clientEnv(t *testing.T, eventType string, payload any) *protocol.Envelope {
	t.Helper()

	env := &protocol.Envelope{Type: eventType}
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		env.Payload = data
	}

	return env
}

// join - attaches a connection and performs the join-room handshake, waiting
// for the resulting room-state push.
func join(t *testing.T, coordinator *Coordinator, id, name string) *fakeConn {
	t.Helper()

	conn := newFakeConn(id)
	coordinator.Attach(conn)
	coordinator.Dispatch(conn, clientEnv(t, protocol.EventJoinRoom, protocol.JoinRoomPayload{UserName: name}))

	require.Eventually(t, func() bool {
		return conn.countOfType(protocol.EventRoomState) > 0
	}, waitTimeout, waitTick)

	return conn
}

func lastRoomState(t *testing.T, conn *fakeConn) protocol.RoomStatePayload {
	t.Helper()

	env, ok := conn.lastOfType(protocol.EventRoomState)
	require.True(t, ok)

	payload, err := decodePayload[protocol.RoomStatePayload](env)
	require.NoError(t, err)

	return payload
}

func TestCoordinator_JoinFlow(t *testing.T) {
	coordinator, _, sessionRepo := newTestRoom(t)

	white := join(t, coordinator, "w", "Walter")
	black := join(t, coordinator, "b", "Bella")
	spectator := join(t, coordinator, "s", "")

	// Then: seats follow arrival order and the spectator stays unseated
	assert.Equal(t, entity.ColorWhite, lastRoomState(t, white).MyColor)
	assert.Equal(t, entity.ColorBlack, lastRoomState(t, black).MyColor)

	spectatorState := lastRoomState(t, spectator)
	assert.Equal(t, entity.RoleSpectator, spectatorState.Role)
	assert.Empty(t, spectatorState.MyColor)
	assert.Len(t, spectatorState.Users, 3)

	// earlier joiners heard about the later ones
	assert.GreaterOrEqual(t, white.countOfType(protocol.EventUserJoined), 2)

	// the empty name fell back to the default and seats were persisted
	persisted, err := sessionRepo.GetByID(context.Background(), "s")
	require.NoError(t, err)
	assert.Equal(t, entity.DefaultName, persisted.Name)

	persistedWhite, err := sessionRepo.GetByID(context.Background(), "w")
	require.NoError(t, err)
	assert.Equal(t, entity.ColorWhite, persistedWhite.Color)
}

func TestCoordinator_AcceptedMove(t *testing.T) {
	coordinator, _, _ := newTestRoom(t)

	white := join(t, coordinator, "w", "Walter")
	black := join(t, coordinator, "b", "Bella")

	// When: white claims the position after e2e4
	coordinator.Dispatch(white, clientEnv(t, protocol.EventChessMove, protocol.ChessMovePayload{
		RequestID: "req-1",
		FEN:       afterE2E4,
	}))

	// Then: the sender gets move-accepted with the canonical fen
	require.Eventually(t, func() bool {
		return white.countOfType(protocol.EventMoveAccepted) == 1
	}, waitTimeout, waitTick)

	acceptedEnv, _ := white.lastOfType(protocol.EventMoveAccepted)
	accepted, err := decodePayload[protocol.MoveAcceptedPayload](acceptedEnv)
	require.NoError(t, err)
	assert.Equal(t, "req-1", accepted.RequestID)
	assert.NotEmpty(t, accepted.FEN)

	// and the opponent gets the room-visible chess-move broadcast
	require.Eventually(t, func() bool {
		return black.countOfType(protocol.EventChessMove) == 1
	}, waitTimeout, waitTick)

	moveEnv, _ := black.lastOfType(protocol.EventChessMove)
	move, err := decodePayload[protocol.MoveBroadcastPayload](moveEnv)
	require.NoError(t, err)
	assert.Equal(t, accepted.FEN, move.FEN)
	assert.Equal(t, "w", move.ActorID)

	// a later resync reports the same fen
	coordinator.Dispatch(white, clientEnv(t, protocol.EventJoinRoom, protocol.JoinRoomPayload{UserName: "Walter"}))
	require.Eventually(t, func() bool {
		return lastRoomState(t, white).FEN == accepted.FEN
	}, waitTimeout, waitTick)
}

func TestCoordinator_SpectatorMoveRejected(t *testing.T) {
	coordinator, _, _ := newTestRoom(t)

	white := join(t, coordinator, "w", "Walter")
	join(t, coordinator, "b", "Bella")
	spectator := join(t, coordinator, "s", "Sam")

	coordinator.Dispatch(spectator, clientEnv(t, protocol.EventChessMove, protocol.ChessMovePayload{
		RequestID: "req-1",
		FEN:       afterE2E4,
	}))

	require.Eventually(t, func() bool {
		return spectator.countOfType(protocol.EventMoveRejected) == 1
	}, waitTimeout, waitTick)

	rejectedEnv, _ := spectator.lastOfType(protocol.EventMoveRejected)
	rejected, err := decodePayload[protocol.MoveRejectedPayload](rejectedEnv)
	require.NoError(t, err)

	// Then: the rejection carries the unchanged authoritative fen
	assert.Equal(t, protocol.CodeSpectatorCannotMove, rejected.Code)
	assert.Equal(t, chess.StartingFEN, rejected.FEN)

	// and nothing was broadcast to the players
	assert.Zero(t, white.countOfType(protocol.EventChessMove))
}

func TestCoordinator_Chat(t *testing.T) {
	coordinator, _, _ := newTestRoom(t)

	white := join(t, coordinator, "w", "Walter")
	black := join(t, coordinator, "b", "Bella")

	coordinator.Dispatch(white, clientEnv(t, protocol.EventChatMessage, "  hello  "))

	require.Eventually(t, func() bool {
		return black.countOfType(protocol.EventChatMessage) == 1
	}, waitTimeout, waitTick)

	chatEnv, _ := black.lastOfType(protocol.EventChatMessage)
	chat, err := decodePayload[protocol.ChatBroadcastPayload](chatEnv)
	require.NoError(t, err)
	assert.Equal(t, "hello", chat.Text)
	assert.Equal(t, "w", chat.SenderID)
	assert.Equal(t, "Walter", chat.SenderName)
	assert.NotEmpty(t, chat.ID)

	// empty-after-trim is silently dropped
	coordinator.Dispatch(white, clientEnv(t, protocol.EventChatMessage, "   "))
	coordinator.Dispatch(white, clientEnv(t, protocol.EventChatMessage, "second"))

	require.Eventually(t, func() bool {
		return black.countOfType(protocol.EventChatMessage) == 2
	}, waitTimeout, waitTick)
}

func TestCoordinator_UndoConsent(t *testing.T) {
	coordinator, _, _ := newTestRoom(t)

	white := join(t, coordinator, "w", "Walter")
	black := join(t, coordinator, "b", "Bella")

	coordinator.Dispatch(white, clientEnv(t, protocol.EventChessMove, protocol.ChessMovePayload{RequestID: "m1", FEN: afterE2E4}))
	require.Eventually(t, func() bool {
		return white.countOfType(protocol.EventMoveAccepted) == 1
	}, waitTimeout, waitTick)

	// Step 1: white opens the handshake; the request is room-visible
	coordinator.Dispatch(white, clientEnv(t, protocol.EventRequestUndo, nil))

	require.Eventually(t, func() bool {
		return black.countOfType(protocol.EventActionRequested) == 1
	}, waitTimeout, waitTick)

	requestedEnv, _ := black.lastOfType(protocol.EventActionRequested)
	requested, err := decodePayload[protocol.ActionRequestedPayload](requestedEnv)
	require.NoError(t, err)
	assert.Equal(t, entity.ActionUndo, requested.Action)
	assert.Equal(t, "w", requested.RequesterID)
	assert.Equal(t, "Walter", requested.RequesterName)

	// Step 2+3: the opponent accepts and the mutation succeeds
	coordinator.Dispatch(black, clientEnv(t, protocol.EventActionResponse, protocol.ActionResponsePayload{
		RequestID: requested.RequestID,
		Accept:    true,
	}))

	require.Eventually(t, func() bool {
		return white.countOfType(protocol.EventActionResolved) == 1
	}, waitTimeout, waitTick)

	resolvedEnv, _ := white.lastOfType(protocol.EventActionResolved)
	resolved, err := decodePayload[protocol.ActionResolvedPayload](resolvedEnv)
	require.NoError(t, err)
	assert.True(t, resolved.Accepted)
	assert.Equal(t, entity.ActionUndo, resolved.Action)

	// the resync after the undo shows the pre-move position
	require.Eventually(t, func() bool {
		return lastRoomState(t, white).FEN == chess.StartingFEN
	}, waitTimeout, waitTick)
}

func TestCoordinator_SwapConsent(t *testing.T) {
	coordinator, _, _ := newTestRoom(t)

	white := join(t, coordinator, "w", "Walter")
	black := join(t, coordinator, "b", "Bella")

	coordinator.Dispatch(white, clientEnv(t, protocol.EventRequestSwap, nil))

	require.Eventually(t, func() bool {
		return black.countOfType(protocol.EventActionRequested) == 1
	}, waitTimeout, waitTick)

	requestedEnv, _ := black.lastOfType(protocol.EventActionRequested)
	requested, err := decodePayload[protocol.ActionRequestedPayload](requestedEnv)
	require.NoError(t, err)

	coordinator.Dispatch(black, clientEnv(t, protocol.EventActionResponse, protocol.ActionResponsePayload{
		RequestID: requested.RequestID,
		Accept:    true,
	}))

	// Then: both players' effective colors are exchanged
	require.Eventually(t, func() bool {
		return lastRoomState(t, white).MyColor == entity.ColorBlack &&
			lastRoomState(t, black).MyColor == entity.ColorWhite
	}, waitTimeout, waitTick)
}

func TestCoordinator_SecondRequestWhilePending(t *testing.T) {
	coordinator, _, _ := newTestRoom(t)

	white := join(t, coordinator, "w", "Walter")
	black := join(t, coordinator, "b", "Bella")

	coordinator.Dispatch(white, clientEnv(t, protocol.EventRequestSwap, nil))
	coordinator.Dispatch(black, clientEnv(t, protocol.EventRequestUndo, nil))

	// Then: the second request errors and no second action-requested exists
	require.Eventually(t, func() bool {
		env, ok := black.lastOfType(protocol.EventError)
		if !ok {
			return false
		}
		payload, err := decodePayload[protocol.ErrorPayload](env)
		return err == nil && payload.Code == protocol.CodeActionAlreadyPending
	}, waitTimeout, waitTick)

	assert.Equal(t, 1, white.countOfType(protocol.EventActionRequested))
	assert.Equal(t, 1, black.countOfType(protocol.EventActionRequested))
}

func TestCoordinator_ActionResponseValidation(t *testing.T) {
	coordinator, _, _ := newTestRoom(t)

	white := join(t, coordinator, "w", "Walter")
	black := join(t, coordinator, "b", "Bella")
	spectator := join(t, coordinator, "s", "Sam")

	coordinator.Dispatch(white, clientEnv(t, protocol.EventRequestUndo, nil))

	require.Eventually(t, func() bool {
		return black.countOfType(protocol.EventActionRequested) == 1
	}, waitTimeout, waitTick)

	requestedEnv, _ := black.lastOfType(protocol.EventActionRequested)
	requested, err := decodePayload[protocol.ActionRequestedPayload](requestedEnv)
	require.NoError(t, err)

	// a non-approver response is rejected
	coordinator.Dispatch(spectator, clientEnv(t, protocol.EventActionResponse, protocol.ActionResponsePayload{
		RequestID: requested.RequestID,
		Accept:    true,
	}))

	// a mismatched request id is rejected
	coordinator.Dispatch(black, clientEnv(t, protocol.EventActionResponse, protocol.ActionResponsePayload{
		RequestID: "wrong-id",
		Accept:    true,
	}))

	require.Eventually(t, func() bool {
		return spectator.countOfType(protocol.EventError) == 1 && black.countOfType(protocol.EventError) == 1
	}, waitTimeout, waitTick)

	for _, conn := range []*fakeConn{spectator, black} {
		env, ok := conn.lastOfType(protocol.EventError)
		require.True(t, ok)
		payload, decodeErr := decodePayload[protocol.ErrorPayload](env)
		require.NoError(t, decodeErr)
		assert.Equal(t, protocol.CodeActionWithoutRequest, payload.Code)
	}

	// the pending action survived both bad responses
	assert.Zero(t, white.countOfType(protocol.EventActionResolved))
}

func TestCoordinator_RequestValidation(t *testing.T) {
	t.Run("SpectatorCannotRequest", func(t *testing.T) {
		coordinator, _, _ := newTestRoom(t)

		join(t, coordinator, "w", "Walter")
		join(t, coordinator, "b", "Bella")
		spectator := join(t, coordinator, "s", "Sam")

		coordinator.Dispatch(spectator, clientEnv(t, protocol.EventRequestUndo, nil))

		require.Eventually(t, func() bool {
			env, ok := spectator.lastOfType(protocol.EventError)
			if !ok {
				return false
			}
			payload, err := decodePayload[protocol.ErrorPayload](env)
			return err == nil && payload.Code == protocol.CodeRequesterNotSeated
		}, waitTimeout, waitTick)
	})

	t.Run("LonePlayerHasNoOpponent", func(t *testing.T) {
		coordinator, _, _ := newTestRoom(t)

		white := join(t, coordinator, "w", "Walter")

		coordinator.Dispatch(white, clientEnv(t, protocol.EventRequestSwap, nil))

		require.Eventually(t, func() bool {
			env, ok := white.lastOfType(protocol.EventError)
			if !ok {
				return false
			}
			payload, err := decodePayload[protocol.ErrorPayload](env)
			return err == nil && payload.Code == protocol.CodeNoOpponent
		}, waitTimeout, waitTick)
	})
}

func TestCoordinator_DisconnectForceRejectsPendingAction(t *testing.T) {
	coordinator, _, _ := newTestRoom(t)

	white := join(t, coordinator, "w", "Walter")
	black := join(t, coordinator, "b", "Bella")

	coordinator.Dispatch(white, clientEnv(t, protocol.EventRequestUndo, nil))
	require.Eventually(t, func() bool {
		return black.countOfType(protocol.EventActionRequested) == 1
	}, waitTimeout, waitTick)

	// When: the approver disconnects mid-handshake
	coordinator.Detach("b")

	// Then: the action resolves as rejected for everyone left
	require.Eventually(t, func() bool {
		return white.countOfType(protocol.EventActionResolved) == 1
	}, waitTimeout, waitTick)

	resolvedEnv, _ := white.lastOfType(protocol.EventActionResolved)
	resolved, err := decodePayload[protocol.ActionResolvedPayload](resolvedEnv)
	require.NoError(t, err)
	assert.False(t, resolved.Accepted)

	// and a fresh request is possible again once a new opponent seats
	assert.Equal(t, 1, white.countOfType(protocol.EventUserLeft))
}

func TestCoordinator_DeparturePromotesSpectator(t *testing.T) {
	coordinator, _, sessionRepo := newTestRoom(t)

	white := join(t, coordinator, "w", "Walter")
	join(t, coordinator, "b", "Bella")
	spectator := join(t, coordinator, "s", "Sam")

	coordinator.Detach("b")

	// Then: the spectator gets the dedicated seat-update before the resync
	require.Eventually(t, func() bool {
		return spectator.countOfType(protocol.EventSeatUpdated) == 1
	}, waitTimeout, waitTick)

	seatEnv, _ := spectator.lastOfType(protocol.EventSeatUpdated)
	seat, err := decodePayload[protocol.SeatUpdatedPayload](seatEnv)
	require.NoError(t, err)
	assert.Equal(t, entity.RolePlayer, seat.Role)
	assert.Equal(t, entity.ColorBlack, seat.MyColor)

	envelopes := spectator.envelopes()
	seatIndex, stateIndex := -1, -1
	for i, env := range envelopes {
		if env.Type == protocol.EventSeatUpdated && seatIndex == -1 {
			seatIndex = i
		}
	}
	for i, env := range envelopes {
		if env.Type == protocol.EventRoomState && i > seatIndex {
			stateIndex = i
			break
		}
	}
	assert.Greater(t, stateIndex, seatIndex)

	require.Eventually(t, func() bool {
		return lastRoomState(t, white).FEN != "" && len(lastRoomState(t, white).Users) == 2
	}, waitTimeout, waitTick)

	// the promoted seat was persisted for rehydration
	persisted, err := sessionRepo.GetByID(context.Background(), "s")
	require.NoError(t, err)
	assert.Equal(t, entity.ColorBlack, persisted.Color)
}

func TestCoordinator_Relay(t *testing.T) {
	coordinator, _, _ := newTestRoom(t)

	white := join(t, coordinator, "w", "Walter")
	black := join(t, coordinator, "b", "Bella")

	t.Run("ForwardsToTarget", func(t *testing.T) {
		payload := map[string]any{"targetId": "b", "sdp": "v=0 fake offer"}
		coordinator.Dispatch(white, clientEnv(t, protocol.EventOffer, payload))

		require.Eventually(t, func() bool {
			return black.countOfType(protocol.EventOffer) == 1
		}, waitTimeout, waitTick)

		offerEnv, _ := black.lastOfType(protocol.EventOffer)
		echo, err := decodePayload[protocol.RelayEcho](offerEnv)
		require.NoError(t, err)
		assert.Equal(t, "w", echo.SenderID)
		assert.Contains(t, string(echo.Data), "fake offer")
	})

	t.Run("UnknownTarget", func(t *testing.T) {
		coordinator.Dispatch(white, clientEnv(t, protocol.EventICECandidate, map[string]any{"targetId": "ghost"}))

		require.Eventually(t, func() bool {
			env, ok := white.lastOfType(protocol.EventError)
			if !ok {
				return false
			}
			payload, err := decodePayload[protocol.ErrorPayload](env)
			return err == nil && payload.Code == protocol.CodeUnknownTarget
		}, waitTimeout, waitTick)
	})

	t.Run("OversizedRelayPayload", func(t *testing.T) {
		big := make([]byte, protocol.MaxRelaySize+100)
		for i := range big {
			big[i] = 'x'
		}

		coordinator.Dispatch(white, clientEnv(t, protocol.EventAnswer, map[string]any{
			"targetId": "b",
			"sdp":      string(big),
		}))

		require.Eventually(t, func() bool {
			env, ok := white.lastOfType(protocol.EventError)
			if !ok {
				return false
			}
			payload, err := decodePayload[protocol.ErrorPayload](env)
			return err == nil && payload.Code == protocol.CodePayloadTooLarge
		}, waitTimeout, waitTick)

		assert.Zero(t, black.countOfType(protocol.EventAnswer))
	})
}

func TestCoordinator_UnknownEvent(t *testing.T) {
	coordinator, _, _ := newTestRoom(t)

	white := join(t, coordinator, "w", "Walter")

	coordinator.Dispatch(white, &protocol.Envelope{Type: "no-such-event"})

	require.Eventually(t, func() bool {
		env, ok := white.lastOfType(protocol.EventError)
		if !ok {
			return false
		}
		payload, err := decodePayload[protocol.ErrorPayload](env)
		return err == nil && payload.Code == protocol.CodeUnknownEvent
	}, waitTimeout, waitTick)
}
