package room

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rocketscienceinc/chessroom-backend/internal/entity"
	"github.com/rocketscienceinc/chessroom-backend/internal/protocol"
	"github.com/rocketscienceinc/chessroom-backend/internal/repository"
)

// Conn - the coordinator's view of one attached socket. Send must not block;
// the transport buffers and drops slow consumers on its own.
type Conn interface {
	ID() string
	Send(data []byte)
}

type message interface{ isRoomMsg() }

type attachMsg struct{ conn Conn }

type detachMsg struct{ connectionID string }

type inboundMsg struct {
	conn Conn
	env  *protocol.Envelope
}

type stopMsg struct{}

func (attachMsg) isRoomMsg()  {}
func (detachMsg) isRoomMsg()  {}
func (inboundMsg) isRoomMsg() {}
func (stopMsg) isRoomMsg()    {}

// Coordinator - the per-room actor. One goroutine owns the registry, the
// state store and the pending action; every event is handled to completion
// before the next one starts, which is what keeps the room invariants safe
// without locks.
type Coordinator struct {
	id     string
	logger *slog.Logger

	registry    *Registry
	store       *Store
	sessionRepo repository.SessionRepository

	conns   map[string]Conn
	pending *entity.PendingRoomAction

	handlers map[string]func(ctx context.Context, conn Conn, payload json.RawMessage)

	inbox      chan message
	ctx        context.Context
	cancel     context.CancelFunc
	lastActive atomic.Int64
	attached   atomic.Int64
}

func newCoordinator(parent context.Context, id string, logger *slog.Logger, store *Store, sessionRepo repository.SessionRepository) *Coordinator {
	ctx, cancel := context.WithCancel(parent)

	that := &Coordinator{
		id:          id,
		logger:      logger.With("component", "room", "room_id", id),
		registry:    NewRegistry(),
		store:       store,
		sessionRepo: sessionRepo,
		conns:       make(map[string]Conn),
		inbox:       make(chan message, 64),
		ctx:         ctx,
		cancel:      cancel,
	}

	that.handlers = map[string]func(context.Context, Conn, json.RawMessage){
		protocol.EventJoinRoom:       that.handleJoin,
		protocol.EventChatMessage:    that.handleChat,
		protocol.EventChessMove:      that.handleMove,
		protocol.EventResetGame:      that.handleReset,
		protocol.EventRequestUndo:    that.handleRequestUndo,
		protocol.EventRequestSwap:    that.handleRequestSwap,
		protocol.EventActionResponse: that.handleActionResponse,
		protocol.EventOffer:          that.relayHandler(protocol.EventOffer),
		protocol.EventAnswer:         that.relayHandler(protocol.EventAnswer),
		protocol.EventICECandidate:   that.relayHandler(protocol.EventICECandidate),
	}

	that.touch()
	go that.loop()

	return that
}

// Attach - registers a live socket with the room.
func (that *Coordinator) Attach(conn Conn) {
	that.enqueue(attachMsg{conn: conn})
}

// Detach - removes a socket after its transport closed.
func (that *Coordinator) Detach(connectionID string) {
	that.enqueue(detachMsg{connectionID: connectionID})
}

// Dispatch - hands one validated envelope to the actor.
func (that *Coordinator) Dispatch(conn Conn, env *protocol.Envelope) {
	that.enqueue(inboundMsg{conn: conn, env: env})
}

// Stop - terminates the actor loop. Attached sockets stay open; a later
// message recreates the room and reattaches them.
func (that *Coordinator) Stop() {
	that.enqueue(stopMsg{})
}

// Idle - reports whether the room has no sockets and has been quiet for at
// least the given duration.
func (that *Coordinator) Idle(since time.Duration) bool {
	if that.attached.Load() > 0 {
		return false
	}
	last := time.Unix(0, that.lastActive.Load())
	return time.Since(last) >= since
}

func (that *Coordinator) enqueue(msg message) {
	select {
	case that.inbox <- msg:
	case <-that.ctx.Done():
	}
}

func (that *Coordinator) touch() {
	that.lastActive.Store(time.Now().UnixNano())
}

func (that *Coordinator) loop() {
	for {
		select {
		case <-that.ctx.Done():
			return

		case msg := <-that.inbox:
			that.touch()

			switch m := msg.(type) {
			case attachMsg:
				that.ensureSession(that.ctx, m.conn)

			case detachMsg:
				that.handleDetach(that.ctx, m.connectionID)

			case inboundMsg:
				that.handleInbound(that.ctx, m.conn, m.env)

			case stopMsg:
				that.cancel()
				return
			}
		}
	}
}

// ensureSession - idempotent session bootstrap. A socket the registry does
// not know yet gets its persisted metadata restored (the room actor may have
// been evicted since the socket connected) or a fresh spectator session.
func (that *Coordinator) ensureSession(ctx context.Context, conn Conn) *entity.Session {
	that.conns[conn.ID()] = conn
	that.attached.Store(int64(len(that.conns)))

	if session, ok := that.registry.Get(conn.ID()); ok {
		return session
	}

	session, err := that.sessionRepo.GetByID(ctx, conn.ID())
	if err != nil {
		session = entity.NewSession(conn.ID(), that.id)
	}

	that.registry.Add(session)

	return session
}

func (that *Coordinator) handleInbound(ctx context.Context, conn Conn, env *protocol.Envelope) {
	that.ensureSession(ctx, conn)

	handler, ok := that.handlers[env.Type]
	if !ok {
		that.sendError(conn, protocol.CodeUnknownEvent)
		return
	}

	handler(ctx, conn, env.Payload)
}

func (that *Coordinator) handleJoin(ctx context.Context, conn Conn, payload json.RawMessage) {
	log := that.logger.With("method", "handleJoin")

	var req protocol.JoinRoomPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		that.sendError(conn, protocol.CodeInvalidPayload)
		return
	}

	session, err := that.registry.Seat(conn.ID())
	if err != nil {
		log.Error("failed to seat session", "error", err)
		that.sendError(conn, protocol.CodeInvalidPayload)
		return
	}

	session.SetName(protocol.TrimName(req.UserName))

	if err = that.sessionRepo.Save(ctx, session); err != nil {
		log.Error("failed to persist session", "error", err)
	}

	that.broadcastExcept(conn.ID(), protocol.MustEnvelope(protocol.EventUserJoined, protocol.UserJoinedPayload{
		ID:   session.ConnectionID,
		Name: session.Name,
		Role: session.Role,
	}))

	// Seating may have changed other sockets' effective view too, so
	// everyone gets a fresh room-state.
	that.broadcastRoomState()
}

func (that *Coordinator) handleChat(_ context.Context, conn Conn, payload json.RawMessage) {
	var text string
	if err := json.Unmarshal(payload, &text); err != nil {
		that.sendError(conn, protocol.CodeInvalidPayload)
		return
	}

	text = protocol.TrimChat(text)
	if text == "" {
		return
	}

	session, ok := that.registry.Get(conn.ID())
	if !ok {
		return
	}

	that.broadcast(protocol.MustEnvelope(protocol.EventChatMessage, protocol.ChatBroadcastPayload{
		ID:         uuid.NewString(),
		SenderID:   session.ConnectionID,
		SenderName: session.Name,
		Text:       text,
		Timestamp:  time.Now().UnixMilli(),
	}))
}

func (that *Coordinator) handleMove(ctx context.Context, conn Conn, payload json.RawMessage) {
	log := that.logger.With("method", "handleMove")

	var req protocol.ChessMovePayload
	if err := json.Unmarshal(payload, &req); err != nil || req.FEN == "" {
		that.sendError(conn, protocol.CodeInvalidPayload)
		return
	}

	session, ok := that.registry.Get(conn.ID())
	if !ok {
		return
	}

	canonical, code, err := that.store.ApplyMove(ctx, req.FEN, session.Color, session.Role)
	if err != nil {
		log.Error("failed to apply move", "error", err)
		that.sendError(conn, protocol.CodeInvalidMessage)
		return
	}

	if code != "" {
		conn.Send(protocol.MustEnvelope(protocol.EventMoveRejected, protocol.MoveRejectedPayload{
			RequestID: req.RequestID,
			Code:      code,
			FEN:       that.store.FEN(),
		}))
		return
	}

	conn.Send(protocol.MustEnvelope(protocol.EventMoveAccepted, protocol.MoveAcceptedPayload{
		RequestID: req.RequestID,
		FEN:       canonical,
	}))

	that.broadcastExcept(conn.ID(), protocol.MustEnvelope(protocol.EventChessMove, protocol.MoveBroadcastPayload{
		FEN:     canonical,
		ActorID: session.ConnectionID,
	}))
}

func (that *Coordinator) handleReset(ctx context.Context, conn Conn, _ json.RawMessage) {
	log := that.logger.With("method", "handleReset")

	session, ok := that.registry.Get(conn.ID())
	if !ok {
		return
	}

	code, err := that.store.Reset(ctx, session.Role)
	if err != nil {
		log.Error("failed to reset game", "error", err)
		that.sendError(conn, protocol.CodeInvalidMessage)
		return
	}

	if code != "" {
		that.sendError(conn, code)
		return
	}

	that.broadcast(protocol.MustEnvelope(protocol.EventResetGame, nil))
	that.broadcastRoomState()
}

func (that *Coordinator) handleRequestUndo(ctx context.Context, conn Conn, _ json.RawMessage) {
	that.createPendingAction(ctx, conn, entity.ActionUndo)
}

func (that *Coordinator) handleRequestSwap(ctx context.Context, conn Conn, _ json.RawMessage) {
	that.createPendingAction(ctx, conn, entity.ActionSwap)
}

// createPendingAction - step one of the consent handshake: a seated
// requester with a live opponent and no pending action opens a request that
// only that opponent may answer.
func (that *Coordinator) createPendingAction(_ context.Context, conn Conn, action string) {
	session, ok := that.registry.Get(conn.ID())
	if !ok || !session.IsSeated() {
		that.sendError(conn, protocol.CodeRequesterNotSeated)
		return
	}

	opponent := that.registry.Opponent(conn.ID())
	if opponent == nil {
		that.sendError(conn, protocol.CodeNoOpponent)
		return
	}

	if that.pending != nil {
		that.sendError(conn, protocol.CodeActionAlreadyPending)
		return
	}

	that.pending = &entity.PendingRoomAction{
		RequestID:   uuid.NewString(),
		Action:      action,
		RequesterID: session.ConnectionID,
		ApproverID:  opponent.ConnectionID,
	}

	// Broadcast for visibility; only the approver may actually answer.
	that.broadcast(protocol.MustEnvelope(protocol.EventActionRequested, protocol.ActionRequestedPayload{
		RequestID:     that.pending.RequestID,
		Action:        that.pending.Action,
		RequesterID:   session.ConnectionID,
		RequesterName: session.Name,
	}))
}

func (that *Coordinator) handleActionResponse(ctx context.Context, conn Conn, payload json.RawMessage) {
	var req protocol.ActionResponsePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		that.sendError(conn, protocol.CodeInvalidPayload)
		return
	}

	if that.pending == nil || that.pending.RequestID != req.RequestID || that.pending.ApproverID != conn.ID() {
		that.sendError(conn, protocol.CodeActionWithoutRequest)
		return
	}

	pending := that.pending
	that.pending = nil

	// Consent is necessary but not sufficient: the mutation itself may
	// still fail, and only then is the action truly accepted.
	accepted := req.Accept && that.resolveAction(ctx, pending)

	that.broadcast(protocol.MustEnvelope(protocol.EventActionResolved, protocol.ActionResolvedPayload{
		RequestID: pending.RequestID,
		Action:    pending.Action,
		Accepted:  accepted,
	}))

	if accepted {
		that.broadcastRoomState()
	}
}

func (that *Coordinator) resolveAction(ctx context.Context, pending *entity.PendingRoomAction) bool {
	log := that.logger.With("method", "resolveAction")

	switch pending.Action {
	case entity.ActionUndo:
		code, err := that.store.Undo(ctx)
		if err != nil {
			log.Error("failed to undo", "error", err)
			return false
		}
		return code == ""

	case entity.ActionSwap:
		white, black, err := that.registry.Swap()
		if err != nil {
			return false
		}
		if err = that.sessionRepo.Save(ctx, white); err != nil {
			log.Error("failed to persist session", "error", err)
		}
		if err = that.sessionRepo.Save(ctx, black); err != nil {
			log.Error("failed to persist session", "error", err)
		}
		return true
	}

	return false
}

// relayHandler - opaque WebRTC signaling: the payload is forwarded verbatim
// to the target socket under the same event type, with the sender
// substituted in.
func (that *Coordinator) relayHandler(eventType string) func(context.Context, Conn, json.RawMessage) {
	return func(_ context.Context, conn Conn, payload json.RawMessage) {
		if len(payload) > protocol.MaxRelaySize {
			that.sendError(conn, protocol.CodePayloadTooLarge)
			return
		}

		var req protocol.RelayPayload
		if err := json.Unmarshal(payload, &req); err != nil {
			that.sendError(conn, protocol.CodeInvalidPayload)
			return
		}

		if req.TargetID == "" || len(req.TargetID) > protocol.MaxTypeLength {
			that.sendError(conn, protocol.CodeInvalidPayload)
			return
		}

		target, ok := that.conns[req.TargetID]
		if !ok {
			that.sendError(conn, protocol.CodeUnknownTarget)
			return
		}

		target.Send(protocol.MustEnvelope(eventType, protocol.RelayEcho{
			SenderID: conn.ID(),
			Data:     payload,
		}))
	}
}

func (that *Coordinator) handleDetach(ctx context.Context, connectionID string) {
	log := that.logger.With("method", "handleDetach")

	delete(that.conns, connectionID)
	that.attached.Store(int64(len(that.conns)))

	removed, promoted := that.registry.Remove(connectionID)
	if removed == nil {
		return
	}

	if err := that.sessionRepo.DeleteByID(ctx, connectionID); err != nil {
		log.Error("failed to delete session", "error", err)
	}

	// A pending handshake never outlives either of its parties.
	if that.pending != nil && that.pending.Involves(connectionID) {
		pending := that.pending
		that.pending = nil

		that.broadcast(protocol.MustEnvelope(protocol.EventActionResolved, protocol.ActionResolvedPayload{
			RequestID: pending.RequestID,
			Action:    pending.Action,
			Accepted:  false,
		}))
	}

	that.broadcast(protocol.MustEnvelope(protocol.EventUserLeft, protocol.UserLeftPayload{
		ID:   removed.ConnectionID,
		Name: removed.Name,
	}))

	if promoted != nil {
		if err := that.sessionRepo.Save(ctx, promoted); err != nil {
			log.Error("failed to persist promoted session", "error", err)
		}

		// Dedicated seat-update first, so the promoted client can react
		// before the general resync arrives.
		if conn, ok := that.conns[promoted.ConnectionID]; ok {
			conn.Send(protocol.MustEnvelope(protocol.EventSeatUpdated, protocol.SeatUpdatedPayload{
				Role:    promoted.Role,
				MyColor: promoted.Color,
			}))
		}
	}

	that.broadcastRoomState()
}

func (that *Coordinator) broadcastRoomState() {
	users := make([]protocol.RoomUser, 0, that.registry.Len())
	for _, session := range that.registry.Users() {
		users = append(users, protocol.RoomUser{
			ID:    session.ConnectionID,
			Name:  session.Name,
			Role:  session.Role,
			Color: session.Color,
		})
	}

	for id, conn := range that.conns {
		session, ok := that.registry.Get(id)
		if !ok {
			continue
		}

		conn.Send(protocol.MustEnvelope(protocol.EventRoomState, protocol.RoomStatePayload{
			Users:   users,
			FEN:     that.store.FEN(),
			MyColor: session.Color,
			Role:    session.Role,
		}))
	}
}

func (that *Coordinator) broadcast(data []byte) {
	for _, conn := range that.conns {
		conn.Send(data)
	}
}

func (that *Coordinator) broadcastExcept(connectionID string, data []byte) {
	for id, conn := range that.conns {
		if id == connectionID {
			continue
		}
		conn.Send(data)
	}
}

func (that *Coordinator) sendError(conn Conn, code string) {
	conn.Send(protocol.MustEnvelope(protocol.EventError, protocol.ErrorPayload{Code: code}))
}
