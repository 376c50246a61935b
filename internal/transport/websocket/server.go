package websocket

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rocketscienceinc/chessroom-backend/internal/protocol"
	"github.com/rocketscienceinc/chessroom-backend/internal/room"
)

// readLimit - hard transport bound; the protocol's 64k ceiling is enforced
// separately so the offender gets a payload-too-large error instead of a
// silent drop.
const readLimit = 1 << 20

type Server struct {
	logger     *slog.Logger
	supervisor *room.Supervisor
	upgrader   websocket.Upgrader
}

func New(logger *slog.Logger, supervisor *room.Supervisor) *Server {
	return &Server{
		logger:     logger.With("component", "ws"),
		supervisor: supervisor,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browsers connect from the game's own origin or a dev server.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler - the HTTP surface: the websocket endpoint plus a health ping.
func (that *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", that.handleSocket)
	mux.HandleFunc("/websocket", that.handleSocket)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return mux
}

func (that *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	log := that.logger.With("method", "handleSocket")

	roomID := r.URL.Query().Get("room")
	if roomID == "" {
		http.Error(w, "room query parameter is required", http.StatusBadRequest)
		return
	}

	socket, err := that.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("failed to upgrade connection", "error", err)
		return
	}

	client := newClient(uuid.NewString(), socket)
	go client.writePump()

	client.Send(protocol.MustEnvelope(protocol.EventConnected, protocol.ConnectedPayload{ID: client.ID()}))

	ctx := r.Context()

	coordinator, err := that.supervisor.Ensure(ctx, roomID)
	if err != nil {
		log.Error("failed to ensure room", "error", err, "room_id", roomID)
		client.close()
		return
	}

	coordinator.Attach(client)

	that.readLoop(ctx, roomID, client)

	// The actor may have been evicted and recreated while we were reading;
	// detach whatever instance is current.
	if coordinator, err = that.supervisor.Ensure(context.WithoutCancel(ctx), roomID); err == nil {
		coordinator.Detach(client.ID())
	}

	client.close()
}

// readLoop - per-connection inbound pump: framing checks first, then event
// set membership, then dispatch into the room actor.
func (that *Server) readLoop(ctx context.Context, roomID string, client *client) {
	log := that.logger.With("method", "readLoop", "conn_id", client.ID())

	client.socket.SetReadLimit(readLimit)

	for {
		_, data, err := client.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("connection closed", "error", err)
			}
			return
		}

		if len(data) > protocol.MaxMessageSize {
			client.Send(protocol.MustEnvelope(protocol.EventError, protocol.ErrorPayload{Code: protocol.CodePayloadTooLarge}))
			continue
		}

		env, err := protocol.ParseEnvelope(data)
		if err != nil {
			client.Send(protocol.MustEnvelope(protocol.EventError, protocol.ErrorPayload{Code: protocol.CodeInvalidMessage}))
			continue
		}

		if !protocol.IsClientEvent(env.Type) {
			client.Send(protocol.MustEnvelope(protocol.EventError, protocol.ErrorPayload{Code: protocol.CodeUnknownEvent}))
			continue
		}

		coordinator, err := that.supervisor.Ensure(ctx, roomID)
		if err != nil {
			log.Error("failed to ensure room", "error", err, "room_id", roomID)
			continue
		}

		coordinator.Dispatch(client, env)
	}
}
