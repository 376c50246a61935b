package websocket

import (
	"sync"

	"github.com/gorilla/websocket"
)

const sendBufferSize = 256

// client - one upgraded socket with its outbound buffer. The write pump
// drains the buffer so room actors never block on a slow consumer.
type client struct {
	id     string
	socket *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newClient(id string, socket *websocket.Conn) *client {
	return &client{
		id:     id,
		socket: socket,
		send:   make(chan []byte, sendBufferSize),
	}
}

func (that *client) ID() string {
	return that.id
}

// Send - enqueues one outbound frame. A consumer whose buffer stays full gets
// dropped; it can reconnect and resync from room-state.
func (that *client) Send(data []byte) {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.closed {
		return
	}

	select {
	case that.send <- data:
	default:
		that.closed = true
		close(that.send)
	}
}

func (that *client) writePump() {
	for data := range that.send {
		if err := that.socket.WriteMessage(websocket.TextMessage, data); err != nil {
			break
		}
	}

	_ = that.socket.Close()
}

func (that *client) close() {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.closed {
		return
	}

	that.closed = true
	close(that.send)
}
