// Package client is the resilient counterpart of the room's websocket
// endpoint: it connects, monitors and recovers the transport, queues
// outbound messages while offline, and exposes its connection state.
package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rocketscienceinc/chessroom-backend/internal/protocol"
)

type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateDisconnected State = "disconnected"
)

// EventUnavailable - emitted once the reconnect budget is exhausted; the
// payload carries the number of attempts made.
const EventUnavailable = "unavailable"

const (
	defaultMaxAttempts = 8
	baseDelay          = 500 * time.Millisecond
	maxDelay           = 15 * time.Second
	maxJitter          = 300 * time.Millisecond
	backoffCeiling     = 6
)

var defaultPaths = []string{"/ws", "/websocket"}

var ErrNoCandidates = errors.New("no candidate URLs to connect to")

type Config struct {
	// BaseURL, when set, is the single explicit websocket endpoint and
	// disables path-template fallback.
	BaseURL string

	// Origin is the page origin (http or https) the default path templates
	// are resolved against.
	Origin string

	// Room is appended as the room query parameter.
	Room string

	// Paths overrides the default path templates tried in order before the
	// first successful connect.
	Paths []string

	// MaxAttempts caps total connect attempts; zero means the default of 8.
	MaxAttempts int

	Dialer *websocket.Dialer
}

type UnavailablePayload struct {
	Attempts int `json:"attempts"`
}

// Client - a reconnecting websocket client. All exported methods are safe
// for concurrent use.
type Client struct {
	conf       Config
	candidates []string

	mu            sync.Mutex
	state         State
	conn          *websocket.Conn
	attempt       int
	candidate     int
	everConnected bool
	closed        bool
	queue         [][]byte
	retryTimer    *time.Timer

	handlers      map[string][]func(json.RawMessage)
	stateHandlers []func(State)

	writeMu sync.Mutex
}

func New(conf Config) (*Client, error) {
	candidates, err := buildCandidates(conf)
	if err != nil {
		return nil, err
	}

	if conf.MaxAttempts <= 0 {
		conf.MaxAttempts = defaultMaxAttempts
	}

	if conf.Dialer == nil {
		conf.Dialer = websocket.DefaultDialer
	}

	return &Client{
		conf:       conf,
		candidates: candidates,
		state:      StateDisconnected,
		handlers:   make(map[string][]func(json.RawMessage)),
	}, nil
}

// Connect - starts the connection attempt sequence. Calling it on an
// already-started client is a no-op.
func (that *Client) Connect() {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.closed || that.state == StateConnecting || that.state == StateConnected || that.state == StateReconnecting {
		return
	}

	that.attempt = 0
	that.setStateLocked(StateConnecting)
	go that.dial()
}

// Emit - sends one envelope, or queues it in order while the transport is
// down. Queued messages flush on the next successful connect before any
// newly issued emit.
func (that *Client) Emit(eventType string, payload any) error {
	data := protocol.MustEnvelope(eventType, payload)

	that.mu.Lock()

	if that.closed {
		that.mu.Unlock()
		return errors.New("client is disconnected")
	}

	if that.state != StateConnected || that.conn == nil {
		that.queue = append(that.queue, data)
		that.mu.Unlock()
		return nil
	}

	conn := that.conn
	that.mu.Unlock()

	return that.write(conn, data)
}

// On - registers a handler for a server event type.
func (that *Client) On(eventType string, handler func(json.RawMessage)) {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.handlers[eventType] = append(that.handlers[eventType], handler)
}

// OnStateChange - registers a connection-state observer.
func (that *Client) OnStateChange(handler func(State)) {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.stateHandlers = append(that.stateHandlers, handler)
}

func (that *Client) State() State {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.state
}

// Disconnect - deliberate, terminal teardown: cancels any pending retry,
// closes the active socket, clears listeners and the queue. Idempotent.
func (that *Client) Disconnect() {
	that.mu.Lock()

	if that.closed {
		that.mu.Unlock()
		return
	}

	that.closed = true

	if that.retryTimer != nil {
		that.retryTimer.Stop()
		that.retryTimer = nil
	}

	conn := that.conn
	that.conn = nil
	that.queue = nil
	that.handlers = make(map[string][]func(json.RawMessage))

	that.setStateLocked(StateDisconnected)
	that.stateHandlers = nil
	that.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

func (that *Client) dial() {
	that.mu.Lock()
	if that.closed {
		that.mu.Unlock()
		return
	}
	that.attempt++
	target := that.candidates[that.candidate]
	dialer := that.conf.Dialer
	that.mu.Unlock()

	conn, resp, err := dialer.Dial(target, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		that.handleFailure()
		return
	}

	that.handleConnected(conn)
}

func (that *Client) handleConnected(conn *websocket.Conn) {
	that.mu.Lock()

	if that.closed {
		that.mu.Unlock()
		_ = conn.Close()
		return
	}

	that.conn = conn
	that.attempt = 0
	that.everConnected = true

	// Drain the queue before the state flips to connected: emits issued
	// meanwhile still queue behind it, so flushed messages always precede
	// newly issued ones.
	for len(that.queue) > 0 {
		data := that.queue[0]
		that.queue = that.queue[1:]
		that.mu.Unlock()

		err := that.write(conn, data)

		that.mu.Lock()
		if err != nil || that.closed {
			break
		}
	}

	if that.closed {
		that.mu.Unlock()
		_ = conn.Close()
		return
	}

	that.setStateLocked(StateConnected)
	that.mu.Unlock()

	go that.readLoop(conn)
}

// handleFailure - drives the retry policy: before the first-ever successful
// connect a failure advances to the next candidate URL immediately; after
// one, failures back off on the same URL.
func (that *Client) handleFailure() {
	that.mu.Lock()

	if that.closed {
		that.mu.Unlock()
		return
	}

	if that.attempt >= that.conf.MaxAttempts {
		attempts := that.attempt
		that.setStateLocked(StateDisconnected)
		handlers := that.handlers[EventUnavailable]
		that.mu.Unlock()

		payload, _ := json.Marshal(UnavailablePayload{Attempts: attempts})
		for _, handler := range handlers {
			handler(payload)
		}
		return
	}

	if !that.everConnected {
		that.candidate = (that.candidate + 1) % len(that.candidates)
		that.mu.Unlock()
		go that.dial()
		return
	}

	that.setStateLocked(StateReconnecting)
	wait := Delay(that.attempt) + time.Duration(rand.Int63n(int64(maxJitter)))
	that.retryTimer = time.AfterFunc(wait, that.dial)
	that.mu.Unlock()
}

func (that *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			that.handleDisconnect(conn)
			return
		}

		env, parseErr := protocol.ParseEnvelope(data)
		if parseErr != nil {
			continue
		}

		that.mu.Lock()
		handlers := append([]func(json.RawMessage){}, that.handlers[env.Type]...)
		that.mu.Unlock()

		for _, handler := range handlers {
			handler(env.Payload)
		}
	}
}

func (that *Client) handleDisconnect(conn *websocket.Conn) {
	_ = conn.Close()

	that.mu.Lock()

	if that.closed || that.conn != conn {
		that.mu.Unlock()
		return
	}

	that.conn = nil
	that.setStateLocked(StateReconnecting)
	that.attempt++

	if that.attempt >= that.conf.MaxAttempts {
		attempts := that.attempt
		that.setStateLocked(StateDisconnected)
		handlers := that.handlers[EventUnavailable]
		that.mu.Unlock()

		payload, _ := json.Marshal(UnavailablePayload{Attempts: attempts})
		for _, handler := range handlers {
			handler(payload)
		}
		return
	}

	wait := Delay(that.attempt) + time.Duration(rand.Int63n(int64(maxJitter)))
	that.retryTimer = time.AfterFunc(wait, that.dial)
	that.mu.Unlock()
}

func (that *Client) write(conn *websocket.Conn, data []byte) error {
	that.writeMu.Lock()
	defer that.writeMu.Unlock()

	return conn.WriteMessage(websocket.TextMessage, data)
}

func (that *Client) setStateLocked(state State) {
	if that.state == state {
		return
	}

	that.state = state

	for _, handler := range that.stateHandlers {
		handler(state)
	}
}

// Delay - the backoff before retry attempt n (1-based), without jitter:
// 500ms doubling per attempt, capped at 15s from attempt six onward.
func Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > backoffCeiling {
		attempt = backoffCeiling
	}

	delay := baseDelay << (attempt - 1)
	if delay > maxDelay {
		delay = maxDelay
	}

	return delay
}

func buildCandidates(conf Config) ([]string, error) {
	if conf.BaseURL != "" {
		return []string{conf.BaseURL}, nil
	}

	if conf.Origin == "" {
		return nil, ErrNoCandidates
	}

	origin, err := url.Parse(conf.Origin)
	if err != nil {
		return nil, fmt.Errorf("failed to parse origin: %w", err)
	}

	scheme := "ws"
	if origin.Scheme == "https" {
		scheme = "wss"
	}

	paths := conf.Paths
	if len(paths) == 0 {
		paths = defaultPaths
	}

	candidates := make([]string, 0, len(paths))
	for _, path := range paths {
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}

		candidate := url.URL{
			Scheme:   scheme,
			Host:     origin.Host,
			Path:     path,
			RawQuery: "room=" + url.QueryEscape(conf.Room),
		}
		candidates = append(candidates, candidate.String())
	}

	return candidates, nil
}
