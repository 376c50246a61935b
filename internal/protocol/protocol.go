package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"unicode/utf8"
)

// Size ceilings enforced before any event-specific handling.
const (
	MaxMessageSize = 64000
	MaxRelaySize   = 24000
	MaxTypeLength  = 64
	MaxChatLength  = 500
	MaxNameLength  = 32
)

// Client-to-server event types.
const (
	EventJoinRoom       = "join-room"
	EventChatMessage    = "chat-message"
	EventChessMove      = "chess-move"
	EventResetGame      = "reset-game"
	EventRequestUndo    = "request-undo"
	EventRequestSwap    = "request-swap"
	EventActionResponse = "action-response"
	EventOffer          = "offer"
	EventAnswer         = "answer"
	EventICECandidate   = "ice-candidate"
)

// Server-to-client event types.
const (
	EventConnected       = "connected"
	EventRoomState       = "room-state"
	EventUserJoined      = "user-joined"
	EventUserLeft        = "user-left"
	EventSeatUpdated     = "seat-updated"
	EventMoveAccepted    = "move-accepted"
	EventMoveRejected    = "move-rejected"
	EventActionRequested = "action-requested"
	EventActionResolved  = "action-resolved"
	EventError           = "error"
)

// Rejection codes carried in error and move-rejected payloads.
const (
	CodeInvalidMessage        = "invalid-message"
	CodeUnknownEvent          = "unknown-event"
	CodePayloadTooLarge       = "payload-too-large"
	CodeInvalidPayload        = "invalid-payload"
	CodeSpectatorCannotMove   = "spectator-cannot-move"
	CodeNotYourTurn           = "not-your-turn"
	CodeIllegalMove           = "illegal-move"
	CodeSpectatorCannotReset  = "spectator-cannot-reset"
	CodeCannotUndo            = "cannot-undo"
	CodeActionAlreadyPending  = "action-already-pending"
	CodeActionWithoutRequest  = "action-response-without-request"
	CodeRequesterNotSeated    = "requester-not-seated"
	CodeNoOpponent            = "no-opponent"
	CodeSwapRequiresOpponent  = "swap-requires-two-players"
	CodeUnknownTarget         = "unknown-target"
)

var (
	ErrNotJSON     = errors.New("message is not valid JSON")
	ErrMissingType = errors.New("message type is missing or not a string")
	ErrEmptyType   = errors.New("message type is empty")
	ErrLongType    = errors.New("message type exceeds limit")
)

// clientEvents - the closed set a client may send. Anything else is rejected
// with unknown-event before its payload is even looked at.
var clientEvents = map[string]struct{}{
	EventJoinRoom:       {},
	EventChatMessage:    {},
	EventChessMove:      {},
	EventResetGame:      {},
	EventRequestUndo:    {},
	EventRequestSwap:    {},
	EventActionResponse: {},
	EventOffer:          {},
	EventAnswer:         {},
	EventICECandidate:   {},
}

var serverEvents = map[string]struct{}{
	EventConnected:       {},
	EventRoomState:       {},
	EventUserJoined:      {},
	EventUserLeft:        {},
	EventSeatUpdated:     {},
	EventChatMessage:     {},
	EventChessMove:       {},
	EventMoveAccepted:    {},
	EventMoveRejected:    {},
	EventResetGame:       {},
	EventActionRequested: {},
	EventActionResolved:  {},
	EventOffer:           {},
	EventAnswer:          {},
	EventICECandidate:    {},
	EventError:           {},
}

// Envelope - the sole on-wire message shape in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ParseEnvelope - stage one of inbound validation: JSON shape and type field
// only. Set membership is checked separately so the transport can drop
// garbage before any event-specific payload parsing runs.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var raw struct {
		Type    json.RawMessage `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, ErrNotJSON
	}

	if raw.Type == nil {
		return nil, ErrMissingType
	}

	var eventType string
	if err := json.Unmarshal(raw.Type, &eventType); err != nil {
		return nil, ErrMissingType
	}

	if eventType == "" {
		return nil, ErrEmptyType
	}

	if utf8.RuneCountInString(eventType) > MaxTypeLength {
		return nil, ErrLongType
	}

	return &Envelope{Type: eventType, Payload: raw.Payload}, nil
}

func IsClientEvent(eventType string) bool {
	_, ok := clientEvents[eventType]
	return ok
}

func IsServerEvent(eventType string) bool {
	_, ok := serverEvents[eventType]
	return ok
}

// MustEnvelope - marshals an outbound envelope; payloads are our own structs,
// so a marshal failure is a programming error.
func MustEnvelope(eventType string, payload any) []byte {
	env := Envelope{Type: eventType}

	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			panic(err)
		}
		env.Payload = body
	}

	data, err := json.Marshal(env)
	if err != nil {
		panic(err)
	}

	return data
}

// TrimName - join-time display name normalization: trimmed, capped by runes,
// empty falls back to the default applied by the session.
func TrimName(name string) string {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) > MaxNameLength {
		runes := []rune(name)
		name = string(runes[:MaxNameLength])
	}
	return name
}

// TrimChat - chat text normalization. An empty result means the message
// should be silently dropped.
func TrimChat(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) > MaxChatLength {
		runes := []rune(text)
		text = string(runes[:MaxChatLength])
	}
	return text
}
