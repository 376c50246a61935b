package protocol

import "encoding/json"

// Client-to-server payloads.

type JoinRoomPayload struct {
	UserName string `json:"userName"`
}

type ChessMovePayload struct {
	RequestID string `json:"requestId"`
	FEN       string `json:"fen"`
}

type ActionResponsePayload struct {
	RequestID string `json:"requestId"`
	Accept    bool   `json:"accept"`
}

// RelayPayload - opaque WebRTC signaling forwarded verbatim; only the target
// is inspected.
type RelayPayload struct {
	TargetID string `json:"targetId"`
}

// Server-to-client payloads.

type ConnectedPayload struct {
	ID string `json:"id"`
}

type RoomUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Role  string `json:"role"`
	Color string `json:"color,omitempty"`
}

type RoomStatePayload struct {
	Users   []RoomUser `json:"users"`
	FEN     string     `json:"fen"`
	MyColor string     `json:"myColor,omitempty"`
	Role    string     `json:"role"`
}

type UserJoinedPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

type UserLeftPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type SeatUpdatedPayload struct {
	Role    string `json:"role"`
	MyColor string `json:"myColor,omitempty"`
}

type ChatBroadcastPayload struct {
	ID         string `json:"id"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	Text       string `json:"text"`
	Timestamp  int64  `json:"timestamp"`
}

type MoveBroadcastPayload struct {
	FEN     string `json:"fen"`
	ActorID string `json:"actorId"`
}

type MoveAcceptedPayload struct {
	RequestID string `json:"requestId"`
	FEN       string `json:"fen"`
}

type MoveRejectedPayload struct {
	RequestID string `json:"requestId"`
	Code      string `json:"code"`
	FEN       string `json:"fen"`
}

type ActionRequestedPayload struct {
	RequestID     string `json:"requestId"`
	Action        string `json:"action"`
	RequesterID   string `json:"requesterId"`
	RequesterName string `json:"requesterName"`
}

type ActionResolvedPayload struct {
	RequestID string `json:"requestId"`
	Action    string `json:"action"`
	Accepted  bool   `json:"accepted"`
}

type ErrorPayload struct {
	Code string `json:"code"`
}

// RelayEcho - the forwarded signaling payload with the sender substituted in,
// so the target knows whom to answer.
type RelayEcho struct {
	SenderID string          `json:"senderId"`
	Data     json.RawMessage `json:"data"`
}
