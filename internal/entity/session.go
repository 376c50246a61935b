package entity

const (
	RolePlayer    = "player"
	RoleSpectator = "spectator"

	ColorWhite = "white"
	ColorBlack = "black"
	ColorNone  = ""
)

const DefaultName = "Anonymous"

// Session - one connected socket and everything the room derives from it.
type Session struct {
	ConnectionID string `json:"id"`
	Name         string `json:"name"`
	Role         string `json:"role"`
	Color        string `json:"color,omitempty"`
	RoomID       string `json:"room_id,omitempty"`
}

// NewSession - every connection starts out as an anonymous spectator.
func NewSession(connectionID, roomID string) *Session {
	return &Session{
		ConnectionID: connectionID,
		Name:         DefaultName,
		Role:         RoleSpectator,
		Color:        ColorNone,
		RoomID:       roomID,
	}
}

func (that *Session) IsSeated() bool {
	return that.Role == RolePlayer && that.Color != ColorNone
}

// Seat - puts the session into a player slot.
func (that *Session) Seat(color string) {
	that.Role = RolePlayer
	that.Color = color
}

// SetName - applies the join-time display name, trimmed and capped upstream.
func (that *Session) SetName(name string) {
	if name == "" {
		name = DefaultName
	}
	that.Name = name
}

// OppositeColor - the other seat's color.
func OppositeColor(color string) string {
	if color == ColorWhite {
		return ColorBlack
	}
	return ColorWhite
}
