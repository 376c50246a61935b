package entity

// MaxHistoryLength - bound on the stored fen history; oldest entries are
// dropped first once the cap is reached.
const MaxHistoryLength = 512

// RoomState - the authoritative position of one room plus its undo history.
// The last history entry is always the current fen and the history is never
// empty.
type RoomState struct {
	ID         string   `json:"id"`
	FEN        string   `json:"fen"`
	FENHistory []string `json:"fen_history"`
}

// NewRoomState - a fresh room at the given starting position.
func NewRoomState(id, startFEN string) *RoomState {
	return &RoomState{
		ID:         id,
		FEN:        startFEN,
		FENHistory: []string{startFEN},
	}
}

// Push - appends a new current fen, trimming the oldest entries past the cap.
func (that *RoomState) Push(fen string) {
	that.FEN = fen
	that.FENHistory = append(that.FENHistory, fen)

	if len(that.FENHistory) > MaxHistoryLength {
		overflow := len(that.FENHistory) - MaxHistoryLength
		that.FENHistory = that.FENHistory[overflow:]
	}
}

// Pop - drops the latest entry and makes the new tail current. The caller
// must check CanUndo first; the history is never left empty.
func (that *RoomState) Pop() {
	if !that.CanUndo() {
		return
	}

	that.FENHistory = that.FENHistory[:len(that.FENHistory)-1]
	that.FEN = that.FENHistory[len(that.FENHistory)-1]
}

func (that *RoomState) CanUndo() bool {
	return len(that.FENHistory) > 1
}

// Reseed - replaces everything with a single-entry history at the given fen.
func (that *RoomState) Reseed(fen string) {
	that.FEN = fen
	that.FENHistory = []string{fen}
}
