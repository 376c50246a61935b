package entity

const (
	ActionUndo = "undo"
	ActionSwap = "swap"
)

// PendingRoomAction - an undo or seat-swap request waiting for the opponent's
// answer. A room holds at most one at a time; the approver is whoever sat
// opposite the requester when the request was made.
type PendingRoomAction struct {
	RequestID   string `json:"request_id"`
	Action      string `json:"action"`
	RequesterID string `json:"requester_id"`
	ApproverID  string `json:"approver_id"`
}

// Involves - reports whether the given connection is either party.
func (that *PendingRoomAction) Involves(connectionID string) bool {
	return that.RequesterID == connectionID || that.ApproverID == connectionID
}
