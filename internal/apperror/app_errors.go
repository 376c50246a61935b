package apperror

import "errors"

var (
	ErrSeatsNotFilled  = errors.New("both seats must be filled")
	ErrSessionNotFound = errors.New("session not found")
	ErrRoomNotFound    = errors.New("room state not found")
)
