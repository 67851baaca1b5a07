package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrTimeout        = errors.New("wait timed out")
	ErrInvalidPhase   = errors.New("operation not valid in current cycle phase")
	ErrCycleActive    = errors.New("another correlation cycle is active")
	ErrConnectionLost = errors.New("venue connection lost")
	ErrNotConnected   = errors.New("venue not connected")
	ErrLockHeld       = errors.New("lock already held")
	ErrInvalidOrder   = errors.New("invalid order parameters")
)

// RequestError is an error callback tied to a specific request.
type RequestError struct {
	ReqID   int64
	Code    int
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request %d failed: code %d: %s", e.ReqID, e.Code, e.Message)
}
