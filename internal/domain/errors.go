package domain

import "errors"

var (
	ErrConnectivity = errors.New("exchange unreachable")
	ErrAuth         = errors.New("authentication failed")
	ErrValidation   = errors.New("validation failed")
	ErrProtocol     = errors.New("malformed exchange response")
	ErrNotFound     = errors.New("not found")
	ErrRiskLimit    = errors.New("risk limit exceeded")

	ErrRateLimited   = errors.New("rate limited")
	ErrCrossedBook   = errors.New("crossed order book")
	ErrStaleSnapshot = errors.New("stale snapshot")
	ErrNotConnected  = errors.New("executor not connected")
	ErrNoStrategy    = errors.New("no strategy set")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	ErrLockHeld      = errors.New("lock already held")
)
