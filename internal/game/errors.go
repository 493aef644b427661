package game

import "errors"

var (
	ErrNotFound             = errors.New("session not found")
	ErrInvalidState         = errors.New("invalid state for action")
	ErrWrongTurn            = errors.New("not this participant's turn")
	ErrInvalidConfiguration = errors.New("invalid session configuration")
	// ErrNoKeywordAvailable signals a catalog gap. It is an operational error
	// and must not be retried automatically.
	ErrNoKeywordAvailable    = errors.New("no keyword available")
	ErrOracleUnavailable     = errors.New("narrative oracle unavailable")
	ErrOracleResponseInvalid = errors.New("narrative oracle response invalid")
)
