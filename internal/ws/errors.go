package ws

import (
	"errors"

	"github.com/kiliankoe/doublecross/internal/game"
	"github.com/kiliankoe/doublecross/internal/match"
)

func errorCode(err error) (string, string) {
	switch {
	case errors.Is(err, game.ErrNotFound):
		return "session_not_found", "Session not found"
	case errors.Is(err, match.ErrUnauthorized):
		return "unauthorized", "Invalid player token"
	case errors.Is(err, game.ErrWrongTurn):
		return "wrong_turn", err.Error()
	case errors.Is(err, game.ErrInvalidState):
		return "invalid_state", err.Error()
	case errors.Is(err, game.ErrInvalidConfiguration):
		return "invalid_config", err.Error()
	case errors.Is(err, game.ErrOracleUnavailable), errors.Is(err, game.ErrOracleResponseInvalid):
		return "oracle_error", "The story oracle failed, try again"
	default:
		return "internal", "An unexpected internal error occurred"
	}
}
