package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/doublecross/internal/game"
	"github.com/kiliankoe/doublecross/internal/match"
)

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func handleError(c *gin.Context, err error) {
	var status int
	var resp ErrorResponse

	switch {
	case errors.Is(err, game.ErrNotFound):
		status = http.StatusNotFound
		resp = ErrorResponse{Code: "session_not_found", Message: "Session not found"}
	case errors.Is(err, match.ErrUnauthorized):
		status = http.StatusUnauthorized
		resp = ErrorResponse{Code: "unauthorized", Message: "Invalid player token"}
	case errors.Is(err, game.ErrWrongTurn):
		status = http.StatusConflict
		resp = ErrorResponse{Code: "wrong_turn", Message: err.Error()}
	case errors.Is(err, game.ErrInvalidState):
		status = http.StatusConflict
		resp = ErrorResponse{Code: "invalid_state", Message: err.Error()}
	case errors.Is(err, game.ErrInvalidConfiguration):
		status = http.StatusBadRequest
		resp = ErrorResponse{Code: "invalid_config", Message: err.Error()}
	case errors.Is(err, game.ErrOracleUnavailable):
		status = http.StatusServiceUnavailable
		resp = ErrorResponse{Code: "oracle_unavailable", Message: "The story oracle is unavailable, try again"}
	case errors.Is(err, game.ErrOracleResponseInvalid):
		status = http.StatusBadGateway
		resp = ErrorResponse{Code: "oracle_invalid", Message: "The story oracle answered with an invalid response"}
	default:
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("unhandled error")
		status = http.StatusInternalServerError
		resp = ErrorResponse{Code: "internal", Message: "An unexpected internal error occurred"}
	}
	c.AbortWithStatusJSON(status, resp)
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Code: "bad_request", Message: err.Error()})
}
