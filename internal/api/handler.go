// Package api exposes games over REST.
package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kiliankoe/doublecross/internal/game"
	"github.com/kiliankoe/doublecross/internal/match"
	"github.com/kiliankoe/doublecross/internal/storage/postgres"
)

const playerTokenHeader = "X-Player-Token"

// ResultLister lists archived results.
type ResultLister interface {
	RecentResults(ctx context.Context, limit int) ([]postgres.ResultSummary, error)
}

type Handler struct {
	runner  *match.Runner
	results ResultLister
}

func NewHandler(runner *match.Runner, results ResultLister) *Handler {
	return &Handler{runner: runner, results: results}
}

type createGameRequest struct {
	MaxTurns      int    `json:"maxTurns" binding:"omitempty,min=5,max=20"`
	TurnTimeLimit int    `json:"turnTimeLimit" binding:"omitempty,min=30,max=180"`
	Difficulty    string `json:"difficulty" binding:"omitempty,oneof=EASY NORMAL HARD"`
}

type submitStoryRequest struct {
	Content    string `json:"content" binding:"required,max=500"`
	UseKeyword bool   `json:"useKeyword"`
	TimeSpent  *int   `json:"timeSpent" binding:"omitempty,min=0"`
}

type guessRequest struct {
	GuessWord string `json:"guessWord" binding:"required,max=50"`
}

type createGameResponse struct {
	Game        PlayerView `json:"game"`
	PlayerToken string     `json:"playerToken"`
}

// RegisterRoutes mounts the player routes under /api.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	api := r.Group("/api")
	api.POST("/games", h.createGame)
	api.GET("/results/recent", h.recentResults)

	games := api.Group("/games/:id")
	games.GET("", h.getGame)
	games.GET("/result", h.getResult)
	games.GET("/timer", h.getTimer)

	player := games.Group("", h.requirePlayer)
	player.POST("/start", h.startGame)
	player.DELETE("", h.cancelGame)
	player.POST("/story", h.submitStory)
	player.POST("/guess", h.submitGuess)
	player.POST("/ai-turn", h.automatedTurn)
	player.POST("/finalize", h.finalize)
}

// RegisterGMRoutes mounts the game master listing on an already
// authenticated group.
func (h *Handler) RegisterGMRoutes(gm gin.IRouter) {
	gm.GET("/sessions", h.listSessions)
}

func (h *Handler) requirePlayer(c *gin.Context) {
	if err := h.runner.Authorize(c.Param("id"), c.GetHeader(playerTokenHeader)); err != nil {
		handleError(c, err)
		return
	}
	c.Next()
}

func (h *Handler) createGame(c *gin.Context) {
	var req createGameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s, token, err := h.runner.CreateGame(game.SessionConfig{
		MaxTurns:      req.MaxTurns,
		TurnTimeLimit: req.TurnTimeLimit,
		Difficulty:    game.Difficulty(req.Difficulty),
	})
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, createGameResponse{Game: NewPlayerView(s), PlayerToken: token})
}

func (h *Handler) getGame(c *gin.Context) {
	s, err := h.runner.Engine().GetSession(c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewPlayerView(s))
}

func (h *Handler) startGame(c *gin.Context) {
	s, err := h.runner.StartGame(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewPlayerView(s))
}

func (h *Handler) cancelGame(c *gin.Context) {
	if err := h.runner.CancelGame(c.Request.Context(), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) submitStory(c *gin.Context) {
	var req submitStoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	rep, err := h.runner.HumanTurn(c.Request.Context(), c.Param("id"), req.Content, req.UseKeyword, req.TimeSpent)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (h *Handler) submitGuess(c *gin.Context) {
	var req guessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	out, err := h.runner.HumanGuess(c.Request.Context(), c.Param("id"), req.GuessWord)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) automatedTurn(c *gin.Context) {
	useKeyword, _ := strconv.ParseBool(c.DefaultQuery("useKeyword", "false"))
	rep, err := h.runner.AutomatedTurn(c.Request.Context(), c.Param("id"), useKeyword)
	if err != nil {
		handleError(c, err)
		return
	}
	// keyword state of the automated side stays hidden
	rep.Turn.KeywordUsed = false
	rep.Turn.KeywordStatus = ""
	c.JSON(http.StatusOK, rep)
}

func (h *Handler) finalize(c *gin.Context) {
	res, err := h.runner.Finish(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) getResult(c *gin.Context) {
	res, err := h.runner.Engine().GetResult(c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) getTimer(c *gin.Context) {
	id := c.Param("id")
	s, err := h.runner.Engine().GetSession(id)
	if err != nil {
		handleError(c, err)
		return
	}
	left, err := h.runner.Engine().TimeRemaining(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}
	resp := gin.H{"turn": s.CurrentTurn, "remainingSeconds": left, "timeLimit": s.TurnTimeLimit}
	if s.Status == game.StatusInProgress {
		resp["author"] = game.CurrentAuthor(&s)
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) recentResults(c *gin.Context) {
	if h.results == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, ErrorResponse{Code: "archive_disabled", Message: "No result archive is configured"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	list, err := h.results.RecentResults(c.Request.Context(), limit)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) listSessions(c *gin.Context) {
	var filter []game.Status
	if st := c.Query("status"); st != "" {
		filter = append(filter, game.Status(st))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": h.runner.Engine().Sessions(filter...)})
}
