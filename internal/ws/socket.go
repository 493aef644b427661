// Package ws pushes game state and events to browsers over Socket.IO.
package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	socketio "github.com/googollee/go-socket.io"
	"github.com/rs/zerolog"

	"github.com/kiliankoe/doublecross/internal/api"
	"github.com/kiliankoe/doublecross/internal/events"
	"github.com/kiliankoe/doublecross/internal/game"
	"github.com/kiliankoe/doublecross/internal/match"
)

const (
	namespace      = "/"
	requestTimeout = 2 * time.Minute
)

type ConnCtx struct {
	SessionID string
	Token     string
}

type Server struct {
	runner *match.Runner
	log    zerolog.Logger

	mu      sync.Mutex
	io      *socketio.Server
	members map[string]map[string]socketio.Conn // sessionID -> socketID -> Conn
}

func New(runner *match.Runner, log zerolog.Logger) *Server {
	return &Server{runner: runner, log: log, members: make(map[string]map[string]socketio.Conn)}
}

var _ events.Notifier = (*Server)(nil)

// Mount attaches the Socket.IO server with its handlers to the gin engine.
func (srv *Server) Mount(r *gin.Engine) *socketio.Server {
	io := socketio.NewServer(nil)

	io.OnConnect(namespace, func(s socketio.Conn) error {
		s.SetContext(&ConnCtx{})
		srv.log.Info().Str("sid", s.ID()).Msg("socket connected")
		return nil
	})

	io.OnEvent(namespace, "game:create", func(s socketio.Conn, payload struct {
		Config game.SessionConfig `json:"config"`
	}) map[string]any {
		sess, token, err := srv.runner.CreateGame(payload.Config)
		if err != nil {
			return srv.err(s, "invalid_config", err.Error())
		}
		srv.attach(s, sess.ID, token)
		srv.log.Info().Str("sid", s.ID()).Str("session", sess.ID).Msg("game:create")
		srv.emitStateTo(sess.ID)
		return map[string]any{"sessionId": sess.ID, "playerToken": token}
	})

	io.OnEvent(namespace, "game:resume", func(s socketio.Conn, payload struct {
		SessionID string `json:"sessionId"`
		Token     string `json:"token"`
	}) map[string]any {
		if err := srv.runner.Authorize(payload.SessionID, payload.Token); err != nil {
			return srv.fail(s, err)
		}
		srv.attach(s, payload.SessionID, payload.Token)
		srv.log.Info().Str("sid", s.ID()).Str("session", payload.SessionID).Msg("game:resume")
		srv.emitStateTo(payload.SessionID)
		return map[string]any{"ok": true}
	})

	io.OnEvent(namespace, "game:start", func(s socketio.Conn) map[string]any {
		cc, ok := srv.player(s)
		if !ok {
			return srv.err(s, "unauthorized", "Join a game first")
		}
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		if _, err := srv.runner.StartGame(ctx, cc.SessionID); err != nil {
			return srv.fail(s, err)
		}
		srv.emitStateTo(cc.SessionID)
		return map[string]any{"ok": true}
	})

	io.OnEvent(namespace, "game:story", func(s socketio.Conn, payload struct {
		Content    string `json:"content"`
		UseKeyword bool   `json:"useKeyword"`
		TimeSpent  *int   `json:"timeSpent"`
	}) map[string]any {
		cc, ok := srv.player(s)
		if !ok {
			return srv.err(s, "unauthorized", "Join a game first")
		}
		if payload.Content == "" || len([]rune(payload.Content)) > 500 {
			return srv.err(s, "bad_request", "Content must be 1 to 500 characters")
		}
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		rep, err := srv.runner.HumanTurn(ctx, cc.SessionID, payload.Content, payload.UseKeyword, payload.TimeSpent)
		if err != nil {
			return srv.fail(s, err)
		}
		srv.emitStateTo(cc.SessionID)
		return map[string]any{"turn": rep.Turn, "finished": rep.Finished}
	})

	io.OnEvent(namespace, "game:guess", func(s socketio.Conn, payload struct {
		GuessWord string `json:"guessWord"`
	}) map[string]any {
		cc, ok := srv.player(s)
		if !ok {
			return srv.err(s, "unauthorized", "Join a game first")
		}
		if payload.GuessWord == "" {
			return srv.err(s, "bad_request", "guessWord is required")
		}
		out, err := srv.runner.HumanGuess(context.Background(), cc.SessionID, payload.GuessWord)
		if err != nil {
			return srv.fail(s, err)
		}
		srv.emitStateTo(cc.SessionID)
		return map[string]any{"verdict": out.Verdict, "guessesRemaining": out.GuessesRemaining, "totalScore": out.TotalScore}
	})

	io.OnEvent(namespace, "game:cancel", func(s socketio.Conn) map[string]any {
		cc, ok := srv.player(s)
		if !ok {
			return srv.err(s, "unauthorized", "Join a game first")
		}
		if err := srv.runner.CancelGame(context.Background(), cc.SessionID); err != nil {
			return srv.fail(s, err)
		}
		srv.emitStateTo(cc.SessionID)
		return map[string]any{"ok": true}
	})

	io.OnError(namespace, func(s socketio.Conn, e error) {
		if s == nil {
			srv.log.Error().Err(e).Msg("socket error")
			return
		}
		srv.log.Error().Str("sid", s.ID()).Err(e).Msg("socket error")
	})
	io.OnDisconnect(namespace, func(s socketio.Conn, reason string) {
		if cc, ok := s.Context().(*ConnCtx); ok && cc.SessionID != "" {
			srv.removeMember(cc.SessionID, s)
		}
		srv.log.Info().Str("sid", s.ID()).Str("reason", reason).Msg("socket disconnected")
	})

	go func() {
		if err := io.Serve(); err != nil {
			srv.log.Error().Err(err).Msg("socket.io server stopped")
		}
	}()

	r.GET("/socket.io/*any", gin.WrapH(io))
	r.POST("/socket.io/*any", gin.WrapH(io))

	srv.mu.Lock()
	srv.io = io
	srv.mu.Unlock()
	return io
}

// Notify relays a game event to every connection of its session.
func (srv *Server) Notify(_ context.Context, ev events.Event) error {
	srv.mu.Lock()
	io := srv.io
	srv.mu.Unlock()
	if io == nil {
		return nil
	}
	io.BroadcastToRoom(namespace, ev.SessionID, "game:event", ev)
	switch ev.Type {
	case events.AITurnCompleted, events.TurnSkipped, events.GameFinished, events.GuessResult:
		srv.emitStateTo(ev.SessionID)
	}
	return nil
}

func (srv *Server) attach(s socketio.Conn, sessionID, token string) {
	if prev, ok := s.Context().(*ConnCtx); ok && prev.SessionID != "" && prev.SessionID != sessionID {
		s.Leave(prev.SessionID)
		srv.removeMember(prev.SessionID, s)
	}
	s.SetContext(&ConnCtx{SessionID: sessionID, Token: token})
	s.Join(sessionID)
	srv.addMember(sessionID, s)
}

func (srv *Server) player(s socketio.Conn) (*ConnCtx, bool) {
	cc, ok := s.Context().(*ConnCtx)
	if !ok || cc.SessionID == "" {
		return nil, false
	}
	return cc, srv.runner.Authorize(cc.SessionID, cc.Token) == nil
}

func (srv *Server) addMember(id string, c socketio.Conn) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.members[id] == nil {
		srv.members[id] = make(map[string]socketio.Conn)
	}
	srv.members[id][c.ID()] = c
}

func (srv *Server) removeMember(id string, c socketio.Conn) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if m := srv.members[id]; m != nil {
		delete(m, c.ID())
		if len(m) == 0 {
			delete(srv.members, id)
		}
	}
}

func (srv *Server) conns(id string) []socketio.Conn {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	out := make([]socketio.Conn, 0, len(srv.members[id]))
	for _, c := range srv.members[id] {
		out = append(out, c)
	}
	return out
}

func (srv *Server) emitStateTo(id string) {
	s, err := srv.runner.Engine().GetSession(id)
	if err != nil {
		return
	}
	view := api.NewPlayerView(s)
	for _, c := range srv.conns(id) {
		c.Emit("game:state", view)
	}
}

func (srv *Server) fail(s socketio.Conn, err error) map[string]any {
	code, message := errorCode(err)
	return srv.err(s, code, message)
}

func (srv *Server) err(s socketio.Conn, code, message string) map[string]any {
	s.Emit("error", map[string]any{"code": code, "message": message})
	return map[string]any{"error": message}
}
