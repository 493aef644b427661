package match

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/kiliankoe/doublecross/internal/game"
)

// Watcher polls the turn timer of every running game and skips turns whose
// countdown ran out.
type Watcher struct {
	runner   *Runner
	interval time.Duration
	log      zerolog.Logger
}

func NewWatcher(r *Runner, interval time.Duration, log zerolog.Logger) *Watcher {
	if interval <= 0 {
		interval = time.Second
	}
	return &Watcher{runner: r, interval: interval, log: log}
}

// Run polls until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.Tick(ctx)
		}
	}
}

// Tick checks every running game once.
func (w *Watcher) Tick(ctx context.Context) {
	engine := w.runner.Engine()
	for _, s := range engine.Sessions(game.StatusInProgress) {
		// finishing is up to Finish and its callers
		if s.TurnsExhausted {
			continue
		}
		expired, err := engine.TurnExpired(ctx, s.ID)
		if err != nil {
			w.log.Warn().Err(err).Str("session", s.ID).Msg("timer check failed")
			continue
		}
		if !expired {
			continue
		}
		if _, ok := s.Entry(s.CurrentTurn); ok {
			continue
		}
		w.log.Info().Str("session", s.ID).Int("turn", s.CurrentTurn).Msg("turn timer expired")
		if err := w.runner.HandleExpiry(ctx, s.ID, s.CurrentTurn); err != nil {
			w.log.Error().Err(err).Str("session", s.ID).Msg("failed to handle expiry")
		}
	}
}
