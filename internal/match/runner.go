// Package match drives games on top of the engine: player tokens, the
// automated opponent, turn expiry and the hand-off of finished games.
package match

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kiliankoe/doublecross/internal/events"
	"github.com/kiliankoe/doublecross/internal/game"
	"github.com/kiliankoe/doublecross/internal/metrics"
	"github.com/kiliankoe/doublecross/internal/oracle"
)

var ErrUnauthorized = errors.New("invalid player token")

const (
	DefaultGuessThreshold = 70
	automatedTurnTimeout  = 2 * time.Minute
)

// Archiver stores finished games.
type Archiver interface {
	SaveFinished(ctx context.Context, s game.Session) error
}

type Runner struct {
	engine   *game.Engine
	oracle   game.Oracle
	notifier events.Notifier
	archive  Archiver
	log      zerolog.Logger

	defaults         game.SessionConfig
	exportFile       string
	guessThreshold   int
	autoPlay         bool
	finalizeAttempts int
	finalizeDelay    time.Duration

	mu      sync.Mutex
	tokens  map[string]string // session -> player token
	settled map[string]bool
	wg      sync.WaitGroup
}

type Option func(*Runner)

func WithArchive(a Archiver) Option {
	return func(r *Runner) { r.archive = a }
}

// WithDefaults fills zero fields of every new game's config.
func WithDefaults(cfg game.SessionConfig) Option {
	return func(r *Runner) { r.defaults = cfg }
}

// WithExport appends transcripts of finished games to file.
func WithExport(file string) Option {
	return func(r *Runner) { r.exportFile = file }
}

func WithGuessThreshold(confidence int) Option {
	return func(r *Runner) { r.guessThreshold = confidence }
}

// WithAutoPlay makes the runner play the automated side on its own as soon
// as its turn opens.
func WithAutoPlay(on bool) Option {
	return func(r *Runner) { r.autoPlay = on }
}

func WithFinalizeRetry(attempts int, delay time.Duration) Option {
	return func(r *Runner) {
		r.finalizeAttempts = attempts
		r.finalizeDelay = delay
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(r *Runner) { r.log = l }
}

func NewRunner(engine *game.Engine, o game.Oracle, notifier events.Notifier, opts ...Option) *Runner {
	r := &Runner{
		engine:           engine,
		oracle:           o,
		notifier:         notifier,
		log:              zerolog.Nop(),
		guessThreshold:   DefaultGuessThreshold,
		finalizeAttempts: 3,
		finalizeDelay:    time.Second,
		tokens:           make(map[string]string),
		settled:          make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.notifier == nil {
		r.notifier = events.Nop{}
	}
	return r
}

func (r *Runner) Engine() *game.Engine { return r.engine }

// CreateGame creates a session and hands out the token the human player
// authenticates with.
func (r *Runner) CreateGame(cfg game.SessionConfig) (game.Session, string, error) {
	if cfg.MaxTurns == 0 {
		cfg.MaxTurns = r.defaults.MaxTurns
	}
	if cfg.TurnTimeLimit == 0 {
		cfg.TurnTimeLimit = r.defaults.TurnTimeLimit
	}
	if cfg.Difficulty == "" {
		cfg.Difficulty = r.defaults.Difficulty
	}
	s, err := r.engine.CreateSession(cfg)
	if err != nil {
		return game.Session{}, "", err
	}
	token := uuid.NewString()
	r.mu.Lock()
	r.tokens[s.ID] = token
	r.mu.Unlock()
	metrics.SessionEvent("created")
	return s, token, nil
}

// Authorize checks the player token of a session.
func (r *Runner) Authorize(id, token string) error {
	r.mu.Lock()
	want, ok := r.tokens[id]
	r.mu.Unlock()
	if !ok {
		if _, err := r.engine.GetSession(id); err != nil {
			return err
		}
		return ErrUnauthorized
	}
	if token == "" || token != want {
		return ErrUnauthorized
	}
	return nil
}

func (r *Runner) StartGame(ctx context.Context, id string) (game.Session, error) {
	s, err := r.engine.StartSession(ctx, id)
	if err != nil {
		return game.Session{}, err
	}
	metrics.SessionEvent("started")
	r.notify(ctx, events.New(events.GameStarted, id, s.CurrentTurn, map[string]any{
		"initialSituation": s.InitialSituation,
		"nextTurn":         nextTurn(s),
	}))
	r.maybeAutoPlay(s)
	return s, nil
}

func (r *Runner) CancelGame(ctx context.Context, id string) error {
	if err := r.engine.CancelSession(ctx, id); err != nil {
		return err
	}
	metrics.SessionEvent("cancelled")
	r.notify(ctx, events.New(events.GameCancelled, id, 0, nil))
	return nil
}

// TurnReport is what a played turn led to.
type TurnReport struct {
	Turn     game.TurnResult    `json:"turn"`
	Guess    *game.GuessOutcome `json:"guess,omitempty"`
	Finished bool               `json:"finished"`
	Result   *game.GameResult   `json:"result,omitempty"`
}

// HumanTurn submits the human's prose and advances the game.
func (r *Runner) HumanTurn(ctx context.Context, id, content string, claimsKeywordUse bool, timeSpent *int) (TurnReport, error) {
	res, err := r.engine.SubmitTurn(ctx, id, game.RoleHuman, content, claimsKeywordUse, timeSpent)
	if err != nil {
		metrics.Turn(string(game.RoleHuman), "rejected")
		return TurnReport{}, err
	}
	metrics.Turn(string(game.RoleHuman), "submitted")
	rep := TurnReport{Turn: res}
	r.notify(ctx, events.New(events.PlayerTurnCompleted, id, res.Turn, map[string]any{
		"content": res.Content,
	}))
	if err := r.afterTurn(ctx, id, &rep); err != nil {
		return rep, err
	}
	return rep, nil
}

func (r *Runner) HumanGuess(ctx context.Context, id, word string) (game.GuessOutcome, error) {
	return r.guess(ctx, id, game.RoleHuman, word)
}

func (r *Runner) guess(ctx context.Context, id string, role game.Role, word string) (game.GuessOutcome, error) {
	out, err := r.engine.SubmitGuess(id, role, word)
	if err != nil {
		return game.GuessOutcome{}, err
	}
	metrics.Guess(string(role), string(out.Verdict))
	turn := 0
	if s, err := r.engine.GetSession(id); err == nil {
		turn = s.CurrentTurn
	}
	r.notify(ctx, events.New(events.GuessResult, id, turn, map[string]any{
		"guesser":          out.Guesser,
		"guessWord":        out.Word,
		"correct":          out.Verdict == game.GuessCorrect,
		"verdict":          out.Verdict,
		"points":           out.Points,
		"guessesRemaining": out.GuessesRemaining,
		"totalScore":       out.TotalScore,
	}))
	return out, nil
}

// AutomatedTurn plays the automated side: it may guess the human's keyword
// first, then writes its own line. With useKeyword the oracle is told to
// place a still pending keyword this turn.
func (r *Runner) AutomatedTurn(ctx context.Context, id string, useKeyword bool) (TurnReport, error) {
	s, err := r.engine.GetSession(id)
	if err != nil {
		return TurnReport{}, err
	}
	if s.Status != game.StatusInProgress {
		return TurnReport{}, fmt.Errorf("automated turn in %s: %w", s.Status, game.ErrInvalidState)
	}
	if s.TurnsExhausted {
		return TurnReport{}, fmt.Errorf("automated turn after the last turn: %w", game.ErrInvalidState)
	}
	if author := game.CurrentAuthor(&s); author != game.RoleAutomated {
		return TurnReport{}, fmt.Errorf("turn %d belongs to %s: %w", s.CurrentTurn, author, game.ErrWrongTurn)
	}

	var rep TurnReport
	if out, ok := r.considerGuess(ctx, s); ok {
		rep.Guess = &out
		if s, err = r.engine.GetSession(id); err != nil {
			return TurnReport{}, err
		}
	}

	auto := s.Participant(game.RoleAutomated)
	req := game.GenerateRequest{
		SecretGenre:    auto.SecretGenre,
		KeywordStatus:  auto.KeywordStatus,
		Turn:           s.CurrentTurn,
		MaxTurns:       s.MaxTurns,
		PriorEntries:   s.Entries,
		MustUseKeyword: useKeyword && auto.KeywordStatus == game.KeywordPending,
	}
	if auto.Keyword != nil {
		req.KeywordText = auto.Keyword.Word
	}
	gen, err := r.oracle.Generate(ctx, req)
	if err != nil {
		metrics.Turn(string(game.RoleAutomated), "failed")
		r.notifyError(ctx, id, "AI_ERROR", "the automated writer failed")
		return rep, err
	}
	res, err := r.engine.SubmitTurn(ctx, id, game.RoleAutomated, gen.Content, gen.KeywordUsed, nil)
	if err != nil {
		metrics.Turn(string(game.RoleAutomated), "rejected")
		return rep, err
	}
	metrics.Turn(string(game.RoleAutomated), "submitted")
	rep.Turn = res
	r.log.Debug().Str("session", id).Int("turn", res.Turn).Bool("keyword_used", res.KeywordUsed).Msg("automated turn played")

	finish, err := r.engine.AdvanceTurn(ctx, id)
	if err != nil {
		return rep, err
	}
	var next any
	if !finish {
		if cur, err := r.engine.GetSession(id); err == nil {
			next = nextTurn(cur)
		}
	}
	r.notify(ctx, events.New(events.AITurnCompleted, id, res.Turn, map[string]any{
		"content":  res.Content,
		"nextTurn": next,
	}))
	return rep, r.conclude(ctx, id, finish, &rep)
}

// considerGuess asks the oracle for a suspicion and submits a guess when it
// is confident enough. Oracle trouble only skips the guess.
func (r *Runner) considerGuess(ctx context.Context, s game.Session) (game.GuessOutcome, bool) {
	auto := s.Participant(game.RoleAutomated)
	opponent := opponentText(s, game.RoleHuman)
	if auto.GuessesRemaining <= 0 || opponent == "" {
		return game.GuessOutcome{}, false
	}
	sus, err := r.oracle.Suspect(ctx, game.SuspectRequest{
		OwnGenre:         auto.SecretGenre,
		GuessesRemaining: auto.GuessesRemaining,
		Turn:             s.CurrentTurn,
		MaxTurns:         s.MaxTurns,
		FullText:         game.Narrative(&s),
		OpponentOnlyText: opponent,
	})
	if err != nil {
		r.log.Warn().Err(err).Str("session", s.ID).Msg("suspect failed, skipping guess")
		return game.GuessOutcome{}, false
	}
	if sus.Decision != game.DecisionGuess || sus.GuessWord == nil || sus.Confidence < r.guessThreshold {
		return game.GuessOutcome{}, false
	}
	out, err := r.guess(ctx, s.ID, game.RoleAutomated, *sus.GuessWord)
	if err != nil {
		r.log.Warn().Err(err).Str("session", s.ID).Msg("automated guess rejected")
		return game.GuessOutcome{}, false
	}
	return out, true
}

// HandleExpiry skips turn once its countdown ran out. Expiry signals for a
// turn that moved on are ignored.
func (r *Runner) HandleExpiry(ctx context.Context, id string, turn int) error {
	finish, err := r.engine.ForceAdvance(ctx, id, turn)
	if errors.Is(err, game.ErrInvalidState) {
		r.log.Debug().Err(err).Str("session", id).Int("turn", turn).Msg("stale expiry ignored")
		return nil
	}
	if err != nil {
		return err
	}
	r.notify(ctx, events.New(events.TimerExpired, id, turn, nil))
	metrics.Turn(string(game.CurrentAuthor(&game.Session{CurrentTurn: turn})), "skipped")
	r.notify(ctx, events.New(events.TurnSkipped, id, turn, nil))
	if finish {
		_, err := r.Finish(ctx, id)
		return err
	}
	if s, err := r.engine.GetSession(id); err == nil {
		r.maybeAutoPlay(s)
	}
	return nil
}

func (r *Runner) afterTurn(ctx context.Context, id string, rep *TurnReport) error {
	finish, err := r.engine.AdvanceTurn(ctx, id)
	if err != nil {
		return err
	}
	return r.conclude(ctx, id, finish, rep)
}

// conclude finishes the game after its last turn, or hands the next turn to
// the automated side when that is its turn.
func (r *Runner) conclude(ctx context.Context, id string, finish bool, rep *TurnReport) error {
	if finish {
		res, err := r.Finish(ctx, id)
		if err != nil {
			return err
		}
		rep.Finished = true
		rep.Result = &res
		return nil
	}
	if s, err := r.engine.GetSession(id); err == nil {
		r.maybeAutoPlay(s)
	}
	return nil
}

// Finish finalizes the game, retrying oracle failures, then archives,
// exports and announces it once.
func (r *Runner) Finish(ctx context.Context, id string) (game.GameResult, error) {
	var res game.GameResult
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.finalizeDelay
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(r.finalizeAttempts-1, 0))), ctx)
	err := backoff.Retry(func() error {
		var err error
		res, err = r.engine.Finalize(ctx, id)
		if err != nil && !oracle.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
	if err != nil {
		r.log.Error().Err(err).Str("session", id).Msg("failed to finalize game")
		r.notifyError(ctx, id, "FINALIZE_FAILED", "the story could not be judged")
		return game.GameResult{}, err
	}

	r.mu.Lock()
	first := !r.settled[id]
	r.settled[id] = true
	r.mu.Unlock()
	if !first {
		return res, nil
	}

	metrics.SessionEvent("finished")
	s, err := r.engine.GetSession(id)
	if err == nil {
		r.handOff(ctx, s)
	}
	r.notify(ctx, events.New(events.GameFinished, id, s.CurrentTurn, map[string]any{
		"reason":          "ALL_TURNS_COMPLETED",
		"resultAvailable": true,
		"result":          res,
	}))
	return res, nil
}

func (r *Runner) handOff(ctx context.Context, s game.Session) {
	if r.archive != nil {
		if err := r.archive.SaveFinished(ctx, s); err != nil {
			r.log.Error().Err(err).Str("session", s.ID).Msg("failed to archive game")
		}
	}
	if r.exportFile != "" {
		if err := game.ExportSession(s, r.exportFile); err != nil {
			r.log.Error().Err(err).Str("session", s.ID).Msg("failed to export game data")
		} else {
			r.log.Info().Str("session", s.ID).Str("file", r.exportFile).Msg("exported game data")
		}
	}
}

func (r *Runner) maybeAutoPlay(s game.Session) {
	if !r.autoPlay || s.Status != game.StatusInProgress || s.TurnsExhausted || game.CurrentAuthor(&s) != game.RoleAutomated {
		return
	}
	r.wg.Add(1)
	go func(id string) {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), automatedTurnTimeout)
		defer cancel()
		if _, err := r.AutomatedTurn(ctx, id, true); err != nil {
			r.log.Error().Err(err).Str("session", id).Msg("automated turn failed")
		}
	}(s.ID)
}

// Wait blocks until background automated turns are done.
func (r *Runner) Wait() { r.wg.Wait() }

func (r *Runner) notify(ctx context.Context, ev events.Event) {
	if err := r.notifier.Notify(ctx, ev); err != nil {
		r.log.Warn().Err(err).Str("session", ev.SessionID).Str("event", string(ev.Type)).Msg("notify failed")
	}
}

func (r *Runner) notifyError(ctx context.Context, id, code, message string) {
	r.notify(ctx, events.New(events.Error, id, 0, map[string]any{"code": code, "message": message}))
}

func nextTurn(s game.Session) map[string]any {
	return map[string]any{
		"turn":      s.CurrentTurn,
		"author":    game.CurrentAuthor(&s),
		"timeLimit": s.TurnTimeLimit,
		"startTime": time.Now().UnixMilli(),
	}
}

func opponentText(s game.Session, role game.Role) string {
	var parts []string
	for _, e := range s.Entries {
		if e.Author != nil && *e.Author == role {
			parts = append(parts, e.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}
