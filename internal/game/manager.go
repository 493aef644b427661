package game

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// sessionCtx serializes every mutation of one session. The committed
// aggregate is replaced wholesale, never edited in place.
type sessionCtx struct {
	mu sync.Mutex
	s  *Session
}

// lockedRand shares one *rand.Rand between goroutines.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Intn(n)
}

// Engine owns all live sessions and enforces turn order, the keyword
// lifecycle and scoring. It runs no goroutines of its own.
type Engine struct {
	mu       sync.RWMutex
	sessions map[string]*sessionCtx

	bank      *KeywordBank
	lifecycle *KeywordLifecycle
	guesses   *GuessResolver
	endgame   *EndGameResolver
	oracle    Oracle
	timer     Timer
	seeds     SeedSource
	rng       *lockedRand
	now       func() time.Time
	log       zerolog.Logger

	minTurns int
	maxTurns int
}

type Option func(*Engine)

// WithRand replaces the random source used for genres, keywords and seeds.
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) { e.rng = &lockedRand{r: r} }
}

func WithTimer(t Timer) Option {
	return func(e *Engine) { e.timer = t }
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithSeeds(s SeedSource) Option {
	return func(e *Engine) { e.seeds = s }
}

func WithKeywordBank(b *KeywordBank) Option {
	return func(e *Engine) { e.bank = b }
}

// WithTurnBounds overrides the accepted MaxTurns range.
func WithTurnBounds(lo, hi int) Option {
	return func(e *Engine) {
		e.minTurns = lo
		e.maxTurns = hi
	}
}

func NewEngine(oracle Oracle, opts ...Option) *Engine {
	e := &Engine{
		sessions: make(map[string]*sessionCtx),
		oracle:   oracle,
		timer:    noopTimer{},
		seeds:    DefaultSeeds,
		rng:      &lockedRand{r: rand.New(rand.NewSource(time.Now().UnixNano()))},
		now:      func() time.Time { return time.Now().UTC() },
		log:      zerolog.Nop(),
		minTurns: MinTurns,
		maxTurns: MaxTurns,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.bank == nil {
		e.bank = DefaultKeywordBank()
	}
	e.lifecycle = NewKeywordLifecycle(e.bank)
	e.guesses = NewGuessResolver(e.lifecycle)
	e.endgame = NewEndGameResolver(e.lifecycle)
	return e
}

func (e *Engine) get(id string) (*sessionCtx, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	sc := e.sessions[id]
	if sc == nil {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return sc, nil
}

// mutate runs fn on a copy of the session under its lock. The copy is
// committed only when fn returns commit=true and no error.
func (e *Engine) mutate(id string, fn func(s *Session) (bool, error)) (*Session, error) {
	sc, err := e.get(id)
	if err != nil {
		return nil, err
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	work := sc.s.clone()
	commit, err := fn(work)
	if err != nil {
		return nil, err
	}
	if !commit {
		return sc.s.clone(), nil
	}
	work.Version++
	sc.s = work
	return work.clone(), nil
}

func (e *Engine) CreateSession(cfg SessionConfig) (Session, error) {
	if cfg.MaxTurns == 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.TurnTimeLimit == 0 {
		cfg.TurnTimeLimit = DefaultTurnTimeLimit
	}
	if cfg.Difficulty == "" {
		cfg.Difficulty = DifficultyNormal
	}
	if cfg.MaxTurns < e.minTurns || cfg.MaxTurns > e.maxTurns {
		return Session{}, fmt.Errorf("maxTurns %d not in [%d, %d]: %w", cfg.MaxTurns, e.minTurns, e.maxTurns, ErrInvalidConfiguration)
	}
	if cfg.TurnTimeLimit < MinTurnTimeLimit || cfg.TurnTimeLimit > MaxTurnTimeLimit {
		return Session{}, fmt.Errorf("turnTimeLimit %d not in [%d, %d]: %w", cfg.TurnTimeLimit, MinTurnTimeLimit, MaxTurnTimeLimit, ErrInvalidConfiguration)
	}
	if !cfg.Difficulty.Valid() {
		return Session{}, fmt.Errorf("difficulty %q: %w", cfg.Difficulty, ErrInvalidConfiguration)
	}

	// two distinct genres, uniform without replacement
	i := e.rng.Intn(len(Genres))
	j := e.rng.Intn(len(Genres) - 1)
	if j >= i {
		j++
	}
	humanGenre, autoGenre := Genres[i], Genres[j]

	human := &Participant{ID: uuid.NewString(), Role: RoleHuman, SecretGenre: humanGenre, GuessesRemaining: InitialGuesses}
	auto := &Participant{ID: uuid.NewString(), Role: RoleAutomated, SecretGenre: autoGenre, GuessesRemaining: InitialGuesses}
	if _, err := e.lifecycle.AssignNew(e.rng, human, autoGenre, cfg.Difficulty); err != nil {
		return Session{}, fmt.Errorf("assign human keyword: %w", err)
	}
	if _, err := e.lifecycle.AssignNew(e.rng, auto, humanGenre, cfg.Difficulty); err != nil {
		return Session{}, fmt.Errorf("assign automated keyword: %w", err)
	}

	s := &Session{
		ID:            uuid.NewString(),
		Status:        StatusWaiting,
		MaxTurns:      cfg.MaxTurns,
		TurnTimeLimit: cfg.TurnTimeLimit,
		Difficulty:    cfg.Difficulty,
		CreatedAt:     e.now(),
		Participants:  []*Participant{human, auto},
		Entries:       []StoryEntry{},
		Guesses:       []GuessAttempt{},
		Version:       1,
	}

	e.mu.Lock()
	e.sessions[s.ID] = &sessionCtx{s: s}
	e.mu.Unlock()

	e.log.Info().Str("session", s.ID).Str("human_genre", string(humanGenre)).Str("automated_genre", string(autoGenre)).
		Int("max_turns", s.MaxTurns).Msg("session created")
	return *s.clone(), nil
}

func (e *Engine) StartSession(ctx context.Context, id string) (Session, error) {
	s, err := e.mutate(id, func(s *Session) (bool, error) {
		if s.Status != StatusWaiting {
			return false, fmt.Errorf("start session in %s: %w", s.Status, ErrInvalidState)
		}
		s.InitialSituation = e.seeds.Situation(e.rng)
		s.CurrentTurn = 1
		s.Status = StatusInProgress
		return true, nil
	})
	if err != nil {
		return Session{}, err
	}
	e.startTimer(ctx, s)
	e.log.Info().Str("session", id).Msg("session started")
	return *s, nil
}

// CurrentAuthor reports whose turn the session is on.
func (e *Engine) CurrentAuthor(s Session) Role {
	return CurrentAuthor(&s)
}

func (e *Engine) SubmitTurn(ctx context.Context, id string, role Role, content string, claimsKeywordUse bool, timeSpent *int) (TurnResult, error) {
	var res TurnResult
	_, err := e.mutate(id, func(s *Session) (bool, error) {
		if s.Status != StatusInProgress {
			return false, fmt.Errorf("submit turn in %s: %w", s.Status, ErrInvalidState)
		}
		if s.TurnsExhausted {
			return false, fmt.Errorf("all %d turns played: %w", s.MaxTurns, ErrInvalidState)
		}
		if author := CurrentAuthor(s); role != author {
			return false, fmt.Errorf("turn %d belongs to %s: %w", s.CurrentTurn, author, ErrWrongTurn)
		}
		if _, ok := s.Entry(s.CurrentTurn); ok {
			return false, fmt.Errorf("turn %d already submitted: %w", s.CurrentTurn, ErrInvalidState)
		}
		p := s.Participant(role)
		author := role
		entry := StoryEntry{
			Turn:      s.CurrentTurn,
			Author:    &author,
			Content:   content,
			TimeSpent: timeSpent,
			CreatedAt: e.now(),
		}
		used := false
		if claimsKeywordUse && p.Keyword != nil && p.KeywordStatus == KeywordPending &&
			strings.Contains(content, p.Keyword.Word) {
			used = e.lifecycle.MarkUsed(p)
			k := *p.Keyword
			entry.Keyword = &k
		}
		s.Entries = append(s.Entries, entry)
		res = TurnResult{
			Turn:          s.CurrentTurn,
			Author:        role,
			Content:       content,
			KeywordUsed:   used,
			KeywordStatus: p.KeywordStatus,
		}
		return true, nil
	})
	if err != nil {
		return TurnResult{}, err
	}
	e.cancelTimer(ctx, id)
	e.log.Debug().Str("session", id).Int("turn", res.Turn).Str("role", string(role)).Bool("keyword_used", res.KeywordUsed).Msg("turn submitted")
	return res, nil
}

// AdvanceTurn moves to the next turn. Once the last turn has been played it
// marks the session exhausted instead and reports true.
func (e *Engine) AdvanceTurn(ctx context.Context, id string) (bool, error) {
	return e.advance(ctx, id, func(s *Session) error {
		if s.Status != StatusInProgress {
			return fmt.Errorf("advance turn in %s: %w", s.Status, ErrInvalidState)
		}
		return nil
	})
}

// ForceAdvance skips turn after its timer expired. Signals for a turn that
// is no longer current or that already has an entry are rejected.
func (e *Engine) ForceAdvance(ctx context.Context, id string, turn int) (bool, error) {
	return e.advance(ctx, id, func(s *Session) error {
		if s.Status != StatusInProgress {
			return fmt.Errorf("force advance in %s: %w", s.Status, ErrInvalidState)
		}
		if s.TurnsExhausted || s.CurrentTurn != turn {
			return fmt.Errorf("stale expiry for turn %d, current is %d: %w", turn, s.CurrentTurn, ErrInvalidState)
		}
		if _, ok := s.Entry(turn); ok {
			return fmt.Errorf("turn %d already submitted: %w", turn, ErrInvalidState)
		}
		return nil
	})
}

func (e *Engine) advance(ctx context.Context, id string, check func(s *Session) error) (bool, error) {
	finish := false
	s, err := e.mutate(id, func(s *Session) (bool, error) {
		if err := check(s); err != nil {
			return false, err
		}
		next := s.CurrentTurn + 1
		if next > s.MaxTurns {
			finish = true
			if s.TurnsExhausted {
				return false, nil
			}
			s.TurnsExhausted = true
			return true, nil
		}
		s.CurrentTurn = next
		return true, nil
	})
	if err != nil {
		return false, err
	}
	if finish {
		e.cancelTimer(ctx, id)
		e.log.Debug().Str("session", id).Msg("all turns played")
		return true, nil
	}
	e.startTimer(ctx, s)
	e.log.Debug().Str("session", id).Int("turn", s.CurrentTurn).Msg("turn advanced")
	return false, nil
}

// SubmitGuess resolves a guess. Guesses are accepted at any point while the
// session is in progress, not only on the guesser's turn.
func (e *Engine) SubmitGuess(id string, role Role, word string) (GuessOutcome, error) {
	var out GuessOutcome
	_, err := e.mutate(id, func(s *Session) (bool, error) {
		if s.Status != StatusInProgress {
			return false, fmt.Errorf("guess in %s: %w", s.Status, ErrInvalidState)
		}
		if s.TurnsExhausted {
			return false, fmt.Errorf("guess after the last turn: %w", ErrInvalidState)
		}
		var err error
		out, err = e.guesses.Resolve(s, e.rng, role, word, e.now())
		if err != nil {
			return false, err
		}
		return out.Verdict != GuessNoChances, nil
	})
	if err != nil {
		return GuessOutcome{}, err
	}
	e.log.Info().Str("session", id).Str("role", string(role)).Str("verdict", string(out.Verdict)).Msg("guess resolved")
	return out, nil
}

// Finalize settles the game once every turn has been played. A finished
// session returns its stored result and nothing is written again.
//
// The oracle is consulted on a snapshot without holding the session lock.
// The judgment is committed only if the session is still at the version it
// was judged at.
func (e *Engine) Finalize(ctx context.Context, id string) (GameResult, error) {
	sc, err := e.get(id)
	if err != nil {
		return GameResult{}, err
	}
	sc.mu.Lock()
	work := sc.s.clone()
	sc.mu.Unlock()

	if work.Status == StatusFinished && work.Result != nil {
		return work.Result.clone(), nil
	}
	if work.Status != StatusInProgress {
		return GameResult{}, fmt.Errorf("finalize in %s: %w", work.Status, ErrInvalidState)
	}
	if !work.TurnsExhausted {
		return GameResult{}, fmt.Errorf("finalize at turn %d of %d: %w", work.CurrentTurn, work.MaxTurns, ErrInvalidState)
	}

	base := work.Version
	res, err := e.endgame.Resolve(ctx, work, e.oracle, e.now())
	if err != nil {
		e.log.Warn().Err(err).Str("session", id).Msg("finalize failed")
		return GameResult{}, err
	}

	sc.mu.Lock()
	cur := sc.s
	switch {
	case cur.Status == StatusFinished && cur.Result != nil:
		// a concurrent finalize won
		sc.mu.Unlock()
		return cur.Result.clone(), nil
	case cur.Version != base:
		sc.mu.Unlock()
		return GameResult{}, fmt.Errorf("session changed from version %d to %d while judged: %w", base, cur.Version, ErrInvalidState)
	}
	work.Version++
	sc.s = work
	sc.mu.Unlock()

	e.cancelTimer(ctx, id)
	e.log.Info().Str("session", id).Str("winner", string(res.Winner)).
		Int("human", res.HumanScore).Int("automated", res.AutomatedScore).Msg("session finished")
	return res, nil
}

func (e *Engine) GetResult(id string) (GameResult, error) {
	s, err := e.GetSession(id)
	if err != nil {
		return GameResult{}, err
	}
	if s.Status != StatusFinished || s.Result == nil {
		return GameResult{}, fmt.Errorf("result of %s session: %w", s.Status, ErrInvalidState)
	}
	return *s.Result, nil
}

func (e *Engine) CancelSession(ctx context.Context, id string) error {
	_, err := e.mutate(id, func(s *Session) (bool, error) {
		if s.Status != StatusWaiting && s.Status != StatusInProgress {
			return false, fmt.Errorf("cancel in %s: %w", s.Status, ErrInvalidState)
		}
		now := e.now()
		s.Status = StatusCancelled
		s.FinishedAt = &now
		return true, nil
	})
	if err != nil {
		return err
	}
	e.cancelTimer(ctx, id)
	e.log.Info().Str("session", id).Msg("session cancelled")
	return nil
}

// GetSession returns a snapshot that shares no memory with the engine.
func (e *Engine) GetSession(id string) (Session, error) {
	sc, err := e.get(id)
	if err != nil {
		return Session{}, err
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return *sc.s.clone(), nil
}

// Sessions lists snapshots, oldest first, optionally filtered by status.
func (e *Engine) Sessions(status ...Status) []Session {
	e.mu.RLock()
	ctxs := make([]*sessionCtx, 0, len(e.sessions))
	for _, sc := range e.sessions {
		ctxs = append(ctxs, sc)
	}
	e.mu.RUnlock()

	out := make([]Session, 0, len(ctxs))
	for _, sc := range ctxs {
		sc.mu.Lock()
		s := sc.s.clone()
		sc.mu.Unlock()
		if len(status) > 0 && !hasStatus(status, s.Status) {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// TimeRemaining asks the timer how long the current turn has left.
func (e *Engine) TimeRemaining(ctx context.Context, id string) (int, error) {
	if _, err := e.get(id); err != nil {
		return 0, err
	}
	return e.timer.RemainingSeconds(ctx, id)
}

// TurnExpired reports whether the current turn's countdown ran out.
func (e *Engine) TurnExpired(ctx context.Context, id string) (bool, error) {
	if _, err := e.get(id); err != nil {
		return false, err
	}
	return e.timer.IsExpired(ctx, id)
}

func (e *Engine) startTimer(ctx context.Context, s *Session) {
	if err := e.timer.Start(ctx, s.ID, s.TurnTimeLimit); err != nil {
		e.log.Warn().Err(err).Str("session", s.ID).Int("turn", s.CurrentTurn).Msg("timer start failed")
	}
}

func (e *Engine) cancelTimer(ctx context.Context, id string) {
	if err := e.timer.Cancel(ctx, id); err != nil {
		e.log.Warn().Err(err).Str("session", id).Msg("timer cancel failed")
	}
}

func hasStatus(set []Status, s Status) bool {
	for _, st := range set {
		if st == s {
			return true
		}
	}
	return false
}
