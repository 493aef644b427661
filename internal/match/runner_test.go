package match

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kiliankoe/doublecross/internal/events"
	"github.com/kiliankoe/doublecross/internal/game"
	"github.com/kiliankoe/doublecross/internal/timer"
)

type mockOracle struct {
	mock.Mock
}

func (m *mockOracle) Generate(ctx context.Context, req game.GenerateRequest) (game.GenerateResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(game.GenerateResponse), args.Error(1)
}

func (m *mockOracle) Judge(ctx context.Context, narrative string) (game.Judgment, error) {
	args := m.Called(ctx, narrative)
	return args.Get(0).(game.Judgment), args.Error(1)
}

func (m *mockOracle) Suspect(ctx context.Context, req game.SuspectRequest) (game.Suspicion, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(game.Suspicion), args.Error(1)
}

type mockArchive struct {
	mock.Mock
}

func (m *mockArchive) SaveFinished(ctx context.Context, s game.Session) error {
	return m.Called(ctx, s).Error(0)
}

type recorder struct {
	mu  sync.Mutex
	got []events.Event
}

func (r *recorder) Notify(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, ev)
	return nil
}

func (r *recorder) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, 0, len(r.got))
	for _, ev := range r.got {
		out = append(out, ev.Type)
	}
	return out
}

var okJudgment = game.Judgment{GenreRatios: map[game.Genre]int{}, QualityFactor: 1.0, UnnaturalElements: []game.UnnaturalElement{}}

func newRunner(t *testing.T, o *mockOracle, opts ...Option) (*Runner, *recorder) {
	t.Helper()
	return newRunnerWithEngine(t, game.NewEngine(o, game.WithRand(rand.New(rand.NewSource(7)))), o, opts...)
}

func newRunnerWithEngine(t *testing.T, e *game.Engine, o *mockOracle, opts ...Option) (*Runner, *recorder) {
	t.Helper()
	rec := &recorder{}
	opts = append([]Option{WithFinalizeRetry(2, time.Millisecond)}, opts...)
	return NewRunner(e, o, rec, opts...), rec
}

func startGame(t *testing.T, r *Runner) game.Session {
	t.Helper()
	s, _, err := r.CreateGame(game.SessionConfig{MaxTurns: 5})
	require.NoError(t, err)
	s, err = r.StartGame(context.Background(), s.ID)
	require.NoError(t, err)
	return s
}

// skipTurns force-skips every remaining turn of s.
func skipTurns(t *testing.T, r *Runner, id string) {
	t.Helper()
	for {
		s, err := r.Engine().GetSession(id)
		require.NoError(t, err)
		finish, err := r.Engine().ForceAdvance(context.Background(), id, s.CurrentTurn)
		require.NoError(t, err)
		if finish {
			return
		}
	}
}

func countType(types []events.Type, want events.Type) int {
	n := 0
	for _, ty := range types {
		if ty == want {
			n++
		}
	}
	return n
}

func TestCreateGameAndAuthorize(t *testing.T) {
	r, _ := newRunner(t, &mockOracle{})
	s, token, err := r.CreateGame(game.SessionConfig{})
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	assert.NoError(t, r.Authorize(s.ID, token))
	assert.ErrorIs(t, r.Authorize(s.ID, "nope"), ErrUnauthorized)
	assert.ErrorIs(t, r.Authorize(s.ID, ""), ErrUnauthorized)
	assert.ErrorIs(t, r.Authorize("missing", token), game.ErrNotFound)
}

func TestAutomatedOpeningTurnUsesKeyword(t *testing.T) {
	o := &mockOracle{}
	r, rec := newRunner(t, o)
	s := startGame(t, r)
	word := s.Participant(game.RoleAutomated).Keyword.Word

	o.On("Generate", mock.Anything, mock.MatchedBy(func(req game.GenerateRequest) bool {
		return req.MustUseKeyword && req.Turn == 1 && req.KeywordText == word
	})).Return(game.GenerateResponse{Content: "Nobody expected the " + word + ".", KeywordUsed: true}, nil).Once()

	rep, err := r.AutomatedTurn(context.Background(), s.ID, true)
	require.NoError(t, err)
	assert.True(t, rep.Turn.KeywordUsed)
	assert.Nil(t, rep.Guess)
	assert.False(t, rep.Finished)

	got, _ := r.Engine().GetSession(s.ID)
	assert.Equal(t, 2, got.CurrentTurn)
	assert.Equal(t, game.KeywordUsed, got.Participant(game.RoleAutomated).KeywordStatus)
	assert.Equal(t, []events.Type{events.GameStarted, events.AITurnCompleted}, rec.types())
	o.AssertNotCalled(t, "Suspect", mock.Anything, mock.Anything)
	o.AssertExpectations(t)
}

func TestAutomatedTurnWithoutKeywordInstruction(t *testing.T) {
	o := &mockOracle{}
	r, _ := newRunner(t, o)
	s := startGame(t, r)
	o.On("Generate", mock.Anything, mock.MatchedBy(func(req game.GenerateRequest) bool {
		return !req.MustUseKeyword
	})).Return(game.GenerateResponse{Content: "Rain fell."}, nil).Once()

	rep, err := r.AutomatedTurn(context.Background(), s.ID, false)
	require.NoError(t, err)
	assert.False(t, rep.Turn.KeywordUsed)
	o.AssertExpectations(t)
}

func TestAutomatedTurnGuessesWhenConfident(t *testing.T) {
	ctx := context.Background()
	o := &mockOracle{}
	r, rec := newRunner(t, o)
	s := startGame(t, r)
	humanWord := s.Participant(game.RoleHuman).Keyword.Word

	o.On("Generate", mock.Anything, mock.Anything).Return(game.GenerateResponse{Content: "The wind turned."}, nil)
	_, err := r.AutomatedTurn(ctx, s.ID, false)
	require.NoError(t, err)
	_, err = r.HumanTurn(ctx, s.ID, "Out of nowhere, a "+humanWord+" appeared.", true, nil)
	require.NoError(t, err)

	o.On("Suspect", mock.Anything, mock.MatchedBy(func(req game.SuspectRequest) bool {
		return req.Turn == 3 && req.GuessesRemaining == game.InitialGuesses && req.OpponentOnlyText != ""
	})).Return(game.Suspicion{Decision: game.DecisionGuess, GuessWord: &humanWord, Confidence: 90}, nil).Once()

	rep, err := r.AutomatedTurn(ctx, s.ID, false)
	require.NoError(t, err)
	require.NotNil(t, rep.Guess)
	assert.Equal(t, game.GuessCorrect, rep.Guess.Verdict)
	assert.Equal(t, game.PointsGuessCorrect, rep.Guess.TotalScore)

	got, _ := r.Engine().GetSession(s.ID)
	human := got.Participant(game.RoleHuman)
	assert.Equal(t, game.KeywordPending, human.KeywordStatus)
	assert.Equal(t, 4, got.CurrentTurn)
	assert.Contains(t, rec.types(), events.GuessResult)
	o.AssertExpectations(t)
}

func TestAutomatedTurnSkipsUnsureGuess(t *testing.T) {
	ctx := context.Background()
	o := &mockOracle{}
	r, _ := newRunner(t, o)
	s := startGame(t, r)

	o.On("Generate", mock.Anything, mock.Anything).Return(game.GenerateResponse{Content: "Fog."}, nil)
	_, err := r.AutomatedTurn(ctx, s.ID, false)
	require.NoError(t, err)
	_, err = r.HumanTurn(ctx, s.ID, "A lamp flickered.", false, nil)
	require.NoError(t, err)

	word := "lamp"
	o.On("Suspect", mock.Anything, mock.Anything).Return(game.Suspicion{Decision: game.DecisionGuess, GuessWord: &word, Confidence: 50}, nil).Once()
	rep, err := r.AutomatedTurn(ctx, s.ID, false)
	require.NoError(t, err)
	assert.Nil(t, rep.Guess)

	got, _ := r.Engine().GetSession(s.ID)
	assert.Empty(t, got.Guesses)
}

func TestTurnOrderIsEnforced(t *testing.T) {
	ctx := context.Background()
	o := &mockOracle{}
	r, _ := newRunner(t, o)
	s := startGame(t, r)

	_, err := r.HumanTurn(ctx, s.ID, "Too early.", false, nil)
	assert.ErrorIs(t, err, game.ErrWrongTurn)

	o.On("Generate", mock.Anything, mock.Anything).Return(game.GenerateResponse{Content: "First."}, nil)
	_, err = r.AutomatedTurn(ctx, s.ID, false)
	require.NoError(t, err)
	_, err = r.AutomatedTurn(ctx, s.ID, false)
	assert.ErrorIs(t, err, game.ErrWrongTurn)
}

func TestGameFinishesAndHandsOffOnce(t *testing.T) {
	ctx := context.Background()
	o := &mockOracle{}
	archive := &mockArchive{}
	file := filepath.Join(t.TempDir(), "games.txt")
	r, rec := newRunner(t, o, WithArchive(archive), WithExport(file))
	s := startGame(t, r)

	o.On("Generate", mock.Anything, mock.Anything).Return(game.GenerateResponse{Content: "A line."}, nil)
	o.On("Suspect", mock.Anything, mock.Anything).Return(game.Suspicion{Decision: game.DecisionPass}, nil)
	o.On("Judge", mock.Anything, mock.Anything).Return(okJudgment, nil).Once()
	archive.On("SaveFinished", mock.Anything, mock.MatchedBy(func(s game.Session) bool {
		return s.Status == game.StatusFinished
	})).Return(nil).Once()

	var rep TurnReport
	var err error
	for turn := 1; turn <= 5; turn++ {
		if turn%2 == 1 {
			rep, err = r.AutomatedTurn(ctx, s.ID, false)
		} else {
			rep, err = r.HumanTurn(ctx, s.ID, "Another line.", false, nil)
		}
		require.NoError(t, err)
	}
	assert.True(t, rep.Finished)
	require.NotNil(t, rep.Result)
	assert.Equal(t, game.WinnerDraw, rep.Result.Winner)

	_, err = r.Finish(ctx, s.ID)
	require.NoError(t, err)

	archive.AssertNumberOfCalls(t, "SaveFinished", 1)
	o.AssertNumberOfCalls(t, "Judge", 1)
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), s.ID)

	types := rec.types()
	assert.Equal(t, events.GameFinished, types[len(types)-1])
	assert.Equal(t, 1, countType(types, events.GameFinished))
}

func TestFinishBeforeLastTurnIsRejected(t *testing.T) {
	o := &mockOracle{}
	r, rec := newRunner(t, o)
	s := startGame(t, r)

	_, err := r.Finish(context.Background(), s.ID)
	assert.ErrorIs(t, err, game.ErrInvalidState)
	o.AssertNotCalled(t, "Judge", mock.Anything, mock.Anything)
	assert.Zero(t, countType(rec.types(), events.GameFinished))

	got, _ := r.Engine().GetSession(s.ID)
	assert.Equal(t, game.StatusInProgress, got.Status)
	assert.Equal(t, 1, got.CurrentTurn)
}

func TestFinishRetriesUnavailableJudge(t *testing.T) {
	o := &mockOracle{}
	r, _ := newRunner(t, o)
	s := startGame(t, r)
	skipTurns(t, r, s.ID)

	o.On("Judge", mock.Anything, mock.Anything).Return(game.Judgment{}, game.ErrOracleUnavailable).Once()
	o.On("Judge", mock.Anything, mock.Anything).Return(okJudgment, nil).Once()

	res, err := r.Finish(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, game.WinnerDraw, res.Winner)
	o.AssertNumberOfCalls(t, "Judge", 2)
}

func TestFinishGivesUp(t *testing.T) {
	o := &mockOracle{}
	r, rec := newRunner(t, o)
	s := startGame(t, r)
	skipTurns(t, r, s.ID)
	o.On("Judge", mock.Anything, mock.Anything).Return(game.Judgment{}, game.ErrOracleUnavailable)

	_, err := r.Finish(context.Background(), s.ID)
	assert.ErrorIs(t, err, game.ErrOracleUnavailable)
	o.AssertNumberOfCalls(t, "Judge", 2)
	assert.Contains(t, rec.types(), events.Error)

	got, _ := r.Engine().GetSession(s.ID)
	assert.Equal(t, game.StatusInProgress, got.Status)
}

func TestCancelGame(t *testing.T) {
	r, rec := newRunner(t, &mockOracle{})
	s := startGame(t, r)
	require.NoError(t, r.CancelGame(context.Background(), s.ID))
	assert.ErrorIs(t, r.CancelGame(context.Background(), s.ID), game.ErrInvalidState)
	assert.Contains(t, rec.types(), events.GameCancelled)
}

func TestAutoPlay(t *testing.T) {
	o := &mockOracle{}
	r, _ := newRunner(t, o, WithAutoPlay(true))
	o.On("Generate", mock.Anything, mock.Anything).Return(game.GenerateResponse{Content: "It began."}, nil).Once()

	s := startGame(t, r)
	r.Wait()

	got, _ := r.Engine().GetSession(s.ID)
	assert.Equal(t, 2, got.CurrentTurn)
	require.Len(t, got.Entries, 1)
	assert.Equal(t, "It began.", got.Entries[0].Content)
}

func TestWatcherSkipsExpiredTurn(t *testing.T) {
	ctx := context.Background()
	var mu sync.Mutex
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	o := &mockOracle{}
	e := game.NewEngine(o, game.WithRand(rand.New(rand.NewSource(3))), game.WithTimer(timer.NewMemory(clock)))
	r, rec := newRunnerWithEngine(t, e, o)
	s := startGame(t, r)
	w := NewWatcher(r, time.Millisecond, r.log)

	w.Tick(ctx)
	got, _ := e.GetSession(s.ID)
	assert.Equal(t, 1, got.CurrentTurn)

	mu.Lock()
	now = now.Add(time.Duration(s.TurnTimeLimit+1) * time.Second)
	mu.Unlock()

	w.Tick(ctx)
	got, _ = e.GetSession(s.ID)
	assert.Equal(t, 2, got.CurrentTurn)
	assert.Empty(t, got.Entries)
	assert.Contains(t, rec.types(), events.TimerExpired)
	assert.Contains(t, rec.types(), events.TurnSkipped)

	// the new turn has a fresh countdown
	w.Tick(ctx)
	got, _ = e.GetSession(s.ID)
	assert.Equal(t, 2, got.CurrentTurn)
	left, err := e.TimeRemaining(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.TurnTimeLimit, left)
}

func TestHandleExpiryIgnoresStaleTurn(t *testing.T) {
	r, rec := newRunner(t, &mockOracle{})
	s := startGame(t, r)
	require.NoError(t, r.HandleExpiry(context.Background(), s.ID, 4))
	got, _ := r.Engine().GetSession(s.ID)
	assert.Equal(t, 1, got.CurrentTurn)
	assert.Zero(t, countType(rec.types(), events.TimerExpired))
}

func TestWatcherLeavesFailedFinishAlone(t *testing.T) {
	ctx := context.Background()
	var mu sync.Mutex
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	o := &mockOracle{}
	o.On("Judge", mock.Anything, mock.Anything).Return(game.Judgment{}, game.ErrOracleUnavailable)
	e := game.NewEngine(o,
		game.WithRand(rand.New(rand.NewSource(5))),
		game.WithTimer(timer.NewMemory(clock)),
		game.WithTurnBounds(1, game.MaxTurns),
	)
	r, rec := newRunnerWithEngine(t, e, o)
	s, _, err := r.CreateGame(game.SessionConfig{MaxTurns: 1})
	require.NoError(t, err)
	_, err = r.StartGame(ctx, s.ID)
	require.NoError(t, err)
	w := NewWatcher(r, time.Millisecond, r.log)

	mu.Lock()
	now = now.Add(time.Duration(s.TurnTimeLimit+1) * time.Second)
	mu.Unlock()
	w.Tick(ctx)
	w.Tick(ctx)
	w.Tick(ctx)

	got, _ := e.GetSession(s.ID)
	assert.True(t, got.TurnsExhausted)
	assert.Equal(t, game.StatusInProgress, got.Status)
	types := rec.types()
	assert.Equal(t, 1, countType(types, events.TimerExpired))
	assert.Equal(t, 1, countType(types, events.TurnSkipped))
	assert.Equal(t, 1, countType(types, events.Error))
	o.AssertNumberOfCalls(t, "Judge", 2)

	_, err = r.AutomatedTurn(ctx, s.ID, true)
	assert.ErrorIs(t, err, game.ErrInvalidState)
}

func TestWatcherRunStopsWithContext(t *testing.T) {
	r, _ := newRunner(t, &mockOracle{})
	w := NewWatcher(r, time.Millisecond, r.log)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestCreateGameAppliesDefaults(t *testing.T) {
	r, _ := newRunner(t, &mockOracle{}, WithDefaults(game.SessionConfig{MaxTurns: 6, TurnTimeLimit: 45, Difficulty: game.DifficultyHard}))
	s, _, err := r.CreateGame(game.SessionConfig{MaxTurns: 8})
	require.NoError(t, err)
	assert.Equal(t, 8, s.MaxTurns)
	assert.Equal(t, 45, s.TurnTimeLimit)
	assert.Equal(t, game.DifficultyHard, s.Difficulty)
}
