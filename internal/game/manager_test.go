package game

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubOracle struct {
	mu        sync.Mutex
	judgment  Judgment
	err       error
	calls     int
	narrative string
}

func (o *stubOracle) Generate(context.Context, GenerateRequest) (GenerateResponse, error) {
	return GenerateResponse{}, nil
}

func (o *stubOracle) Judge(_ context.Context, narrative string) (Judgment, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	o.narrative = narrative
	return o.judgment, o.err
}

func (o *stubOracle) Suspect(context.Context, SuspectRequest) (Suspicion, error) {
	return Suspicion{Decision: DecisionPass}, nil
}

type recordingTimer struct {
	mu      sync.Mutex
	starts  []int
	cancels int
	err     error
}

func (t *recordingTimer) Start(_ context.Context, _ string, seconds int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.starts = append(t.starts, seconds)
	return t.err
}

func (t *recordingTimer) Cancel(context.Context, string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancels++
	return t.err
}

func (t *recordingTimer) RemainingSeconds(context.Context, string) (int, error) { return 42, nil }
func (t *recordingTimer) IsExpired(context.Context, string) (bool, error)       { return false, nil }

func newTestEngine(oracle Oracle, opts ...Option) *Engine {
	base := []Option{
		WithRand(rand.New(rand.NewSource(42))),
		WithTurnBounds(1, MaxTurns),
	}
	return NewEngine(oracle, append(base, opts...)...)
}

func startedSession(t *testing.T, e *Engine, maxTurns int) Session {
	t.Helper()
	s, err := e.CreateSession(SessionConfig{MaxTurns: maxTurns, TurnTimeLimit: 90})
	require.NoError(t, err)
	s, err = e.StartSession(context.Background(), s.ID)
	require.NoError(t, err)
	return s
}

// playOut skips every remaining turn until the session is exhausted.
func playOut(t *testing.T, e *Engine, id string) {
	t.Helper()
	ctx := context.Background()
	for {
		s, err := e.GetSession(id)
		require.NoError(t, err)
		var finish bool
		if _, ok := s.Entry(s.CurrentTurn); ok {
			finish, err = e.AdvanceTurn(ctx, id)
		} else {
			finish, err = e.ForceAdvance(ctx, id, s.CurrentTurn)
		}
		require.NoError(t, err)
		if finish {
			return
		}
	}
}

func requireLedgerConsistent(t *testing.T, s Session) {
	t.Helper()
	for _, p := range s.Participants {
		require.Equal(t, s.Ledger.Total(p.ID), p.Score, "score of %s must equal its ledger total", p.Role)
	}
}

func requireTurnInvariant(t *testing.T, s Session) {
	t.Helper()
	switch s.Status {
	case StatusWaiting:
		require.Equal(t, 0, s.CurrentTurn)
	case StatusInProgress:
		require.GreaterOrEqual(t, s.CurrentTurn, 1)
		require.LessOrEqual(t, s.CurrentTurn, s.MaxTurns)
	}
}

func TestCreateSession(t *testing.T) {
	e := NewEngine(&stubOracle{}, WithRand(rand.New(rand.NewSource(7))))

	s, err := e.CreateSession(SessionConfig{})
	require.NoError(t, err)

	assert.Equal(t, StatusWaiting, s.Status)
	assert.Equal(t, DefaultMaxTurns, s.MaxTurns)
	assert.Equal(t, DefaultTurnTimeLimit, s.TurnTimeLimit)
	assert.Equal(t, DifficultyNormal, s.Difficulty)
	assert.Equal(t, 0, s.CurrentTurn)
	require.Len(t, s.Participants, 2)

	human := s.Participant(RoleHuman)
	auto := s.Participant(RoleAutomated)
	require.NotNil(t, human)
	require.NotNil(t, auto)
	assert.NotEqual(t, human.SecretGenre, auto.SecretGenre)
	assert.Equal(t, auto.SecretGenre, human.Keyword.TargetGenre, "human keyword must be foreign to the opponent genre")
	assert.Equal(t, human.SecretGenre, auto.Keyword.TargetGenre)
	for _, p := range s.Participants {
		assert.Equal(t, KeywordPending, p.KeywordStatus)
		assert.Equal(t, InitialGuesses, p.GuessesRemaining)
		assert.Zero(t, p.Score)
	}
	requireTurnInvariant(t, s)
}

func TestCreateSessionValidation(t *testing.T) {
	e := NewEngine(&stubOracle{})
	cases := []SessionConfig{
		{MaxTurns: 4},
		{MaxTurns: 21},
		{TurnTimeLimit: 29},
		{TurnTimeLimit: 181},
		{Difficulty: "IMPOSSIBLE"},
	}
	for _, cfg := range cases {
		_, err := e.CreateSession(cfg)
		assert.ErrorIs(t, err, ErrInvalidConfiguration, "%+v", cfg)
	}
	assert.Empty(t, e.Sessions())

	_, err := e.CreateSession(SessionConfig{MaxTurns: 5, TurnTimeLimit: 180, Difficulty: DifficultyHard})
	assert.NoError(t, err)
}

func TestCreateSessionDrawsDistinctGenres(t *testing.T) {
	e := newTestEngine(&stubOracle{})
	for i := 0; i < 100; i++ {
		s, err := e.CreateSession(SessionConfig{})
		require.NoError(t, err)
		assert.NotEqual(t, s.Participant(RoleHuman).SecretGenre, s.Participant(RoleAutomated).SecretGenre)
	}
}

func TestStartSession(t *testing.T) {
	timer := &recordingTimer{}
	e := newTestEngine(&stubOracle{}, WithTimer(timer), WithSeeds(Seeds{"Once upon a time."}))
	s, err := e.CreateSession(SessionConfig{TurnTimeLimit: 60})
	require.NoError(t, err)

	started, err := e.StartSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, started.Status)
	assert.Equal(t, 1, started.CurrentTurn)
	assert.Equal(t, "Once upon a time.", started.InitialSituation)
	assert.Greater(t, started.Version, s.Version)
	assert.Equal(t, []int{60}, timer.starts)
	requireTurnInvariant(t, started)

	_, err = e.StartSession(context.Background(), s.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = e.StartSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCurrentAuthorParity(t *testing.T) {
	s := &Session{CurrentTurn: 1}
	assert.Equal(t, RoleAutomated, CurrentAuthor(s))
	s.CurrentTurn = 2
	assert.Equal(t, RoleHuman, CurrentAuthor(s))
	s.CurrentTurn = 7
	assert.Equal(t, RoleAutomated, CurrentAuthor(s))
}

func TestSubmitTurn(t *testing.T) {
	ctx := context.Background()
	timer := &recordingTimer{}
	e := newTestEngine(&stubOracle{}, WithTimer(timer))
	s := startedSession(t, e, 10)
	word := s.Participant(RoleAutomated).Keyword.Word

	_, err := e.SubmitTurn(ctx, s.ID, RoleHuman, "Out of turn.", false, nil)
	assert.ErrorIs(t, err, ErrWrongTurn)

	res, err := e.SubmitTurn(ctx, s.ID, RoleAutomated, "A sentence about the "+word+" again.", true, nil)
	require.NoError(t, err)
	assert.True(t, res.KeywordUsed)
	assert.Equal(t, KeywordUsed, res.KeywordStatus)
	assert.Equal(t, 1, timer.cancels)

	_, err = e.SubmitTurn(ctx, s.ID, RoleAutomated, "Twice.", false, nil)
	assert.ErrorIs(t, err, ErrInvalidState)

	got, err := e.GetSession(s.ID)
	require.NoError(t, err)
	require.Len(t, got.Entries, 1)
	entry := got.Entries[0]
	assert.Equal(t, 1, entry.Turn)
	require.NotNil(t, entry.Author)
	assert.Equal(t, RoleAutomated, *entry.Author)
	require.NotNil(t, entry.Keyword)
	assert.Equal(t, word, entry.Keyword.Word)
	assert.Equal(t, 1, got.Participant(RoleAutomated).KeywordsUsed)
}

func TestSubmitTurnKeywordContainment(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(&stubOracle{})

	// unclaimed use does not count
	s := startedSession(t, e, 10)
	word := s.Participant(RoleAutomated).Keyword.Word
	res, err := e.SubmitTurn(ctx, s.ID, RoleAutomated, "the "+word, false, nil)
	require.NoError(t, err)
	assert.False(t, res.KeywordUsed)
	assert.Equal(t, KeywordPending, res.KeywordStatus)

	// containment is case-sensitive
	s = startedSession(t, e, 10)
	word = s.Participant(RoleAutomated).Keyword.Word
	res, err = e.SubmitTurn(ctx, s.ID, RoleAutomated, "THE "+strings.ToUpper(word), true, nil)
	require.NoError(t, err)
	assert.False(t, res.KeywordUsed)

	// suffixed forms pass the substring check
	s = startedSession(t, e, 10)
	word = s.Participant(RoleAutomated).Keyword.Word
	spent := 12
	res, err = e.SubmitTurn(ctx, s.ID, RoleAutomated, "many "+word+"s", true, &spent)
	require.NoError(t, err)
	assert.True(t, res.KeywordUsed)
	got, _ := e.GetSession(s.ID)
	require.NotNil(t, got.Entries[0].TimeSpent)
	assert.Equal(t, 12, *got.Entries[0].TimeSpent)
}

func TestAdvanceTurn(t *testing.T) {
	ctx := context.Background()
	timer := &recordingTimer{}
	e := newTestEngine(&stubOracle{}, WithTimer(timer))
	s := startedSession(t, e, 2)

	finish, err := e.AdvanceTurn(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, finish)
	got, _ := e.GetSession(s.ID)
	assert.Equal(t, 2, got.CurrentTurn)
	assert.Equal(t, RoleHuman, e.CurrentAuthor(got))

	finish, err = e.AdvanceTurn(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, finish)
	after, _ := e.GetSession(s.ID)
	assert.Equal(t, 2, after.CurrentTurn)
	assert.True(t, after.TurnsExhausted)
	assert.Equal(t, StatusInProgress, after.Status)
	requireTurnInvariant(t, after)
	assert.Len(t, timer.starts, 2)
	assert.Equal(t, 1, timer.cancels)

	finish, err = e.AdvanceTurn(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, finish)
	again, _ := e.GetSession(s.ID)
	assert.Equal(t, after.Version, again.Version, "repeated finishing advance must not mutate")
}

func TestExhaustedSessionAcceptsNoMorePlay(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(&stubOracle{})
	s := startedSession(t, e, 1)

	finish, err := e.ForceAdvance(ctx, s.ID, 1)
	require.NoError(t, err)
	require.True(t, finish)

	_, err = e.SubmitTurn(ctx, s.ID, RoleAutomated, "too late", false, nil)
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = e.SubmitGuess(s.ID, RoleHuman, "too late")
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = e.ForceAdvance(ctx, s.ID, 1)
	assert.ErrorIs(t, err, ErrInvalidState)

	got, _ := e.GetSession(s.ID)
	assert.Empty(t, got.Entries)
	assert.Empty(t, got.Guesses)
}

func TestForceAdvance(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(&stubOracle{})
	s := startedSession(t, e, 10)

	_, err := e.ForceAdvance(ctx, s.ID, 3)
	assert.ErrorIs(t, err, ErrInvalidState, "stale turn")

	finish, err := e.ForceAdvance(ctx, s.ID, 1)
	require.NoError(t, err)
	assert.False(t, finish)
	got, _ := e.GetSession(s.ID)
	assert.Equal(t, 2, got.CurrentTurn)
	assert.Empty(t, got.Entries, "skipped turn records nothing")

	_, err = e.SubmitTurn(ctx, s.ID, RoleHuman, "in time", false, nil)
	require.NoError(t, err)
	_, err = e.ForceAdvance(ctx, s.ID, 2)
	assert.ErrorIs(t, err, ErrInvalidState, "turn already has an entry")
}

func TestCancelSession(t *testing.T) {
	ctx := context.Background()
	timer := &recordingTimer{}
	e := newTestEngine(&stubOracle{}, WithTimer(timer))

	waiting, err := e.CreateSession(SessionConfig{})
	require.NoError(t, err)
	require.NoError(t, e.CancelSession(ctx, waiting.ID))

	s := startedSession(t, e, 10)
	require.NoError(t, e.CancelSession(ctx, s.ID))
	got, _ := e.GetSession(s.ID)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.NotNil(t, got.FinishedAt)

	assert.ErrorIs(t, e.CancelSession(ctx, s.ID), ErrInvalidState)
	_, err = e.SubmitTurn(ctx, s.ID, RoleAutomated, "late", false, nil)
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = e.SubmitGuess(s.ID, RoleHuman, "late")
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = e.AdvanceTurn(ctx, s.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = e.Finalize(ctx, s.ID)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, 2, timer.cancels)
}

func TestTimerFailureDoesNotFailMutation(t *testing.T) {
	timer := &recordingTimer{err: errors.New("redis down")}
	e := newTestEngine(&stubOracle{}, WithTimer(timer))
	s := startedSession(t, e, 10)
	assert.Equal(t, StatusInProgress, s.Status)
}

func TestGetSessionReturnsSnapshot(t *testing.T) {
	e := newTestEngine(&stubOracle{})
	s := startedSession(t, e, 10)

	s.Participants[0].Score = 99
	s.Entries = append(s.Entries, StoryEntry{Turn: 1})

	got, err := e.GetSession(s.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Participants[0].Score)
	assert.Empty(t, got.Entries)
}

func TestSessionsFilter(t *testing.T) {
	e := newTestEngine(&stubOracle{})
	startedSession(t, e, 10)
	_, err := e.CreateSession(SessionConfig{})
	require.NoError(t, err)

	assert.Len(t, e.Sessions(), 2)
	assert.Len(t, e.Sessions(StatusInProgress), 1)
	assert.Len(t, e.Sessions(StatusWaiting, StatusInProgress), 2)
	assert.Empty(t, e.Sessions(StatusFinished))
}

func TestConcurrentGuessesAreSerialized(t *testing.T) {
	e := newTestEngine(&stubOracle{})
	s := startedSession(t, e, 10)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			role := RoleHuman
			if i%2 == 0 {
				role = RoleAutomated
			}
			_, err := e.SubmitGuess(s.ID, role, "nope")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := e.GetSession(s.ID)
	require.NoError(t, err)
	requireLedgerConsistent(t, got)
	assert.Len(t, got.Guesses, 2*InitialGuesses)
	for _, p := range got.Participants {
		assert.Equal(t, 0, p.GuessesRemaining)
		assert.Equal(t, InitialGuesses*PointsGuessWrong, p.Score)
	}
}
