package game

import (
	"time"
)

type Status string

const (
	StatusWaiting    Status = "WAITING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusFinished   Status = "FINISHED"
	StatusCancelled  Status = "CANCELLED"
)

type Role string

const (
	RoleHuman     Role = "HUMAN"
	RoleAutomated Role = "AUTOMATED"
)

// Opponent returns the other role of a two-participant session.
func (r Role) Opponent() Role {
	if r == RoleHuman {
		return RoleAutomated
	}
	return RoleHuman
}

type Genre string

const (
	GenreRomance  Genre = "ROMANCE"
	GenreThriller Genre = "THRILLER"
	GenreComedy   Genre = "COMEDY"
	GenreSF       Genre = "SF"
	GenreFantasy  Genre = "FANTASY"
	GenreMystery  Genre = "MYSTERY"
)

// Genres is the fixed genre enumeration in declaration order.
var Genres = []Genre{GenreRomance, GenreThriller, GenreComedy, GenreSF, GenreFantasy, GenreMystery}

func (g Genre) Valid() bool {
	for _, known := range Genres {
		if g == known {
			return true
		}
	}
	return false
}

type Difficulty string

const (
	DifficultyEasy   Difficulty = "EASY"
	DifficultyNormal Difficulty = "NORMAL"
	DifficultyHard   Difficulty = "HARD"
)

func (d Difficulty) Valid() bool {
	return d == DifficultyEasy || d == DifficultyNormal || d == DifficultyHard
}

type KeywordStatus string

const (
	KeywordPending  KeywordStatus = "PENDING"
	KeywordUsed     KeywordStatus = "USED"
	KeywordDigested KeywordStatus = "DIGESTED"
	KeywordCaught   KeywordStatus = "CAUGHT"
)

type ScoreKind string

const (
	ScoreGuessCorrect  ScoreKind = "GUESS_CORRECT"
	ScoreGuessWrong    ScoreKind = "GUESS_WRONG"
	ScoreDigestSuccess ScoreKind = "DIGEST_SUCCESS"
	ScoreGenreWin      ScoreKind = "GENRE_WIN"
	ScoreGenreBonus    ScoreKind = "GENRE_BONUS"
)

// Points awarded per score kind.
const (
	PointsGuessCorrect  = 5
	PointsGuessWrong    = -1
	PointsDigestSuccess = 2
	PointsGenreWin      = 10
	PointsGenreBonus    = 5

	// GenreBonusThreshold is the final genre score at or above which a genre
	// win also earns GENRE_BONUS.
	GenreBonusThreshold = 70.0
)

type Winner string

const (
	WinnerHuman     Winner = "HUMAN"
	WinnerAutomated Winner = "AUTOMATED"
	WinnerDraw      Winner = "DRAW"
)

// InitialGuesses is the number of guesses each participant starts with.
const InitialGuesses = 3

// Session bounds accepted by CreateSession.
const (
	MinTurns         = 5
	MaxTurns         = 20
	MinTurnTimeLimit = 30
	MaxTurnTimeLimit = 180

	DefaultMaxTurns      = 10
	DefaultTurnTimeLimit = 90
)

type SessionConfig struct {
	MaxTurns      int        `json:"maxTurns"`
	TurnTimeLimit int        `json:"turnTimeLimit"` // seconds
	Difficulty    Difficulty `json:"difficulty"`
}

// Keyword is an immutable catalog entry. TargetGenre is the genre the word
// is foreign to.
type Keyword struct {
	Word        string     `json:"word" yaml:"word"`
	TargetGenre Genre      `json:"targetGenre" yaml:"targetGenre"`
	Difficulty  Difficulty `json:"difficulty" yaml:"difficulty"`
}

type Participant struct {
	ID               string        `json:"id"`
	Role             Role          `json:"role"`
	SecretGenre      Genre         `json:"secretGenre"`
	Keyword          *Keyword      `json:"keyword,omitempty"`
	KeywordStatus    KeywordStatus `json:"keywordStatus"`
	GuessesRemaining int           `json:"guessesRemaining"`
	Score            int           `json:"score"`
	KeywordsUsed     int           `json:"keywordsUsed"`
	KeywordsDigested int           `json:"keywordsDigested"`
	CorrectGuesses   int           `json:"correctGuesses"`
	WrongGuesses     int           `json:"wrongGuesses"`
}

type StoryEntry struct {
	Turn      int       `json:"turn"`
	Author    *Role     `json:"author,omitempty"` // nil for the seed
	Content   string    `json:"content"`
	Keyword   *Keyword  `json:"keyword,omitempty"`
	TimeSpent *int      `json:"timeSpent,omitempty"` // seconds
	CreatedAt time.Time `json:"createdAt"`
}

type GuessAttempt struct {
	ParticipantID string    `json:"participantId"`
	Role          Role      `json:"role"`
	Turn          int       `json:"turn"`
	Word          string    `json:"word"`
	Correct       bool      `json:"correct"`
	CreatedAt     time.Time `json:"createdAt"`
}

type ScoreEvent struct {
	ID            string    `json:"id"`
	ParticipantID string    `json:"participantId"`
	Turn          int       `json:"turn"`
	Kind          ScoreKind `json:"kind"`
	Delta         int       `json:"delta"`
	Description   string    `json:"description"`
	CreatedAt     time.Time `json:"createdAt"`
}

type UnnaturalElement struct {
	Turn    int    `json:"turn"`
	Element string `json:"element"`
	Reason  string `json:"reason"`
}

type GameResult struct {
	HumanScore        int                `json:"humanScore"`
	AutomatedScore    int                `json:"automatedScore"`
	Winner            Winner             `json:"winner"`
	GenreRatios       map[Genre]int      `json:"genreRatios"`
	FinalGenreScores  map[Genre]float64  `json:"finalGenreScores"`
	QualityFactor     float64            `json:"qualityFactor"`
	PrimaryGenre      Genre              `json:"primaryGenre,omitempty"`
	UnnaturalElements []UnnaturalElement `json:"unnaturalElements"`
	CreatedAt         time.Time          `json:"createdAt"`
}

type Session struct {
	ID               string         `json:"id"`
	Status           Status         `json:"status"`
	MaxTurns         int            `json:"maxTurns"`
	TurnTimeLimit    int            `json:"turnTimeLimit"`
	Difficulty       Difficulty     `json:"difficulty"`
	CurrentTurn      int            `json:"currentTurn"`
	TurnsExhausted   bool           `json:"turnsExhausted"`
	InitialSituation string         `json:"initialSituation,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	FinishedAt       *time.Time     `json:"finishedAt,omitempty"`
	Participants     []*Participant `json:"participants"`
	Entries          []StoryEntry   `json:"entries"`
	Guesses          []GuessAttempt `json:"guesses"`
	Ledger           ScoreLedger    `json:"ledger"`
	Result           *GameResult    `json:"result,omitempty"`
	Version          int            `json:"version"`
}

// Participant returns the participant playing the given role, or nil.
func (s *Session) Participant(role Role) *Participant {
	for _, p := range s.Participants {
		if p.Role == role {
			return p
		}
	}
	return nil
}

// Entry returns the story entry recorded for turn, if any.
func (s *Session) Entry(turn int) (StoryEntry, bool) {
	for _, e := range s.Entries {
		if e.Turn == turn {
			return e, true
		}
	}
	return StoryEntry{}, false
}

// CurrentAuthor reports whose turn it is. Odd turns belong to the automated
// participant, even turns to the human.
func CurrentAuthor(s *Session) Role {
	if s.CurrentTurn%2 == 1 {
		return RoleAutomated
	}
	return RoleHuman
}

// clone returns a deep copy so a mutation can be applied and discarded on
// failure without touching the committed aggregate.
func (s *Session) clone() *Session {
	c := *s
	c.Participants = make([]*Participant, len(s.Participants))
	for i, p := range s.Participants {
		cp := *p
		c.Participants[i] = &cp
	}
	c.Entries = append([]StoryEntry(nil), s.Entries...)
	c.Guesses = append([]GuessAttempt(nil), s.Guesses...)
	c.Ledger = ScoreLedger{events: append([]ScoreEvent(nil), s.Ledger.events...)}
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		c.FinishedAt = &t
	}
	if s.Result != nil {
		r := s.Result.clone()
		c.Result = &r
	}
	return &c
}

func (r GameResult) clone() GameResult {
	c := r
	c.GenreRatios = make(map[Genre]int, len(r.GenreRatios))
	for g, v := range r.GenreRatios {
		c.GenreRatios[g] = v
	}
	c.FinalGenreScores = make(map[Genre]float64, len(r.FinalGenreScores))
	for g, v := range r.FinalGenreScores {
		c.FinalGenreScores[g] = v
	}
	c.UnnaturalElements = append([]UnnaturalElement(nil), r.UnnaturalElements...)
	return c
}

type TurnResult struct {
	Turn          int           `json:"turn"`
	Author        Role          `json:"author"`
	Content       string        `json:"content"`
	KeywordUsed   bool          `json:"keywordUsed"`
	KeywordStatus KeywordStatus `json:"keywordStatus"`
}

type GuessVerdict string

const (
	GuessCorrect   GuessVerdict = "CORRECT"
	GuessWrong     GuessVerdict = "WRONG"
	GuessNoChances GuessVerdict = "NO_CHANCES"
)

type GuessOutcome struct {
	Verdict          GuessVerdict `json:"verdict"`
	Guesser          Role         `json:"guesser"`
	Word             string       `json:"word,omitempty"`
	Points           int          `json:"points"`
	GuessesRemaining int          `json:"guessesRemaining"`
	TotalScore       int          `json:"totalScore"`
	// OpponentPending is set when the guess was charged because the opponent
	// had not used its keyword yet.
	OpponentPending bool   `json:"opponentPending,omitempty"`
	Message         string `json:"message"`
}
