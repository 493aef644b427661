package game

import "context"

// Oracle is the narrative collaborator: it writes the automated side's
// prose, judges a finished story and estimates the opponent's keyword.
type Oracle interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error)
	Judge(ctx context.Context, narrative string) (Judgment, error)
	Suspect(ctx context.Context, req SuspectRequest) (Suspicion, error)
}

type GenerateRequest struct {
	SecretGenre    Genre         `json:"secretGenre"`
	KeywordText    string        `json:"keywordText"`
	KeywordStatus  KeywordStatus `json:"keywordStatus"`
	Turn           int           `json:"turn"`
	MaxTurns       int           `json:"maxTurns"`
	PriorEntries   []StoryEntry  `json:"priorEntries"`
	MustUseKeyword bool          `json:"mustUseKeyword"`
}

type GenerateResponse struct {
	Content     string  `json:"content"`
	KeywordUsed bool    `json:"keywordUsed"`
	BluffWord   *string `json:"bluffWord"`
}

type Judgment struct {
	GenreRatios       map[Genre]int      `json:"genreRatios"`
	QualityFactor     float64            `json:"qualityFactor"`
	UnnaturalElements []UnnaturalElement `json:"unnaturalElements"`
	PrimaryGenre      Genre              `json:"primaryGenre"`
}

type SuspectRequest struct {
	OwnGenre           Genre  `json:"ownGenre"`
	OpponentGenreGuess *Genre `json:"opponentGenreGuess"`
	GuessesRemaining   int    `json:"guessesRemaining"`
	Turn               int    `json:"turn"`
	MaxTurns           int    `json:"maxTurns"`
	FullText           string `json:"fullText"`
	OpponentOnlyText   string `json:"opponentOnlyText"`
}

type Decision string

const (
	DecisionGuess Decision = "GUESS"
	DecisionPass  Decision = "PASS"
)

type SuspiciousWord struct {
	Turn   int    `json:"turn"`
	Word   string `json:"word"`
	Level  int    `json:"suspicionLevel"`
	Reason string `json:"reason"`
}

type Suspicion struct {
	Decision        Decision         `json:"decision"`
	GuessWord       *string          `json:"guessWord"`
	Confidence      int              `json:"confidence"`
	SuspiciousWords []SuspiciousWord `json:"suspiciousWords"`
}

// Timer tracks one countdown per session. Expiry is only reported; acting on
// it is up to the caller.
type Timer interface {
	Start(ctx context.Context, sessionID string, seconds int) error
	Cancel(ctx context.Context, sessionID string) error
	RemainingSeconds(ctx context.Context, sessionID string) (int, error)
	IsExpired(ctx context.Context, sessionID string) (bool, error)
}

// SeedSource supplies the opening situation of a story.
type SeedSource interface {
	Situation(r Rand) string
}

type noopTimer struct{}

func (noopTimer) Start(context.Context, string, int) error              { return nil }
func (noopTimer) Cancel(context.Context, string) error                  { return nil }
func (noopTimer) RemainingSeconds(context.Context, string) (int, error) { return 0, nil }
func (noopTimer) IsExpired(context.Context, string) (bool, error)       { return false, nil }
