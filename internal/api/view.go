package api

import (
	"time"

	"github.com/kiliankoe/doublecross/internal/game"
)

// PlayerView is a session as the human player may see it. The automated
// side's genre and keyword stay hidden until the game is over.
type PlayerView struct {
	ID               string           `json:"id"`
	Status           game.Status      `json:"status"`
	MaxTurns         int              `json:"maxTurns"`
	TurnTimeLimit    int              `json:"turnTimeLimit"`
	Difficulty       game.Difficulty  `json:"difficulty"`
	CurrentTurn      int              `json:"currentTurn"`
	TurnsExhausted   bool             `json:"turnsExhausted"`
	CurrentAuthor    game.Role        `json:"currentAuthor,omitempty"`
	InitialSituation string           `json:"initialSituation,omitempty"`
	Entries          []EntryView      `json:"entries"`
	You              ParticipantView  `json:"you"`
	Opponent         ParticipantView  `json:"opponent"`
	Result           *game.GameResult `json:"result,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
	FinishedAt       *time.Time       `json:"finishedAt,omitempty"`
}

type EntryView struct {
	Turn    int        `json:"turn"`
	Author  *game.Role `json:"author,omitempty"`
	Content string     `json:"content"`
}

type ParticipantView struct {
	Role             game.Role          `json:"role"`
	SecretGenre      game.Genre         `json:"secretGenre,omitempty"`
	Keyword          string             `json:"keyword,omitempty"`
	KeywordStatus    game.KeywordStatus `json:"keywordStatus,omitempty"`
	GuessesRemaining int                `json:"guessesRemaining"`
	Score            int                `json:"score"`
}

func NewPlayerView(s game.Session) PlayerView {
	v := PlayerView{
		ID:               s.ID,
		Status:           s.Status,
		MaxTurns:         s.MaxTurns,
		TurnTimeLimit:    s.TurnTimeLimit,
		Difficulty:       s.Difficulty,
		CurrentTurn:      s.CurrentTurn,
		TurnsExhausted:   s.TurnsExhausted,
		InitialSituation: s.InitialSituation,
		Entries:          make([]EntryView, 0, len(s.Entries)),
		Result:           s.Result,
		CreatedAt:        s.CreatedAt,
		FinishedAt:       s.FinishedAt,
	}
	if s.Status == game.StatusInProgress && !s.TurnsExhausted {
		v.CurrentAuthor = game.CurrentAuthor(&s)
	}
	for _, e := range s.Entries {
		v.Entries = append(v.Entries, EntryView{Turn: e.Turn, Author: e.Author, Content: e.Content})
	}
	reveal := s.Status == game.StatusFinished || s.Status == game.StatusCancelled
	if p := s.Participant(game.RoleHuman); p != nil {
		v.You = participantView(p, true)
	}
	if p := s.Participant(game.RoleAutomated); p != nil {
		v.Opponent = participantView(p, reveal)
	}
	return v
}

func participantView(p *game.Participant, secrets bool) ParticipantView {
	v := ParticipantView{Role: p.Role, GuessesRemaining: p.GuessesRemaining, Score: p.Score}
	if secrets {
		v.SecretGenre = p.SecretGenre
		v.KeywordStatus = p.KeywordStatus
		if p.Keyword != nil {
			v.Keyword = p.Keyword.Word
		}
	}
	return v
}
