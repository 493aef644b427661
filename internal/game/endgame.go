package game

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Quality factor bounds accepted from a judgment.
const (
	MinQualityFactor = 0.4
	MaxQualityFactor = 1.0
)

type EndGameResolver struct {
	lifecycle *KeywordLifecycle
}

func NewEndGameResolver(lifecycle *KeywordLifecycle) *EndGameResolver {
	return &EndGameResolver{lifecycle: lifecycle}
}

// Narrative joins the seed and every story entry in turn order.
func Narrative(s *Session) string {
	parts := make([]string, 0, len(s.Entries)+1)
	if s.InitialSituation != "" {
		parts = append(parts, s.InitialSituation)
	}
	for _, e := range s.Entries {
		parts = append(parts, e.Content)
	}
	return strings.TrimSpace(strings.Join(parts, "\n\n"))
}

// Resolve judges the narrative and settles the end-of-game scores. Like the
// guess resolver it mutates s, so it must run on a working copy.
func (er *EndGameResolver) Resolve(ctx context.Context, s *Session, oracle Oracle, now time.Time) (GameResult, error) {
	j, err := oracle.Judge(ctx, Narrative(s))
	if err != nil {
		if errors.Is(err, ErrOracleResponseInvalid) || errors.Is(err, ErrOracleUnavailable) {
			return GameResult{}, fmt.Errorf("judge: %w", err)
		}
		return GameResult{}, fmt.Errorf("judge: %w: %v", ErrOracleUnavailable, err)
	}
	if err := ValidateJudgment(j); err != nil {
		return GameResult{}, err
	}

	human := s.Participant(RoleHuman)
	auto := s.Participant(RoleAutomated)
	turn := s.CurrentTurn

	for _, p := range []*Participant{human, auto} {
		if p.KeywordStatus != KeywordUsed {
			continue
		}
		word := p.Keyword.Word
		if er.lifecycle.MarkDigested(p) {
			s.Ledger.AddScore(p, ScoreDigestSuccess, PointsDigestSuccess, turn, fmt.Sprintf("digested keyword %q", word), now)
		}
	}

	final := make(map[Genre]float64, len(j.GenreRatios))
	for g, ratio := range j.GenreRatios {
		final[g] = float64(ratio) * j.QualityFactor
	}
	hs := final[human.SecretGenre]
	as := final[auto.SecretGenre]
	switch {
	case hs > as:
		awardGenre(s, human, hs, turn, now)
	case as > hs:
		awardGenre(s, auto, as, turn, now)
	}

	result := GameResult{
		HumanScore:        s.Ledger.Total(human.ID),
		AutomatedScore:    s.Ledger.Total(auto.ID),
		Winner:            decideWinner(s.Ledger.Total(human.ID), s.Ledger.Total(auto.ID)),
		GenreRatios:       copyRatios(j.GenreRatios),
		FinalGenreScores:  final,
		QualityFactor:     j.QualityFactor,
		PrimaryGenre:      j.PrimaryGenre,
		UnnaturalElements: append([]UnnaturalElement{}, j.UnnaturalElements...),
		CreatedAt:         now,
	}
	s.Result = &result
	s.Status = StatusFinished
	finished := now
	s.FinishedAt = &finished
	return result.clone(), nil
}

// ValidateJudgment rejects ratios outside 0..100, unknown genres and a
// quality factor outside [0.4, 1.0].
func ValidateJudgment(j Judgment) error {
	if j.QualityFactor < MinQualityFactor || j.QualityFactor > MaxQualityFactor {
		return fmt.Errorf("quality factor %v out of range: %w", j.QualityFactor, ErrOracleResponseInvalid)
	}
	for g, ratio := range j.GenreRatios {
		if !g.Valid() {
			return fmt.Errorf("unknown genre %q: %w", g, ErrOracleResponseInvalid)
		}
		if ratio < 0 || ratio > 100 {
			return fmt.Errorf("genre %s ratio %d out of range: %w", g, ratio, ErrOracleResponseInvalid)
		}
	}
	return nil
}

func awardGenre(s *Session, p *Participant, score float64, turn int, now time.Time) {
	s.Ledger.AddScore(p, ScoreGenreWin, PointsGenreWin, turn, fmt.Sprintf("genre %s won with %.1f", p.SecretGenre, score), now)
	if score >= GenreBonusThreshold {
		s.Ledger.AddScore(p, ScoreGenreBonus, PointsGenreBonus, turn, fmt.Sprintf("genre %s dominated with %.1f", p.SecretGenre, score), now)
	}
}

func decideWinner(human, automated int) Winner {
	switch {
	case human > automated:
		return WinnerHuman
	case automated > human:
		return WinnerAutomated
	default:
		return WinnerDraw
	}
}

func copyRatios(in map[Genre]int) map[Genre]int {
	out := make(map[Genre]int, len(in))
	for g, v := range in {
		out[g] = v
	}
	return out
}
