package game

import (
	"fmt"
	"time"
)

type GuessResolver struct {
	lifecycle *KeywordLifecycle
}

func NewGuessResolver(lifecycle *KeywordLifecycle) *GuessResolver {
	return &GuessResolver{lifecycle: lifecycle}
}

// Resolve evaluates a guess by guesser against the opponent's live keyword.
// It mutates s in place, so callers run it on a working copy and discard
// the copy if an error is returned.
func (gr *GuessResolver) Resolve(s *Session, r Rand, guesser Role, word string, now time.Time) (GuessOutcome, error) {
	me := s.Participant(guesser)
	opp := s.Participant(guesser.Opponent())
	if me == nil || opp == nil {
		return GuessOutcome{}, fmt.Errorf("participant %s: %w", guesser, ErrNotFound)
	}

	if me.GuessesRemaining <= 0 {
		return GuessOutcome{
			Verdict:          GuessNoChances,
			Guesser:          guesser,
			Word:             word,
			GuessesRemaining: 0,
			TotalScore:       me.Score,
			Message:          "no guesses remaining",
		}, nil
	}

	pending := opp.Keyword == nil || opp.KeywordStatus == KeywordPending
	if pending || word != opp.Keyword.Word {
		me.GuessesRemaining--
		me.WrongGuesses++
		desc := fmt.Sprintf("wrong guess %q", word)
		if pending {
			desc = fmt.Sprintf("guess %q before opponent used a keyword", word)
		}
		s.Ledger.AddScore(me, ScoreGuessWrong, PointsGuessWrong, s.CurrentTurn, desc, now)
		s.Guesses = append(s.Guesses, GuessAttempt{
			ParticipantID: me.ID,
			Role:          guesser,
			Turn:          s.CurrentTurn,
			Word:          word,
			Correct:       false,
			CreatedAt:     now,
		})
		msg := "wrong guess"
		if pending {
			msg = "opponent has not used a keyword yet"
		}
		return GuessOutcome{
			Verdict:          GuessWrong,
			Guesser:          guesser,
			Word:             word,
			Points:           PointsGuessWrong,
			GuessesRemaining: me.GuessesRemaining,
			TotalScore:       me.Score,
			OpponentPending:  pending,
			Message:          msg,
		}, nil
	}

	caught := *opp.Keyword
	gr.lifecycle.MarkCaught(opp)
	if _, err := gr.lifecycle.AssignNew(r, opp, me.SecretGenre, caught.Difficulty); err != nil {
		return GuessOutcome{}, fmt.Errorf("reassign keyword: %w", err)
	}
	me.CorrectGuesses++
	s.Ledger.AddScore(me, ScoreGuessCorrect, PointsGuessCorrect, s.CurrentTurn, fmt.Sprintf("caught keyword %q", caught.Word), now)
	s.Guesses = append(s.Guesses, GuessAttempt{
		ParticipantID: me.ID,
		Role:          guesser,
		Turn:          s.CurrentTurn,
		Word:          word,
		Correct:       true,
		CreatedAt:     now,
	})
	return GuessOutcome{
		Verdict:          GuessCorrect,
		Guesser:          guesser,
		Word:             word,
		Points:           PointsGuessCorrect,
		GuessesRemaining: me.GuessesRemaining,
		TotalScore:       me.Score,
		Message:          "correct guess",
	}, nil
}
