package game

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ExportSession appends a human-readable transcript of a finished session
// to filename.
func ExportSession(s Session, filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	fileExists := false
	if st, err := os.Stat(filename); err == nil && st.Size() > 0 {
		fileExists = true
	}

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(Transcript(s, fileExists)); err != nil {
		return fmt.Errorf("failed to write to file: %w", err)
	}
	return nil
}

// Transcript renders the session as plain text. separate prefixes a blank
// gap for appending after an earlier transcript.
func Transcript(s Session, separate bool) string {
	var sb strings.Builder
	if separate {
		sb.WriteString("\n\n")
	}
	sb.WriteString(fmt.Sprintf("Doublecross Game - Session %s\n", s.ID))
	sb.WriteString(fmt.Sprintf("Created: %s\n", s.CreatedAt.Format("2006-01-02 15:04:05")))
	sb.WriteString(fmt.Sprintf("Status: %s, %d/%d turns, difficulty %s\n", s.Status, s.CurrentTurn, s.MaxTurns, s.Difficulty))
	sb.WriteString(strings.Repeat("=", 50) + "\n\n")

	sb.WriteString("Participants:\n")
	for _, p := range s.Participants {
		word := "-"
		if p.Keyword != nil {
			word = p.Keyword.Word
		}
		sb.WriteString(fmt.Sprintf("- %s: genre %s, keyword %q (%s), guesses left %d\n",
			p.Role, p.SecretGenre, word, p.KeywordStatus, p.GuessesRemaining))
	}
	sb.WriteString("\n")

	sb.WriteString("Story:\n")
	sb.WriteString(strings.Repeat("-", 40) + "\n")
	if s.InitialSituation != "" {
		sb.WriteString(fmt.Sprintf("[0] %s\n", s.InitialSituation))
	}
	for _, e := range s.Entries {
		author := "?"
		if e.Author != nil {
			author = string(*e.Author)
		}
		mark := ""
		if e.Keyword != nil {
			mark = fmt.Sprintf(" (keyword %q)", e.Keyword.Word)
		}
		sb.WriteString(fmt.Sprintf("[%d] %s: %s%s\n", e.Turn, author, e.Content, mark))
	}

	if len(s.Guesses) > 0 {
		sb.WriteString("\nGuesses:\n")
		for _, g := range s.Guesses {
			verdict := "wrong"
			if g.Correct {
				verdict = "correct"
			}
			sb.WriteString(fmt.Sprintf("- turn %d, %s guessed %q: %s\n", g.Turn, g.Role, g.Word, verdict))
		}
	}

	sb.WriteString("\nScores:\n")
	scores := make([]*Participant, len(s.Participants))
	copy(scores, s.Participants)
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })
	for _, p := range scores {
		sb.WriteString(fmt.Sprintf("- %s: %d points\n", p.Role, p.Score))
	}

	if r := s.Result; r != nil {
		sb.WriteString(fmt.Sprintf("\nWinner: %s (quality %.2f, primary genre %s)\n", r.Winner, r.QualityFactor, r.PrimaryGenre))
		for _, u := range r.UnnaturalElements {
			sb.WriteString(fmt.Sprintf("- unnatural at turn %d: %q, %s\n", u.Turn, u.Element, u.Reason))
		}
	}
	if s.FinishedAt != nil {
		sb.WriteString(fmt.Sprintf("Game ended at %s\n", s.FinishedAt.Format("2006-01-02 15:04:05")))
	}
	sb.WriteString(strings.Repeat("=", 50) + "\n")
	return sb.String()
}
