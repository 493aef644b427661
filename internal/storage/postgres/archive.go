// Package postgres archives finished games.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/kiliankoe/doublecross/internal/game"
)

const (
	insertGameQuery = `
		INSERT INTO games (id, status, max_turns, turn_time_limit, difficulty, initial_situation, created_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`
	insertParticipantQuery = `
		INSERT INTO game_participants (
			id, game_id, role, secret_genre, keyword, keyword_status, guesses_remaining,
			score, keywords_used, keywords_digested, correct_guesses, wrong_guesses
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	insertEntryQuery = `
		INSERT INTO story_entries (game_id, turn, author, content, keyword, time_spent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	insertScoreEventQuery = `
		INSERT INTO score_events (id, game_id, participant_id, turn, kind, delta, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	insertResultQuery = `
		INSERT INTO game_results (
			game_id, winner, human_score, automated_score, quality_factor, primary_genre,
			genre_ratios, final_genre_scores, unnatural_elements, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	recentResultsQuery = `
		SELECT g.id AS game_id, g.max_turns, g.difficulty, g.finished_at,
			r.winner, r.human_score, r.automated_score, r.quality_factor, r.primary_genre
		FROM game_results r
		JOIN games g ON g.id = r.game_id
		ORDER BY r.created_at DESC
		LIMIT $1`
)

// ResultSummary is one row of the recent results listing.
type ResultSummary struct {
	GameID         string     `db:"game_id" json:"gameId"`
	MaxTurns       int        `db:"max_turns" json:"maxTurns"`
	Difficulty     string     `db:"difficulty" json:"difficulty"`
	FinishedAt     *time.Time `db:"finished_at" json:"finishedAt,omitempty"`
	Winner         string     `db:"winner" json:"winner"`
	HumanScore     int        `db:"human_score" json:"humanScore"`
	AutomatedScore int        `db:"automated_score" json:"automatedScore"`
	QualityFactor  float64    `db:"quality_factor" json:"qualityFactor"`
	PrimaryGenre   string     `db:"primary_genre" json:"primaryGenre"`
}

type Archive struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

func NewArchive(pool *pgxpool.Pool, log zerolog.Logger) *Archive {
	return &Archive{pool: pool, log: log}
}

// Connect opens a pool and pings the database.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create postgres connection pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping postgres database: %w", err)
	}
	return pool, nil
}

// SaveFinished stores a finished session with its entries, ledger and
// result in one transaction. Saving the same game twice is a no-op.
func (a *Archive) SaveFinished(ctx context.Context, s game.Session) error {
	if s.Status != game.StatusFinished || s.Result == nil {
		return fmt.Errorf("archive session %s in status %s: %w", s.ID, s.Status, game.ErrInvalidState)
	}
	err := pgx.BeginFunc(ctx, a.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, insertGameQuery, s.ID, s.Status, s.MaxTurns, s.TurnTimeLimit,
			s.Difficulty, s.InitialSituation, s.CreatedAt, s.FinishedAt)
		if err != nil {
			return fmt.Errorf("insert game: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		batch := &pgx.Batch{}
		for _, p := range s.Participants {
			var word *string
			if p.Keyword != nil {
				word = &p.Keyword.Word
			}
			batch.Queue(insertParticipantQuery, p.ID, s.ID, p.Role, p.SecretGenre, word, p.KeywordStatus,
				p.GuessesRemaining, p.Score, p.KeywordsUsed, p.KeywordsDigested, p.CorrectGuesses, p.WrongGuesses)
		}
		for _, e := range s.Entries {
			author := ""
			if e.Author != nil {
				author = string(*e.Author)
			}
			var word *string
			if e.Keyword != nil {
				word = &e.Keyword.Word
			}
			batch.Queue(insertEntryQuery, s.ID, e.Turn, author, e.Content, word, e.TimeSpent, e.CreatedAt)
		}
		for _, ev := range s.Ledger.Events("") {
			batch.Queue(insertScoreEventQuery, ev.ID, s.ID, ev.ParticipantID, ev.Turn, ev.Kind, ev.Delta, ev.Description, ev.CreatedAt)
		}
		r := s.Result
		batch.Queue(insertResultQuery, s.ID, r.Winner, r.HumanScore, r.AutomatedScore, r.QualityFactor,
			r.PrimaryGenre, r.GenreRatios, r.FinalGenreScores, r.UnnaturalElements, r.CreatedAt)

		br := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("archive statement %d: %w", i, err)
			}
		}
		return br.Close()
	})
	if err != nil {
		a.log.Error().Err(err).Str("session", s.ID).Msg("failed to archive game")
		return err
	}
	a.log.Info().Str("session", s.ID).Str("winner", string(s.Result.Winner)).Msg("game archived")
	return nil
}

// RecentResults lists the latest archived results, newest first.
func (a *Archive) RecentResults(ctx context.Context, limit int) ([]ResultSummary, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	out := []ResultSummary{}
	if err := pgxscan.Select(ctx, a.pool, &out, recentResultsQuery, limit); err != nil {
		return nil, fmt.Errorf("failed to list recent results: %w", err)
	}
	return out, nil
}

func (a *Archive) Close() {
	a.pool.Close()
}
