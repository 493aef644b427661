package oracle

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/kiliankoe/doublecross/internal/game"
)

const (
	defaultRetryAttempts = 3
	defaultBaseDelay     = 500 * time.Millisecond
)

// Retrying wraps an Oracle with exponential backoff. Only unavailable and
// invalid-response failures are retried.
type Retrying struct {
	inner       game.Oracle
	log         zerolog.Logger
	maxAttempts int
	baseDelay   time.Duration
}

// NewRetrying wraps inner. Non-positive maxAttempts or baseDelay use the
// defaults.
func NewRetrying(inner game.Oracle, log zerolog.Logger, maxAttempts int, baseDelay time.Duration) *Retrying {
	if maxAttempts <= 0 {
		maxAttempts = defaultRetryAttempts
	}
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}
	return &Retrying{inner: inner, log: log, maxAttempts: maxAttempts, baseDelay: baseDelay}
}

var _ game.Oracle = (*Retrying)(nil)

func (r *Retrying) Generate(ctx context.Context, req game.GenerateRequest) (game.GenerateResponse, error) {
	var out game.GenerateResponse
	err := r.do(ctx, "generate", func() error {
		var err error
		out, err = r.inner.Generate(ctx, req)
		return err
	})
	return out, err
}

func (r *Retrying) Judge(ctx context.Context, narrative string) (game.Judgment, error) {
	var out game.Judgment
	err := r.do(ctx, "judge", func() error {
		var err error
		out, err = r.inner.Judge(ctx, narrative)
		return err
	})
	return out, err
}

func (r *Retrying) Suspect(ctx context.Context, req game.SuspectRequest) (game.Suspicion, error) {
	var out game.Suspicion
	err := r.do(ctx, "suspect", func() error {
		var err error
		out, err = r.inner.Suspect(ctx, req)
		return err
	})
	return out, err
}

func (r *Retrying) do(ctx context.Context, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.baseDelay
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.maxAttempts-1)), ctx)

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		err := fn()
		if err != nil && !Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, next time.Duration) {
		r.log.Warn().Err(err).Str("operation", op).Int("attempt", attempt).
			Int("max_attempts", r.maxAttempts).Dur("backoff", next).Msg("oracle retry")
	})
}

// Retryable reports whether a failed oracle call is worth repeating.
func Retryable(err error) bool {
	return errors.Is(err, game.ErrOracleUnavailable) || errors.Is(err, game.ErrOracleResponseInvalid)
}
