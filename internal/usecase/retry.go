package usecase

import (
	"context"
	"time"

	"Trape/internal/domain/models"
	applogger "Trape/pkg/logger"
)

type retryPolicy struct {
	attempts int
	backoff  time.Duration
}

// do runs fn up to p.attempts times. Every failed attempt is logged at warn
// level as "<what> attempt failed"; exhaustion returns a KindRetryExhausted
// error wrapping the last failure.
func (p retryPolicy) do(ctx context.Context, l *applogger.Logger, op, what string, fields []applogger.Field, fn func(context.Context) error) error {
	attempts := p.attempts
	if attempts < 1 {
		attempts = 1
	}
	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if last = fn(ctx); last == nil {
			return nil
		}
		l.Warn(what+" attempt failed", append(fields[:len(fields):len(fields)],
			applogger.String("op", op),
			applogger.Int("attempt", attempt),
			applogger.Int("max_attempts", attempts),
			applogger.Error(last))...)
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return models.NewError(models.KindRetryExhausted, op, ctx.Err())
		case <-time.After(p.backoff * time.Duration(attempt)):
		}
	}
	return models.NewError(models.KindRetryExhausted, op, last)
}
