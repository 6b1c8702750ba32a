package util

import (
	"context"
	"log/slog"
	"time"
)

// Retry runs fn up to max+1 times with doubling backoff. It is meant for
// startup dials (RPC endpoint, database); the scan loop itself never retries
// beyond its poll interval.
func Retry(ctx context.Context, logger *slog.Logger, name string, max int, backoff time.Duration, fn func() error) error {
	var err error
	for attempt := 0; attempt <= max; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err = fn()
		if err == nil {
			return nil
		}
		if attempt == max {
			break
		}
		wait := backoff * time.Duration(1<<attempt)
		logger.Warn("retrying", "op", name, "attempt", attempt+1, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return err
}
