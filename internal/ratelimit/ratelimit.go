package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var ErrRateLimited = errors.New("rate limited")

// Counter counts attempts per key in fixed windows. Incr returns the count
// for key including this attempt; the first attempt opens a window of the
// given length.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Limiter allows at most Max attempts per key in each Window.
type Limiter struct {
	Name    string
	Counter Counter
	Max     int64
	Window  time.Duration
	Logger  *slog.Logger
}

// Attempt records an attempt for key and returns ErrRateLimited once the
// window's budget is spent. A failing counter lets the attempt through.
func (l *Limiter) Attempt(ctx context.Context, key string) error {
	n, err := l.Counter.Incr(ctx, l.Name+":"+key, l.Window)
	if err != nil {
		if l.Logger != nil {
			l.Logger.Error("rate limit counter", "limiter", l.Name, "error", err)
		}
		return nil
	}
	if n > l.Max {
		return fmt.Errorf("%w: %s", ErrRateLimited, l.Name)
	}
	return nil
}
