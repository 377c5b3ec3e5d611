package trading

import (
	"context"
	"time"

	"github.com/alanyoungcy/tradecore/internal/domain"
)

// RetryPolicy bounds retries of transient I/O failures.
type RetryPolicy struct {
	Attempts int // total tries, at least 1
	Initial  time.Duration
	Max      time.Duration
}

// retry calls fn until it succeeds, fails with a non-transient error, or the
// attempts run out. The delay doubles up to Max.
func retry[T any](ctx context.Context, p RetryPolicy, fn func(context.Context) (T, error)) (T, error) {
	attempts := max(p.Attempts, 1)
	delay := p.Initial
	var (
		out T
		err error
	)
	for i := 0; i < attempts; i++ {
		out, err = fn(ctx)
		if err == nil || !domain.IsTransient(err) || i == attempts-1 {
			return out, err
		}
		if delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return out, ctx.Err()
			case <-t.C:
			}
			delay *= 2
			if p.Max > 0 && delay > p.Max {
				delay = p.Max
			}
		}
	}
	return out, err
}
