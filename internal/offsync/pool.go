package offsync

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
)

// runPool calls fn for every record on at most workers goroutines and waits for all of
// them. fn reports per-record failures on the record itself; the only error returned
// here is cancellation.
func runPool(ctx context.Context, workers int, records []*UpdateRecord, fn func(ctx context.Context, r *UpdateRecord)) error {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, r := range records {
		if gctx.Err() != nil {
			break
		}
		r := r
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fn(gctx, r)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// RetryPolicy retries a failing operation with exponential backoff.
type RetryPolicy struct {
	// Attempts is the number of retries after the first try.
	Attempts int
	Delay    time.Duration
}

const maxRetryDelay = 30 * time.Second

func (p RetryPolicy) do(ctx context.Context, fn func() error) error {
	delay := p.Delay
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return err
		}
		if attempt >= p.Attempts {
			if attempt > 0 {
				return fmt.Errorf("giving up after %d attempts: %w", attempt+1, err)
			}
			return err
		}
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			delay = min(delay*2, maxRetryDelay)
		}
	}
}
