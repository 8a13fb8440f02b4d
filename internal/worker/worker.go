package worker

import (
	"context"
	"time"
)

// loop runs fn at every interval tick, and once immediately, until ctx is cancelled.
func loop(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	fn(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}
