package executor

import (
	"context"
	"time"
)

// remaining returns the time left until ctx's deadline, falling back
// to a generous default when ctx carries no deadline (shouldn't happen
// in practice since Execute always wraps with WithTimeout).
func remaining(ctx context.Context) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d > 0 {
			return d
		}
		return 0
	}
	return 30 * time.Second
}

func timeAfter(d time.Duration) <-chan time.Time {
	return time.After(d)
}
