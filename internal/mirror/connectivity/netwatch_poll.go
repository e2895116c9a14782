package connectivity

import (
	"context"
	"time"
)

// pollLinks checks interface state every interval and calls fn on every
// up/down transition.
func pollLinks(ctx context.Context, interval time.Duration, fn func(up bool)) error {
	tracker := newLinkTracker(fn)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			tracker.check()
		}
	}
}
