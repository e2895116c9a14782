//go:build !linux

package connectivity

import (
	"context"
	"time"
)

func watchLinks(ctx context.Context, poll time.Duration, fn func(up bool)) error {
	return pollLinks(ctx, poll, fn)
}
