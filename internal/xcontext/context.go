package xcontext

import (
	"context"
	"time"
)

// DetachWithTimeout derives a context that survives cancellation of its
// parent but still carries its values, bounded by the given timeout. Used for
// fire-and-forget work (e.g. async audit delivery) that must not die with the
// request that spawned it.
func DetachWithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	ctx, cancel := context.WithTimeout(ctx, timeout)

	return ctx, cancel
}
