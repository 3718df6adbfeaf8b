package runner

import (
	"context"

	"golang.org/x/time/rate"
)

// roundPacer spaces round dispatches using a rate.Limiter.
type roundPacer struct {
	limiter *rate.Limiter
}

func newRoundPacer(opt Options) *roundPacer {
	return &roundPacer{limiter: opt.LimiterFactory(opt.InterRoundDelay)}
}

// Wait blocks until the next round may be dispatched or ctx ends.
func (p *roundPacer) Wait(ctx context.Context) error {
	if p == nil || p.limiter == nil {
		return ctx.Err()
	}
	return p.limiter.Wait(ctx)
}
