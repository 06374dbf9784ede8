package ratelimit

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/lehigh-university-libraries/autotagger/internal/providers"
)

// Provider throttles calls to a wrapped provider to a fixed request rate.
// Callers over the limit wait for their turn instead of failing, so a busy
// batch never surfaces a rate limit error.
type Provider struct {
	next    providers.Provider
	limiter *rate.Limiter
}

// Wrap returns next throttled to requestsPerSecond. A burst of 1 keeps calls
// evenly spaced. A non-positive rate disables throttling.
func Wrap(next providers.Provider, requestsPerSecond float64) providers.Provider {
	if requestsPerSecond <= 0 {
		return next
	}
	return &Provider{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}
}

// Name returns the wrapped provider's name.
func (p *Provider) Name() string {
	return p.next.Name()
}

// Detect waits for a token and then delegates to the wrapped provider.
func (p *Provider) Detect(ctx context.Context, file string, hints providers.Hints) (*providers.Response, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for %s rate limit: %w", p.next.Name(), err)
	}
	return p.next.Detect(ctx, file, hints)
}
