package providers

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Limited wraps a Provider with a token bucket gate, grounded on the
// teacher's per-channel WebhookRateLimiter (internal/channels/ratelimit.go)
// but rendered with golang.org/x/time/rate since §5 calls this "a token
// bucket in front of each variant" rather than a sliding window.
type Limited struct {
	Provider
	limiter *rate.Limiter
}

// NewLimited wraps p with a limiter allowing rps requests/sec, bursting up
// to burst. A non-positive rps disables limiting (direct passthrough).
func NewLimited(p Provider, rps float64, burst int) Provider {
	if rps <= 0 {
		return p
	}
	return &Limited{Provider: p, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (l *Limited) Complete(ctx context.Context, req CompleteRequest) (*CompleteResponse, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: rate limit wait: %w", l.Provider.Name(), err)
	}
	return l.Provider.Complete(ctx, req)
}
