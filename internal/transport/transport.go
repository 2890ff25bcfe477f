// internal/transport/transport.go
package transport

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/xkilldash9x/scalpel-replay/api/schemas"
)

// Sentinel errors wrapped by every transport here.
var (
	ErrTabNotFound   = schemas.ErrTabNotFound
	ErrFrameNotFound = schemas.ErrFrameNotFound
)

// Compile-time checks.
var (
	_ schemas.Transport = (*SnapshotTransport)(nil)
	_ schemas.Transport = (*CDPTransport)(nil)
	_ schemas.Transport = (*rateLimited)(nil)
)

// NewLimiter builds a limiter for WithRateLimit. A non-positive rate means
// unlimited.
func NewLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

type rateLimited struct {
	next    schemas.Transport
	limiter *rate.Limiter
}

// WithRateLimit wraps t so every message and frame listing waits on limiter
// first. A nil limiter returns t unchanged.
func WithRateLimit(t schemas.Transport, limiter *rate.Limiter) schemas.Transport {
	if limiter == nil {
		return t
	}
	return &rateLimited{next: t, limiter: limiter}
}

func (r *rateLimited) SendMessage(ctx context.Context, tabID int, msg schemas.ProbeRequest, opts schemas.SendOptions) (*schemas.ProbeResponse, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for transport rate limit: %w", err)
	}
	return r.next.SendMessage(ctx, tabID, msg, opts)
}

func (r *rateLimited) GetAllFrames(ctx context.Context, tabID int) ([]schemas.FrameInfo, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for transport rate limit: %w", err)
	}
	return r.next.GetAllFrames(ctx, tabID)
}
