package utils

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/metalxalloy/axionarb/config"
)

// RPCLimiter throttles outbound RPC calls. Wait is bounded by the configured
// timeout so a starved limiter surfaces as an error instead of stalling the
// pipeline.
type RPCLimiter struct {
	limiter *rate.Limiter
	timeout time.Duration
}

// NewRPCLimiter builds a limiter from the rate-limit config.
func NewRPCLimiter(cfg config.RateLimitConfig) *RPCLimiter {
	return &RPCLimiter{
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.BurstSize),
		timeout: cfg.WaitTimeout,
	}
}

// Wait blocks until a token is available, the wait timeout elapses or ctx is
// cancelled.
func (l *RPCLimiter) Wait(ctx context.Context) error {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	return l.limiter.Wait(ctx)
}
