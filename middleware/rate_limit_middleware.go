package middleware

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"duplex-rpc/message"
)

var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimit rejects messages beyond a token bucket of r per second with the
// given burst. The bucket is shared by every stream the chain serves.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Inbound) ([]any, error) {
			if !limiter.Allow() {
				return nil, ErrRateLimited
			}
			return next(ctx, req)
		}
	}
}
