package middleware

import (
	"context"
	"errors"
	"time"

	"duplex-rpc/message"
)

var ErrTimeout = errors.New("request timed out")

// Timeout bounds the time spent on one message. The handler keeps running in
// the background when it ignores ctx, but its result is discarded.
func Timeout(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Inbound) ([]any, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			type result struct {
				resps []any
				err   error
			}
			done := make(chan result, 1)
			go func() {
				resps, err := next(ctx, req)
				done <- result{resps, err}
			}()

			select {
			case r := <-done:
				return r.resps, r.err
			case <-ctx.Done():
				return nil, ErrTimeout
			}
		}
	}
}
