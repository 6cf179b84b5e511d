package middleware

import (
	"context"

	"duplex-rpc/message"
)

// HandlerFunc handles one inbound message and returns the responses it
// produced, in the order they are to be written.
type HandlerFunc func(ctx context.Context, req *message.Inbound) ([]any, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares so the first one is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
