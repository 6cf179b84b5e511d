package middleware

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"duplex-rpc/message"
)

// Recover turns a panicking handler into an error for that message.
func Recover(log *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Inbound) (resps []any, err error) {
			defer func() {
				if x := recover(); x != nil {
					log.Error("handler panic",
						zap.String("method", req.Method),
						zap.Uint64("seq", req.Seq),
						zap.Any("panic", x),
						zap.ByteString("stack", debug.Stack()))
					resps, err = nil, fmt.Errorf("run time panic: %v", x)
				}
			}()
			return next(ctx, req)
		}
	}
}
