package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"duplex-rpc/message"
)

func Logging(log *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Inbound) ([]any, error) {
			start := time.Now()
			resps, err := next(ctx, req)
			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.Uint32("stream", req.StreamID),
				zap.Uint64("seq", req.Seq),
				zap.Int("responses", len(resps)),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				log.Debug("message failed", append(fields, zap.Error(err))...)
			} else {
				log.Debug("message handled", fields...)
			}
			return resps, err
		}
	}
}
