package rpc

import (
	"context"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kkkkikiki/couponcodes/internal/logger"
)

// RequestIDHeader carries the request id. A caller supplied value is kept.
const RequestIDHeader = "X-Request-Id"

// NewLoggingInterceptor logs every unary call with its request id, duration and outcome.
func NewLoggingInterceptor(log *zap.Logger) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			if req.Spec().IsClient {
				return next(ctx, req)
			}

			requestID := req.Header().Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			reqLog := logger.WithRequestID(log, requestID).With(zap.String("procedure", req.Spec().Procedure))

			start := time.Now()
			resp, err := next(ctx, req)
			duration := time.Since(start)

			if err != nil {
				code := connect.CodeOf(err)
				fields := []zap.Field{
					zap.Duration("duration", duration),
					zap.String("code", code.String()),
					zap.Error(err),
				}
				if code == connect.CodeInternal || code == connect.CodeUnavailable {
					reqLog.Error("request failed", fields...)
				} else {
					reqLog.Info("request rejected", fields...)
				}
				return nil, err
			}

			resp.Header().Set(RequestIDHeader, requestID)
			reqLog.Info("request completed", zap.Duration("duration", duration))
			return resp, nil
		}
	}
}
