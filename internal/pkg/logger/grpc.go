package logger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// UnaryServerInterceptor logs each unary call; methods in skip are passed through silently
func UnaryServerInterceptor(logger *Logger, skip ...string) grpc.UnaryServerInterceptor {
	skipped := make(map[string]struct{}, len(skip))
	for _, m := range skip {
		skipped[m] = struct{}{}
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if _, ok := skipped[info.FullMethod]; ok {
			return handler(ctx, req)
		}

		requestID := incomingRequestID(ctx)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx = WithRequestID(ctx, requestID)

		start := time.Now()
		resp, err := handler(ctx, req)
		st, _ := status.FromError(err)

		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", info.FullMethod),
			zap.String("code", st.Code().String()),
			zap.Duration("latency", time.Since(start)),
		}
		switch st.Code() {
		case codes.OK:
			logger.Debug("gRPC call", fields...)
		case codes.Canceled, codes.DeadlineExceeded, codes.NotFound:
			logger.Warn("gRPC call", fields...)
		default:
			logger.Error("gRPC call", append(fields, zap.String("message", st.Message()))...)
		}
		return resp, err
	}
}

// RecoveryInterceptor converts a handler panic into codes.Internal
func RecoveryInterceptor(logger *Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("gRPC panic recovered",
					zap.String("method", info.FullMethod),
					zap.Any("error", rec),
					zap.Stack("stacktrace"),
				)
				err = status.Error(codes.Internal, fmt.Sprintf("internal error: %v", rec))
			}
		}()
		return handler(ctx, req)
	}
}

func incomingRequestID(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get("x-request-id"); len(v) > 0 {
		return v[0]
	}
	return ""
}
