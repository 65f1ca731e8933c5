package grpcserver

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"spotex/domain/errs"
)

var grpcCodes = map[errs.Code]codes.Code{
	errs.CodeInvalidQuantity:           codes.InvalidArgument,
	errs.CodeInvalidPrice:              codes.InvalidArgument,
	errs.CodeInvalidStop:               codes.InvalidArgument,
	errs.CodeUnknownOrderKind:          codes.InvalidArgument,
	errs.CodeMinOrderSize:              codes.InvalidArgument,
	errs.CodeMaxOrderCost:              codes.InvalidArgument,
	errs.CodePriceDeviation:            codes.InvalidArgument,
	errs.CodePairDisabled:              codes.FailedPrecondition,
	errs.CodeCurrencyDisabled:          codes.FailedPrecondition,
	errs.CodeExchangeDisabled:          codes.FailedPrecondition,
	errs.CodeOTCOrdersDisabled:         codes.FailedPrecondition,
	errs.CodeAutoOrdersDisabledForUser: codes.PermissionDenied,
	errs.CodeInsufficientFunds:         codes.FailedPrecondition,
	errs.CodeOrderNotOpen:              codes.FailedPrecondition,
	errs.CodeCannotCancelMarket:        codes.FailedPrecondition,
	errs.CodeCannotUpdateOrder:         codes.FailedPrecondition,
	errs.CodeOrderNotFound:             codes.NotFound,
	errs.CodeReverted:                  codes.Aborted,
	errs.CodeTimeout:                   codes.DeadlineExceeded,
	errs.CodeUnavailable:               codes.Unavailable,
}

// toStatus maps a core error to a gRPC status whose message starts with the
// stable error code. Unclassified errors are reported as INTERNAL without detail.
func toStatus(err error) error {
	var e *errs.Error
	if !errors.As(err, &e) {
		return status.Error(codes.Internal, string(errs.CodeInternal)+": internal error")
	}
	c, ok := grpcCodes[e.Code]
	if !ok {
		c = codes.Internal
	}
	return status.Error(c, fmt.Sprintf("%s: %s", e.Code, e.Message))
}

// CodeOf recovers the core error code from a status returned by the server.
func CodeOf(err error) errs.Code {
	st, ok := status.FromError(err)
	if !ok {
		return errs.CodeOf(err)
	}
	msg := st.Message()
	for i := 0; i < len(msg); i++ {
		if msg[i] == ':' {
			return errs.Code(msg[:i])
		}
	}
	return errs.CodeInternal
}

// Recovery turns a handler panic into an INTERNAL status.
func Recovery(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic recovered in gRPC handler",
					zap.String("method", info.FullMethod),
					zap.String("panic", fmt.Sprintf("%v", r)),
				)
				err = status.Errorf(codes.Internal, "%s: internal error", errs.CodeInternal)
			}
		}()
		return handler(ctx, req)
	}
}

// Logging records the method and outcome of every call at debug level.
func Logging(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		log.Debug("grpc call",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
		)
		return resp, err
	}
}
