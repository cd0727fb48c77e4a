package server

import (
	"FXSwapLedger/internal/auth"
	"FXSwapLedger/internal/core"
	"FXSwapLedger/internal/query"
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
)

// requestError marks a malformed request (bad JSON, path parameter).
type requestError struct {
	err error
}

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

func badRequest(format string, args ...any) error {
	return &requestError{err: fmt.Errorf(format, args...)}
}

// codeOf maps an operation error onto a gRPC status code.
func codeOf(ctx context.Context, err error) codes.Code {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		return codes.InvalidArgument
	case errors.Is(err, query.ErrNoEventLog):
		return codes.Unimplemented
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	}

	switch core.CodeOf(err) {
	case 0, core.ErrInvariantViolation.Code:
		return codes.Internal
	case core.ErrUnauthorized.Code:
		if _, ok := auth.IdentityFrom(ctx); !ok {
			return codes.Unauthenticated
		}
		return codes.PermissionDenied
	case core.ErrNotParticipant.Code:
		return codes.NotFound
	case core.ErrDifferentDepositedToken.Code,
		core.ErrWrongRepayToken.Code,
		core.ErrCollateralOnlyCanBeDeposited.Code,
		core.ErrInvalidToken.Code,
		core.ErrDepositAmountDoesntMatchPosition.Code,
		core.ErrInsufficientCollateral.Code,
		core.ErrInvalidAmount.Code,
		core.ErrInvalidRate.Code:
		return codes.InvalidArgument
	case core.ErrSpotRateAlreadyDefined.Code,
		core.ErrAlreadyRepaid.Code,
		core.ErrContractAlreadyInitialized.Code,
		core.ErrPositionsAlreadyInitialized.Code,
		core.ErrDuplicateRequest.Code:
		return codes.AlreadyExists
	case core.ErrAllPositionsAreUsed.Code:
		return codes.ResourceExhausted
	default:
		// Stage and schedule errors.
		return codes.FailedPrecondition
	}
}

// errorBody renders err for the client. Infrastructure failures are not
// echoed back.
func errorBody(code codes.Code, err error) ErrorResponse {
	body := ErrorResponse{Code: core.CodeOf(err), Status: code.String()}
	var coreErr *core.Error
	switch {
	case code == codes.Internal:
		body.Error = "internal error"
	case errors.As(err, &coreErr):
		body.Error = coreErr.Name
	default:
		body.Error = err.Error()
	}
	return body
}
