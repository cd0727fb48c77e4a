package core

import (
	"errors"
	"fmt"
)

// Error is a contract error with a stable numeric code. Codes 1-17 keep the
// numbering of the on-chain contract this engine settles for.
type Error struct {
	Code int
	Name string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (code %d)", e.Name, e.Code)
}

var (
	ErrDifferentDepositedToken          = &Error{1, "DifferentDepositedToken"}
	ErrWrongRepayToken                  = &Error{2, "WrongRepayToken"}
	ErrExecutionTimeNotReached          = &Error{3, "ExecutionTimeNotReached"}
	ErrSpotRateAlreadyDefined           = &Error{4, "SpotRateAlreadyDefined"}
	ErrLiquidatedUser                   = &Error{5, "LiquidatedUser"}
	ErrTimeNotReached                   = &Error{6, "TimeNotReached"}
	ErrCollateralOnlyCanBeDeposited     = &Error{7, "CollateralOnlyCanBeDeposited"}
	ErrNearLegNotExecuted               = &Error{8, "NearLegNotExecuted"}
	ErrInvalidToken                     = &Error{9, "InvalidToken"}
	ErrContractStillOpen                = &Error{10, "ContractStillOpen"}
	ErrAlreadyRepaid                    = &Error{11, "AlreadyRepaid"}
	ErrUnauthorized                     = &Error{12, "Unauthorized"}
	ErrContractAlreadyInitialized       = &Error{13, "ContractAlreadyInitialized"}
	ErrPositionsAlreadyInitialized      = &Error{14, "PositionsAlreadyInitialized"}
	ErrDepositAmountDoesntMatchPosition = &Error{15, "DepositAmountDoesntMatchPosition"}
	ErrAllPositionsAreUsed              = &Error{16, "AllPositionsAreUsed"}
	ErrNotEnoughPositionsUsed           = &Error{17, "NotEnoughtPositionsUsed"}

	ErrInsufficientCollateral  = &Error{18, "InsufficientCollateral"}
	ErrWrongStageToSwap        = &Error{19, "WrongStageToSwap"}
	ErrNotParticipant          = &Error{20, "NotParticipant"}
	ErrPositionsNotInitialized = &Error{21, "PositionsNotInitialized"}
	ErrInvalidAmount           = &Error{22, "InvalidAmount"}
	ErrInvalidRate             = &Error{23, "InvalidRate"}
	ErrNotInitialized          = &Error{24, "NotInitialized"}
	ErrInvariantViolation      = &Error{25, "InvariantViolation"}
	ErrDuplicateRequest        = &Error{26, "DuplicateRequest"}
)

// CodeOf returns the contract error code carried by err, or 0 for
// infrastructure failures.
func CodeOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

// reason is the metric label for a rejection.
func reason(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Name
	}
	return "internal"
}
