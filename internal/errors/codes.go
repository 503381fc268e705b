package errors

import (
	stderrors "errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode represents internal error codes for rent operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Client errors (4xx equivalent)
	ErrCodeInvalidArgument     ErrorCode = 1000
	ErrCodeInvalidDeposit      ErrorCode = 1001
	ErrCodeMissingConfirmation ErrorCode = 1002
	ErrCodeInvalidAccountID    ErrorCode = 1003
	ErrCodeAccountNotFound     ErrorCode = 1004
	ErrCodeInsufficientDeposit ErrorCode = 1005
	ErrCodeInsufficientBalance ErrorCode = 1006
	ErrCodeOverflow            ErrorCode = 1007
	ErrCodePositiveBalance     ErrorCode = 1008
	ErrCodeNotOwner            ErrorCode = 1009
	ErrCodeContractPaused      ErrorCode = 1010

	// Server errors (5xx equivalent)
	ErrCodeInternal        ErrorCode = 2000
	ErrCodeTrackerState    ErrorCode = 2001
	ErrCodeInvariantBroken ErrorCode = 2002
	ErrCodeCorruptedRecord ErrorCode = 2003
	ErrCodeStoreFailed     ErrorCode = 2004
)

// Kind groups error codes into the failure classes callers reason about
type Kind string

const (
	KindValidation    Kind = "validation"
	KindNotFound      Kind = "not_found"
	KindState         Kind = "state"
	KindArithmetic    Kind = "arithmetic"
	KindAuthorization Kind = "authorization"
	KindPolicy        Kind = "policy"
	KindInternal      Kind = "internal"
)

// RentError represents a structured error with code and context
type RentError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *RentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *RentError) Unwrap() error {
	return e.Cause
}

// Kind returns the failure class of the error
func (e *RentError) Kind() Kind {
	switch e.Code {
	case ErrCodeInvalidArgument, ErrCodeInvalidDeposit, ErrCodeMissingConfirmation,
		ErrCodeInvalidAccountID, ErrCodeInsufficientDeposit:
		return KindValidation
	case ErrCodeAccountNotFound:
		return KindNotFound
	case ErrCodeContractPaused, ErrCodeTrackerState:
		return KindState
	case ErrCodeOverflow, ErrCodeInsufficientBalance:
		return KindArithmetic
	case ErrCodeNotOwner:
		return KindAuthorization
	case ErrCodePositiveBalance:
		return KindPolicy
	default:
		return KindInternal
	}
}

// ToGRPCStatus converts RentError to gRPC status
func (e *RentError) ToGRPCStatus() *status.Status {
	grpcCode := e.toGRPCCode()
	return status.New(grpcCode, e.Error())
}

// toGRPCCode maps internal error codes to gRPC codes
func (e *RentError) toGRPCCode() codes.Code {
	switch e.Code {
	case ErrCodeOK:
		return codes.OK
	case ErrCodeContractPaused:
		return codes.Unavailable
	case ErrCodeOverflow:
		return codes.OutOfRange
	case ErrCodeInsufficientBalance, ErrCodePositiveBalance:
		return codes.FailedPrecondition
	case ErrCodeCorruptedRecord:
		return codes.DataLoss
	}

	switch e.Kind() {
	case KindValidation:
		return codes.InvalidArgument
	case KindNotFound:
		return codes.NotFound
	case KindState:
		return codes.FailedPrecondition
	case KindAuthorization:
		return codes.PermissionDenied
	default:
		return codes.Internal
	}
}

// NewRentError creates a new RentError
func NewRentError(code ErrorCode, message string, cause error) *RentError {
	return &RentError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *RentError) WithDetail(key string, value interface{}) *RentError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func InvalidArgument(message string, cause error) *RentError {
	return NewRentError(ErrCodeInvalidArgument, message, cause)
}

func InvalidDeposit() *RentError {
	return NewRentError(ErrCodeInvalidDeposit, "attached deposit must be greater than zero", nil)
}

func MissingConfirmation(attached string) *RentError {
	return NewRentError(ErrCodeMissingConfirmation, "requires attached deposit of exactly 1 smallest unit", nil).
		WithDetail("attached", attached)
}

func InvalidAccountID(accountID, reason string) *RentError {
	return NewRentError(ErrCodeInvalidAccountID, fmt.Sprintf("invalid account ID '%s': %s", accountID, reason), nil).
		WithDetail("account_id", accountID).
		WithDetail("reason", reason)
}

func AccountNotFound(accountID string) *RentError {
	return NewRentError(ErrCodeAccountNotFound, fmt.Sprintf("account %s is not registered", accountID), nil).
		WithDetail("account_id", accountID)
}

func InsufficientDeposit(attached, minimum string) *RentError {
	return NewRentError(ErrCodeInsufficientDeposit, fmt.Sprintf("attached deposit %s is less than the minimum storage balance %s", attached, minimum), nil).
		WithDetail("attached", attached).
		WithDetail("minimum", minimum)
}

func InsufficientBalance(balance, requested string) *RentError {
	return NewRentError(ErrCodeInsufficientBalance, fmt.Sprintf("requested %s exceeds balance %s", requested, balance), nil).
		WithDetail("balance", balance).
		WithDetail("requested", requested)
}

func Overflow(what string) *RentError {
	return NewRentError(ErrCodeOverflow, fmt.Sprintf("%s overflow", what), nil).
		WithDetail("operand", what)
}

func PositiveBalance(accountID, balance string) *RentError {
	return NewRentError(ErrCodePositiveBalance, "can't unregister the account with the positive balance without force", nil).
		WithDetail("account_id", accountID).
		WithDetail("balance", balance)
}

func NotOwner(caller string) *RentError {
	return NewRentError(ErrCodeNotOwner, fmt.Sprintf("caller %s is not the owner", caller), nil).
		WithDetail("caller", caller)
}

func ContractPaused() *RentError {
	return NewRentError(ErrCodeContractPaused, "contract is paused", nil)
}

func TrackerState(message string) *RentError {
	return NewRentError(ErrCodeTrackerState, message, nil)
}

func InvariantBroken(message string) *RentError {
	return NewRentError(ErrCodeInvariantBroken, message, nil)
}

func CorruptedRecord(key string, cause error) *RentError {
	return NewRentError(ErrCodeCorruptedRecord, fmt.Sprintf("corrupted record %s", key), cause).
		WithDetail("key", key)
}

func StoreFailed(message string, cause error) *RentError {
	return NewRentError(ErrCodeStoreFailed, message, cause)
}

func InternalError(message string, cause error) *RentError {
	return NewRentError(ErrCodeInternal, message, cause)
}

// IsRentError checks if an error is (or wraps) a RentError
func IsRentError(err error) bool {
	var re *RentError
	return stderrors.As(err, &re)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	var re *RentError
	if stderrors.As(err, &re) {
		return re.Code
	}
	return ErrCodeInternal
}

// GetKind extracts the failure class from an error
func GetKind(err error) Kind {
	var re *RentError
	if stderrors.As(err, &re) {
		return re.Kind()
	}
	return KindInternal
}

// Name returns the stable string form of the code used on the wire
func (c ErrorCode) Name() string {
	switch c {
	case ErrCodeOK:
		return "OK"
	case ErrCodeInvalidArgument:
		return "INVALID_ARGUMENT"
	case ErrCodeInvalidDeposit:
		return "INVALID_DEPOSIT"
	case ErrCodeMissingConfirmation:
		return "MISSING_CONFIRMATION"
	case ErrCodeInvalidAccountID:
		return "INVALID_ACCOUNT_ID"
	case ErrCodeAccountNotFound:
		return "ACCOUNT_NOT_FOUND"
	case ErrCodeInsufficientDeposit:
		return "INSUFFICIENT_DEPOSIT"
	case ErrCodeInsufficientBalance:
		return "INSUFFICIENT_BALANCE"
	case ErrCodeOverflow:
		return "OVERFLOW"
	case ErrCodePositiveBalance:
		return "POSITIVE_BALANCE"
	case ErrCodeNotOwner:
		return "NOT_OWNER"
	case ErrCodeContractPaused:
		return "CONTRACT_PAUSED"
	case ErrCodeTrackerState:
		return "TRACKER_STATE"
	case ErrCodeInvariantBroken:
		return "INVARIANT_BROKEN"
	case ErrCodeCorruptedRecord:
		return "CORRUPTED_RECORD"
	case ErrCodeStoreFailed:
		return "STORE_FAILED"
	default:
		return "INTERNAL_ERROR"
	}
}
