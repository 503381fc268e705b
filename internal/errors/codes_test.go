package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
)

func TestRentError_Kind(t *testing.T) {
	tests := []struct {
		err  *RentError
		kind Kind
		grpc codes.Code
	}{
		{InvalidDeposit(), KindValidation, codes.InvalidArgument},
		{MissingConfirmation("0"), KindValidation, codes.InvalidArgument},
		{InsufficientDeposit("1", "2"), KindValidation, codes.InvalidArgument},
		{AccountNotFound("alice"), KindNotFound, codes.NotFound},
		{ContractPaused(), KindState, codes.Unavailable},
		{TrackerState("already tracking"), KindState, codes.FailedPrecondition},
		{Overflow("balance"), KindArithmetic, codes.OutOfRange},
		{InsufficientBalance("1", "2"), KindArithmetic, codes.FailedPrecondition},
		{NotOwner("bob"), KindAuthorization, codes.PermissionDenied},
		{PositiveBalance("alice", "5"), KindPolicy, codes.FailedPrecondition},
		{InvariantBroken("negative available"), KindInternal, codes.Internal},
		{CorruptedRecord("acct/alice", nil), KindInternal, codes.DataLoss},
	}

	for _, tt := range tests {
		t.Run(tt.err.Code.Name(), func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.err.Kind())
			assert.Equal(t, tt.grpc, tt.err.ToGRPCStatus().Code())
		})
	}
}

func TestRentError_Wrapping(t *testing.T) {
	cause := stderrors.New("disk gone")
	err := StoreFailed("commit failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "commit failed: disk gone", err.Error())

	wrapped := fmt.Errorf("deposit: %w", AccountNotFound("alice"))
	assert.True(t, IsRentError(wrapped))
	assert.Equal(t, ErrCodeAccountNotFound, GetCode(wrapped))
	assert.Equal(t, KindNotFound, GetKind(wrapped))

	assert.False(t, IsRentError(cause))
	assert.Equal(t, ErrCodeInternal, GetCode(cause))
}

func TestRentError_WithDetail(t *testing.T) {
	err := InsufficientDeposit("10", "20")
	assert.Equal(t, "10", err.Details["attached"])
	assert.Equal(t, "20", err.Details["minimum"])
}
