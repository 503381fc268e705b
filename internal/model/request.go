package model

import "github.com/devrev/pairdb/storage-rent/internal/amount"

// CallContext carries the host-provided identity and attachment of one call
type CallContext struct {
	Caller    string
	Attached  amount.Amount
	RequestID string
}

// Request is one of the closed set of storage operations. Decoders in the
// transport layer build a variant; the service dispatches on its type.
type Request interface {
	Operation() Operation
	isRequest()
}

// Operation names a storage operation for logging and metrics
type Operation string

const (
	OperationDeposit         Operation = "deposit"
	OperationWithdraw        Operation = "withdraw"
	OperationUnregister      Operation = "unregister"
	OperationBalanceBounds   Operation = "balance_bounds"
	OperationBalanceOf       Operation = "balance_of"
	OperationSetRunningState Operation = "set_running_state"
)

// Mutating reports whether the operation writes to the ledger
func (o Operation) Mutating() bool {
	switch o {
	case OperationDeposit, OperationWithdraw, OperationUnregister, OperationSetRunningState:
		return true
	default:
		return false
	}
}

// DepositRequest registers or tops up an account
type DepositRequest struct {
	AccountID        *string `json:"account_id,omitempty"`
	RegistrationOnly *bool   `json:"registration_only,omitempty"`
}

// WithdrawRequest withdraws from the caller's balance. A nil Amount
// withdraws everything above the required minimum.
type WithdrawRequest struct {
	Amount *amount.Amount `json:"amount,omitempty"`
}

// UnregisterRequest removes the caller's account
type UnregisterRequest struct {
	Force *bool `json:"force,omitempty"`
}

// BalanceBoundsRequest queries the global balance bounds
type BalanceBoundsRequest struct{}

// BalanceOfRequest queries the balance of one account
type BalanceOfRequest struct {
	AccountID string `json:"account_id"`
}

func (DepositRequest) Operation() Operation       { return OperationDeposit }
func (WithdrawRequest) Operation() Operation      { return OperationWithdraw }
func (UnregisterRequest) Operation() Operation    { return OperationUnregister }
func (BalanceBoundsRequest) Operation() Operation { return OperationBalanceBounds }
func (BalanceOfRequest) Operation() Operation     { return OperationBalanceOf }

func (DepositRequest) isRequest()       {}
func (WithdrawRequest) isRequest()      {}
func (UnregisterRequest) isRequest()    {}
func (BalanceBoundsRequest) isRequest() {}
func (BalanceOfRequest) isRequest()     {}
