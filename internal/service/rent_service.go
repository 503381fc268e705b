package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/devrev/pairdb/storage-rent/internal/amount"
	"github.com/devrev/pairdb/storage-rent/internal/errors"
	"github.com/devrev/pairdb/storage-rent/internal/metrics"
	"github.com/devrev/pairdb/storage-rent/internal/model"
	"github.com/devrev/pairdb/storage-rent/internal/validation"
	"go.uber.org/zap"
)

// RentService implements the storage-rent operations over the runtime
type RentService struct {
	runtime   *Runtime
	policy    *BalancePolicy
	validator *validation.Validator
	journal   *JournalService
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewRentService creates a new rent service. journal may be nil.
func NewRentService(
	runtime *Runtime,
	policy *BalancePolicy,
	validator *validation.Validator,
	journal *JournalService,
	m *metrics.Metrics,
	logger *zap.Logger,
) *RentService {
	return &RentService{
		runtime:   runtime,
		policy:    policy,
		validator: validator,
		journal:   journal,
		metrics:   m,
		logger:    logger,
	}
}

// Policy returns the balance policy
func (s *RentService) Policy() *BalancePolicy {
	return s.policy
}

// callTrace collects what a call did for metrics and the journal
type callTrace struct {
	accountID    string
	balance      *amount.Amount
	deposited    amount.Amount
	registered   *uint64 // tracked bytes of a new account
	unregistered bool
	belowMinimum bool
}

// Init writes the initial contract state unless it already exists and
// returns the persisted state
func (s *RentService) Init(ctx context.Context, owner string, state model.RunningState) (*model.ContractState, error) {
	if !state.Valid() {
		return nil, errors.InvalidArgument(fmt.Sprintf("unknown running state %q", state), nil)
	}

	var result *model.ContractState
	var accounts int
	_, err := s.runtime.Execute(ctx, model.CallContext{Caller: owner}, false, func(c *Call) error {
		st, err := c.ContractState()
		if err != nil && !stderrors.Is(err, errNotInitialized) {
			return err
		}
		if st == nil {
			st = &model.ContractState{Owner: owner, RunningState: state}
			if err := c.SetContractState(st); err != nil {
				return err
			}
			s.logger.Info("Initialized contract state",
				zap.String("owner", owner),
				zap.String("running_state", string(state)))
		}
		result = st

		accounts, err = c.Ledger().Count()
		return err
	})
	if err != nil {
		return nil, err
	}

	usage, err := s.runtime.Store().StorageUsage()
	if err != nil {
		return nil, errors.StoreFailed("failed to read storage usage", err)
	}
	s.metrics.UpdateLedgerStats(accounts, usage)

	return result, nil
}

// Deposit registers or tops up an account with the attached amount
func (s *RentService) Deposit(
	ctx context.Context,
	cc model.CallContext,
	accountID *string,
	registrationOnly *bool,
) (*model.StorageBalance, error) {
	var result *model.StorageBalance
	err := s.call(ctx, cc, model.OperationDeposit, false, func(c *Call, trace *callTrace) error {
		var err error
		result, err = s.deposit(c, accountID, registrationOnly, trace)
		if result != nil {
			trace.balance = &result.Total
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *RentService) deposit(c *Call, accountID *string, registrationOnly *bool, trace *callTrace) (*model.StorageBalance, error) {
	if err := c.AssertRunning(); err != nil {
		return nil, err
	}
	if c.Attached.IsZero() {
		return nil, errors.InvalidDeposit()
	}

	id := c.Caller
	if accountID != nil {
		id = *accountID
	}
	trace.accountID = id
	if err := s.validator.ValidateAccountID(id); err != nil {
		return nil, err
	}
	regOnly := registrationOnly != nil && *registrationOnly

	acct, err := c.Ledger().Get(id)
	exists := err == nil
	if err != nil && errors.GetCode(err) != errors.ErrCodeAccountNotFound {
		return nil, err
	}

	switch {
	// Registered and registration only: nothing to do, return the attachment
	case exists && regOnly:
		c.Transfer(c.Caller, c.Attached, model.PayoutReasonRefund)
		return s.policy.StorageBalance(acct)

	// Registered: top up
	case exists:
		total, ok := acct.PrepaidBalance.CheckedAdd(c.Attached)
		if !ok {
			return nil, errors.Overflow("storage balance").
				WithDetail("account_id", id).
				WithDetail("balance", acct.PrepaidBalance.String()).
				WithDetail("attached", c.Attached.String())
		}
		acct.PrepaidBalance = total
		if err := c.Ledger().Update(acct); err != nil {
			return nil, err
		}
		trace.deposited = c.Attached
		return s.policy.StorageBalance(acct)

	// Unregistered and registration only: keep the minimum, refund the rest
	case regOnly:
		minimum := s.policy.RequiredMinimumFor(id)
		refund, ok := c.Attached.CheckedSub(minimum)
		if !ok {
			return nil, errors.InsufficientDeposit(c.Attached.String(), minimum.String())
		}
		c.Transfer(c.Caller, refund, model.PayoutReasonRefund)
		trace.deposited = minimum
		return s.register(c, id, minimum, trace)

	// Unregistered: keep the whole attachment
	default:
		trace.deposited = c.Attached
		return s.register(c, id, c.Attached, trace)
	}
}

// register inserts a new account and records the bytes its record occupies
func (s *RentService) register(c *Call, id string, balance amount.Amount, trace *callTrace) (*model.StorageBalance, error) {
	acct := &model.Account{ID: id, PrepaidBalance: balance}

	if err := c.Tracker().Track(c.Usage()); err != nil {
		return nil, err
	}
	if err := c.Ledger().Insert(acct); err != nil {
		return nil, err
	}
	used, err := c.Tracker().Finish(c.Usage(), 0)
	if err != nil {
		return nil, err
	}

	// Same fixed-width record, so the footprint does not change
	acct.StorageUsage = used
	if err := c.Ledger().Update(acct); err != nil {
		return nil, err
	}
	trace.registered = &used

	return s.policy.StorageBalance(acct)
}

// Withdraw withdraws amt, or the whole available balance when amt is nil,
// from the caller's account
func (s *RentService) Withdraw(ctx context.Context, cc model.CallContext, amt *amount.Amount) (*model.StorageBalance, error) {
	var result *model.StorageBalance
	err := s.call(ctx, cc, model.OperationWithdraw, false, func(c *Call, trace *callTrace) error {
		var err error
		result, err = s.withdraw(c, amt, trace)
		if result != nil {
			trace.balance = &result.Total
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *RentService) withdraw(c *Call, amt *amount.Amount, trace *callTrace) (*model.StorageBalance, error) {
	if err := assertConfirmation(c); err != nil {
		return nil, err
	}
	if err := c.AssertRunning(); err != nil {
		return nil, err
	}

	trace.accountID = c.Caller
	acct, err := c.Ledger().Get(c.Caller)
	if err != nil {
		return nil, err
	}

	var requested amount.Amount
	if amt != nil {
		requested = *amt
	} else {
		requested, err = s.policy.AvailableBalance(acct)
		if err != nil {
			return nil, err
		}
	}

	// An explicit amount is checked against the total, not the available balance
	remaining, ok := acct.PrepaidBalance.CheckedSub(requested)
	if !ok {
		return nil, errors.InsufficientBalance(acct.PrepaidBalance.String(), requested.String()).
			WithDetail("account_id", c.Caller)
	}
	acct.PrepaidBalance = remaining
	if err := c.Ledger().Update(acct); err != nil {
		return nil, err
	}

	c.Transfer(c.Caller, requested, model.PayoutReasonWithdraw)

	// An explicit amount that leaves the balance below the minimum fails the
	// checked view, which rolls the whole call back
	view, err := s.policy.StorageBalance(acct)
	if err != nil {
		if errors.GetCode(err) == errors.ErrCodeInvariantBroken {
			trace.belowMinimum = true
			s.logger.Warn("Withdrawal would leave balance below required minimum",
				zap.String("account_id", acct.ID),
				zap.String("request_id", c.RequestID),
				zap.Stringer("amount", requested),
				zap.Stringer("balance", remaining),
				zap.Stringer("minimum", s.policy.RequiredMinimumFor(acct.ID)))
		}
		return nil, err
	}
	return view, nil
}

// Unregister removes the caller's account and pays out its balance. It
// returns false when the caller is not registered.
func (s *RentService) Unregister(ctx context.Context, cc model.CallContext, force *bool) (bool, error) {
	var removed bool
	err := s.call(ctx, cc, model.OperationUnregister, false, func(c *Call, trace *callTrace) error {
		var err error
		removed, err = s.unregister(c, force, trace)
		return err
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

func (s *RentService) unregister(c *Call, force *bool, trace *callTrace) (bool, error) {
	if err := assertConfirmation(c); err != nil {
		return false, err
	}
	if err := c.AssertRunning(); err != nil {
		return false, err
	}

	trace.accountID = c.Caller
	acct, err := c.Ledger().Get(c.Caller)
	if errors.GetCode(err) == errors.ErrCodeAccountNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if !acct.PrepaidBalance.IsZero() && (force == nil || !*force) {
		return false, errors.PositiveBalance(acct.ID, acct.PrepaidBalance.String())
	}

	if _, err := c.Ledger().Remove(acct.ID); err != nil {
		return false, err
	}
	c.Transfer(c.Caller, acct.PrepaidBalance, model.PayoutReasonUnregister)
	trace.unregistered = true

	return true, nil
}

// BalanceBounds returns the global balance bounds
func (s *RentService) BalanceBounds(ctx context.Context) model.StorageBalanceBounds {
	return s.policy.Bounds()
}

// BalanceOf returns the balance of an account, or nil if it is not registered
func (s *RentService) BalanceOf(ctx context.Context, accountID string) (*model.StorageBalance, error) {
	var result *model.StorageBalance
	err := s.call(ctx, model.CallContext{}, model.OperationBalanceOf, true, func(c *Call, trace *callTrace) error {
		trace.accountID = accountID
		acct, err := c.Ledger().Get(accountID)
		if errors.GetCode(err) == errors.ErrCodeAccountNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		result, err = s.policy.StorageBalance(acct)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AccountInfo returns the stored record of an account, or nil if it is not
// registered
func (s *RentService) AccountInfo(ctx context.Context, accountID string) (*model.AccountInfo, error) {
	var result *model.AccountInfo
	err := s.call(ctx, model.CallContext{}, "account_info", true, func(c *Call, trace *callTrace) error {
		trace.accountID = accountID
		acct, err := c.Ledger().Get(accountID)
		if errors.GetCode(err) == errors.ErrCodeAccountNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		view, err := s.policy.StorageBalance(acct)
		if err != nil {
			return err
		}
		result = &model.AccountInfo{
			AccountID:    acct.ID,
			Total:        view.Total,
			Available:    view.Available,
			StorageUsage: acct.StorageUsage,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ContractState returns the persisted administrative state
func (s *RentService) ContractState(ctx context.Context) (*model.ContractState, error) {
	var result *model.ContractState
	err := s.call(ctx, model.CallContext{}, "contract_state", true, func(c *Call, trace *callTrace) error {
		st, err := c.ContractState()
		result = st
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SetRunningState pauses or resumes mutating operations. Only the owner may
// call it.
func (s *RentService) SetRunningState(ctx context.Context, cc model.CallContext, state model.RunningState) (*model.ContractState, error) {
	var result *model.ContractState
	err := s.call(ctx, cc, model.OperationSetRunningState, false, func(c *Call, trace *callTrace) error {
		if !state.Valid() {
			return errors.InvalidArgument(fmt.Sprintf("unknown running state %q", state), nil)
		}
		if err := c.AssertOwner(); err != nil {
			return err
		}

		st, err := c.ContractState()
		if err != nil {
			return err
		}
		if st.RunningState == state {
			result = st
			return nil
		}

		updated := &model.ContractState{Owner: st.Owner, RunningState: state}
		if err := c.SetContractState(updated); err != nil {
			return err
		}
		result = updated

		s.logger.Info("Running state changed",
			zap.String("caller_id", c.Caller),
			zap.String("from", string(st.RunningState)),
			zap.String("to", string(state)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Execute dispatches a decoded request to its operation
func (s *RentService) Execute(ctx context.Context, cc model.CallContext, req model.Request) (interface{}, error) {
	switch r := req.(type) {
	case model.DepositRequest:
		return s.Deposit(ctx, cc, r.AccountID, r.RegistrationOnly)
	case model.WithdrawRequest:
		return s.Withdraw(ctx, cc, r.Amount)
	case model.UnregisterRequest:
		return s.Unregister(ctx, cc, r.Force)
	case model.BalanceBoundsRequest:
		return s.BalanceBounds(ctx), nil
	case model.BalanceOfRequest:
		return s.BalanceOf(ctx, r.AccountID)
	default:
		return nil, errors.InvalidArgument(fmt.Sprintf("unsupported request %T", req), nil)
	}
}

// call runs fn through the runtime and records the outcome
func (s *RentService) call(
	ctx context.Context,
	cc model.CallContext,
	op model.Operation,
	readOnly bool,
	fn func(c *Call, trace *callTrace) error,
) error {
	startTime := time.Now()
	trace := &callTrace{}

	receipt, err := s.runtime.Execute(ctx, cc, readOnly, func(c *Call) error {
		return fn(c, trace)
	})

	outcome := "ok"
	if trace.belowMinimum {
		s.metrics.RecordBelowMinimumWithdrawal()
	}
	if err != nil {
		outcome = strings.ToLower(errors.GetCode(err).Name())
	}
	s.metrics.RecordCall(string(op), outcome, time.Since(startTime).Seconds())

	if err != nil {
		fields := []zap.Field{
			zap.String("operation", string(op)),
			zap.String("request_id", cc.RequestID),
			zap.String("caller_id", cc.Caller),
			zap.String("account_id", trace.accountID),
			zap.Error(err),
		}
		if errors.GetKind(err) == errors.KindInternal {
			s.logger.Error("Call failed", fields...)
		} else {
			s.logger.Warn("Call rejected", fields...)
		}
		if !readOnly {
			s.record(ctx, cc, op, trace, nil, err)
		}
		return err
	}

	if trace.registered != nil {
		s.metrics.RecordRegistration(*trace.registered)
	}
	if trace.unregistered {
		s.metrics.RecordUnregistration()
	}
	if !trace.deposited.IsZero() {
		s.metrics.RecordDeposit(trace.deposited.Float64())
	}

	if !readOnly {
		s.record(ctx, cc, op, trace, receipt.Payouts, nil)
	}

	s.logger.Debug("Call completed",
		zap.String("operation", string(op)),
		zap.String("request_id", cc.RequestID),
		zap.String("caller_id", cc.Caller),
		zap.String("account_id", trace.accountID),
		zap.Duration("duration", time.Since(startTime)))

	return nil
}

// record appends a mutating call to the journal
func (s *RentService) record(
	ctx context.Context,
	cc model.CallContext,
	op model.Operation,
	trace *callTrace,
	payouts []model.Payout,
	callErr error,
) {
	if s.journal == nil {
		return
	}

	event := &model.JournalEvent{
		RequestID: cc.RequestID,
		Operation: op,
		Caller:    cc.Caller,
		AccountID: trace.accountID,
		Attached:  cc.Attached,
		Outcome:   model.CallOutcomeCommitted,
		Balance:   trace.balance,
		Payouts:   payouts,
	}
	if callErr != nil {
		event.Outcome = model.CallOutcomeRejected
		event.ErrorCode = errors.GetCode(callErr).Name()
		event.Balance = nil
	}

	if err := s.journal.Append(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Error("Failed to append journal event",
			zap.String("operation", string(op)),
			zap.String("request_id", cc.RequestID),
			zap.Error(err))
	}
}

// assertConfirmation requires exactly one smallest unit attached
func assertConfirmation(c *Call) error {
	if !c.Attached.Eq(amount.One()) {
		return errors.MissingConfirmation(c.Attached.String())
	}
	return nil
}
