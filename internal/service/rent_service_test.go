package service_test

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/devrev/pairdb/storage-rent/internal/amount"
	"github.com/devrev/pairdb/storage-rent/internal/errors"
	"github.com/devrev/pairdb/storage-rent/internal/metrics"
	"github.com/devrev/pairdb/storage-rent/internal/model"
	"github.com/devrev/pairdb/storage-rent/internal/service"
	"github.com/devrev/pairdb/storage-rent/internal/storage/hoststore"
	"github.com/devrev/pairdb/storage-rent/internal/validation"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testOwner = "owner.pairdb"

var testPrice = amount.MustParse("10000000000000000000")

type rentFixture struct {
	svc     *service.RentService
	runtime *service.Runtime
	store   *hoststore.MemoryStore
	policy  *service.BalancePolicy
	metrics *metrics.Metrics
}

// setupRentService creates a running rent service over an in-memory store
func setupRentService(t *testing.T) *rentFixture {
	return setupRentServiceWithJournal(t, nil)
}

func setupRentServiceWithJournal(t *testing.T, journal *service.JournalService) *rentFixture {
	t.Helper()
	logger := zap.NewNop()

	store := hoststore.NewMemoryStore(hoststore.DefaultRecordOverhead)
	m := metrics.NewMetrics(prometheus.NewRegistry(), "test-node")
	runtime := service.NewRuntime(store, m, logger)

	policy, err := service.NewBalancePolicy(testPrice, 74, validation.MaxAccountIDLen)
	require.NoError(t, err)

	svc := service.NewRentService(runtime, policy, validation.NewValidator(), journal, m, logger)
	_, err = svc.Init(context.Background(), testOwner, model.RunningStateRunning)
	require.NoError(t, err)

	return &rentFixture{svc: svc, runtime: runtime, store: store, policy: policy, metrics: m}
}

func call(caller string, attached amount.Amount) model.CallContext {
	return model.CallContext{Caller: caller, Attached: attached, RequestID: "req-" + caller}
}

func confirmed(caller string) model.CallContext {
	return call(caller, amount.One())
}

func boolPtr(b bool) *bool { return &b }

func strPtr(s string) *string { return &s }

func amountPtr(a amount.Amount) *amount.Amount { return &a }

func sub(t *testing.T, a, b amount.Amount) amount.Amount {
	t.Helper()
	d, ok := a.CheckedSub(b)
	require.True(t, ok, "%s - %s underflows", a, b)
	return d
}

func assertAmount(t *testing.T, want, got amount.Amount, msgAndArgs ...interface{}) {
	t.Helper()
	assert.Equal(t, want.String(), got.String(), msgAndArgs...)
}

func assertCode(t *testing.T, err error, code errors.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code.Name(), errors.GetCode(err).Name(), "unexpected error: %v", err)
}

// outbox returns the payouts committed to the store
func outbox(t *testing.T, store hoststore.Store) []*model.Payout {
	t.Helper()
	txn, err := store.Begin()
	require.NoError(t, err)
	defer txn.Discard()

	var payouts []*model.Payout
	err = txn.Scan([]byte(model.PayoutKeyPrefix), func(key, value []byte) error {
		p, err := model.DecodePayout(value)
		if err != nil {
			return err
		}
		payouts = append(payouts, p)
		return nil
	})
	require.NoError(t, err)
	return payouts
}

// insertAccount writes an account record directly, bypassing deposit rules
func insertAccount(t *testing.T, f *rentFixture, acct *model.Account) {
	t.Helper()
	_, err := f.runtime.Execute(context.Background(), model.CallContext{Caller: testOwner}, false, func(c *service.Call) error {
		return c.Ledger().Insert(acct)
	})
	require.NoError(t, err)
}

func TestRentService_DepositThenWithdraw(t *testing.T) {
	f := setupRentService(t)
	ctx := context.Background()
	minimum := f.policy.RequiredMinimumFor("alice")

	view, err := f.svc.Deposit(ctx, call("alice", amount.Tokens(3)), nil, boolPtr(false))
	require.NoError(t, err)
	assertAmount(t, amount.Tokens(3), view.Total)
	assertAmount(t, sub(t, amount.Tokens(3), minimum), view.Available)

	view, err = f.svc.Withdraw(ctx, confirmed("alice"), amountPtr(amount.Tokens(1)))
	require.NoError(t, err)
	assertAmount(t, amount.Tokens(2), view.Total)
	assertAmount(t, sub(t, amount.Tokens(2), minimum), view.Available)

	payouts := outbox(t, f.store)
	require.Len(t, payouts, 1)
	assert.Equal(t, "alice", payouts[0].Destination)
	assert.Equal(t, model.PayoutReasonWithdraw, payouts[0].Reason)
	assertAmount(t, amount.Tokens(1), payouts[0].Amount)
}

func TestRentService_RegistrationOnlyRefundsExcess(t *testing.T) {
	f := setupRentService(t)
	ctx := context.Background()
	minimum := f.policy.RequiredMinimumFor("alice")
	require.True(t, minimum.Lt(amount.Tokens(1)))

	view, err := f.svc.Deposit(ctx, call("alice", amount.Tokens(1)), nil, boolPtr(true))
	require.NoError(t, err)
	assertAmount(t, minimum, view.Total)
	assert.True(t, view.Available.IsZero())

	payouts := outbox(t, f.store)
	require.Len(t, payouts, 1)
	assert.Equal(t, "alice", payouts[0].Destination)
	assert.Equal(t, model.PayoutReasonRefund, payouts[0].Reason)
	assertAmount(t, sub(t, amount.Tokens(1), minimum), payouts[0].Amount)
}

func TestRentService_UnregisterZeroBalance(t *testing.T) {
	f := setupRentService(t)
	ctx := context.Background()
	insertAccount(t, f, &model.Account{ID: "alice", PrepaidBalance: amount.Zero()})

	removed, err := f.svc.Unregister(ctx, confirmed("alice"), boolPtr(false))
	require.NoError(t, err)
	assert.True(t, removed)

	view, err := f.svc.BalanceOf(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, view)

	// Nothing to pay out for an empty balance
	assert.Empty(t, outbox(t, f.store))
}

func TestRentService_UnregisterPositiveBalanceWithoutForce(t *testing.T) {
	f := setupRentService(t)
	ctx := context.Background()

	_, err := f.svc.Deposit(ctx, call("alice", amount.Tokens(1)), nil, nil)
	require.NoError(t, err)
	before, err := f.svc.AccountInfo(ctx, "alice")
	require.NoError(t, err)

	removed, err := f.svc.Unregister(ctx, confirmed("alice"), boolPtr(false))
	assertCode(t, err, errors.ErrCodePositiveBalance)
	assert.Equal(t, errors.KindPolicy, errors.GetKind(err))
	assert.False(t, removed)

	after, err := f.svc.AccountInfo(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Empty(t, outbox(t, f.store))
}

func TestRentService_UnregisterUnknown(t *testing.T) {
	f := setupRentService(t)
	ctx := context.Background()

	for _, force := range []*bool{nil, boolPtr(false), boolPtr(true)} {
		removed, err := f.svc.Unregister(ctx, confirmed("bob"), force)
		require.NoError(t, err)
		assert.False(t, removed)
	}
}

func TestRentService_UnregisterForcePaysOutBalance(t *testing.T) {
	f := setupRentService(t)
	ctx := context.Background()

	_, err := f.svc.Deposit(ctx, call("alice", amount.Tokens(2)), nil, nil)
	require.NoError(t, err)

	removed, err := f.svc.Unregister(ctx, confirmed("alice"), boolPtr(true))
	require.NoError(t, err)
	assert.True(t, removed)

	payouts := outbox(t, f.store)
	require.Len(t, payouts, 1)
	assert.Equal(t, model.PayoutReasonUnregister, payouts[0].Reason)
	assertAmount(t, amount.Tokens(2), payouts[0].Amount)
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.AccountsRegistered))
}

func TestRentService_AvailableInvariant(t *testing.T) {
	f := setupRentService(t)
	ctx := context.Background()

	deposits := []struct {
		id       string
		attached amount.Amount
		regOnly  bool
	}{
		{"alice", amount.Tokens(1), false},
		{"bob.near", amount.Tokens(5), true},
		{"carol_1", amount.Tokens(7), false},
		{"alice", amount.FromUint64(12345), false},
		{"bob.near", amount.Tokens(1), false},
	}

	for _, d := range deposits {
		_, err := f.svc.Deposit(ctx, call(d.id, d.attached), nil, boolPtr(d.regOnly))
		require.NoError(t, err)

		view, err := f.svc.BalanceOf(ctx, d.id)
		require.NoError(t, err)
		require.NotNil(t, view)
		minimum := f.policy.RequiredMinimumFor(d.id)
		assertAmount(t, sub(t, view.Total, minimum), view.Available, "account %s", d.id)
	}
}

func TestRentService_DepositWithdrawRoundTrip(t *testing.T) {
	f := setupRentService(t)
	ctx := context.Background()

	for _, id := range []string{"ab", "alice", "a-much-longer-account.name"} {
		_, err := f.svc.Deposit(ctx, call(id, amount.Tokens(4)), nil, boolPtr(false))
		require.NoError(t, err)

		view, err := f.svc.Withdraw(ctx, confirmed(id), nil)
		require.NoError(t, err)
		assertAmount(t, f.policy.RequiredMinimumFor(id), view.Total)
		assert.True(t, view.Available.IsZero())
	}
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.BelowMinimumWithdrawals))
}

func TestRentService_DepositOverflow(t *testing.T) {
	f := setupRentService(t)
	ctx := context.Background()

	insertAccount(t, f, &model.Account{ID: "alice", PrepaidBalance: amount.Max()})
	before, err := f.svc.AccountInfo(ctx, "alice")
	require.NoError(t, err)

	_, err = f.svc.Deposit(ctx, call("alice", amount.One()), nil, nil)
	assertCode(t, err, errors.ErrCodeOverflow)
	assert.Equal(t, errors.KindArithmetic, errors.GetKind(err))

	after, err := f.svc.AccountInfo(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Empty(t, outbox(t, f.store))
}

func TestRentService_DepositPriority(t *testing.T) {
	tests := []struct {
		name        string
		registered  bool
		regOnly     bool
		wantTotal   func(minimum amount.Amount) amount.Amount
		wantRefund  func(minimum amount.Amount) amount.Amount
		wantPayouts int
	}{
		{
			name:        "registered, registration only refunds everything",
			registered:  true,
			regOnly:     true,
			wantTotal:   func(amount.Amount) amount.Amount { return amount.Tokens(2) },
			wantRefund:  func(amount.Amount) amount.Amount { return amount.Tokens(1) },
			wantPayouts: 1,
		},
		{
			name:        "registered tops up",
			registered:  true,
			regOnly:     false,
			wantTotal:   func(amount.Amount) amount.Amount { return amount.Tokens(3) },
			wantPayouts: 0,
		},
		{
			name:        "unregistered, registration only keeps the minimum",
			registered:  false,
			regOnly:     true,
			wantTotal:   func(minimum amount.Amount) amount.Amount { return minimum },
			wantRefund: func(minimum amount.Amount) amount.Amount {
				d, _ := amount.Tokens(1).CheckedSub(minimum)
				return d
			},
			wantPayouts: 1,
		},
		{
			name:        "unregistered keeps the whole attachment",
			registered:  false,
			regOnly:     false,
			wantTotal:   func(amount.Amount) amount.Amount { return amount.Tokens(1) },
			wantPayouts: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupRentService(t)
			ctx := context.Background()
			minimum := f.policy.RequiredMinimumFor("alice")

			if tt.registered {
				_, err := f.svc.Deposit(ctx, call("alice", amount.Tokens(2)), nil, nil)
				require.NoError(t, err)
			}

			view, err := f.svc.Deposit(ctx, call("alice", amount.Tokens(1)), nil, boolPtr(tt.regOnly))
			require.NoError(t, err)
			assertAmount(t, tt.wantTotal(minimum), view.Total)

			payouts := outbox(t, f.store)
			require.Len(t, payouts, tt.wantPayouts)
			if tt.wantPayouts > 0 {
				assert.Equal(t, model.PayoutReasonRefund, payouts[0].Reason)
				assert.Equal(t, "alice", payouts[0].Destination)
				assertAmount(t, tt.wantRefund(minimum), payouts[0].Amount)
			}
		})
	}
}

func TestRentService_DepositForOtherAccount(t *testing.T) {
	f := setupRentService(t)
	ctx := context.Background()
	minimum := f.policy.RequiredMinimumFor("bob")

	view, err := f.svc.Deposit(ctx, call("alice", amount.Tokens(1)), strPtr("bob"), boolPtr(true))
	require.NoError(t, err)
	assertAmount(t, minimum, view.Total)

	alice, err := f.svc.BalanceOf(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, alice)

	// The refund goes to the caller, not the beneficiary
	payouts := outbox(t, f.store)
	require.Len(t, payouts, 1)
	assert.Equal(t, "alice", payouts[0].Destination)
}

func TestRentService_RegistrationOnly_ExactAndInsufficient(t *testing.T) {
	f := setupRentService(t)
	ctx := context.Background()
	minimum := f.policy.RequiredMinimumFor("alice")

	_, err := f.svc.Deposit(ctx, call("alice", sub(t, minimum, amount.One())), nil, boolPtr(true))
	assertCode(t, err, errors.ErrCodeInsufficientDeposit)

	view, err := f.svc.BalanceOf(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, view)

	view, err = f.svc.Deposit(ctx, call("alice", minimum), nil, boolPtr(true))
	require.NoError(t, err)
	assertAmount(t, minimum, view.Total)
	assert.Empty(t, outbox(t, f.store), "zero refunds are not queued")
}

func TestRentService_DepositValidation(t *testing.T) {
	f := setupRentService(t)
	ctx := context.Background()

	_, err := f.svc.Deposit(ctx, call("alice", amount.Zero()), nil, nil)
	assertCode(t, err, errors.ErrCodeInvalidDeposit)

	_, err = f.svc.Deposit(ctx, call("alice", amount.Tokens(1)), strPtr("Not Valid"), nil)
	assertCode(t, err, errors.ErrCodeInvalidAccountID)
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))
}

func TestRentService_RegistrationTracksRecordFootprint(t *testing.T) {
	f := setupRentService(t)
	ctx := context.Background()

	for _, id := range []string{"ab", "alice", "a-much-longer-account.name"} {
		_, err := f.svc.Deposit(ctx, call(id, amount.Tokens(1)), nil, boolPtr(true))
		require.NoError(t, err)

		info, err := f.svc.AccountInfo(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, info)
		assert.Equal(t, uint64(74+len(id)), info.StorageUsage)

		cost, ok := testPrice.CheckedMulUint64(info.StorageUsage)
		require.True(t, ok)
		assertAmount(t, cost, info.Total)
	}
	assert.False(t, f.runtime.Tracker().IsTracking())
}

func TestRentService_Withdraw(t *testing.T) {
	f := setupRentService(t)
	ctx := context.Background()

	_, err := f.svc.Withdraw(ctx, confirmed("alice"), nil)
	assertCode(t, err, errors.ErrCodeAccountNotFound)
	assert.Equal(t, errors.KindNotFound, errors.GetKind(err))

	_, err = f.svc.Deposit(ctx, call("alice", amount.Tokens(1)), nil, nil)
	require.NoError(t, err)

	_, err = f.svc.Withdraw(ctx, confirmed("alice"), amountPtr(amount.Tokens(2)))
	assertCode(t, err, errors.ErrCodeInsufficientBalance)

	view, err := f.svc.BalanceOf(ctx, "alice")
	require.NoError(t, err)
	assertAmount(t, amount.Tokens(1), view.Total)
}

func TestRentService_ConfirmationRequired(t *testing.T) {
	f := setupRentService(t)
	ctx := context.Background()

	_, err := f.svc.Deposit(ctx, call("alice", amount.Tokens(1)), nil, nil)
	require.NoError(t, err)

	for _, attached := range []amount.Amount{amount.Zero(), amount.FromUint64(2), amount.Tokens(1)} {
		_, err := f.svc.Withdraw(ctx, call("alice", attached), nil)
		assertCode(t, err, errors.ErrCodeMissingConfirmation)

		_, err = f.svc.Unregister(ctx, call("alice", attached), boolPtr(true))
		assertCode(t, err, errors.ErrCodeMissingConfirmation)
	}

	view, err := f.svc.BalanceOf(ctx, "alice")
	require.NoError(t, err)
	assertAmount(t, amount.Tokens(1), view.Total)
}

func TestRentService_Paused(t *testing.T) {
	f := setupRentService(t)
	ctx := context.Background()

	_, err := f.svc.Deposit(ctx, call("alice", amount.Tokens(1)), nil, nil)
	require.NoError(t, err)

	st, err := f.svc.SetRunningState(ctx, call(testOwner, amount.Zero()), model.RunningStatePaused)
	require.NoError(t, err)
	assert.Equal(t, model.RunningStatePaused, st.RunningState)

	_, err = f.svc.Deposit(ctx, call("alice", amount.Tokens(1)), nil, nil)
	assertCode(t, err, errors.ErrCodeContractPaused)

	// The running check comes before the zero-deposit check
	_, err = f.svc.Deposit(ctx, call("alice", amount.Zero()), nil, nil)
	assertCode(t, err, errors.ErrCodeContractPaused)

	_, err = f.svc.Withdraw(ctx, confirmed("alice"), nil)
	assertCode(t, err, errors.ErrCodeContractPaused)

	// Confirmation is checked before the running state
	_, err = f.svc.Withdraw(ctx, call("alice", amount.Zero()), nil)
	assertCode(t, err, errors.ErrCodeMissingConfirmation)

	_, err = f.svc.Unregister(ctx, confirmed("alice"), boolPtr(true))
	assertCode(t, err, errors.ErrCodeContractPaused)

	// Reads keep working
	view, err := f.svc.BalanceOf(ctx, "alice")
	require.NoError(t, err)
	assertAmount(t, amount.Tokens(1), view.Total)
	assert.False(t, f.svc.BalanceBounds(ctx).Min.IsZero())

	_, err = f.svc.SetRunningState(ctx, call(testOwner, amount.Zero()), model.RunningStateRunning)
	require.NoError(t, err)

	view, err = f.svc.Deposit(ctx, call("alice", amount.Tokens(1)), nil, nil)
	require.NoError(t, err)
	assertAmount(t, amount.Tokens(2), view.Total)
}

func TestRentService_SetRunningState(t *testing.T) {
	f := setupRentService(t)
	ctx := context.Background()

	_, err := f.svc.SetRunningState(ctx, call("alice", amount.Zero()), model.RunningStatePaused)
	assertCode(t, err, errors.ErrCodeNotOwner)
	assert.Equal(t, errors.KindAuthorization, errors.GetKind(err))

	_, err = f.svc.SetRunningState(ctx, call(testOwner, amount.Zero()), model.RunningState("stopped"))
	assertCode(t, err, errors.ErrCodeInvalidArgument)

	st, err := f.svc.ContractState(ctx)
	require.NoError(t, err)
	assert.Equal(t, testOwner, st.Owner)
	assert.Equal(t, model.RunningStateRunning, st.RunningState)

	// Setting the current state is a no-op
	st, err = f.svc.SetRunningState(ctx, call(testOwner, amount.Zero()), model.RunningStateRunning)
	require.NoError(t, err)
	assert.Equal(t, model.RunningStateRunning, st.RunningState)
}

func TestRentService_InitIdempotent(t *testing.T) {
	f := setupRentService(t)
	ctx := context.Background()

	st, err := f.svc.Init(ctx, "someone-else", model.RunningStatePaused)
	require.NoError(t, err)
	assert.Equal(t, testOwner, st.Owner)
	assert.Equal(t, model.RunningStateRunning, st.RunningState)
}

func TestRentService_UninitializedStore(t *testing.T) {
	logger := zap.NewNop()
	store := hoststore.NewMemoryStore(hoststore.DefaultRecordOverhead)
	m := metrics.NewMetrics(prometheus.NewRegistry(), "test-node")
	policy, err := service.NewBalancePolicy(testPrice, 74, 64)
	require.NoError(t, err)
	svc := service.NewRentService(service.NewRuntime(store, m, logger), policy, validation.NewValidator(), nil, m, logger)

	_, err = svc.Deposit(context.Background(), call("alice", amount.Tokens(1)), nil, nil)
	assertCode(t, err, errors.ErrCodeInternal)
}

func TestRentService_BalanceBounds(t *testing.T) {
	f := setupRentService(t)

	bounds := f.svc.BalanceBounds(context.Background())
	want, ok := testPrice.CheckedMulUint64(74 + 64)
	require.True(t, ok)
	assertAmount(t, want, bounds.Min)
	assert.Nil(t, bounds.Max)
}

func TestRentService_BalanceOfUnknown(t *testing.T) {
	f := setupRentService(t)

	view, err := f.svc.BalanceOf(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, view)

	info, err := f.svc.AccountInfo(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestRentService_WithdrawBelowMinimumRollsBack(t *testing.T) {
	f := setupRentService(t)
	ctx := context.Background()
	minimum := f.policy.RequiredMinimumFor("alice")

	_, err := f.svc.Deposit(ctx, call("alice", amount.Tokens(1)), nil, nil)
	require.NoError(t, err)

	for _, amt := range []amount.Amount{amount.Tokens(1), sub(t, amount.Tokens(1), amount.One())} {
		_, err = f.svc.Withdraw(ctx, confirmed("alice"), amountPtr(amt))
		assertCode(t, err, errors.ErrCodeInvariantBroken)
		assert.Equal(t, errors.KindInternal, errors.GetKind(err))
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.BelowMinimumWithdrawals))
	assert.Empty(t, outbox(t, f.store))

	view, err := f.svc.BalanceOf(ctx, "alice")
	require.NoError(t, err)
	assertAmount(t, amount.Tokens(1), view.Total)

	// The account stays usable: a small top-up and a default withdrawal work
	view, err = f.svc.Deposit(ctx, call("alice", amount.One()), nil, nil)
	require.NoError(t, err)
	assertAmount(t, sub(t, amount.Tokens(1), minimum), sub(t, view.Available, amount.One()))

	view, err = f.svc.Withdraw(ctx, confirmed("alice"), nil)
	require.NoError(t, err)
	assertAmount(t, minimum, view.Total)
	assert.True(t, view.Available.IsZero())

	// Withdrawing down to exactly the minimum is allowed
	_, err = f.svc.Deposit(ctx, call("alice", amount.Tokens(1)), nil, nil)
	require.NoError(t, err)
	view, err = f.svc.Withdraw(ctx, confirmed("alice"), amountPtr(amount.Tokens(1)))
	require.NoError(t, err)
	assertAmount(t, minimum, view.Total)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.BelowMinimumWithdrawals))
}

func TestRentService_Execute(t *testing.T) {
	f := setupRentService(t)
	ctx := context.Background()

	res, err := f.svc.Execute(ctx, call("alice", amount.Tokens(2)), model.DepositRequest{})
	require.NoError(t, err)
	view, ok := res.(*model.StorageBalance)
	require.True(t, ok)
	assertAmount(t, amount.Tokens(2), view.Total)

	res, err = f.svc.Execute(ctx, model.CallContext{}, model.BalanceOfRequest{AccountID: "alice"})
	require.NoError(t, err)
	assertAmount(t, amount.Tokens(2), res.(*model.StorageBalance).Total)

	res, err = f.svc.Execute(ctx, model.CallContext{}, model.BalanceBoundsRequest{})
	require.NoError(t, err)
	assert.IsType(t, model.StorageBalanceBounds{}, res)

	res, err = f.svc.Execute(ctx, confirmed("alice"), model.WithdrawRequest{Amount: amountPtr(amount.Tokens(1))})
	require.NoError(t, err)
	assertAmount(t, amount.Tokens(1), res.(*model.StorageBalance).Total)

	res, err = f.svc.Execute(ctx, confirmed("alice"), model.UnregisterRequest{Force: boolPtr(true)})
	require.NoError(t, err)
	assert.Equal(t, true, res)

	_, err = f.svc.Execute(ctx, model.CallContext{}, nil)
	assertCode(t, err, errors.ErrCodeInvalidArgument)
}

func TestRentService_FailedCallLeavesNoTrace(t *testing.T) {
	f := setupRentService(t)
	ctx := context.Background()

	usage, err := f.store.StorageUsage()
	require.NoError(t, err)

	_, err = f.svc.Deposit(ctx, call("alice", amount.One()), nil, boolPtr(true))
	assertCode(t, err, errors.ErrCodeInsufficientDeposit)

	after, err := f.store.StorageUsage()
	require.NoError(t, err)
	assert.Equal(t, usage, after)
	assert.Empty(t, outbox(t, f.store))
	assert.False(t, f.runtime.Tracker().IsTracking())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CallsTotal.WithLabelValues("deposit", "insufficient_deposit")))
}

func TestRentService_CallMetrics(t *testing.T) {
	f := setupRentService(t)
	ctx := context.Background()

	_, err := f.svc.Deposit(ctx, call("alice", amount.Tokens(1)), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CallsTotal.WithLabelValues("deposit", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AccountsRegistered))
	assert.Equal(t, amount.Tokens(1).Float64(), testutil.ToFloat64(f.metrics.DepositedTotal))

	usage, err := f.store.StorageUsage()
	require.NoError(t, err)
	assert.Equal(t, float64(usage), testutil.ToFloat64(f.metrics.StorageUsageBytes))
}

func TestRentService_CancelledContext(t *testing.T) {
	f := setupRentService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Deposit(ctx, call("alice", amount.Tokens(1)), nil, nil)
	assert.True(t, stderrors.Is(err, context.Canceled))
}
