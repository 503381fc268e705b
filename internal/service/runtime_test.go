package service_test

import (
	"context"
	"testing"

	"github.com/devrev/pairdb/storage-rent/internal/amount"
	"github.com/devrev/pairdb/storage-rent/internal/errors"
	"github.com/devrev/pairdb/storage-rent/internal/metrics"
	"github.com/devrev/pairdb/storage-rent/internal/model"
	"github.com/devrev/pairdb/storage-rent/internal/service"
	"github.com/devrev/pairdb/storage-rent/internal/storage/hoststore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupRuntime(t *testing.T) (*service.Runtime, *hoststore.MemoryStore, *metrics.Metrics) {
	t.Helper()
	store := hoststore.NewMemoryStore(hoststore.DefaultRecordOverhead)
	m := metrics.NewMetrics(prometheus.NewRegistry(), "test-node")
	return service.NewRuntime(store, m, zap.NewNop()), store, m
}

func TestRuntime_CommitWritesPayouts(t *testing.T) {
	runtime, store, m := setupRuntime(t)
	ctx := context.Background()

	notified := 0
	runtime.SetPayoutNotifier(func() { notified++ })

	cc := model.CallContext{Caller: "alice", RequestID: "req-1"}
	receipt, err := runtime.Execute(ctx, cc, false, func(c *service.Call) error {
		c.Transfer("alice", amount.FromUint64(10), model.PayoutReasonRefund)
		c.Transfer("alice", amount.Zero(), model.PayoutReasonRefund)
		c.Transfer("bob", amount.FromUint64(20), model.PayoutReasonWithdraw)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, receipt.Payouts, 2, "zero transfers are dropped")
	assert.Equal(t, uint64(1), receipt.Payouts[0].Sequence)
	assert.Equal(t, uint64(2), receipt.Payouts[1].Sequence)
	assert.Equal(t, "req-1", receipt.Payouts[1].RequestID)
	assert.NotZero(t, receipt.Payouts[0].CreatedAt)
	assert.Equal(t, 1, notified)

	receipt, err = runtime.Execute(ctx, cc, false, func(c *service.Call) error {
		c.Transfer("carol", amount.FromUint64(30), model.PayoutReasonUnregister)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, receipt.Payouts, 1)
	assert.Equal(t, uint64(3), receipt.Payouts[0].Sequence)

	payouts := outbox(t, store)
	require.Len(t, payouts, 3)
	assert.Equal(t, []string{"alice", "bob", "carol"},
		[]string{payouts[0].Destination, payouts[1].Destination, payouts[2].Destination})
	assert.Equal(t, 3.0, testutil.ToFloat64(m.PayoutsQueuedTotal))

	// Calls without transfers do not wake the broadcaster
	_, err = runtime.Execute(ctx, cc, false, func(c *service.Call) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, 2, notified)
}

func TestRuntime_FailedCallRollsBack(t *testing.T) {
	runtime, store, m := setupRuntime(t)
	ctx := context.Background()

	usage, err := store.StorageUsage()
	require.NoError(t, err)

	_, err = runtime.Execute(ctx, model.CallContext{Caller: "alice"}, false, func(c *service.Call) error {
		require.NoError(t, c.Tracker().Track(c.Usage()))
		require.NoError(t, c.Ledger().Insert(&model.Account{ID: "alice", PrepaidBalance: amount.FromUint64(5)}))
		c.Transfer("alice", amount.FromUint64(5), model.PayoutReasonRefund)
		return errors.InvalidArgument("boom", nil)
	})
	assertCode(t, err, errors.ErrCodeInvalidArgument)

	assert.False(t, runtime.Tracker().IsTracking())
	assert.Empty(t, outbox(t, store))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RollbacksTotal))

	after, err := store.StorageUsage()
	require.NoError(t, err)
	assert.Equal(t, usage, after)

	_, err = runtime.Execute(ctx, model.CallContext{}, true, func(c *service.Call) error {
		exists, err := c.Ledger().Exists("alice")
		require.NoError(t, err)
		assert.False(t, exists)
		return nil
	})
	require.NoError(t, err)
}

func TestRuntime_ReadOnlyDiscards(t *testing.T) {
	runtime, store, _ := setupRuntime(t)
	ctx := context.Background()

	receipt, err := runtime.Execute(ctx, model.CallContext{}, true, func(c *service.Call) error {
		c.Transfer("alice", amount.FromUint64(5), model.PayoutReasonRefund)
		return c.Ledger().Insert(&model.Account{ID: "alice"})
	})
	require.NoError(t, err)
	assert.Empty(t, receipt.Payouts)
	assert.Empty(t, outbox(t, store))
	assert.Equal(t, 0, store.Len())
}

func TestRuntime_TrackerActiveAtEntry(t *testing.T) {
	runtime, _, _ := setupRuntime(t)

	usage := &fakeUsage{}
	require.NoError(t, runtime.Tracker().Track(usage))

	ran := false
	_, err := runtime.Execute(context.Background(), model.CallContext{}, false, func(c *service.Call) error {
		ran = true
		return nil
	})
	assertCode(t, err, errors.ErrCodeInvariantBroken)
	assert.False(t, ran)

	_, err = runtime.Tracker().Finish(usage, 0)
	require.NoError(t, err)
}

func TestRuntime_ContractStateGuards(t *testing.T) {
	runtime, _, _ := setupRuntime(t)
	ctx := context.Background()

	_, err := runtime.Execute(ctx, model.CallContext{Caller: "owner"}, false, func(c *service.Call) error {
		return c.SetContractState(&model.ContractState{Owner: "owner", RunningState: model.RunningStatePaused})
	})
	require.NoError(t, err)

	_, err = runtime.Execute(ctx, model.CallContext{Caller: "owner"}, true, func(c *service.Call) error {
		require.NoError(t, c.AssertOwner())
		return c.AssertRunning()
	})
	assertCode(t, err, errors.ErrCodeContractPaused)

	_, err = runtime.Execute(ctx, model.CallContext{Caller: "mallory"}, true, func(c *service.Call) error {
		return c.AssertOwner()
	})
	assertCode(t, err, errors.ErrCodeNotOwner)
}

func TestRuntime_Update(t *testing.T) {
	runtime, store, _ := setupRuntime(t)
	ctx := context.Background()

	_, err := runtime.Execute(ctx, model.CallContext{}, false, func(c *service.Call) error {
		c.Transfer("alice", amount.FromUint64(5), model.PayoutReasonRefund)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, outbox(t, store), 1)

	err = runtime.Update(ctx, func(txn hoststore.Txn) error {
		return txn.Delete(model.PayoutKey(1))
	})
	require.NoError(t, err)
	assert.Empty(t, outbox(t, store))

	// The sequence keeps counting after acknowledged payouts are removed
	receipt, err := runtime.Execute(ctx, model.CallContext{}, false, func(c *service.Call) error {
		c.Transfer("alice", amount.FromUint64(5), model.PayoutReasonRefund)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), receipt.Payouts[0].Sequence)
}
