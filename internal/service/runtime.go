package service

import (
	"context"
	"encoding/binary"
	stderrors "errors"
	"sync"
	"time"

	"github.com/devrev/pairdb/storage-rent/internal/amount"
	"github.com/devrev/pairdb/storage-rent/internal/errors"
	"github.com/devrev/pairdb/storage-rent/internal/metrics"
	"github.com/devrev/pairdb/storage-rent/internal/model"
	"github.com/devrev/pairdb/storage-rent/internal/storage/hoststore"
	"go.uber.org/zap"
)

// errNotInitialized marks a store without contract state
var errNotInitialized = stderrors.New("contract state is not initialized")

// Call is the execution context of one call. It owns the call's store
// transaction, ledger view and queued transfers.
type Call struct {
	model.CallContext

	txn     hoststore.Txn
	ledger  *AccountLedger
	tracker *UsageTracker
	state   *model.ContractState
	payouts []model.Payout
}

// Ledger returns the account ledger of this call
func (c *Call) Ledger() *AccountLedger {
	return c.ledger
}

// Tracker returns the process-wide usage tracker
func (c *Call) Tracker() *UsageTracker {
	return c.tracker
}

// Usage returns the host byte-usage counter as seen by this call
func (c *Call) Usage() UsageReader {
	return c.txn
}

// Transfer queues a currency transfer. Transfers leave the ledger only if
// the call commits; zero amounts are dropped.
func (c *Call) Transfer(destination string, amt amount.Amount, reason model.PayoutReason) {
	if amt.IsZero() {
		return
	}
	c.payouts = append(c.payouts, model.Payout{
		Destination: destination,
		Amount:      amt,
		Reason:      reason,
	})
}

// ContractState loads the persisted administrative state
func (c *Call) ContractState() (*model.ContractState, error) {
	if c.state != nil {
		return c.state, nil
	}

	value, err := c.txn.Get([]byte(model.ContractStateKey))
	if stderrors.Is(err, hoststore.ErrNotFound) {
		return nil, errors.InternalError("failed to load contract state", errNotInitialized)
	}
	if err != nil {
		return nil, errors.StoreFailed("failed to read contract state", err)
	}

	st, err := model.DecodeContractState(value)
	if err != nil {
		return nil, errors.CorruptedRecord(model.ContractStateKey, err)
	}
	c.state = st
	return st, nil
}

// SetContractState persists the administrative state
func (c *Call) SetContractState(st *model.ContractState) error {
	if err := c.txn.Set([]byte(model.ContractStateKey), model.EncodeContractState(st)); err != nil {
		return errors.StoreFailed("failed to write contract state", err)
	}
	c.state = st
	return nil
}

// AssertRunning fails with ContractPaused unless the contract is running
func (c *Call) AssertRunning() error {
	st, err := c.ContractState()
	if err != nil {
		return err
	}
	if st.RunningState != model.RunningStateRunning {
		return errors.ContractPaused()
	}
	return nil
}

// AssertOwner fails with NotOwner unless the caller owns the contract
func (c *Call) AssertOwner() error {
	st, err := c.ContractState()
	if err != nil {
		return err
	}
	if c.Caller != st.Owner {
		return errors.NotOwner(c.Caller)
	}
	return nil
}

// CallReceipt describes a committed call
type CallReceipt struct {
	Payouts      []model.Payout
	StorageUsage uint64
}

// Runtime executes calls one at a time against the host store. A call
// either commits all of its writes and queued transfers or none of them.
type Runtime struct {
	mu      sync.Mutex
	store   hoststore.Store
	tracker *UsageTracker
	notify  func()
	clock   func() time.Time
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewRuntime creates a runtime over store
func NewRuntime(store hoststore.Store, m *metrics.Metrics, logger *zap.Logger) *Runtime {
	return &Runtime{
		store:   store,
		tracker: NewUsageTracker(),
		notify:  func() {},
		clock:   time.Now,
		metrics: m,
		logger:  logger,
	}
}

// SetPayoutNotifier registers a callback invoked after a call commits payouts
// (called after initialization to avoid a construction cycle with the broadcaster)
func (r *Runtime) SetPayoutNotifier(fn func()) {
	r.notify = fn
}

// Tracker returns the process-wide usage tracker
func (r *Runtime) Tracker() *UsageTracker {
	return r.tracker
}

// Store returns the underlying host store
func (r *Runtime) Store() hoststore.Store {
	return r.store
}

// Execute runs fn as one call. Read-only calls are always discarded.
func (r *Runtime) Execute(ctx context.Context, cc model.CallContext, readOnly bool, fn func(*Call) error) (*CallReceipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.tracker.IsTracking() {
		r.logger.Error("Usage tracker active at call entry",
			zap.String("request_id", cc.RequestID))
		return nil, errors.InvariantBroken("storage tracking is active at call entry")
	}

	txn, err := r.store.Begin()
	if err != nil {
		return nil, errors.StoreFailed("failed to begin transaction", err)
	}

	call := &Call{
		CallContext: cc,
		txn:         txn,
		ledger:      NewAccountLedger(txn),
		tracker:     r.tracker,
	}

	if err := fn(call); err != nil {
		r.rollback(txn, cc, err)
		return nil, err
	}

	if readOnly {
		txn.Discard()
		return &CallReceipt{StorageUsage: txn.StorageUsage()}, nil
	}

	payouts, err := r.enqueuePayouts(txn, cc, call.payouts)
	if err != nil {
		r.rollback(txn, cc, err)
		return nil, err
	}

	usage := txn.StorageUsage()
	if err := txn.Commit(); err != nil {
		r.tracker.reset()
		r.metrics.RecordRollback()
		r.logger.Error("Failed to commit call",
			zap.String("request_id", cc.RequestID),
			zap.Error(err))
		return nil, errors.StoreFailed("failed to commit call", err)
	}

	r.metrics.UpdateStorageUsage(usage)
	if len(payouts) > 0 {
		r.metrics.RecordPayoutsQueued(len(payouts))
		r.notify()
	}

	return &CallReceipt{Payouts: payouts, StorageUsage: usage}, nil
}

// Update runs host-internal maintenance on a transaction, serialized with calls
func (r *Runtime) Update(ctx context.Context, fn func(txn hoststore.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	txn, err := r.store.Begin()
	if err != nil {
		return errors.StoreFailed("failed to begin transaction", err)
	}

	if err := fn(txn); err != nil {
		txn.Discard()
		return err
	}

	usage := txn.StorageUsage()
	if err := txn.Commit(); err != nil {
		return errors.StoreFailed("failed to commit maintenance", err)
	}
	r.metrics.UpdateStorageUsage(usage)
	return nil
}

// rollback discards the call's writes, queued transfers and tracker state
func (r *Runtime) rollback(txn hoststore.Txn, cc model.CallContext, cause error) {
	txn.Discard()
	r.tracker.reset()
	r.metrics.RecordRollback()
	r.logger.Debug("Call rolled back",
		zap.String("request_id", cc.RequestID),
		zap.String("caller_id", cc.Caller),
		zap.Error(cause))
}

// enqueuePayouts writes queued transfers to the outbox inside txn
func (r *Runtime) enqueuePayouts(txn hoststore.Txn, cc model.CallContext, queued []model.Payout) ([]model.Payout, error) {
	if len(queued) == 0 {
		return nil, nil
	}

	seq, err := readSequence(txn)
	if err != nil {
		return nil, err
	}

	now := r.clock().UnixNano()
	payouts := make([]model.Payout, len(queued))
	for i, p := range queued {
		seq++
		p.Sequence = seq
		p.RequestID = cc.RequestID
		p.CreatedAt = now

		value, err := model.EncodePayout(&p)
		if err != nil {
			return nil, errors.InternalError("failed to encode payout", err)
		}
		if err := txn.Set(model.PayoutKey(seq), value); err != nil {
			return nil, errors.StoreFailed("failed to write payout", err)
		}
		payouts[i] = p
	}

	var raw [8]byte
	binary.BigEndian.PutUint64(raw[:], seq)
	if err := txn.Set([]byte(model.PayoutSeqKey), raw[:]); err != nil {
		return nil, errors.StoreFailed("failed to write payout sequence", err)
	}
	return payouts, nil
}

func readSequence(txn hoststore.Txn) (uint64, error) {
	raw, err := txn.Get([]byte(model.PayoutSeqKey))
	if stderrors.Is(err, hoststore.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.StoreFailed("failed to read payout sequence", err)
	}
	if len(raw) != 8 {
		return 0, errors.CorruptedRecord(model.PayoutSeqKey, nil)
	}
	return binary.BigEndian.Uint64(raw), nil
}
