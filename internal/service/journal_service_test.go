package service_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/devrev/pairdb/storage-rent/internal/amount"
	"github.com/devrev/pairdb/storage-rent/internal/metrics"
	"github.com/devrev/pairdb/storage-rent/internal/model"
	"github.com/devrev/pairdb/storage-rent/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openJournal(t *testing.T, dir string, segmentSize int64) *service.JournalService {
	t.Helper()
	m := metrics.NewMetrics(prometheus.NewRegistry(), "test-node")
	journal, err := service.NewJournalService(&service.JournalConfig{SegmentSize: segmentSize}, dir, m, zap.NewNop())
	require.NoError(t, err)
	return journal
}

func replayAll(t *testing.T, journal *service.JournalService) []*model.JournalEvent {
	t.Helper()
	var events []*model.JournalEvent
	_, err := journal.Replay(context.Background(), func(e *model.JournalEvent) error {
		events = append(events, e)
		return nil
	})
	require.NoError(t, err)
	return events
}

func TestJournalService_AppendReplay(t *testing.T) {
	dir := t.TempDir()
	journal := openJournal(t, dir, 1024*1024)
	ctx := context.Background()

	for _, op := range []model.Operation{model.OperationDeposit, model.OperationWithdraw, model.OperationUnregister} {
		require.NoError(t, journal.Append(ctx, &model.JournalEvent{
			Operation: op,
			Caller:    "alice",
			Attached:  amount.One(),
			Outcome:   model.CallOutcomeCommitted,
		}))
	}

	events := replayAll(t, journal)
	require.Len(t, events, 3)
	for i, e := range events {
		assert.Equal(t, uint64(i+1), e.SequenceNumber)
		assert.NotZero(t, e.Timestamp)
		assert.NotZero(t, e.Checksum)
	}
	assert.Equal(t, model.OperationWithdraw, events[1].Operation)
	require.NoError(t, journal.Close())

	// Reopening continues the sequence
	journal = openJournal(t, dir, 1024*1024)
	defer journal.Close()
	event := &model.JournalEvent{Operation: model.OperationDeposit, Caller: "bob"}
	require.NoError(t, journal.Append(ctx, event))
	assert.Equal(t, uint64(4), event.SequenceNumber)
	assert.Len(t, replayAll(t, journal), 4)
}

func TestJournalService_Rotation(t *testing.T) {
	dir := t.TempDir()
	journal := openJournal(t, dir, 200)
	defer journal.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, journal.Append(context.Background(), &model.JournalEvent{
			Operation: model.OperationDeposit,
			Caller:    "alice",
			Outcome:   model.CallOutcomeCommitted,
		}))
	}

	assert.Greater(t, journal.Segments(), 1)
	assert.Len(t, replayAll(t, journal), 5)
}

func TestJournalService_SkipsCorruptedLines(t *testing.T) {
	dir := t.TempDir()
	journal := openJournal(t, dir, 1024*1024)

	require.NoError(t, journal.Append(context.Background(), &model.JournalEvent{Operation: model.OperationDeposit, Caller: "alice"}))
	require.NoError(t, journal.Close())

	files, err := filepath.Glob(filepath.Join(dir, "journal-*.log"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	f, err := os.OpenFile(files[len(files)-1], os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n" + `{"seq":9,"op":"deposit","caller":"mallory","crc":1}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	journal = openJournal(t, dir, 1024*1024)
	defer journal.Close()

	events := replayAll(t, journal)
	require.Len(t, events, 1)
	assert.Equal(t, "alice", events[0].Caller)
}

func TestRentService_JournalsMutatingCalls(t *testing.T) {
	journal := openJournal(t, t.TempDir(), 1024*1024)
	defer journal.Close()

	f := setupRentServiceWithJournal(t, journal)
	ctx := context.Background()

	_, err := f.svc.Deposit(ctx, call("alice", amount.Tokens(1)), nil, boolPtr(true))
	require.NoError(t, err)
	_, err = f.svc.Withdraw(ctx, call("alice", amount.Zero()), nil)
	require.Error(t, err)
	_, err = f.svc.BalanceOf(ctx, "alice")
	require.NoError(t, err)

	events := replayAll(t, journal)
	require.Len(t, events, 2, "reads are not journaled")

	assert.Equal(t, model.OperationDeposit, events[0].Operation)
	assert.Equal(t, model.CallOutcomeCommitted, events[0].Outcome)
	assert.Equal(t, "alice", events[0].AccountID)
	require.NotNil(t, events[0].Balance)
	assertAmount(t, f.policy.RequiredMinimumFor("alice"), *events[0].Balance)
	require.Len(t, events[0].Payouts, 1)
	assert.Equal(t, model.PayoutReasonRefund, events[0].Payouts[0].Reason)

	assert.Equal(t, model.OperationWithdraw, events[1].Operation)
	assert.Equal(t, model.CallOutcomeRejected, events[1].Outcome)
	assert.Equal(t, "MISSING_CONFIRMATION", events[1].ErrorCode)
	assert.Nil(t, events[1].Balance)
}
