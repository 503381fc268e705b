package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/devrev/pairdb/storage-rent/internal/metrics"
	"github.com/devrev/pairdb/storage-rent/internal/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStore struct {
	usage uint64
	err   error
}

func (s *fakeStore) StorageUsage() (uint64, error) { return s.usage, s.err }

type fakeBacklog struct {
	pending int
}

func (b *fakeBacklog) Pending() (int, error) { return b.pending, nil }

type fakeState struct {
	state model.RunningState
}

func (s *fakeState) ContractState(ctx context.Context) (*model.ContractState, error) {
	return &model.ContractState{Owner: "owner", RunningState: s.state}, nil
}

func newChecker(t *testing.T, store *fakeStore, backlog *fakeBacklog, state *fakeState) *HealthChecker {
	t.Helper()
	return NewHealthChecker(
		&HealthCheckConfig{NodeID: "node-1", DataDir: t.TempDir(), BacklogThreshold: 10},
		Dependencies{Store: store, Payouts: backlog, State: state},
		metrics.NewMetrics(prometheus.NewRegistry(), "node-1"),
		zap.NewNop(),
	)
}

func TestHealthChecker_RunChecks(t *testing.T) {
	tests := []struct {
		name       string
		store      *fakeStore
		pending    int
		state      model.RunningState
		wantStatus model.NodeStatus
		wantReady  bool
	}{
		{
			name:       "healthy",
			store:      &fakeStore{usage: 500},
			state:      model.RunningStateRunning,
			wantStatus: model.NodeStatusHealthy,
			wantReady:  true,
		},
		{
			name:       "paused is degraded",
			store:      &fakeStore{usage: 500},
			state:      model.RunningStatePaused,
			wantStatus: model.NodeStatusDegraded,
			wantReady:  true,
		},
		{
			name:       "payout backlog is degraded",
			store:      &fakeStore{usage: 500},
			pending:    11,
			state:      model.RunningStateRunning,
			wantStatus: model.NodeStatusDegraded,
			wantReady:  true,
		},
		{
			name:       "unreadable store is unhealthy",
			store:      &fakeStore{err: errors.New("closed")},
			state:      model.RunningStateRunning,
			wantStatus: model.NodeStatusUnhealthy,
			wantReady:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newChecker(t, tt.store, &fakeBacklog{pending: tt.pending}, &fakeState{state: tt.state})
			h.RunChecks(context.Background())

			status := h.GetStatus()
			assert.Equal(t, tt.wantStatus, status.Status)
			assert.Equal(t, tt.wantReady, h.IsReady())
			assert.True(t, h.IsLive())
			assert.Equal(t, tt.pending, status.Metrics.PendingPayouts)
			assert.Contains(t, h.GetChecks(), "data_dir_accessible")
		})
	}
}

func TestHealthChecker_ReadinessHandler(t *testing.T) {
	h := newChecker(t, &fakeStore{usage: 123}, &fakeBacklog{}, &fakeState{state: model.RunningStateRunning})
	h.RunChecks(context.Background())

	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["ready"])
	assert.Equal(t, "healthy", body["status"])

	h.SetReadiness(false)
	rec = httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	h.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
