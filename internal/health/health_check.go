package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/devrev/pairdb/storage-rent/internal/metrics"
	"github.com/devrev/pairdb/storage-rent/internal/model"
	"github.com/devrev/pairdb/storage-rent/internal/storage/diskmanager"
	"go.uber.org/zap"
)

// Check statuses
const (
	StatusHealthy  = "healthy"
	StatusWarning  = "warning"
	StatusCritical = "critical"
)

// UsageSource reports the committed host byte-usage counter
type UsageSource interface {
	StorageUsage() (uint64, error)
}

// BacklogSource reports the number of undelivered payouts
type BacklogSource interface {
	Pending() (int, error)
}

// StateSource reads the administrative contract state
type StateSource interface {
	ContractState(ctx context.Context) (*model.ContractState, error)
}

// HealthChecker performs health checks for the rent node
type HealthChecker struct {
	nodeID           string
	dataDir          string
	backlogThreshold int
	interval         time.Duration
	store            UsageSource
	payouts          BacklogSource
	state            StateSource
	disk             *diskmanager.DiskManager
	metrics          *metrics.Metrics
	logger           *zap.Logger
	mu               sync.RWMutex
	lastCheck        time.Time
	status           model.NodeStatus
	snapshot         model.HealthMetrics
	checks           map[string]CheckResult
	livenessOK       bool
	readinessOK      bool
}

// CheckResult represents the result of a health check
type CheckResult struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthCheckConfig holds configuration for health checks
type HealthCheckConfig struct {
	NodeID           string
	DataDir          string // empty for the in-memory store
	BacklogThreshold int
	Interval         time.Duration
}

// Dependencies are the components the checker probes. Payouts and Disk
// may be nil.
type Dependencies struct {
	Store   UsageSource
	Payouts BacklogSource
	State   StateSource
	Disk    *diskmanager.DiskManager
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(cfg *HealthCheckConfig, deps Dependencies, m *metrics.Metrics, logger *zap.Logger) *HealthChecker {
	if cfg.BacklogThreshold <= 0 {
		cfg.BacklogThreshold = 10000
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}

	return &HealthChecker{
		nodeID:           cfg.NodeID,
		dataDir:          cfg.DataDir,
		backlogThreshold: cfg.BacklogThreshold,
		interval:         cfg.Interval,
		store:            deps.Store,
		payouts:          deps.Payouts,
		state:            deps.State,
		disk:             deps.Disk,
		metrics:          m,
		logger:           logger,
		checks:           make(map[string]CheckResult),
		livenessOK:       true,
		readinessOK:      true,
		status:           model.NodeStatusHealthy,
	}
}

// Start runs the checks periodically until ctx is done
func (h *HealthChecker) Start(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.RunChecks(ctx)

	for {
		select {
		case <-ticker.C:
			h.RunChecks(ctx)
		case <-ctx.Done():
			h.logger.Info("Health checker stopped")
			return nil
		}
	}
}

// RunChecks runs all checks once and updates the node status
func (h *HealthChecker) RunChecks(ctx context.Context) {
	snapshot := model.HealthMetrics{}

	checks := []func() CheckResult{
		func() CheckResult { return h.checkHostStore(&snapshot) },
		func() CheckResult { return h.checkRunningState(ctx, &snapshot) },
		func() CheckResult { return h.checkPayoutBacklog(&snapshot) },
	}
	if h.dataDir != "" {
		checks = append(checks, h.checkDataDirAccessible)
	}
	if h.disk != nil {
		checks = append(checks, func() CheckResult { return h.checkDiskSpace(&snapshot) })
	}

	results := make([]CheckResult, 0, len(checks))
	for _, check := range checks {
		results = append(results, check())
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastCheck = time.Now()
	allHealthy := true
	allReady := true

	for _, result := range results {
		h.checks[result.Name] = result

		if result.Status != StatusHealthy {
			allHealthy = false
			if result.Status == StatusCritical {
				allReady = false
			}
		}
	}

	switch {
	case !allReady:
		h.status = model.NodeStatusUnhealthy
	case !allHealthy:
		h.status = model.NodeStatusDegraded
	default:
		h.status = model.NodeStatusHealthy
	}

	h.snapshot = snapshot
	h.livenessOK = true
	h.readinessOK = allReady

	h.logger.Debug("Health check completed",
		zap.String("status", string(h.status)),
		zap.Bool("liveness", h.livenessOK),
		zap.Bool("readiness", h.readinessOK))
}

func result(name, status, message string) CheckResult {
	return CheckResult{Name: name, Status: status, Message: message, Timestamp: time.Now()}
}

// checkHostStore verifies the store answers reads
func (h *HealthChecker) checkHostStore(snapshot *model.HealthMetrics) CheckResult {
	usage, err := h.store.StorageUsage()
	if err != nil {
		return result("host_store", StatusCritical, fmt.Sprintf("Host store unreadable: %v", err))
	}
	snapshot.StorageUsage = usage
	return result("host_store", StatusHealthy, fmt.Sprintf("Storage usage: %d bytes", usage))
}

// checkRunningState reports a paused contract as degraded
func (h *HealthChecker) checkRunningState(ctx context.Context, snapshot *model.HealthMetrics) CheckResult {
	st, err := h.state.ContractState(ctx)
	if err != nil {
		return result("running_state", StatusCritical, fmt.Sprintf("Contract state unavailable: %v", err))
	}
	snapshot.Running = st.RunningState == model.RunningStateRunning
	if !snapshot.Running {
		return result("running_state", StatusWarning, "Contract is paused")
	}
	return result("running_state", StatusHealthy, "Contract is running")
}

// checkPayoutBacklog warns when undelivered payouts pile up
func (h *HealthChecker) checkPayoutBacklog(snapshot *model.HealthMetrics) CheckResult {
	if h.payouts == nil {
		return result("payout_backlog", StatusHealthy, "Payout broadcaster disabled")
	}

	pending, err := h.payouts.Pending()
	if err != nil {
		return result("payout_backlog", StatusWarning, fmt.Sprintf("Failed to count pending payouts: %v", err))
	}
	snapshot.PendingPayouts = pending
	if pending > h.backlogThreshold {
		return result("payout_backlog", StatusWarning,
			fmt.Sprintf("Payout backlog high: %d pending (threshold %d)", pending, h.backlogThreshold))
	}
	return result("payout_backlog", StatusHealthy, fmt.Sprintf("%d payouts pending", pending))
}

// checkDataDirAccessible checks if data directory is accessible
func (h *HealthChecker) checkDataDirAccessible() CheckResult {
	info, err := os.Stat(h.dataDir)
	if err != nil {
		return result("data_dir_accessible", StatusCritical, fmt.Sprintf("Data directory not accessible: %v", err))
	}
	if !info.IsDir() {
		return result("data_dir_accessible", StatusCritical, "Data path is not a directory")
	}

	testFile := filepath.Join(h.dataDir, fmt.Sprintf(".health_check_%d", time.Now().UnixNano()))
	f, err := os.Create(testFile)
	if err != nil {
		return result("data_dir_accessible", StatusCritical, fmt.Sprintf("Cannot write to data directory: %v", err))
	}
	f.Close()
	os.Remove(testFile)

	return result("data_dir_accessible", StatusHealthy, "Data directory is accessible and writable")
}

// checkDiskSpace checks if disk space is sufficient
func (h *HealthChecker) checkDiskSpace(snapshot *model.HealthMetrics) CheckResult {
	stats := h.disk.GetDiskUsage()
	snapshot.DiskUsage = stats.UsagePercent
	h.metrics.UpdateDiskUsage(stats.UsagePercent)

	switch {
	case stats.IsCircuitBroken:
		return result("disk_space", StatusCritical, fmt.Sprintf("Disk usage critical: %.2f%%", stats.UsagePercent))
	case stats.IsThrottled || stats.WarningLevel:
		return result("disk_space", StatusWarning, fmt.Sprintf("Disk usage high: %.2f%%", stats.UsagePercent))
	}
	return result("disk_space", StatusHealthy, fmt.Sprintf("Disk usage: %.2f%%, available: %.2f GB",
		stats.UsagePercent, float64(stats.AvailableBytes)/1024/1024/1024))
}

// IsLive returns whether the node is live (liveness probe)
func (h *HealthChecker) IsLive() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.livenessOK
}

// IsReady returns whether the node is ready (readiness probe)
func (h *HealthChecker) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.readinessOK
}

// GetStatus returns the current health status
func (h *HealthChecker) GetStatus() model.HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return model.HealthStatus{
		NodeID:    h.nodeID,
		Status:    h.status,
		Timestamp: h.lastCheck.Unix(),
		Metrics:   h.snapshot,
	}
}

// GetChecks returns all check results
func (h *HealthChecker) GetChecks() map[string]CheckResult {
	h.mu.RLock()
	defer h.mu.RUnlock()

	checks := make(map[string]CheckResult, len(h.checks))
	for k, v := range h.checks {
		checks[k] = v
	}
	return checks
}

// SetReadiness manually sets readiness status (for graceful shutdown)
func (h *HealthChecker) SetReadiness(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readinessOK = ready
}

// LivenessHandler handles HTTP liveness probe requests
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	live := h.IsLive()
	status := h.GetStatus()

	w.Header().Set("Content-Type", "application/json")
	if !live {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"healthy": live,
		"status":  status.Status,
	})
}

// ReadinessHandler handles HTTP readiness probe requests
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ready := h.IsReady()
	status := h.GetStatus()

	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"ready":   ready,
		"status":  status.Status,
		"metrics": status.Metrics,
		"checks":  h.GetChecks(),
	})
}
