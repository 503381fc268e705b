package diskmanager

import (
	"errors"
	"fmt"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// DiskManager monitors the filesystem holding the host store and rejects
// ledger writes when it runs out of space
type DiskManager struct {
	dataDir       string
	logger        *zap.Logger
	statfs        func(path string) (total, available uint64, err error)
	mu            sync.Mutex
	lastCheck     time.Time
	checkInterval time.Duration

	usagePercent   float64
	availableBytes uint64

	// Thresholds in percent
	warningThreshold        float64
	throttleThreshold       float64
	circuitBreakerThreshold float64

	isThrottled     bool
	isCircuitBroken bool
}

// DiskManagerConfig holds configuration for disk manager
type DiskManagerConfig struct {
	DataDir                 string
	CheckInterval           time.Duration
	WarningThreshold        float64
	ThrottleThreshold       float64
	CircuitBreakerThreshold float64
}

// NewDiskManager creates a new disk manager with specified thresholds
func NewDiskManager(cfg *DiskManagerConfig, logger *zap.Logger) (*DiskManager, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}

	dm := &DiskManager{
		dataDir:                 cfg.DataDir,
		logger:                  logger,
		statfs:                  statfs,
		checkInterval:           cfg.CheckInterval,
		warningThreshold:        cfg.WarningThreshold,
		throttleThreshold:       cfg.ThrottleThreshold,
		circuitBreakerThreshold: cfg.CircuitBreakerThreshold,
	}

	if err := dm.ForceCheck(); err != nil {
		logger.Warn("Initial disk space check failed", zap.Error(err))
	}

	return dm, nil
}

// DefaultConfig derives thresholds from the maximum disk usage fraction
// (0.9 engages the circuit breaker at 90%)
func DefaultConfig(dataDir string, maxDiskUsage float64) *DiskManagerConfig {
	breaker := maxDiskUsage * 100
	return &DiskManagerConfig{
		DataDir:                 dataDir,
		CheckInterval:           10 * time.Second,
		WarningThreshold:        breaker - 15,
		ThrottleThreshold:       breaker - 5,
		CircuitBreakerThreshold: breaker,
	}
}

func statfs(path string) (uint64, uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, 0, fmt.Errorf("failed to stat filesystem: %w", err)
	}
	return stat.Blocks * uint64(stat.Bsize), stat.Bavail * uint64(stat.Bsize), nil
}

// CheckBeforeWrite reports whether a write of estimatedBytes may proceed.
// While throttled only writes below a tenth of the free space pass.
func (dm *DiskManager) CheckBeforeWrite(estimatedBytes uint64) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if time.Since(dm.lastCheck) > dm.checkInterval {
		if err := dm.checkDiskSpace(); err != nil {
			dm.logger.Warn("Disk space check failed", zap.Error(err))
		}
	}

	if dm.isCircuitBroken {
		return &DiskSpaceError{
			Code:            ErrCodeDiskFull,
			Message:         fmt.Sprintf("disk usage at %.2f%%, circuit breaker engaged", dm.usagePercent),
			UsagePercent:    dm.usagePercent,
			AvailableBytes:  dm.availableBytes,
			IsCircuitBroken: true,
		}
	}

	if dm.isThrottled && estimatedBytes > dm.availableBytes/10 {
		return &DiskSpaceError{
			Code:           ErrCodeDiskThrottled,
			Message:        fmt.Sprintf("disk usage at %.2f%%, write throttled", dm.usagePercent),
			UsagePercent:   dm.usagePercent,
			AvailableBytes: dm.availableBytes,
			IsThrottled:    true,
		}
	}

	if estimatedBytes > dm.availableBytes {
		return &DiskSpaceError{
			Code:           ErrCodeInsufficientSpace,
			Message:        fmt.Sprintf("insufficient space: need %d bytes, have %d bytes", estimatedBytes, dm.availableBytes),
			UsagePercent:   dm.usagePercent,
			AvailableBytes: dm.availableBytes,
		}
	}

	return nil
}

// checkDiskSpace refreshes usage and breaker state. Callers hold dm.mu.
func (dm *DiskManager) checkDiskSpace() error {
	total, available, err := dm.statfs(dm.dataDir)
	if err != nil {
		return err
	}
	if total == 0 {
		return fmt.Errorf("filesystem at %s reports zero size", dm.dataDir)
	}

	usagePercent := float64(total-available) / float64(total) * 100.0

	dm.usagePercent = usagePercent
	dm.availableBytes = available
	dm.lastCheck = time.Now()

	previouslyThrottled := dm.isThrottled
	previouslyBroken := dm.isCircuitBroken

	dm.isCircuitBroken = usagePercent >= dm.circuitBreakerThreshold
	dm.isThrottled = usagePercent >= dm.throttleThreshold && !dm.isCircuitBroken

	if dm.isCircuitBroken && !previouslyBroken {
		dm.logger.Error("Disk circuit breaker ENGAGED",
			zap.Float64("usage_percent", usagePercent),
			zap.Uint64("available_bytes", available),
			zap.Float64("threshold", dm.circuitBreakerThreshold))
	} else if !dm.isCircuitBroken && previouslyBroken {
		dm.logger.Info("Disk circuit breaker DISENGAGED",
			zap.Float64("usage_percent", usagePercent),
			zap.Uint64("available_bytes", available))
	}

	if dm.isThrottled && !previouslyThrottled {
		dm.logger.Warn("Disk write throttling ENABLED",
			zap.Float64("usage_percent", usagePercent),
			zap.Uint64("available_bytes", available),
			zap.Float64("threshold", dm.throttleThreshold))
	} else if !dm.isThrottled && previouslyThrottled {
		dm.logger.Info("Disk write throttling DISABLED",
			zap.Float64("usage_percent", usagePercent),
			zap.Uint64("available_bytes", available))
	}

	if usagePercent >= dm.warningThreshold && !dm.isThrottled && !dm.isCircuitBroken {
		dm.logger.Warn("Disk usage warning",
			zap.Float64("usage_percent", usagePercent),
			zap.Uint64("available_bytes", available),
			zap.Float64("warning_threshold", dm.warningThreshold))
	}

	return nil
}

// GetDiskUsage returns current disk usage statistics
func (dm *DiskManager) GetDiskUsage() DiskUsageStats {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if time.Since(dm.lastCheck) > dm.checkInterval {
		if err := dm.checkDiskSpace(); err != nil {
			dm.logger.Warn("Disk space check failed", zap.Error(err))
		}
	}

	return DiskUsageStats{
		UsagePercent:    dm.usagePercent,
		AvailableBytes:  dm.availableBytes,
		WarningLevel:    dm.usagePercent >= dm.warningThreshold,
		IsThrottled:     dm.isThrottled,
		IsCircuitBroken: dm.isCircuitBroken,
		LastCheck:       dm.lastCheck,
	}
}

// ForceCheck forces an immediate disk space check
func (dm *DiskManager) ForceCheck() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.checkDiskSpace()
}

// DiskUsageStats contains disk usage statistics
type DiskUsageStats struct {
	UsagePercent    float64
	AvailableBytes  uint64
	WarningLevel    bool
	IsThrottled     bool
	IsCircuitBroken bool
	LastCheck       time.Time
}

// ErrorCode classifies disk space errors
type ErrorCode int

const (
	ErrCodeDiskFull ErrorCode = iota + 1
	ErrCodeDiskThrottled
	ErrCodeInsufficientSpace
)

// DiskSpaceError represents a disk space related error
type DiskSpaceError struct {
	Code            ErrorCode
	Message         string
	UsagePercent    float64
	AvailableBytes  uint64
	IsThrottled     bool
	IsCircuitBroken bool
}

func (e *DiskSpaceError) Error() string {
	return e.Message
}

// IsDiskSpaceError checks if an error is (or wraps) a disk space error
func IsDiskSpaceError(err error) bool {
	var dse *DiskSpaceError
	return errors.As(err, &dse)
}

// IsCircuitBroken checks if the error indicates circuit breaker is engaged
func IsCircuitBroken(err error) bool {
	var dse *DiskSpaceError
	return errors.As(err, &dse) && dse.IsCircuitBroken
}
