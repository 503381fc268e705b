package model

// HealthStatus represents the health state of a rent node
type HealthStatus struct {
	NodeID    string        `json:"node_id"`
	Status    NodeStatus    `json:"status"`
	Timestamp int64         `json:"timestamp"`
	Metrics   HealthMetrics `json:"metrics"`
}

// NodeStatus defines the operational status of a node
type NodeStatus string

const (
	NodeStatusHealthy   NodeStatus = "healthy"
	NodeStatusDegraded  NodeStatus = "degraded"
	NodeStatusUnhealthy NodeStatus = "unhealthy"
)

// HealthMetrics contains various health metrics
type HealthMetrics struct {
	DiskUsage      float64 `json:"disk_usage"`
	StorageUsage   uint64  `json:"storage_usage"`
	PendingPayouts int     `json:"pending_payouts"`
	Running        bool    `json:"running"`
}
