package domain

import "time"

// SystemStatus is a point-in-time snapshot of the orchestration core,
// recomputed on demand for external observers.
type SystemStatus struct {
	Running        bool      `json:"running"`
	ActiveAgents   int       `json:"active_agents"`
	PendingBuckets int       `json:"pending_buckets"`
	QueueDepth     int       `json:"queue_depth"`
	RiskLevel      string    `json:"risk_level"`
	At             time.Time `json:"at"`
}
