// Package status exposes a read-only snapshot of the orchestration core for
// external observers.
package status

import (
	"time"

	"github.com/arbiterhq/arbiter/internal/domain"
)

type agentCounter interface {
	ActiveCount() int
}

type bucketCounter interface {
	PendingBuckets() int
}

type queueDepther interface {
	QueueDepth() int
}

type riskLeveler interface {
	LastLevel() domain.RiskLevel
}

// Reporter recomputes a SystemStatus on demand; it never caches and never
// mutates the components it reads from.
type Reporter struct {
	running func() bool
	agents  agentCounter
	buckets bucketCounter
	queue   queueDepther
	risk    riskLeveler
}

// New creates a reporter. running reports whether the pipeline is accepting
// work (i.e. not halted).
func New(running func() bool, agents agentCounter, buckets bucketCounter, queue queueDepther, risk riskLeveler) *Reporter {
	return &Reporter{
		running: running,
		agents:  agents,
		buckets: buckets,
		queue:   queue,
		risk:    risk,
	}
}

// Snapshot returns the current system state.
func (r *Reporter) Snapshot() domain.SystemStatus {
	return domain.SystemStatus{
		Running:        r.running(),
		ActiveAgents:   r.agents.ActiveCount(),
		PendingBuckets: r.buckets.PendingBuckets(),
		QueueDepth:     r.queue.QueueDepth(),
		RiskLevel:      r.risk.LastLevel().String(),
		At:             time.Now(),
	}
}
