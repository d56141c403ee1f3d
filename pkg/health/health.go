// Package health decides executor liveness from checkpoint freshness.
package health

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Sumatoshi-tech/marathon/pkg/checkpoint"
)

// DefaultStaleThreshold is the maximum checkpoint age still considered healthy.
const DefaultStaleThreshold = 300 * time.Second

// ErrStale is returned by readiness checks while the latest checkpoint is stale.
var ErrStale = errors.New("checkpoint is stale")

// Condition classifies the latest checkpoint observation.
type Condition string

// Conditions.
const (
	ConditionMissing   Condition = "missing"
	ConditionFresh     Condition = "fresh"
	ConditionStale     Condition = "stale"
	ConditionMalformed Condition = "malformed"
)

// Healthy reports whether the condition counts as a live executor. Only a
// stale snapshot is unhealthy; staleness is judged on mtime before parsing.
func (c Condition) Healthy() bool {
	return c != ConditionStale
}

// IsHealthy reports whether the file at path is absent or was modified no
// more than threshold before now.
func IsHealthy(path string, now time.Time, threshold time.Duration) bool {
	info, err := os.Stat(path)
	if err != nil {
		return true
	}

	return !isStale(info.ModTime(), now, threshold)
}

func isStale(modTime, now time.Time, threshold time.Duration) bool {
	return now.Sub(modTime) > threshold
}

// Report is the outcome of one health check.
type Report struct {
	Healthy    bool
	Condition  Condition
	Age        time.Duration
	Ref        checkpoint.Ref
	Checkpoint *checkpoint.TaskCheckpoint
	// Err is the read or parse error behind a malformed observation.
	Err error
}

// Monitor classifies checkpoint freshness and remembers the last result for
// readiness probes.
type Monitor struct {
	Threshold time.Duration

	mu   sync.RWMutex
	last Report
	seen bool
}

// NewMonitor creates a Monitor. A non-positive threshold selects DefaultStaleThreshold.
func NewMonitor(threshold time.Duration) *Monitor {
	if threshold <= 0 {
		threshold = DefaultStaleThreshold
	}

	return &Monitor{Threshold: threshold}
}

// Check samples source once and classifies the newest snapshot.
func (m *Monitor) Check(ctx context.Context, source checkpoint.Source, now time.Time) Report {
	snap, err := source.Latest(ctx)

	return m.Classify(snap, err, now)
}

// Classify evaluates an already sampled Source.Latest result.
func (m *Monitor) Classify(snap checkpoint.Snapshot, err error, now time.Time) Report {
	report := classify(snap, err, now, m.threshold())

	m.mu.Lock()
	m.last = report
	m.seen = true
	m.mu.Unlock()

	return report
}

// Last returns the most recent report and whether any check ran yet.
func (m *Monitor) Last() (Report, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.last, m.seen
}

// ReadyCheck adapts the last classification to an HTTP readiness probe.
func (m *Monitor) ReadyCheck() func(ctx context.Context) error {
	return func(_ context.Context) error {
		report, seen := m.Last()
		if !seen || report.Healthy {
			return nil
		}

		return fmt.Errorf("%w: %s is %s old", ErrStale, report.Ref, report.Age.Round(time.Second))
	}
}

func (m *Monitor) threshold() time.Duration {
	if m.Threshold <= 0 {
		return DefaultStaleThreshold
	}

	return m.Threshold
}

func classify(snap checkpoint.Snapshot, err error, now time.Time, threshold time.Duration) Report {
	if errors.Is(err, checkpoint.ErrNoCheckpoint) {
		return Report{Healthy: true, Condition: ConditionMissing}
	}

	report := Report{
		Ref:        snap.Ref,
		Checkpoint: snap.Checkpoint,
		Err:        err,
	}

	if !snap.ModTime.IsZero() {
		report.Age = now.Sub(snap.ModTime)
	}

	switch {
	case !snap.ModTime.IsZero() && isStale(snap.ModTime, now, threshold):
		report.Condition = ConditionStale
	case err != nil:
		report.Condition = ConditionMalformed
	default:
		report.Condition = ConditionFresh
	}

	report.Healthy = report.Condition.Healthy()

	return report
}
