// Package config loads marathon configuration from .marathon.yaml, MARATHON_*
// environment variables and built-in defaults.
package config

import "time"

// Session defaults.
const (
	DefaultSessionProject            = "task_queue"
	DefaultSessionDuration           = 6 * time.Hour
	DefaultSessionAgents             = 6
	DefaultSessionRunsDir            = "runs"
	DefaultSessionPollInterval       = 30 * time.Second
	DefaultSessionCheckpointInterval = 10 * time.Minute
	DefaultSessionWorkspace          = ""
)

// Checkpoint defaults. An empty dir selects ~/.selfware/checkpoints.
const (
	DefaultCheckpointDir     = ""
	DefaultCheckpointPattern = "*.json"
)

// Health defaults.
const (
	DefaultHealthStaleThreshold = 300 * time.Second
)

// Recovery defaults.
const (
	DefaultRecoveryCommand = "selfware"
	DefaultRecoveryTimeout = 10 * time.Minute
)

// Metrics defaults.
const (
	DefaultMetricsCountLines = false
)

// Observability defaults.
const (
	DefaultObservabilityListen       = ""
	DefaultObservabilityLogLevel     = "info"
	DefaultObservabilityLogJSON      = false
	DefaultObservabilityOTLPEndpoint = ""
	DefaultObservabilityOTLPInsecure = false
	DefaultObservabilityPrometheus   = false
	DefaultObservabilitySampleRatio  = 1.0
	DefaultObservabilityShutdown     = 5
)

// Ledger defaults. An empty path disables the ledger.
const (
	DefaultLedgerPath = ""
)

// defaultRecoveryArgs is the argument list placed before the task id.
func defaultRecoveryArgs() []string {
	return []string{"resume"}
}
