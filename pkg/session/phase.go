// Package session drives a time-boxed, multi-phase marathon session: it samples
// executor checkpoints, records progress, detects stalls and triggers recovery.
package session

import "time"

// Phase is a session state.
type Phase string

// Session states. Completed and Failed are terminal.
const (
	PhaseBootstrap    Phase = "bootstrap"
	PhaseDevelopment  Phase = "development"
	PhaseRefinement   Phase = "refinement"
	PhaseFinalization Phase = "finalization"
	PhaseCompleted    Phase = "completed"
	PhaseFailed       Phase = "failed"
)

// IsTerminal reports whether the session ended.
func (p Phase) IsTerminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// DefaultDuration is the total of the default phase budgets.
const DefaultDuration = 6 * time.Hour

// Step is one time-boxed phase of a plan.
type Step struct {
	Phase  Phase
	Budget time.Duration
}

// Plan is the ordered list of work phases.
type Plan []Step

// phaseWeights splits a session 1:2:2:1 across the work phases.
var phaseWeights = []struct {
	phase  Phase
	weight int64
}{
	{PhaseBootstrap, 1},
	{PhaseDevelopment, 2},
	{PhaseRefinement, 2},
	{PhaseFinalization, 1},
}

const totalWeight = 6

// DefaultPlan returns the 1h/2h/2h/1h plan.
func DefaultPlan() Plan {
	return ScaledPlan(DefaultDuration)
}

// ScaledPlan distributes total across the work phases in the default
// proportions. The budgets always sum to total; a non-positive total selects
// DefaultDuration.
func ScaledPlan(total time.Duration) Plan {
	if total <= 0 {
		total = DefaultDuration
	}

	plan := make(Plan, 0, len(phaseWeights))

	var assigned time.Duration

	for i, pw := range phaseWeights {
		budget := total * time.Duration(pw.weight) / totalWeight
		if i == len(phaseWeights)-1 {
			budget = total - assigned
		}

		assigned += budget

		plan = append(plan, Step{Phase: pw.phase, Budget: budget})
	}

	return plan
}

// Total returns the sum of all budgets.
func (p Plan) Total() time.Duration {
	var total time.Duration

	for _, step := range p {
		total += step.Budget
	}

	return total
}
