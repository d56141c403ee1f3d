package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricTicksTotal       = "marathon.session.ticks.total"
	metricTickDuration     = "marathon.session.tick.duration.seconds"
	metricCheckpointAge    = "marathon.checkpoint.age.seconds"
	metricRecoveriesTotal  = "marathon.recovery.attempts.total"
	metricEventsTotal      = "marathon.session.checkpoint_events.total"
	metricPhasesTotal      = "marathon.session.phases.total"
	metricSessionTokens    = "marathon.session.tokens"
	metricMalformedSamples = "marathon.checkpoint.malformed.total"

	attrCondition = "condition"
	attrOutcome   = "outcome"
)

// SessionInstruments holds the OTel instruments of a running session.
// Every method is safe on a nil receiver.
type SessionInstruments struct {
	ticks        metric.Int64Counter
	tickDuration metric.Float64Histogram
	age          metric.Float64Gauge
	recoveries   metric.Int64Counter
	events       metric.Int64Counter
	phases       metric.Int64Counter
	tokens       metric.Int64Gauge
	malformed    metric.Int64Counter
}

// NewSessionInstruments creates session instruments from the given meter.
func NewSessionInstruments(mt metric.Meter) (*SessionInstruments, error) {
	ticks, err := mt.Int64Counter(metricTicksTotal,
		metric.WithDescription("Orchestrator ticks by phase and checkpoint condition"),
		metric.WithUnit("{tick}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricTicksTotal, err)
	}

	tickDur, err := mt.Float64Histogram(metricTickDuration,
		metric.WithDescription("Time spent in one tick, excluding the poll sleep"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricTickDuration, err)
	}

	age, err := mt.Float64Gauge(metricCheckpointAge,
		metric.WithDescription("Age of the newest executor checkpoint"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricCheckpointAge, err)
	}

	recoveries, err := mt.Int64Counter(metricRecoveriesTotal,
		metric.WithDescription("Resume invocations by outcome"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricRecoveriesTotal, err)
	}

	events, err := mt.Int64Counter(metricEventsTotal,
		metric.WithDescription("Orchestrator checkpoint events"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricEventsTotal, err)
	}

	phases, err := mt.Int64Counter(metricPhasesTotal,
		metric.WithDescription("Finished phases by outcome"),
		metric.WithUnit("{phase}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricPhasesTotal, err)
	}

	tokens, err := mt.Int64Gauge(metricSessionTokens,
		metric.WithDescription("Estimated tokens consumed by the executor"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricSessionTokens, err)
	}

	malformed, err := mt.Int64Counter(metricMalformedSamples,
		metric.WithDescription("Checkpoint samples that failed to parse"),
		metric.WithUnit("{sample}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricMalformedSamples, err)
	}

	return &SessionInstruments{
		ticks:        ticks,
		tickDuration: tickDur,
		age:          age,
		recoveries:   recoveries,
		events:       events,
		phases:       phases,
		tokens:       tokens,
		malformed:    malformed,
	}, nil
}

// RecordTick records one orchestrator tick.
func (si *SessionInstruments) RecordTick(
	ctx context.Context, phase, condition string, age, duration time.Duration, tokens int64,
) {
	if si == nil {
		return
	}

	si.ticks.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrPhase, phase),
		attribute.String(attrCondition, condition),
	))
	si.tickDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String(attrPhase, phase)))
	si.age.Record(ctx, age.Seconds())
	si.tokens.Record(ctx, tokens)
}

// RecordMalformed counts a checkpoint sample that failed to parse.
func (si *SessionInstruments) RecordMalformed(ctx context.Context) {
	if si == nil {
		return
	}

	si.malformed.Add(ctx, 1)
}

// RecordRecovery counts a resume invocation.
func (si *SessionInstruments) RecordRecovery(ctx context.Context, err error) {
	if si == nil {
		return
	}

	si.recoveries.Add(ctx, 1, metric.WithAttributes(attribute.String(attrOutcome, StatusOf(err))))
}

// RecordCheckpointEvent counts an orchestrator checkpoint event.
func (si *SessionInstruments) RecordCheckpointEvent(ctx context.Context, phase string) {
	if si == nil {
		return
	}

	si.events.Add(ctx, 1, metric.WithAttributes(attribute.String(attrPhase, phase)))
}

// RecordPhase counts a finished phase.
func (si *SessionInstruments) RecordPhase(ctx context.Context, phase string, err error) {
	if si == nil {
		return
	}

	si.phases.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrPhase, phase),
		attribute.String(attrOutcome, StatusOf(err)),
	))
}
