package observability_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/Sumatoshi-tech/marathon/pkg/observability"
)

var errResume = errors.New("resume failed")

func TestSessionInstruments_Record(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	si, err := observability.NewSessionInstruments(mp.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()

	si.RecordTick(ctx, "development", "fresh", 12*time.Second, 5*time.Millisecond, 4200)
	si.RecordTick(ctx, "development", "stale", 400*time.Second, 5*time.Millisecond, 4200)
	si.RecordRecovery(ctx, errResume)
	si.RecordCheckpointEvent(ctx, "development")
	si.RecordPhase(ctx, "bootstrap", nil)
	si.RecordMalformed(ctx)

	rm := collectMetrics(t, reader)

	ticks := findMetric(rm, "marathon.session.ticks.total")
	require.NotNil(t, ticks)

	sum, ok := ticks.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Len(t, sum.DataPoints, 2, "one series per condition")

	for _, name := range []string{
		"marathon.session.tick.duration.seconds",
		"marathon.checkpoint.age.seconds",
		"marathon.recovery.attempts.total",
		"marathon.session.checkpoint_events.total",
		"marathon.session.phases.total",
		"marathon.session.tokens",
		"marathon.checkpoint.malformed.total",
	} {
		assert.NotNil(t, findMetric(rm, name), name)
	}
}

func TestSessionInstruments_NilSafe(t *testing.T) {
	t.Parallel()

	var si *observability.SessionInstruments

	ctx := context.Background()

	assert.NotPanics(t, func() {
		si.RecordTick(ctx, "bootstrap", "missing", 0, 0, 0)
		si.RecordRecovery(ctx, nil)
		si.RecordCheckpointEvent(ctx, "bootstrap")
		si.RecordPhase(ctx, "bootstrap", nil)
		si.RecordMalformed(ctx)
	})
}
