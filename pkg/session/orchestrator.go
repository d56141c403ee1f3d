package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/Sumatoshi-tech/marathon/pkg/checkpoint"
	"github.com/Sumatoshi-tech/marathon/pkg/health"
	"github.com/Sumatoshi-tech/marathon/pkg/metrics"
	"github.com/Sumatoshi-tech/marathon/pkg/observability"
	"github.com/Sumatoshi-tech/marathon/pkg/recovery"
)

// Sentinel errors.
var (
	ErrInterrupted = errors.New("session interrupted")
	ErrReportWrite = errors.New("write final report")
)

// Defaults.
const (
	DefaultPollInterval       = 30 * time.Second
	DefaultCheckpointInterval = 10 * time.Minute
	DefaultAgents             = 6
	DefaultRunsDir            = "runs"

	// idLength is how much of a fresh UUID names a session.
	idLength = 8

	// Crude LOC proxy used when the executor reports a git marker.
	locBase    = 1000
	locPerStep = 50

	dirPerm = 0o750
)

// Exit codes.
const (
	ExitCompleted   = 0
	ExitFailed      = 1
	ExitInterrupted = 130
)

// Config describes one session.
type Config struct {
	ID                 string
	Project            Project
	Duration           time.Duration
	Agents             int
	CheckpointInterval time.Duration
	PollInterval       time.Duration
	// RunsDir holds one directory per session.
	RunsDir string
	// Workspace is the repository the executor works in.
	Workspace string
	// Plan overrides the phase plan derived from Duration.
	Plan Plan
}

// NewID returns a fresh short session identifier.
func NewID() string {
	return uuid.NewString()[:idLength]
}

func (c *Config) applyDefaults() {
	if c.ID == "" {
		c.ID = NewID()
	}

	if c.Project.Key == "" {
		c.Project, _ = LookupProject(DefaultProject)
	}

	if c.Duration <= 0 {
		c.Duration = DefaultDuration
	}

	if c.Agents <= 0 {
		c.Agents = DefaultAgents
	}

	if c.CheckpointInterval <= 0 {
		c.CheckpointInterval = DefaultCheckpointInterval
	}

	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}

	if c.RunsDir == "" {
		c.RunsDir = DefaultRunsDir
	}

	if len(c.Plan) == 0 {
		c.Plan = ScaledPlan(c.Duration)
	}
}

// Recoverer performs a single recovery attempt.
type Recoverer interface {
	Attempt(ctx context.Context, ref checkpoint.Ref) (recovery.Attempt, error)
}

// GitProbe reads version-control state of a workspace.
type GitProbe interface {
	HeadCommit(dir string) (string, error)
	Checkpoint(dir string) (*checkpoint.GitCheckpointInfo, error)
}

// LineCounter measures lines of code in a workspace.
type LineCounter interface {
	Count(ctx context.Context, dir string) (int, error)
}

// Ledger receives session lifecycle records.
type Ledger interface {
	SessionStarted(ctx context.Context, id, project, dir string, startedAt time.Time) error
	SessionFinished(ctx context.Context, id, state string, finishedAt time.Time, report metrics.Report) error
}

// Result is the outcome of Run.
type Result struct {
	ID         string
	Dir        string
	State      Phase
	Report     metrics.Report
	Metrics    metrics.SessionMetrics
	Recoveries []recovery.Attempt
	Elapsed    time.Duration
	// Degraded is set when wrap-up could not persist everything.
	Degraded bool
	Err      error
}

// ExitCode maps the result to the process exit status.
func (r Result) ExitCode() int {
	switch {
	case r.State == PhaseCompleted:
		return ExitCompleted
	case errors.Is(r.Err, ErrInterrupted):
		return ExitInterrupted
	default:
		return ExitFailed
	}
}

// Orchestrator sequences the phases of one session. It reads executor
// checkpoints through a Source and never writes into the executor's namespace.
type Orchestrator struct {
	cfg       Config
	dir       string
	source    checkpoint.Source
	monitor   *health.Monitor
	recoverer Recoverer
	collector *metrics.Collector
	events    *eventLog
	clock     Clock
	logger    *slog.Logger
	tracer    trace.Tracer
	inst      *observability.SessionInstruments
	git       GitProbe
	lines     LineCounter
	ledger    Ledger

	// Mutable session state, owned by the Run goroutine.
	start      time.Time
	current    metrics.SessionMetrics
	lastRef    checkpoint.Ref
	malformed  int
	snapErrors int
	locCommit  string
	locCounted bool
	recoveries []recovery.Attempt
	degraded   bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock sets the time source.
func WithClock(clock Clock) Option {
	return func(o *Orchestrator) { o.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithTracer sets the tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = tracer }
}

// WithInstruments attaches OTel session instruments.
func WithInstruments(inst *observability.SessionInstruments) Option {
	return func(o *Orchestrator) { o.inst = inst }
}

// WithMonitor replaces the default health monitor.
func WithMonitor(monitor *health.Monitor) Option {
	return func(o *Orchestrator) { o.monitor = monitor }
}

// WithGitProbe records the workspace git state in checkpoint events and keys
// line-count rescans on the workspace HEAD.
func WithGitProbe(probe GitProbe) Option {
	return func(o *Orchestrator) { o.git = probe }
}

// WithLineCounter replaces the LOC estimate with a workspace scan, taken
// whenever the workspace HEAD moves.
func WithLineCounter(counter LineCounter) Option {
	return func(o *Orchestrator) { o.lines = counter }
}

// WithLedger records session start and finish.
func WithLedger(ledger Ledger) Option {
	return func(o *Orchestrator) { o.ledger = ledger }
}

// New creates an Orchestrator. The session directory is RunsDir/ID.
func New(cfg Config, source checkpoint.Source, recoverer Recoverer, opts ...Option) *Orchestrator {
	cfg.applyDefaults()

	dir := filepath.Join(cfg.RunsDir, cfg.ID)

	o := &Orchestrator{
		cfg:       cfg,
		dir:       dir,
		source:    source,
		recoverer: recoverer,
		monitor:   health.NewMonitor(health.DefaultStaleThreshold),
		collector: metrics.NewCollector(MetricsDir(dir)),
		events:    newEventLog(dir),
		clock:     SystemClock(),
		logger:    slog.Default(),
		tracer:    nooptrace.NewTracerProvider().Tracer("marathon"),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// ID returns the session identifier.
func (o *Orchestrator) ID() string {
	return o.cfg.ID
}

// Dir returns the session directory.
func (o *Orchestrator) Dir() string {
	return o.dir
}

// Monitor returns the health monitor, e.g. to back a readiness probe.
func (o *Orchestrator) Monitor() *health.Monitor {
	return o.monitor
}

// Run executes every phase of the plan and always finishes with wrap-up.
// Cancelling ctx ends the session after the current tick's bookkeeping.
func (o *Orchestrator) Run(ctx context.Context) Result {
	o.start = o.clock.Now()
	o.current = metrics.SessionMetrics{Phase: string(PhaseBootstrap), Status: metrics.StatusRunning}

	ctx, span := o.tracer.Start(ctx, "marathon.session", trace.WithAttributes(
		attribute.String("session.id", o.cfg.ID),
		attribute.String("session.project", o.cfg.Project.Key),
	))
	defer span.End()

	logger := o.logger.With("session", o.cfg.ID)
	logger.InfoContext(ctx, "starting session",
		"project", o.cfg.Project.Name,
		"duration", o.cfg.Plan.Total(),
		"agents", o.cfg.Agents,
		"dir", o.dir)

	o.begin(ctx, logger)

	var runErr error

	for _, step := range o.cfg.Plan {
		runErr = o.runPhase(ctx, step, logger)
		if runErr != nil {
			break
		}
	}

	state := PhaseCompleted
	if runErr != nil {
		state = PhaseFailed

		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		logger.ErrorContext(ctx, "session failed", "error", runErr)
	}

	// Wrap-up must finish even when the session was cancelled.
	result := o.wrapUp(context.WithoutCancel(ctx), state, runErr, logger)

	span.SetAttributes(attribute.String("session.state", string(result.State)))

	return result
}

func (o *Orchestrator) begin(ctx context.Context, logger *slog.Logger) {
	err := os.MkdirAll(o.dir, dirPerm)
	if err != nil {
		o.degraded = true
		logger.WarnContext(ctx, "create session dir", "error", err)
	}

	info := Info{
		ID:                 o.cfg.ID,
		Project:            o.cfg.Project,
		Agents:             o.cfg.Agents,
		Duration:           o.cfg.Plan.Total(),
		CheckpointInterval: o.cfg.CheckpointInterval,
		PollInterval:       o.cfg.PollInterval,
		Plan:               o.cfg.Plan,
		StartedAt:          o.start,
	}

	_, err = infoPersister.Save(o.dir, &info)
	if err != nil {
		o.degraded = true
		logger.WarnContext(ctx, "write session info", "error", err)
	}

	if o.ledger != nil {
		ledgerErr := o.ledger.SessionStarted(ctx, o.cfg.ID, o.cfg.Project.Key, o.dir, o.start)
		if ledgerErr != nil {
			logger.WarnContext(ctx, "record session start", "error", ledgerErr)
		}
	}
}

func (o *Orchestrator) runPhase(ctx context.Context, step Step, logger *slog.Logger) error {
	phaseStart := o.clock.Now()
	deadline := phaseStart.Add(step.Budget)
	lastEvent := phaseStart

	o.current.Phase = string(step.Phase)

	ctx = observability.ContextWithPhase(ctx, string(step.Phase))

	ctx, span := o.tracer.Start(ctx, "marathon.phase", trace.WithAttributes(
		attribute.String("phase", string(step.Phase)),
		attribute.Float64("phase.budget_seconds", step.Budget.Seconds()),
	))
	defer span.End()

	logger.InfoContext(ctx, "starting phase", "budget", step.Budget)

	err := o.phaseLoop(ctx, step.Phase, deadline, &lastEvent, logger)

	o.inst.RecordPhase(ctx, string(step.Phase), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return fmt.Errorf("phase %s: %w", step.Phase, err)
	}

	logger.InfoContext(ctx, "phase complete")

	return nil
}

func (o *Orchestrator) phaseLoop(
	ctx context.Context, phase Phase, deadline time.Time, lastEvent *time.Time, logger *slog.Logger,
) error {
	for {
		if ctx.Err() != nil {
			return ErrInterrupted
		}

		if !o.clock.Now().Before(deadline) {
			return nil
		}

		err := o.tick(ctx, phase, lastEvent, logger)
		if err != nil {
			return err
		}

		if ctx.Err() != nil {
			return ErrInterrupted
		}

		sleepErr := o.clock.Sleep(ctx, o.cfg.PollInterval)
		if sleepErr != nil {
			return ErrInterrupted
		}
	}
}

func (o *Orchestrator) tick(ctx context.Context, phase Phase, lastEvent *time.Time, logger *slog.Logger) error {
	tickStart := o.clock.Now()

	snap, sampleErr := o.source.Latest(ctx)
	o.sample(ctx, tickStart, snap, sampleErr, logger)

	if tickStart.Sub(*lastEvent) >= o.cfg.CheckpointInterval {
		o.recordEvent(ctx, tickStart, phase, logger)
		*lastEvent = tickStart
	}

	report := o.monitor.Classify(snap, sampleErr, tickStart)

	var recoveryErr error

	if !report.Healthy {
		logger.WarnContext(ctx, "executor checkpoint is stale",
			"ref", report.Ref.String(),
			"age", report.Age.Round(time.Second))

		// The resume runs to completion; a shutdown request is honored at the next loop check.
		attempt, err := o.recoverer.Attempt(context.WithoutCancel(ctx), o.lastRef)
		o.recoveries = append(o.recoveries, attempt)
		o.inst.RecordRecovery(ctx, err)

		recoveryErr = err
	}

	o.recordSnapshot(ctx, tickStart, logger)

	o.inst.RecordTick(ctx, string(phase), string(report.Condition), report.Age,
		o.clock.Now().Sub(tickStart), o.current.TotalTokens)

	return recoveryErr
}

// sample folds the latest executor checkpoint into the running metrics.
func (o *Orchestrator) sample(
	ctx context.Context, now time.Time, snap checkpoint.Snapshot, err error, logger *slog.Logger,
) {
	o.current.ElapsedSeconds = int64(now.Sub(o.start) / time.Second)

	if snap.Ref != "" {
		o.lastRef = snap.Ref
	}

	switch {
	case errors.Is(err, checkpoint.ErrNoCheckpoint):
	case err != nil:
		o.malformed++
		o.inst.RecordMalformed(ctx)
		logger.DebugContext(ctx, "unreadable checkpoint", "ref", snap.Ref.String(), "error", err)
	case snap.Checkpoint != nil:
		cp := snap.Checkpoint

		if snap.Partial {
			logger.DebugContext(ctx, "checkpoint history unreadable, sampling progress fields", "ref", snap.Ref.String())
		}

		o.current.TotalTokens = int64(cp.EstimatedTokens)
		o.current.TasksCompleted = cp.CurrentStep
		o.snapErrors = len(cp.Errors)

		if cp.GitCheckpoint != nil {
			o.current.LinesOfCode = o.linesOfCode(ctx, cp, logger)
		}
	}

	o.current.ErrorsEncountered = o.snapErrors + o.malformed
	o.current.UpdateRate()
}

func (o *Orchestrator) linesOfCode(ctx context.Context, cp *checkpoint.TaskCheckpoint, logger *slog.Logger) int {
	estimate := locBase + locPerStep*cp.CurrentStep

	if o.lines == nil || o.cfg.Workspace == "" {
		return estimate
	}

	head := cp.GitCheckpoint.CommitHash
	if commit := o.headCommit(); commit != nil {
		head = *commit
	}

	if o.locCounted && head == o.locCommit {
		return o.current.LinesOfCode
	}

	count, err := o.lines.Count(ctx, o.cfg.Workspace)
	if err != nil {
		logger.DebugContext(ctx, "count lines of code", "error", err)

		return estimate
	}

	o.locCommit = head
	o.locCounted = true

	return count
}

func (o *Orchestrator) recordEvent(ctx context.Context, now time.Time, phase Phase, logger *slog.Logger) {
	ev := &Event{
		Timestamp: now,
		Phase:     phase,
		Metrics:   o.current,
	}

	if git := o.gitState(ctx, logger); git != nil {
		ev.GitCommit = &git.CommitHash
		ev.Git = git
	}

	path, err := o.events.write(ev)
	if err != nil {
		logger.WarnContext(ctx, "checkpoint event not persisted", "error", err)

		return
	}

	o.current.CheckpointCount++
	o.inst.RecordCheckpointEvent(ctx, string(phase))

	args := []any{"path", path}
	if _, ok := observability.PhaseFromContext(ctx); !ok {
		args = append(args, "phase", phase)
	}

	logger.InfoContext(ctx, "checkpoint created", args...)
}

func (o *Orchestrator) headCommit() *string {
	if o.git == nil || o.cfg.Workspace == "" {
		return nil
	}

	commit, err := o.git.HeadCommit(o.cfg.Workspace)
	if err != nil || commit == "" {
		return nil
	}

	return &commit
}

func (o *Orchestrator) gitState(ctx context.Context, logger *slog.Logger) *checkpoint.GitCheckpointInfo {
	if o.git == nil || o.cfg.Workspace == "" {
		return nil
	}

	git, err := o.git.Checkpoint(o.cfg.Workspace)
	if err != nil {
		logger.DebugContext(ctx, "read workspace git state", "error", err)

		return nil
	}

	return git
}

func (o *Orchestrator) recordSnapshot(ctx context.Context, now time.Time, logger *slog.Logger) {
	err := o.collector.RecordSnapshot(now, o.current)
	if err != nil {
		logger.WarnContext(ctx, "metrics snapshot", "error", err)
	}
}

func (o *Orchestrator) wrapUp(ctx context.Context, state Phase, runErr error, logger *slog.Logger) Result {
	now := o.clock.Now()

	o.current.ElapsedSeconds = int64(now.Sub(o.start) / time.Second)
	o.current.UpdateRate()

	if state == PhaseCompleted {
		o.current.Status = metrics.StatusCompleted
	} else {
		o.current.Status = metrics.StatusFailed
	}

	o.recordEvent(ctx, now, state, logger)

	err := o.collector.RecordSnapshot(now, o.current)
	if err != nil {
		o.degraded = true
		logger.WarnContext(ctx, "final metrics snapshot", "error", err)
	}

	report := o.collector.Report()

	path, err := reportPersister.Save(o.dir, &report)
	if err != nil {
		o.degraded = true
		logger.ErrorContext(ctx, "final report not written", "error", fmt.Errorf("%w: %w", ErrReportWrite, err))
	} else {
		logger.InfoContext(ctx, "session complete",
			"report", path,
			"state", state,
			"checkpoints", o.current.CheckpointCount,
			"duration", o.current.Elapsed())
	}

	if o.ledger != nil {
		ledgerErr := o.ledger.SessionFinished(ctx, o.cfg.ID, string(state), now, report)
		if ledgerErr != nil {
			logger.WarnContext(ctx, "record session finish", "error", ledgerErr)
		}
	}

	return Result{
		ID:         o.cfg.ID,
		Dir:        o.dir,
		State:      state,
		Report:     report,
		Metrics:    o.current,
		Recoveries: o.recoveries,
		Elapsed:    now.Sub(o.start),
		Degraded:   o.degraded,
		Err:        runErr,
	}
}
