package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/marathon/pkg/config"
	"github.com/Sumatoshi-tech/marathon/pkg/gitlib"
	"github.com/Sumatoshi-tech/marathon/pkg/health"
	"github.com/Sumatoshi-tech/marathon/pkg/ledger"
	"github.com/Sumatoshi-tech/marathon/pkg/loc"
	"github.com/Sumatoshi-tech/marathon/pkg/metrics"
	"github.com/Sumatoshi-tech/marathon/pkg/observability"
	"github.com/Sumatoshi-tech/marathon/pkg/recovery"
	"github.com/Sumatoshi-tech/marathon/pkg/session"
	"github.com/Sumatoshi-tech/marathon/pkg/version"
)

const msgDegraded = "Warning: session data was only partially persisted, see the log"

// runFlagBindings maps config keys to the run command flags overriding them.
var runFlagBindings = map[string]string{
	"session.project":             "project",
	"session.duration":            "duration",
	"session.agents":              "agents",
	"session.runs_dir":            "runs-dir",
	"session.workspace":           "workspace",
	"session.poll_interval":       "poll-interval",
	"session.checkpoint_interval": "checkpoint-interval",
	"checkpoint.dir":              "checkpoint-dir",
	"health.stale_threshold":      "stale-threshold",
	"recovery.command":            "resume-command",
	"metrics.count_lines":         "count-lines",
	"observability.listen":        "listen",
	"observability.log_level":     "log-level",
	"observability.log_json":      "log-json",
	"ledger.path":                 "ledger",
}

// RunCommand holds flags for the run command.
type RunCommand struct {
	sessionID string
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	rc := &RunCommand{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Supervise one marathon session",
		Long: `Run a session through Bootstrap, Development, Refinement and Finalization.

Every poll interval the newest executor checkpoint is checked. A checkpoint
older than the stale threshold triggers one resume attempt per tick. Metrics
snapshots, checkpoint events and the final report are written under
<runs-dir>/<session-id>.

Exit status is 0 when the session completes, 1 when it fails and 130 when it
is interrupted.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          rc.run,
	}

	addConfigFlag(cmd)

	flags := cmd.Flags()
	flags.StringVar(&rc.sessionID, "session-id", "", "Session identifier (default: random)")
	flags.String("project", config.DefaultSessionProject,
		"Project preset: "+strings.Join(session.ProjectKeys(), ", "))
	flags.Duration("duration", config.DefaultSessionDuration, "Total session budget")
	flags.Int("agents", config.DefaultSessionAgents, "Number of executor agents")
	flags.String("runs-dir", config.DefaultSessionRunsDir, "Directory holding one subdirectory per session")
	flags.String("workspace", config.DefaultSessionWorkspace, "Repository the executor works in")
	flags.Duration("poll-interval", config.DefaultSessionPollInterval, "Health check interval")
	flags.Duration("checkpoint-interval", config.DefaultSessionCheckpointInterval, "Checkpoint event interval")
	flags.String("checkpoint-dir", config.DefaultCheckpointDir, "Executor checkpoint directory (default: ~/.selfware/checkpoints)")
	flags.Duration("stale-threshold", config.DefaultHealthStaleThreshold, "Checkpoint age that triggers recovery")
	flags.String("resume-command", config.DefaultRecoveryCommand, "Executor binary invoked to resume a task")
	flags.Bool("count-lines", config.DefaultMetricsCountLines, "Count workspace lines instead of estimating them")
	flags.String("listen", config.DefaultObservabilityListen, "Address of the /healthz, /readyz and /metrics endpoint")
	flags.String("log-level", config.DefaultObservabilityLogLevel, "Log level: debug, info, warn, error")
	flags.Bool("log-json", config.DefaultObservabilityLogJSON, "Emit JSON logs")
	flags.String("ledger", config.DefaultLedgerPath, "SQLite ledger path (empty disables the ledger)")

	return cmd
}

func (rc *RunCommand) run(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, runFlagBindings)
	if err != nil {
		return err
	}

	id := rc.sessionID
	if id == "" {
		id = session.NewID()
	}

	obsCfg := cfg.ObservabilityConfig(observability.ModeRun, id)
	obsCfg.ServiceVersion = version.Version

	providers, err := observability.InitWithWriter(obsCfg, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}

	defer shutdownProviders(providers)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch, cleanup, err := buildOrchestrator(ctx, cfg, id, providers)
	if err != nil {
		return err
	}

	defer cleanup()

	result := orch.Run(ctx)

	renderErr := renderResult(cmd.OutOrStdout(), result)
	if renderErr != nil {
		providers.Logger.Warn("render result failed", slog.String("error", renderErr.Error()))
	}

	code := result.ExitCode()
	if code != session.ExitCompleted {
		return &ExitError{Code: code, Err: result.Err}
	}

	return nil
}

// buildOrchestrator wires the session with its recovery, probes, ledger and
// optional ops endpoint. cleanup releases what was opened.
func buildOrchestrator(
	ctx context.Context, cfg *config.Config, id string, providers observability.Providers,
) (*session.Orchestrator, func(), error) {
	inst, err := observability.NewSessionInstruments(providers.Meter)
	if err != nil {
		return nil, nil, fmt.Errorf("create session instruments: %w", err)
	}

	cleanup := func() {}

	var led *ledger.Ledger

	if cfg.Ledger.Path != "" {
		led, err = ledger.Open(cfg.Ledger.Path)
		if err != nil {
			return nil, nil, err
		}

		cleanup = func() {
			closeErr := led.Close()
			if closeErr != nil {
				providers.Logger.Warn("close ledger failed", slog.String("error", closeErr.Error()))
			}
		}
	}

	resumer := recovery.NewExecResumer(cfg.Recovery.Command, cfg.Recovery.Args, cfg.Recovery.Timeout)
	resumer.WorkDir = cfg.Session.Workspace

	managerOpts := []recovery.Option{recovery.WithLogger(providers.Logger)}
	if led != nil {
		managerOpts = append(managerOpts, recovery.WithRecorder(led.ForSession(id)))
	}

	manager := recovery.NewManager(resumer, managerOpts...)

	sessionOpts := []session.Option{
		session.WithLogger(providers.Logger),
		session.WithTracer(providers.Tracer),
		session.WithInstruments(inst),
		session.WithMonitor(health.NewMonitor(cfg.Health.StaleThreshold)),
	}

	if cfg.Session.Workspace != "" {
		sessionOpts = append(sessionOpts, session.WithGitProbe(gitlib.NewProbe()))

		if cfg.Metrics.CountLines {
			sessionOpts = append(sessionOpts, session.WithLineCounter(loc.NewCounter()))
		}
	}

	if led != nil {
		sessionOpts = append(sessionOpts, session.WithLedger(led))
	}

	orch := session.New(cfg.SessionConfig(id), cfg.Source(), manager, sessionOpts...)

	if cfg.Observability.Listen != "" {
		checks := []observability.ReadyCheck{orch.Monitor().ReadyCheck()}
		if led != nil {
			checks = append(checks, led.Ping)
		}

		srv := observability.NewServer(observability.ServerConfig{
			Addr:      cfg.Observability.Listen,
			Tracer:    providers.Tracer,
			Logger:    providers.Logger,
			Metrics:   providers.Metrics,
			Checks:    checks,
			SessionID: orch.ID(),
		})

		addr, startErr := srv.Start(ctx)
		if startErr != nil {
			cleanup()

			return nil, nil, startErr
		}

		providers.Logger.Info("ops endpoint listening", slog.String("addr", addr))
	}

	return orch, cleanup, nil
}

func renderResult(w io.Writer, result session.Result) error {
	_, err := fmt.Fprintf(w, "Session %s %s after %s\n", result.ID, result.State, result.Elapsed.Round(time.Second))
	if err != nil {
		return err
	}

	history, err := session.ReplayHistory(result.Dir)
	if err != nil {
		history = nil
	}

	err = metrics.RenderText(w, result.ID, result.Report, history)
	if err != nil {
		return err
	}

	if len(result.Recoveries) > 0 {
		_, err = fmt.Fprintf(w, "Recovery attempts: %d\n", len(result.Recoveries))
		if err != nil {
			return err
		}
	}

	if result.Degraded {
		_, err = fmt.Fprintln(w, msgDegraded)

		return err
	}

	_, err = fmt.Fprintf(w, "Report: %s\n", session.ReportPath(result.Dir))

	return err
}
