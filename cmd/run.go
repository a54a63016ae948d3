// -- cmd/run.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/mender/api/schemas"
	"github.com/xkilldash9x/mender/internal/browser"
	"github.com/xkilldash9x/mender/internal/config"
	"github.com/xkilldash9x/mender/internal/engine"
	"github.com/xkilldash9x/mender/internal/events"
	"github.com/xkilldash9x/mender/internal/executor"
	"github.com/xkilldash9x/mender/internal/fingerprint"
	"github.com/xkilldash9x/mender/internal/observability"
	"github.com/xkilldash9x/mender/internal/orchestrator"
	"github.com/xkilldash9x/mender/internal/reporting"
	"github.com/xkilldash9x/mender/internal/resolver"
	"github.com/xkilldash9x/mender/internal/results"
	"github.com/xkilldash9x/mender/internal/scenario"
	"github.com/xkilldash9x/mender/internal/store"
)

// ErrRunsFailed is returned by run when at least one scenario did not succeed.
// The report already says why, so Execute does not print it again.
var ErrRunsFailed = errors.New("one or more runs did not succeed")

const shutdownTimeout = 15 * time.Second

type runOptions struct {
	output   string
	format   string
	progress bool
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	runCmd := &cobra.Command{
		Use:   "run <scenario-file|scenario-id>...",
		Short: "Replay scenarios in the browser and report their step timelines",
		Long: `Replays one or more scenarios. Arguments ending in .yaml, .yml or .json (or
naming an existing file) are loaded from disk and saved to the store first;
anything else is treated as the id of a stored scenario.

Steps whose selector no longer matches are healed by fingerprint similarity
unless --heal=false. The command exits non-zero when any run is not SUCCESS.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			return runScenarios(cmd.Context(), cfg, args, opts, cmd.ErrOrStderr(), observability.GetLogger())
		},
	}

	flags := runCmd.Flags()
	flags.StringVarP(&opts.output, "output", "o", "", "Output file for the report (default is stdout).")
	flags.StringVarP(&opts.format, "format", "f", "text", fmt.Sprintf("Report format %v.", reporting.Formats))
	flags.BoolVar(&opts.progress, "progress", false, "Print live step progress to stderr.")
	flags.IntP("concurrency", "j", 0, "Scenarios run in parallel. (Overrides config/env)")
	flags.Bool("heal", true, "Heal drifted selectors. (Overrides config/env)")
	flags.Float64("threshold", 0, "Minimum similarity a healed element needs. (Overrides config/env)")
	flags.String("screenshot-dir", "", "Directory for final screenshots. (Overrides config/env)")
	flags.Bool("headless", true, "Run the browser without a window. (Overrides config/env)")
	flags.String("events-addr", "", "Serve run events over WebSocket on this address. (Overrides config/env)")
	flags.String("redis-addr", "", "Publish run events to this Redis server. (Overrides config/env)")
	return runCmd
}

// runScenarios wires the stack, runs every scenario named in args and writes
// the report.
func runScenarios(ctx context.Context, cfg *config.Config, args []string, opts runOptions, progressOut io.Writer, logger *zap.Logger) (err error) {
	st, err := store.Open(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Warn("Failed to close store.", zap.Error(closeErr))
		}
	}()

	scenarios, err := loadScenarios(ctx, st, args, logger)
	if err != nil {
		return err
	}

	// Validate the format before the browser starts.
	reporter, err := reporting.New(opts.format, opts.output, Version, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := reporter.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to finalize report: %w", closeErr)
		}
	}()

	sinks, err := newEventSinks(ctx, cfg.Events, logger)
	if err != nil {
		return err
	}

	var watchers sync.WaitGroup
	if opts.progress {
		ch, _ := sinks.bus.Subscribe(events.AllRuns)
		watchers.Add(1)
		go func() {
			defer watchers.Done()
			watchProgress(ch, progressOut)
		}()
	}

	// The browser outlives a stop request; the deferred Shutdown tears it down
	// after the runs have taken their final screenshots.
	manager := browser.NewManager(ctx, cfg.Browser, cfg.Runner.ScreenshotQuality, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if shutdownErr := manager.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("Browser shutdown incomplete.", zap.Error(shutdownErr))
		}
		sinks.Close(shutdownCtx)
		watchers.Wait()
	}()

	eng, err := newPipeline(cfg, st, manager, sinks.Sink(), logger)
	if err != nil {
		return err
	}

	logger.Info("Running scenarios.", zap.Int("count", len(scenarios)),
		zap.Int("concurrency", cfg.Runner.Concurrency), zap.Bool("healing", cfg.Healing.Enabled))
	executions := eng.RunAll(ctx, scenarios)

	failed := 0
	for i, exec := range executions {
		if writeErr := reporter.Write(reporting.Entry{Scenario: scenarios[i], Execution: exec}); writeErr != nil {
			return fmt.Errorf("failed to write report entry for %s: %w", scenarios[i].ID, writeErr)
		}
		if !exec.Succeeded() {
			failed++
		}
	}
	if failed > 0 {
		logger.Info("Runs finished with failures.", zap.Int("failed", failed), zap.Int("total", len(executions)))
		return ErrRunsFailed
	}
	return nil
}

// loadScenarios resolves each argument to a scenario. Files are parsed,
// validated and saved so that later runs can refer to them by id.
func loadScenarios(ctx context.Context, st schemas.ScenarioStore, args []string, logger *zap.Logger) ([]*schemas.WebScenario, error) {
	scenarios := make([]*schemas.WebScenario, 0, len(args))
	for _, arg := range args {
		if scenario.IsFile(arg) {
			sc, err := scenario.Load(arg)
			if err != nil {
				return nil, err
			}
			if err := st.SaveScenario(ctx, sc); err != nil {
				return nil, fmt.Errorf("failed to store scenario %s: %w", sc.ID, err)
			}
			logger.Debug("Scenario loaded from file.", zap.String("path", arg), zap.String("scenario_id", sc.ID))
			scenarios = append(scenarios, sc)
			continue
		}

		sc, err := st.GetScenario(ctx, arg)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("scenario %q is neither a file nor a stored scenario", arg)
			}
			return nil, fmt.Errorf("failed to load scenario %s: %w", arg, err)
		}
		if err := scenario.Validate(sc); err != nil {
			return nil, fmt.Errorf("stored scenario %s: %w", arg, err)
		}
		scenarios = append(scenarios, sc)
	}
	return scenarios, nil
}

// pipelineStore is what the run pipeline needs from persistence.
type pipelineStore interface {
	schemas.FingerprintStore
	schemas.ExecutionStore
}

// newPipeline assembles resolver, executor, orchestrator and engine from cfg.
func newPipeline(cfg *config.Config, st pipelineStore, factory schemas.DriverFactory, sink schemas.EventSink, logger *zap.Logger) (*engine.Engine, error) {
	cache, err := fingerprint.NewCache(cfg.Healing.CacheSize, st, logger)
	if err != nil {
		return nil, err
	}

	res := resolver.New(resolver.Options{
		Threshold:      cfg.Healing.Threshold,
		CandidateLimit: cfg.Healing.CandidateLimit,
		Disabled:       !cfg.Healing.Enabled,
	}, cache, logger)

	exe := executor.New(res, cache, executor.Options{
		StepTimeout:       cfg.Runner.StepTimeout,
		CaseSensitiveText: cfg.Healing.CaseSensitiveText,
	}, logger)

	orch, err := orchestrator.New(exe, results.NewAssembler(cfg.Runner.ScreenshotDir, logger), sink, st,
		orchestrator.Options{ScenarioTimeout: cfg.Runner.ScenarioTimeout}, logger)
	if err != nil {
		return nil, err
	}

	return engine.New(orch, factory, engine.Options{
		Concurrency: cfg.Runner.Concurrency,
		LaunchRate:  cfg.Runner.LaunchRate,
	}, logger)
}

// eventSinks owns the event destinations of one invocation.
type eventSinks struct {
	logger *zap.Logger
	bus    *events.Bus
	hub    *events.Hub
	server *http.Server
	redis  *redis.Client
	fanout events.Fanout
}

func newEventSinks(ctx context.Context, cfg config.EventsConfig, logger *zap.Logger) (*eventSinks, error) {
	s := &eventSinks{logger: logger, bus: events.NewBus(logger, cfg.BufferSize)}
	s.fanout = events.Fanout{events.NewLogSink(logger), s.bus}

	if cfg.WebsocketAddr != "" {
		ln, err := net.Listen("tcp", cfg.WebsocketAddr)
		if err != nil {
			s.bus.Shutdown()
			return nil, fmt.Errorf("failed to listen for event observers on %s: %w", cfg.WebsocketAddr, err)
		}
		s.hub = events.NewHub(logger)
		mux := http.NewServeMux()
		mux.Handle("/events", s.hub)
		s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Event server stopped.", zap.Error(err))
			}
		}()
		logger.Info("Streaming run events.", zap.String("url", "ws://"+ln.Addr().String()+"/events"))
		s.fanout = append(s.fanout, s.hub)
	}

	if cfg.RedisAddr != "" {
		client, err := events.DialRedis(ctx, cfg.RedisAddr)
		if err != nil {
			s.Close(ctx)
			return nil, err
		}
		s.redis = client
		s.fanout = append(s.fanout, events.NewRedisSink(client, cfg.RedisChannelPrefix, logger))
	}
	return s, nil
}

// Sink returns the combined destination handed to the orchestrator.
func (s *eventSinks) Sink() schemas.EventSink { return s.fanout }

// Close stops every sink. Subscribers of the bus see their channels closed.
func (s *eventSinks) Close(ctx context.Context) {
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			s.logger.Warn("Event server shutdown incomplete.", zap.Error(err))
		}
	}
	if s.hub != nil {
		s.hub.Close()
	}
	s.bus.Shutdown()
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warn("Failed to close redis client.", zap.Error(err))
		}
	}
}

// watchProgress prints one line per event until ch is closed.
func watchProgress(ch <-chan schemas.Event, w io.Writer) {
	for ev := range ch {
		prefix := fmt.Sprintf("[%s] %s", shortID(ev.RunID), ev.ScenarioID)
		switch {
		case ev.Progress != nil:
			fmt.Fprintf(w, "%s step %d/%d %s\n", prefix, ev.Progress.Current, ev.Progress.Total, ev.Progress.Type)
		case ev.Healing != nil:
			fmt.Fprintf(w, "%s healed (score %.2f) %s\n", prefix, ev.Healing.Score, ev.Healing.Info)
		case ev.Status != nil:
			if ev.Status.Error != "" {
				fmt.Fprintf(w, "%s %s: %s\n", prefix, ev.Status.Status, ev.Status.Error)
			} else {
				fmt.Fprintf(w, "%s %s\n", prefix, ev.Status.Status)
			}
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
