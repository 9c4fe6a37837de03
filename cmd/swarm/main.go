// Command swarm coordinates multiple coding-agent personas against one
// repository: it plans, implements, tests, and reviews a goal through a
// bounded feedback pipeline, then optionally opens and merges a PR.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"swarm/pkg/bus"
	"swarm/pkg/config"
	"swarm/pkg/conflict"
	"swarm/pkg/eventlog"
	"swarm/pkg/gitops"
	"swarm/pkg/insights"
	"swarm/pkg/locks"
	"swarm/pkg/logx"
	"swarm/pkg/metrics"
	"swarm/pkg/pipeline"
	"swarm/pkg/proto"
	"swarm/pkg/runner"
	"swarm/pkg/state"
	"swarm/pkg/workspace"
)

func main() {
	var configPath string
	var goal string
	var mode string
	var metricsAddr string
	var dryRun bool
	flag.StringVar(&configPath, "config", "swarm.yaml", "Path to config file")
	flag.StringVar(&goal, "goal", "", "Goal to coordinate (overrides config)")
	flag.StringVar(&mode, "mode", "", "Coordination mode: pipeline, parallel, or adaptive")
	flag.StringVar(&metricsAddr, "metrics", "", "Address to serve Prometheus metrics on (e.g. :9090)")
	flag.BoolVar(&dryRun, "dry-run", false, "Use a scripted runner instead of the external agent")
	flag.Parse()

	cfg, err := loadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if goal != "" {
		cfg.Goal = goal
	}
	if mode != "" {
		cfg.Mode = mode
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	if cfg.Goal == "" {
		log.Fatalf("No goal: set goal in %s or pass -goal", configPath)
	}
	if len(cfg.Personas) == 0 {
		log.Fatalf("No personas configured in %s", configPath)
	}

	logger := logx.NewLogger("swarm")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rec := metrics.NewRecorder()
	if metricsAddr != "" {
		go serveMetrics(logger, metricsAddr)
	}

	code, err := run(ctx, cfg, rec, dryRun)
	if err != nil {
		logger.Error("Run failed: %v", err)
	}
	os.Exit(code)
}

func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.Default(), nil
	}
	return config.Load(path)
}

func serveMetrics(logger *logx.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("Serving metrics on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("Metrics server stopped: %v", err)
	}
}

//nolint:cyclop // Linear wiring sequence
func run(ctx context.Context, cfg *config.Config, rec *metrics.Recorder, dryRun bool) (int, error) {
	sessionID := pipeline.NewSessionID()

	store, err := state.NewStore(cfg.Paths.StateDir, sessionID)
	if err != nil {
		return 1, err
	}
	msgBus, err := bus.New(filepath.Join(store.Dir(), "bus"))
	if err != nil {
		return 1, err
	}
	lockMgr := locks.NewManager()
	lockMgr.Instrument(rec)

	events, err := eventlog.NewWriter(cfg.Paths.LogDir)
	if err != nil {
		return 1, err
	}
	defer events.Close() //nolint:errcheck // Shutdown path

	wsMgr, err := workspace.NewManager(cfg.Paths.RepoDir, filepath.Join(store.Dir(), "workspaces"))
	if err != nil {
		return 1, err
	}
	wsIndex := workspace.NewIndex(wsMgr)

	history, err := conflict.NewHistory(filepath.Join(store.Dir(), "conflicts.jsonl"))
	if err != nil {
		return 1, err
	}
	precedence := func(agentID string) int {
		agent, err := store.GetAgent(agentID)
		if err != nil {
			return config.RolePrecedence("")
		}
		return config.RolePrecedence(agent.Role)
	}
	detector := conflict.NewDetector(wsIndex)
	resolver := conflict.NewResolver(wsIndex, lockMgr, precedence, history)

	provider, err := insights.Open(cfg.Paths.InsightsDB)
	if err != nil {
		return 1, err
	}
	defer provider.Close() //nolint:errcheck // Shutdown path

	var agentRunner runner.Runner
	if dryRun {
		agentRunner = scriptedDryRun(cfg)
	} else {
		if cfg.Runner.Command == "" {
			return 1, errMissingRunner
		}
		agentRunner = runner.NewSubprocess(cfg.Runner.Command,
			time.Duration(cfg.Runner.TimeoutSeconds)*time.Second)
	}

	var git gitops.Client
	if cfg.Pipeline.AutoMerge {
		git = gitops.NewCLIClient()
	}

	coord, err := pipeline.New(cfg, sessionID, pipeline.Deps{
		Store:      store,
		Bus:        msgBus,
		Locks:      lockMgr,
		Runner:     agentRunner,
		Workspaces: wsIndex,
		Detector:   detector,
		Resolver:   resolver,
		Git:        git,
		Insights:   provider,
		Events:     events,
		Metrics:    rec,
	})
	if err != nil {
		return 1, err
	}

	if err := coord.Setup(ctx); err != nil {
		_ = coord.Shutdown()
		return 1, err
	}

	runErr := coord.Run(ctx)

	if snap, err := coord.Snapshot(); err == nil {
		printSummary(snap)
	}
	if err := coord.Shutdown(); err != nil {
		logx.NewLogger("swarm").Warn("Shutdown incomplete: %v", err)
	}

	if runErr != nil {
		return 1, runErr
	}
	if !coord.Approved() {
		// Completed but not fully approved; distinct exit code for scripts.
		return 2, nil
	}
	return 0, nil
}

var errMissingRunner = errors.New("no runner command configured; set runner.command or pass -dry-run")

// scriptedDryRun drives every persona to a successful outcome so a run can
// be rehearsed without the external agent.
func scriptedDryRun(cfg *config.Config) runner.Runner {
	mock := runner.NewMockRunner()
	for i := range cfg.Personas {
		p := &cfg.Personas[i]
		if !p.IsEnabled() {
			continue
		}
		if p.Role == config.RoleReviewer {
			mock.ScriptSignal(p.Name, proto.SignalApproved)
		} else {
			mock.ScriptSignal(p.Name, proto.SignalTaskComplete)
		}
	}
	return mock
}

func printSummary(snap *pipeline.Snapshot) {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return
	}
	os.Stdout.Write(append(data, '\n')) //nolint:errcheck // Best-effort summary
}
