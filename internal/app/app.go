package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/DigitumDei/Actuarius/internal/agent"
	"github.com/DigitumDei/Actuarius/internal/capabilities"
	"github.com/DigitumDei/Actuarius/internal/config"
	"github.com/DigitumDei/Actuarius/internal/core"
	"github.com/DigitumDei/Actuarius/internal/engine"
	"github.com/DigitumDei/Actuarius/internal/eventlog"
	"github.com/DigitumDei/Actuarius/internal/git"
	"github.com/DigitumDei/Actuarius/internal/metrics"
	"github.com/DigitumDei/Actuarius/internal/notify"
	"github.com/DigitumDei/Actuarius/internal/repo"
	"github.com/DigitumDei/Actuarius/internal/runner"
	"github.com/DigitumDei/Actuarius/internal/store"
)

// Options replace collaborators, mostly for tests. Zero values select
// the production implementation.
type Options struct {
	// Notifier receives thread messages in addition to the store.
	Notifier notify.Notifier
	Runner   runner.Runner
	Lookup   RepoLookup
	Sync     engine.Synchronizer
	Worktree engine.Worktrees
}

type App struct {
	Config       config.Config
	RunID        string
	Store        *store.SQLiteStore
	Registry     *prometheus.Registry
	Metrics      *metrics.Metrics
	Runner       runner.Runner
	Agents       *agent.Registry
	Queue        *engine.Queue
	Orchestrator *engine.Orchestrator
	Service      *Service

	closers []func() error
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	a := &App{Config: cfg, RunID: core.NewRunID()}
	log := clog.FromContext(ctx).With("run_id", a.RunID)

	for _, dir := range []string{cfg.ReposRoot, filepath.Dir(cfg.DatabasePath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	events, closeEvents, err := eventlog.Open(cfg.EventLogPath)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeEvents)

	db, err := store.NewSQLite(cfg.DatabasePath)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.closers = append(a.closers, db.Close)
	if err := db.Init(ctx); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("init database: %w", err)
	}
	a.Store = db

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Registry)

	a.Runner = opts.Runner
	if a.Runner == nil {
		a.Runner = runner.New(a.Metrics)
	}
	a.Agents = agent.NewRegistry(a.Runner, cfg.AgentSettings())

	locks := git.NewLocks()
	sync := opts.Sync
	if sync == nil {
		s := git.NewSynchronizer(cfg.ReposRoot, a.Runner, locks, a.Metrics)
		s.Timeout = cfg.GitTimeout
		sync = s
	}
	worktrees := opts.Worktree
	if worktrees == nil {
		m := git.NewWorktreeManager(cfg.ReposRoot, a.Runner, locks)
		m.Timeout = cfg.WorktreeTimeout
		worktrees = m
	}

	a.Queue = engine.NewQueue(cfg.ConcurrencyPerGuild,
		engine.WithObserver(func(ev engine.QueueEvent) {
			a.Metrics.SetQueueDepth(ev.Key, ev.Running, ev.Pending)
		}),
		engine.WithObserver(eventlog.QueueObserver(events, a.RunID)),
		engine.WithErrorHandler(func(key string, err error) {
			log.With("guild", key).Errorf("queued request ended with error: %v", err)
		}),
	)

	notifier := notify.Multi{notify.NewStore(db)}
	if opts.Notifier != nil {
		notifier = append(notifier, opts.Notifier)
	}

	a.Orchestrator = &engine.Orchestrator{
		Store:        db,
		Notifier:     notifier,
		Sync:         sync,
		Worktrees:    worktrees,
		Agents:       a.Agents,
		Queue:        a.Queue,
		Events:       events,
		Metrics:      a.Metrics,
		RunID:        a.RunID,
		Timeout:      cfg.ExecutionTimeout,
		Cleanup:      engine.CleanupPolicy(cfg.WorktreeCleanup),
		HistoryTurns: cfg.HistoryTurns,
		Retryable:    store.IsBusy,
	}

	lookup := opts.Lookup
	if lookup == nil {
		lookup = repo.NewGitHub(cfg.GitHubToken)
	}
	a.Service = &Service{
		Store:        db,
		Lookup:       lookup,
		Sync:         sync,
		Orchestrator: a.Orchestrator,
	}

	if err := events.Emit(core.Event{
		RunID:     a.RunID,
		Level:     "info",
		EventType: "app_started",
		Payload: map[string]any{
			"repos_root":            cfg.ReposRoot,
			"concurrency_per_guild": cfg.ConcurrencyPerGuild,
			"worktree_cleanup":      cfg.WorktreeCleanup,
		},
	}); err != nil {
		log.Warnf("could not write start event: %v", err)
	}
	log.With("repos_root", cfg.ReposRoot, "database", cfg.DatabasePath).Info("application ready")
	return a, nil
}

// Probe checks git, gh and the enabled agent binaries.
func (a *App) Probe(ctx context.Context) []capabilities.Result {
	return capabilities.Probe(ctx, a.Runner, append([]string{"git", "gh"}, a.Agents.Binaries()...))
}

// WatchConfig applies agent changes from the config file at path until
// ctx is done.
func (a *App) WatchConfig(ctx context.Context, path string) error {
	return config.Watch(ctx, path, func(cfg config.Config) {
		a.Agents.Update(cfg.AgentSettings())
	})
}

// Wait blocks until every queued request has finished.
func (a *App) Wait() {
	a.Queue.Wait()
}

// Drain waits for queued requests like Wait. If ctx ends first the
// remaining requests are shut down with no grace period.
func (a *App) Drain(ctx context.Context) {
	done := a.waitDone()
	select {
	case <-done:
	case <-ctx.Done():
		a.Shutdown(context.WithoutCancel(ctx), 0)
	}
}

// Shutdown stops the queue and records every request that never started
// as failed. Running requests get up to grace to finish before their
// contexts are cancelled. It returns once nothing is running.
func (a *App) Shutdown(ctx context.Context, grace time.Duration) {
	log := clog.FromContext(ctx)
	a.Orchestrator.Shutdown(ctx)

	done := a.waitDone()
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
		return
	case <-timer.C:
	}
	if n := a.Orchestrator.CancelRunning(); n > 0 {
		log.With("cancelled", n, "grace", grace.String()).Warn("cancelling requests still running after grace period")
	}
	<-done
}

func (a *App) waitDone() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		a.Queue.Wait()
		close(done)
	}()
	return done
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
