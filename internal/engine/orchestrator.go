package engine

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/DigitumDei/Actuarius/internal/agent"
	"github.com/DigitumDei/Actuarius/internal/core"
	"github.com/DigitumDei/Actuarius/internal/git"
	"github.com/DigitumDei/Actuarius/internal/metrics"
	"github.com/DigitumDei/Actuarius/internal/notify"
)

var tracer = otel.Tracer("github.com/DigitumDei/Actuarius/internal/engine")

var ErrNoWorktree = errors.New("thread has no active worktree")

type CleanupPolicy string

const (
	// CleanupRequest removes the worktree once each request finishes.
	CleanupRequest CleanupPolicy = "request"
	// CleanupSession keeps the worktree for follow-ups until the
	// session is closed.
	CleanupSession CleanupPolicy = "session"
)

const (
	stageInit     = "init"
	stageSync     = "sync"
	stageWorktree = "worktree"
	stagePersist  = "persist"
	stageAgent    = "agent"
	stageReport   = "report"
)

type Store interface {
	UpdateRequestStatus(ctx context.Context, id int64, status core.RequestStatus) error
	UpdateRequestWorktreePath(ctx context.Context, id int64, path string) error
	SetRequestResult(ctx context.Context, id int64, text string) error
	ThreadHistory(ctx context.Context, threadID string, beforeRequestID int64, limit int) ([]core.Turn, error)
	GetWorktreeForThread(ctx context.Context, threadID string) (string, error)
	ClearThreadWorktree(ctx context.Context, threadID string) error
}

type Notifier interface {
	Post(ctx context.Context, threadID, text string) error
}

type Synchronizer interface {
	EnsureCheckout(ctx context.Context, repo core.RepoIdentity) (git.Checkout, error)
}

type Worktrees interface {
	Create(ctx context.Context, repo core.RepoIdentity, requestID int64) (git.Worktree, error)
	Cleanup(ctx context.Context, repo core.RepoIdentity, path string) error
}

type Agents interface {
	Get(name string) (agent.Agent, string, error)
}

// Job is one accepted request. ExistingWorktree is set for follow-ups
// in a thread whose worktree is still alive.
type Job struct {
	RequestID        int64
	GuildID          string
	ThreadID         string
	Repo             core.RepoIdentity
	Prompt           string
	Provider         string
	Model            string
	FollowUp         bool
	ExistingWorktree string
}

type Orchestrator struct {
	Store     Store
	Notifier  Notifier
	Sync      Synchronizer
	Worktrees Worktrees
	Agents    Agents
	Queue     *Queue
	Events    core.EventLogger
	Metrics   *metrics.Metrics

	RunID        string
	Timeout      time.Duration
	Cleanup      CleanupPolicy
	HistoryTurns int
	// Retryable reports storage errors worth retrying.
	Retryable func(error) bool

	mu      sync.Mutex
	pending map[int64]Job
	running map[int64]context.CancelFunc
}

// Submit queues job under its guild. A job that cannot be queued is
// recorded as failed and the queue's error is returned.
func (o *Orchestrator) Submit(ctx context.Context, job Job) error {
	o.mu.Lock()
	if o.pending == nil {
		o.pending = make(map[int64]Job)
		o.running = make(map[int64]context.CancelFunc)
	}
	o.pending[job.RequestID] = job
	o.mu.Unlock()

	o.emit(ctx, job, "info", "request_queued", nil)
	err := o.Queue.Enqueue(ctx, job.GuildID, func(ctx context.Context) error {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		if !o.start(job.RequestID, cancel) {
			return nil
		}
		defer o.finish(job.RequestID)
		return o.Execute(ctx, job)
	})
	if err != nil && o.claim(job.RequestID) {
		o.abandon(ctx, job)
	}
	return err
}

// Shutdown stops starting queued requests and records every request
// that never started as failed. Running requests are not touched.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	dropped := o.Queue.Close()

	o.mu.Lock()
	jobs := make([]Job, 0, len(o.pending))
	for id, job := range o.pending {
		jobs = append(jobs, job)
		delete(o.pending, id)
	}
	o.mu.Unlock()
	slices.SortFunc(jobs, func(a, b Job) int { return cmp.Compare(a.RequestID, b.RequestID) })

	clog.FromContext(ctx).With("dropped", dropped, "abandoned", len(jobs)).Info("request queue closed")
	for _, job := range jobs {
		o.abandon(ctx, job)
	}
}

// CancelRunning cancels every request still executing and returns how
// many there were. Each one is recorded as failed by Execute.
func (o *Orchestrator) CancelRunning() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, cancel := range o.running {
		cancel()
	}
	return len(o.running)
}

// claim removes id from the pending set and reports whether it was
// still there. Exactly one of the queued task and Shutdown wins.
func (o *Orchestrator) claim(id int64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.pending[id]; !ok {
		return false
	}
	delete(o.pending, id)
	return true
}

func (o *Orchestrator) start(id int64, cancel context.CancelFunc) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.pending[id]; !ok {
		return false
	}
	delete(o.pending, id)
	o.running[id] = cancel
	return true
}

func (o *Orchestrator) finish(id int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.running, id)
}

func (o *Orchestrator) abandon(ctx context.Context, job Job) {
	provider := job.Provider
	if provider == "" {
		provider = agent.Claude
	}
	log := clog.FromContext(ctx).With("request_id", job.RequestID, "guild", job.GuildID)
	if err := o.storeWrite(ctx, "mark failed", func() error {
		return o.Store.UpdateRequestStatus(ctx, job.RequestID, core.RequestFailed)
	}); err != nil {
		log.Errorf("could not record abandoned request: %v", err)
	}
	log.Warn("request abandoned before it started")
	o.Metrics.RequestFinished(provider, string(core.RequestFailed))
	o.post(ctx, job.ThreadID, fmt.Sprintf("**%s execution failed**\n\n%s", agent.Title(provider), "The service shut down before this request started."))
	o.emit(ctx, job, "warn", "request_abandoned", nil)
}

// Execute runs one request to a terminal status. Stage failures are
// reported to the thread and recorded; only storage failures while
// recording are returned.
func (o *Orchestrator) Execute(ctx context.Context, job Job) error {
	provider := job.Provider
	if provider == "" {
		provider = agent.Claude
	}
	title := agent.Title(provider)

	ctx, span := tracer.Start(ctx, "request.execute", trace.WithAttributes(
		attribute.Int64("request.id", job.RequestID),
		attribute.String("guild.id", job.GuildID),
		attribute.String("repo", job.Repo.FullName),
		attribute.String("agent", provider),
		attribute.Bool("follow_up", job.FollowUp),
	))
	defer span.End()
	ctx = clog.WithLogger(ctx, clog.FromContext(ctx).With("request_id", job.RequestID, "guild", job.GuildID, "repo", job.Repo.FullName))
	log := clog.FromContext(ctx)
	// bookkeeping must still land when ctx is cancelled mid-request
	recordCtx := context.WithoutCancel(ctx)

	start := time.Now()
	stage := stageInit
	finalized := false
	worktree := ""
	created := false

	markFailed := func() error {
		if finalized {
			return nil
		}
		finalized = true
		return o.storeWrite(recordCtx, "mark failed", func() error {
			return o.Store.UpdateRequestStatus(recordCtx, job.RequestID, core.RequestFailed)
		})
	}
	fail := func(err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, stage)
		storeErr := markFailed()

		log.With("stage", stage, "duration", time.Since(start).String()).Errorf("request failed: %v", err)
		o.Metrics.StageFailed(stage)
		o.Metrics.RequestFinished(provider, string(core.RequestFailed))
		o.post(recordCtx, job.ThreadID, fmt.Sprintf("**%s execution failed**\n\n%s", title, DescribeError(err)))
		o.emit(recordCtx, job, "error", "request_failed", map[string]string{"stage": stage, "error": err.Error()})

		// an unrecorded worktree can never be reused, so drop it too
		if created && (o.Cleanup == CleanupRequest || stage == stagePersist) {
			o.release(recordCtx, job, worktree)
		}
		if storeErr != nil {
			return fmt.Errorf("record failure of request %d: %w", job.RequestID, storeErr)
		}
		return nil
	}

	if err := o.storeWrite(recordCtx, "mark running", func() error {
		return o.Store.UpdateRequestStatus(recordCtx, job.RequestID, core.RequestRunning)
	}); err != nil {
		return fail(fmt.Errorf("could not record request start: %w", err))
	}
	log.Info("request started")
	o.emit(ctx, job, "info", "request_started", nil)
	o.post(ctx, job.ThreadID, title+" execution started.")

	if job.ExistingWorktree != "" && dirExists(job.ExistingWorktree) {
		worktree = job.ExistingWorktree
		log.With("worktree", worktree).Info("reusing worktree")
	} else {
		if job.ExistingWorktree != "" {
			log.Warnf("worktree %s no longer exists, creating a new one", job.ExistingWorktree)
		}

		stage = stageSync
		syncCtx, syncSpan := tracer.Start(ctx, "repo.sync")
		checkout, err := o.Sync.EnsureCheckout(syncCtx, job.Repo)
		syncSpan.End()
		if err != nil {
			return fail(err)
		}
		log.With("source_ref", checkout.SourceRef, "head", checkout.Head).Info("repository synchronized")

		stage = stageWorktree
		wtCtx, wtSpan := tracer.Start(ctx, "worktree.create")
		wt, err := o.Worktrees.Create(wtCtx, job.Repo, job.RequestID)
		wtSpan.End()
		if err != nil {
			return fail(err)
		}
		worktree, created = wt.Path, true
	}

	stage = stagePersist
	if err := o.storeWrite(recordCtx, "persist worktree", func() error {
		return o.Store.UpdateRequestWorktreePath(recordCtx, job.RequestID, worktree)
	}); err != nil {
		return fail(fmt.Errorf("could not record worktree: %w", err))
	}

	stage = stageAgent
	ag, defaultModel, err := o.Agents.Get(provider)
	if err != nil {
		return fail(err)
	}
	model := job.Model
	if model == "" {
		model = defaultModel
	}
	prompt := job.Prompt
	if job.FollowUp {
		prompt = o.withHistory(ctx, job)
	}

	agentCtx, agentSpan := tracer.Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("agent", provider),
		attribute.String("model", model),
		attribute.Int("prompt.length", len(prompt)),
	))
	result, err := ag.Run(agentCtx, agent.Request{
		Prompt:  prompt,
		Dir:     worktree,
		Model:   model,
		Timeout: o.Timeout,
	})
	agentSpan.End()
	if err != nil {
		return fail(err)
	}

	stage = stageReport
	if err := o.storeWrite(recordCtx, "store result", func() error {
		return o.Store.SetRequestResult(recordCtx, job.RequestID, result.Text)
	}); err != nil {
		log.Warnf("could not store result text: %v", err)
	}
	if err := o.storeWrite(recordCtx, "mark succeeded", func() error {
		return o.Store.UpdateRequestStatus(recordCtx, job.RequestID, core.RequestSucceeded)
	}); err != nil {
		return fail(fmt.Errorf("could not record request result: %w", err))
	}
	finalized = true

	o.Metrics.RequestFinished(provider, string(core.RequestSucceeded))
	o.post(recordCtx, job.ThreadID, notify.Completed(title, result.Text))
	log.With("duration", time.Since(start).String(), "output_length", len(result.Text)).Info("request succeeded")
	o.emit(recordCtx, job, "info", "request_succeeded", map[string]int{"output_length": len(result.Text)})

	if o.Cleanup == CleanupRequest {
		o.release(recordCtx, job, worktree)
	}
	return nil
}

// CloseSession removes the worktree kept for threadID.
func (o *Orchestrator) CloseSession(ctx context.Context, repo core.RepoIdentity, threadID string) error {
	path, err := o.Store.GetWorktreeForThread(ctx, threadID)
	if err != nil {
		return fmt.Errorf("look up worktree: %w", err)
	}
	if path == "" {
		return ErrNoWorktree
	}
	if err := o.Worktrees.Cleanup(ctx, repo, path); err != nil {
		o.Metrics.CleanupFailed()
		return err
	}
	return o.Store.ClearThreadWorktree(ctx, threadID)
}

// release removes a worktree after a request. Failure is a warning only.
func (o *Orchestrator) release(ctx context.Context, job Job, path string) {
	if path == "" {
		return
	}
	log := clog.FromContext(ctx).With("worktree", path)
	if err := o.Worktrees.Cleanup(ctx, job.Repo, path); err != nil {
		o.Metrics.CleanupFailed()
		log.Warnf("worktree cleanup failed: %v", err)
		o.post(ctx, job.ThreadID, "Worktree cleanup failed: "+err.Error())
		o.emit(ctx, job, "warn", "worktree_cleanup_failed", map[string]string{"error": err.Error()})
		return
	}
	if err := o.Store.ClearThreadWorktree(ctx, job.ThreadID); err != nil {
		log.Warnf("could not clear worktree path: %v", err)
	}
}

func (o *Orchestrator) withHistory(ctx context.Context, job Job) string {
	limit := o.HistoryTurns
	if limit <= 0 {
		return job.Prompt
	}
	turns, err := o.Store.ThreadHistory(ctx, job.ThreadID, job.RequestID, limit)
	if err != nil {
		clog.FromContext(ctx).Warnf("could not load thread history: %v", err)
		return job.Prompt
	}
	return ComposePrompt(turns, job.Prompt)
}

func (o *Orchestrator) post(ctx context.Context, threadID, text string) {
	if o.Notifier == nil {
		return
	}
	if err := o.Notifier.Post(ctx, threadID, text); err != nil {
		clog.FromContext(ctx).Warnf("could not post to thread %s: %v", threadID, err)
	}
}

func (o *Orchestrator) storeWrite(ctx context.Context, operation string, fn func() error) error {
	return retryWithBackoff(ctx, defaultStoreRetry, operation, o.Retryable, fn)
}

func (o *Orchestrator) emit(ctx context.Context, job Job, level, eventType string, payload any) {
	if o.Events == nil {
		return
	}
	if err := o.Events.Emit(core.Event{
		RunID:     o.RunID,
		Level:     level,
		EventType: eventType,
		GuildID:   job.GuildID,
		RequestID: job.RequestID,
		Repo:      job.Repo.FullName,
		Payload:   payload,
	}); err != nil {
		clog.FromContext(ctx).Warnf("could not write event %s: %v", eventType, err)
	}
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
