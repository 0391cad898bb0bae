package engine

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/DigitumDei/Actuarius/internal/agent"
	"github.com/DigitumDei/Actuarius/internal/core"
	"github.com/DigitumDei/Actuarius/internal/git"
)

type fakeStore struct {
	mu        sync.Mutex
	statuses  map[int64][]core.RequestStatus
	worktrees map[int64]string
	results   map[int64]string
	threadWT  map[string]string
	history   []core.Turn
	cleared   []string

	statusErrs []error
	historyArg struct {
		thread string
		before int64
		limit  int
	}
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		statuses:  map[int64][]core.RequestStatus{},
		worktrees: map[int64]string{},
		results:   map[int64]string{},
		threadWT:  map[string]string{},
	}
}

func (s *fakeStore) UpdateRequestStatus(_ context.Context, id int64, status core.RequestStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.statusErrs) > 0 {
		err := s.statusErrs[0]
		s.statusErrs = s.statusErrs[1:]
		if err != nil {
			return err
		}
	}
	s.statuses[id] = append(s.statuses[id], status)
	return nil
}

func (s *fakeStore) UpdateRequestWorktreePath(_ context.Context, id int64, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.worktrees[id] = path
	return nil
}

func (s *fakeStore) SetRequestResult(_ context.Context, id int64, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[id] = text
	return nil
}

func (s *fakeStore) ThreadHistory(_ context.Context, threadID string, before int64, limit int) ([]core.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.historyArg.thread, s.historyArg.before, s.historyArg.limit = threadID, before, limit
	return s.history, nil
}

func (s *fakeStore) GetWorktreeForThread(_ context.Context, threadID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadWT[threadID], nil
}

func (s *fakeStore) ClearThreadWorktree(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threadWT, threadID)
	s.cleared = append(s.cleared, threadID)
	return nil
}

func (s *fakeStore) statusesOf(id int64) []core.RequestStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.RequestStatus(nil), s.statuses[id]...)
}

type fakeNotifier struct {
	mu    sync.Mutex
	posts []string
}

func (n *fakeNotifier) Post(_ context.Context, _ string, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.posts = append(n.posts, text)
	return nil
}

func (n *fakeNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.posts...)
}

type fakeSync struct {
	err   error
	calls int
}

func (f *fakeSync) EnsureCheckout(context.Context, core.RepoIdentity) (git.Checkout, error) {
	f.calls++
	if f.err != nil {
		return git.Checkout{}, f.err
	}
	return git.Checkout{Path: "/repos/acme/widgets", SourceRef: "main", Head: "abc123"}, nil
}

// fakeWorktrees creates real directories so follow-ups can find them.
type fakeWorktrees struct {
	root       string
	createErr  error
	cleanupErr error
	created    []int64
	cleaned    []string
}

func (f *fakeWorktrees) Create(_ context.Context, _ core.RepoIdentity, requestID int64) (git.Worktree, error) {
	if f.createErr != nil {
		return git.Worktree{}, f.createErr
	}
	f.created = append(f.created, requestID)
	path := filepath.Join(f.root, "wt", strconv.FormatInt(requestID, 10))
	if err := os.MkdirAll(path, 0o755); err != nil {
		return git.Worktree{}, err
	}
	return git.Worktree{Path: path, Branch: "ask/branch"}, nil
}

func (f *fakeWorktrees) Cleanup(_ context.Context, _ core.RepoIdentity, path string) error {
	f.cleaned = append(f.cleaned, path)
	return f.cleanupErr
}

type stubAgent struct {
	name   string
	result agent.Result
	err    error
	reqs   []agent.Request

	// when set, Run signals started and waits for release
	started chan struct{}
	release chan struct{}
}

func (a *stubAgent) Name() string { return a.name }

func (a *stubAgent) Run(ctx context.Context, req agent.Request) (agent.Result, error) {
	a.reqs = append(a.reqs, req)
	if a.release != nil {
		a.started <- struct{}{}
		select {
		case <-a.release:
		case <-ctx.Done():
			return agent.Result{}, ctx.Err()
		}
	}
	return a.result, a.err
}

type fakeAgents struct {
	agent        *stubAgent
	defaultModel string
	asked        []string
}

func (f *fakeAgents) Get(name string) (agent.Agent, string, error) {
	f.asked = append(f.asked, name)
	return f.agent, f.defaultModel, nil
}

type recordingEvents struct {
	mu     sync.Mutex
	events []core.Event
}

func (r *recordingEvents) Emit(ev core.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		out = append(out, ev.EventType)
	}
	return out
}
