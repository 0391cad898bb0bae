package git

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/chainguard-dev/clog"

	"github.com/DigitumDei/Actuarius/internal/core"
	"github.com/DigitumDei/Actuarius/internal/runner"
)

const worktreeDir = ".worktrees"

type Worktree struct {
	Path   string
	Branch string
}

// WorktreeManager carves per-request worktrees out of canonical checkouts.
// It never changes the checkout's own branch.
type WorktreeManager struct {
	Root    string
	Runner  runner.Runner
	Timeout time.Duration
	Locks   *Locks

	now func() time.Time
}

func NewWorktreeManager(root string, r runner.Runner, locks *Locks) *WorktreeManager {
	return &WorktreeManager{
		Root:    root,
		Runner:  r,
		Timeout: DefaultWorktreeTimeout,
		Locks:   locks,
		now:     time.Now,
	}
}

func BuildPath(root string, repo core.RepoIdentity, requestID int64) string {
	return filepath.Join(root, worktreeDir, repo.RelPath(), strconv.FormatInt(requestID, 10))
}

func BranchName(requestID int64, now time.Time) string {
	return fmt.Sprintf("ask/%d-%d", requestID, now.UnixMilli())
}

func (m *WorktreeManager) Create(ctx context.Context, repo core.RepoIdentity, requestID int64) (Worktree, error) {
	checkout := CheckoutPath(m.Root, repo)
	if !isCheckout(checkout) {
		return Worktree{}, &WorktreeError{Code: CodeCreateFailed, Message: fmt.Sprintf("no checkout of %s at %s", repo.FullName, checkout)}
	}

	path := BuildPath(m.Root, repo, requestID)
	branch := BranchName(requestID, m.clock())
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Worktree{}, &WorktreeError{Code: CodeCreateFailed, Message: "create worktree directory", Err: err}
	}

	release, err := m.Locks.Acquire(ctx, repo.FullName)
	if err != nil {
		return Worktree{}, &WorktreeError{Code: CodeCreateFailed, Message: "repository is busy", Err: err}
	}
	defer release()

	if _, err := m.git(ctx, checkout, "worktree", "add", "-B", branch, path, CanonicalBranch); err != nil {
		return Worktree{}, &WorktreeError{Code: CodeCreateFailed, Message: fmt.Sprintf("could not create worktree for request %d", requestID), Err: err}
	}

	clog.FromContext(ctx).With("repo", repo.FullName, "path", path, "branch", branch).Info("worktree created")
	return Worktree{Path: path, Branch: branch}, nil
}

// Cleanup force-removes the worktree at path and prunes stale metadata.
// Callers treat failure as a warning.
func (m *WorktreeManager) Cleanup(ctx context.Context, repo core.RepoIdentity, path string) error {
	checkout := CheckoutPath(m.Root, repo)

	release, err := m.Locks.Acquire(ctx, repo.FullName)
	if err != nil {
		return &WorktreeError{Code: CodeCleanupFailed, Message: "repository is busy", Err: err}
	}
	defer release()

	if _, err := m.git(ctx, checkout, "worktree", "remove", "--force", path); err != nil {
		return &WorktreeError{Code: CodeCleanupFailed, Message: fmt.Sprintf("could not remove worktree %s", path), Err: err}
	}
	if _, err := m.git(ctx, checkout, "worktree", "prune"); err != nil {
		return &WorktreeError{Code: CodeCleanupFailed, Message: "could not prune worktree metadata", Err: err}
	}

	clog.FromContext(ctx).With("repo", repo.FullName, "path", path).Info("worktree removed")
	return nil
}

func (m *WorktreeManager) clock() time.Time {
	if m.now == nil {
		return time.Now()
	}
	return m.now()
}

func (m *WorktreeManager) git(ctx context.Context, dir string, args ...string) (runner.Output, error) {
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = DefaultWorktreeTimeout
	}
	return runGit(ctx, m.Runner, timeout, dir, args...)
}
