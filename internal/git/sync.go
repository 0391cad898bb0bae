package git

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chainguard-dev/clog"

	"github.com/DigitumDei/Actuarius/internal/core"
	"github.com/DigitumDei/Actuarius/internal/metrics"
	"github.com/DigitumDei/Actuarius/internal/runner"
)

// git ls-remote --exit-code exits with 2 when no ref matched.
const lsRemoteNoMatch = 2

// remoteURL is a variable so tests can point at local repositories.
var remoteURL = func(repo core.RepoIdentity) string {
	return fmt.Sprintf("https://github.com/%s/%s.git", repo.Owner, repo.Repo)
}

var sourceRefs = []string{"master", "main"}

type Checkout struct {
	Path      string
	SourceRef string
	Head      string
}

// Synchronizer owns the canonical checkout of each repository and keeps
// its local master branch aligned with origin/master, or origin/main when
// the remote has no master.
type Synchronizer struct {
	Root    string
	Runner  runner.Runner
	Timeout time.Duration
	Locks   *Locks
	Metrics *metrics.Metrics
}

func NewSynchronizer(root string, r runner.Runner, locks *Locks, m *metrics.Metrics) *Synchronizer {
	return &Synchronizer{
		Root:    root,
		Runner:  r,
		Timeout: DefaultSyncTimeout,
		Locks:   locks,
		Metrics: m,
	}
}

func (s *Synchronizer) EnsureCheckout(ctx context.Context, repo core.RepoIdentity) (Checkout, error) {
	release, err := s.Locks.Acquire(ctx, repo.FullName)
	if err != nil {
		return Checkout{}, &WorkspaceError{Code: CodeCheckoutFailed, Message: "repository is busy", Err: err}
	}
	defer release()

	start := time.Now()
	path := CheckoutPath(s.Root, repo)
	log := clog.FromContext(ctx).With("repo", repo.FullName, "path", path)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Checkout{}, &WorkspaceError{Code: CodeCheckoutFailed, Message: "create checkout directory", Err: err}
	}

	remote := remoteURL(repo)
	if !isCheckout(path) {
		log.Infof("cloning %s", remote)
		if _, err := s.git(ctx, "", "clone", remote, path); err != nil {
			return Checkout{}, workspaceErr(CodeCloneFailed, fmt.Sprintf("could not clone %s", repo.FullName), err)
		}
	}

	if _, err := s.git(ctx, path, "remote", "set-url", "origin", remote); err != nil {
		return Checkout{}, workspaceErr(CodeCheckoutFailed, "could not update origin", err)
	}

	ref, err := s.sourceRef(ctx, repo, path)
	if err != nil {
		return Checkout{}, err
	}

	if _, err := s.git(ctx, path, "fetch", "origin", ref, "--prune"); err != nil {
		return Checkout{}, workspaceErr(CodeCheckoutFailed, fmt.Sprintf("could not fetch origin/%s", ref), err)
	}
	if _, err := s.git(ctx, path, "checkout", "-B", CanonicalBranch, "origin/"+ref); err != nil {
		return Checkout{}, workspaceErr(CodeCheckoutFailed, fmt.Sprintf("could not check out origin/%s as %s", ref, CanonicalBranch), err)
	}

	head, err := headCommit(path)
	if err != nil {
		log.Warnf("read head commit: %v", err)
	}
	s.Metrics.ObserveSync(ref, time.Since(start))
	log.With("source_ref", ref, "head", head).Info("checkout synchronized")

	return Checkout{Path: path, SourceRef: ref, Head: head}, nil
}

// sourceRef picks the first of master, main that exists on origin.
func (s *Synchronizer) sourceRef(ctx context.Context, repo core.RepoIdentity, path string) (string, error) {
	for _, ref := range sourceRefs {
		_, err := s.git(ctx, path, "ls-remote", "--exit-code", "origin", "refs/heads/"+ref)
		if err == nil {
			return ref, nil
		}
		if code, ok := runner.ExitCode(err); ok && code == lsRemoteNoMatch {
			clog.FromContext(ctx).With("repo", repo.FullName).Debugf("origin has no %s branch", ref)
			continue
		}
		return "", workspaceErr(CodeCheckoutFailed, fmt.Sprintf("could not query origin for %s", ref), err)
	}
	return "", &WorkspaceError{
		Code:    CodeMasterBranchMissing,
		Message: fmt.Sprintf("%s has neither a master nor a main branch", repo.FullName),
	}
}

func (s *Synchronizer) git(ctx context.Context, dir string, args ...string) (runner.Output, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultSyncTimeout
	}
	return runGit(ctx, s.Runner, timeout, dir, args...)
}
