package git

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"golang.org/x/sync/semaphore"

	"github.com/DigitumDei/Actuarius/internal/core"
	"github.com/DigitumDei/Actuarius/internal/runner"
)

const (
	DefaultSyncTimeout     = 60 * time.Second
	DefaultWorktreeTimeout = 120 * time.Second
	CanonicalBranch        = "master"
)

// CheckoutPath is the canonical checkout location for repo under root.
func CheckoutPath(root string, repo core.RepoIdentity) string {
	return filepath.Join(root, repo.RelPath())
}

func runGit(ctx context.Context, r runner.Runner, timeout time.Duration, dir string, args ...string) (runner.Output, error) {
	if dir != "" {
		args = append([]string{"-C", dir}, args...)
	}
	return r.Run(ctx, runner.Command{
		Name:    "git",
		Args:    args,
		Timeout: timeout,
		Env:     map[string]string{"GIT_TERMINAL_PROMPT": "0"},
	})
}

func isCheckout(path string) bool {
	_, err := os.Stat(filepath.Join(path, ".git"))
	return err == nil
}

func headCommit(path string) (string, error) {
	repo, err := gogit.PlainOpenWithOptions(path, &gogit.PlainOpenOptions{EnableDotGitCommonDir: true})
	if err != nil {
		return "", err
	}
	ref, err := repo.Head()
	if err != nil {
		return "", err
	}
	return ref.Hash().String(), nil
}

// Locks serializes work on one repository's canonical checkout.
type Locks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	sem  *semaphore.Weighted
	refs int
}

func NewLocks() *Locks {
	return &Locks{entries: make(map[string]*lockEntry)}
}

// Acquire blocks until key is free or ctx is done. The returned func
// releases the lock.
func (l *Locks) Acquire(ctx context.Context, key string) (func(), error) {
	if l == nil {
		return func() {}, nil
	}
	l.mu.Lock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &lockEntry{sem: semaphore.NewWeighted(1)}
		l.entries[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	if err := entry.sem.Acquire(ctx, 1); err != nil {
		l.unref(key, entry)
		return nil, fmt.Errorf("wait for repository lock: %w", err)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			entry.sem.Release(1)
			l.unref(key, entry)
		})
	}, nil
}

func (l *Locks) unref(key string, entry *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, key)
	}
}

func (l *Locks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
