package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"

	"github.com/DigitumDei/Actuarius/internal/core"
	"github.com/DigitumDei/Actuarius/internal/runner"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

// initRemote creates a repository whose only branch is branch and
// returns its path and head commit.
func initRemote(t *testing.T, branch string) (string, plumbing.Hash) {
	t.Helper()
	dir := t.TempDir()

	repo, err := gogit.PlainInit(dir, false)
	require.NoError(t, err)

	hash := commitFile(t, repo, dir, "README.md", "# fixture\n")

	head, err := repo.Head()
	require.NoError(t, err)
	want := plumbing.NewBranchReferenceName(branch)
	if head.Name() != want {
		require.NoError(t, repo.Storer.SetReference(plumbing.NewHashReference(want, hash)))
		require.NoError(t, repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, want)))
		require.NoError(t, repo.Storer.RemoveReference(head.Name()))
	}
	return dir, hash
}

func commitFile(t *testing.T, repo *gogit.Repository, dir, name, content string) plumbing.Hash {
	t.Helper()
	wt, err := repo.Worktree()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	_, err = wt.Add(name)
	require.NoError(t, err)
	hash, err := wt.Commit("update "+name, &gogit.CommitOptions{
		Author: &object.Signature{Name: "Test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return hash
}

// useRemote points remoteURL at path for the duration of the test.
func useRemote(t *testing.T, path string) {
	t.Helper()
	orig := remoteURL
	remoteURL = func(core.RepoIdentity) string { return path }
	t.Cleanup(func() { remoteURL = orig })
}

func localBranch(t *testing.T, path string) string {
	t.Helper()
	repo, err := gogit.PlainOpenWithOptions(path, &gogit.PlainOpenOptions{EnableDotGitCommonDir: true})
	require.NoError(t, err)
	head, err := repo.Head()
	require.NoError(t, err)
	return head.Name().Short()
}

func newSynchronizer(root string) *Synchronizer {
	return NewSynchronizer(root, runner.New(nil), NewLocks(), nil)
}

// fakeRunner returns err for every command.
type fakeRunner struct {
	err   error
	calls [][]string
}

func (f *fakeRunner) Run(_ context.Context, cmd runner.Command) (runner.Output, error) {
	f.calls = append(f.calls, append([]string{cmd.Name}, cmd.Args...))
	return runner.Output{}, f.err
}
