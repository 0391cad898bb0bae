package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "actuarius.yaml")
	content := fmt.Sprintf("repos_root: %s\ndatabase_path: %s\nlog_level: warn\n",
		filepath.Join(dir, "repos"), filepath.Join(dir, "app.db"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd("test")
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootHasSubcommands(t *testing.T) {
	root := newRootCmd("test")
	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "ask", "reply", "close", "connect-repo", "sync-repo", "repos", "model", "remove-guild", "doctor"} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
	assert.NotNil(t, root.PersistentFlags().Lookup("log-format"))
}

func TestModelAndRepos(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, "--config", cfg, "model", "gemini", "gemini-2.5-pro", "--guild", "g1")
	require.NoError(t, err)
	assert.Equal(t, "Guild g1 now uses gemini (gemini-2.5-pro)\n", out)

	out, err = run(t, "--config", cfg, "model", "claude", "--guild", "g1")
	require.NoError(t, err)
	assert.Equal(t, "Guild g1 now uses claude with its default model\n", out)

	_, err = run(t, "--config", cfg, "model", "gpt", "--guild", "g1")
	assert.ErrorContains(t, err, "unknown provider")

	out, err = run(t, "--config", cfg, "repos", "--guild", "g1")
	require.NoError(t, err)
	assert.Equal(t, "No repositories connected.\n", out)
}

func TestRemoveGuild(t *testing.T) {
	cfg := writeConfig(t)

	_, err := run(t, "--config", cfg, "model", "codex", "--guild", "g1")
	require.NoError(t, err)
	out, err := run(t, "--config", cfg, "remove-guild", "--guild", "g1")
	require.NoError(t, err)
	assert.Equal(t, "Removed guild g1\n", out)
}

func TestAskRequiresConnectedRepo(t *testing.T) {
	cfg := writeConfig(t)
	_, err := run(t, "--config", cfg, "ask", "acme/widgets", "add", "a", "README")
	assert.ErrorContains(t, err, "not connected")
}

func TestCloseUnknownThread(t *testing.T) {
	cfg := writeConfig(t)
	_, err := run(t, "--config", cfg, "close", "ask-missing")
	assert.ErrorContains(t, err, "thread has no requests")
}

func TestBadLogFormat(t *testing.T) {
	cfg := writeConfig(t)
	_, err := run(t, "--config", cfg, "--log-format", "xml", "repos")
	assert.ErrorContains(t, err, "unknown log format")
}
