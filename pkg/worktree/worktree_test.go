package worktree

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlug(t *testing.T) {
	assert.Equal(t, "01hx-api-v2", Slug("01HX API v2"))
	assert.Equal(t, "a-b", Slug("--a__b--"))
	assert.Equal(t, "run1-schema", Name("RUN1", "schema"))
}

func TestManager_EnsureAndRemove(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	repo := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = repo
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=t", "GIT_AUTHOR_EMAIL=t@example.com",
			"GIT_COMMITTER_NAME=t", "GIT_COMMITTER_EMAIL=t@example.com")
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	run("init", "-q")
	require.NoError(t, os.WriteFile(filepath.Join(repo, "README.md"), []byte("x\n"), 0o644))
	run("add", "README.md")
	run("commit", "-q", "-m", "init")

	m, err := NewManager(repo)
	require.NoError(t, err)
	ctx := context.Background()

	path, err := m.Ensure(ctx, Name("run1", "schema"))
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(path, "README.md"))

	again, err := m.Ensure(ctx, Name("run1", "schema"))
	require.NoError(t, err)
	assert.Equal(t, path, again)

	require.NoError(t, m.Remove(ctx, Name("run1", "schema")))
	assert.NoDirExists(t, path)
	require.NoError(t, m.Remove(ctx, Name("run1", "schema")))
}
