// Package worktree gives each producer task its own git worktree so that
// concurrent agents never edit the same checkout.
package worktree

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

const dirName = ".reviewguild/worktrees"

type Manager struct {
	repoPath string
	root     string
	mu       sync.Mutex
}

func NewManager(repoPath string) (*Manager, error) {
	abs, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve repository path: %w", err)
	}
	root := filepath.Join(abs, filepath.FromSlash(dirName))
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create worktrees directory: %w", err)
	}
	return &Manager{repoPath: abs, root: root}, nil
}

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

// Slug lowercases s and collapses every non alphanumeric run into "-".
func Slug(s string) string {
	return strings.Trim(slugInvalid.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

// Name is the directory and branch suffix used for one task of one run.
func Name(runID, taskID string) string {
	return Slug(runID) + "-" + Slug(taskID)
}

func (m *Manager) Path(name string) string {
	return filepath.Join(m.root, name)
}

// Ensure returns the worktree for name, creating it with a new branch
// "reviewguild/<name>" when it does not exist yet.
func (m *Manager) Ensure(ctx context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.Path(name)
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return path, nil
	}
	if err := m.git(ctx, "worktree", "add", "-b", "reviewguild/"+name, path); err != nil {
		return "", fmt.Errorf("failed to create worktree %s: %w", name, err)
	}
	return path, nil
}

func (m *Manager) Remove(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path := m.Path(name)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := m.git(ctx, "worktree", "remove", "--force", path); err != nil {
		return fmt.Errorf("failed to remove worktree %s: %w", name, err)
	}
	return nil
}

func (m *Manager) git(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = m.repoPath
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}
