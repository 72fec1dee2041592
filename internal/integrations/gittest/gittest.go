// Package gittest creates throwaway git repositories for tests.
package gittest

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// Repo is a git repository in a temporary directory.
type Repo struct {
	t   *testing.T
	Dir string
}

// New initialises a repository on branch main with one commit.
func New(t *testing.T) *Repo {
	t.Helper()
	r := &Repo{t: t, Dir: t.TempDir()}
	r.Git("init", "-b", "main")
	r.Git("config", "user.email", "test@test.com")
	r.Git("config", "user.name", "Test")
	r.Git("config", "commit.gpgsign", "false")
	r.Git("config", "tag.gpgsign", "false")
	r.WriteFile("README.md", "readme\n")
	r.Commit("initial commit")
	return r
}

// Git runs a git command in the repository and returns its trimmed output.
func (r *Repo) Git(args ...string) string {
	r.t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = r.Dir
	out, err := cmd.CombinedOutput()
	require.NoError(r.t, err, "git %v failed: %s", args, string(out))
	return strings.TrimSpace(string(out))
}

// WriteFile writes a file relative to the repository root.
func (r *Repo) WriteFile(name, content string) {
	r.t.Helper()
	path := filepath.Join(r.Dir, name)
	require.NoError(r.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(r.t, os.WriteFile(path, []byte(content), 0o644))
}

// Commit stages everything and commits it.
func (r *Repo) Commit(message string) {
	r.t.Helper()
	r.Git("add", "-A")
	r.Git("commit", "--allow-empty", "-m", message)
}

// Merge merges branch into the current branch with a merge commit.
func (r *Repo) Merge(branch, message string) {
	r.t.Helper()
	r.Git("merge", "--no-ff", branch, "-m", message)
}
