package integrations

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// GitCommit represents a git log entry.
type GitCommit struct {
	Hash    string
	Parents []string
	Author  string
	// Message is the full commit message, subject and body.
	Message string
}

// Subject is the first line of the message.
func (c GitCommit) Subject() string {
	subject, _, _ := strings.Cut(c.Message, "\n")
	return subject
}

// IsMerge reports whether the commit has more than one parent.
func (c GitCommit) IsMerge() bool { return len(c.Parents) > 1 }

// GitFileStatus represents a git status entry.
type GitFileStatus struct {
	Path   string
	Status string
}

// GitRunner executes git commands in a project directory.
type GitRunner struct {
	workDir string
}

// NewGitRunner creates a GitRunner for the given directory.
func NewGitRunner(workDir string) *GitRunner {
	return &GitRunner{workDir: workDir}
}

// Dir is the directory commands run in.
func (g *GitRunner) Dir() string { return g.workDir }

// Field and record separators keep subjects containing pipes or newlines
// intact.
const (
	fieldSep  = "\x1f"
	recordSep = "\x1e"
)

// Log runs git log over a revision range and parses the output into
// commits, newest first.
func (g *GitRunner) Log(ctx context.Context, args ...string) ([]GitCommit, error) {
	cmdArgs := append([]string{"log", "--format=%H%x1f%P%x1f%an%x1f%B%x1e"}, args...)
	out, err := g.run(ctx, cmdArgs...)
	if err != nil {
		return nil, err
	}

	var commits []GitCommit
	for _, record := range strings.Split(out, recordSep) {
		record = strings.TrimLeft(record, "\n")
		if record == "" {
			continue
		}
		parts := strings.SplitN(record, fieldSep, 4)
		if len(parts) < 4 {
			continue
		}
		commits = append(commits, GitCommit{
			Hash:    parts[0],
			Parents: strings.Fields(parts[1]),
			Author:  parts[2],
			Message: strings.TrimRight(parts[3], "\n"),
		})
	}

	return commits, nil
}

// Status returns the git working tree status.
func (g *GitRunner) Status(ctx context.Context) ([]GitFileStatus, error) {
	out, err := g.run(ctx, "status", "--porcelain")
	if err != nil {
		return nil, err
	}

	var statuses []GitFileStatus
	for _, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		if len(line) < 4 {
			continue
		}
		status := strings.TrimSpace(line[:2])
		path := strings.TrimSpace(line[3:])

		// Renames are reported as "old -> new".
		if strings.HasPrefix(status, "R") {
			if idx := strings.Index(path, " -> "); idx >= 0 {
				path = path[idx+4:]
			}
		}

		statuses = append(statuses, GitFileStatus{
			Path:   path,
			Status: status,
		})
	}

	return statuses, nil
}

// IsClean reports whether the working tree has no changes.
func (g *GitRunner) IsClean(ctx context.Context) (bool, error) {
	st, err := g.Status(ctx)
	if err != nil {
		return false, err
	}
	return len(st) == 0, nil
}

// LsFiles lists the files tracked by git, relative to the work dir.
func (g *GitRunner) LsFiles(ctx context.Context) ([]string, error) {
	out, err := g.run(ctx, "ls-files", "-z")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, f := range strings.Split(out, "\x00") {
		if f != "" {
			files = append(files, f)
		}
	}
	return files, nil
}

// CurrentBranch returns the checked out branch name.
func (g *GitRunner) CurrentBranch(ctx context.Context) (string, error) {
	out, err := g.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Checkout switches to an existing branch.
func (g *GitRunner) Checkout(ctx context.Context, branch string) error {
	_, err := g.run(ctx, "checkout", branch)
	return err
}

// CreateBranch creates and switches to a new branch.
func (g *GitRunner) CreateBranch(ctx context.Context, branch string) error {
	_, err := g.run(ctx, "checkout", "-b", branch)
	return err
}

// Add stages paths.
func (g *GitRunner) Add(ctx context.Context, paths ...string) error {
	_, err := g.run(ctx, append([]string{"add", "--"}, paths...)...)
	return err
}

// Commit records the staged changes.
func (g *GitRunner) Commit(ctx context.Context, message string) error {
	_, err := g.run(ctx, "commit", "-m", message)
	return err
}

// Tag creates an annotated tag on HEAD.
func (g *GitRunner) Tag(ctx context.Context, name, message string) error {
	_, err := g.run(ctx, "tag", "-a", name, "-m", message)
	return err
}

// Fetch fetches refspecs and tags from remote.
func (g *GitRunner) Fetch(ctx context.Context, remote string, refspecs ...string) error {
	_, err := g.run(ctx, append([]string{"fetch", "--tags", remote}, refspecs...)...)
	return err
}

// Pull updates the current branch from its upstream.
func (g *GitRunner) Pull(ctx context.Context) error {
	_, err := g.run(ctx, "pull", "--ff-only")
	return err
}

// Push pushes refs to remote.
func (g *GitRunner) Push(ctx context.Context, remote string, refs ...string) error {
	_, err := g.run(ctx, append([]string{"push", remote}, refs...)...)
	return err
}

// RemoteURL returns the URL configured for remote.
func (g *GitRunner) RemoteURL(ctx context.Context, remote string) (string, error) {
	out, err := g.run(ctx, "remote", "get-url", remote)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (g *GitRunner) run(ctx context.Context, args ...string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("git: no subcommand provided")
	}
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.workDir
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("git %s: %s", args[0], strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("git %s: %w", args[0], err)
	}
	return string(out), nil
}
