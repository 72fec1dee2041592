// Package release drives the release workflow: bumping the VERSION file on
// a release/x.y.z branch and opening the pull requests into master and
// back into develop.
package release

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/Masterminds/semver/v3"
	"github.com/google/go-github/v68/github"

	"github.com/julianshen/coverclient/internal/devtools/changelog"
	"github.com/julianshen/coverclient/internal/integrations"
)

// ErrNothingToRelease is returned when there are no unreleased changes and
// the release is not forced.
var ErrNothingToRelease = errors.New("no changes detected in changelog, is there anything to release?")

// Git is the repository access a release needs. *integrations.GitRunner
// satisfies it.
type Git interface {
	changelog.Git
	Fetch(ctx context.Context, remote string, refspecs ...string) error
	Pull(ctx context.Context) error
	IsClean(ctx context.Context) (bool, error)
	CurrentBranch(ctx context.Context) (string, error)
	Checkout(ctx context.Context, branch string) error
	CreateBranch(ctx context.Context, branch string) error
	Add(ctx context.Context, paths ...string) error
	Commit(ctx context.Context, message string) error
	Tag(ctx context.Context, name, message string) error
	Push(ctx context.Context, remote string, refs ...string) error
	RemoteURL(ctx context.Context, remote string) (string, error)
}

var _ Git = (*integrations.GitRunner)(nil)

// Releaser runs release steps in one repository.
type Releaser struct {
	Git Git
	// Dir is the repository root holding the VERSION file.
	Dir string
	// PRs is needed by Start and PostRelease only.
	PRs     PullRequests
	Remote  string
	Develop string
	Master  string
	Logger  *slog.Logger
}

func (r *Releaser) remote() string {
	if r.Remote == "" {
		return "origin"
	}
	return r.Remote
}

func (r *Releaser) branches() changelog.Options {
	return changelog.Options{Develop: r.Develop, Master: r.Master}.WithDefaults()
}

func (r *Releaser) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return r.Logger
}

// StartOptions controls Start.
type StartOptions struct {
	// Force releases even when the changelog has no unreleased entries.
	Force bool
	// Bump is used when set; otherwise Choose is asked.
	Bump   Bump
	Choose func(current *semver.Version) (Bump, error)
}

// Started describes a release branch that was pushed.
type Started struct {
	Version     *semver.Version
	Branch      string
	Changes     []string
	PullRequest *github.PullRequest
}

// Start brings master and develop up to date, bumps the version on a new
// release branch, pushes it and opens a pull request into master with
// the unreleased changes as its body.
func (r *Releaser) Start(ctx context.Context, opts StartOptions) (*Started, error) {
	if r.PRs == nil {
		return nil, errors.New("release: no GitHub client configured")
	}
	log := r.logger()
	b := r.branches()

	log.Info("pulling branches and tags")
	if err := r.updateBranch(ctx, b.Master); err != nil {
		return nil, err
	}
	if err := r.updateBranch(ctx, b.Develop); err != nil {
		return nil, err
	}
	if err := r.Git.Checkout(ctx, b.Develop); err != nil {
		return nil, err
	}

	versions, err := changelog.Build(ctx, r.Git, b)
	if err != nil {
		return nil, fmt.Errorf("build changelog: %w", err)
	}
	changes := changelog.Unreleased(versions)
	if len(changes) == 0 && !opts.Force {
		return nil, ErrNothingToRelease
	}

	current, err := ReadVersion(r.Dir)
	if err != nil {
		return nil, err
	}
	log.Info("current version", "version", current.String())

	bump := opts.Bump
	if bump == "" {
		if opts.Choose == nil {
			bump = Patch
		} else if bump, err = opts.Choose(current); err != nil {
			return nil, err
		}
	}
	next, err := Increment(current, bump)
	if err != nil {
		return nil, err
	}
	log.Info("new version", "version", next.String())

	branch := "release/" + next.String()
	if err := r.Git.CreateBranch(ctx, branch); err != nil {
		return nil, err
	}
	if err := WriteVersion(r.Dir, next); err != nil {
		return nil, err
	}
	if err := r.Git.Add(ctx, VersionFile); err != nil {
		return nil, err
	}
	if err := r.Git.Commit(ctx, "Bump version to "+next.String()); err != nil {
		return nil, err
	}
	if err := r.Git.Push(ctx, r.remote(), branch); err != nil {
		return nil, err
	}

	repo, err := r.repository(ctx)
	if err != nil {
		return nil, err
	}
	pr, err := createPullRequest(ctx, r.PRs, repo, &github.NewPullRequest{
		Title: github.Ptr("Release " + next.String()),
		Head:  github.Ptr(branch),
		Base:  github.Ptr(b.Master),
		Body:  github.Ptr(changelog.RenderEntries(changes)),
	})
	if err != nil {
		return nil, err
	}
	return &Started{Version: next, Branch: branch, Changes: changes, PullRequest: pr}, nil
}

// updateBranch pulls branch if it is checked out, refusing a dirty tree,
// and otherwise fast-forwards it from the remote.
func (r *Releaser) updateBranch(ctx context.Context, branch string) error {
	current, err := r.Git.CurrentBranch(ctx)
	if err != nil {
		return err
	}
	if current != branch {
		r.logger().Info("fetching branch", "branch", branch)
		return r.Git.Fetch(ctx, r.remote(), branch+":"+branch)
	}
	if err := r.Git.Fetch(ctx, r.remote(), branch); err != nil {
		return err
	}
	r.logger().Info("already on branch, pulling", "branch", branch)
	if err := r.Git.Pull(ctx); err != nil {
		return err
	}
	clean, err := r.Git.IsClean(ctx)
	if err != nil {
		return err
	}
	if !clean {
		return fmt.Errorf("branch %q is not clean, stash or commit your changes before releasing", branch)
	}
	return nil
}

func (r *Releaser) repository(ctx context.Context) (Repository, error) {
	url, err := r.Git.RemoteURL(ctx, r.remote())
	if err != nil {
		return Repository{}, err
	}
	return ParseRepository(url)
}

// Tag creates an annotated tag for the current version and pushes it.
func (r *Releaser) Tag(ctx context.Context) (string, error) {
	v, err := ReadVersion(r.Dir)
	if err != nil {
		return "", err
	}
	name := v.String()
	if err := r.Git.Tag(ctx, name, "Release "+name); err != nil {
		return "", err
	}
	if err := r.Git.Push(ctx, r.remote(), name); err != nil {
		return "", err
	}
	return name, nil
}

// PostRelease opens the pull request merging the released master back
// into develop.
func (r *Releaser) PostRelease(ctx context.Context) (*github.PullRequest, error) {
	if r.PRs == nil {
		return nil, errors.New("release: no GitHub client configured")
	}
	v, err := ReadVersion(r.Dir)
	if err != nil {
		return nil, err
	}
	repo, err := r.repository(ctx)
	if err != nil {
		return nil, err
	}
	b := r.branches()
	return createPullRequest(ctx, r.PRs, repo, &github.NewPullRequest{
		Title: github.Ptr(fmt.Sprintf("Merge %s back into %s", v, b.Develop)),
		Head:  github.Ptr(b.Master),
		Base:  github.Ptr(b.Develop),
	})
}
