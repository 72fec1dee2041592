package release

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julianshen/coverclient/internal/integrations"
	"github.com/julianshen/coverclient/internal/integrations/gittest"
)

type fakeGit struct {
	branch string
	dirty  bool
	remote string
	logs   map[string][]integrations.GitCommit
	calls  []string
	failOn string
}

func (f *fakeGit) record(call string) error {
	f.calls = append(f.calls, call)
	if f.failOn != "" && strings.HasPrefix(call, f.failOn) {
		return errors.New(call + " failed")
	}
	return nil
}

func (f *fakeGit) Log(_ context.Context, args ...string) ([]integrations.GitCommit, error) {
	return f.logs[strings.Join(args, " ")], nil
}

func (f *fakeGit) Fetch(_ context.Context, remote string, refspecs ...string) error {
	return f.record("fetch " + remote + " " + strings.Join(refspecs, " "))
}

func (f *fakeGit) Pull(context.Context) error { return f.record("pull") }

func (f *fakeGit) IsClean(context.Context) (bool, error) { return !f.dirty, nil }

func (f *fakeGit) CurrentBranch(context.Context) (string, error) { return f.branch, nil }

func (f *fakeGit) Checkout(_ context.Context, branch string) error {
	f.branch = branch
	return f.record("checkout " + branch)
}

func (f *fakeGit) CreateBranch(_ context.Context, branch string) error {
	f.branch = branch
	return f.record("branch " + branch)
}

func (f *fakeGit) Add(_ context.Context, paths ...string) error {
	return f.record("add " + strings.Join(paths, " "))
}

func (f *fakeGit) Commit(_ context.Context, message string) error {
	return f.record("commit " + message)
}

func (f *fakeGit) Tag(_ context.Context, name, message string) error {
	return f.record("tag " + name + " " + message)
}

func (f *fakeGit) Push(_ context.Context, remote string, refs ...string) error {
	return f.record("push " + remote + " " + strings.Join(refs, " "))
}

func (f *fakeGit) RemoteURL(context.Context, string) (string, error) { return f.remote, nil }

type pullRequest struct {
	Owner, Repo string
	Body        map[string]string
}

// fakeGitHub serves the pull request endpoint and records each request.
func fakeGitHub(t *testing.T, status int) (*Releaser, *[]pullRequest) {
	t.Helper()
	var got []pullRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) != 4 || parts[0] != "repos" || parts[3] != "pulls" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		got = append(got, pullRequest{Owner: parts[1], Repo: parts[2], Body: body})

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status == http.StatusCreated {
			fmt.Fprintf(w, `{"number": 42, "html_url": "https://github.com/%s/%s/pull/42"}`, parts[1], parts[2])
			return
		}
		fmt.Fprint(w, `{"message": "Bad credentials"}`)
	}))
	t.Cleanup(srv.Close)

	client, err := NewGitHubClient("secret", srv.URL)
	require.NoError(t, err)
	return &Releaser{PRs: client.PullRequests}, &got
}

func writeVersionFile(t *testing.T, version string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, VersionFile), []byte(version+"\n"), 0o644))
	return dir
}

func TestParseBump(t *testing.T) {
	b, err := ParseBump(" Minor ")
	require.NoError(t, err)
	assert.Equal(t, Minor, b)

	_, err = ParseBump("huge")
	assert.ErrorContains(t, err, `unknown release type "huge"`)
}

func TestIncrement(t *testing.T) {
	v := semver.MustParse("1.2.3")
	for bump, want := range map[Bump]string{Major: "2.0.0", Minor: "1.3.0", Patch: "1.2.4"} {
		got, err := Increment(v, bump)
		require.NoError(t, err)
		assert.Equal(t, want, got.String(), bump)
	}
	_, err := Increment(v, Bump("other"))
	assert.Error(t, err)
}

func TestReadWriteVersion(t *testing.T) {
	dir := writeVersionFile(t, "0.9.1")
	v, err := ReadVersion(dir)
	require.NoError(t, err)
	assert.Equal(t, "0.9.1", v.String())

	require.NoError(t, WriteVersion(dir, semver.MustParse("1.0.0")))
	data, err := os.ReadFile(filepath.Join(dir, VersionFile))
	require.NoError(t, err)
	assert.Equal(t, "1.0.0\n", string(data))

	require.NoError(t, os.WriteFile(filepath.Join(dir, VersionFile), []byte("one"), 0o644))
	_, err = ReadVersion(dir)
	assert.ErrorContains(t, err, "parse VERSION")

	_, err = ReadVersion(t.TempDir())
	assert.ErrorContains(t, err, "read VERSION")
}

func TestParseRepository(t *testing.T) {
	for _, remote := range []string{
		"git@github.com:diffblue/cover-client.git",
		"git@github.com:diffblue/cover-client",
		"https://github.com/diffblue/cover-client.git",
		"https://github.com/diffblue/cover-client/",
	} {
		repo, err := ParseRepository(remote)
		require.NoError(t, err, remote)
		assert.Equal(t, Repository{Owner: "diffblue", Name: "cover-client"}, repo, remote)
	}

	_, err := ParseRepository("https://gitlab.com/a/b.git")
	assert.ErrorContains(t, err, "could not extract GitHub repository")
}

func TestNewGitHubClientNeedsToken(t *testing.T) {
	_, err := NewGitHubClient("", "")
	assert.ErrorContains(t, err, "provide a token")
}

func unreleasedLogs() map[string][]integrations.GitCommit {
	return map[string][]integrations.GitCommit{
		"--merges master..develop": {{
			Hash:    "abc",
			Parents: []string{"a", "b"},
			Message: "Merge pull request #7 from org/feature\n\nTG-9: Add widgets",
		}},
	}
}

func TestStart(t *testing.T) {
	r, prs := fakeGitHub(t, http.StatusCreated)
	git := &fakeGit{branch: "develop", remote: "git@github.com:diffblue/cover-client.git", logs: unreleasedLogs()}
	r.Git = git
	r.Dir = writeVersionFile(t, "1.2.3")

	started, err := r.Start(context.Background(), StartOptions{Choose: func(v *semver.Version) (Bump, error) {
		assert.Equal(t, "1.2.3", v.String())
		return Minor, nil
	}})
	require.NoError(t, err)

	assert.Equal(t, "1.3.0", started.Version.String())
	assert.Equal(t, "release/1.3.0", started.Branch)
	assert.Equal(t, []string{"Add widgets [TG-9] #7"}, started.Changes)
	assert.Equal(t, 42, started.PullRequest.GetNumber())

	assert.Equal(t, []string{
		"fetch origin master:master",
		"fetch origin develop",
		"pull",
		"checkout develop",
		"branch release/1.3.0",
		"add VERSION",
		"commit Bump version to 1.3.0",
		"push origin release/1.3.0",
	}, git.calls)

	v, err := ReadVersion(r.Dir)
	require.NoError(t, err)
	assert.Equal(t, "1.3.0", v.String())

	require.Len(t, *prs, 1)
	pr := (*prs)[0]
	assert.Equal(t, "diffblue", pr.Owner)
	assert.Equal(t, "cover-client", pr.Repo)
	assert.Equal(t, map[string]string{
		"title": "Release 1.3.0",
		"head":  "release/1.3.0",
		"base":  "master",
		"body":  "* Add widgets [TG-9] #7\n",
	}, pr.Body)
}

func TestStartNothingToRelease(t *testing.T) {
	r, prs := fakeGitHub(t, http.StatusCreated)
	r.Git = &fakeGit{branch: "feature", remote: "git@github.com:o/r.git"}
	r.Dir = writeVersionFile(t, "1.2.3")

	_, err := r.Start(context.Background(), StartOptions{Bump: Patch})
	assert.ErrorIs(t, err, ErrNothingToRelease)
	assert.Empty(t, *prs)
}

func TestStartForced(t *testing.T) {
	r, _ := fakeGitHub(t, http.StatusCreated)
	r.Git = &fakeGit{branch: "feature", remote: "git@github.com:o/r.git"}
	r.Dir = writeVersionFile(t, "1.2.3")

	started, err := r.Start(context.Background(), StartOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, "1.2.4", started.Version.String())
}

func TestStartDirtyBranch(t *testing.T) {
	r, _ := fakeGitHub(t, http.StatusCreated)
	r.Git = &fakeGit{branch: "master", dirty: true}
	r.Dir = writeVersionFile(t, "1.2.3")

	_, err := r.Start(context.Background(), StartOptions{Bump: Patch})
	assert.ErrorContains(t, err, `branch "master" is not clean`)
}

func TestStartPushFailure(t *testing.T) {
	r, prs := fakeGitHub(t, http.StatusCreated)
	r.Git = &fakeGit{branch: "develop", logs: unreleasedLogs(), failOn: "push"}
	r.Dir = writeVersionFile(t, "1.2.3")

	_, err := r.Start(context.Background(), StartOptions{Bump: Major})
	assert.ErrorContains(t, err, "push origin release/2.0.0 failed")
	assert.Empty(t, *prs)
}

func TestStartUnauthorized(t *testing.T) {
	r, _ := fakeGitHub(t, http.StatusUnauthorized)
	r.Git = &fakeGit{branch: "develop", remote: "git@github.com:o/r.git", logs: unreleasedLogs()}
	r.Dir = writeVersionFile(t, "1.2.3")

	_, err := r.Start(context.Background(), StartOptions{Bump: Patch})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestStartOtherAPIError(t *testing.T) {
	r, _ := fakeGitHub(t, http.StatusUnprocessableEntity)
	r.Git = &fakeGit{branch: "develop", remote: "git@github.com:o/r.git", logs: unreleasedLogs()}
	r.Dir = writeVersionFile(t, "1.2.3")

	_, err := r.Start(context.Background(), StartOptions{Bump: Patch})
	assert.ErrorContains(t, err, "GitHub API error")
	assert.NotErrorIs(t, err, ErrUnauthorized)
}

func TestStartWithoutClient(t *testing.T) {
	_, err := (&Releaser{Git: &fakeGit{}}).Start(context.Background(), StartOptions{})
	assert.ErrorContains(t, err, "no GitHub client")
}

func TestPostRelease(t *testing.T) {
	r, prs := fakeGitHub(t, http.StatusCreated)
	r.Git = &fakeGit{remote: "https://github.com/diffblue/cover-client.git"}
	r.Dir = writeVersionFile(t, "2.1.0")

	pr, err := r.PostRelease(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/diffblue/cover-client/pull/42", pr.GetHTMLURL())

	require.Len(t, *prs, 1)
	assert.Equal(t, map[string]string{
		"title": "Merge 2.1.0 back into develop",
		"head":  "master",
		"base":  "develop",
	}, (*prs)[0].Body)
}

func TestTagPushesToRemote(t *testing.T) {
	remote := t.TempDir()
	repo := gittest.New(t)
	repo.Git("init", "--bare", remote)
	repo.Git("remote", "add", "origin", remote)
	repo.WriteFile(VersionFile, "3.0.1\n")
	repo.Commit("Bump version to 3.0.1")

	r := &Releaser{Git: integrations.NewGitRunner(repo.Dir), Dir: repo.Dir}
	name, err := r.Tag(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "3.0.1", name)

	assert.Equal(t, "tag", repo.Git("cat-file", "-t", "3.0.1"))
	assert.Contains(t, repo.Git("tag", "-n1", "3.0.1"), "Release 3.0.1")
	assert.Contains(t, repo.Git("ls-remote", "--tags", "origin"), "refs/tags/3.0.1")
}
