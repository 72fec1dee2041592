// Package changelog derives a changelog from the merge history of a
// repository that uses release/x.y.z branches and pull requests.
//
// Released versions are the release branches merged into the develop
// branch, each tagged with its version. A version's entries are the
// commits made on its release branch plus the pull requests merged since
// the previous version. Pull requests merged into develop but not yet
// into master form the "Unreleased" section.
package changelog

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/julianshen/coverclient/internal/integrations"
)

// UnreleasedVersion names the section of changes not yet released.
const UnreleasedVersion = "Unreleased"

// Git is the history access the changelog needs.
type Git interface {
	Log(ctx context.Context, args ...string) ([]integrations.GitCommit, error)
}

// Version is one section of the changelog.
type Version struct {
	Version string
	Entries []string
}

// Options names the long-lived branches.
type Options struct {
	Develop string
	Master  string
}

// WithDefaults fills unset branches with develop and master.
func (o Options) WithDefaults() Options {
	if o.Develop == "" {
		o.Develop = "develop"
	}
	if o.Master == "" {
		o.Master = "master"
	}
	return o
}

var (
	releasePattern     = regexp.MustCompile(`from [^/\s]+/release/(\d+\.\d+\.\d+)`)
	featurePattern     = regexp.MustCompile(`Merge pull request (#\d+) from \S+[ \t]*\n\s*(.+)`)
	versionBumpPattern = regexp.MustCompile(`^((Update|Bump) version( and changelog)?( number| to \d+\.\d+\.\d+)?|Creating the release for \d+\.\d+\.\d+)$`)
	ticketPattern      = regexp.MustCompile(`(?i)\[?\s*((TG-\d+)(\s*[, ]\s*TG-\d+)*)\s*\]?:?`)
	blanks             = regexp.MustCompile(`[ \t]+`)
	ticketSeparators   = regexp.MustCompile(`[\s,]+`)
)

// ReleaseVersion extracts the version from a release branch merge
// message.
func ReleaseVersion(message string) (string, bool) {
	m := releasePattern.FindStringSubmatch(message)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// ReleaseVersions returns the distinct release versions found in
// messages, in order of first appearance.
func ReleaseVersions(messages []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, msg := range messages {
		if v, ok := ReleaseVersion(msg); ok && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// Features turns pull request merge messages into entries of the form
// "<description> [TG-1] #12". Release merges and other messages are
// skipped.
func Features(messages []string) []string {
	var out []string
	for _, msg := range messages {
		if _, ok := ReleaseVersion(msg); ok {
			continue
		}
		m := featurePattern.FindStringSubmatch(msg)
		if m == nil {
			continue
		}
		out = append(out, NormaliseTickets(strings.TrimSpace(m[2]))+" "+m[1])
	}
	return out
}

// ReleaseBranchChanges returns the subjects of the commits made directly
// on a release branch: those before the first merge commit, newest first,
// without version bumps.
func ReleaseBranchChanges(commits []integrations.GitCommit) []string {
	var out []string
	for _, c := range commits {
		if c.IsMerge() {
			break
		}
		subject := c.Subject()
		if versionBumpPattern.MatchString(subject) {
			continue
		}
		out = append(out, subject)
	}
	return out
}

// NormaliseTickets moves ticket references such as "TG-123" to the end of
// a description in the form "[TG-123, TG-456]".
func NormaliseTickets(feature string) string {
	loc := ticketPattern.FindStringSubmatchIndex(feature)
	if loc == nil {
		return feature
	}
	comment := feature[:loc[0]] + feature[loc[1]:]
	comment = blanks.ReplaceAllString(strings.TrimSpace(comment), " ")
	tickets := ticketSeparators.Split(strings.TrimSpace(feature[loc[2]:loc[3]]), -1)
	return fmt.Sprintf("%s [%s]", comment, strings.ToUpper(strings.Join(tickets, ", ")))
}

func messages(commits []integrations.GitCommit) []string {
	out := make([]string, len(commits))
	for i, c := range commits {
		out[i] = c.Message
	}
	return out
}

// Build reads the history through git and returns the released versions,
// oldest first, followed by the unreleased section.
func Build(ctx context.Context, git Git, opts Options) ([]Version, error) {
	opts = opts.WithDefaults()

	merges, err := git.Log(ctx, "--merges", opts.Develop)
	if err != nil {
		return nil, fmt.Errorf("log %s merges: %w", opts.Develop, err)
	}
	versions := ReleaseVersions(messages(merges))

	released := make([]Version, 0, len(versions)+1)
	for i, v := range versions {
		// v^2 is the tip of the release branch merged by the tagged commit.
		rng := v + "^2"
		if i+1 < len(versions) {
			rng = versions[i+1] + ".." + rng
		}
		commits, err := git.Log(ctx, "--topo-order", rng)
		if err != nil {
			return nil, fmt.Errorf("log release %s: %w", v, err)
		}
		entries := append(ReleaseBranchChanges(commits), Features(messages(commits))...)
		released = append(released, Version{Version: v, Entries: entries})
	}

	unreleased, err := git.Log(ctx, "--merges", opts.Master+".."+opts.Develop)
	if err != nil {
		return nil, fmt.Errorf("log unreleased: %w", err)
	}

	out := make([]Version, 0, len(released)+1)
	for i := len(released) - 1; i >= 0; i-- {
		out = append(out, released[i])
	}
	return append(out, Version{Version: UnreleasedVersion, Entries: Features(messages(unreleased))}), nil
}

// Unreleased returns the entries of the unreleased section.
func Unreleased(versions []Version) []string {
	for _, v := range versions {
		if v.Version == UnreleasedVersion {
			return v.Entries
		}
	}
	return nil
}

// RenderEntries renders entries as a Markdown list.
func RenderEntries(entries []string) string {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString("* ")
		b.WriteString(e)
		b.WriteString("\n")
	}
	return b.String()
}

// RenderVersion renders one section with an underlined title.
func RenderVersion(v Version) string {
	return fmt.Sprintf("%s\n%s\n\n%s", v.Version, strings.Repeat("=", len(v.Version)), RenderEntries(v.Entries))
}

// Render renders the whole changelog.
func Render(versions []Version) string {
	parts := make([]string, len(versions))
	for i, v := range versions {
		parts[i] = RenderVersion(v)
	}
	return strings.Join(parts, "\n")
}
