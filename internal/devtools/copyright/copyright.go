// Package copyright checks that every tracked file carries a current
// copyright notice.
package copyright

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// DefaultHolder is the copyright holder expected by default.
const DefaultHolder = "Diffblue Limited"

// BaseRules are applied before any ignore file.
var BaseRules = ParseRules("", "/.git\n.DS_Store\n")

// NoticePattern matches "Copyright [YYYY-]<year> <holder>. All Rights
// Reserved." and captures the optional start year.
func NoticePattern(year int, holder string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(
		`Copyright (?:(\d{4})-)?(%d) %s\. All Rights Reserved\.`,
		year, regexp.QuoteMeta(holder),
	))
}

// HasNotice reports whether content carries a notice for year. A range
// whose start is after year is rejected.
func HasNotice(content string, year int, holder string) bool {
	m := NoticePattern(year, holder).FindStringSubmatch(content)
	if m == nil {
		return false
	}
	if m[1] == "" {
		return true
	}
	start, err := strconv.Atoi(m[1])
	if err != nil {
		return false
	}
	return start <= year
}

// FileLister lists tracked files relative to the repository root.
type FileLister interface {
	LsFiles(ctx context.Context) ([]string, error)
}

// Options configures a Checker.
type Options struct {
	Year        int
	Holder      string
	Concurrency int
	Logger      *slog.Logger
}

// Checker checks notices in one repository.
type Checker struct {
	root  string
	files FileLister
	opts  Options
}

// NewChecker returns a checker for the repository at root.
func NewChecker(root string, files FileLister, opts Options) *Checker {
	if opts.Holder == "" {
		opts.Holder = DefaultHolder
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 3
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Checker{root: root, files: files, opts: opts}
}

// MissingError lists the files without a valid notice.
type MissingError struct {
	Year  int
	Files []string
}

func (e *MissingError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "no valid %d copyright statement found in:", e.Year)
	for _, f := range e.Files {
		b.WriteString("\n  ")
		b.WriteString(f)
	}
	return b.String()
}

// Check returns a *MissingError naming every tracked, non-ignored file
// without a notice, or nil when all files are up to date.
func (c *Checker) Check(ctx context.Context) error {
	tracked, err := c.files.LsFiles(ctx)
	if err != nil {
		return fmt.Errorf("list tracked files: %w", err)
	}
	rules, err := c.loadRules(tracked)
	if err != nil {
		return err
	}

	var (
		mu      sync.Mutex
		missing []string
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)
	for _, file := range tracked {
		if rules.Ignored(file) {
			c.opts.Logger.Debug("ignored", "file", file)
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(filepath.Join(c.root, filepath.FromSlash(file)))
			if err != nil {
				return fmt.Errorf("read %s: %w", file, err)
			}
			if !HasNotice(string(data), c.opts.Year, c.opts.Holder) {
				mu.Lock()
				missing = append(missing, file)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	c.opts.Logger.Info("copyright check finished", "files", len(tracked), "missing", len(missing))

	if len(missing) > 0 {
		sort.Strings(missing)
		return &MissingError{Year: c.opts.Year, Files: missing}
	}
	return nil
}

// loadRules reads the ignore files of every directory holding a tracked
// file, parents before children.
func (c *Checker) loadRules(tracked []string) (Rules, error) {
	dirs := map[string]bool{".": true}
	for _, f := range tracked {
		for d := path.Dir(f); d != "."; d = path.Dir(d) {
			dirs[d] = true
		}
	}
	ordered := make([]string, 0, len(dirs))
	for d := range dirs {
		ordered = append(ordered, d)
	}
	sort.Slice(ordered, func(i, j int) bool {
		di, dj := strings.Count(ordered[i], "/"), strings.Count(ordered[j], "/")
		if ordered[i] == "." || ordered[j] == "." {
			return ordered[i] == "."
		}
		if di != dj {
			return di < dj
		}
		return ordered[i] < ordered[j]
	})

	rules := append(Rules{}, BaseRules...)
	for _, d := range ordered {
		for _, name := range IgnoreFileNames {
			data, err := os.ReadFile(filepath.Join(c.root, filepath.FromSlash(d), name))
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", path.Join(d, name), err)
			}
			rules = append(rules, ParseRules(d, string(data))...)
		}
	}
	return rules, nil
}
