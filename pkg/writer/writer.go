// Package writer writes analysis results to JUnit test files on disk.
package writer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/julianshen/coverclient/pkg/combiner"
	"github.com/julianshen/coverclient/pkg/cover"
	"github.com/julianshen/coverclient/pkg/results"
)

// DefaultConcurrency is the number of test files written in parallel when
// Options.Concurrency is not set.
const DefaultConcurrency = 20

// Error codes.
const (
	CodeDirFailed   = "DIR_FAILED"
	CodeWriteFailed = "WRITE_FAILED"
)

// Error is returned when tests cannot be written.
type Error struct {
	Code    string
	Message string
	// Failures maps source file paths to the error that stopped their tests
	// from being written.
	Failures map[string]error
	Err      error
}

func (e *Error) Error() string {
	if len(e.Failures) == 0 {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Message, e.Err)
		}
		return e.Message
	}
	paths := make([]string, 0, len(e.Failures))
	for p := range e.Failures {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	var b strings.Builder
	b.WriteString(e.Message)
	for _, p := range paths {
		fmt.Fprintf(&b, "\n  %s: %v", p, e.Failures[p])
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrDirFailed   = &Error{Code: CodeDirFailed, Message: "could not create the output directory"}
	ErrWriteFailed = &Error{Code: CodeWriteFailed, Message: "test writing failed for some results"}
)

// Options configures WriteTests.
type Options struct {
	Concurrency int
	// Filter selects which results of each source file are written.
	Filter results.Filterer
}

// Writer writes test files. The zero value is ready to use.
type Writer struct{}

// New returns a Writer.
func New() *Writer { return &Writer{} }

// WriteTests writes results into dir, one test class per source file, and
// returns the sorted paths of the files written. Existing test classes are
// merged into; missing ones are generated. A failure for one source file
// does not stop the others; all failures are reported together.
func (w *Writer) WriteTests(ctx context.Context, dir string, rs []cover.Result, opts Options) ([]string, error) {
	return WriteTests(ctx, dir, rs, opts)
}

// WriteTests is Writer.WriteTests.
func WriteTests(ctx context.Context, dir string, rs []cover.Result, opts Options) ([]string, error) {
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &Error{Code: CodeDirFailed, Message: fmt.Sprintf("could not create the directory %s", dir), Err: err}
	}

	var (
		mu       sync.Mutex
		paths    []string
		failures = map[string]error{}
	)

	p := pool.New().WithMaxGoroutines(concurrency)
	for _, group := range results.GroupBySource(rs) {
		p.Go(func() {
			path, err := writeGroup(ctx, dir, group, opts.Filter)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				failures[group.SourceFilePath] = err
			case path != "":
				paths = append(paths, path)
			}
		})
	}
	p.Wait()

	if len(failures) > 0 {
		return nil, &Error{Code: CodeWriteFailed, Message: "test writing failed for some results:", Failures: failures}
	}
	sort.Strings(paths)
	return paths, nil
}

// writeGroup writes one source file's results. It returns an empty path
// when the filter leaves nothing to write.
func writeGroup(ctx context.Context, dir string, group results.Group, filter results.Filterer) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	selected, err := results.Filter(group.Results, filter)
	if err != nil {
		return "", err
	}
	if len(selected) == 0 {
		return "", nil
	}

	testDir := filepath.Join(dir, filepath.Dir(filepath.FromSlash(group.SourceFilePath)))
	if err := os.MkdirAll(testDir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", testDir, err)
	}
	name, err := combiner.FileNameForResult(group.Results[0])
	if err != nil {
		return "", err
	}
	path := filepath.Join(testDir, name)

	var class string
	existing, err := os.ReadFile(path)
	switch {
	case err == nil:
		class, err = combiner.MergeIntoTestClass(string(existing), selected)
	case errors.Is(err, fs.ErrNotExist):
		class, err = combiner.GenerateTestClass(selected)
	default:
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(path, []byte(class), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}
