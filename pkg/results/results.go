// Package results groups and filters analysis results.
package results

import (
	"errors"
	"fmt"

	"github.com/julianshen/coverclient/pkg/cover"
)

// Group is the set of results generated for one source file.
type Group struct {
	SourceFilePath string
	Results        []cover.Result
}

// GroupBySource groups results by source file. Groups appear in the order
// their first result appears, and results keep their relative order.
func GroupBySource(results []cover.Result) []Group {
	index := make(map[string]int)
	var groups []Group
	for _, r := range results {
		i, ok := index[r.SourceFilePath]
		if !ok {
			i = len(groups)
			index[r.SourceFilePath] = i
			groups = append(groups, Group{SourceFilePath: r.SourceFilePath})
		}
		groups[i].Results = append(groups[i].Results, r)
	}
	return groups
}

// GroupMap is GroupBySource keyed by source file path.
func GroupMap(results []cover.Result) map[string][]cover.Result {
	m := make(map[string][]cover.Result)
	for _, r := range results {
		m[r.SourceFilePath] = append(m[r.SourceFilePath], r)
	}
	return m
}

// Filter error codes.
const (
	CodeFilterInvalid = "FILTER_INVALID"
	CodeFilterFailed  = "FILTER_FAILED"
)

// FilterError is returned when a filter is malformed or fails while running.
type FilterError struct {
	Code    string
	Message string
	Err     error
}

// Error returns the message, followed by the wrapped error if any.
func (e *FilterError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *FilterError) Unwrap() error { return e.Err }

// Is matches on code.
func (e *FilterError) Is(target error) bool {
	t, ok := target.(*FilterError)
	return ok && t.Code == e.Code
}

// Sentinel filter errors, matched with errors.Is by code.
var (
	ErrFilterInvalid = &FilterError{Code: CodeFilterInvalid, Message: "results filter must be tags, a tag filter or a predicate"}
	ErrFilterFailed  = &FilterError{Code: CodeFilterFailed, Message: "results filter failed"}
)

// Filterer selects results. Tags, TagFilter and Predicate are the
// supported implementations.
type Filterer interface {
	isFilter()
}

// Tags keeps results carrying at least one of the tags. An empty list
// keeps everything.
type Tags []string

// TagFilter keeps results that carry at least one Include tag (when any
// are given) and none of the Exclude tags.
type TagFilter struct {
	Include []string `json:"include,omitempty" toml:"include" yaml:"include,omitempty"`
	Exclude []string `json:"exclude,omitempty" toml:"exclude" yaml:"exclude,omitempty"`
}

// Predicate keeps results for which it returns true.
type Predicate func(cover.Result) (bool, error)

func (Tags) isFilter()      {}
func (TagFilter) isFilter() {}
func (Predicate) isFilter() {}

// Filter applies f to results. A nil filter returns results unchanged.
func Filter(results []cover.Result, f Filterer) (filtered []cover.Result, err error) {
	switch f := f.(type) {
	case nil:
		return results, nil
	case Tags:
		return filterByTag(results, TagFilter{Include: f}), nil
	case *Tags:
		if f == nil {
			return results, nil
		}
		return filterByTag(results, TagFilter{Include: *f}), nil
	case TagFilter:
		return filterByTag(results, f), nil
	case *TagFilter:
		if f == nil {
			return results, nil
		}
		return filterByTag(results, *f), nil
	case Predicate:
		if f == nil {
			return results, nil
		}
		return filterByPredicate(results, f)
	default:
		return nil, &FilterError{Code: CodeFilterInvalid, Message: fmt.Sprintf("unsupported results filter %T", f)}
	}
}

func filterByTag(results []cover.Result, f TagFilter) []cover.Result {
	out := make([]cover.Result, 0, len(results))
	for _, r := range results {
		if len(f.Include) > 0 && !hasAny(r, f.Include) {
			continue
		}
		if len(f.Exclude) > 0 && hasAny(r, f.Exclude) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func hasAny(r cover.Result, tags []string) bool {
	for _, t := range tags {
		if r.HasTag(t) {
			return true
		}
	}
	return false
}

func filterByPredicate(results []cover.Result, pred Predicate) (out []cover.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			out = nil
			err = &FilterError{Code: CodeFilterFailed, Message: "results filter failed", Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	out = make([]cover.Result, 0, len(results))
	for _, r := range results {
		keep, err := pred(r)
		if err != nil {
			var fe *FilterError
			if errors.As(err, &fe) {
				return nil, err
			}
			return nil, &FilterError{Code: CodeFilterFailed, Message: "results filter failed", Err: err}
		}
		if keep {
			out = append(out, r)
		}
	}
	return out, nil
}
