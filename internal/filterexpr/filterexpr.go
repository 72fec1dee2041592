// Package filterexpr compiles Starlark expressions into result predicates,
// so that results can be selected on the command line with expressions
// such as
//
//	has_tag("smoke") and source_file.startswith("com/acme/")
//
// Each result is evaluated in a fresh thread with these globals:
// test_id, test_name, tested_function, source_file, phase, tags,
// covered_lines and the builtin has_tag(name).
package filterexpr

import (
	"fmt"

	starlib "go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/julianshen/coverclient/pkg/cover"
	"github.com/julianshen/coverclient/pkg/results"
)

// MaxSteps bounds the work a single evaluation may do.
const MaxSteps = 100_000

const filename = "filter"

// Compile parses expr and returns a predicate that evaluates it against
// each result. The expression's truth value decides whether the result is
// kept. Syntax errors are reported here; runtime errors are returned by
// the predicate.
func Compile(expr string) (results.Predicate, error) {
	opts := &syntax.FileOptions{}
	parsed, err := opts.ParseExpr(filename, expr, 0)
	if err != nil {
		return nil, fmt.Errorf("parse filter %q: %w", expr, err)
	}
	return func(r cover.Result) (bool, error) {
		thread := &starlib.Thread{Name: filename}
		thread.SetMaxExecutionSteps(MaxSteps)
		v, err := starlib.EvalExprOptions(opts, thread, parsed, globals(r))
		if err != nil {
			return false, fmt.Errorf("evaluate filter on %s: %w", r.TestID, err)
		}
		return bool(v.Truth()), nil
	}, nil
}

func globals(r cover.Result) starlib.StringDict {
	return starlib.StringDict{
		"test_id":         starlib.String(r.TestID),
		"test_name":       starlib.String(r.TestName),
		"tested_function": starlib.String(r.TestedFunction),
		"source_file":     starlib.String(r.SourceFilePath),
		"phase":           starlib.String(r.PhaseGenerated),
		"tags":            stringTuple(r.Tags),
		"covered_lines":   stringTuple(r.CoveredLines),
		"has_tag": starlib.NewBuiltin("has_tag", func(_ *starlib.Thread, b *starlib.Builtin, args starlib.Tuple, kwargs []starlib.Tuple) (starlib.Value, error) {
			var tag string
			if err := starlib.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &tag); err != nil {
				return nil, err
			}
			return starlib.Bool(r.HasTag(tag)), nil
		}),
	}
}

func stringTuple(ss []string) starlib.Tuple {
	t := make(starlib.Tuple, len(ss))
	for i, s := range ss {
		t[i] = starlib.String(s)
	}
	return t
}
