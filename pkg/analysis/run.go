package analysis

import (
	"context"
	"time"

	"github.com/julianshen/coverclient/internal/delay"
	"github.com/julianshen/coverclient/pkg/combiner"
	"github.com/julianshen/coverclient/pkg/cover"
	"github.com/julianshen/coverclient/pkg/results"
	"github.com/julianshen/coverclient/pkg/writer"
)

// DefaultPollingInterval is used when RunOptions.PollingInterval is zero.
const DefaultPollingInterval = 10 * time.Second

// RunOptions configures Run.
type RunOptions struct {
	PollingInterval time.Duration
	// OutputTests is the directory tests are written to once the analysis
	// ends. Empty means tests are not written, and so does a Run cut short
	// by ForceStop; call WriteTests for those.
	OutputTests        string
	WritingConcurrency int
	// Filter selects the results written to OutputTests.
	Filter results.Filterer
	// OnResults is called once per source file with the results that
	// arrived in a poll and the name of the test file they belong in.
	OnResults func(rs []cover.Result, testFileName string)
	// OnError receives a failure to write tests. When set, Run reports
	// success instead of returning that error.
	OnError func(error)
}

// Run starts the analysis and polls for results until it ends or ForceStop
// is called, then optionally writes the tests. It returns the buffered
// results, or nil when streaming.
func (a *Analysis) Run(ctx context.Context, files cover.Files, settings *cover.Settings, opts RunOptions) ([]cover.Result, error) {
	interval := opts.PollingInterval
	if interval <= 0 {
		interval = DefaultPollingInterval
	}

	a.mu.Lock()
	a.pollingStopped = false
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.pollDelay = nil
		a.pollingStopped = false
		a.mu.Unlock()
	}()

	if _, err := a.Start(ctx, files, settings); err != nil {
		return nil, err
	}

	for {
		d, stopped := a.nextDelay(interval)
		if stopped {
			break
		}
		if _, err := d.Wait(ctx); err != nil {
			d.Cancel(err)
			return nil, err
		}
		if a.stopped() {
			break
		}

		resp, err := a.GetResults(ctx, true)
		if err != nil {
			return nil, err
		}
		if opts.OnResults != nil {
			a.notifyResults(resp.Results, opts.OnResults)
		}
		if a.IsEnded() {
			break
		}
	}

	a.logger.Info("analysis polling finished", "analysis_id", a.ID(), "status", a.Status())

	if a.IsErrored() {
		runErr := &Error{Code: CodeRunErrored, Message: "analysis ended with an error"}
		if se := a.ServiceError(); se != nil {
			runErr.Err = se
		}
		return nil, runErr
	}

	if opts.OutputTests != "" && a.IsEnded() {
		paths, err := a.WriteTests(ctx, opts.OutputTests, writer.Options{
			Concurrency: opts.WritingConcurrency,
			Filter:      opts.Filter,
		})
		switch {
		case err != nil && opts.OnError != nil:
			opts.OnError(err)
		case err != nil:
			return nil, err
		default:
			a.logger.Info("tests written", "analysis_id", a.ID(), "files", len(paths))
		}
	}

	return a.Results(), nil
}

// ForceStop stops Run's polling loop. A fetch already in flight completes
// and its results are kept; no further fetches are made.
func (a *Analysis) ForceStop() {
	a.mu.Lock()
	a.pollingStopped = true
	d := a.pollDelay
	a.mu.Unlock()
	if d != nil {
		d.Cancel(nil)
	}
}

// WriteTests writes the buffered results to dir and returns the paths
// written. Streaming analyses have nothing to write.
func (a *Analysis) WriteTests(ctx context.Context, dir string, opts writer.Options) ([]string, error) {
	if a.streaming {
		return nil, ErrResultsStreamed
	}
	return a.writer.WriteTests(ctx, dir, a.Results(), opts)
}

// nextDelay creates and records the delay before the next poll, unless
// polling has been stopped.
func (a *Analysis) nextDelay(interval time.Duration) (*delay.Delay[struct{}], bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pollingStopped {
		a.pollDelay = nil
		return nil, true
	}
	a.pollDelay = delay.New(interval, struct{}{})
	return a.pollDelay, false
}

func (a *Analysis) stopped() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pollDelay = nil
	return a.pollingStopped
}

func (a *Analysis) notifyResults(rs []cover.Result, fn func([]cover.Result, string)) {
	for _, g := range results.GroupBySource(rs) {
		name, err := combiner.FileNameForResult(g.Results[0])
		if err != nil {
			a.logger.Warn("could not derive test file name", "source_file", g.SourceFilePath, "error", err)
		}
		fn(g.Results, name)
	}
}
