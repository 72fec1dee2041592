package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/julianshen/coverclient/internal/config"
	"github.com/julianshen/coverclient/internal/filterexpr"
	"github.com/julianshen/coverclient/internal/store"
	"github.com/julianshen/coverclient/pkg/analysis"
	"github.com/julianshen/coverclient/pkg/cover"
	"github.com/julianshen/coverclient/pkg/results"
	"github.com/julianshen/coverclient/pkg/writer"
)

type runFlags struct {
	build           string
	dependencies    string
	baseBuild       string
	settings        string
	output          string
	stream          string
	include         []string
	exclude         []string
	filter          string
	pollingInterval time.Duration
	concurrency     int
	noHistory       bool
}

func runCmd(a *app) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an analysis and write the generated tests",
		Long: `Upload a build, poll the service until the analysis ends and write the
generated tests into the output directory.

The first interrupt stops polling and cancels the analysis on the service;
a second one aborts immediately.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAnalysis(cmd, a, f)
		},
	}
	cmd.Flags().StringVar(&f.build, "build", "", "JAR file of the project to analyse (required)")
	cmd.Flags().StringVar(&f.dependencies, "dependencies", "", "JAR file with the project's dependencies")
	cmd.Flags().StringVar(&f.baseBuild, "base-build", "", "JAR file of the baseline build for differential analysis")
	cmd.Flags().StringVar(&f.settings, "settings", "", "JSON or YAML settings file (default: analysis.settings_file, else service defaults)")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "directory to write tests into (default: output.tests_dir)")
	cmd.Flags().StringVar(&f.stream, "stream", "", "stream results as JSON lines to this file instead of buffering them (- for stdout)")
	cmd.Flags().StringSliceVar(&f.include, "include", nil, "write only results with one of these tags")
	cmd.Flags().StringSliceVar(&f.exclude, "exclude", nil, "skip results with any of these tags")
	cmd.Flags().StringVar(&f.filter, "filter", "", `Starlark expression selecting the results to write, e.g. 'has_tag("smoke")' (default: output.filter)`)
	cmd.Flags().DurationVar(&f.pollingInterval, "polling-interval", 0, "time between result fetches (default: analysis.polling_interval)")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 0, "test files written in parallel (default: output.writing_concurrency)")
	cmd.Flags().BoolVar(&f.noHistory, "no-history", false, "do not record the analysis in the local history")
	_ = cmd.MarkFlagRequired("build")
	return cmd
}

func runAnalysis(cmd *cobra.Command, a *app, f runFlags) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	files, closeFiles, err := openBuildFiles(f)
	if err != nil {
		return err
	}
	defer closeFiles()

	filter, err := resultFilter(f, a.cfg.Output)
	if err != nil {
		return err
	}

	settingsPath := f.settings
	if settingsPath == "" {
		settingsPath = a.cfg.Analysis.SettingsFile
	}
	var settings *cover.Settings
	if settingsPath != "" {
		if settings, err = config.LoadSettings(settingsPath); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if f.stream == "-" {
		out = cmd.ErrOrStderr()
	}
	p := newProgress(out)

	var history *store.Store
	if !f.noHistory {
		if history, err = a.openHistory(); err != nil {
			return err
		}
		if history != nil {
			defer history.Close()
		}
	}

	outputDir := firstNonEmpty(f.output, a.cfg.Output.TestsDir)
	opts := []analysis.Option{
		analysis.WithBindings(a.bindings()),
		analysis.WithLogger(a.logger),
		analysis.WithMetrics(analysis.NewMetrics(a.registry)),
		analysis.WithStatusHook(func(an *analysis.Analysis, from, to cover.Status) {
			p.status(an.ID(), from, to, an.Progress())
			recordAnalysis(a, history, an, outputDir, from, to)
		}),
	}
	if f.stream != "" {
		sink, err := openSink(cmd, f.stream)
		if err != nil {
			return err
		}
		opts = append(opts, analysis.WithSink(sink))
	}

	an, err := analysis.New(a.cfg.API.URL, opts...)
	if err != nil {
		return err
	}
	if c := a.cfg.API.VersionConstraint; c != "" {
		if err := an.CheckAPIVersion(ctx, c); err != nil {
			return err
		}
	}

	interrupted := make(chan struct{})
	stopOnSignal(ctx, an, cancel, p, interrupted)

	runOpts := analysis.RunOptions{
		PollingInterval:    a.cfg.Analysis.PollingInterval,
		OutputTests:        outputDir,
		WritingConcurrency: a.cfg.Output.WritingConcurrency,
		Filter:             filter,
		OnResults:          p.results,
		OnError: func(err error) {
			p.warn(err.Error())
		},
	}
	if f.pollingInterval > 0 {
		runOpts.PollingInterval = f.pollingInterval
	}
	if f.concurrency > 0 {
		runOpts.WritingConcurrency = f.concurrency
	}
	if f.stream != "" {
		runOpts.OutputTests = ""
	}

	_, runErr := an.Run(ctx, files, settings, runOpts)

	select {
	case <-interrupted:
		wasEnded := an.IsEnded()
		if an.IsStarted() && !wasEnded {
			if _, err := an.Cancel(context.WithoutCancel(ctx)); err != nil {
				p.warn(fmt.Sprintf("canceling analysis: %v", err))
			}
		}
		if runErr == nil && !wasEnded && runOpts.OutputTests != "" {
			writeInterrupted(ctx, an, runOpts, p)
		}
	default:
	}

	if an.IsStarted() {
		recordAnalysis(a, history, an, outputDir, an.Status(), an.Status())
		p.summary(an.ID(), an.Status(), runOpts.OutputTests)
	}
	return runErr
}

// writeInterrupted writes the results gathered before an interrupt, which
// Run leaves unwritten.
func writeInterrupted(ctx context.Context, an *analysis.Analysis, opts analysis.RunOptions, p *progress) {
	_, err := an.WriteTests(context.WithoutCancel(ctx), opts.OutputTests, writer.Options{
		Concurrency: opts.WritingConcurrency,
		Filter:      opts.Filter,
	})
	if err != nil {
		p.warn(fmt.Sprintf("writing tests: %v", err))
	}
}

func openBuildFiles(f runFlags) (cover.Files, func(), error) {
	var opened []*os.File
	closeAll := func() {
		for _, file := range opened {
			file.Close()
		}
	}
	open := func(path string) (io.Reader, error) {
		if path == "" {
			return nil, nil
		}
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening build file: %w", err)
		}
		opened = append(opened, file)
		return file, nil
	}

	var files cover.Files
	var err error
	if files.Build, err = open(f.build); err != nil {
		closeAll()
		return cover.Files{}, nil, err
	}
	if files.DependenciesBuild, err = open(f.dependencies); err != nil {
		closeAll()
		return cover.Files{}, nil, err
	}
	if files.BaseBuild, err = open(f.baseBuild); err != nil {
		closeAll()
		return cover.Files{}, nil, err
	}
	return files, closeAll, nil
}

// stdoutWriter hides os.Stdout's Close from the sink.
type stdoutWriter struct{ io.Writer }

func openSink(cmd *cobra.Command, path string) (analysis.Sink, error) {
	if path == "-" {
		return analysis.NewJSONLinesSink(stdoutWriter{cmd.OutOrStdout()}), nil
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating results stream: %w", err)
	}
	return analysis.NewJSONLinesSink(file), nil
}

func tagFilter(f runFlags, cfg config.OutputConfig) results.Filterer {
	include := f.include
	if len(include) == 0 {
		include = cfg.IncludeTags
	}
	exclude := f.exclude
	if len(exclude) == 0 {
		exclude = cfg.ExcludeTags
	}
	if len(include) == 0 && len(exclude) == 0 {
		return nil
	}
	return results.TagFilter{Include: include, Exclude: exclude}
}

// resultFilter combines the tag filter with the filter expression. Results
// must pass both.
func resultFilter(f runFlags, cfg config.OutputConfig) (results.Filterer, error) {
	tags := tagFilter(f, cfg)
	expr := firstNonEmpty(f.filter, cfg.Filter)
	if expr == "" {
		return tags, nil
	}
	pred, err := filterexpr.Compile(expr)
	if err != nil {
		return nil, err
	}
	if tags == nil {
		return pred, nil
	}
	return results.Predicate(func(r cover.Result) (bool, error) {
		kept, err := results.Filter([]cover.Result{r}, tags)
		if err != nil || len(kept) == 0 {
			return false, err
		}
		return pred(r)
	}), nil
}

// stopOnSignal force-stops the analysis on the first interrupt and cancels
// ctx on the second. interrupted is closed on the first.
func stopOnSignal(ctx context.Context, an *analysis.Analysis, cancel context.CancelFunc, p *progress, interrupted chan struct{}) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigs)
		select {
		case <-sigs:
		case <-ctx.Done():
			return
		}
		close(interrupted)
		p.warn("stopping analysis, interrupt again to abort")
		an.ForceStop()
		select {
		case <-sigs:
			cancel()
		case <-ctx.Done():
		}
	}()
}

func recordAnalysis(a *app, history *store.Store, an *analysis.Analysis, testsDir string, from, to cover.Status) {
	if history == nil || an.ID() == "" {
		return
	}
	pr := an.Progress()
	rec := store.Analysis{
		ID:          an.ID(),
		APIURL:      an.APIURL(),
		Status:      to.String(),
		Completed:   pr.Completed,
		Total:       pr.Total,
		Cursor:      string(an.Cursor()),
		ResultCount: len(an.Results()),
		TestsDir:    testsDir,
	}
	if err := history.SaveAnalysis(rec); err != nil {
		a.logger.Warn("recording analysis", "analysis_id", rec.ID, "error", err)
		return
	}
	if from == to {
		return
	}
	if err := history.RecordTransition(rec.ID, from.String(), to.String()); err != nil {
		a.logger.Warn("recording status change", "analysis_id", rec.ID, "error", err)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
