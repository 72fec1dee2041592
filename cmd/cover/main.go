package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/julianshen/coverclient/internal/config"
	"github.com/julianshen/coverclient/pkg/bindings"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func versionString() string {
	return fmt.Sprintf("cover %s (commit: %s, built: %s)", version, commit, date)
}

// app holds what every command shares once the root flags are parsed.
type app struct {
	configPath      string
	apiURL          string
	logLevel        string
	logFormat       string
	trace           bool
	metricsTextfile string

	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	tracer   *sdktrace.TracerProvider
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "cover",
		Short: "Client for the Cover test generation service",
		Long: `cover uploads Java builds to a Cover service, follows the analysis
and writes the generated unit tests into your source tree.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.teardown(cmd.Context())
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&a.configPath, "config", "", "path to config file (default: "+config.DefaultPath()+")")
	f.StringVar(&a.apiURL, "api-url", "", "override api.url")
	f.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	f.StringVar(&a.logFormat, "log-format", "", "log format: text, json")
	f.BoolVar(&a.trace, "trace", false, "print request spans to stderr")
	f.StringVar(&a.metricsTextfile, "metrics-textfile", "", "write metrics to this file on exit")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), versionString())
		},
	})
	root.AddCommand(runCmd(a))
	root.AddCommand(statusCmd(a))
	root.AddCommand(cancelCmd(a))
	root.AddCommand(resultsCmd(a))
	root.AddCommand(apiVersionCmd(a))
	root.AddCommand(historyCmd(a))
	root.AddCommand(configCmd(a))
	root.AddCommand(devCmd(a))
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	path := a.configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if a.apiURL != "" {
		cfg.API.URL = a.apiURL
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = newLogger(cmd.ErrOrStderr(), cfg.Log)
	a.registry = prometheus.NewRegistry()

	if a.trace {
		exp, err := stdouttrace.New(stdouttrace.WithWriter(cmd.ErrOrStderr()), stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("creating trace exporter: %w", err)
		}
		a.tracer = sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	}
	return nil
}

func (a *app) teardown(ctx context.Context) error {
	var errs []error
	if a.tracer != nil {
		if err := a.tracer.Shutdown(context.WithoutCancel(ctx)); err != nil {
			errs = append(errs, fmt.Errorf("shutting down tracer: %w", err))
		}
	}
	if a.metricsTextfile != "" && a.registry != nil {
		if err := prometheus.WriteToTextfile(a.metricsTextfile, a.registry); err != nil {
			errs = append(errs, fmt.Errorf("writing metrics: %w", err))
		}
	}
	return errors.Join(errs...)
}

func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// bindings returns a client configured from the api section.
func (a *app) bindings() *bindings.Client {
	opts := bindings.Options{
		Timeout:                a.cfg.API.Timeout,
		AllowUnauthorizedHTTPS: a.cfg.API.AllowUnauthorizedHTTPS,
		RequestsPerSecond:      a.cfg.API.RequestsPerSecond,
		UserAgent:              "cover/" + version,
	}
	if a.tracer != nil {
		opts.TracerProvider = a.tracer
	}
	return bindings.New(opts)
}
