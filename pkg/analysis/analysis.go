// Package analysis drives one remote analysis through its lifecycle: start,
// poll for status and results, cancel, and write the generated tests.
//
// An Analysis is a client-side state machine. Its status only moves
// forward (NOT_STARTED, QUEUED, RUNNING, STOPPING, then one of CANCELED,
// ERRORED or COMPLETED) and every status reported by the service is
// validated before it is applied. Results are either buffered in memory
// or streamed to a Sink; the choice is made at construction.
//
// Calls that change state must not overlap on one Analysis. ForceStop and
// the read accessors are safe to call from any goroutine.
package analysis

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/julianshen/coverclient/internal/delay"
	"github.com/julianshen/coverclient/pkg/bindings"
	"github.com/julianshen/coverclient/pkg/cover"
	"github.com/julianshen/coverclient/pkg/writer"
)

// Bindings are the service calls an Analysis depends on.
type Bindings interface {
	StartAnalysis(ctx context.Context, apiURL string, files cover.Files, settings *cover.Settings) (*cover.StartResponse, error)
	GetAnalysisStatus(ctx context.Context, apiURL, id string) (*cover.StatusResponse, error)
	GetAnalysisResults(ctx context.Context, apiURL, id string, cursor cover.Cursor) (*cover.ResultsResponse, error)
	CancelAnalysis(ctx context.Context, apiURL, id string) (*cover.CancelResponse, error)
	GetAPIVersion(ctx context.Context, apiURL string) (*cover.VersionResponse, error)
	GetDefaultSettings(ctx context.Context, apiURL string) (*cover.Settings, error)
}

// TestWriter writes results to test files.
type TestWriter interface {
	WriteTests(ctx context.Context, dir string, results []cover.Result, opts writer.Options) ([]string, error)
}

// StatusHook is called after every committed status change.
type StatusHook func(a *Analysis, from, to cover.Status)

// Option configures an Analysis.
type Option func(*Analysis)

// WithBindings replaces the default HTTP bindings.
func WithBindings(b Bindings) Option {
	return func(a *Analysis) { a.bindings = b }
}

// WithWriter replaces the default test writer.
func WithWriter(w TestWriter) Option {
	return func(a *Analysis) { a.writer = w }
}

// WithSink streams results to sink instead of buffering them. A nil sink,
// including a nil *JSONLinesSink or SinkFunc, makes New fail. Other
// implementations holding a nil pointer are not detected.
func WithSink(sink Sink) Option {
	return func(a *Analysis) {
		a.sink = sink
		a.streaming = true
	}
}

// WithLogger sets the logger. By default nothing is logged.
func WithLogger(l *slog.Logger) Option {
	return func(a *Analysis) { a.logger = l }
}

// WithMetrics records polling activity in m.
func WithMetrics(m *Metrics) Option {
	return func(a *Analysis) { a.metrics = m }
}

// WithStatusHook registers a hook run after each status change.
func WithStatusHook(h StatusHook) Option {
	return func(a *Analysis) { a.hooks = append(a.hooks, h) }
}

// WithDefaultSettings seeds the default settings so that starting without
// settings does not fetch them from the service.
func WithDefaultSettings(s *cover.Settings) Option {
	return func(a *Analysis) { a.defaultSettings = s }
}

// Analysis is one remote analysis.
type Analysis struct {
	apiURL    string
	bindings  Bindings
	writer    TestWriter
	logger    *slog.Logger
	metrics   *Metrics
	hooks     []StatusHook
	streaming bool

	mu               sync.Mutex
	id               string
	status           cover.Status
	settings         *cover.Settings
	computedSettings *cover.Settings
	defaultSettings  *cover.Settings
	phases           cover.Phases
	progress         cover.Progress
	serviceErr       *cover.ServiceError
	cursor           cover.Cursor
	results          []cover.Result
	sink             Sink
	sinkClosed       bool
	apiVersion       string
	pollDelay        *delay.Delay[struct{}]
	pollingStopped   bool
}

// New creates an Analysis against the service at apiURL.
func New(apiURL string, opts ...Option) (*Analysis, error) {
	a := &Analysis{
		apiURL: apiURL,
		status: cover.StatusNotStarted,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.streaming && isNilSink(a.sink) {
		return nil, ErrInvalidSink
	}
	if a.bindings == nil {
		a.bindings = bindings.New(bindings.Options{})
	}
	if a.writer == nil {
		a.writer = writer.New()
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if !a.streaming {
		a.results = []cover.Result{}
	}
	return a, nil
}

// APIURL is the service the analysis talks to.
func (a *Analysis) APIURL() string { return a.apiURL }

// ID is the service-assigned analysis id, empty until started.
func (a *Analysis) ID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.id
}

// Status is the last known status.
func (a *Analysis) Status() cover.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Progress is the progress from the last status report.
func (a *Analysis) Progress() cover.Progress {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.progress
}

// ServiceError is the error attached to the last status report, if any.
func (a *Analysis) ServiceError() *cover.ServiceError {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.serviceErr
}

// Cursor is the pagination cursor for the next results fetch.
func (a *Analysis) Cursor() cover.Cursor {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cursor
}

// Settings are the settings passed to Start; nil when defaults were used.
func (a *Analysis) Settings() *cover.Settings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settings
}

// ComputedSettings are the effective settings reported by the service.
func (a *Analysis) ComputedSettings() *cover.Settings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.computedSettings
}

// Phases are the phases reported by the service at start.
func (a *Analysis) Phases() cover.Phases {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.phases
}

// APIVersion is the version last fetched with GetAPIVersion.
func (a *Analysis) APIVersion() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.apiVersion
}

// Streaming reports whether results go to a Sink.
func (a *Analysis) Streaming() bool { return a.streaming }

// Results returns a copy of the buffered results, or nil when streaming.
func (a *Analysis) Results() []cover.Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.streaming {
		return nil
	}
	out := make([]cover.Result, len(a.results))
	copy(out, a.results)
	return out
}

// IsNotStarted reports whether Start has not yet succeeded.
func (a *Analysis) IsNotStarted() bool { return a.Status() == cover.StatusNotStarted }

// IsQueued reports whether the service has queued the analysis.
func (a *Analysis) IsQueued() bool { return a.Status() == cover.StatusQueued }

// IsRunning reports whether the service is analysing.
func (a *Analysis) IsRunning() bool { return a.Status() == cover.StatusRunning }

// IsStopping reports whether a cancel has been accepted but not finished.
func (a *Analysis) IsStopping() bool { return a.Status() == cover.StatusStopping }

// IsCanceled reports whether the analysis ended by cancellation.
func (a *Analysis) IsCanceled() bool { return a.Status() == cover.StatusCanceled }

// IsErrored reports whether the analysis ended with a service error.
func (a *Analysis) IsErrored() bool { return a.Status() == cover.StatusErrored }

// IsCompleted reports whether the analysis finished normally.
func (a *Analysis) IsCompleted() bool { return a.Status() == cover.StatusCompleted }

// IsInProgress reports whether the analysis is queued, running or stopping.
func (a *Analysis) IsInProgress() bool { return a.Status().InProgress() }

// IsEnded reports whether the status is terminal.
func (a *Analysis) IsEnded() bool { return a.Status().Ended() }

// IsStarted reports whether Start has succeeded.
func (a *Analysis) IsStarted() bool { return !a.IsNotStarted() }
