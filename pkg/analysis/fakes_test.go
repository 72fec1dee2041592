package analysis

import (
	"context"
	"errors"
	"sync"

	"github.com/julianshen/coverclient/pkg/cover"
	"github.com/julianshen/coverclient/pkg/writer"
)

const testAPI = "https://cover.example.com/api"

type resultsCall struct {
	id     string
	cursor cover.Cursor
}

// fakeBindings answers every call from its function fields and records
// what it was asked.
type fakeBindings struct {
	mu sync.Mutex

	start    func(files cover.Files, settings *cover.Settings) (*cover.StartResponse, error)
	status   func(id string) (*cover.StatusResponse, error)
	results  func(call int, cursor cover.Cursor) (*cover.ResultsResponse, error)
	cancel   func(id string) (*cover.CancelResponse, error)
	version  func() (*cover.VersionResponse, error)
	defaults func() (*cover.Settings, error)

	startSettings []*cover.Settings
	resultsCalls  []resultsCall
	statusCalls   int
	cancelCalls   int
	defaultsCalls int
}

func (f *fakeBindings) StartAnalysis(_ context.Context, apiURL string, files cover.Files, settings *cover.Settings) (*cover.StartResponse, error) {
	f.mu.Lock()
	f.startSettings = append(f.startSettings, settings)
	f.mu.Unlock()
	if f.start == nil {
		return &cover.StartResponse{ID: "analysis-1"}, nil
	}
	return f.start(files, settings)
}

func (f *fakeBindings) GetAnalysisStatus(_ context.Context, apiURL, id string) (*cover.StatusResponse, error) {
	f.mu.Lock()
	f.statusCalls++
	f.mu.Unlock()
	if f.status == nil {
		return nil, errors.New("unexpected status call")
	}
	return f.status(id)
}

func (f *fakeBindings) GetAnalysisResults(_ context.Context, apiURL, id string, cursor cover.Cursor) (*cover.ResultsResponse, error) {
	f.mu.Lock()
	f.resultsCalls = append(f.resultsCalls, resultsCall{id: id, cursor: cursor})
	n := len(f.resultsCalls)
	f.mu.Unlock()
	if f.results == nil {
		return nil, errors.New("unexpected results call")
	}
	return f.results(n, cursor)
}

func (f *fakeBindings) CancelAnalysis(_ context.Context, apiURL, id string) (*cover.CancelResponse, error) {
	f.mu.Lock()
	f.cancelCalls++
	f.mu.Unlock()
	if f.cancel == nil {
		return nil, errors.New("unexpected cancel call")
	}
	return f.cancel(id)
}

func (f *fakeBindings) GetAPIVersion(context.Context, string) (*cover.VersionResponse, error) {
	if f.version == nil {
		return nil, errors.New("unexpected version call")
	}
	return f.version()
}

func (f *fakeBindings) GetDefaultSettings(context.Context, string) (*cover.Settings, error) {
	f.mu.Lock()
	f.defaultsCalls++
	f.mu.Unlock()
	if f.defaults == nil {
		return nil, errors.New("unexpected default settings call")
	}
	return f.defaults()
}

func (f *fakeBindings) resultCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.resultsCalls)
}

type fakeWriter struct {
	err   error
	dirs  []string
	got   [][]cover.Result
	opts  []writer.Options
	paths []string
}

func (w *fakeWriter) WriteTests(_ context.Context, dir string, rs []cover.Result, opts writer.Options) ([]string, error) {
	w.dirs = append(w.dirs, dir)
	w.got = append(w.got, rs)
	w.opts = append(w.opts, opts)
	if w.err != nil {
		return nil, w.err
	}
	return w.paths, nil
}

// memorySink records streamed results.
type memorySink struct {
	mu       sync.Mutex
	results  []cover.Result
	closed   int
	writeErr error
}

func (s *memorySink) Write(r cover.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.results = append(s.results, r)
	return nil
}

func (s *memorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func statusOf(s cover.Status) cover.StatusResponse {
	return cover.StatusResponse{Status: s}
}

func page(cursor string, s cover.Status, rs ...cover.Result) *cover.ResultsResponse {
	if rs == nil {
		rs = []cover.Result{}
	}
	return &cover.ResultsResponse{Cursor: cover.Cursor(cursor), Status: statusOf(s), Results: rs}
}

func sampleResult(id, class string) cover.Result {
	return cover.Result{
		TestID:         id,
		TestName:       "test" + id,
		TestedFunction: "java::com.diffblue.javademo." + class + ".run:()V",
		SourceFilePath: "com/diffblue/javademo/" + class + ".java",
		TestBody:       "@Test\npublic void test" + id + "() {}",
		Tags:           []string{},
	}
}
