package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julianshen/coverclient/pkg/cover"
	"github.com/julianshen/coverclient/pkg/writer"
)

var testFiles = cover.Files{Build: strings.NewReader("jar")}

func newStarted(t *testing.T, fb *fakeBindings, opts ...Option) *Analysis {
	t.Helper()
	a, err := New(testAPI, append([]Option{WithBindings(fb)}, opts...)...)
	require.NoError(t, err)
	_, err = a.Start(context.Background(), testFiles, &cover.Settings{})
	require.NoError(t, err)
	return a
}

func TestNewDefaults(t *testing.T) {
	a, err := New(testAPI)
	require.NoError(t, err)
	assert.Equal(t, testAPI, a.APIURL())
	assert.True(t, a.IsNotStarted())
	assert.False(t, a.IsStarted())
	assert.Empty(t, a.ID())
	assert.NotNil(t, a.Results())
	assert.Empty(t, a.Results())
	assert.False(t, a.Streaming())
}

func TestNewRejectsNilSink(t *testing.T) {
	_, err := New(testAPI, WithSink(nil))
	assert.ErrorIs(t, err, ErrInvalidSink)

	var lines *JSONLinesSink
	_, err = New(testAPI, WithSink(lines))
	assert.ErrorIs(t, err, ErrInvalidSink)

	var fn SinkFunc
	_, err = New(testAPI, WithSink(fn))
	assert.ErrorIs(t, err, ErrInvalidSink)
}

func TestStart(t *testing.T) {
	computed := &cover.Settings{CoverOnly: "file"}
	fb := &fakeBindings{start: func(cover.Files, *cover.Settings) (*cover.StartResponse, error) {
		return &cover.StartResponse{ID: "abc", Phases: cover.Phases{"p1": {}}, Settings: computed}, nil
	}}
	a, err := New(testAPI, WithBindings(fb))
	require.NoError(t, err)

	settings := &cover.Settings{CoverOnly: "function"}
	resp, err := a.Start(context.Background(), testFiles, settings)
	require.NoError(t, err)
	assert.Equal(t, "abc", resp.ID)
	assert.Equal(t, "abc", a.ID())
	assert.True(t, a.IsQueued())
	assert.True(t, a.IsInProgress())
	assert.Same(t, settings, a.Settings())
	assert.Same(t, computed, a.ComputedSettings())
	assert.Contains(t, a.Phases(), "p1")
	assert.Equal(t, []*cover.Settings{settings}, fb.startSettings)
}

func TestStartTwice(t *testing.T) {
	fb := &fakeBindings{}
	a := newStarted(t, fb)

	_, err := a.Start(context.Background(), testFiles, &cover.Settings{})
	assert.ErrorIs(t, err, ErrAlreadyStarted)
	assert.Len(t, fb.startSettings, 1)
	assert.Equal(t, "analysis-1", a.ID())
}

func TestStartFailureLeavesStateUnchanged(t *testing.T) {
	apiErr := &cover.APIError{Code: "analysisLimit", Status: 429}
	fb := &fakeBindings{start: func(cover.Files, *cover.Settings) (*cover.StartResponse, error) {
		return nil, apiErr
	}}
	a, err := New(testAPI, WithBindings(fb))
	require.NoError(t, err)

	_, err = a.Start(context.Background(), testFiles, &cover.Settings{})
	assert.Same(t, apiErr, err)
	assert.True(t, a.IsNotStarted())
	assert.Empty(t, a.ID())
}

func TestStartWithoutIDFails(t *testing.T) {
	fb := &fakeBindings{start: func(cover.Files, *cover.Settings) (*cover.StartResponse, error) {
		return &cover.StartResponse{}, nil
	}}
	a, err := New(testAPI, WithBindings(fb))
	require.NoError(t, err)

	_, err = a.Start(context.Background(), testFiles, &cover.Settings{})
	assert.ErrorIs(t, err, ErrNoID)
	assert.True(t, a.IsNotStarted())
}

func TestStartUsesDefaultSettings(t *testing.T) {
	defaults := &cover.Settings{CoverOnly: "file"}
	fb := &fakeBindings{defaults: func() (*cover.Settings, error) { return defaults, nil }}
	a, err := New(testAPI, WithBindings(fb))
	require.NoError(t, err)

	_, err = a.Start(context.Background(), testFiles, nil)
	require.NoError(t, err)
	assert.Equal(t, []*cover.Settings{defaults}, fb.startSettings)
	assert.Nil(t, a.Settings())
	assert.Equal(t, 1, fb.defaultsCalls)

	cached, err := a.GetDefaultSettings(context.Background())
	require.NoError(t, err)
	assert.Same(t, defaults, cached)
	assert.Equal(t, 1, fb.defaultsCalls)
}

func TestStartSeededDefaultSettings(t *testing.T) {
	defaults := &cover.Settings{CoverOnly: "file"}
	fb := &fakeBindings{}
	a, err := New(testAPI, WithBindings(fb), WithDefaultSettings(defaults))
	require.NoError(t, err)

	_, err = a.Start(context.Background(), testFiles, nil)
	require.NoError(t, err)
	assert.Zero(t, fb.defaultsCalls)
	assert.Equal(t, []*cover.Settings{defaults}, fb.startSettings)
}

func TestStartDefaultSettingsFailure(t *testing.T) {
	boom := errors.New("down")
	fb := &fakeBindings{defaults: func() (*cover.Settings, error) { return nil, boom }}
	a, err := New(testAPI, WithBindings(fb))
	require.NoError(t, err)

	_, err = a.Start(context.Background(), testFiles, nil)
	assert.ErrorIs(t, err, ErrStartDefaultsFailed)
	assert.ErrorIs(t, err, boom)
	assert.True(t, a.IsNotStarted())
	assert.Empty(t, fb.startSettings)
}

func TestCallsBeforeStart(t *testing.T) {
	fb := &fakeBindings{}
	a, err := New(testAPI, WithBindings(fb))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = a.Cancel(ctx)
	assert.ErrorIs(t, err, ErrNotStarted)
	_, err = a.GetStatus(ctx)
	assert.ErrorIs(t, err, ErrNotStarted)
	_, err = a.GetResults(ctx, true)
	assert.ErrorIs(t, err, ErrNotStarted)

	assert.Zero(t, fb.cancelCalls)
	assert.Zero(t, fb.statusCalls)
	assert.Zero(t, fb.resultCallCount())
}

func TestGetStatus(t *testing.T) {
	fb := &fakeBindings{status: func(id string) (*cover.StatusResponse, error) {
		assert.Equal(t, "analysis-1", id)
		return &cover.StatusResponse{Status: cover.StatusRunning, Progress: cover.Progress{Completed: 3, Total: 9}}, nil
	}}
	a := newStarted(t, fb)

	resp, err := a.GetStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cover.StatusRunning, resp.Status)
	assert.True(t, a.IsRunning())
	assert.Equal(t, cover.Progress{Completed: 3, Total: 9}, a.Progress())
	assert.Nil(t, a.ServiceError())
}

func TestGetStatusClearsStaleError(t *testing.T) {
	replies := []*cover.StatusResponse{
		{Status: cover.StatusRunning, Progress: cover.Progress{Completed: 1, Total: 2}, Message: &cover.ServiceError{Code: "warn", Message: "slow"}},
		{Status: cover.StatusRunning},
	}
	fb := &fakeBindings{status: func(string) (*cover.StatusResponse, error) {
		r := replies[0]
		replies = replies[1:]
		return r, nil
	}}
	a := newStarted(t, fb)

	_, err := a.GetStatus(context.Background())
	require.NoError(t, err)
	require.NotNil(t, a.ServiceError())

	_, err = a.GetStatus(context.Background())
	require.NoError(t, err)
	assert.Nil(t, a.ServiceError())
	assert.Equal(t, cover.Progress{}, a.Progress())
}

func TestGetStatusRejectsBackwardTransition(t *testing.T) {
	fb := &fakeBindings{status: func(string) (*cover.StatusResponse, error) {
		return &cover.StatusResponse{Status: cover.StatusQueued, Progress: cover.Progress{Completed: 1}}, nil
	}}
	a := newStarted(t, fb)
	require.NoError(t, a.applyStatus(cover.StatusResponse{Status: cover.StatusCompleted, Progress: cover.Progress{Completed: 5, Total: 5}}))

	_, err := a.GetStatus(context.Background())
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.True(t, a.IsCompleted())
	assert.Equal(t, cover.Progress{Completed: 5, Total: 5}, a.Progress())
}

func TestGetStatusSurfacesServiceError(t *testing.T) {
	fb := &fakeBindings{status: func(string) (*cover.StatusResponse, error) {
		return &cover.StatusResponse{Status: cover.StatusErrored, Message: &cover.ServiceError{Code: "crash", Message: "engine crashed"}}, nil
	}}
	a := newStarted(t, fb)

	_, err := a.GetStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, a.IsErrored())
	assert.True(t, a.IsEnded())
	assert.Equal(t, "engine crashed", a.ServiceError().Message)
}

func TestGetStatusRequestErrorPropagates(t *testing.T) {
	apiErr := &cover.APIError{Code: cover.CodeRequestFailed}
	fb := &fakeBindings{status: func(string) (*cover.StatusResponse, error) { return nil, apiErr }}
	a := newStarted(t, fb)

	_, err := a.GetStatus(context.Background())
	assert.Same(t, apiErr, err)
	assert.True(t, a.IsQueued())
}

func TestCancel(t *testing.T) {
	fb := &fakeBindings{cancel: func(id string) (*cover.CancelResponse, error) {
		return &cover.CancelResponse{Message: "stopping", Status: statusOf(cover.StatusStopping)}, nil
	}}
	a := newStarted(t, fb)

	resp, err := a.Cancel(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "stopping", resp.Message)
	assert.True(t, a.IsStopping())
	assert.True(t, a.IsInProgress())
}

func TestCancelAfterEnded(t *testing.T) {
	fb := &fakeBindings{cancel: func(id string) (*cover.CancelResponse, error) {
		return &cover.CancelResponse{Message: "already done", Status: statusOf(cover.StatusCompleted)}, nil
	}}
	a := newStarted(t, fb)
	require.NoError(t, a.applyStatus(statusOf(cover.StatusCompleted)))

	_, err := a.Cancel(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fb.cancelCalls)
	assert.True(t, a.IsCompleted())
}

func TestCancelClosesSinkWhenEnded(t *testing.T) {
	sink := &memorySink{}
	fb := &fakeBindings{cancel: func(id string) (*cover.CancelResponse, error) {
		return &cover.CancelResponse{Status: statusOf(cover.StatusCanceled)}, nil
	}}
	a := newStarted(t, fb, WithSink(sink))

	_, err := a.Cancel(context.Background())
	require.NoError(t, err)
	assert.True(t, a.IsCanceled())
	assert.Equal(t, 1, sink.closed)

	_, err = a.Cancel(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sink.closed)
}

func TestGetResultsPaginates(t *testing.T) {
	r1, r2, r3 := sampleResult("1", "A"), sampleResult("2", "A"), sampleResult("3", "B")
	fb := &fakeBindings{results: func(call int, cursor cover.Cursor) (*cover.ResultsResponse, error) {
		switch call {
		case 1:
			return page("10", cover.StatusRunning, r1, r2), nil
		default:
			return page("20", cover.StatusCompleted, r3), nil
		}
	}}
	a := newStarted(t, fb)

	_, err := a.GetResults(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, cover.Cursor("10"), a.Cursor())
	assert.True(t, a.IsRunning())

	_, err = a.GetResults(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, cover.Cursor("20"), a.Cursor())
	assert.True(t, a.IsCompleted())
	assert.Equal(t, []cover.Result{r1, r2, r3}, a.Results())

	assert.Equal(t, []resultsCall{{id: "analysis-1", cursor: ""}, {id: "analysis-1", cursor: "10"}}, fb.resultsCalls)
}

func TestGetResultsWithoutPaginationReplaces(t *testing.T) {
	r1, r2 := sampleResult("1", "A"), sampleResult("2", "A")
	fb := &fakeBindings{results: func(call int, cursor cover.Cursor) (*cover.ResultsResponse, error) {
		if call == 1 {
			return page("10", cover.StatusRunning, r1), nil
		}
		return page("11", cover.StatusRunning, r1, r2), nil
	}}
	a := newStarted(t, fb)

	_, err := a.GetResults(context.Background(), true)
	require.NoError(t, err)
	_, err = a.GetResults(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, []cover.Result{r1, r2}, a.Results())
	assert.Equal(t, cover.Cursor(""), fb.resultsCalls[1].cursor)
	assert.Equal(t, cover.Cursor("11"), a.Cursor())
}

func TestGetResultsFailureKeepsCursor(t *testing.T) {
	fb := &fakeBindings{results: func(call int, cursor cover.Cursor) (*cover.ResultsResponse, error) {
		if call == 1 {
			return page("10", cover.StatusRunning, sampleResult("1", "A")), nil
		}
		return nil, &cover.APIError{Code: cover.CodeRequestFailed}
	}}
	a := newStarted(t, fb)

	_, err := a.GetResults(context.Background(), true)
	require.NoError(t, err)
	_, err = a.GetResults(context.Background(), true)
	require.Error(t, err)

	assert.Equal(t, cover.Cursor("10"), a.Cursor())
	assert.Len(t, a.Results(), 1)
	assert.True(t, a.IsRunning())
}

func TestGetResultsStreaming(t *testing.T) {
	sink := &memorySink{}
	r1, r2 := sampleResult("1", "A"), sampleResult("2", "B")
	fb := &fakeBindings{results: func(call int, cursor cover.Cursor) (*cover.ResultsResponse, error) {
		if call == 1 {
			return page("1", cover.StatusRunning, r1), nil
		}
		return page("2", cover.StatusCompleted, r2), nil
	}}
	a := newStarted(t, fb, WithSink(sink))
	assert.True(t, a.Streaming())

	_, err := a.GetResults(context.Background(), true)
	require.NoError(t, err)
	assert.Zero(t, sink.closed)

	_, err = a.GetResults(context.Background(), true)
	require.NoError(t, err)

	assert.Equal(t, []cover.Result{r1, r2}, sink.results)
	assert.Equal(t, 1, sink.closed)
	assert.Nil(t, a.Results())
}

func TestGetResultsAfterSinkClosed(t *testing.T) {
	sink := &memorySink{}
	r1, r2 := sampleResult("1", "A"), sampleResult("2", "B")
	fb := &fakeBindings{results: func(call int, cursor cover.Cursor) (*cover.ResultsResponse, error) {
		if call == 1 {
			return page("1", cover.StatusCompleted, r1), nil
		}
		return page("2", cover.StatusCompleted, r2), nil
	}}
	a := newStarted(t, fb, WithSink(sink))

	_, err := a.GetResults(context.Background(), true)
	require.NoError(t, err)
	_, err = a.GetResults(context.Background(), true)
	require.NoError(t, err)

	assert.Equal(t, []cover.Result{r1}, sink.results)
	assert.Equal(t, 1, sink.closed)
	assert.Equal(t, cover.Cursor("2"), a.Cursor())
}

func TestGetResultsStreamingMustPaginate(t *testing.T) {
	fb := &fakeBindings{}
	a := newStarted(t, fb, WithSink(&memorySink{}))

	_, err := a.GetResults(context.Background(), false)
	assert.ErrorIs(t, err, ErrStreamMustPaginate)
	assert.Zero(t, fb.resultCallCount())
}

func TestGetResultsSinkFailure(t *testing.T) {
	boom := errors.New("disk full")
	sink := &memorySink{writeErr: boom}
	fb := &fakeBindings{results: func(int, cover.Cursor) (*cover.ResultsResponse, error) {
		return page("5", cover.StatusRunning, sampleResult("1", "A")), nil
	}}
	a := newStarted(t, fb, WithSink(sink))

	_, err := a.GetResults(context.Background(), true)
	assert.ErrorIs(t, err, ErrSinkWriteFailed)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, cover.Cursor(""), a.Cursor())
	assert.True(t, a.IsQueued())
}

func TestGetResultsInvalidTransition(t *testing.T) {
	fb := &fakeBindings{results: func(int, cover.Cursor) (*cover.ResultsResponse, error) {
		return page("5", cover.StatusQueued, sampleResult("1", "A")), nil
	}}
	a := newStarted(t, fb)
	require.NoError(t, a.applyStatus(statusOf(cover.StatusRunning)))

	_, err := a.GetResults(context.Background(), true)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Empty(t, a.Results())
	assert.Equal(t, cover.Cursor(""), a.Cursor())
}

func TestWriteTestsStreaming(t *testing.T) {
	a := newStarted(t, &fakeBindings{}, WithSink(&memorySink{}))
	_, err := a.WriteTests(context.Background(), t.TempDir(), writer.Options{})
	assert.ErrorIs(t, err, ErrResultsStreamed)
}

func TestWriteTestsDelegates(t *testing.T) {
	r1 := sampleResult("1", "A")
	fw := &fakeWriter{paths: []string{"/out/ATest.java"}}
	fb := &fakeBindings{results: func(int, cover.Cursor) (*cover.ResultsResponse, error) {
		return page("1", cover.StatusCompleted, r1), nil
	}}
	a := newStarted(t, fb, WithWriter(fw))
	_, err := a.GetResults(context.Background(), true)
	require.NoError(t, err)

	paths, err := a.WriteTests(context.Background(), "/out", writer.Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"/out/ATest.java"}, paths)
	assert.Equal(t, []string{"/out"}, fw.dirs)
	assert.Equal(t, [][]cover.Result{{r1}}, fw.got)
}

func TestGetAPIVersion(t *testing.T) {
	fb := &fakeBindings{version: func() (*cover.VersionResponse, error) {
		return &cover.VersionResponse{Version: "1.4.2"}, nil
	}}
	a, err := New(testAPI, WithBindings(fb))
	require.NoError(t, err)

	resp, err := a.GetAPIVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.4.2", resp.Version)
	assert.Equal(t, "1.4.2", a.APIVersion())

	require.NoError(t, a.CheckAPIVersion(context.Background(), "^1.2"))
	assert.ErrorIs(t, a.CheckAPIVersion(context.Background(), ">=2.0.0"), ErrIncompatibleAPI)
	assert.Error(t, a.CheckAPIVersion(context.Background(), "not a constraint"))
}

func TestStatusHookAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	var transitions []string
	hook := func(_ *Analysis, from, to cover.Status) {
		transitions = append(transitions, string(from)+"->"+string(to))
	}
	fb := &fakeBindings{results: func(call int, cursor cover.Cursor) (*cover.ResultsResponse, error) {
		switch call {
		case 1:
			return page("1", cover.StatusRunning, sampleResult("1", "A")), nil
		case 2:
			return page("2", cover.StatusRunning), nil
		default:
			return page("3", cover.StatusCompleted, sampleResult("2", "A"), sampleResult("3", "A")), nil
		}
	}}
	a := newStarted(t, fb, WithMetrics(m), WithStatusHook(hook))
	for i := 0; i < 3; i++ {
		_, err := a.GetResults(context.Background(), true)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"NOT_STARTED->QUEUED", "QUEUED->RUNNING", "RUNNING->COMPLETED"}, transitions)
	assert.Equal(t, float64(3), testutil.ToFloat64(m.PollsTotal.WithLabelValues("success")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.ResultsTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TransitionsTotal.WithLabelValues("RUNNING", "COMPLETED")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.PollDuration))
}
