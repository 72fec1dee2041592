package cover

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusPredicates(t *testing.T) {
	for _, s := range []Status{StatusQueued, StatusRunning, StatusStopping} {
		assert.True(t, s.InProgress(), s)
		assert.False(t, s.Ended(), s)
	}
	for _, s := range []Status{StatusCanceled, StatusErrored, StatusCompleted} {
		assert.True(t, s.Ended(), s)
		assert.False(t, s.InProgress(), s)
	}
	assert.False(t, StatusNotStarted.InProgress())
	assert.False(t, StatusNotStarted.Ended())
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusNotStarted, StatusQueued, true},
		{StatusNotStarted, StatusRunning, false},
		{StatusQueued, StatusQueued, true},
		{StatusQueued, StatusRunning, true},
		{StatusQueued, StatusCompleted, true},
		{StatusRunning, StatusQueued, false},
		{StatusRunning, StatusStopping, true},
		{StatusStopping, StatusRunning, false},
		{StatusStopping, StatusCanceled, true},
		{StatusCompleted, StatusCompleted, true},
		{StatusCompleted, StatusCanceled, true},
		{StatusCompleted, StatusRunning, false},
		{StatusErrored, StatusNotStarted, false},
		{StatusQueued, StatusNotStarted, false},
		{StatusQueued, Status("BOGUS"), false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestStatusUnmarshal(t *testing.T) {
	var resp StatusResponse
	require.NoError(t, json.Unmarshal([]byte(`{"status":"RUNNING","progress":{"completed":2,"total":5}}`), &resp))
	assert.Equal(t, StatusRunning, resp.Status)
	assert.Equal(t, Progress{Completed: 2, Total: 5}, resp.Progress)
	assert.Nil(t, resp.Message)

	assert.Error(t, json.Unmarshal([]byte(`{"status":"NOT_STARTED"}`), &resp))
	assert.Error(t, json.Unmarshal([]byte(`{"status":"WHATEVER"}`), &resp))
}

func TestCursorUnmarshal(t *testing.T) {
	var page ResultsResponse
	require.NoError(t, json.Unmarshal([]byte(`{"cursor":12345,"status":{"status":"QUEUED"},"results":[]}`), &page))
	assert.Equal(t, Cursor("12345"), page.Cursor)

	require.NoError(t, json.Unmarshal([]byte(`{"cursor":"abc","status":{"status":"QUEUED"}}`), &page))
	assert.Equal(t, Cursor("abc"), page.Cursor)

	require.NoError(t, json.Unmarshal([]byte(`{"cursor":null,"status":{"status":"QUEUED"}}`), &page))
	assert.Equal(t, Cursor(""), page.Cursor)
}

func TestCursorMarshal(t *testing.T) {
	data, err := json.Marshal(Cursor("42"))
	require.NoError(t, err)
	assert.Equal(t, "42", string(data))

	data, err = json.Marshal(Cursor("next-page"))
	require.NoError(t, err)
	assert.Equal(t, `"next-page"`, string(data))
}

func TestResultHasTag(t *testing.T) {
	r := Result{Tags: []string{"a", "b"}}
	assert.True(t, r.HasTag("b"))
	assert.False(t, r.HasTag("c"))
}

func TestAPIErrorIs(t *testing.T) {
	err := fmt.Errorf("start: %w", &APIError{Code: "analysisLimit", Status: http.StatusTooManyRequests, Message: "too many"})
	assert.True(t, errors.Is(err, &APIError{Code: "analysisLimit"}))
	assert.False(t, errors.Is(err, &APIError{Code: "other"}))
	assert.Contains(t, err.Error(), "HTTP 429")
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(&APIError{Status: http.StatusNotFound}))
	assert.False(t, IsNotFound(errors.New("nope")))
}

func TestBindingsErrorIs(t *testing.T) {
	err := &BindingsError{Code: CodeBuildMissing, Message: "missing"}
	assert.ErrorIs(t, err, ErrBuildMissing)
	assert.NotErrorIs(t, err, ErrSettingsMissing)
}
