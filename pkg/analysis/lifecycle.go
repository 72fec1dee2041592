package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/julianshen/coverclient/pkg/cover"
)

// Start submits the build for analysis. When settings is nil the service's
// default settings are used, fetched once and cached. On failure the
// analysis is left unstarted.
func (a *Analysis) Start(ctx context.Context, files cover.Files, settings *cover.Settings) (*cover.StartResponse, error) {
	if !a.IsNotStarted() {
		return nil, ErrAlreadyStarted
	}

	effective := settings
	if effective == nil {
		defaults, err := a.GetDefaultSettings(ctx)
		if err != nil {
			return nil, &Error{Code: CodeStartDefaultsFailed, Message: "could not fetch default settings", Err: err}
		}
		effective = defaults
	}

	resp, err := a.bindings.StartAnalysis(ctx, a.apiURL, files, effective)
	if err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, &Error{Code: CodeNoID, Message: "service accepted the analysis without an id"}
	}

	a.mu.Lock()
	if a.status != cover.StatusNotStarted {
		a.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	from := a.status
	a.id = resp.ID
	a.settings = settings
	a.computedSettings = resp.Settings
	a.phases = resp.Phases
	a.status = cover.StatusQueued
	a.mu.Unlock()

	a.logger.Info("analysis started", "analysis_id", resp.ID, "phases", len(resp.Phases))
	a.statusChanged(from, cover.StatusQueued)
	return resp, nil
}

// Cancel asks the service to cancel the analysis and applies the status it
// reports. Cancelling an analysis that has already ended is allowed; the
// service decides what to report.
func (a *Analysis) Cancel(ctx context.Context) (*cover.CancelResponse, error) {
	id, err := a.requireID()
	if err != nil {
		return nil, err
	}
	resp, err := a.bindings.CancelAnalysis(ctx, a.apiURL, id)
	if err != nil {
		return nil, err
	}
	if err := a.applyStatus(resp.Status); err != nil {
		return nil, err
	}
	a.logger.Info("analysis cancel requested", "analysis_id", id, "status", resp.Status.Status)
	if err := a.closeSinkIfEnded(); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetStatus fetches and applies the current status.
func (a *Analysis) GetStatus(ctx context.Context) (*cover.StatusResponse, error) {
	id, err := a.requireID()
	if err != nil {
		return nil, err
	}
	resp, err := a.bindings.GetAnalysisStatus(ctx, a.apiURL, id)
	if err != nil {
		return nil, err
	}
	if err := a.applyStatus(*resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetResults fetches results and applies the reported status. With
// paginate the fetch continues from the stored cursor and buffered results
// are appended to; without it all results are fetched again and replace
// the buffer. Streaming analyses must paginate.
func (a *Analysis) GetResults(ctx context.Context, paginate bool) (*cover.ResultsResponse, error) {
	if a.streaming && !paginate {
		return nil, ErrStreamMustPaginate
	}
	id, err := a.requireID()
	if err != nil {
		return nil, err
	}

	var cursor cover.Cursor
	if paginate {
		cursor = a.Cursor()
	}

	start := time.Now()
	resp, err := a.bindings.GetAnalysisResults(ctx, a.apiURL, id, cursor)
	a.metrics.observePoll(time.Since(start), err)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	current := a.status
	sinkClosed := a.sinkClosed
	a.mu.Unlock()
	if !cover.CanTransition(current, resp.Status.Status) {
		return nil, invalidTransition(current, resp.Status.Status)
	}

	if a.streaming && sinkClosed && len(resp.Results) > 0 {
		a.logger.Warn("results sink already closed, dropping results", "analysis_id", id, "count", len(resp.Results))
	}
	if a.streaming && !sinkClosed {
		for i, r := range resp.Results {
			if err := a.sink.Write(r); err != nil {
				return nil, &Error{Code: CodeSinkWriteFailed, Message: fmt.Sprintf("write result %d of %d", i+1, len(resp.Results)), Err: err}
			}
		}
	}

	a.mu.Lock()
	from, err := a.applyStatusLocked(resp.Status)
	if err != nil {
		a.mu.Unlock()
		return nil, err
	}
	a.cursor = resp.Cursor
	if !a.streaming {
		if paginate {
			a.results = append(a.results, resp.Results...)
		} else {
			a.results = append([]cover.Result{}, resp.Results...)
		}
	}
	a.mu.Unlock()

	a.metrics.addResults(len(resp.Results))
	a.logger.Debug("results fetched",
		"analysis_id", id,
		"status", resp.Status.Status,
		"cursor", string(resp.Cursor),
		"count", len(resp.Results),
	)
	if from != resp.Status.Status {
		a.statusChanged(from, resp.Status.Status)
	}
	if err := a.closeSinkIfEnded(); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetAPIVersion fetches and stores the service's API version.
func (a *Analysis) GetAPIVersion(ctx context.Context) (*cover.VersionResponse, error) {
	resp, err := a.bindings.GetAPIVersion(ctx, a.apiURL)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.apiVersion = resp.Version
	a.mu.Unlock()
	return resp, nil
}

// CheckAPIVersion fetches the API version and checks it against a semver
// constraint such as "^1.2".
func (a *Analysis) CheckAPIVersion(ctx context.Context, constraint string) error {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("parse version constraint %q: %w", constraint, err)
	}
	resp, err := a.GetAPIVersion(ctx)
	if err != nil {
		return err
	}
	v, err := semver.NewVersion(resp.Version)
	if err != nil {
		return &Error{Code: CodeIncompatibleAPI, Message: fmt.Sprintf("api version %q is not a semantic version", resp.Version), Err: err}
	}
	if !c.Check(v) {
		return &Error{Code: CodeIncompatibleAPI, Message: fmt.Sprintf("api version %s does not satisfy %s", v, constraint)}
	}
	return nil
}

// GetDefaultSettings returns the service's default settings, fetching them
// on first use.
func (a *Analysis) GetDefaultSettings(ctx context.Context) (*cover.Settings, error) {
	a.mu.Lock()
	cached := a.defaultSettings
	a.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	s, err := a.bindings.GetDefaultSettings(ctx, a.apiURL)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.defaultSettings = s
	a.mu.Unlock()
	return s, nil
}

func (a *Analysis) requireID() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status == cover.StatusNotStarted {
		return "", ErrNotStarted
	}
	if a.id == "" {
		return "", ErrNoID
	}
	return a.id, nil
}

// applyStatus validates and commits a reported status, then runs hooks.
func (a *Analysis) applyStatus(st cover.StatusResponse) error {
	a.mu.Lock()
	from, err := a.applyStatusLocked(st)
	a.mu.Unlock()
	if err != nil {
		return err
	}
	if from != st.Status {
		a.statusChanged(from, st.Status)
	}
	return nil
}

// applyStatusLocked sets status, progress and error together. Nothing is
// changed when the transition is not allowed. a.mu must be held.
func (a *Analysis) applyStatusLocked(st cover.StatusResponse) (cover.Status, error) {
	from := a.status
	if !cover.CanTransition(from, st.Status) {
		return from, invalidTransition(from, st.Status)
	}
	a.status = st.Status
	a.progress = st.Progress
	a.serviceErr = st.Message
	return from, nil
}

func invalidTransition(from, to cover.Status) error {
	return &Error{Code: CodeInvalidTransition, Message: fmt.Sprintf("invalid status transition %s -> %s", from, to)}
}

func (a *Analysis) statusChanged(from, to cover.Status) {
	a.metrics.observeTransition(from, to)
	a.logger.Info("analysis status changed", "analysis_id", a.ID(), "from", from, "to", to)
	for _, h := range a.hooks {
		h(a, from, to)
	}
}

// closeSinkIfEnded closes the sink once, after the analysis has ended.
func (a *Analysis) closeSinkIfEnded() error {
	if !a.streaming {
		return nil
	}
	a.mu.Lock()
	if a.sinkClosed || !a.status.Ended() {
		a.mu.Unlock()
		return nil
	}
	a.sinkClosed = true
	a.mu.Unlock()

	if err := a.sink.Close(); err != nil {
		return &Error{Code: CodeSinkWriteFailed, Message: "close results sink", Err: err}
	}
	return nil
}
