package analysis

import "fmt"

// Error codes.
const (
	CodeAlreadyStarted      = "ALREADY_STARTED"
	CodeNotStarted          = "NOT_STARTED"
	CodeNoID                = "NO_ID"
	CodeRunErrored          = "RUN_ERRORED"
	CodeStartDefaultsFailed = "START_DEFAULTS_FAILED"
	CodeStreamMustPaginate  = "STREAM_MUST_PAGINATE"
	CodeResultsStreamed     = "RESULTS_STREAMED"
	CodeInvalidSink         = "INVALID_SINK"
	CodeInvalidTransition   = "INVALID_TRANSITION"
	CodeSinkWriteFailed     = "SINK_WRITE_FAILED"
	CodeIncompatibleAPI     = "INCOMPATIBLE_API"
)

// Error is returned when an Analysis operation is not allowed in the
// current state or the analysis ends in error. It never wraps a failed
// request; those are returned as they came from the bindings.
type Error struct {
	Code    string
	Message string
	Err     error
}

// Error returns the message, followed by the wrapped error if any.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// Is matches on code, so errors.Is(err, ErrAlreadyStarted) holds for any
// ALREADY_STARTED error regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinel errors, matched with errors.Is by code.
var (
	// ErrAlreadyStarted is returned by Start once the analysis has started.
	ErrAlreadyStarted = &Error{Code: CodeAlreadyStarted, Message: "analysis has already been started"}
	// ErrNotStarted is returned by remote calls made before Start.
	ErrNotStarted = &Error{Code: CodeNotStarted, Message: "analysis has not been started"}
	// ErrNoID is returned when the service starts an analysis without an id.
	ErrNoID = &Error{Code: CodeNoID, Message: "analysis has no id"}
	// ErrRunErrored is returned by Run when the analysis ends ERRORED.
	ErrRunErrored = &Error{Code: CodeRunErrored, Message: "analysis ended with an error"}
	// ErrStartDefaultsFailed wraps a failure to fetch default settings.
	ErrStartDefaultsFailed = &Error{Code: CodeStartDefaultsFailed, Message: "could not fetch default settings"}
	// ErrStreamMustPaginate is returned by unpaginated fetches while streaming.
	ErrStreamMustPaginate = &Error{Code: CodeStreamMustPaginate, Message: "streamed results must be paginated"}
	// ErrResultsStreamed is returned by WriteTests while streaming.
	ErrResultsStreamed = &Error{Code: CodeResultsStreamed, Message: "results are streamed and not held in memory"}
	// ErrInvalidSink is returned by New for a nil sink.
	ErrInvalidSink = &Error{Code: CodeInvalidSink, Message: "results sink must not be nil"}
	// ErrInvalidTransition is returned when the service reports a status
	// the analysis cannot move to.
	ErrInvalidTransition = &Error{Code: CodeInvalidTransition, Message: "invalid status transition"}
	// ErrSinkWriteFailed wraps a sink write or close failure.
	ErrSinkWriteFailed = &Error{Code: CodeSinkWriteFailed, Message: "could not write results to the sink"}
	// ErrIncompatibleAPI is returned by CheckAPIVersion when the service version does
	// not satisfy the constraint.
	ErrIncompatibleAPI = &Error{Code: CodeIncompatibleAPI, Message: "api version is not supported"}
)
