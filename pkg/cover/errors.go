package cover

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError codes produced by the client when the service could not be
// reached or answered with something unexpected.
const (
	CodeRequestFailed   = "requestFailed"
	CodeResponseInvalid = "responseInvalid"
	CodeHTTPStatus      = "httpStatus"
)

// APIError is returned when a request to the service fails. Status is the
// HTTP status code, or zero when no response was received.
type APIError struct {
	Message string
	Code    string
	Status  int
	Err     error
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" && e.Status != 0 {
		msg = http.StatusText(e.Status)
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error %s (HTTP %d): %s", e.Code, e.Status, msg)
	}
	return fmt.Sprintf("api error %s: %s", e.Code, msg)
}

func (e *APIError) Unwrap() error { return e.Err }

// Is matches another *APIError by code, so callers can compare against a
// value carrying only the code they care about.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	return ok && t.Code != "" && t.Code == e.Code
}

// BindingsError codes.
const (
	CodeBuildMissing    = "buildMissing"
	CodeSettingsMissing = "settingsMissing"
	CodeSettingsInvalid = "settingsInvalid"
)

// BindingsError is returned when a request cannot be built from the
// arguments the caller supplied.
type BindingsError struct {
	Message string
	Code    string
	Err     error
}

func (e *BindingsError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BindingsError) Unwrap() error { return e.Err }

func (e *BindingsError) Is(target error) bool {
	t, ok := target.(*BindingsError)
	return ok && t.Code == e.Code
}

var (
	ErrBuildMissing    = &BindingsError{Code: CodeBuildMissing, Message: "build file is required"}
	ErrSettingsMissing = &BindingsError{Code: CodeSettingsMissing, Message: "settings are required"}
	ErrSettingsInvalid = &BindingsError{Code: CodeSettingsInvalid, Message: "settings could not be encoded"}
)

// IsNotFound reports whether err is an APIError for an HTTP 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}
