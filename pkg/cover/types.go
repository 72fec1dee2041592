package cover

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// Progress reports how many units of work the service has finished.
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// ServiceError is the error object the service attaches to a status.
type ServiceError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ServiceError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// StatusResponse is returned by the status endpoint and embedded in the
// cancel and results responses.
type StatusResponse struct {
	Status   Status        `json:"status"`
	Progress Progress      `json:"progress"`
	Message  *ServiceError `json:"message,omitempty"`
}

// StartResponse is returned when an analysis is accepted.
type StartResponse struct {
	ID       string    `json:"id"`
	Phases   Phases    `json:"phases,omitempty"`
	Settings *Settings `json:"settings,omitempty"`
}

// CancelResponse is returned by the cancel endpoint.
type CancelResponse struct {
	Message string         `json:"message"`
	Status  StatusResponse `json:"status"`
}

// ResultsResponse is one page of results.
type ResultsResponse struct {
	Cursor  Cursor         `json:"cursor"`
	Status  StatusResponse `json:"status"`
	Results []Result       `json:"results"`
}

// VersionResponse is returned by the version endpoint.
type VersionResponse struct {
	Version string `json:"version"`
}

// Cursor is an opaque pagination token. The service sends it either as a
// JSON string or as a number; the zero value requests the first page.
type Cursor string

// UnmarshalJSON accepts strings, numbers and null.
func (c *Cursor) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("cursor: %w", err)
		}
		*c = Cursor(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("cursor: %w", err)
	}
	*c = Cursor(n.String())
	return nil
}

// MarshalJSON writes numeric cursors as numbers so they round-trip.
func (c Cursor) MarshalJSON() ([]byte, error) {
	if c == "" {
		return []byte("null"), nil
	}
	if _, err := strconv.ParseInt(string(c), 10, 64); err == nil {
		return []byte(c), nil
	}
	return json.Marshal(string(c))
}

// Result is one generated test.
type Result struct {
	TestID           string   `json:"testId"`
	TestName         string   `json:"testName"`
	TestedFunction   string   `json:"testedFunction"`
	SourceFilePath   string   `json:"sourceFilePath"`
	TestBody         string   `json:"testBody"`
	Imports          []string `json:"imports"`
	StaticImports    []string `json:"staticImports"`
	ClassAnnotations []string `json:"classAnnotations"`
	ClassRules       []string `json:"classRules,omitempty"`
	Tags             []string `json:"tags"`
	PhaseGenerated   string   `json:"phaseGenerated"`
	CreatedTime      string   `json:"createdTime"`
	CoveredLines     []string `json:"coveredLines"`
}

// HasTag reports whether the result carries tag.
func (r Result) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// ClasspathDependency pairs a class file location with its source.
type ClasspathDependency struct {
	ClassFile string `json:"classFile" yaml:"classFile"`
	Source    string `json:"source" yaml:"source"`
}

// Phase configures one analysis phase. Every field is optional on input;
// the service fills in the rest when it computes the effective settings.
type Phase struct {
	Classpath                  string             `json:"classpath,omitempty" yaml:"classpath,omitempty"`
	Depth                      *int               `json:"depth,omitempty" yaml:"depth,omitempty"`
	DoNotTestMethodsWithAccess []string           `json:"doNotTestMethodsWithAccess,omitempty" yaml:"doNotTestMethodsWithAccess,omitempty"`
	Initial                    *bool              `json:"initial,omitempty" yaml:"initial,omitempty"`
	InlineFunctionArguments    *bool              `json:"inlineFunctionArguments,omitempty" yaml:"inlineFunctionArguments,omitempty"`
	InlineIntoAssertion        *bool              `json:"inlineIntoAssertion,omitempty" yaml:"inlineIntoAssertion,omitempty"`
	JavaAssumeInputsIntegral   *bool              `json:"javaAssumeInputsIntegral,omitempty" yaml:"javaAssumeInputsIntegral,omitempty"`
	JavaAssumeInputsNonNull    *bool              `json:"javaAssumeInputsNonNull,omitempty" yaml:"javaAssumeInputsNonNull,omitempty"`
	JavaExternalCodeAction     string             `json:"javaExternalCodeAction,omitempty" yaml:"javaExternalCodeAction,omitempty"`
	JavaGenerateNoComments     *bool              `json:"javaGenerateNoComments,omitempty" yaml:"javaGenerateNoComments,omitempty"`
	JavaLoadClass              []string           `json:"javaLoadClass,omitempty" yaml:"javaLoadClass,omitempty"`
	JavaMaxVlaLength           *int               `json:"javaMaxVlaLength,omitempty" yaml:"javaMaxVlaLength,omitempty"`
	JavaMockClass              []string           `json:"javaMockClass,omitempty" yaml:"javaMockClass,omitempty"`
	LoadContainingClassOnly    *bool              `json:"loadContainingClassOnly,omitempty" yaml:"loadContainingClassOnly,omitempty"`
	MaxNondetArrayLength       *int               `json:"maxNondetArrayLength,omitempty" yaml:"maxNondetArrayLength,omitempty"`
	MaxNondetStringLength      *int               `json:"maxNondetStringLength,omitempty" yaml:"maxNondetStringLength,omitempty"`
	NextPhase                  map[string]*string `json:"nextPhase,omitempty" yaml:"nextPhase,omitempty"`
	NoReflectiveAsserts        *bool              `json:"noReflectiveAsserts,omitempty" yaml:"noReflectiveAsserts,omitempty"`
	Paths                      string             `json:"paths,omitempty" yaml:"paths,omitempty"`
	PreferDepsJar              *bool              `json:"preferDepsJar,omitempty" yaml:"preferDepsJar,omitempty"`
	SingleFunctionOnly         *bool              `json:"singleFunctionOnly,omitempty" yaml:"singleFunctionOnly,omitempty"`
	SmartHarness               string             `json:"smartHarness,omitempty" yaml:"smartHarness,omitempty"`
	StaticValuesJSON           *bool              `json:"staticValuesJson,omitempty" yaml:"staticValuesJson,omitempty"`
	StringPrintable            *bool              `json:"stringPrintable,omitempty" yaml:"stringPrintable,omitempty"`
	ThrowRuntimeExceptions     *bool              `json:"throwRuntimeExceptions,omitempty" yaml:"throwRuntimeExceptions,omitempty"`
	Timeout                    *int               `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Unwind                     *int               `json:"unwind,omitempty" yaml:"unwind,omitempty"`
}

// Phases maps phase names to phases.
type Phases map[string]Phase

// Settings are forwarded to the service when an analysis starts.
type Settings struct {
	Cover                   []string              `json:"cover,omitempty" yaml:"cover,omitempty"`
	CoverExcludeBytecode    []string              `json:"coverExcludeBytecode,omitempty" yaml:"coverExcludeBytecode,omitempty"`
	CoverExcludeLines       []string              `json:"coverExcludeLines,omitempty" yaml:"coverExcludeLines,omitempty"`
	CoverFunctionOnly       *bool                 `json:"coverFunctionOnly,omitempty" yaml:"coverFunctionOnly,omitempty"`
	CoverIncludeBytecode    []string              `json:"coverIncludeBytecode,omitempty" yaml:"coverIncludeBytecode,omitempty"`
	CoverIncludeLines       []string              `json:"coverIncludeLines,omitempty" yaml:"coverIncludeLines,omitempty"`
	CoverIncludePattern     string                `json:"coverIncludePattern,omitempty" yaml:"coverIncludePattern,omitempty"`
	CoverOnly               string                `json:"coverOnly,omitempty" yaml:"coverOnly,omitempty"`
	DependenciesOnClasspath []ClasspathDependency `json:"dependenciesOnClasspath,omitempty" yaml:"dependenciesOnClasspath,omitempty"`
	EntryPointsExclude      []string              `json:"entryPointsExclude,omitempty" yaml:"entryPointsExclude,omitempty"`
	EntryPointsInclude      []string              `json:"entryPointsInclude,omitempty" yaml:"entryPointsInclude,omitempty"`
	IgnoreDefaults          *bool                 `json:"ignoreDefaults,omitempty" yaml:"ignoreDefaults,omitempty"`
	PhaseBase               *Phase                `json:"phaseBase,omitempty" yaml:"phaseBase,omitempty"`
	Phases                  Phases                `json:"phases,omitempty" yaml:"phases,omitempty"`
}

// Files are the build artifacts uploaded with a new analysis. Only Build
// is required.
type Files struct {
	Build             io.Reader
	DependenciesBuild io.Reader
	BaseBuild         io.Reader
}
