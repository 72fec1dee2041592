package combiner

import (
	"regexp"
	"strings"

	"github.com/julianshen/coverclient/pkg/cover"
)

const (
	javaPrefix = "java::"
	testSuffix = "Test"
)

var classNamePattern = regexp.MustCompile(`([^.:]+)[.][^.]*$`)

// stripFunction removes the language prefix and the JVM descriptor from a
// tested function, e.g. "java::com.a.B.run:()V" becomes "com.a.B.run".
func stripFunction(testedFunction string) string {
	name := strings.TrimPrefix(testedFunction, javaPrefix)
	if i := strings.Index(name, ":"); i >= 0 {
		name = name[:i]
	}
	return name
}

// PackageName returns the package of a fully qualified Java function name:
// every dotted segment except the class and method.
func PackageName(testedFunction string) string {
	parts := strings.Split(stripFunction(testedFunction), ".")
	if len(parts) <= 2 {
		return ""
	}
	return strings.Join(parts[:len(parts)-2], ".")
}

// ClassName returns the class of a fully qualified Java function name.
// Nested class separators ($) become underscores.
func ClassName(testedFunction string) (string, error) {
	m := classNamePattern.FindStringSubmatch(stripFunction(testedFunction))
	if m == nil {
		return "", &Error{Code: CodeNoClassName, Message: "can't find class name in " + testedFunction}
	}
	return strings.ReplaceAll(m[1], "$", "_"), nil
}

// TestClassFor is the name of the generated test class for a result.
func TestClassFor(r cover.Result) (string, error) {
	name, err := ClassName(r.TestedFunction)
	if err != nil {
		return "", err
	}
	return name + testSuffix, nil
}

// FileNameForResult is the file the result's tests are written to,
// e.g. "TicTacToeTest.java".
func FileNameForResult(r cover.Result) (string, error) {
	name, err := TestClassFor(r)
	if err != nil {
		return "", err
	}
	return name + ".java", nil
}
