// Package combiner renders analysis results as JUnit test classes and
// merges new results into existing test classes.
package combiner

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/julianshen/coverclient/internal/javasrc"
	"github.com/julianshen/coverclient/pkg/cover"
)

// Error codes.
const (
	CodeResultsEmpty         = "RESULTS_EMPTY"
	CodeSourceFileDiffers    = "SOURCE_FILE_PATH_DIFFERS"
	CodePackageDiffers       = "PACKAGE_NAME_DIFFERS"
	CodeExistingClassMissing = "EXISTING_CLASS_MISSING"
	CodeNoClassName          = "NO_CLASS_NAME"
	CodeMergeFailed          = "MERGE_ERROR"
	CodeGenerateFailed       = "GENERATE_ERROR"
)

// Error is returned by the combiner.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrResultsEmpty         = &Error{Code: CodeResultsEmpty, Message: "results must not be empty"}
	ErrSourceFileDiffers    = &Error{Code: CodeSourceFileDiffers, Message: "all results must have the same source file path"}
	ErrPackageDiffers       = &Error{Code: CodePackageDiffers, Message: "all results must belong to the same package"}
	ErrExistingClassMissing = &Error{Code: CodeExistingClassMissing, Message: "existing class is required"}
	ErrNoClassName          = &Error{Code: CodeNoClassName, Message: "class name not found"}
	ErrMergeFailed          = &Error{Code: CodeMergeFailed, Message: "merge failed"}
	ErrGenerateFailed       = &Error{Code: CodeGenerateFailed, Message: "generate failed"}
)

const indent = "  "

func checkResults(results []cover.Result) error {
	if len(results) == 0 {
		return ErrResultsEmpty
	}
	path := results[0].SourceFilePath
	pkg := PackageName(results[0].TestedFunction)
	for _, r := range results[1:] {
		if r.SourceFilePath != path {
			return ErrSourceFileDiffers
		}
		if PackageName(r.TestedFunction) != pkg {
			return ErrPackageDiffers
		}
	}
	return nil
}

// collected gathers the de-duplicated class-level pieces of a set of results.
type collected struct {
	imports       []string
	staticImports []string
	annotations   []string
	rules         []string
}

func collect(results []cover.Result) collected {
	var c collected
	seenImport := map[string]bool{}
	seenStatic := map[string]bool{}
	seenAnnotation := map[string]bool{}
	seenRule := map[string]bool{}
	for _, r := range results {
		for _, imp := range r.Imports {
			if imp = cleanImport(imp); imp != "" && !seenImport[imp] {
				seenImport[imp] = true
				c.imports = append(c.imports, imp)
			}
		}
		for _, imp := range r.StaticImports {
			if imp = cleanImport(imp); imp != "" && !seenStatic[imp] {
				seenStatic[imp] = true
				c.staticImports = append(c.staticImports, imp)
			}
		}
		for _, a := range r.ClassAnnotations {
			key := javasrc.NormalizeAnnotation(a)
			if key != "" && !seenAnnotation[key] {
				seenAnnotation[key] = true
				c.annotations = append(c.annotations, strings.TrimSpace(a))
			}
		}
		for _, rule := range r.ClassRules {
			key := strings.Join(strings.Fields(rule), " ")
			if key != "" && !seenRule[key] {
				seenRule[key] = true
				c.rules = append(c.rules, strings.TrimSpace(rule))
			}
		}
	}
	sort.Strings(c.staticImports)
	sortImports(c.imports)
	return c
}

// cleanImport accepts both "a.b.C" and "import a.b.C;" forms.
func cleanImport(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "import ")
	s = strings.TrimPrefix(s, "static ")
	s = strings.TrimSuffix(s, ";")
	return strings.TrimSpace(s)
}

// sortImports orders imports alphabetically with java.* and javax.* last.
func sortImports(imports []string) {
	sort.SliceStable(imports, func(i, j int) bool {
		ji, jj := isJDK(imports[i]), isJDK(imports[j])
		if ji != jj {
			return !ji
		}
		return imports[i] < imports[j]
	})
}

func isJDK(imp string) bool {
	return strings.HasPrefix(imp, "java.") || strings.HasPrefix(imp, "javax.")
}

// GenerateTestClass renders a complete test class for results, which must
// all come from the same source file and package.
func GenerateTestClass(results []cover.Result) (string, error) {
	if err := checkResults(results); err != nil {
		return "", err
	}
	className, err := TestClassFor(results[0])
	if err != nil {
		return "", err
	}
	pkg := PackageName(results[0].TestedFunction)
	parts := collect(results)

	var b strings.Builder
	if pkg != "" {
		fmt.Fprintf(&b, "package %s;\n\n", pkg)
	}
	if len(parts.staticImports) > 0 {
		for _, imp := range parts.staticImports {
			fmt.Fprintf(&b, "import static %s;\n", imp)
		}
		b.WriteString("\n")
	}
	if len(parts.imports) > 0 {
		prevJDK := isJDK(parts.imports[0])
		for _, imp := range parts.imports {
			if isJDK(imp) != prevJDK {
				b.WriteString("\n")
				prevJDK = true
			}
			fmt.Fprintf(&b, "import %s;\n", imp)
		}
		b.WriteString("\n")
	}
	for _, a := range parts.annotations {
		b.WriteString(a + "\n")
	}
	fmt.Fprintf(&b, "public class %s {\n", className)
	for _, rule := range parts.rules {
		b.WriteString("\n")
		writeIndented(&b, rule)
	}
	for _, r := range dedupeTests(results, nil) {
		b.WriteString("\n")
		writeIndented(&b, r.TestBody)
	}
	b.WriteString("}\n")
	return b.String(), nil
}

// MergeIntoTestClass adds results to an existing test class. Imports, class
// annotations and class rules that are already present are kept as they
// are; tests whose method name already exists are skipped.
func MergeIntoTestClass(existing string, results []cover.Result) (string, error) {
	if strings.TrimSpace(existing) == "" {
		return "", ErrExistingClassMissing
	}
	if err := checkResults(results); err != nil {
		return "", err
	}

	file, err := javasrc.Parse(context.Background(), []byte(existing))
	if err != nil {
		return "", &Error{Code: CodeMergeFailed, Message: "unexpected error merging tests", Err: err}
	}
	if len(file.Classes) == 0 || file.Classes[0].BodyEnd == 0 {
		return "", &Error{Code: CodeMergeFailed, Message: "unexpected error merging tests", Err: fmt.Errorf("no class declaration found")}
	}
	if pkg := PackageName(results[0].TestedFunction); file.Package != pkg {
		return "", &Error{Code: CodePackageDiffers, Message: fmt.Sprintf("existing class is in package %q, results are in %q", file.Package, pkg)}
	}

	class := file.Classes[0]
	parts := collect(results)
	var edits []edit

	var imports strings.Builder
	for _, imp := range parts.staticImports {
		if !file.HasImport(imp, true) {
			fmt.Fprintf(&imports, "\nimport static %s;", imp)
		}
	}
	for _, imp := range parts.imports {
		if !file.HasImport(imp, false) {
			fmt.Fprintf(&imports, "\nimport %s;", imp)
		}
	}
	if imports.Len() > 0 {
		text := imports.String()
		switch {
		case file.ImportsEnd() == 0:
			text = strings.TrimPrefix(text, "\n") + "\n\n"
		case len(file.Imports) == 0:
			text = "\n" + text
		}
		edits = append(edits, edit{at: file.ImportsEnd(), text: text})
	}

	present := map[string]bool{}
	for _, a := range class.Annotations {
		present[javasrc.NormalizeAnnotation(a)] = true
	}
	var annotations strings.Builder
	for _, a := range parts.annotations {
		if !present[javasrc.NormalizeAnnotation(a)] {
			annotations.WriteString(a + "\n")
		}
	}
	if annotations.Len() > 0 {
		edits = append(edits, edit{at: class.Start, text: annotations.String()})
	}

	fields := strings.Join(class.Fields, "\n")
	fields = strings.Join(strings.Fields(fields), " ")
	var rules strings.Builder
	for _, rule := range parts.rules {
		if !strings.Contains(fields, strings.Join(strings.Fields(rule), " ")) {
			rules.WriteString("\n\n")
			var r strings.Builder
			writeIndented(&r, rule)
			rules.WriteString(strings.TrimRight(r.String(), "\n"))
		}
	}
	if rules.Len() > 0 {
		edits = append(edits, edit{at: class.BodyStart, text: rules.String()})
	}

	var tests strings.Builder
	for _, r := range dedupeTests(results, class.Methods) {
		tests.WriteString("\n")
		writeIndented(&tests, r.TestBody)
	}
	if tests.Len() > 0 {
		body := existing[class.BodyStart:class.BodyEnd]
		text := tests.String()
		if !strings.HasSuffix(body, "\n") {
			text = "\n" + strings.TrimPrefix(text, "\n")
		}
		edits = append(edits, edit{at: class.BodyEnd, text: text})
	}

	return applyEdits(existing, edits), nil
}

// dedupeTests drops results whose test name is in existing or repeats an
// earlier result.
func dedupeTests(results []cover.Result, existing []string) []cover.Result {
	seen := make(map[string]bool, len(existing)+len(results))
	for _, name := range existing {
		seen[name] = true
	}
	out := make([]cover.Result, 0, len(results))
	for _, r := range results {
		if r.TestName != "" && seen[r.TestName] {
			continue
		}
		seen[r.TestName] = true
		out = append(out, r)
	}
	return out
}

func writeIndented(b *strings.Builder, text string) {
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			b.WriteString("\n")
			continue
		}
		b.WriteString(indent + line + "\n")
	}
}

type edit struct {
	at   uint32
	text string
}

// applyEdits inserts edits into src. Edits at the same offset keep the
// order they were given in.
func applyEdits(src string, edits []edit) string {
	sort.SliceStable(edits, func(i, j int) bool { return edits[i].at < edits[j].at })
	var b strings.Builder
	var last uint32
	for _, e := range edits {
		b.WriteString(src[last:e.at])
		b.WriteString(e.text)
		last = e.at
	}
	b.WriteString(src[last:])
	return b.String()
}
