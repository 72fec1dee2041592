package copyright

import (
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// IgnoreFileNames are read from every directory, parents first.
var IgnoreFileNames = []string{".gitignore", ".copyrightignore"}

type rule struct {
	base     string
	pattern  string
	negate   bool
	dirOnly  bool
	anchored bool
}

// Rules is an ordered set of gitignore-style rules. Later rules override
// earlier ones.
type Rules []rule

// ParseRules parses gitignore syntax. base is the slash-separated directory
// the file was read from, "." or "" for the root.
func ParseRules(base, content string) Rules {
	if base == "." {
		base = ""
	}
	var rs Rules
	for _, line := range strings.FieldsFunc(content, func(r rune) bool { return r == '\n' || r == '\r' }) {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		r := rule{base: base}
		if strings.HasPrefix(line, "!") {
			r.negate = true
			line = line[1:]
		}
		if strings.HasSuffix(line, "/") {
			r.dirOnly = true
			line = strings.TrimRight(line, "/")
		}
		if strings.HasPrefix(line, "/") {
			r.anchored = true
			line = strings.TrimLeft(line, "/")
		}
		if strings.Contains(line, "/") {
			r.anchored = true
		}
		if line == "" {
			continue
		}
		r.pattern = line
		rs = append(rs, r)
	}
	return rs
}

// Ignored reports whether a slash-separated file path is excluded, either
// itself or through one of its parent directories.
func (rs Rules) Ignored(file string) bool {
	parts := strings.Split(file, "/")
	for i := 1; i <= len(parts); i++ {
		if rs.matches(strings.Join(parts[:i], "/"), i < len(parts)) {
			return true
		}
	}
	return false
}

func (rs Rules) matches(p string, isDir bool) bool {
	ignored := false
	for _, r := range rs {
		if r.dirOnly && !isDir {
			continue
		}
		rel := p
		if r.base != "" {
			if !strings.HasPrefix(p, r.base+"/") {
				continue
			}
			rel = strings.TrimPrefix(p, r.base+"/")
		}
		target := rel
		if !r.anchored {
			target = path.Base(rel)
		}
		if ok, _ := doublestar.Match(r.pattern, target); ok {
			ignored = !r.negate
		}
	}
	return ignored
}
