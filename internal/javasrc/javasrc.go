// Package javasrc inspects the structure of Java compilation units with
// tree-sitter: package, imports, top-level classes and their members.
package javasrc

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/java"
)

// Import is one import declaration.
type Import struct {
	Path   string
	Static bool
	// Start and End are byte offsets of the whole declaration.
	Start, End uint32
}

// Class is a top-level class declaration.
type Class struct {
	Name        string
	Annotations []string
	Methods     []string
	// Fields holds the source text of field declarations.
	Fields []string
	// Start is the offset of the declaration including its modifiers.
	Start uint32
	// BodyStart is the offset just after the opening brace and BodyEnd the
	// offset of the closing brace.
	BodyStart, BodyEnd uint32
}

// File is a parsed compilation unit.
type File struct {
	Package string
	// PackageEnd is the offset just after the package declaration, or 0.
	PackageEnd uint32
	Imports    []Import
	Classes    []Class
}

// HasImport reports whether the file already imports path.
func (f *File) HasImport(path string, static bool) bool {
	for _, imp := range f.Imports {
		if imp.Path == path && imp.Static == static {
			return true
		}
	}
	return false
}

// ImportsEnd is the offset after which new imports should be inserted.
func (f *File) ImportsEnd() uint32 {
	if n := len(f.Imports); n > 0 {
		return f.Imports[n-1].End
	}
	return f.PackageEnd
}

// Parse parses Java source. Sources with syntax errors are rejected.
func Parse(ctx context.Context, source []byte) (*File, error) {
	p := sitter.NewParser()
	p.SetLanguage(java.GetLanguage())

	tree, err := p.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("parse java: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return nil, fmt.Errorf("parse java: source contains syntax errors")
	}

	f := &File{}
	for i := 0; i < int(root.NamedChildCount()); i++ {
		node := root.NamedChild(i)
		switch node.Type() {
		case "package_declaration":
			f.Package = qualifiedName(node, source)
			f.PackageEnd = node.EndByte()
		case "import_declaration":
			f.Imports = append(f.Imports, parseImport(node, source))
		case "class_declaration":
			f.Classes = append(f.Classes, parseClass(node, source))
		}
	}
	return f, nil
}

func parseImport(node *sitter.Node, source []byte) Import {
	imp := Import{Start: node.StartByte(), End: node.EndByte()}
	var wildcard bool
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		switch child.Type() {
		case "static":
			imp.Static = true
		case "scoped_identifier", "identifier":
			imp.Path = child.Content(source)
		case "asterisk":
			wildcard = true
		}
	}
	if wildcard {
		imp.Path += ".*"
	}
	return imp
}

func parseClass(node *sitter.Node, source []byte) Class {
	c := Class{Start: node.StartByte()}
	if name := node.ChildByFieldName("name"); name != nil {
		c.Name = name.Content(source)
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child.Type() != "modifiers" {
			continue
		}
		for j := 0; j < int(child.NamedChildCount()); j++ {
			mod := child.NamedChild(j)
			if t := mod.Type(); t == "marker_annotation" || t == "annotation" {
				c.Annotations = append(c.Annotations, mod.Content(source))
			}
		}
	}

	body := node.ChildByFieldName("body")
	if body == nil {
		return c
	}
	c.BodyStart = body.StartByte() + 1
	c.BodyEnd = body.EndByte() - 1

	for i := 0; i < int(body.NamedChildCount()); i++ {
		member := body.NamedChild(i)
		switch member.Type() {
		case "method_declaration":
			if name := member.ChildByFieldName("name"); name != nil {
				c.Methods = append(c.Methods, name.Content(source))
			}
		case "field_declaration":
			c.Fields = append(c.Fields, member.Content(source))
		}
	}
	return c
}

// qualifiedName returns the dotted name inside a declaration node.
func qualifiedName(node *sitter.Node, source []byte) string {
	var name string
	walk(node, func(n *sitter.Node) bool {
		if t := n.Type(); t == "scoped_identifier" || t == "identifier" {
			name = n.Content(source)
			return false
		}
		return true
	})
	return name
}

// walk performs a depth-first traversal. Returning false from fn skips the
// node's children.
func walk(node *sitter.Node, fn func(*sitter.Node) bool) {
	if node == nil {
		return
	}
	if !fn(node) {
		return
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		walk(node.Child(i), fn)
	}
}

// NormalizeAnnotation strips whitespace so annotations can be compared
// regardless of formatting.
func NormalizeAnnotation(a string) string {
	return strings.Join(strings.Fields(a), "")
}
