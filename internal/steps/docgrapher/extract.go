// Package docgrapher implements the Documentation Grapher step (C8): it
// scans markdown documentation for references to known code symbols and
// writes Documentation/DocumentationEntity nodes describing them back to
// the graph. Entity extraction walks the goldmark AST the way the
// teacher's frontend/telegram markdown renderer does, trading a custom
// NodeRenderer for a plain ast.Walk since this package only reads the
// tree rather than re-rendering it.
package docgrapher

import (
	"regexp"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// classNamePattern and functionCallPattern are the Open Question (c)
// heuristic: a heading or code span is treated as a reference to a class
// when it looks like an exported type name, and to a function or method
// when it looks like a call expression. Both are deliberately permissive
// (false positives are filtered out later by cross-referencing the
// graph's known qualified names).
var (
	classNamePattern    = regexp.MustCompile(`^[A-Z][A-Za-z0-9_]*$`)
	functionCallPattern = regexp.MustCompile(`^[a-z_][A-Za-z0-9_]*\(`)
)

// EntityKind distinguishes the two reference shapes the heuristic looks
// for.
type EntityKind string

const (
	EntityKindClass    EntityKind = "Class"
	EntityKindFunction EntityKind = "Function"
)

// Reference is one candidate code-symbol reference found in a markdown
// document, before it has been checked against the graph's known symbols.
type Reference struct {
	Name    string
	Kind    EntityKind
	Context string // the heading or surrounding paragraph text, for DocumentationEntity.Description
}

// ExtractReferences walks markdown's AST and collects every heading or
// code span that matches one of the reference heuristics.
func ExtractReferences(markdown []byte) []Reference {
	root := goldmark.DefaultParser().Parse(text.NewReader(markdown))

	var (
		refs           []Reference
		currentHeading string
	)

	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Heading:
			currentHeading = textOf(node, markdown)
			if ref, ok := classify(currentHeading, currentHeading); ok {
				refs = append(refs, ref)
			}
		case *ast.CodeSpan:
			content := textOf(node, markdown)
			if ref, ok := classify(content, currentHeading); ok {
				refs = append(refs, ref)
			}
		}
		return ast.WalkContinue, nil
	})

	return refs
}

func classify(candidate, context string) (Reference, bool) {
	switch {
	case functionCallPattern.MatchString(candidate):
		return Reference{Name: trimCallParens(candidate), Kind: EntityKindFunction, Context: context}, true
	case classNamePattern.MatchString(candidate):
		return Reference{Name: candidate, Kind: EntityKindClass, Context: context}, true
	default:
		return Reference{}, false
	}
}

func trimCallParens(s string) string {
	idx := len(s)
	for i, r := range s {
		if r == '(' {
			idx = i
			break
		}
	}
	return s[:idx]
}

// textOf concatenates an inline-content node's text segments, the same
// segment-walk the teacher's renderCodeSpan/renderText use to pull raw
// text out of the AST without re-parsing the source bytes.
func textOf(n ast.Node, source []byte) string {
	var out []byte
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			out = append(out, t.Segment.Value(source)...)
		}
	}
	return string(out)
}
