// Package symbols parses Java sources with tree-sitter and keeps a per-file
// index of packages, imports and type declarations.
package symbols

import (
	"context"
	"fmt"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/java"
)

var lang = java.GetLanguage()

// Position is zero based; Character counts UTF-16 code units.
type Position struct {
	Line      uint32
	Character uint32
}

type Range struct {
	Start Position
	End   Position
}

// Contains reports whether pos lies within r (end exclusive).
func (r Range) Contains(pos Position) bool {
	if pos.Line < r.Start.Line || pos.Line > r.End.Line {
		return false
	}
	if pos.Line == r.Start.Line && pos.Character < r.Start.Character {
		return false
	}
	if pos.Line == r.End.Line && pos.Character >= r.End.Character {
		return false
	}
	return true
}

type SymbolKind int

const (
	KindClass SymbolKind = iota + 1
	KindInterface
	KindEnum
	KindRecord
	KindAnnotation
	KindMethod
	KindConstructor
	KindField
)

var declarationKinds = map[string]SymbolKind{
	"class_declaration":           KindClass,
	"interface_declaration":       KindInterface,
	"enum_declaration":            KindEnum,
	"record_declaration":          KindRecord,
	"annotation_type_declaration": KindAnnotation,
	"method_declaration":          KindMethod,
	"constructor_declaration":     KindConstructor,
	"field_declaration":           KindField,
}

type Import struct {
	Name     string
	Static   bool
	Wildcard bool
	Range    Range
}

// Symbol is a declared type or member.
type Symbol struct {
	Name        string
	Kind        SymbolKind
	Annotations []string
	Range       Range
	NameRange   Range
	Children    []Symbol
}

// SyntaxError marks an ERROR or MISSING node.
type SyntaxError struct {
	Range   Range
	Message string
}

// File is the parsed outline of one compilation unit.
type File struct {
	Path         string
	Package      string
	PackageRange Range
	Imports      []Import
	Types        []Symbol
	Errors       []SyntaxError
}

// QualifiedName returns the fully qualified name of a top-level type.
func (f *File) QualifiedName(simple string) string {
	if f.Package == "" {
		return simple
	}
	return f.Package + "." + simple
}

const (
	packageQuery = `(package_declaration [(scoped_identifier) (identifier)] @target)`
	importQuery  = `(import_declaration) @target`
)

// Pool hands out tree-sitter parsers, one per concurrent parse.
type Pool struct {
	pool chan *sitter.Parser
}

func NewPool(n int) *Pool {
	if n < 1 {
		n = 1
	}
	pp := &Pool{pool: make(chan *sitter.Parser, n)}
	for i := 0; i < n; i++ {
		p := sitter.NewParser()
		p.SetLanguage(lang)
		pp.pool <- p
	}
	return pp
}

func (pp *Pool) parse(ctx context.Context, src []byte) (*sitter.Tree, error) {
	var p *sitter.Parser
	select {
	case p = <-pp.pool:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { pp.pool <- p }()

	tree, err := p.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return tree, nil
}

// Parse builds the outline of src.
func (pp *Pool) Parse(ctx context.Context, path string, src []byte) (*File, error) {
	tree, err := pp.parse(ctx, src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	root := tree.RootNode()
	lines := newLineIndex(src)
	f := &File{Path: path}

	matches, err := executeQuery(root, packageQuery, src)
	if err != nil {
		return nil, err
	}
	if len(matches) > 0 {
		f.Package = matches[0].Content(src)
		f.PackageRange = lines.rangeOf(matches[0].Parent())
	}

	matches, err = executeQuery(root, importQuery, src)
	if err != nil {
		return nil, err
	}
	for _, n := range matches {
		f.Imports = append(f.Imports, readImport(n, src, lines))
	}

	for i := 0; i < int(root.NamedChildCount()); i++ {
		if sym, ok := readDeclaration(root.NamedChild(i), src, lines); ok {
			f.Types = append(f.Types, sym)
		}
	}

	if root.HasError() {
		collectErrors(root, lines, &f.Errors)
	}
	return f, nil
}

func (pp *Pool) Close() {
	close(pp.pool)
	for p := range pp.pool {
		p.Close()
	}
}

func executeQuery(root *sitter.Node, query string, src []byte) ([]*sitter.Node, error) {
	q, err := sitter.NewQuery([]byte(query), lang)
	if err != nil {
		return nil, err
	}
	defer q.Close()
	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(q, root)

	var nodes []*sitter.Node
	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		m = qc.FilterPredicates(m, src)
		for _, c := range m.Captures {
			if q.CaptureNameForId(c.Index) == "target" {
				nodes = append(nodes, c.Node)
			}
		}
	}
	return nodes, nil
}

func readImport(n *sitter.Node, src []byte, lines *lineIndex) Import {
	imp := Import{Range: lines.rangeOf(n)}
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		switch c.Type() {
		case "static":
			imp.Static = true
		case "asterisk":
			imp.Wildcard = true
		case "scoped_identifier", "identifier":
			imp.Name = c.Content(src)
		}
	}
	return imp
}

func readDeclaration(n *sitter.Node, src []byte, lines *lineIndex) (Symbol, bool) {
	kind, ok := declarationKinds[n.Type()]
	if !ok {
		return Symbol{}, false
	}
	sym := Symbol{Kind: kind, Range: lines.rangeOf(n)}

	name := n.ChildByFieldName("name")
	if kind == KindField {
		if decl := n.ChildByFieldName("declarator"); decl != nil {
			name = decl.ChildByFieldName("name")
		}
	}
	if name == nil {
		return Symbol{}, false
	}
	sym.Name = name.Content(src)
	sym.NameRange = lines.rangeOf(name)

	for i := 0; i < int(n.NamedChildCount()); i++ {
		if c := n.NamedChild(i); c.Type() == "modifiers" {
			sym.Annotations = readAnnotations(c, src)
		}
	}

	if body := n.ChildByFieldName("body"); body != nil && kind != KindMethod && kind != KindConstructor {
		for i := 0; i < int(body.NamedChildCount()); i++ {
			c := body.NamedChild(i)
			if c.Type() == "enum_body_declarations" {
				for j := 0; j < int(c.NamedChildCount()); j++ {
					if child, ok := readDeclaration(c.NamedChild(j), src, lines); ok {
						sym.Children = append(sym.Children, child)
					}
				}
				continue
			}
			if child, ok := readDeclaration(c, src, lines); ok {
				sym.Children = append(sym.Children, child)
			}
		}
	}
	return sym, true
}

func readAnnotations(modifiers *sitter.Node, src []byte) []string {
	var out []string
	for i := 0; i < int(modifiers.NamedChildCount()); i++ {
		c := modifiers.NamedChild(i)
		if c.Type() != "marker_annotation" && c.Type() != "annotation" {
			continue
		}
		if name := c.ChildByFieldName("name"); name != nil {
			out = append(out, name.Content(src))
		}
	}
	return out
}

func collectErrors(n *sitter.Node, lines *lineIndex, out *[]SyntaxError) {
	switch {
	case n.IsMissing():
		*out = append(*out, SyntaxError{Range: lines.rangeOf(n), Message: "missing " + n.Type()})
		return
	case n.IsError():
		*out = append(*out, SyntaxError{Range: lines.rangeOf(n), Message: "syntax error"})
		return
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if c := n.Child(i); c.HasError() || c.IsMissing() {
			collectErrors(c, lines, out)
		}
	}
}

// lineIndex converts tree-sitter byte columns to UTF-16 positions.
type lineIndex struct {
	src    []byte
	starts []int
}

func newLineIndex(src []byte) *lineIndex {
	li := &lineIndex{src: src, starts: []int{0}}
	for i, b := range src {
		if b == '\n' {
			li.starts = append(li.starts, i+1)
		}
	}
	return li
}

func (li *lineIndex) position(p sitter.Point) Position {
	row := int(p.Row)
	if row >= len(li.starts) {
		return Position{Line: p.Row, Character: p.Column}
	}
	start := li.starts[row]
	end := start + int(p.Column)
	if end > len(li.src) {
		end = len(li.src)
	}
	return Position{Line: p.Row, Character: utf16Len(li.src[start:end])}
}

func (li *lineIndex) rangeOf(n *sitter.Node) Range {
	return Range{Start: li.position(n.StartPoint()), End: li.position(n.EndPoint())}
}

func utf16Len(b []byte) uint32 {
	var n uint32
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		b = b[size:]
		if r >= 0x10000 {
			n += 2
		} else {
			n++
		}
	}
	return n
}
