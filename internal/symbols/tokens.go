package symbols

import (
	"context"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// TokenTypes is the semantic token legend produced by Tokens, in index order.
var TokenTypes = []string{"keyword", "type", "method", "decorator", "string", "comment", "number"}

const (
	tokKeyword = iota
	tokType
	tokMethod
	tokDecorator
	tokString
	tokComment
	tokNumber
)

// Token is a single-line highlighted span.
type Token struct {
	Line      uint32
	Character uint32
	Length    uint32
	Type      int
}

// Tokens classifies src. Tokens are sorted by position and never span lines.
func (pp *Pool) Tokens(ctx context.Context, src []byte) ([]Token, error) {
	tree, err := pp.parse(ctx, src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	lines := newLineIndex(src)
	var out []Token
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if typ, ok := classify(n); ok {
			out = append(out, split(n, typ, src, lines)...)
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(tree.RootNode())

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Line != out[j].Line {
			return out[i].Line < out[j].Line
		}
		return out[i].Character < out[j].Character
	})
	return out, nil
}

func classify(n *sitter.Node) (int, bool) {
	t := n.Type()
	switch {
	case t == "line_comment" || t == "block_comment":
		return tokComment, true
	case t == "string_literal" || t == "character_literal" || t == "text_block":
		return tokString, true
	case t == "true" || t == "false" || t == "null_literal":
		return tokKeyword, true
	case strings.HasSuffix(t, "_integer_literal") || strings.HasSuffix(t, "_floating_point_literal"):
		return tokNumber, true
	case t == "type_identifier":
		return tokType, true
	case t == "identifier":
		parent := n.Parent()
		if parent == nil {
			return 0, false
		}
		switch parent.Type() {
		case "method_declaration", "method_invocation", "constructor_declaration":
			if name := parent.ChildByFieldName("name"); name != nil && name.StartByte() == n.StartByte() {
				return tokMethod, true
			}
		case "marker_annotation", "annotation":
			return tokDecorator, true
		}
		return 0, false
	case !n.IsNamed() && isWord(t):
		return tokKeyword, true
	}
	return 0, false
}

func isWord(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}

// split breaks a node into one token per line it covers.
func split(n *sitter.Node, typ int, src []byte, lines *lineIndex) []Token {
	start, end := n.StartPoint(), n.EndPoint()
	if start.Row == end.Row {
		s, e := lines.position(start), lines.position(end)
		if e.Character <= s.Character {
			return nil
		}
		return []Token{{Line: s.Line, Character: s.Character, Length: e.Character - s.Character, Type: typ}}
	}

	var out []Token
	for row := start.Row; row <= end.Row; row++ {
		from := sitter.Point{Row: row}
		if row == start.Row {
			from.Column = start.Column
		}
		to := sitter.Point{Row: row, Column: uint32(lines.lineLen(int(row)))}
		if row == end.Row {
			to.Column = end.Column
		}
		s, e := lines.position(from), lines.position(to)
		if e.Character > s.Character {
			out = append(out, Token{Line: s.Line, Character: s.Character, Length: e.Character - s.Character, Type: typ})
		}
	}
	return out
}

func (li *lineIndex) lineLen(row int) int {
	if row >= len(li.starts) {
		return 0
	}
	start := li.starts[row]
	end := len(li.src)
	if row+1 < len(li.starts) {
		end = li.starts[row+1] - 1
	}
	if end > start && li.src[end-1] == '\r' {
		end--
	}
	return end - start
}

// Encode converts tokens to the relative integer encoding of the protocol.
func Encode(tokens []Token) []uint32 {
	data := make([]uint32, 0, len(tokens)*5)
	var line, char uint32
	for _, t := range tokens {
		deltaLine := t.Line - line
		deltaChar := t.Character
		if deltaLine == 0 {
			deltaChar = t.Character - char
		}
		data = append(data, deltaLine, deltaChar, t.Length, uint32(t.Type), 0)
		line, char = t.Line, t.Character
	}
	return data
}
