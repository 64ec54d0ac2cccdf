// Package components holds the feature providers registered with the
// dispatcher.
package components

import (
	"context"

	"springls/internal/documents"
	"springls/internal/symbols"

	"github.com/tliron/commonlog"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

var log = commonlog.GetLogger("springls.components")

const source = "springls"

// Syntax answers outline, highlighting and syntax diagnostics for Java.
type Syntax struct {
	pool *symbols.Pool
}

func NewSyntax(pool *symbols.Pool) *Syntax {
	return &Syntax{pool: pool}
}

func (s *Syntax) Name() string { return "java-syntax" }

func (s *Syntax) Reconcile(ctx context.Context, doc *documents.Document) ([]protocol.Diagnostic, error) {
	f, err := s.pool.Parse(ctx, doc.Path(), []byte(doc.Text))
	if err != nil {
		return nil, err
	}
	severity := protocol.DiagnosticSeverityError
	src := source
	diagnostics := make([]protocol.Diagnostic, 0, len(f.Errors))
	for _, e := range f.Errors {
		diagnostics = append(diagnostics, protocol.Diagnostic{
			Range:    toRange(e.Range),
			Severity: &severity,
			Source:   &src,
			Message:  e.Message,
		})
	}
	return diagnostics, nil
}

func (s *Syntax) DocumentSymbols(ctx context.Context, doc *documents.Document) ([]protocol.DocumentSymbol, error) {
	f, err := s.pool.Parse(ctx, doc.Path(), []byte(doc.Text))
	if err != nil {
		return nil, err
	}
	return toDocumentSymbols(f.Types), nil
}

func (s *Syntax) Legend() protocol.SemanticTokensLegend {
	return protocol.SemanticTokensLegend{TokenTypes: symbols.TokenTypes, TokenModifiers: []string{}}
}

func (s *Syntax) SemanticTokens(ctx context.Context, doc *documents.Document) ([]protocol.UInteger, error) {
	tokens, err := s.pool.Tokens(ctx, []byte(doc.Text))
	if err != nil {
		return nil, err
	}
	encoded := symbols.Encode(tokens)
	data := make([]protocol.UInteger, len(encoded))
	for i, v := range encoded {
		data[i] = protocol.UInteger(v)
	}
	return data, nil
}

var symbolKinds = map[symbols.SymbolKind]protocol.SymbolKind{
	symbols.KindClass:       protocol.SymbolKindClass,
	symbols.KindInterface:   protocol.SymbolKindInterface,
	symbols.KindEnum:        protocol.SymbolKindEnum,
	symbols.KindRecord:      protocol.SymbolKindStruct,
	symbols.KindAnnotation:  protocol.SymbolKindInterface,
	symbols.KindMethod:      protocol.SymbolKindMethod,
	symbols.KindConstructor: protocol.SymbolKindConstructor,
	symbols.KindField:       protocol.SymbolKindField,
}

func toDocumentSymbols(in []symbols.Symbol) []protocol.DocumentSymbol {
	out := make([]protocol.DocumentSymbol, 0, len(in))
	for _, sym := range in {
		ds := protocol.DocumentSymbol{
			Name:           sym.Name,
			Kind:           symbolKinds[sym.Kind],
			Range:          toRange(sym.Range),
			SelectionRange: toRange(sym.NameRange),
		}
		if len(sym.Annotations) > 0 {
			detail := "@" + sym.Annotations[0]
			ds.Detail = &detail
		}
		if len(sym.Children) > 0 {
			ds.Children = toDocumentSymbols(sym.Children)
		}
		out = append(out, ds)
	}
	return out
}

func toPosition(p symbols.Position) protocol.Position {
	return protocol.Position{Line: p.Line, Character: p.Character}
}

func toRange(r symbols.Range) protocol.Range {
	return protocol.Range{Start: toPosition(r.Start), End: toPosition(r.End)}
}

func fromPosition(p protocol.Position) symbols.Position {
	return symbols.Position{Line: p.Line, Character: p.Character}
}
