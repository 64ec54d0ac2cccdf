// Package dispatch routes language feature requests to the components that
// registered for a document's language and merges their answers.
package dispatch

import (
	"context"

	"springls/internal/documents"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

// Component is a named feature provider. It takes part in a feature by
// implementing the matching capability interface below.
type Component interface {
	Name() string
}

type Reconciler interface {
	Reconcile(ctx context.Context, doc *documents.Document) ([]protocol.Diagnostic, error)
}

// HoverProvider returns nil when it has nothing to say about pos.
type HoverProvider interface {
	Hover(ctx context.Context, doc *documents.Document, pos protocol.Position) (*protocol.Hover, error)
}

type CodeActionProvider interface {
	CodeActions(ctx context.Context, doc *documents.Document, rng protocol.Range, diagnostics []protocol.Diagnostic) ([]protocol.CodeAction, error)
}

type CodeLensProvider interface {
	CodeLenses(ctx context.Context, doc *documents.Document) ([]protocol.CodeLens, error)
}

type DocumentSymbolProvider interface {
	DocumentSymbols(ctx context.Context, doc *documents.Document) ([]protocol.DocumentSymbol, error)
}

type InlayHintProvider interface {
	InlayHints(ctx context.Context, doc *documents.Document, rng protocol.Range) ([]InlayHint, error)
}

// SemanticTokensProvider encodes tokens against its own Legend.
type SemanticTokensProvider interface {
	Legend() protocol.SemanticTokensLegend
	SemanticTokens(ctx context.Context, doc *documents.Document) ([]protocol.UInteger, error)
}

type InlayHintKind protocol.UInteger

const (
	InlayHintKindType      InlayHintKind = 1
	InlayHintKindParameter InlayHintKind = 2
)

// InlayHint is the LSP 3.17 inlay hint, which protocol_3_16 lacks.
type InlayHint struct {
	Position     protocol.Position `json:"position"`
	Label        string            `json:"label"`
	Kind         *InlayHintKind    `json:"kind,omitempty"`
	Tooltip      string            `json:"tooltip,omitempty"`
	PaddingLeft  bool              `json:"paddingLeft,omitempty"`
	PaddingRight bool              `json:"paddingRight,omitempty"`
}

type InlayHintParams struct {
	TextDocument protocol.TextDocumentIdentifier `json:"textDocument"`
	Range        protocol.Range                  `json:"range"`
}
