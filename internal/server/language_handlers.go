package server

import (
	"springls/internal/dispatch"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

func (s *Server) textDocumentHover(
	context *glsp.Context,
	params *protocol.HoverParams,
) (*protocol.Hover, error) {
	doc, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	return s.dispatcher.Hover(s.ctx, doc, params.Position), nil
}

func (s *Server) textDocumentCodeAction(
	context *glsp.Context,
	params *protocol.CodeActionParams,
) (any, error) {
	doc, ok := s.document(params.TextDocument.URI)
	if !ok {
		return []protocol.CodeAction{}, nil
	}
	return s.dispatcher.CodeActions(s.ctx, doc, params.Range, params.Context.Diagnostics), nil
}

func (s *Server) textDocumentCodeLens(
	context *glsp.Context,
	params *protocol.CodeLensParams,
) ([]protocol.CodeLens, error) {
	doc, ok := s.document(params.TextDocument.URI)
	if !ok {
		return []protocol.CodeLens{}, nil
	}
	return s.dispatcher.CodeLenses(s.ctx, doc), nil
}

func (s *Server) textDocumentDocumentSymbol(
	context *glsp.Context,
	params *protocol.DocumentSymbolParams,
) (any, error) {
	doc, ok := s.document(params.TextDocument.URI)
	if !ok {
		return []protocol.DocumentSymbol{}, nil
	}
	return s.dispatcher.DocumentSymbols(s.ctx, doc), nil
}

func (s *Server) textDocumentSemanticTokensFull(
	context *glsp.Context,
	params *protocol.SemanticTokensParams,
) (*protocol.SemanticTokens, error) {
	doc, ok := s.document(params.TextDocument.URI)
	if !ok || !s.settings().SemanticTokens {
		return &protocol.SemanticTokens{Data: []protocol.UInteger{}}, nil
	}
	return s.dispatcher.SemanticTokens(s.ctx, doc), nil
}

func (s *Server) textDocumentInlayHint(
	context *glsp.Context,
	params *dispatch.InlayHintParams,
) ([]dispatch.InlayHint, error) {
	doc, ok := s.document(params.TextDocument.URI)
	if !ok {
		return []dispatch.InlayHint{}, nil
	}
	return s.dispatcher.InlayHints(s.ctx, doc, params.Range), nil
}
