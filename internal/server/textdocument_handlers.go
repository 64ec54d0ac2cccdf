package server

import (
	"context"
	"strings"

	"springls/internal/documents"
	"springls/internal/project"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

func (s *Server) textDocumentDidOpen(
	context *glsp.Context,
	params *protocol.DidOpenTextDocumentParams,
) error {
	doc := s.docs.Open(
		params.TextDocument.URI,
		params.TextDocument.LanguageID,
		params.TextDocument.Version,
		params.TextDocument.Text,
	)
	s.reconcile(s.ctx, context.Notify, doc)
	return nil
}

func (s *Server) textDocumentDidChange(
	context *glsp.Context,
	params *protocol.DidChangeTextDocumentParams,
) error {
	doc, err := s.docs.Change(
		params.TextDocument.URI,
		params.TextDocument.Version,
		params.ContentChanges,
	)
	if err != nil {
		return err
	}
	s.reconcile(s.ctx, context.Notify, doc)
	return nil
}

func (s *Server) textDocumentDidSave(
	context *glsp.Context,
	params *protocol.DidSaveTextDocumentParams,
) error {
	doc, ok := s.docs.Get(params.TextDocument.URI)
	if !ok {
		return nil
	}
	if params.Text != nil && *params.Text != doc.Text {
		doc = s.docs.Open(doc.URI, doc.LanguageID, doc.Version, *params.Text)
	}
	s.reconcile(s.ctx, context.Notify, doc)
	return nil
}

func (s *Server) textDocumentDidClose(
	context *glsp.Context,
	params *protocol.DidCloseTextDocumentParams,
) error {
	uri := project.NormalizeURI(params.TextDocument.URI)
	if !s.docs.Close(uri) {
		return nil
	}
	publishDiagnostics(context.Notify, uri, nil)

	// The index may hold unsaved buffer content.
	if path := project.URIToPath(uri); strings.HasSuffix(path, ".java") {
		go s.index.Refresh(s.ctx, path)
	}
	return nil
}

// Validate reconciles an open document and republishes its diagnostics.
func (s *Server) Validate(ctx context.Context, uri string) {
	doc, ok := s.docs.Get(uri)
	if !ok {
		return
	}
	notify, _ := s.client()
	if notify == nil {
		return
	}
	s.reconcile(ctx, notify, doc)
}

func (s *Server) reconcile(ctx context.Context, notify glsp.NotifyFunc, doc *documents.Document) {
	publishDiagnostics(notify, doc.URI, s.dispatcher.Reconcile(ctx, doc))
}

// publishDiagnostics always notifies, so an empty list clears the document.
func publishDiagnostics(
	notify glsp.NotifyFunc,
	uri string,
	diagnostics []protocol.Diagnostic,
) {
	if diagnostics == nil {
		diagnostics = []protocol.Diagnostic{}
	}
	notify("textDocument/publishDiagnostics", protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}
