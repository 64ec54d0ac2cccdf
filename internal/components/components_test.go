package components_test

import (
	"context"
	"testing"

	"springls/internal/architecture"
	"springls/internal/components"
	"springls/internal/dispatch"
	"springls/internal/documents"
	"springls/internal/project"
	"springls/internal/symbols"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

const orderService = `package com.acme.orders;

import com.acme.inventory.Stock;
import com.acme.inventory.internal.StockRepository;
import com.acme.inventory.api.StockApi;
import com.acme.orders.internal.OrderRepo;
import java.util.List;

public class OrderService {
}
`

type snapshots map[string]*architecture.Snapshot

func (s snapshots) ModulesData(uri string) (*architecture.Snapshot, bool) {
	snap, ok := s[uri]
	return snap, ok
}

func fixture(t *testing.T) (*dispatch.Dispatcher, *symbols.Index) {
	t.Helper()
	cache := project.NewClasspathCache()
	require.NoError(t, cache.Apply(project.ClasspathEvent{
		Location: "file:///ws/shop",
		Name:     "shop",
		Classpath: &project.ClasspathData{Entries: []project.EntryData{
			{Kind: "source", Path: "/ws/shop/src/main/java", OutputFolder: "/ws/shop/target/classes"},
		}},
	}))

	snaps := snapshots{"file:///ws/shop": architecture.NewSnapshot("file:///ws/shop", []architecture.Module{
		{Name: "orders", BasePackage: "com.acme.orders"},
		{Name: "inventory", BasePackage: "com.acme.inventory", NamedInterfaces: map[string][]string{
			"api": {"com.acme.inventory.api.StockApi"},
		}},
	})}

	pool := symbols.NewPool(2)
	t.Cleanup(pool.Close)
	index := symbols.NewIndex(pool)

	d := dispatch.New()
	d.Register(components.NewSyntax(pool), "java")
	d.Register(components.NewModules(cache, snaps, index), "java")
	return d, index
}

func orderDoc() *documents.Document {
	return &documents.Document{
		URI:        "file:///ws/shop/src/main/java/com/acme/orders/OrderService.java",
		LanguageID: "java",
		Version:    1,
		Text:       orderService,
	}
}

func TestBoundaryDiagnostics(t *testing.T) {
	d, index := fixture(t)
	diags := d.Reconcile(context.Background(), orderDoc())

	require.Len(t, diags, 1)
	assert.Equal(t, protocol.UInteger(3), diags[0].Range.Start.Line)
	assert.Contains(t, diags[0].Message, "com.acme.inventory.internal.StockRepository")
	assert.Contains(t, diags[0].Message, "'inventory'")
	require.NotNil(t, diags[0].Severity)
	assert.Equal(t, protocol.DiagnosticSeverityWarning, *diags[0].Severity)

	f, ok := index.File("/ws/shop/src/main/java/com/acme/orders/OrderService.java")
	require.True(t, ok, "reconcile refreshes the symbol index")
	assert.Equal(t, "com.acme.orders", f.Package)
}

func TestModuleHover(t *testing.T) {
	d, _ := fixture(t)
	ctx := context.Background()

	h := d.Hover(ctx, orderDoc(), protocol.Position{Line: 0, Character: 10})
	require.NotNil(t, h)
	content, ok := h.Contents.(protocol.MarkupContent)
	require.True(t, ok)
	assert.Contains(t, content.Value, "`orders`")

	h = d.Hover(ctx, orderDoc(), protocol.Position{Line: 4, Character: 12})
	require.NotNil(t, h)
	content = h.Contents.(protocol.MarkupContent)
	assert.Contains(t, content.Value, "`inventory`")
	assert.Contains(t, content.Value, "- `api` (1 types)")
	assert.Contains(t, content.Value, "exposed by a named interface")

	assert.Nil(t, d.Hover(ctx, orderDoc(), protocol.Position{Line: 8, Character: 3}))
}

func TestLensHintAndAction(t *testing.T) {
	d, _ := fixture(t)
	ctx := context.Background()
	doc := orderDoc()

	lenses := d.CodeLenses(ctx, doc)
	require.Len(t, lenses, 1)
	assert.Equal(t, "Module orders", lenses[0].Command.Title)
	assert.Equal(t, components.CommandShowArchitecture, lenses[0].Command.Command)

	all := protocol.Range{End: protocol.Position{Line: 100}}
	hints := d.InlayHints(ctx, doc, all)
	require.Len(t, hints, 1)
	assert.Equal(t, "module orders", hints[0].Label)
	assert.Equal(t, protocol.Position{Line: 0, Character: 24}, hints[0].Position)
	assert.Empty(t, d.InlayHints(ctx, doc, protocol.Range{Start: protocol.Position{Line: 5}, End: protocol.Position{Line: 9}}))

	diags := d.Reconcile(ctx, doc)
	actions := d.CodeActions(ctx, doc, diags[0].Range, diags)
	require.Len(t, actions, 1)
	assert.Equal(t, components.CommandRefreshArchitecture, actions[0].Command.Command)
	assert.Equal(t, []any{"file:///ws/shop"}, actions[0].Command.Arguments)
	assert.Len(t, actions[0].Diagnostics, 1)
}

func TestOutsideKnownProjects(t *testing.T) {
	d, _ := fixture(t)
	ctx := context.Background()
	doc := orderDoc()
	doc.URI = "file:///elsewhere/OrderService.java"

	assert.Empty(t, d.Reconcile(ctx, doc), "syntax is clean and no module data applies")
	assert.Empty(t, d.CodeLenses(ctx, doc))
	assert.Empty(t, d.CodeActions(ctx, doc, protocol.Range{}, nil))
	assert.Nil(t, d.Hover(ctx, doc, protocol.Position{Line: 0, Character: 10}))
}

func TestSyntaxComponent(t *testing.T) {
	d, _ := fixture(t)
	ctx := context.Background()
	doc := &documents.Document{
		URI:        "file:///elsewhere/A.java",
		LanguageID: "java",
		Text:       "@Service\nclass A {\n  void run() {}\n  int x;\n}\n",
	}

	outline := d.DocumentSymbols(ctx, doc)
	require.Len(t, outline, 1)
	assert.Equal(t, "A", outline[0].Name)
	assert.Equal(t, protocol.SymbolKindClass, outline[0].Kind)
	require.NotNil(t, outline[0].Detail)
	assert.Equal(t, "@Service", *outline[0].Detail)
	require.Len(t, outline[0].Children, 2)
	assert.Equal(t, "run", outline[0].Children[0].Name)
	assert.Equal(t, protocol.SymbolKindMethod, outline[0].Children[0].Kind)
	assert.Equal(t, "x", outline[0].Children[1].Name)

	tokens := d.SemanticTokens(ctx, doc)
	require.NotEmpty(t, tokens.Data)
	assert.Zero(t, len(tokens.Data)%5)
	assert.Equal(t, symbols.TokenTypes, d.Legend().TokenTypes)

	broken := &documents.Document{URI: "file:///elsewhere/B.java", LanguageID: "java", Text: "class B { void f( }"}
	diags := d.Reconcile(ctx, broken)
	require.NotEmpty(t, diags)
	assert.Equal(t, protocol.DiagnosticSeverityError, *diags[0].Severity)
}
