package dispatch

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"springls/internal/documents"

	"github.com/tliron/commonlog"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

var log = commonlog.GetLogger("springls.dispatch")

// Dispatcher maps language ids to the components registered for them, in
// registration order. It holds no lock while calling a component.
type Dispatcher struct {
	mu     sync.RWMutex
	byLang map[string][]Component
	all    []Component
}

func New() *Dispatcher {
	return &Dispatcher{byLang: make(map[string][]Component)}
}

// Register adds c for each language. Registering the same component twice
// for a language is a no-op.
func (d *Dispatcher) Register(c Component, languages ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !slices.Contains(d.all, c) {
		d.all = append(d.all, c)
	}
	for _, lang := range languages {
		if !slices.Contains(d.byLang[lang], c) {
			d.byLang[lang] = append(d.byLang[lang], c)
		}
	}
}

// Languages returns every language with at least one component.
func (d *Dispatcher) Languages() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.byLang))
	for lang := range d.byLang {
		out = append(out, lang)
	}
	slices.Sort(out)
	return out
}

func (d *Dispatcher) components(lang string) []Component {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.byLang[lang])
}

// call runs fn and turns a panic into an error, so a faulty component
// cannot take a request down with it.
func call[T any](c Component, feature string, fn func() (T, error)) (out T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", c.Name(), r)
			log.Errorf("%s: %s: %v", c.Name(), feature, err)
		}
	}()
	out, err = fn()
	if err != nil {
		log.Warningf("%s: %s: %v", c.Name(), feature, err)
	}
	return out, err
}

// Hover answers with the first component that has something to show. A
// nil result is the empty hover.
func (d *Dispatcher) Hover(ctx context.Context, doc *documents.Document, pos protocol.Position) *protocol.Hover {
	for _, c := range d.components(doc.LanguageID) {
		p, ok := c.(HoverProvider)
		if !ok {
			continue
		}
		h, err := call(c, "hover", func() (*protocol.Hover, error) { return p.Hover(ctx, doc, pos) })
		if err == nil && h != nil {
			return h
		}
	}
	return nil
}

// Reconcile unions the diagnostics of every reconciling component.
func (d *Dispatcher) Reconcile(ctx context.Context, doc *documents.Document) []protocol.Diagnostic {
	diagnostics := []protocol.Diagnostic{}
	for _, c := range d.components(doc.LanguageID) {
		r, ok := c.(Reconciler)
		if !ok {
			continue
		}
		found, err := call(c, "reconcile", func() ([]protocol.Diagnostic, error) { return r.Reconcile(ctx, doc) })
		if err == nil {
			diagnostics = append(diagnostics, found...)
		}
	}
	return diagnostics
}

func (d *Dispatcher) CodeActions(ctx context.Context, doc *documents.Document, rng protocol.Range, diagnostics []protocol.Diagnostic) []protocol.CodeAction {
	return collect(d, doc, "codeAction", func(p CodeActionProvider) ([]protocol.CodeAction, error) {
		return p.CodeActions(ctx, doc, rng, diagnostics)
	})
}

func (d *Dispatcher) CodeLenses(ctx context.Context, doc *documents.Document) []protocol.CodeLens {
	return collect(d, doc, "codeLens", func(p CodeLensProvider) ([]protocol.CodeLens, error) {
		return p.CodeLenses(ctx, doc)
	})
}

func (d *Dispatcher) DocumentSymbols(ctx context.Context, doc *documents.Document) []protocol.DocumentSymbol {
	return collect(d, doc, "documentSymbol", func(p DocumentSymbolProvider) ([]protocol.DocumentSymbol, error) {
		return p.DocumentSymbols(ctx, doc)
	})
}

func (d *Dispatcher) InlayHints(ctx context.Context, doc *documents.Document, rng protocol.Range) []InlayHint {
	return collect(d, doc, "inlayHint", func(p InlayHintProvider) ([]InlayHint, error) {
		return p.InlayHints(ctx, doc, rng)
	})
}

// collect concatenates the results of every component implementing P.
func collect[P any, T any](d *Dispatcher, doc *documents.Document, feature string, fn func(P) ([]T, error)) []T {
	out := []T{}
	for _, c := range d.components(doc.LanguageID) {
		p, ok := c.(P)
		if !ok {
			continue
		}
		items, err := call(c, feature, func() ([]T, error) { return fn(p) })
		if err == nil {
			out = append(out, items...)
		}
	}
	return out
}

// Legend is the order preserving union of the legends of every semantic
// token provider, whatever its languages.
func (d *Dispatcher) Legend() protocol.SemanticTokensLegend {
	d.mu.RLock()
	all := slices.Clone(d.all)
	d.mu.RUnlock()

	legend := protocol.SemanticTokensLegend{TokenTypes: []string{}, TokenModifiers: []string{}}
	for _, c := range all {
		p, ok := c.(SemanticTokensProvider)
		if !ok {
			continue
		}
		l := p.Legend()
		for _, t := range l.TokenTypes {
			if !slices.Contains(legend.TokenTypes, t) {
				legend.TokenTypes = append(legend.TokenTypes, t)
			}
		}
		for _, m := range l.TokenModifiers {
			if !slices.Contains(legend.TokenModifiers, m) {
				legend.TokenModifiers = append(legend.TokenModifiers, m)
			}
		}
	}
	return legend
}

// SemanticTokens is answered by the first provider registered for the
// document's language, with its token indices rewritten against Legend.
func (d *Dispatcher) SemanticTokens(ctx context.Context, doc *documents.Document) *protocol.SemanticTokens {
	for _, c := range d.components(doc.LanguageID) {
		p, ok := c.(SemanticTokensProvider)
		if !ok {
			continue
		}
		data, err := call(c, "semanticTokens", func() ([]protocol.UInteger, error) { return p.SemanticTokens(ctx, doc) })
		if err != nil {
			return &protocol.SemanticTokens{Data: []protocol.UInteger{}}
		}
		return &protocol.SemanticTokens{Data: remap(data, p.Legend(), d.Legend())}
	}
	return &protocol.SemanticTokens{Data: []protocol.UInteger{}}
}

func remap(data []protocol.UInteger, from, to protocol.SemanticTokensLegend) []protocol.UInteger {
	types := make([]protocol.UInteger, len(from.TokenTypes))
	for i, t := range from.TokenTypes {
		types[i] = protocol.UInteger(slices.Index(to.TokenTypes, t))
	}
	modifiers := make([]protocol.UInteger, len(from.TokenModifiers))
	for i, m := range from.TokenModifiers {
		modifiers[i] = protocol.UInteger(slices.Index(to.TokenModifiers, m))
	}

	out := make([]protocol.UInteger, 0, len(data))
	// deltas of dropped tokens are folded into the next kept one
	var carryLine, carryStart protocol.UInteger
	for i := 0; i+4 < len(data); i += 5 {
		line, start := carryLine+data[i], data[i+1]
		if data[i] == 0 {
			start += carryStart
		}
		typ := data[i+3]
		if int(typ) >= len(types) {
			carryLine, carryStart = line, start
			continue
		}
		carryLine, carryStart = 0, 0
		var mods protocol.UInteger
		for bit := range modifiers {
			if data[i+4]&(1<<bit) != 0 {
				mods |= 1 << modifiers[bit]
			}
		}
		out = append(out, line, start, data[i+2], types[typ], mods)
	}
	return out
}
