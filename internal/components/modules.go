package components

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"springls/internal/architecture"
	"springls/internal/dispatch"
	"springls/internal/documents"
	"springls/internal/project"
	"springls/internal/symbols"

	protocol "github.com/tliron/glsp/protocol_3_16"
)

const (
	CommandRefreshArchitecture = "springls.refreshArchitecture"
	CommandShowArchitecture    = "springls.showArchitectureGraph"
)

// ModulesData is the read side of the architecture indexer.
type ModulesData interface {
	ModulesData(projectURI string) (*architecture.Snapshot, bool)
}

// Outlines parses a document and records it in the symbol index.
type Outlines interface {
	Update(ctx context.Context, path string, src []byte) (*symbols.File, error)
}

// Modules decorates Java sources of module-aware projects with their
// architecture: the owning module, imports that reach into another
// module's internals and a refresh action.
type Modules struct {
	projects project.Source
	modules  ModulesData
	outlines Outlines
}

func NewModules(projects project.Source, modules ModulesData, outlines Outlines) *Modules {
	return &Modules{projects: projects, modules: modules, outlines: outlines}
}

func (m *Modules) Name() string { return "architecture" }

// resolve finds what the component needs for doc. ok is false when the
// document's project has no snapshot.
func (m *Modules) resolve(ctx context.Context, doc *documents.Document) (*project.Project, *architecture.Snapshot, *symbols.File, bool) {
	p, ok := m.projects.Find(doc.URI)
	if !ok {
		return nil, nil, nil, false
	}
	snap, ok := m.modules.ModulesData(p.URI())
	if !ok {
		return p, nil, nil, false
	}
	f, err := m.outlines.Update(ctx, doc.Path(), []byte(doc.Text))
	if err != nil {
		log.Debugf("outline of %s: %v", doc.URI, err)
		return p, snap, nil, false
	}
	return p, snap, f, true
}

func (m *Modules) Reconcile(ctx context.Context, doc *documents.Document) ([]protocol.Diagnostic, error) {
	_, snap, f, ok := m.resolve(ctx, doc)
	if !ok {
		return nil, nil
	}
	own, _ := snap.ModuleFor(f.Package)

	severity := protocol.DiagnosticSeverityWarning
	src := source
	var diagnostics []protocol.Diagnostic
	for _, imp := range f.Imports {
		target, internal := internalTo(snap, own, imp)
		if !internal {
			continue
		}
		diagnostics = append(diagnostics, protocol.Diagnostic{
			Range:    toRange(imp.Range),
			Severity: &severity,
			Source:   &src,
			Message:  fmt.Sprintf("%s is internal to module '%s' and not part of a named interface", imp.Name, target.Name),
		})
	}
	return diagnostics, nil
}

// internalTo reports whether imp reaches a non-exposed type of a module other
// than own. Types directly in a module's base package are its API.
func internalTo(snap *architecture.Snapshot, own architecture.Module, imp symbols.Import) (architecture.Module, bool) {
	if imp.Static || imp.Name == "" {
		return architecture.Module{}, false
	}
	target, ok := snap.ModuleFor(imp.Name)
	if !ok || target.Name == own.Name {
		return target, false
	}
	pkg := imp.Name
	if !imp.Wildcard {
		if i := strings.LastIndexByte(pkg, '.'); i >= 0 {
			pkg = pkg[:i]
		}
	}
	if pkg == target.BasePackage {
		return target, false
	}
	if imp.Wildcard {
		for _, types := range target.NamedInterfaces {
			if slices.ContainsFunc(types, func(t string) bool { return strings.HasPrefix(t, pkg+".") }) {
				return target, false
			}
		}
		return target, true
	}
	return target, !target.Exposes(imp.Name)
}

func (m *Modules) Hover(ctx context.Context, doc *documents.Document, pos protocol.Position) (*protocol.Hover, error) {
	_, snap, f, ok := m.resolve(ctx, doc)
	if !ok {
		return nil, nil
	}
	at := fromPosition(pos)

	if f.Package != "" && f.PackageRange.Contains(at) {
		mod, ok := snap.ModuleFor(f.Package)
		if !ok {
			return nil, nil
		}
		return hover(describe(mod), f.PackageRange), nil
	}
	for _, imp := range f.Imports {
		if !imp.Range.Contains(at) {
			continue
		}
		mod, ok := snap.ModuleFor(imp.Name)
		if !ok {
			return nil, nil
		}
		text := describe(mod)
		if !imp.Wildcard && !imp.Static {
			if mod.Exposes(imp.Name) {
				text += fmt.Sprintf("\n\n`%s` is exposed by a named interface.", imp.Name)
			}
		}
		return hover(text, imp.Range), nil
	}
	return nil, nil
}

func hover(markdown string, r symbols.Range) *protocol.Hover {
	rng := toRange(r)
	return &protocol.Hover{
		Contents: protocol.MarkupContent{Kind: protocol.MarkupKindMarkdown, Value: markdown},
		Range:    &rng,
	}
}

func describe(mod architecture.Module) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Module** `%s`\n\nBase package: `%s`", mod.Name, mod.BasePackage)
	if len(mod.NamedInterfaces) == 0 {
		return b.String()
	}
	names := make([]string, 0, len(mod.NamedInterfaces))
	for name := range mod.NamedInterfaces {
		names = append(names, name)
	}
	slices.Sort(names)
	b.WriteString("\n\nNamed interfaces:")
	for _, name := range names {
		fmt.Fprintf(&b, "\n- `%s` (%d types)", name, len(mod.NamedInterfaces[name]))
	}
	return b.String()
}

func (m *Modules) CodeLenses(ctx context.Context, doc *documents.Document) ([]protocol.CodeLens, error) {
	p, snap, f, ok := m.resolve(ctx, doc)
	if !ok || f.Package == "" {
		return nil, nil
	}
	for _, mod := range snap.Modules {
		if mod.BasePackage != f.Package {
			continue
		}
		title := fmt.Sprintf("Module %s", mod.Name)
		if n := len(mod.NamedInterfaces); n > 0 {
			title += fmt.Sprintf(" · %d named interfaces", n)
		}
		return []protocol.CodeLens{{
			Range: toRange(f.PackageRange),
			Command: &protocol.Command{
				Title:     title,
				Command:   CommandShowArchitecture,
				Arguments: []any{p.URI()},
			},
		}}, nil
	}
	return nil, nil
}

func (m *Modules) InlayHints(ctx context.Context, doc *documents.Document, rng protocol.Range) ([]dispatch.InlayHint, error) {
	_, snap, f, ok := m.resolve(ctx, doc)
	if !ok || f.Package == "" {
		return nil, nil
	}
	end := toPosition(f.PackageRange.End)
	if end.Line < rng.Start.Line || end.Line > rng.End.Line {
		return nil, nil
	}
	mod, ok := snap.ModuleFor(f.Package)
	if !ok {
		return nil, nil
	}
	return []dispatch.InlayHint{{
		Position:    end,
		Label:       "module " + mod.Name,
		Tooltip:     "base package " + mod.BasePackage,
		PaddingLeft: true,
	}}, nil
}

// CodeActions offers a metadata refresh for every Java file of a module-aware
// project.
func (m *Modules) CodeActions(ctx context.Context, doc *documents.Document, rng protocol.Range, diagnostics []protocol.Diagnostic) ([]protocol.CodeAction, error) {
	p, ok := m.projects.Find(doc.URI)
	if !ok {
		return nil, nil
	}
	if _, ok := m.modules.ModulesData(p.URI()); !ok {
		return nil, nil
	}
	kind := protocol.CodeActionKind("source.refreshArchitecture")
	var related []protocol.Diagnostic
	for _, d := range diagnostics {
		if d.Source != nil && *d.Source == source && strings.Contains(d.Message, "is internal to module") {
			related = append(related, d)
		}
	}
	return []protocol.CodeAction{{
		Title:       "Refresh architecture metadata",
		Kind:        &kind,
		Diagnostics: related,
		Command: &protocol.Command{
			Title:     "Refresh architecture metadata",
			Command:   CommandRefreshArchitecture,
			Arguments: []any{p.URI()},
		},
	}}, nil
}
