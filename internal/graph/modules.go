package graph

import (
	"slices"

	"springls/internal/architecture"
	"springls/internal/symbols"
)

// FromSnapshot builds a project's graph: one node per module and a link for
// every module whose sources import types of another module.
func FromSnapshot(name string, snap *architecture.Snapshot, files []*symbols.File) ProjectGraph {
	g := ProjectGraph{
		Name:    name,
		Modules: make(map[string]string, len(snap.Modules)),
		Depends: make(map[string][]string),
	}
	for _, m := range snap.Modules {
		g.Modules[m.Name] = m.Name + "\n" + m.BasePackage
	}
	for _, f := range files {
		from, ok := snap.ModuleFor(f.Package)
		if !ok {
			continue
		}
		for _, imp := range f.Imports {
			to, ok := snap.ModuleFor(imp.Name)
			if !ok || to.Name == from.Name || slices.Contains(g.Depends[from.Name], to.Name) {
				continue
			}
			g.Depends[from.Name] = append(g.Depends[from.Name], to.Name)
		}
	}
	for _, deps := range g.Depends {
		slices.Sort(deps)
	}
	return g
}
