// Package architecture derives module boundaries for projects that use the
// architecture-analysis library. Results come from an out-of-process
// exporter, are cached per project and recomputed on a debounce.
package architecture

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
)

// Module is one architectural boundary of an application.
type Module struct {
	Name        string `json:"name"`
	BasePackage string `json:"basePackage"`
	// NamedInterfaces maps an interface name to its sorted type names.
	NamedInterfaces map[string][]string `json:"namedInterfaces,omitempty"`
}

// Exposes reports whether fqn is part of one of the module's named
// interfaces.
func (m Module) Exposes(fqn string) bool {
	for _, types := range m.NamedInterfaces {
		if _, found := slices.BinarySearch(types, fqn); found {
			return true
		}
	}
	return false
}

// Contains reports whether the package or type name lies in the module.
func (m Module) Contains(name string) bool {
	return name == m.BasePackage || strings.HasPrefix(name, m.BasePackage+".")
}

func (m Module) equal(o Module) bool {
	return m.Name == o.Name && m.BasePackage == o.BasePackage &&
		maps.EqualFunc(m.NamedInterfaces, o.NamedInterfaces, slices.Equal[[]string])
}

// Snapshot is the immutable set of modules of one project, sorted by name.
type Snapshot struct {
	ProjectURI string   `json:"projectUri"`
	Modules    []Module `json:"modules"`
}

// NewSnapshot sorts modules and their interface members.
func NewSnapshot(projectURI string, modules []Module) *Snapshot {
	out := make([]Module, 0, len(modules))
	for _, m := range modules {
		m.NamedInterfaces = normalizeInterfaces(m.NamedInterfaces)
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].BasePackage < out[j].BasePackage
	})
	return &Snapshot{ProjectURI: projectURI, Modules: out}
}

// Equal compares the module sets structurally.
func (s *Snapshot) Equal(o *Snapshot) bool {
	if s == nil || o == nil {
		return s == o
	}
	return slices.EqualFunc(s.Modules, o.Modules, Module.equal)
}

// ModuleFor returns the module with the longest base package containing name.
func (s *Snapshot) ModuleFor(name string) (Module, bool) {
	var best Module
	found := false
	if s == nil {
		return best, false
	}
	for _, m := range s.Modules {
		if m.Contains(name) && (!found || len(m.BasePackage) > len(best.BasePackage)) {
			best, found = m, true
		}
	}
	return best, found
}

func (s *Snapshot) Module(name string) (Module, bool) {
	if s == nil {
		return Module{}, false
	}
	for _, m := range s.Modules {
		if m.Name == name {
			return m, true
		}
	}
	return Module{}, false
}

func normalizeInterfaces(in map[string][]string) map[string][]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string][]string, len(in))
	for name, types := range in {
		sorted := slices.Clone(types)
		slices.Sort(sorted)
		out[name] = slices.Compact(sorted)
	}
	return out
}

type exportedModule struct {
	BasePackage     string              `json:"basePackage"`
	NamedInterfaces map[string][]string `json:"namedInterfaces"`
}

// ParseExport decodes the exporter output: an object keyed by module name.
func ParseExport(data []byte) ([]Module, error) {
	var raw map[string]exportedModule
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExport, err)
	}
	out := make([]Module, 0, len(raw))
	for name, m := range raw {
		if m.BasePackage == "" {
			return nil, fmt.Errorf("%w: module %q has no base package", ErrInvalidExport, name)
		}
		out = append(out, Module{
			Name:            name,
			BasePackage:     m.BasePackage,
			NamedInterfaces: normalizeInterfaces(m.NamedInterfaces),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
