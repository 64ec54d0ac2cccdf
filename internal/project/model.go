// Package project models build units and their classpaths and keeps the
// table of known projects in sync with classpath events.
package project

import (
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

type EntryKind int

const (
	KindSource EntryKind = iota + 1
	KindBinary
)

func (k EntryKind) String() string {
	switch k {
	case KindSource:
		return "source"
	case KindBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// ClasspathEntry is one resolved dependency or source root.
type ClasspathEntry struct {
	Kind EntryKind
	Path string
	// OutputFolder is only set for source entries.
	OutputFolder     string
	System           bool
	Test             bool
	Own              bool
	SourceAttachment string
}

// Classpath is an ordered list of entries plus the runtime version marker.
type Classpath struct {
	Entries []ClasspathEntry
	Version string
}

// Equal compares entry order, every entry field and the version marker.
func (c Classpath) Equal(o Classpath) bool {
	return c.Version == o.Version && slices.Equal(c.Entries, o.Entries)
}

func (c Classpath) clone() Classpath {
	return Classpath{
		Entries: slices.Clone(c.Entries),
		Version: c.Version,
	}
}

type BuildDescriptor struct {
	Kind      string
	BuildFile string
}

// Project is an immutable generation of a build unit. A newer generation
// replaces it in the registry; it is never mutated.
type Project struct {
	uri       string
	name      string
	classpath Classpath
	build     *BuildDescriptor

	disposeOnce sync.Once
	dispose     func()
}

// New builds a project. uri is normalized; dispose may be nil.
func New(uri, name string, classpath Classpath, build *BuildDescriptor, dispose func()) *Project {
	p := &Project{
		uri:       NormalizeURI(uri),
		name:      name,
		classpath: classpath.clone(),
		dispose:   dispose,
	}
	if build != nil {
		b := *build
		p.build = &b
	}
	if p.name == "" {
		p.name = filepath.Base(p.Path())
	}
	return p
}

func (p *Project) URI() string  { return p.uri }
func (p *Project) Name() string { return p.name }

// Path is the project root as a filesystem path.
func (p *Project) Path() string { return URIToPath(p.uri) }

// Classpath returns a copy of the project classpath.
func (p *Project) Classpath() Classpath { return p.classpath.clone() }

func (p *Project) Build() (BuildDescriptor, bool) {
	if p.build == nil {
		return BuildDescriptor{}, false
	}
	return *p.build, true
}

// Dispose runs the disposer hook at most once.
func (p *Project) Dispose() {
	p.disposeOnce.Do(func() {
		if p.dispose != nil {
			p.dispose()
		}
	})
}

// Contains reports whether uri lies inside the project root.
func (p *Project) Contains(uri string) bool {
	return hasPathPrefix(NormalizeURI(uri), p.uri)
}

// SourceFolders returns the source roots, optionally including test roots.
func (p *Project) SourceFolders(includeTest bool) []string {
	var out []string
	for _, e := range p.classpath.Entries {
		if e.Kind != KindSource || (e.Test && !includeTest) {
			continue
		}
		out = append(out, e.Path)
	}
	return out
}

// OutputFolders returns the distinct output folders of source entries.
func (p *Project) OutputFolders(includeTest bool) []string {
	var out []string
	for _, e := range p.classpath.Entries {
		if e.Kind != KindSource || e.OutputFolder == "" || (e.Test && !includeTest) {
			continue
		}
		if !slices.Contains(out, e.OutputFolder) {
			out = append(out, e.OutputFolder)
		}
	}
	return out
}

// ResolvedClasspath lists output folders and binaries in classpath order,
// skipping system libraries (the runtime provides those).
func (p *Project) ResolvedClasspath() []string {
	var out []string
	for _, e := range p.classpath.Entries {
		var path string
		switch {
		case e.System:
			continue
		case e.Kind == KindSource:
			path = e.OutputFolder
		default:
			path = e.Path
		}
		if path != "" && !slices.Contains(out, path) {
			out = append(out, path)
		}
	}
	return out
}

// DependsOn reports whether a non-system, non-test binary entry matches marker.
func (p *Project) DependsOn(marker string) bool {
	if marker == "" {
		return false
	}
	for _, e := range p.classpath.Entries {
		if e.Kind != KindBinary || e.System || e.Test {
			continue
		}
		if strings.Contains(filepath.Base(e.Path), marker) {
			return true
		}
	}
	return false
}

func (p *Project) String() string {
	return p.name + " (" + p.uri + ")"
}
