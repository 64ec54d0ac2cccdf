package project

import (
	"sort"
	"sync"

	"springls/internal/event"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("springls.project")

type ChangeKind int

const (
	Created ChangeKind = iota
	Changed
	Deleted
)

func (k ChangeKind) String() string {
	switch k {
	case Created:
		return "created"
	case Changed:
		return "changed"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Change is delivered to listeners. Project is the new generation for
// Created and Changed and the removed one for Deleted.
type Change struct {
	Kind    ChangeKind
	Project *Project
}

type Listener = event.Listener[Change]

// ListenerFunc adapts fn to a Listener.
func ListenerFunc(fn func(Change)) Listener {
	return event.Func(fn)
}

// Source is anything that can answer project lookups and report changes.
type Source interface {
	Find(uri string) (*Project, bool)
	Projects() []*Project
	AddListener(l Listener)
	RemoveListener(l Listener)
	Dispose()
}

// Registry is the table of projects keyed by normalized location.
type Registry struct {
	mu       sync.RWMutex
	projects map[string]*Project
	bus      *event.Bus[Change]
}

func NewRegistry() *Registry {
	return &Registry{
		projects: make(map[string]*Project),
		bus:      event.NewBus[Change](),
	}
}

// Find returns the most deeply nested project containing uri.
func (r *Registry) Find(uri string) (*Project, bool) {
	uri = NormalizeURI(uri)
	if uri == "" {
		return nil, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var best *Project
	for root, p := range r.projects {
		if !hasPathPrefix(uri, root) {
			continue
		}
		if best == nil || len(root) > len(best.uri) {
			best = p
		}
	}
	return best, best != nil
}

// Get returns the project registered exactly at uri.
func (r *Registry) Get(uri string) (*Project, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.projects[NormalizeURI(uri)]
	return p, ok
}

// Projects returns all projects sorted by location.
func (r *Registry) Projects() []*Project {
	r.mu.RLock()
	out := make([]*Project, 0, len(r.projects))
	for _, p := range r.projects {
		out = append(out, p)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].uri < out[j].uri })
	return out
}

func (r *Registry) AddListener(l Listener)    { r.bus.Add(l) }
func (r *Registry) RemoveListener(l Listener) { r.bus.Remove(l) }

// put stores p and returns the generation it replaced.
func (r *Registry) put(p *Project) (*Project, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.projects[p.uri]
	r.projects[p.uri] = p
	return prev, ok
}

func (r *Registry) remove(uri string) (*Project, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.projects[uri]
	if ok {
		delete(r.projects, uri)
	}
	return prev, ok
}

func (r *Registry) clear() []*Project {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Project, 0, len(r.projects))
	for _, p := range r.projects {
		out = append(out, p)
	}
	r.projects = make(map[string]*Project)
	return out
}
