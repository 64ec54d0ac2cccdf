package project

import (
	"fmt"
	"strings"
	"sync"
)

// EntryData is the wire form of a classpath entry.
type EntryData struct {
	Kind             string `json:"kind"`
	Path             string `json:"path"`
	OutputFolder     string `json:"outputFolder,omitempty"`
	SourceAttachment string `json:"sourceAttachment,omitempty"`
	System           bool   `json:"isSystem,omitempty"`
	Test             bool   `json:"isTest,omitempty"`
	Own              bool   `json:"isOwn,omitempty"`
}

type ClasspathData struct {
	Entries     []EntryData `json:"entries"`
	JavaVersion string      `json:"javaVersion,omitempty"`
}

type BuildInfo struct {
	Kind      string `json:"kind"`
	BuildFile string `json:"buildFile"`
}

// ClasspathEvent is one message of the classpath event channel.
type ClasspathEvent struct {
	Location  string         `json:"projectUri"`
	Name      string         `json:"name"`
	Deleted   bool           `json:"deleted"`
	Classpath *ClasspathData `json:"classpath,omitempty"`
	BuildInfo *BuildInfo     `json:"buildInfo,omitempty"`
}

// ToEntry validates d and converts it.
func (d EntryData) ToEntry() (ClasspathEntry, error) {
	var kind EntryKind
	switch strings.ToLower(d.Kind) {
	case "source", "src":
		kind = KindSource
	case "binary", "lib":
		kind = KindBinary
	default:
		return ClasspathEntry{}, fmt.Errorf("%w: unknown kind %q", ErrMalformedEntry, d.Kind)
	}
	if strings.TrimSpace(d.Path) == "" {
		return ClasspathEntry{}, fmt.Errorf("%w: empty path", ErrMalformedEntry)
	}
	e := ClasspathEntry{
		Kind:             kind,
		Path:             d.Path,
		System:           d.System,
		Test:             d.Test,
		Own:              d.Own,
		SourceAttachment: d.SourceAttachment,
	}
	if kind == KindSource {
		e.OutputFolder = d.OutputFolder
	}
	return e, nil
}

// ToClasspath converts d, skipping malformed entries.
func (d *ClasspathData) ToClasspath() Classpath {
	if d == nil {
		return Classpath{}
	}
	cp := Classpath{Version: d.JavaVersion}
	for _, raw := range d.Entries {
		e, err := raw.ToEntry()
		if err != nil {
			log.Warningf("skipping classpath entry %+v: %v", raw, err)
			continue
		}
		cp.Entries = append(cp.Entries, e)
	}
	return cp
}

// CacheOption configures a ClasspathCache.
type CacheOption func(*ClasspathCache)

// WithDisposer installs a hook that runs when a project generation is
// removed from the table.
func WithDisposer(fn func(*Project)) CacheOption {
	return func(c *ClasspathCache) {
		c.disposer = fn
	}
}

// ClasspathCache applies classpath events to a Registry. It implements Source.
type ClasspathCache struct {
	*Registry

	// monitor serializes event application in arrival order.
	monitor  sync.Mutex
	disposer func(*Project)
}

func NewClasspathCache(opts ...CacheOption) *ClasspathCache {
	c := &ClasspathCache{Registry: NewRegistry()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Apply processes one event. Listeners are notified after the monitor is
// released; an event that changes nothing produces no notification.
func (c *ClasspathCache) Apply(ev ClasspathEvent) error {
	removed, err := c.apply(ev)
	for _, p := range removed {
		p.Dispose()
	}
	c.bus.Flush()
	return err
}

func (c *ClasspathCache) apply(ev ClasspathEvent) ([]*Project, error) {
	uri := NormalizeURI(ev.Location)
	if uri == "" {
		return nil, ErrNoLocation
	}

	c.monitor.Lock()
	defer c.monitor.Unlock()

	if ev.Deleted {
		prev, ok := c.remove(uri)
		if !ok {
			log.Debugf("delete for unknown project %s ignored", uri)
			recordEvent("ignored")
			return nil, nil
		}
		log.Infof("project deleted: %s", prev)
		c.bus.Enqueue(Change{Kind: Deleted, Project: prev})
		recordEvent(Deleted.String())
		return []*Project{prev}, nil
	}

	classpath := ev.Classpath.ToClasspath()
	prev, existed := c.Get(uri)
	if existed && prev.classpath.Equal(classpath) {
		log.Debugf("classpath of %s unchanged", uri)
		recordEvent("unchanged")
		return nil, nil
	}

	var build *BuildDescriptor
	if ev.BuildInfo != nil {
		build = &BuildDescriptor{Kind: ev.BuildInfo.Kind, BuildFile: ev.BuildInfo.BuildFile}
	}
	p := New(uri, ev.Name, classpath, build, nil)
	if c.disposer != nil {
		p.dispose = func() { c.disposer(p) }
	}
	c.put(p)

	kind := Created
	if existed {
		kind = Changed
	}
	log.Infof("project %s: %s (%d entries)", kind, p, len(classpath.Entries))
	c.bus.Enqueue(Change{Kind: kind, Project: p})
	recordEvent(kind.String())
	return nil, nil
}

// Dispose removes every project, disposing each without notifications.
func (c *ClasspathCache) Dispose() {
	c.monitor.Lock()
	removed := c.clear()
	c.monitor.Unlock()
	for _, p := range removed {
		p.Dispose()
	}
}
