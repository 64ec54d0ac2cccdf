package architecture

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"springls/internal/event"
	"springls/internal/project"

	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var log = commonlog.GetLogger("springls.architecture")

// SymbolIndex answers entry-point queries and refreshes closed files.
type SymbolIndex interface {
	EntryPointPackages(ctx context.Context, p *project.Project, annotations []string) ([]string, error)
	SourceFiles(p *project.Project) []string
	Refresh(ctx context.Context, paths ...string)
	Forget(p *project.Project)
}

// Documents tells open documents apart from files on disk.
type Documents interface {
	IsOpen(uri string) bool
}

// Validator reconciles an open document.
type Validator interface {
	Validate(ctx context.Context, uri string)
}

// SnapshotStore persists installed snapshots.
type SnapshotStore interface {
	LoadSnapshots(ctx context.Context) ([]*Snapshot, error)
	SaveSnapshot(ctx context.Context, s *Snapshot) error
	DeleteSnapshot(ctx context.Context, projectURI string) error
}

type Outcome int

const (
	OutcomeUpdated Outcome = iota + 1
	OutcomeUnchanged
	OutcomeNoMetadata
	OutcomeFailed
	OutcomeDiscarded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUpdated:
		return "updated"
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeNoMetadata:
		return "no-metadata"
	case OutcomeFailed:
		return "failed"
	case OutcomeDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// SnapshotChange is published when a snapshot is installed or removed.
// Snapshot is nil on removal.
type SnapshotChange struct {
	ProjectURI string
	Snapshot   *Snapshot
}

// ProjectInfo describes one tracked project.
type ProjectInfo struct {
	URI     string `json:"uri"`
	Name    string `json:"name"`
	Modules int    `json:"modules"`
	Indexed bool   `json:"indexed"`
}

type Option func(*Indexer)

func WithDebounce(d time.Duration) Option {
	return func(ix *Indexer) { ix.debounce = d }
}

func WithMaxConcurrent(n int) Option {
	return func(ix *Indexer) {
		if n > 0 {
			ix.sem = make(chan struct{}, n)
		}
	}
}

// WithLibraryMarker sets the jar name fragment that marks a project as using
// the analysis library.
func WithLibraryMarker(marker string) Option {
	return func(ix *Indexer) { ix.marker = marker }
}

func WithEntryPointAnnotations(names ...string) Option {
	return func(ix *Indexer) { ix.annotations = names }
}

func WithDocuments(docs Documents, v Validator) Option {
	return func(ix *Indexer) {
		ix.documents = docs
		ix.validator = v
	}
}

func WithStore(s SnapshotStore) Option {
	return func(ix *Indexer) { ix.store = s }
}

func WithWatchFunc(fn WatchFunc) Option {
	return func(ix *Indexer) { ix.watch = fn }
}

type pendingRun struct {
	timer *time.Timer
}

type tracked struct {
	project *project.Project
	watch   Watch
	folders []string
}

// Indexer keeps one architecture snapshot per qualifying project.
type Indexer struct {
	projects    project.Source
	exporter    Exporter
	symbols     SymbolIndex
	documents   Documents
	validator   Validator
	store       SnapshotStore
	watch       WatchFunc
	debounce    time.Duration
	marker      string
	annotations []string
	sem         chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	// mu guards pending, requested, tracked and disposed. Lock order: mu,
	// then snapMu.
	mu        sync.Mutex
	pending   map[string]*pendingRun
	requested map[string]uint64
	tracked   map[string]*tracked
	disposed  bool

	snapMu    sync.RWMutex
	snapshots map[string]*Snapshot

	group    singleflight.Group
	bus      *event.Bus[SnapshotChange]
	listener project.Listener
}

func NewIndexer(projects project.Source, exporter Exporter, symbols SymbolIndex, opts ...Option) *Indexer {
	ctx, cancel := context.WithCancel(context.Background())
	ix := &Indexer{
		projects:    projects,
		exporter:    exporter,
		symbols:     symbols,
		watch:       FSWatch,
		debounce:    500 * time.Millisecond,
		marker:      "spring-modulith",
		annotations: []string{"SpringBootApplication"},
		sem:         make(chan struct{}, 2),
		ctx:         ctx,
		cancel:      cancel,
		pending:     make(map[string]*pendingRun),
		requested:   make(map[string]uint64),
		tracked:     make(map[string]*tracked),
		snapshots:   make(map[string]*Snapshot),
		bus:         event.NewBus[SnapshotChange](),
	}
	for _, opt := range opts {
		opt(ix)
	}
	ix.listener = project.ListenerFunc(ix.projectChanged)
	projects.AddListener(ix.listener)
	return ix
}

// Load installs persisted snapshots into the cache without revalidation.
func (ix *Indexer) Load(ctx context.Context) error {
	if ix.store == nil {
		return nil
	}
	snaps, err := ix.store.LoadSnapshots(ctx)
	if err != nil {
		return err
	}
	ix.snapMu.Lock()
	for _, s := range snaps {
		if _, ok := ix.snapshots[s.ProjectURI]; !ok {
			ix.snapshots[s.ProjectURI] = s
		}
	}
	ix.snapMu.Unlock()
	log.Infof("loaded %d persisted snapshots", len(snaps))
	return nil
}

// Resync treats every currently known project as created.
func (ix *Indexer) Resync() {
	for _, p := range ix.projects.Projects() {
		ix.projectChanged(project.Change{Kind: project.Created, Project: p})
	}
}

func (ix *Indexer) AddListener(l event.Listener[SnapshotChange])    { ix.bus.Add(l) }
func (ix *Indexer) RemoveListener(l event.Listener[SnapshotChange]) { ix.bus.Remove(l) }

// ModulesData returns the cached snapshot of the project at uri.
func (ix *Indexer) ModulesData(uri string) (*Snapshot, bool) {
	ix.snapMu.RLock()
	defer ix.snapMu.RUnlock()
	s, ok := ix.snapshots[project.NormalizeURI(uri)]
	return s, ok
}

// Projects lists the tracked projects, sorted by location.
func (ix *Indexer) Projects() []ProjectInfo {
	ix.mu.Lock()
	out := make([]ProjectInfo, 0, len(ix.tracked))
	for uri, t := range ix.tracked {
		out = append(out, ProjectInfo{URI: uri, Name: t.project.Name()})
	}
	ix.mu.Unlock()

	ix.snapMu.RLock()
	for i := range out {
		if s, ok := ix.snapshots[out[i].URI]; ok {
			out[i].Indexed = true
			out[i].Modules = len(s.Modules)
		}
	}
	ix.snapMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

func (ix *Indexer) projectChanged(c project.Change) {
	p := c.Project
	uri := p.URI()

	if c.Kind == project.Deleted {
		ix.forget(uri)
		return
	}

	if !p.DependsOn(ix.marker) {
		ix.mu.Lock()
		t, ok := ix.tracked[uri]
		if ok {
			delete(ix.tracked, uri)
			ix.cancelPendingLocked(uri)
		}
		ix.mu.Unlock()
		if ok && t.watch != nil {
			log.Infof("%s no longer uses %s, closing watches", p, ix.marker)
			t.watch.Close()
		}
		return
	}

	ix.mu.Lock()
	if ix.disposed {
		ix.mu.Unlock()
		return
	}
	t, ok := ix.tracked[uri]
	if !ok {
		t = &tracked{}
		ix.tracked[uri] = t
	}
	t.project = p
	ix.mu.Unlock()

	ix.ensureWatch(uri)
	ix.schedule(uri)
}

// ensureWatch creates the output folder watch, or recreates it when the
// project's output folders changed.
func (ix *Indexer) ensureWatch(uri string) {
	if ix.watch == nil {
		return
	}
	ix.mu.Lock()
	t, ok := ix.tracked[uri]
	if !ok || ix.disposed {
		ix.mu.Unlock()
		return
	}
	folders := t.project.OutputFolders(false)
	if t.watch != nil && slices.Equal(t.folders, folders) {
		ix.mu.Unlock()
		return
	}
	old := t.watch
	t.watch, t.folders = nil, nil
	ix.mu.Unlock()

	if old != nil {
		old.Close()
	}
	if len(folders) == 0 {
		return
	}

	w, err := ix.watch(folders, func(path string, op FileOp) { ix.FileChanged(path, op) })
	if err != nil {
		log.Warningf("watch output folders of %s: %v", uri, err)
		return
	}

	ix.mu.Lock()
	t, ok = ix.tracked[uri]
	if !ok || t.watch != nil || ix.disposed {
		ix.mu.Unlock()
		w.Close()
		return
	}
	t.watch, t.folders = w, folders
	ix.mu.Unlock()
	log.Debugf("watching %v for %s", folders, uri)
}

func (ix *Indexer) forget(uri string) {
	ix.mu.Lock()
	t, ok := ix.tracked[uri]
	delete(ix.tracked, uri)
	ix.cancelPendingLocked(uri)
	ix.snapMu.Lock()
	_, hadSnapshot := ix.snapshots[uri]
	delete(ix.snapshots, uri)
	ix.snapMu.Unlock()
	ix.mu.Unlock()

	if ok {
		if t.watch != nil {
			t.watch.Close()
		}
		if ix.symbols != nil {
			ix.symbols.Forget(t.project)
		}
	}
	if hadSnapshot {
		log.Infof("dropped architecture snapshot of %s", uri)
		if ix.store != nil {
			if err := ix.store.DeleteSnapshot(ix.ctx, uri); err != nil {
				log.Warningf("delete persisted snapshot of %s: %v", uri, err)
			}
		}
		ix.bus.Publish(SnapshotChange{ProjectURI: uri})
	}
}

// FileChanged handles a file event below a tracked project. Class files in
// non-test output folders and package-info files trigger a recomputation.
func (ix *Indexer) FileChanged(path string, op FileOp) {
	ix.mu.Lock()
	var hits []string
	for uri, t := range ix.tracked {
		if triggers(t.project, path) {
			hits = append(hits, uri)
		}
	}
	ix.mu.Unlock()

	for _, uri := range hits {
		log.Debugf("%s %s triggers recomputation of %s", path, op, uri)
		ix.ensureWatch(uri)
		ix.schedule(uri)
	}
}

func triggers(p *project.Project, path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, "package-info.") {
		return p.Contains(path)
	}
	if !strings.HasSuffix(base, ".class") {
		return false
	}
	for _, dir := range p.OutputFolders(false) {
		if path == dir || strings.HasPrefix(path, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// schedule (re)arms the debounce timer of uri.
func (ix *Indexer) schedule(uri string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.disposed {
		return
	}
	if _, ok := ix.tracked[uri]; !ok {
		return
	}
	if prev, ok := ix.pending[uri]; ok {
		prev.timer.Stop()
	} else {
		recordPending(ix.ctx, 1)
	}
	run := &pendingRun{}
	run.timer = time.AfterFunc(ix.debounce, func() { ix.fire(uri, run) })
	ix.pending[uri] = run
}

func (ix *Indexer) cancelPendingLocked(uri string) {
	if prev, ok := ix.pending[uri]; ok {
		prev.timer.Stop()
		delete(ix.pending, uri)
		recordPending(ix.ctx, -1)
	}
}

func (ix *Indexer) fire(uri string, run *pendingRun) {
	ix.mu.Lock()
	if ix.pending[uri] != run {
		ix.mu.Unlock()
		return
	}
	delete(ix.pending, uri)
	ix.mu.Unlock()
	recordPending(ix.ctx, -1)

	if _, err := ix.run(ix.ctx, uri); err != nil && !errors.Is(err, context.Canceled) {
		log.Warningf("architecture recomputation of %s: %v", uri, err)
	}
}

// Refresh recomputes the project owning uri immediately. The result comes
// from a computation that started after the call.
func (ix *Indexer) Refresh(ctx context.Context, uri string) (Outcome, error) {
	p, ok := ix.projects.Find(uri)
	if !ok {
		return OutcomeFailed, fmt.Errorf("%w: %s", ErrUnknownProject, uri)
	}
	if !p.DependsOn(ix.marker) {
		return OutcomeFailed, fmt.Errorf("%w: %s", ErrNotApplicable, p)
	}
	uri = p.URI()

	ix.mu.Lock()
	if ix.disposed {
		ix.mu.Unlock()
		return OutcomeFailed, ErrIndexerDisposed
	}
	t, ok := ix.tracked[uri]
	if !ok {
		t = &tracked{}
		ix.tracked[uri] = t
	}
	t.project = p
	ix.cancelPendingLocked(uri)
	ix.mu.Unlock()

	ix.ensureWatch(uri)

	select {
	case res := <-ix.request(uri):
		return res.Val.(Outcome), res.Err
	case <-ctx.Done():
		return OutcomeFailed, ctx.Err()
	}
}

func (ix *Indexer) run(ctx context.Context, uri string) (Outcome, error) {
	select {
	case res := <-ix.request(uri):
		return res.Val.(Outcome), res.Err
	case <-ctx.Done():
		return OutcomeFailed, ctx.Err()
	}
}

// request asks for a computation of uri that starts after this call. A
// request made while a computation is running joins it, and the running
// computation repeats until no request is left unobserved. The result is
// that of the last repetition.
func (ix *Indexer) request(uri string) <-chan singleflight.Result {
	ix.mu.Lock()
	ix.requested[uri]++
	ix.mu.Unlock()

	// the shared run is bound to the indexer, not to the caller
	return ix.group.DoChan(uri, func() (any, error) {
		for {
			ix.mu.Lock()
			seen := ix.requested[uri]
			ix.mu.Unlock()

			outcome, err := ix.compute(ix.ctx, uri)

			ix.mu.Lock()
			if ix.requested[uri] == seen || ix.ctx.Err() != nil {
				delete(ix.requested, uri)
				ix.group.Forget(uri)
				ix.mu.Unlock()
				return outcome, err
			}
			ix.mu.Unlock()
			log.Debugf("%s changed during recomputation, running again", uri)
		}
	})
}

func (ix *Indexer) compute(ctx context.Context, uri string) (outcome Outcome, err error) {
	ix.mu.Lock()
	t, ok := ix.tracked[uri]
	var p *project.Project
	if ok {
		p = t.project
	}
	ix.mu.Unlock()
	if !ok {
		return OutcomeDiscarded, nil
	}

	select {
	case ix.sem <- struct{}{}:
	case <-ctx.Done():
		return OutcomeFailed, ctx.Err()
	}
	start := time.Now()
	defer func() {
		recordCompute(ctx, outcome, time.Since(start))
	}()

	modules, err := ix.export(ctx, p)
	<-ix.sem
	if err != nil {
		return OutcomeFailed, err
	}
	if modules == nil {
		log.Debugf("no entry points in %s", p)
		return OutcomeNoMetadata, nil
	}

	next := NewSnapshot(uri, modules)

	ix.mu.Lock()
	if _, ok := ix.tracked[uri]; !ok {
		ix.mu.Unlock()
		log.Infof("%s was removed during recomputation, discarding result", uri)
		return OutcomeDiscarded, nil
	}
	ix.snapMu.Lock()
	prev := ix.snapshots[uri]
	changed := !prev.Equal(next)
	if changed {
		ix.snapshots[uri] = next
	}
	ix.snapMu.Unlock()
	ix.mu.Unlock()

	if !changed {
		log.Debugf("architecture of %s unchanged", p)
		return OutcomeUnchanged, nil
	}

	log.Infof("installed architecture snapshot of %s (%d modules)", p, len(next.Modules))
	if ix.store != nil {
		if err := ix.store.SaveSnapshot(ctx, next); err != nil {
			log.Warningf("persist snapshot of %s: %v", uri, err)
		}
	}
	ix.bus.Publish(SnapshotChange{ProjectURI: uri, Snapshot: next})
	ix.revalidate(ctx, p)
	return OutcomeUpdated, nil
}

// export runs the exporter for every root package concurrently. A failed
// package is dropped; an error is returned only when every package failed.
// A nil result without error means there were no entry points.
func (ix *Indexer) export(ctx context.Context, p *project.Project) ([]Module, error) {
	roots, err := ix.symbols.EntryPointPackages(ctx, p, ix.annotations)
	if err != nil {
		return nil, err
	}
	if len(roots) == 0 {
		return nil, nil
	}

	results := make([][]Module, len(roots))
	errs := make([]error, len(roots))
	var failed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	for i, root := range roots {
		g.Go(func() error {
			mods, err := ix.exporter.Export(gctx, p, root)
			if err != nil {
				failed.Add(1)
				errs[i] = err
				recordExportFailure(ctx)
				log.Errorf("export %s of %s: %v", root, p, err)
				return nil
			}
			results[i] = mods
			return nil
		})
	}
	_ = g.Wait()

	if int(failed.Load()) == len(roots) {
		return nil, errors.Join(errs...)
	}
	modules := []Module{}
	for _, mods := range results {
		modules = append(modules, mods...)
	}
	return modules, nil
}

// revalidate reconciles open documents of p and refreshes closed ones.
func (ix *Indexer) revalidate(ctx context.Context, p *project.Project) {
	if ix.symbols == nil {
		return
	}
	var closed []string
	for _, path := range ix.symbols.SourceFiles(p) {
		uri := project.PathToURI(path)
		if ix.documents != nil && ix.documents.IsOpen(uri) {
			if ix.validator != nil {
				ix.validator.Validate(ctx, uri)
			}
			continue
		}
		closed = append(closed, path)
	}
	if len(closed) > 0 {
		ix.symbols.Refresh(ctx, closed...)
	}
}

// Dispose stops timers, closes watches and cancels running exports.
func (ix *Indexer) Dispose() {
	ix.mu.Lock()
	if ix.disposed {
		ix.mu.Unlock()
		return
	}
	ix.disposed = true
	for uri := range ix.pending {
		ix.cancelPendingLocked(uri)
	}
	var watches []Watch
	for _, t := range ix.tracked {
		if t.watch != nil {
			watches = append(watches, t.watch)
		}
	}
	ix.mu.Unlock()

	ix.projects.RemoveListener(ix.listener)
	for _, w := range watches {
		w.Close()
	}
	ix.cancel()
}
