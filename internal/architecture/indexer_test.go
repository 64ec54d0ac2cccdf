package architecture_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"springls/internal/architecture"
	"springls/internal/event"
	"springls/internal/project"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const debounce = 30 * time.Millisecond

type fakeSymbols struct {
	mu        sync.Mutex
	roots     map[string][]string
	files     map[string][]string
	refreshed []string
	forgotten []string
}

func newFakeSymbols() *fakeSymbols {
	return &fakeSymbols{roots: map[string][]string{}, files: map[string][]string{}}
}

func (f *fakeSymbols) EntryPointPackages(_ context.Context, p *project.Project, _ []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.roots[p.URI()], nil
}

func (f *fakeSymbols) SourceFiles(p *project.Project) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.files[p.URI()]
}

func (f *fakeSymbols) Refresh(_ context.Context, paths ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed = append(f.refreshed, paths...)
}

func (f *fakeSymbols) Forget(p *project.Project) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgotten = append(f.forgotten, p.URI())
}

func (f *fakeSymbols) refreshCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.refreshed)
}

type fakeExporter struct {
	mu      sync.Mutex
	calls   atomic.Int32
	modules map[string][]architecture.Module
	fail    map[string]bool
	gate    chan struct{}
}

func newFakeExporter() *fakeExporter {
	return &fakeExporter{modules: map[string][]architecture.Module{}, fail: map[string]bool{}}
}

func (e *fakeExporter) set(root string, mods ...architecture.Module) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.modules[root] = mods
}

func (e *fakeExporter) setFail(root string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fail[root] = true
}

func (e *fakeExporter) Export(ctx context.Context, _ *project.Project, root string) ([]architecture.Module, error) {
	e.calls.Add(1)
	e.mu.Lock()
	gate, fail, mods := e.gate, e.fail[root], e.modules[root]
	e.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if fail {
		return nil, &architecture.ExportError{RootPackage: root, ExitCode: 1, Stderr: "boom"}
	}
	return mods, nil
}

type fakeWatch struct {
	dirs     []string
	onChange func(string, architecture.FileOp)
	closed   atomic.Bool
}

func (w *fakeWatch) Close() error {
	w.closed.Store(true)
	return nil
}

type watches struct {
	mu  sync.Mutex
	all []*fakeWatch
}

func (ws *watches) watch(dirs []string, onChange func(string, architecture.FileOp)) (architecture.Watch, error) {
	w := &fakeWatch{dirs: dirs, onChange: onChange}
	ws.mu.Lock()
	ws.all = append(ws.all, w)
	ws.mu.Unlock()
	return w, nil
}

func (ws *watches) last() *fakeWatch {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if len(ws.all) == 0 {
		return nil
	}
	return ws.all[len(ws.all)-1]
}

type openDocs struct {
	open      map[string]bool
	mu        sync.Mutex
	validated []string
}

func (d *openDocs) IsOpen(uri string) bool { return d.open[uri] }

func (d *openDocs) Validate(_ context.Context, uri string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.validated = append(d.validated, uri)
}

func (d *openDocs) validatedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.validated)
}

func eventFunc(fn func(architecture.SnapshotChange)) event.Listener[architecture.SnapshotChange] {
	return event.Func(fn)
}

type fixture struct {
	cache    *project.ClasspathCache
	symbols  *fakeSymbols
	exporter *fakeExporter
	watches  *watches
	docs     *openDocs
	indexer  *architecture.Indexer
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		cache:    project.NewClasspathCache(),
		symbols:  newFakeSymbols(),
		exporter: newFakeExporter(),
		watches:  &watches{},
		docs:     &openDocs{open: map[string]bool{}},
	}
	f.indexer = architecture.NewIndexer(f.cache, f.exporter, f.symbols,
		architecture.WithDebounce(debounce),
		architecture.WithWatchFunc(f.watches.watch),
		architecture.WithDocuments(f.docs, f.docs),
	)
	t.Cleanup(f.indexer.Dispose)
	return f
}

func modulithProject(location string, extra ...project.EntryData) project.ClasspathEvent {
	entries := append([]project.EntryData{
		{Kind: "source", Path: location + "/src/main/java", OutputFolder: location + "/target/classes"},
		{Kind: "source", Path: location + "/src/test/java", OutputFolder: location + "/target/test-classes", Test: true},
		{Kind: "binary", Path: "/m2/spring-modulith-core-1.2.0.jar"},
	}, extra...)
	return project.ClasspathEvent{Location: location, Classpath: &project.ClasspathData{Entries: entries}}
}

func plainProject(location string) project.ClasspathEvent {
	return project.ClasspathEvent{Location: location, Classpath: &project.ClasspathData{Entries: []project.EntryData{
		{Kind: "source", Path: location + "/src/main/java", OutputFolder: location + "/target/classes"},
		{Kind: "binary", Path: "/m2/spring-modulith-core-1.2.0.jar", Test: true},
	}}}
}

func orders() architecture.Module {
	return architecture.Module{
		Name:            "orders",
		BasePackage:     "com.acme.app.orders",
		NamedInterfaces: map[string][]string{"api": {"com.acme.app.orders.OrderService"}},
	}
}

func TestScenarioClassArtifactProducesModule(t *testing.T) {
	f := newFixture(t)
	f.symbols.roots["file:///ws/p1"] = []string{"com.acme.app"}

	require.NoError(t, f.cache.Apply(modulithProject("/ws/p1")))
	w := f.watches.last()
	require.NotNil(t, w)
	assert.Equal(t, []string{"/ws/p1/target/classes"}, w.dirs, "only non-test output folders are watched")

	f.exporter.set("com.acme.app", orders())
	w.onChange("/ws/p1/target/classes/com/acme/app/orders/Order.class", architecture.FileCreated)

	require.Eventually(t, func() bool {
		s, ok := f.indexer.ModulesData("file:///ws/p1")
		if !ok {
			return false
		}
		m, ok := s.Module("orders")
		return ok && m.BasePackage == "com.acme.app.orders"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestScenarioDeleteDisposesWatches(t *testing.T) {
	f := newFixture(t)
	f.symbols.roots["file:///ws/p1"] = []string{"com.acme.app"}
	f.exporter.set("com.acme.app", orders())

	var changes []architecture.SnapshotChange
	var mu sync.Mutex
	f.indexer.AddListener(eventFunc(func(c architecture.SnapshotChange) {
		mu.Lock()
		changes = append(changes, c)
		mu.Unlock()
	}))

	require.NoError(t, f.cache.Apply(modulithProject("/ws/p1")))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(changes) == 1
	}, 2*time.Second, 5*time.Millisecond)
	w := f.watches.last()

	require.NoError(t, f.cache.Apply(project.ClasspathEvent{Location: "/ws/p1", Deleted: true}))

	_, ok := f.cache.Find("file:///ws/p1/src/main/java/A.java")
	assert.False(t, ok)
	assert.True(t, w.closed.Load())
	_, ok = f.indexer.ModulesData("file:///ws/p1")
	assert.False(t, ok)
	assert.Empty(t, f.indexer.Projects())
	assert.Equal(t, []string{"file:///ws/p1"}, f.symbols.forgotten)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, changes, 2)
	assert.NotNil(t, changes[0].Snapshot)
	assert.Nil(t, changes[1].Snapshot)
}

func TestTriggersWithinDebounceCoalesce(t *testing.T) {
	f := newFixture(t)
	f.symbols.roots["file:///ws/p1"] = []string{"com.acme.app"}

	require.NoError(t, f.cache.Apply(modulithProject("/ws/p1")))
	w := f.watches.last()
	for i := 0; i < 10; i++ {
		w.onChange("/ws/p1/target/classes/com/acme/app/A.class", architecture.FileChanged)
	}
	f.exporter.set("com.acme.app", orders())
	w.onChange("/ws/p1/target/classes/com/acme/app/B.class", architecture.FileChanged)

	require.Eventually(t, func() bool {
		_, ok := f.indexer.ModulesData("file:///ws/p1")
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(3 * debounce)

	assert.EqualValues(t, 1, f.exporter.calls.Load())
	s, _ := f.indexer.ModulesData("file:///ws/p1")
	assert.Len(t, s.Modules, 1, "the run reflects the latest state")
}

// gatedExporter blocks its first call until release is closed and answers
// every call with the modules current at the time of the call.
type gatedExporter struct {
	calls   atomic.Int32
	release chan struct{}

	mu      sync.Mutex
	modules []architecture.Module
}

func (e *gatedExporter) set(mods ...architecture.Module) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.modules = mods
}

func (e *gatedExporter) Export(ctx context.Context, _ *project.Project, _ string) ([]architecture.Module, error) {
	e.mu.Lock()
	mods := e.modules
	e.mu.Unlock()
	if e.calls.Add(1) == 1 {
		select {
		case <-e.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return mods, nil
}

func newGatedIndexer(t *testing.T) (*project.ClasspathCache, *gatedExporter, *watches, *architecture.Indexer) {
	cache := project.NewClasspathCache()
	symbols := newFakeSymbols()
	symbols.roots["file:///ws/p1"] = []string{"com.acme.app"}
	exporter := &gatedExporter{release: make(chan struct{})}
	exporter.set(architecture.Module{Name: "old", BasePackage: "com.acme.app.old"})
	ws := &watches{}
	ix := architecture.NewIndexer(cache, exporter, symbols,
		architecture.WithDebounce(debounce),
		architecture.WithWatchFunc(ws.watch),
	)
	t.Cleanup(ix.Dispose)
	return cache, exporter, ws, ix
}

func TestTriggerDuringRunIsNotLost(t *testing.T) {
	cache, exporter, ws, ix := newGatedIndexer(t)

	require.NoError(t, cache.Apply(modulithProject("/ws/p1")))
	require.Eventually(t, func() bool { return exporter.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	exporter.set(orders())
	ws.last().onChange("/ws/p1/target/classes/com/acme/app/orders/OrderService.class", architecture.FileChanged)
	time.Sleep(4 * debounce)
	close(exporter.release)

	require.Eventually(t, func() bool {
		s, ok := ix.ModulesData("file:///ws/p1")
		return ok && len(s.Modules) == 1 && s.Modules[0].Name == "orders"
	}, 2*time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 2, exporter.calls.Load())
}

func TestRefreshDuringRunRecomputes(t *testing.T) {
	cache, exporter, _, ix := newGatedIndexer(t)

	require.NoError(t, cache.Apply(modulithProject("/ws/p1")))
	require.Eventually(t, func() bool { return exporter.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	exporter.set(orders())
	done := make(chan architecture.Outcome, 1)
	go func() {
		outcome, err := ix.Refresh(context.Background(), "file:///ws/p1")
		assert.NoError(t, err)
		done <- outcome
	}()
	time.Sleep(2 * debounce)
	close(exporter.release)

	select {
	case outcome := <-done:
		assert.Equal(t, architecture.OutcomeUpdated, outcome)
	case <-time.After(2 * time.Second):
		t.Fatal("refresh did not return")
	}
	s, ok := ix.ModulesData("file:///ws/p1")
	require.True(t, ok)
	require.Len(t, s.Modules, 1)
	assert.Equal(t, "orders", s.Modules[0].Name)
}

func TestIrrelevantFilesDoNotTrigger(t *testing.T) {
	f := newFixture(t)
	f.symbols.roots["file:///ws/p1"] = []string{"com.acme.app"}
	require.NoError(t, f.cache.Apply(modulithProject("/ws/p1")))
	_, err := f.indexer.Refresh(context.Background(), "file:///ws/p1")
	require.NoError(t, err)
	before := f.exporter.calls.Load()

	f.indexer.FileChanged("/ws/p1/target/test-classes/com/acme/ATest.class", architecture.FileChanged)
	f.indexer.FileChanged("/ws/p1/target/classes/application.properties", architecture.FileChanged)
	f.indexer.FileChanged("/ws/other/target/classes/A.class", architecture.FileChanged)
	time.Sleep(4 * debounce)
	assert.Equal(t, before, f.exporter.calls.Load())

	f.indexer.FileChanged("/ws/p1/src/main/java/com/acme/app/orders/package-info.java", architecture.FileChanged)
	assert.Eventually(t, func() bool { return f.exporter.calls.Load() > before }, 2*time.Second, 5*time.Millisecond)
}

func TestUnchangedSnapshotSkipsRevalidation(t *testing.T) {
	f := newFixture(t)
	f.symbols.roots["file:///ws/p1"] = []string{"com.acme.app"}
	f.symbols.files["file:///ws/p1"] = []string{"/ws/p1/src/main/java/A.java", "/ws/p1/src/main/java/B.java"}
	f.docs.open["file:///ws/p1/src/main/java/A.java"] = true
	f.exporter.set("com.acme.app", orders())

	require.NoError(t, f.cache.Apply(modulithProject("/ws/p1")))

	var notified atomic.Int32
	f.indexer.AddListener(eventFunc(func(architecture.SnapshotChange) { notified.Add(1) }))

	out, err := f.indexer.Refresh(context.Background(), "file:///ws/p1/src/main/java/A.java")
	require.NoError(t, err)
	assert.Equal(t, architecture.OutcomeUpdated, out)
	assert.EqualValues(t, 1, notified.Load())
	assert.Equal(t, 1, f.docs.validatedCount(), "open document reconciled")
	assert.Equal(t, 1, f.symbols.refreshCount(), "closed document refreshed")

	out, err = f.indexer.Refresh(context.Background(), "file:///ws/p1")
	require.NoError(t, err)
	assert.Equal(t, architecture.OutcomeUnchanged, out)
	assert.EqualValues(t, 1, notified.Load())
	assert.Equal(t, 1, f.docs.validatedCount())
	assert.Equal(t, 1, f.symbols.refreshCount())
}

func TestPartialExportFailureDropsContribution(t *testing.T) {
	f := newFixture(t)
	f.symbols.roots["file:///ws/p1"] = []string{"com.acme.a", "com.acme.b"}
	f.exporter.set("com.acme.a", architecture.Module{Name: "a", BasePackage: "com.acme.a.x"})
	f.exporter.setFail("com.acme.b")

	require.NoError(t, f.cache.Apply(modulithProject("/ws/p1")))
	out, err := f.indexer.Refresh(context.Background(), "file:///ws/p1")
	require.NoError(t, err)
	assert.Equal(t, architecture.OutcomeUpdated, out)

	s, ok := f.indexer.ModulesData("file:///ws/p1")
	require.True(t, ok)
	require.Len(t, s.Modules, 1)
	assert.Equal(t, "a", s.Modules[0].Name)

	f.exporter.setFail("com.acme.a")
	out, err = f.indexer.Refresh(context.Background(), "file:///ws/p1")
	assert.Equal(t, architecture.OutcomeFailed, out)
	var exportErr *architecture.ExportError
	require.True(t, errors.As(err, &exportErr))
	assert.Equal(t, 1, exportErr.ExitCode)

	s2, _ := f.indexer.ModulesData("file:///ws/p1")
	assert.Same(t, s, s2, "stale snapshot retained")
}

func TestNoEntryPointsIsNotAnError(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.cache.Apply(modulithProject("/ws/p1")))

	out, err := f.indexer.Refresh(context.Background(), "file:///ws/p1")
	require.NoError(t, err)
	assert.Equal(t, architecture.OutcomeNoMetadata, out)
	_, ok := f.indexer.ModulesData("file:///ws/p1")
	assert.False(t, ok)
	assert.EqualValues(t, 0, f.exporter.calls.Load())
}

func TestRefreshRejectsUnknownAndPlainProjects(t *testing.T) {
	f := newFixture(t)
	_, err := f.indexer.Refresh(context.Background(), "file:///nowhere")
	assert.ErrorIs(t, err, architecture.ErrUnknownProject)

	require.NoError(t, f.cache.Apply(plainProject("/ws/plain")))
	_, err = f.indexer.Refresh(context.Background(), "file:///ws/plain")
	assert.ErrorIs(t, err, architecture.ErrNotApplicable)
	assert.Nil(t, f.watches.last(), "test-only dependency does not qualify")
}

func TestWatchFollowsPredicate(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.cache.Apply(modulithProject("/ws/p1")))
	first := f.watches.last()
	require.NotNil(t, first)

	require.NoError(t, f.cache.Apply(plainProject("/ws/p1")))
	assert.True(t, first.closed.Load())
	assert.Empty(t, f.indexer.Projects())

	require.NoError(t, f.cache.Apply(modulithProject("/ws/p1")))
	second := f.watches.last()
	assert.NotSame(t, first, second)
	assert.False(t, second.closed.Load())
	assert.Len(t, f.indexer.Projects(), 1)
}

func TestResultDiscardedWhenProjectDeletedDuringRun(t *testing.T) {
	f := newFixture(t)
	f.symbols.roots["file:///ws/p1"] = []string{"com.acme.app"}
	f.exporter.set("com.acme.app", orders())
	gate := make(chan struct{})
	f.exporter.gate = gate

	require.NoError(t, f.cache.Apply(modulithProject("/ws/p1")))
	require.Eventually(t, func() bool { return f.exporter.calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, f.cache.Apply(project.ClasspathEvent{Location: "/ws/p1", Deleted: true}))
	close(gate)
	time.Sleep(3 * debounce)

	_, ok := f.indexer.ModulesData("file:///ws/p1")
	assert.False(t, ok)
}

func TestConcurrencyIsBounded(t *testing.T) {
	cache := project.NewClasspathCache()
	symbols := newFakeSymbols()
	var running, peak atomic.Int32
	exporter := exporterFunc(func(ctx context.Context, p *project.Project, root string) ([]architecture.Module, error) {
		n := running.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return []architecture.Module{{Name: "m", BasePackage: root + ".m"}}, nil
	})
	ix := architecture.NewIndexer(cache, exporter, symbols,
		architecture.WithDebounce(time.Millisecond),
		architecture.WithMaxConcurrent(1),
		architecture.WithWatchFunc(nil),
	)
	defer ix.Dispose()

	locations := []string{"/ws/a", "/ws/b", "/ws/c"}
	for _, loc := range locations {
		symbols.roots[project.NormalizeURI(loc)] = []string{"com." + loc[4:]}
	}
	for _, loc := range locations {
		require.NoError(t, cache.Apply(modulithProject(loc)))
	}
	require.Eventually(t, func() bool {
		for _, info := range ix.Projects() {
			if !info.Indexed {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 1, peak.Load())
}

func TestLoadWarmStart(t *testing.T) {
	cache := project.NewClasspathCache()
	store := &memStore{snaps: []*architecture.Snapshot{architecture.NewSnapshot("file:///ws/p1", []architecture.Module{orders()})}}
	ix := architecture.NewIndexer(cache, newFakeExporter(), newFakeSymbols(),
		architecture.WithStore(store), architecture.WithWatchFunc(nil))
	defer ix.Dispose()

	require.NoError(t, ix.Load(context.Background()))
	s, ok := ix.ModulesData("file:///ws/p1")
	require.True(t, ok)
	assert.Equal(t, "orders", s.Modules[0].Name)
}

type exporterFunc func(ctx context.Context, p *project.Project, root string) ([]architecture.Module, error)

func (f exporterFunc) Export(ctx context.Context, p *project.Project, root string) ([]architecture.Module, error) {
	return f(ctx, p, root)
}

type memStore struct {
	mu    sync.Mutex
	snaps []*architecture.Snapshot
}

func (m *memStore) LoadSnapshots(context.Context) ([]*architecture.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snaps, nil
}

func (m *memStore) SaveSnapshot(_ context.Context, s *architecture.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps = append(m.snaps, s)
	return nil
}

func (m *memStore) DeleteSnapshot(context.Context, string) error { return nil }
