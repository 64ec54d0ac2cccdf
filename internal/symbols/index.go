package symbols

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"springls/internal/project"

	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"
)

var log = commonlog.GetLogger("springls.symbols")

// Index holds the outline of every indexed Java file, keyed by path.
type Index struct {
	pool *Pool

	mu       sync.RWMutex
	files    map[string]*File
	projects map[string]bool
}

func NewIndex(pool *Pool) *Index {
	return &Index{
		pool:     pool,
		files:    make(map[string]*File),
		projects: make(map[string]bool),
	}
}

func (ix *Index) Pool() *Pool { return ix.pool }

// Update parses src as the current content of path and stores the result.
func (ix *Index) Update(ctx context.Context, path string, src []byte) (*File, error) {
	f, err := ix.pool.Parse(ctx, path, src)
	if err != nil {
		return nil, err
	}
	ix.mu.Lock()
	ix.files[path] = f
	ix.mu.Unlock()
	return f, nil
}

// Refresh re-reads paths from disk. Files that no longer exist are dropped.
func (ix *Index) Refresh(ctx context.Context, paths ...string) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, path := range paths {
		g.Go(func() error {
			src, err := os.ReadFile(path)
			if err != nil {
				if os.IsNotExist(err) {
					ix.Remove(path)
				} else {
					log.Warningf("read %s: %v", path, err)
				}
				return nil
			}
			if _, err := ix.Update(ctx, path, src); err != nil {
				log.Warningf("index %s: %v", path, err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (ix *Index) Remove(path string) {
	ix.mu.Lock()
	delete(ix.files, path)
	ix.mu.Unlock()
}

func (ix *Index) File(path string) (*File, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	f, ok := ix.files[path]
	return f, ok
}

// IndexProject parses every Java file under the project's source folders.
func (ix *Index) IndexProject(ctx context.Context, p *project.Project) error {
	var paths []string
	for _, dir := range p.SourceFolders(true) {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !d.IsDir() && strings.HasSuffix(path, ".java") {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	ix.Refresh(ctx, paths...)
	ix.mu.Lock()
	ix.projects[p.URI()] = true
	ix.mu.Unlock()
	log.Debugf("indexed %d files of %s", len(paths), p)
	return ctx.Err()
}

func (ix *Index) ensureProject(ctx context.Context, p *project.Project) error {
	ix.mu.RLock()
	done := ix.projects[p.URI()]
	ix.mu.RUnlock()
	if done {
		return nil
	}
	return ix.IndexProject(ctx, p)
}

// Forget drops every file of p from the index.
func (ix *Index) Forget(p *project.Project) {
	folders := p.SourceFolders(true)
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.projects, p.URI())
	for path := range ix.files {
		if under(path, folders) {
			delete(ix.files, path)
		}
	}
}

// SourceFiles lists the indexed files of p, sorted.
func (ix *Index) SourceFiles(p *project.Project) []string {
	folders := p.SourceFolders(true)
	ix.mu.RLock()
	var out []string
	for path := range ix.files {
		if under(path, folders) {
			out = append(out, path)
		}
	}
	ix.mu.RUnlock()
	sort.Strings(out)
	return out
}

// EntryPointPackages returns the sorted packages of main-code types carrying
// one of annotations. Annotations match by simple name.
func (ix *Index) EntryPointPackages(ctx context.Context, p *project.Project, annotations []string) ([]string, error) {
	if err := ix.ensureProject(ctx, p); err != nil {
		return nil, err
	}
	folders := p.SourceFolders(false)

	ix.mu.RLock()
	defer ix.mu.RUnlock()
	var out []string
	for path, f := range ix.files {
		if f.Package == "" || !under(path, folders) {
			continue
		}
		for _, t := range f.Types {
			if annotated(t, annotations) && !slices.Contains(out, f.Package) {
				out = append(out, f.Package)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func annotated(sym Symbol, annotations []string) bool {
	for _, a := range sym.Annotations {
		if i := strings.LastIndexByte(a, '.'); i >= 0 {
			a = a[i+1:]
		}
		if slices.Contains(annotations, a) {
			return true
		}
	}
	return false
}

func under(path string, folders []string) bool {
	for _, dir := range folders {
		if rel, err := filepath.Rel(dir, path); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
