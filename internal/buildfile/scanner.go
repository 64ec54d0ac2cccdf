// Package buildfile is the fallback project source. It walks workspace
// folders for Maven and Gradle build files and derives a conventional
// classpath for each build unit it finds.
package buildfile

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"springls/internal/project"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("springls.buildfile")

var DefaultBuildFiles = []string{"pom.xml", "build.gradle", "build.gradle.kts"}

// Option configures a Scanner.
type Option func(*Scanner)

// WithBuildFiles sets the file names that mark a project root.
func WithBuildFiles(names ...string) Option {
	return func(s *Scanner) {
		if len(names) > 0 {
			s.buildFiles = slices.Clone(names)
		}
	}
}

// WithIgnoreDirs adds directory names that are never descended into.
func WithIgnoreDirs(names ...string) Option {
	return func(s *Scanner) {
		s.ignoreDirs = append(s.ignoreDirs, names...)
	}
}

// WithLocalRepository sets the Maven repository used to resolve declared
// dependencies. Defaults to ~/.m2/repository.
func WithLocalRepository(dir string) Option {
	return func(s *Scanner) {
		s.repository = dir
	}
}

// WithFolders sets the workspace folders Start scans.
func WithFolders(folders ...string) Option {
	return func(s *Scanner) {
		s.folders = append(s.folders, folders...)
	}
}

// Scanner discovers projects from build files. It implements project.Source
// through its embedded classpath cache.
type Scanner struct {
	*project.ClasspathCache

	buildFiles []string
	ignoreDirs []string
	repository string
	folders    []string

	startOnce sync.Once
	cancel    context.CancelFunc
	scanned   chan struct{}

	mu    sync.Mutex
	roots map[string]string // project dir -> build file
}

func NewScanner(opts ...Option) *Scanner {
	s := &Scanner{
		ClasspathCache: project.NewClasspathCache(),
		buildFiles:     slices.Clone(DefaultBuildFiles),
		roots:          make(map[string]string),
		cancel:         func() {},
		scanned:        make(chan struct{}),
	}
	if home, err := os.UserHomeDir(); err == nil {
		s.repository = filepath.Join(home, ".m2", "repository")
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start scans the configured folders in the background, once.
func (s *Scanner) Start() {
	s.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		s.mu.Lock()
		s.cancel = cancel
		s.mu.Unlock()
		go func() {
			defer close(s.scanned)
			s.Scan(ctx, s.folders...)
		}()
	})
}

// Scanned is closed when the scan begun by Start has finished.
func (s *Scanner) Scanned() <-chan struct{} {
	return s.scanned
}

// Dispose stops a running scan and removes every project.
func (s *Scanner) Dispose() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	cancel()
	s.ClasspathCache.Dispose()
}

// Scan walks every folder and applies one classpath event per build unit.
// It returns once all discovered projects are registered.
func (s *Scanner) Scan(ctx context.Context, folders ...string) {
	fileCh := make(chan string, 64)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for path := range fileCh {
			s.Refresh(path)
		}
	}()

	for _, folder := range folders {
		log.Infof("scanning %s for build files", folder)
		err := filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				log.Debugf("walk error: %v", err)
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if d.IsDir() {
				if path != folder && s.ignoreDir(d.Name()) {
					return fs.SkipDir
				}
				return nil
			}
			if s.IsBuildFile(path) {
				fileCh <- path
			}
			return nil
		})
		if err != nil {
			log.Warningf("scan of %s stopped: %v", folder, err)
		}
	}

	close(fileCh)
	wg.Wait()
}

func (s *Scanner) ignoreDir(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	return slices.Contains(s.ignoreDirs, name)
}

// IsBuildFile reports whether path names one of the configured build files.
func (s *Scanner) IsBuildFile(path string) bool {
	return slices.Contains(s.buildFiles, filepath.Base(path))
}

// Refresh re-reads one build file. A missing file deletes its project
// unless another build file still marks the same directory.
func (s *Scanner) Refresh(buildFile string) {
	dir := filepath.Dir(buildFile)

	data, err := os.ReadFile(buildFile)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warningf("read %s: %v", buildFile, err)
			return
		}
		s.mu.Lock()
		owner := s.roots[dir]
		if owner == buildFile {
			delete(s.roots, dir)
		}
		s.mu.Unlock()
		if owner != buildFile {
			return
		}
		if next, ok := s.remaining(dir); ok {
			log.Debugf("%s removed, %s now marks %s", buildFile, next, dir)
			s.Refresh(next)
			return
		}
		if err := s.Apply(project.ClasspathEvent{Location: dir, Deleted: true}); err != nil {
			log.Warningf("delete %s: %v", dir, err)
		}
		return
	}

	s.mu.Lock()
	owner, known := s.roots[dir]
	if known && owner != buildFile && s.preferred(owner, buildFile) {
		s.mu.Unlock()
		log.Debugf("%s shadowed by %s", buildFile, owner)
		return
	}
	s.roots[dir] = buildFile
	s.mu.Unlock()

	desc, err := s.describe(buildFile, data)
	if err != nil {
		log.Warningf("parse %s: %v", buildFile, err)
		return
	}
	if err := s.Apply(desc.event(dir, buildFile, s.repository)); err != nil {
		log.Warningf("apply %s: %v", buildFile, err)
	}
}

// remaining returns the highest ranked build file still present in dir.
func (s *Scanner) remaining(dir string) (string, bool) {
	for _, name := range s.buildFiles {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, true
		}
	}
	return "", false
}

// preferred reports whether a ranks before b in the build file list.
func (s *Scanner) preferred(a, b string) bool {
	return slices.Index(s.buildFiles, filepath.Base(a)) < slices.Index(s.buildFiles, filepath.Base(b))
}

func (s *Scanner) describe(buildFile string, data []byte) (descriptor, error) {
	switch filepath.Base(buildFile) {
	case "pom.xml":
		return parsePOM(data)
	default:
		return parseGradle(filepath.Base(buildFile), data), nil
	}
}
