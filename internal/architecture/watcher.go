package architecture

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

type FileOp int

const (
	FileCreated FileOp = iota + 1
	FileChanged
	FileDeleted
)

func (op FileOp) String() string {
	switch op {
	case FileCreated:
		return "created"
	case FileChanged:
		return "changed"
	case FileDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Watch is a live file subscription.
type Watch interface {
	Close() error
}

// WatchFunc subscribes to changes below dirs. Directories that do not exist
// yet are picked up once they are created.
type WatchFunc func(dirs []string, onChange func(path string, op FileOp)) (Watch, error)

// FSWatch is the fsnotify backed WatchFunc.
func FSWatch(dirs []string, onChange func(path string, op FileOp)) (Watch, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	fw := &fsWatch{
		watcher:  w,
		targets:  cleanAll(dirs),
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, dir := range fw.targets {
		fw.attach(dir)
	}
	go fw.loop()
	return fw, nil
}

type fsWatch struct {
	watcher  *fsnotify.Watcher
	targets  []string
	onChange func(string, FileOp)

	done      chan struct{}
	closeOnce sync.Once
}

func cleanAll(dirs []string) []string {
	out := make([]string, 0, len(dirs))
	for _, d := range dirs {
		out = append(out, filepath.Clean(d))
	}
	return out
}

// attach watches dir recursively, or its nearest existing ancestor when it
// does not exist yet.
func (w *fsWatch) attach(dir string) {
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		w.addRecursive(dir)
		return
	}
	for parent := filepath.Dir(dir); parent != dir; dir, parent = parent, filepath.Dir(parent) {
		if info, err := os.Stat(parent); err == nil && info.IsDir() {
			if err := w.watcher.Add(parent); err != nil {
				log.Debugf("watch %s: %v", parent, err)
			}
			return
		}
	}
}

func (w *fsWatch) addRecursive(root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if err := w.watcher.Add(path); err != nil {
			log.Debugf("watch %s: %v", path, err)
		}
		return nil
	})
}

func (w *fsWatch) inTarget(path string) bool {
	for _, t := range w.targets {
		if path == t || strings.HasPrefix(path, t+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (w *fsWatch) onTargetPath(path string) bool {
	for _, t := range w.targets {
		if strings.HasPrefix(t, path+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (w *fsWatch) loop() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warningf("file watch: %v", err)
		}
	}
}

func (w *fsWatch) handle(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			switch {
			case w.inTarget(path):
				w.addRecursive(path)
				w.emitTree(path)
				return
			case w.onTargetPath(path):
				for _, t := range w.targets {
					if strings.HasPrefix(t, path+string(filepath.Separator)) {
						w.attach(t)
						w.emitTree(t)
					}
				}
				return
			}
		}
	}
	if !w.inTarget(path) {
		return
	}

	switch {
	case ev.Has(fsnotify.Create):
		w.onChange(path, FileCreated)
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.onChange(path, FileDeleted)
	case ev.Has(fsnotify.Write):
		w.onChange(path, FileChanged)
	}
}

// emitTree reports files that appeared together with a new directory.
func (w *fsWatch) emitTree(root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			w.onChange(path, FileCreated)
		}
		return nil
	})
}

func (w *fsWatch) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
	})
	return err
}
