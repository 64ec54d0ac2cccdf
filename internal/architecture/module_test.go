package architecture_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"springls/internal/architecture"
	"springls/internal/project"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exported = `{
  "orders": {
    "basePackage": "com.acme.app.orders",
    "namedInterfaces": {"api": ["com.acme.app.orders.OrderService", "com.acme.app.orders.Order", "com.acme.app.orders.Order"]}
  },
  "inventory": {"basePackage": "com.acme.app.inventory", "namedInterfaces": {}}
}`

func TestParseExport(t *testing.T) {
	mods, err := architecture.ParseExport([]byte(exported))
	require.NoError(t, err)
	require.Len(t, mods, 2)

	assert.Equal(t, "inventory", mods[0].Name)
	assert.Nil(t, mods[0].NamedInterfaces)
	assert.Equal(t, "orders", mods[1].Name)
	assert.Equal(t, []string{"com.acme.app.orders.Order", "com.acme.app.orders.OrderService"}, mods[1].NamedInterfaces["api"])

	_, err = architecture.ParseExport([]byte(`[1,2]`))
	assert.ErrorIs(t, err, architecture.ErrInvalidExport)
	_, err = architecture.ParseExport([]byte(`{"x": {}}`))
	assert.ErrorIs(t, err, architecture.ErrInvalidExport)
}

func TestSnapshotEquality(t *testing.T) {
	a := architecture.NewSnapshot("file:///p", []architecture.Module{
		{Name: "b", BasePackage: "x.b"},
		{Name: "a", BasePackage: "x.a", NamedInterfaces: map[string][]string{"api": {"x.a.Z", "x.a.Y"}}},
	})
	b := architecture.NewSnapshot("file:///p", []architecture.Module{
		{Name: "a", BasePackage: "x.a", NamedInterfaces: map[string][]string{"api": {"x.a.Y", "x.a.Z"}}},
		{Name: "b", BasePackage: "x.b"},
	})
	assert.True(t, a.Equal(b), "module and member order do not matter")

	c := architecture.NewSnapshot("file:///p", []architecture.Module{
		{Name: "a", BasePackage: "x.a", NamedInterfaces: map[string][]string{"api": {"x.a.Y"}}},
		{Name: "b", BasePackage: "x.b"},
	})
	assert.False(t, a.Equal(c))

	var none *architecture.Snapshot
	assert.False(t, none.Equal(a))
	assert.True(t, none.Equal(nil))
}

func TestModuleLookup(t *testing.T) {
	s := architecture.NewSnapshot("file:///p", []architecture.Module{
		{Name: "orders", BasePackage: "com.acme.orders", NamedInterfaces: map[string][]string{"api": {"com.acme.orders.OrderService"}}},
		{Name: "orders.internal", BasePackage: "com.acme.orders.internal"},
	})

	m, ok := s.ModuleFor("com.acme.orders.internal.Repo")
	require.True(t, ok)
	assert.Equal(t, "orders.internal", m.Name)

	m, ok = s.ModuleFor("com.acme.orders.OrderService")
	require.True(t, ok)
	assert.True(t, m.Exposes("com.acme.orders.OrderService"))
	assert.False(t, m.Exposes("com.acme.orders.Order"))

	_, ok = s.ModuleFor("com.acme.ordersx.A")
	assert.False(t, ok)
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not executable on windows")
	}
	path := filepath.Join(t.TempDir(), "fake-java")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestProcessExporter(t *testing.T) {
	// arguments: -cp <classpath> <main> <rootPackage> <outFile>
	script := writeScript(t, `
[ "$1" = "-cp" ] || exit 3
[ "$3" = "org.example.Exporter" ] || exit 4
case "$2" in *spring-modulith-core.jar*) ;; *) exit 5 ;; esac
printf '{"%s": {"basePackage": "%s.orders", "namedInterfaces": {}}}' orders "$4" > "$5"
`)
	root := t.TempDir()
	p := project.New(root, "shop", project.Classpath{Entries: []project.ClasspathEntry{
		{Kind: project.KindSource, Path: filepath.Join(root, "src"), OutputFolder: filepath.Join(root, "classes")},
		{Kind: project.KindBinary, Path: "/m2/spring-modulith-core.jar"},
	}}, nil, nil)

	e := &architecture.ProcessExporter{Runtime: script, MainClass: "org.example.Exporter"}
	mods, err := e.Export(context.Background(), p, "com.acme.app")
	require.NoError(t, err)
	require.Len(t, mods, 1)
	assert.Equal(t, "com.acme.app.orders", mods[0].BasePackage)
}

func TestProcessExporterFailure(t *testing.T) {
	script := writeScript(t, "echo 'no main class' >&2\nexit 2\n")
	p := project.New(t.TempDir(), "shop", project.Classpath{}, nil, nil)

	e := &architecture.ProcessExporter{Runtime: script, MainClass: "x"}
	_, err := e.Export(context.Background(), p, "com.acme")

	var exportErr *architecture.ExportError
	require.True(t, errors.As(err, &exportErr))
	assert.Equal(t, 2, exportErr.ExitCode)
	assert.Equal(t, "no main class", exportErr.Stderr)
	assert.Equal(t, "com.acme", exportErr.RootPackage)
}

func TestProcessExporterInvalidOutput(t *testing.T) {
	script := writeScript(t, "echo 'not json' > \"$5\"\n")
	p := project.New(t.TempDir(), "shop", project.Classpath{}, nil, nil)

	e := &architecture.ProcessExporter{Runtime: script, MainClass: "x"}
	_, err := e.Export(context.Background(), p, "com.acme")
	assert.ErrorIs(t, err, architecture.ErrInvalidExport)
}

func TestFSWatchPicksUpLateOutputFolder(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "target", "classes")

	var mu sync.Mutex
	var seen []string
	w, err := architecture.FSWatch([]string{out}, func(path string, op architecture.FileOp) {
		mu.Lock()
		seen = append(seen, path)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.MkdirAll(out, 0o755))
	time.Sleep(50 * time.Millisecond)
	class := filepath.Join(out, "A.class")
	require.NoError(t, os.WriteFile(class, []byte{0xCA, 0xFE}, 0o644))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, p := range seen {
			if p == class {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}
