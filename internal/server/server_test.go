package server_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"springls/internal/config"
	"springls/internal/project"
	"springls/internal/server"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

const pom = `<?xml version="1.0" encoding="UTF-8"?>
<project xmlns="http://maven.apache.org/POM/4.0.0">
  <groupId>com.acme</groupId>
  <artifactId>shop</artifactId>
</project>
`

const orderService = `package com.acme.orders;

public class OrderService {
    void place() {}
}
`

type message struct {
	Method string
	Params json.RawMessage
}

// fakeClient records what the server sends. When ack is set it accepts
// classpath listener registrations by echoing the callback id.
type fakeClient struct {
	ack bool

	mu            sync.Mutex
	notifications []message
	calls         []message
}

func (c *fakeClient) notify(method string, params any) {
	data, _ := json.Marshal(params)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifications = append(c.notifications, message{method, data})
}

func (c *fakeClient) call(method string, params any, result any) {
	data, _ := json.Marshal(params)
	c.mu.Lock()
	c.calls = append(c.calls, message{method, data})
	c.mu.Unlock()
	if method == "springls/addClasspathListener" && c.ack && result != nil {
		_ = json.Unmarshal(data, result)
	}
}

func (c *fakeClient) sent(method string, fromCalls bool) []message {
	c.mu.Lock()
	defer c.mu.Unlock()
	all := c.notifications
	if fromCalls {
		all = c.calls
	}
	var out []message
	for _, m := range all {
		if m.Method == method {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeClient) request(t *testing.T, s *server.Server, method string, params any) (any, error) {
	t.Helper()
	data, err := json.Marshal(params)
	require.NoError(t, err)
	r, validMethod, validParams, err := s.Handle(&glsp.Context{
		Method: method,
		Params: data,
		Notify: c.notify,
		Call:   c.call,
	})
	require.True(t, validMethod, method)
	require.True(t, validParams, method)
	return r, err
}

func start(t *testing.T, client *fakeClient, root string, timeout string, architecture ...map[string]any) *server.Server {
	t.Helper()
	s := server.New(config.Default(), "test")
	options := map[string]any{
		"state_dir": t.TempDir(),
		"projects":  map[string]any{"init_timeout": timeout},
	}
	if len(architecture) > 0 {
		options["architecture"] = architecture[0]
	}
	r, err := client.request(t, s, "initialize", map[string]any{
		"processId":             nil,
		"rootUri":               project.PathToURI(root),
		"initializationOptions": options,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = client.request(t, s, "shutdown", nil) })

	caps, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(caps), `"inlayHintProvider":true`)
	assert.Contains(t, string(caps), `"springls.refreshArchitecture"`)
	assert.Contains(t, string(caps), `"tokenTypes"`)

	_, err = client.request(t, s, "initialized", map[string]any{})
	require.NoError(t, err)
	return s
}

// listenerID waits for the classpath listener registration and returns its
// callback id.
func listenerID(t *testing.T, client *fakeClient) string {
	t.Helper()
	var id string
	require.Eventually(t, func() bool {
		calls := client.sent("springls/addClasspathListener", true)
		if len(calls) == 0 {
			return false
		}
		var p struct {
			CallbackID string `json:"callbackId"`
		}
		if err := json.Unmarshal(calls[0].Params, &p); err != nil {
			return false
		}
		id = p.CallbackID
		return true
	}, 2*time.Second, 10*time.Millisecond)
	require.NotEmpty(t, id)
	return id
}

func pushClasspath(t *testing.T, client *fakeClient, s *server.Server, callbackID, location, name string, extra ...map[string]any) {
	t.Helper()
	entries := append([]map[string]any{{
		"kind":         "source",
		"path":         filepath.Join(location, "src", "main", "java"),
		"outputFolder": filepath.Join(location, "target", "classes"),
	}}, extra...)
	_, err := client.request(t, s, "springls/classpathChanged", map[string]any{
		"callbackId": callbackID,
		"projectUri": project.PathToURI(location),
		"name":       name,
		"classpath":  map[string]any{"entries": entries},
	})
	require.NoError(t, err)
}

func TestRequestsBeforeInitializeFail(t *testing.T) {
	client := &fakeClient{}
	s := server.New(config.Default(), "test")
	_, err := client.request(t, s, "textDocument/inlayHint", map[string]any{
		"textDocument": map[string]any{"uri": "file:///ws/A.java"},
	})
	assert.Error(t, err)
}

func TestClasspathPushesFeedProjects(t *testing.T) {
	ws := t.TempDir()
	client := &fakeClient{ack: true}
	s := start(t, client, ws, "5s")

	id := listenerID(t, client)
	shop := filepath.Join(ws, "shop")
	push := func(callbackID, location, name string) {
		pushClasspath(t, client, s, callbackID, location, name)
	}
	push(id, shop, "shop")

	projects := server.ProjectSource(s)
	require.Eventually(t, func() bool {
		_, ok := projects.Find(project.PathToURI(shop))
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	other := filepath.Join(ws, "other")
	push("stale-listener", other, "other")
	_, ok := projects.Find(project.PathToURI(other))
	assert.False(t, ok)

	// open a document of the project
	uri := project.PathToURI(filepath.Join(shop, "src", "main", "java", "com", "acme", "orders", "OrderService.java"))
	_, err := client.request(t, s, "textDocument/didOpen", map[string]any{
		"textDocument": map[string]any{"uri": uri, "languageId": "java", "version": 1, "text": orderService},
	})
	require.NoError(t, err)

	published := client.sent("textDocument/publishDiagnostics", false)
	require.NotEmpty(t, published)
	var diags protocol.PublishDiagnosticsParams
	require.NoError(t, json.Unmarshal(published[len(published)-1].Params, &diags))
	assert.Equal(t, uri, diags.URI)
	assert.Empty(t, diags.Diagnostics)

	r, err := client.request(t, s, "textDocument/documentSymbol", map[string]any{
		"textDocument": map[string]any{"uri": uri},
	})
	require.NoError(t, err)
	symbols, ok := r.([]protocol.DocumentSymbol)
	require.True(t, ok)
	require.Len(t, symbols, 1)
	assert.Equal(t, "OrderService", symbols[0].Name)

	r, err = client.request(t, s, "textDocument/inlayHint", map[string]any{
		"textDocument": map[string]any{"uri": uri},
		"range":        map[string]any{"start": map[string]any{"line": 0, "character": 0}, "end": map[string]any{"line": 5, "character": 0}},
	})
	require.NoError(t, err)
	assert.NotNil(t, r)

	_, err = client.request(t, s, "textDocument/didClose", map[string]any{
		"textDocument": map[string]any{"uri": uri},
	})
	require.NoError(t, err)
	published = client.sent("textDocument/publishDiagnostics", false)
	assert.Contains(t, string(published[len(published)-1].Params), `"diagnostics":[]`)

	_, err = client.request(t, s, "workspace/executeCommand", map[string]any{
		"command": "springls.disableClasspathListening",
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(client.sent("springls/removeClasspathListener", true)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// pushes of the removed listener are dropped
	push(id, other, "other")
	_, ok = projects.Find(project.PathToURI(other))
	assert.False(t, ok)
}

func TestFallbackScansBuildFiles(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(ws, "shop"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(ws, "shop", "pom.xml"), []byte(pom), 0o644))

	client := &fakeClient{}
	s := start(t, client, ws, "200ms")

	projects := server.ProjectSource(s)
	var found *project.Project
	require.Eventually(t, func() bool {
		p, ok := projects.Find(project.PathToURI(filepath.Join(ws, "shop", "src", "main", "java", "A.java")))
		found = p
		return ok
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "shop", found.Name())

	_, err := client.request(t, s, "workspace/executeCommand", map[string]any{
		"command": "springls.enableClasspathListening",
	})
	assert.Error(t, err)

	r, err := client.request(t, s, "workspace/executeCommand", map[string]any{
		"command": "springls.listArchitectureProjects",
	})
	require.NoError(t, err)
	assert.NotNil(t, r)

	_, err = client.request(t, s, "workspace/executeCommand", map[string]any{
		"command":   "springls.refreshArchitecture",
		"arguments": []any{},
	})
	assert.Error(t, err)
}

const application = `package com.acme;

import org.springframework.boot.autoconfigure.SpringBootApplication;

@SpringBootApplication
public class Application {
}
`

func TestRefreshCommandDoesNotWaitForExport(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("exporter stand-in is a shell script")
	}
	ws := t.TempDir()
	shop := filepath.Join(ws, "shop")
	sources := filepath.Join(shop, "src", "main", "java", "com", "acme")
	require.NoError(t, os.MkdirAll(sources, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sources, "Application.java"), []byte(application), 0o644))

	exporter := filepath.Join(t.TempDir(), "exporter.sh")
	script := "#!/bin/sh\nsleep 1\nprintf '{\"orders\":{\"basePackage\":\"com.acme.orders\"}}' > \"$5\"\n"
	require.NoError(t, os.WriteFile(exporter, []byte(script), 0o755))

	client := &fakeClient{ack: true}
	s := start(t, client, ws, "5s", map[string]any{
		"runtime":  exporter,
		"debounce": "1m",
	})
	id := listenerID(t, client)
	pushClasspath(t, client, s, id, shop, "shop", map[string]any{
		"kind": "binary",
		"path": filepath.Join(ws, "m2", "spring-modulith-core-1.2.0.jar"),
	})
	projects := server.ProjectSource(s)
	require.Eventually(t, func() bool {
		_, ok := projects.Find(project.PathToURI(shop))
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	began := time.Now()
	r, err := client.request(t, s, "workspace/executeCommand", map[string]any{
		"command":   "springls.refreshArchitecture",
		"arguments": []any{project.PathToURI(shop)},
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(began), 500*time.Millisecond)
	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"outcome":"scheduled"`)

	var outcome struct {
		ProjectURI string `json:"projectUri"`
		Outcome    string `json:"outcome"`
	}
	require.Eventually(t, func() bool {
		sent := client.sent("springls/architectureRefreshed", false)
		if len(sent) == 0 {
			return false
		}
		return json.Unmarshal(sent[0].Params, &outcome) == nil
	}, 10*time.Second, 20*time.Millisecond)
	assert.Equal(t, project.NormalizeURI(project.PathToURI(shop)), outcome.ProjectURI)
	assert.Equal(t, "updated", outcome.Outcome)
}
