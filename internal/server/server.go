package server

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"springls/internal/architecture"
	"springls/internal/buildfile"
	"springls/internal/config"
	"springls/internal/dispatch"
	"springls/internal/documents"
	"springls/internal/graph"
	"springls/internal/project"
	"springls/internal/store"
	"springls/internal/symbols"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"
)

var log = commonlog.GetLogger("springls.server")

const Name = "springls"

const (
	methodInlayHint        = "textDocument/inlayHint"
	methodClasspathChanged = "springls/classpathChanged"
	// methodArchitectureRefreshed reports the outcome of a refresh command.
	methodArchitectureRefreshed = "springls/architectureRefreshed"
)

// Server holds the language server state shared by the handlers.
// Everything below handler is built by initialize.
type Server struct {
	version string
	base    config.Config
	handler *protocol.Handler

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	cfg     config.Config
	notify  glsp.NotifyFunc
	call    glsp.CallFunc
	folders []string
	ready   chan struct{}
	readyOn sync.Once

	docs       *documents.Manager
	dispatcher *dispatch.Dispatcher
	index      *symbols.Index
	store      *store.Store
	classpath  *clientClasspath
	listening  *project.Toggle
	projects   *project.Service
	indexer    *architecture.Indexer
	viewer     *graph.Viewer
	graphOnce  sync.Once

	fallbackMu sync.Mutex
	fallback   *buildfile.Scanner

	listenerMu sync.Mutex
	listenerID string
}

// New returns a server whose configuration starts from base. Client
// initializationOptions are merged over it on initialize.
func New(base config.Config, version string) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		version: version,
		base:    base,
		cfg:     base,
		ctx:     ctx,
		cancel:  cancel,
		ready:   make(chan struct{}),
		viewer:  graph.NewViewer(),
	}
	s.handler = &protocol.Handler{
		Initialize:                     s.initialize,
		Initialized:                    s.initialized,
		Shutdown:                       s.shutdown,
		SetTrace:                       s.setTrace,
		TextDocumentDidOpen:            s.textDocumentDidOpen,
		TextDocumentDidChange:          s.textDocumentDidChange,
		TextDocumentDidSave:            s.textDocumentDidSave,
		TextDocumentDidClose:           s.textDocumentDidClose,
		TextDocumentHover:              s.textDocumentHover,
		TextDocumentCodeAction:         s.textDocumentCodeAction,
		TextDocumentCodeLens:           s.textDocumentCodeLens,
		TextDocumentDocumentSymbol:     s.textDocumentDocumentSymbol,
		TextDocumentSemanticTokensFull: s.textDocumentSemanticTokensFull,
		WorkspaceDidChangeWatchedFiles: s.workspaceDidChangeWatchedFiles,
		WorkspaceExecuteCommand:        s.workspaceExecuteCommand,
	}
	return s
}

// RunStdio serves the protocol on stdin/stdout until the client exits.
func (s *Server) RunStdio() error {
	return glspserver.NewServer(s, Name, false).RunStdio()
}

// Handle routes the requests the 3.16 handler does not know and delegates
// everything else to it.
func (s *Server) Handle(context *glsp.Context) (r any, validMethod bool, validParams bool, err error) {
	switch {
	case context.Method == methodInlayHint:
		if !s.handler.IsInitialized() {
			return nil, true, true, errNotInitialized
		}
		var params dispatch.InlayHintParams
		if err := json.Unmarshal(context.Params, &params); err != nil {
			return nil, true, false, err
		}
		r, err := s.textDocumentInlayHint(context, &params)
		return r, true, true, err

	case context.Method == methodClasspathChanged:
		var params classpathChangedParams
		if err := json.Unmarshal(context.Params, &params); err != nil {
			return nil, true, false, err
		}
		return nil, true, true, s.classpathChanged(&params)

	case strings.HasPrefix(context.Method, "$/"):
		return nil, true, true, nil
	}
	return s.handler.Handle(context)
}

func (s *Server) settings() config.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// client returns the functions to reach the client outside of a handler.
func (s *Server) client() (glsp.NotifyFunc, glsp.CallFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notify, s.call
}

func (s *Server) document(uri string) (*documents.Document, bool) {
	if s.docs == nil {
		return nil, false
	}
	return s.docs.Get(project.NormalizeURI(uri))
}
