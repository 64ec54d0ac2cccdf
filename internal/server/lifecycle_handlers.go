package server

import (
	"fmt"
	"net/url"
	"path/filepath"

	"springls/internal/architecture"
	"springls/internal/components"
	"springls/internal/config"
	"springls/internal/dispatch"
	"springls/internal/documents"
	"springls/internal/project"
	"springls/internal/store"
	"springls/internal/symbols"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

// serverCapabilities adds the capabilities protocol 3.16 has no field for.
type serverCapabilities struct {
	protocol.ServerCapabilities
	InlayHintProvider bool `json:"inlayHintProvider,omitempty"`
}

type initializeResult struct {
	Capabilities serverCapabilities                   `json:"capabilities"`
	ServerInfo   *protocol.InitializeResultServerInfo `json:"serverInfo,omitempty"`
}

func (s *Server) initialize(
	context *glsp.Context,
	params *protocol.InitializeParams,
) (any, error) {
	cfg, err := config.Load(s.base, params.InitializationOptions)
	if err != nil {
		return nil, err
	}
	log.Infof("config: %+v", cfg)

	folders := workspaceFolders(params)

	s.mu.Lock()
	s.cfg = cfg
	s.folders = folders
	s.notify = context.Notify
	s.call = context.Call
	s.mu.Unlock()

	s.docs = documents.NewManager()
	s.index = symbols.NewIndex(symbols.NewPool(4))
	s.store = openStore(cfg, folders)

	s.classpath = newClientClasspath()
	s.listening = project.NewToggle(s.subscribeClasspath)
	s.classpath.listening = s.listening
	s.projects = project.NewService(s.setupClasspath, s.newFallback, cfg.Projects.InitTimeout.Std())

	s.dispatcher = dispatch.New()
	s.dispatcher.Register(components.NewSyntax(s.index.Pool()), "java")

	if cfg.Architecture.Enabled {
		s.indexer = s.newIndexer(cfg)
		s.dispatcher.Register(components.NewModules(s.projects, s.indexer, s.index), "java")
		go func() {
			select {
			case <-s.projects.Resolved():
				s.indexer.Resync()
			case <-s.ctx.Done():
			}
		}()
	}

	syncKind := protocol.TextDocumentSyncKindIncremental

	capabilities := s.handler.CreateServerCapabilities()
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: &protocol.True,
		Change:    &syncKind,
		Save:      &protocol.SaveOptions{},
	}
	capabilities.ExecuteCommandProvider = &protocol.ExecuteCommandOptions{
		Commands: commands,
	}
	if cfg.SemanticTokens {
		capabilities.SemanticTokensProvider = &protocol.SemanticTokensOptions{
			Legend: s.dispatcher.Legend(),
			Full:   true,
		}
	} else {
		capabilities.SemanticTokensProvider = nil
	}

	return initializeResult{
		Capabilities: serverCapabilities{
			ServerCapabilities: capabilities,
			InlayHintProvider:  cfg.Architecture.Enabled,
		},
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    Name,
			Version: &s.version,
		},
	}, nil
}

func (s *Server) newIndexer(cfg config.Config) *architecture.Indexer {
	arch := cfg.Architecture
	exporter := &architecture.ProcessExporter{
		Runtime:        arch.Runtime,
		MainClass:      arch.ExporterMainClass,
		ExtraClasspath: arch.ExporterClasspath,
	}
	opts := []architecture.Option{
		architecture.WithDebounce(arch.Debounce.Std()),
		architecture.WithMaxConcurrent(arch.MaxConcurrent),
		architecture.WithLibraryMarker(arch.LibraryMarker),
		architecture.WithEntryPointAnnotations(arch.EntryPointAnnotations...),
		architecture.WithDocuments(s.docs, s),
	}
	if s.store != nil {
		opts = append(opts, architecture.WithStore(s.store))
	}
	ix := architecture.NewIndexer(s.projects, exporter, s.index, opts...)
	if err := ix.Load(s.ctx); err != nil {
		log.Warningf("load persisted snapshots: %v", err)
	}
	return ix
}

// openStore opens the snapshot database of this workspace. Persistence is
// skipped when it cannot be opened.
func openStore(cfg config.Config, folders []string) *store.Store {
	dir := cfg.StateDir
	if dir == "" {
		var err error
		if dir, err = getXDGStateHome(Name); err != nil {
			log.Warningf("no state directory: %v", err)
			return nil
		}
	}
	key := "default"
	if len(folders) > 0 {
		key = url.PathEscape(folders[0])
	}
	st, err := store.Open(filepath.Join(dir, key, "snapshots.db"))
	if err != nil {
		log.Warningf("snapshot store unavailable: %v", err)
		return nil
	}
	return st
}

func workspaceFolders(params *protocol.InitializeParams) []string {
	var folders []string
	for _, f := range params.WorkspaceFolders {
		folders = append(folders, project.URIToPath(f.URI))
	}
	if len(folders) == 0 && params.RootURI != nil && *params.RootURI != "" {
		folders = append(folders, project.URIToPath(*params.RootURI))
	}
	if len(folders) == 0 && params.RootPath != nil && *params.RootPath != "" {
		folders = append(folders, *params.RootPath)
	}
	return folders
}

func (s *Server) initialized(
	context *glsp.Context,
	params *protocol.InitializedParams,
) error {
	log.Info("client initialized")
	s.readyOn.Do(func() { close(s.ready) })
	go s.registerWatchers()
	return nil
}

// registerWatchers asks the client for workspace/didChangeWatchedFiles on
// build files and Java sources.
func (s *Server) registerWatchers() {
	_, call := s.client()
	if call == nil {
		return
	}
	var watchers []protocol.FileSystemWatcher
	for _, name := range s.settings().Projects.BuildFiles {
		watchers = append(watchers, protocol.FileSystemWatcher{GlobPattern: "**/" + name})
	}
	watchers = append(watchers, protocol.FileSystemWatcher{GlobPattern: "**/*.java"})
	call("client/registerCapability", protocol.RegistrationParams{
		Registrations: []protocol.Registration{{
			ID:     fmt.Sprintf("%s-watched-files", Name),
			Method: protocol.MethodWorkspaceDidChangeWatchedFiles,
			RegisterOptions: protocol.DidChangeWatchedFilesRegistrationOptions{
				Watchers: watchers,
			},
		}},
	}, nil)
}

func (s *Server) setTrace(context *glsp.Context, params *protocol.SetTraceParams) error {
	protocol.SetTraceValue(params.Value)
	return nil
}

func (s *Server) shutdown(context *glsp.Context) error {
	log.Info("shutting down")
	s.cancel()
	if s.indexer != nil {
		s.indexer.Dispose()
	}
	if s.projects != nil {
		s.projects.Dispose()
	}
	s.viewer.Close()
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Warningf("close snapshot store: %v", err)
		}
	}
	return nil
}
