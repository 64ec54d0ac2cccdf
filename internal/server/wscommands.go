package server

import (
	"springls/internal/architecture"
	"springls/internal/event"
	"springls/internal/graph"
	"springls/internal/symbols"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

func (s *Server) showGraph(context *glsp.Context) error {
	if s.indexer == nil {
		return errNoArchitecture
	}
	url, err := s.viewer.Start("localhost:0")
	if err != nil {
		return err
	}

	s.graphOnce.Do(func() {
		s.indexer.AddListener(event.Func(s.graphChanged))
		for _, info := range s.indexer.Projects() {
			if snap, ok := s.indexer.ModulesData(info.URI); ok {
				s.graphChanged(architecture.SnapshotChange{ProjectURI: info.URI, Snapshot: snap})
			}
		}
	})

	context.Notify(
		"window/showDocument",
		protocol.ShowDocumentParams{
			URI:      protocol.URI(url + "index.html"),
			External: &protocol.True,
		},
	)
	return nil
}

func (s *Server) graphChanged(c architecture.SnapshotChange) {
	if c.Snapshot == nil {
		s.viewer.Remove(c.ProjectURI)
		return
	}
	name := c.ProjectURI
	var files []*symbols.File
	if p, ok := s.projects.Find(c.ProjectURI); ok {
		name = p.Name()
		for _, path := range s.index.SourceFiles(p) {
			if f, ok := s.index.File(path); ok {
				files = append(files, f)
			}
		}
	}
	s.viewer.Set(c.ProjectURI, graph.FromSnapshot(name, c.Snapshot, files))
}
