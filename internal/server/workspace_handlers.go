package server

import (
	"strings"

	"springls/internal/architecture"
	"springls/internal/project"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

func (s *Server) workspaceDidChangeWatchedFiles(
	context *glsp.Context,
	params *protocol.DidChangeWatchedFilesParams,
) error {
	var sources []string
	for _, change := range params.Changes {
		uri := project.NormalizeURI(change.URI)
		path := project.URIToPath(uri)
		op := fileOp(change.Type)
		log.Debugf("watched file %s %s", path, op)

		if scanner := s.buildFiles(); scanner != nil && scanner.IsBuildFile(path) {
			scanner.Refresh(path)
			continue
		}
		if strings.HasSuffix(path, ".java") {
			switch {
			case op == architecture.FileDeleted:
				s.index.Remove(path)
			case !s.docs.IsOpen(uri):
				sources = append(sources, path)
			}
		}
		if s.indexer != nil {
			s.indexer.FileChanged(path, op)
		}
	}
	if len(sources) > 0 {
		go s.index.Refresh(s.ctx, sources...)
	}
	return nil
}

func fileOp(t protocol.UInteger) architecture.FileOp {
	switch t {
	case protocol.FileChangeTypeCreated:
		return architecture.FileCreated
	case protocol.FileChangeTypeDeleted:
		return architecture.FileDeleted
	default:
		return architecture.FileChanged
	}
}
