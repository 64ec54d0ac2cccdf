package server

import "springls/internal/project"

// ProjectSource exposes the project service to the external tests.
func ProjectSource(s *Server) project.Source { return s.projects }
