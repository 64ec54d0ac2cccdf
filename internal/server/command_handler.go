package server

import (
	"errors"
	"fmt"

	"springls/internal/architecture"
	"springls/internal/components"
	"springls/internal/project"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

const (
	commandRefreshArchitecture       = components.CommandRefreshArchitecture
	commandListArchitectureProjects  = "springls.listArchitectureProjects"
	commandEnableClasspathListening  = "springls.enableClasspathListening"
	commandDisableClasspathListening = "springls.disableClasspathListening"
	commandShowArchitectureGraph     = components.CommandShowArchitecture
)

var commands = []string{
	commandRefreshArchitecture,
	commandListArchitectureProjects,
	commandEnableClasspathListening,
	commandDisableClasspathListening,
	commandShowArchitectureGraph,
}

const outcomeScheduled = "scheduled"

type refreshResult struct {
	ProjectURI string `json:"projectUri"`
	Outcome    string `json:"outcome"`
	Error      string `json:"error,omitempty"`
}

type listeningResult struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) workspaceExecuteCommand(
	context *glsp.Context,
	params *protocol.ExecuteCommandParams,
) (any, error) {
	log.Debugf("command %s %v", params.Command, params.Arguments)
	switch params.Command {
	case commandRefreshArchitecture:
		return s.refreshArchitecture(context, params.Arguments)
	case commandListArchitectureProjects:
		if s.indexer == nil {
			return []architecture.ProjectInfo{}, nil
		}
		return s.indexer.Projects(), nil
	case commandEnableClasspathListening:
		return s.enableClasspathListening(context)
	case commandDisableClasspathListening:
		s.listening.Disable()
		return listeningResult{Enabled: false}, nil
	case commandShowArchitectureGraph:
		return nil, s.showGraph(context)
	}
	return nil, fmt.Errorf("unknown command %q", params.Command)
}

// refreshArchitecture schedules the recomputation and returns. The outcome
// follows as a springls/architectureRefreshed notification.
func (s *Server) refreshArchitecture(context *glsp.Context, args []any) (any, error) {
	if s.indexer == nil {
		return nil, errNoArchitecture
	}
	uri, err := stringArgument(args, 0)
	if err != nil {
		return nil, err
	}
	uri = project.NormalizeURI(uri)
	if _, ok := s.projects.Find(uri); !ok {
		return nil, fmt.Errorf("%w: %s", architecture.ErrUnknownProject, uri)
	}
	go s.reportRefresh(context.Notify, uri)
	return refreshResult{ProjectURI: uri, Outcome: outcomeScheduled}, nil
}

func (s *Server) reportRefresh(notify glsp.NotifyFunc, uri string) {
	outcome, err := s.indexer.Refresh(s.ctx, uri)
	if s.ctx.Err() != nil {
		return
	}
	result := refreshResult{ProjectURI: uri, Outcome: outcome.String()}
	if err != nil {
		var exportErr *architecture.ExportError
		if errors.As(err, &exportErr) {
			log.Errorf("refresh %s: %v", uri, exportErr)
		} else {
			log.Warningf("refresh %s: %v", uri, err)
		}
		result.Outcome = architecture.OutcomeFailed.String()
		result.Error = err.Error()
		showMessage(notify, protocol.MessageTypeError, fmt.Sprintf("Architecture refresh of %s failed: %v", uri, err))
	}
	notify(methodArchitectureRefreshed, result)
}

// enableClasspathListening subscribes in the background: the client answers
// the subscription request only after this handler has returned.
func (s *Server) enableClasspathListening(context *glsp.Context) (any, error) {
	if s.projects.UsingFallback() {
		return nil, errFallbackActive
	}
	go func() {
		if err := s.listening.Enable(s.ctx); err != nil && !errors.Is(err, project.ErrSuperseded) {
			log.Warningf("enable classpath listening: %v", err)
			showMessage(context.Notify, protocol.MessageTypeWarning, fmt.Sprintf("Classpath listening failed: %v", err))
		}
	}()
	return listeningResult{Enabled: true}, nil
}

func stringArgument(args []any, i int) (string, error) {
	if len(args) <= i {
		return "", fmt.Errorf("%w %d", errMissingArgument, i)
	}
	v, ok := args[i].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("argument %d: expected a string, got %T", i, args[i])
	}
	return v, nil
}
