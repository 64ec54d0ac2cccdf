package server

import (
	"context"
	"fmt"

	"springls/internal/buildfile"
	"springls/internal/project"

	"github.com/google/uuid"
)

const (
	methodAddClasspathListener    = "springls/addClasspathListener"
	methodRemoveClasspathListener = "springls/removeClasspathListener"
)

type classpathListenerParams struct {
	CallbackID string `json:"callbackId"`
}

// classpathChangedParams is one classpath push. The client tags it with the
// callback id of the subscription it belongs to.
type classpathChangedParams struct {
	CallbackID string `json:"callbackId"`
	project.ClasspathEvent
}

// clientClasspath is the primary project source: classpath data pushed by
// the client while a listener subscription is active.
type clientClasspath struct {
	*project.ClasspathCache
	listening *project.Toggle
}

func newClientClasspath() *clientClasspath {
	return &clientClasspath{ClasspathCache: project.NewClasspathCache()}
}

func (c *clientClasspath) Dispose() {
	if c.listening != nil {
		c.listening.Disable()
	}
	c.ClasspathCache.Dispose()
}

// setupClasspath waits for the client to finish initializing and then
// subscribes to its classpath pushes.
func (s *Server) setupClasspath(ctx context.Context) (project.Source, error) {
	select {
	case <-s.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := s.listening.Enable(ctx); err != nil {
		return nil, err
	}
	return s.classpath, nil
}

// subscribeClasspath registers a classpath listener with the client. The
// client acknowledges by echoing the callback id.
func (s *Server) subscribeClasspath(ctx context.Context) (func(), error) {
	_, call := s.client()
	if call == nil {
		return nil, errNoClient
	}
	id := uuid.NewString()
	params := classpathListenerParams{CallbackID: id}

	acks := make(chan classpathListenerParams, 1)
	go func() {
		var ack classpathListenerParams
		call(methodAddClasspathListener, params, &ack)
		acks <- ack
	}()

	select {
	case ack := <-acks:
		if ack.CallbackID != id {
			return nil, fmt.Errorf("%w: %s not acknowledged", errListenerRejected, id)
		}
	case <-ctx.Done():
		go func() {
			if ack := <-acks; ack.CallbackID == id {
				call(methodRemoveClasspathListener, params, nil)
			}
		}()
		return nil, ctx.Err()
	}

	s.listenerMu.Lock()
	s.listenerID = id
	s.listenerMu.Unlock()
	log.Infof("classpath listener %s registered", id)

	return func() {
		s.listenerMu.Lock()
		if s.listenerID == id {
			s.listenerID = ""
		}
		s.listenerMu.Unlock()
		log.Infof("classpath listener %s removed", id)
		go call(methodRemoveClasspathListener, params, nil)
	}, nil
}

// classpathChanged applies a push of the active subscription. Pushes of
// stale or unknown subscriptions are dropped.
func (s *Server) classpathChanged(params *classpathChangedParams) error {
	s.listenerMu.Lock()
	active := s.listenerID
	s.listenerMu.Unlock()

	if active == "" || params.CallbackID != active {
		log.Debugf("dropping classpath push for %s from listener %q", params.Location, params.CallbackID)
		return nil
	}
	if err := s.classpath.Apply(params.ClasspathEvent); err != nil {
		log.Warningf("classpath push for %s: %v", params.Location, err)
	}
	return nil
}

// newFallback builds the build-file scanner used when the client does not
// provide classpath data.
func (s *Server) newFallback() project.Source {
	cfg := s.settings()
	s.mu.Lock()
	folders := s.folders
	s.mu.Unlock()

	scanner := buildfile.NewScanner(
		buildfile.WithFolders(folders...),
		buildfile.WithBuildFiles(cfg.Projects.BuildFiles...),
		buildfile.WithIgnoreDirs(cfg.Projects.IgnoreDirs...),
	)
	s.fallbackMu.Lock()
	s.fallback = scanner
	s.fallbackMu.Unlock()
	return scanner
}

func (s *Server) buildFiles() *buildfile.Scanner {
	s.fallbackMu.Lock()
	defer s.fallbackMu.Unlock()
	return s.fallback
}
