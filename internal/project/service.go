package project

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"springls/internal/event"
)

// Setup initializes the primary source. It should honor ctx cancellation;
// a result arriving after the timeout is disposed and ignored.
type Setup func(ctx context.Context) (Source, error)

// Starter is implemented by sources that begin producing events only once
// asked to, after their listeners are attached.
type Starter interface {
	Start()
}

type initState int

const (
	statePending initState = iota
	stateReady
	stateFailed
)

// Service composes a slow primary source with a lazily built fallback.
// Until setup resolves every lookup answers "not found". After a failure
// or timeout all calls go to the fallback, which is built once.
type Service struct {
	timeout     time.Duration
	newFallback func() Source

	mu               sync.Mutex
	state            initState
	main             Source
	disposeRequested bool
	disposed         bool
	resolved         chan struct{}

	fallbackOnce sync.Once
	fallback     Source

	bus     *event.Bus[Change]
	forward Listener
}

// NewService starts setup in the background.
func NewService(setup Setup, newFallback func() Source, timeout time.Duration) *Service {
	s := &Service{
		timeout:     timeout,
		newFallback: newFallback,
		resolved:    make(chan struct{}),
		bus:         event.NewBus[Change](),
	}
	s.forward = event.Func(s.bus.Publish)
	go s.initialize(setup)
	return s
}

type setupResult struct {
	src Source
	err error
}

func (s *Service) initialize(setup Setup) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	results := make(chan setupResult, 1)
	go func() {
		src, err := setup(ctx)
		results <- setupResult{src: src, err: err}
	}()

	var res setupResult
	select {
	case res = <-results:
	case <-ctx.Done():
		res.err = fmt.Errorf("%w after %s", ErrInitTimeout, s.timeout)
		go discardLate(results)
	}
	if res.err == nil && res.src == nil {
		res.err = fmt.Errorf("primary setup returned no source")
	}

	s.mu.Lock()
	if res.err != nil {
		s.state = stateFailed
		s.mu.Unlock()
		log.Warningf("primary project source unavailable, using fallback: %v", res.err)
		if errors.Is(res.err, ErrInitTimeout) {
			recordFallback("timeout")
		} else {
			recordFallback("error")
		}
		if res.src != nil {
			res.src.Dispose()
		}
		close(s.resolved)
		return
	}

	s.state = stateReady
	s.main = res.src
	disposeNow := s.disposeRequested
	if disposeNow {
		s.disposed = true
	}
	s.mu.Unlock()

	if disposeNow {
		log.Info("disposing primary project source requested during setup")
		res.src.Dispose()
	} else {
		log.Info("primary project source ready")
		res.src.AddListener(s.forward)
	}
	close(s.resolved)
}

func discardLate(results <-chan setupResult) {
	res := <-results
	if res.src != nil {
		log.Info("primary project source finished after timeout, discarding")
		res.src.Dispose()
	}
}

// Resolved is closed once setup succeeded, failed or timed out.
func (s *Service) Resolved() <-chan struct{} {
	return s.resolved
}

// UsingFallback reports whether calls are routed to the fallback.
func (s *Service) UsingFallback() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateFailed
}

// active returns the source calls should go to, or nil while pending.
func (s *Service) active() Source {
	s.mu.Lock()
	state, main, disposed := s.state, s.main, s.disposed
	s.mu.Unlock()

	switch {
	case disposed:
		return nil
	case state == stateReady:
		return main
	case state == stateFailed:
		return s.fallbackSource()
	default:
		return nil
	}
}

func (s *Service) fallbackSource() Source {
	s.fallbackOnce.Do(func() {
		if s.newFallback == nil {
			return
		}
		log.Info("constructing fallback project source")
		fb := s.newFallback()
		if fb == nil {
			return
		}
		fb.AddListener(s.forward)
		s.mu.Lock()
		s.fallback = fb
		s.mu.Unlock()
		if st, ok := fb.(Starter); ok {
			st.Start()
		}
	})
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fallback
}

func (s *Service) Find(uri string) (*Project, bool) {
	src := s.active()
	if src == nil {
		return nil, false
	}
	return src.Find(uri)
}

func (s *Service) Projects() []*Project {
	src := s.active()
	if src == nil {
		return nil
	}
	return src.Projects()
}

func (s *Service) AddListener(l Listener)    { s.bus.Add(l) }
func (s *Service) RemoveListener(l Listener) { s.bus.Remove(l) }

// Dispose releases the primary source exactly once. While setup is still
// pending the request is recorded and honored when setup completes.
func (s *Service) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	var main Source
	switch s.state {
	case statePending:
		s.disposeRequested = true
	case stateReady:
		main = s.main
		s.disposed = true
	case stateFailed:
		s.disposed = true
	}
	fb := s.fallback
	s.mu.Unlock()

	if main != nil {
		main.RemoveListener(s.forward)
		main.Dispose()
	}
	if fb != nil {
		fb.RemoveListener(s.forward)
		fb.Dispose()
	}
}
