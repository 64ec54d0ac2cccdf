package project

import (
	"context"
	"fmt"
	"sync"
)

// SubscribeFunc establishes a subscription and returns its cancel function.
type SubscribeFunc func(ctx context.Context) (cancel func(), err error)

// Toggle keeps at most one subscription alive. A newer Enable supersedes an
// older one still in flight; the older result is torn down on arrival.
type Toggle struct {
	subscribe SubscribeFunc

	mu         sync.Mutex
	generation uint64
	active     func()
	pending    context.CancelFunc
}

func NewToggle(subscribe SubscribeFunc) *Toggle {
	return &Toggle{subscribe: subscribe}
}

// Enable replaces any active or pending subscription with a new one.
// It returns ErrSuperseded when a later Enable or Disable won the race.
func (t *Toggle) Enable(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	t.mu.Lock()
	t.generation++
	gen := t.generation
	prevCancel, prevActive := t.pending, t.active
	t.pending, t.active = cancel, nil
	t.mu.Unlock()

	if prevCancel != nil {
		prevCancel()
	}
	if prevActive != nil {
		prevActive()
	}

	unsubscribe, err := t.subscribe(ctx)

	t.mu.Lock()
	if t.generation != gen {
		t.mu.Unlock()
		cancel()
		if unsubscribe != nil {
			unsubscribe()
		}
		return ErrSuperseded
	}
	t.pending = nil
	if err != nil {
		t.mu.Unlock()
		cancel()
		return fmt.Errorf("subscribe: %w", err)
	}
	t.active = func() {
		cancel()
		if unsubscribe != nil {
			unsubscribe()
		}
	}
	t.mu.Unlock()
	return nil
}

// Disable tears down the active subscription and cancels a pending one.
// It is a no-op when nothing is subscribed.
func (t *Toggle) Disable() {
	t.mu.Lock()
	t.generation++
	prevCancel, prevActive := t.pending, t.active
	t.pending, t.active = nil, nil
	t.mu.Unlock()

	if prevCancel != nil {
		prevCancel()
	}
	if prevActive != nil {
		prevActive()
	}
}

// Enabled reports whether a subscription is currently established.
func (t *Toggle) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active != nil
}
