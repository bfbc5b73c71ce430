package poller

import (
	"context"
	"sync"
)

type loop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Group keeps at most one running loop per job key.
type Group struct {
	startMu sync.Mutex // serializes Go
	mu      sync.Mutex
	active  map[string]*loop
}

// NewGroup creates an empty Group.
func NewGroup() *Group {
	return &Group{active: make(map[string]*loop)}
}

// Go cancels any loop already running under key, waits for it to exit, and
// starts fn in a new goroutine. fn must return once its context is done.
// Go must not be called from inside a loop of the same key.
func (g *Group) Go(ctx context.Context, key string, fn func(ctx context.Context)) {
	g.startMu.Lock()
	defer g.startMu.Unlock()

	g.Cancel(key)

	loopCtx, cancel := context.WithCancel(ctx)
	l := &loop{cancel: cancel, done: make(chan struct{})}
	g.mu.Lock()
	g.active[key] = l
	g.mu.Unlock()

	go func() {
		defer close(l.done)
		defer g.release(key, l)
		fn(loopCtx)
	}()
}

// release forgets l if it is still the active loop for key.
func (g *Group) release(key string, l *loop) {
	l.cancel()
	g.mu.Lock()
	if g.active[key] == l {
		delete(g.active, key)
	}
	g.mu.Unlock()
}

// Cancel stops the loop running under key and returns once it has exited.
// It reports whether a loop was running.
func (g *Group) Cancel(key string) bool {
	g.mu.Lock()
	l, ok := g.active[key]
	if ok {
		delete(g.active, key)
	}
	g.mu.Unlock()

	if !ok {
		return false
	}
	l.cancel()
	<-l.done
	return true
}

// Active reports whether a loop is running under key.
func (g *Group) Active(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.active[key]
	return ok
}

// Done returns a channel closed when the loop under key exits, or nil when
// no loop is running.
func (g *Group) Done(key string) <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	if l, ok := g.active[key]; ok {
		return l.done
	}
	return nil
}
