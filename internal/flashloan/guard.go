package flashloan

import "sync"

// entryGuard serializes the agent's guarded entry points and closes the
// re-invocation hole a malicious token or venue could exploit mid-trade.
//
// The lending pool legitimately calls back into the agent while the
// orchestrator is still on the stack, so the orchestrator arms exactly one
// callback slot before handing control to the pool. The expected callback
// consumes the slot; every other entry while the lock is held fails with
// ErrReentrancy.
type entryGuard struct {
	mu    sync.Mutex
	held  bool
	armed bool
}

// enter acquires the lock for an outer entry point. The returned release
// must run on every exit path.
func (g *entryGuard) enter() (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held {
		return nil, ErrReentrancy
	}
	g.held = true
	return g.release, nil
}

// enterCallback admits the single armed pool callback while the orchestrator
// holds the lock; when idle it behaves like enter. nested reports whether the
// callback runs under the orchestrator, which then owns the commit.
func (g *entryGuard) enterCallback() (release func(), nested bool, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.armed {
		// Nested under the orchestrator, whose release covers the hold.
		g.armed = false
		return func() {}, true, nil
	}
	if g.held {
		return nil, false, ErrReentrancy
	}
	g.held = true
	return g.release, false, nil
}

func (g *entryGuard) arm() {
	g.mu.Lock()
	g.armed = true
	g.mu.Unlock()
}

func (g *entryGuard) release() {
	g.mu.Lock()
	g.held = false
	g.armed = false
	g.mu.Unlock()
}
