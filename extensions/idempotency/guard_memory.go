package idempotency

import (
	"context"
	"sync"
)

// InMemoryGuard provides an in-memory implementation of Guard.
//
// This implementation is suitable for single-instance deployments. For
// several processes settling against one order store, use RedisGuard.
//
// Features:
//   - One done channel per held key, nothing kept for free keys
//   - Waiters honour context cancellation
//   - Release is idempotent
type InMemoryGuard struct {
	mu       sync.Mutex
	inFlight map[string]chan struct{}
}

// NewInMemoryGuard creates a new in-memory guard.
func NewInMemoryGuard() *InMemoryGuard {
	return &InMemoryGuard{
		inFlight: make(map[string]chan struct{}),
	}
}

// Acquire marks key as held, waiting for the current holder if there is one.
func (g *InMemoryGuard) Acquire(ctx context.Context, key string) (func(), error) {
	for {
		done, acquired := g.tryMark(key)
		if acquired {
			var once sync.Once
			return func() {
				once.Do(func() { g.release(key, done) })
			}, nil
		}

		select {
		case <-done:
			// Holder released; race for the key again
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// tryMark atomically checks and marks the key as held.
//
// Returns:
//   - the new done channel + true if this caller now holds the key
//   - the holder's done channel + false if the key is already held
func (g *InMemoryGuard) tryMark(key string) (chan struct{}, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if done, exists := g.inFlight[key]; exists {
		return done, false
	}

	done := make(chan struct{})
	g.inFlight[key] = done
	return done, true
}

// release removes the held marker and signals waiters.
func (g *InMemoryGuard) release(key string, done chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inFlight[key] == done {
		delete(g.inFlight, key)
	}
	close(done)
}

// Held reports how many keys are currently held.
func (g *InMemoryGuard) Held() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inFlight)
}

// Ensure InMemoryGuard implements Guard
var _ Guard = (*InMemoryGuard)(nil)
