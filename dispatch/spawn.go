package dispatch

import (
	"context"
	"log"
	"sync"
	"time"
)

// Spawner runs fire-and-forget side effects (outbound acknowledgements,
// history syncs) on detached goroutines. Nothing joins on an individual
// task: a failure is logged, never retried, and never rolls back the
// optimistic local change that triggered it. The only coordination point
// is Drain, used at session teardown.
type Spawner struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewSpawner creates a spawner whose tasks inherit ctx.
func NewSpawner(ctx context.Context) *Spawner {
	sctx, cancel := context.WithCancel(ctx)
	return &Spawner{ctx: sctx, cancel: cancel}
}

// Go runs fn on a detached goroutine. The name is only used in the error
// log. Tasks spawned after Drain are dropped.
func (s *Spawner) Go(name string, fn func(ctx context.Context) error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		if err := fn(s.ctx); err != nil {
			log.Printf("task %s: %v", name, err)
		}
	}()
}

// Drain stops accepting new tasks and waits for in-flight tasks up to
// the given timeout, then cancels whatever is left.
func (s *Spawner) Drain(timeout time.Duration) {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
	}
	s.cancel()
}
