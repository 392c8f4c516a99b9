package observability

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ShutdownFunc tears down one resource. It must respect ctx's deadline.
type ShutdownFunc func(context.Context) error

type closer struct {
	name string
	fn   ShutdownFunc
}

// ShutdownManager tears down registered resources when the process
// stops. Closers run concurrently under one deadline; the HTTP server
// should be drained by the caller first so in-flight requests still
// have their database and cache below them.
type ShutdownManager struct {
	logger  *Logger
	timeout time.Duration

	mu      sync.Mutex
	closers []closer
}

// NewShutdownManager creates a manager with the given overall deadline.
// A zero timeout defaults to 30 seconds.
func NewShutdownManager(logger *Logger, timeout time.Duration) *ShutdownManager {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{logger: logger, timeout: timeout}
}

// Register adds a named closer. Nil funcs are ignored.
func (sm *ShutdownManager) Register(name string, fn ShutdownFunc) {
	if fn == nil {
		return
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.closers = append(sm.closers, closer{name: name, fn: fn})
}

// Shutdown runs every registered closer concurrently and waits for all
// of them or the deadline, whichever comes first. Individual failures
// are logged and folded into one error so the caller sees that teardown
// was not clean.
func (sm *ShutdownManager) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, sm.timeout)
	defer cancel()

	sm.mu.Lock()
	closers := make([]closer, len(sm.closers))
	copy(closers, sm.closers)
	sm.mu.Unlock()

	errCh := make(chan error, len(closers))
	var wg sync.WaitGroup
	for _, c := range closers {
		wg.Add(1)
		go func(c closer) {
			defer wg.Done()
			if err := c.fn(ctx); err != nil {
				sm.logger.WithError(err).WithField("closer", c.name).Error("shutdown closer failed")
				errCh <- fmt.Errorf("%s: %w", c.name, err)
				return
			}
			sm.logger.WithField("closer", c.name).Debug("shutdown closer finished")
		}(c)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sm.logger.Warn("shutdown deadline reached before all closers finished")
		return fmt.Errorf("shutdown deadline reached: %w", ctx.Err())
	}

	close(errCh)
	var failed int
	for range errCh {
		failed++
	}
	if failed > 0 {
		return fmt.Errorf("shutdown finished with %d failed closers", failed)
	}

	sm.logger.Info("shutdown complete")
	return nil
}
