// Package task manages the lifecycle of worker goroutines: named start,
// cooperative stop through context cancellation, and bounded waiting for
// termination. The capture manager uses it to run one worker per DUT port.
package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/anchorlab/go-hwrig/logger"
)

// Func is one iteration of a worker loop. It returns true to keep
// running, false to stop the goroutine.
type Func func() bool

// CleanupFunc runs when a worker goroutine exits, whether it stopped
// itself or was cancelled. Use it to release the worker's resources.
type CleanupFunc func()

// Manager runs named worker goroutines under one context.
//
// Stop cancels the shared context; Wait blocks until every worker has
// exited or the timeout elapses. A Manager is not restartable: create a
// new one per start/stop cycle.
type Manager struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger logger.Logger
	names  sync.Map // map[string]struct{}
}

// NewManager creates a Manager whose workers stop when either the parent
// context or the manager itself is cancelled.
func NewManager(ctx context.Context, l logger.Logger) *Manager {
	mgr := &Manager{logger: l}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

// Context returns the context shared by all workers of this manager.
func (mgr *Manager) Context() context.Context {
	return mgr.ctx
}

// Start launches a named worker goroutine running fn in a loop until fn
// returns false or the manager is stopped. cleanup, if non-nil, runs when
// the goroutine exits. Names must be unique while their worker lives.
func (mgr *Manager) Start(name string, fn Func, cleanup CleanupFunc) error {
	if _, loaded := mgr.names.LoadOrStore(name, struct{}{}); loaded {
		return fmt.Errorf("task: worker %q already exists", name)
	}

	mgr.wg.Add(1)
	go func() {
		defer mgr.wg.Done()
		defer mgr.names.Delete(name)
		if cleanup != nil {
			defer cleanup()
		}

		mgr.logger.Debug("worker started", "name", name)
		defer mgr.logger.Debug("worker stopped", "name", name)

		for {
			select {
			case <-mgr.ctx.Done():
				return
			default:
			}

			if !mgr.iterate(name, fn) {
				return
			}
		}
	}()

	return nil
}

// iterate runs one loop iteration with panic protection. A panicking
// worker stops alone instead of tearing down the process.
func (mgr *Manager) iterate(name string, fn Func) (cont bool) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in worker", "name", name, "panic", r)
			cont = false
		}
	}()

	return fn()
}

// Stop signals every worker to exit. It does not wait; call Wait.
func (mgr *Manager) Stop() {
	mgr.cancel()
}

// Wait blocks until all workers have exited. With a positive timeout it
// returns false if workers are still running when the timeout elapses;
// otherwise it waits indefinitely and returns true.
func (mgr *Manager) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		mgr.wg.Wait()
		close(done)
	}()

	if timeout <= 0 {
		<-done
		return true
	}

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
