package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrAlreadyRunning means a launch was requested for a session this
// process is already driving.
var ErrAlreadyRunning = errors.New("session pipeline already running")

// Runner launches pipelines in the background and enforces one running
// pipeline per session. Sessions outlive API requests, so runs use the
// runner's base context, not the request's.
type Runner struct {
	orch    *Orchestrator
	baseCtx context.Context

	mu     sync.Mutex
	active map[uuid.UUID]struct{}
	wg     sync.WaitGroup
}

// NewRunner builds a runner whose pipelines stop when baseCtx is canceled.
func NewRunner(orch *Orchestrator, baseCtx context.Context) *Runner {
	return &Runner{
		orch:    orch,
		baseCtx: baseCtx,
		active:  make(map[uuid.UUID]struct{}),
	}
}

// Launch starts the session's pipeline in a new goroutine. Returns
// ErrAlreadyRunning if this process is already driving the session.
func (r *Runner) Launch(sessionID uuid.UUID) error {
	r.mu.Lock()
	if _, ok := r.active[sessionID]; ok {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	r.active[sessionID] = struct{}{}
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.active, sessionID)
			r.mu.Unlock()
		}()
		// Run reports its own failures into the session record.
		_ = r.orch.Run(r.baseCtx, sessionID)
	}()
	return nil
}

// Active reports whether this process is currently driving the session.
func (r *Runner) Active(sessionID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[sessionID]
	return ok
}

// Wait blocks until all launched pipelines have returned. Called during
// shutdown after the base context is canceled.
func (r *Runner) Wait() {
	r.wg.Wait()
}
