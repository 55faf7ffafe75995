// Package shutdown provides the process-wide cooperative teardown primitive
// shared by every task in a session. Any task can report a fatal condition;
// all tasks observe it through a select-able channel and wind down together.
// A separate graceful path lets the orchestrator end a session deliberately,
// so exit reporting can distinguish "stopped" from "failed".
package shutdown

import (
	"context"
	"log/slog"
	"sync"
)

// Coordinator is the single shared teardown object for one session. Every
// spawned task receives the same *Coordinator and registers itself at start.
// The error flag transitions false→true at most once; the first caller's
// reason and severity are the ones every waiter observes.
type Coordinator struct {
	log *slog.Logger

	mu       sync.Mutex
	tasks    []string
	errored  bool
	fatal    bool
	reason   string
	stopping bool

	errCh  chan struct{} // closed on NotifyError
	stopCh chan struct{} // closed on Shutdown
	doneCh chan struct{} // closed on either
}

// New creates a Coordinator in the Running state. If log is nil,
// slog.Default() is used.
func New(log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		log:    log.With("component", "shutdown"),
		errCh:  make(chan struct{}),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// RegisterTask records that a named task has started. The count is used for
// diagnostics and drain logging, not for cancellation correctness.
func (c *Coordinator) RegisterTask(name string) {
	c.mu.Lock()
	c.tasks = append(c.tasks, name)
	n := len(c.tasks)
	c.mu.Unlock()
	c.log.Debug("task registered", "task", name, "active", n)
}

// TaskCount returns the number of registered tasks.
func (c *Coordinator) TaskCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tasks)
}

// NotifyError records a fatal condition and wakes every waiter. Only the
// first call in a session sets the reason and severity; later calls are
// no-ops and safe from any goroutine.
func (c *Coordinator) NotifyError(fatal bool, reason string) {
	c.mu.Lock()
	if c.errored {
		c.mu.Unlock()
		return
	}
	c.errored = true
	c.fatal = fatal
	c.reason = reason
	close(c.errCh)
	c.closeDoneLocked()
	c.mu.Unlock()

	c.log.Error("error notified", "reason", reason, "fatal", fatal)
}

// Shutdown signals deliberate, non-error session termination. Idempotent.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	if c.stopping {
		c.mu.Unlock()
		return
	}
	c.stopping = true
	close(c.stopCh)
	c.closeDoneLocked()
	c.mu.Unlock()

	c.log.Info("graceful shutdown signaled")
}

// closeDoneLocked closes doneCh on the first terminal transition only.
func (c *Coordinator) closeDoneLocked() {
	select {
	case <-c.doneCh:
	default:
		close(c.doneCh)
	}
}

// WaitForError returns a channel closed once NotifyError has been called in
// this session. Tasks select on it alongside their normal work.
func (c *Coordinator) WaitForError() <-chan struct{} { return c.errCh }

// WaitForShutdown returns a channel closed once Shutdown has been called.
func (c *Coordinator) WaitForShutdown() <-chan struct{} { return c.stopCh }

// Done returns a channel closed on either terminal state. Both mean
// "stop now"; the distinction matters only for exit reporting.
func (c *Coordinator) Done() <-chan struct{} { return c.doneCh }

// CheckForError is the non-blocking poll used at loop-iteration boundaries
// where a task cannot cheaply suspend.
func (c *Coordinator) CheckForError() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errored
}

// Reason returns the first recorded error reason, or "" if none.
func (c *Coordinator) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Fatal reports whether the first recorded error was marked fatal.
func (c *Coordinator) Fatal() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errored && c.fatal
}

// Context derives a context cancelled when the session reaches either
// terminal state, for handing to collaborators that speak context.Context
// (QUIC dials, SRT accepts) instead of this package's channels.
func (c *Coordinator) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-c.doneCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
