package shutdown

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNotifyErrorWakesAllWaiters(t *testing.T) {
	t.Parallel()

	c := New(nil)
	const waiters = 3

	var wg sync.WaitGroup
	wg.Add(waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			defer wg.Done()
			<-c.WaitForError()
		}()
	}

	c.NotifyError(false, "x")
	wg.Wait()

	if !c.CheckForError() {
		t.Fatal("CheckForError false after NotifyError")
	}
}

func TestFirstWriterWins(t *testing.T) {
	t.Parallel()

	c := New(nil)
	c.NotifyError(false, "x")
	c.NotifyError(true, "y")

	if got := c.Reason(); got != "x" {
		t.Fatalf("reason = %q, want first writer's %q", got, "x")
	}
	if c.Fatal() {
		t.Fatal("severity overwritten by a later call")
	}
}

func TestNotifyErrorIdempotentUnderConcurrency(t *testing.T) {
	t.Parallel()

	c := New(nil)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.NotifyError(false, "concurrent")
		}()
	}
	wg.Wait()

	// The channel must be closed exactly once (a double close panics).
	<-c.WaitForError()
	if got := c.Reason(); got != "concurrent" {
		t.Fatalf("reason = %q", got)
	}
}

func TestGracefulPathIsDistinct(t *testing.T) {
	t.Parallel()

	c := New(nil)
	c.Shutdown()

	select {
	case <-c.WaitForShutdown():
	default:
		t.Fatal("WaitForShutdown not released after Shutdown")
	}
	select {
	case <-c.WaitForError():
		t.Fatal("error channel released by graceful shutdown")
	default:
	}
	if c.CheckForError() {
		t.Fatal("CheckForError true on graceful path")
	}
}

func TestDoneClosesOnEitherPath(t *testing.T) {
	t.Parallel()

	errSide := New(nil)
	errSide.NotifyError(true, "boom")
	select {
	case <-errSide.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after NotifyError")
	}

	stopSide := New(nil)
	stopSide.Shutdown()
	select {
	case <-stopSide.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after Shutdown")
	}

	// Reaching the second terminal state must not double-close.
	errSide.Shutdown()
	stopSide.NotifyError(false, "late")
}

func TestContextCancelledOnError(t *testing.T) {
	t.Parallel()

	c := New(nil)
	ctx, cancel := c.Context(context.Background())
	defer cancel()

	c.NotifyError(false, "x")
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("derived context not cancelled after NotifyError")
	}
}

func TestRegisterTaskCounts(t *testing.T) {
	t.Parallel()

	c := New(nil)
	c.RegisterTask("audio-egress")
	c.RegisterTask("video-egress")
	if got := c.TaskCount(); got != 2 {
		t.Fatalf("TaskCount = %d, want 2", got)
	}
}
