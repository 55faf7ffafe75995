package pump

import (
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/zsiec/beam/internal/barrier"
	"github.com/zsiec/beam/internal/config"
	"github.com/zsiec/beam/internal/media"
	"github.com/zsiec/beam/internal/shutdown"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// collectSink records every frame it accepts.
type collectSink struct {
	mu     sync.Mutex
	frames []media.Frame
}

func (s *collectSink) Put(f media.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
	return nil
}

func (s *collectSink) got() []media.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]media.Frame(nil), s.frames...)
}

func TestRoundTripPreservesOrder(t *testing.T) {
	t.Parallel()

	src := make(chan media.Frame, 16)
	for i := 0; i < 10; i++ {
		src <- media.Frame{byte(i)}
	}
	close(src)

	coord := shutdown.New(nil)
	sink := &collectSink{}
	p := &Pump{
		Role:   "video-egress",
		Window: config.Window{Threshold: 2, Limit: 100},
		Source: ChanSource{C: src},
		Sink:   sink,
		Coord:  coord,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run()
	}()
	<-done // closed source trips the tracker and ends the pump

	frames := sink.got()
	if len(frames) != 10 {
		t.Fatalf("delivered %d frames, want 10", len(frames))
	}
	for i, f := range frames {
		if len(f) != 1 || f[0] != byte(i) {
			t.Fatalf("frame %d out of order: %v", i, f)
		}
	}
}

// scriptedSource fails on the attempts listed in failOn and succeeds
// otherwise, counting calls.
type scriptedSource struct {
	calls  int
	failOn func(call int) bool
}

func (s *scriptedSource) Take(stop <-chan struct{}) (media.Frame, error) {
	s.calls++
	if s.failOn(s.calls) {
		return nil, errors.New("scripted failure")
	}
	return media.Frame{0}, nil
}

func TestEscalatesExactlyOnThresholdCrossing(t *testing.T) {
	t.Parallel()

	// Attempts 1..901 fail out of a 900/1000 window: the pump must
	// escalate on attempt 900, the one where cumulative failures reach
	// the threshold, and notify exactly once.
	src := &scriptedSource{failOn: func(call int) bool { return call <= 901 }}
	coord := shutdown.New(nil)
	p := &Pump{
		Role:   "audio-ingress",
		Window: config.Window{Threshold: 900, Limit: 1000},
		Source: src,
		Sink:   &collectSink{},
		Coord:  coord,
	}
	p.Run()

	if src.calls != 900 {
		t.Fatalf("pump exited after %d attempts, want exactly 900", src.calls)
	}
	if !coord.CheckForError() {
		t.Fatal("fatal verdict not escalated")
	}
	if got := coord.Reason(); got != "audio-ingress source failure" {
		t.Fatalf("reason = %q", got)
	}
	if coord.Fatal() {
		t.Fatal("pump escalation must be non-fatal severity")
	}
}

func TestSinkFailuresCountIdentically(t *testing.T) {
	t.Parallel()

	src := make(chan media.Frame, 8)
	for i := 0; i < 5; i++ {
		src <- media.Frame{byte(i)}
	}

	coord := shutdown.New(nil)
	p := &Pump{
		Role:   "video-egress",
		Window: config.Window{Threshold: 3, Limit: 100},
		Source: ChanSource{C: src},
		Sink:   SinkFunc(func(media.Frame) error { return errors.New("write refused") }),
		Coord:  coord,
	}
	p.Run()

	if got := coord.Reason(); got != "video-egress sink failure" {
		t.Fatalf("reason = %q", got)
	}
	// Threshold 3: exactly three frames consumed, two left behind.
	if len(src) != 2 {
		t.Fatalf("%d frames left in source, want 2", len(src))
	}
}

func TestTransientFailuresAreAbsorbed(t *testing.T) {
	t.Parallel()

	// Every 5th attempt fails against a 50/100 window; the pump keeps
	// going and the coordinator never hears about it.
	var delivered int
	src := &scriptedSource{failOn: func(call int) bool {
		return call%5 == 0 && call <= 400
	}}
	coord := shutdown.New(nil)
	p := &Pump{
		Role:   "audio-egress",
		Window: config.Window{Threshold: 50, Limit: 100},
		Source: src,
		Sink: SinkFunc(func(media.Frame) error {
			delivered++
			if delivered >= 400 {
				coord.Shutdown() // end the test run gracefully
			}
			return nil
		}),
		Coord: coord,
	}
	p.Run()

	if coord.CheckForError() {
		t.Fatalf("transient failures escalated: %s", coord.Reason())
	}
}

func TestStopWinsOverReadyWork(t *testing.T) {
	t.Parallel()

	src := make(chan media.Frame, 1)
	src <- media.Frame{1} // work is ready the whole time

	coord := shutdown.New(nil)
	coord.NotifyError(false, "pre-existing")

	p := &Pump{
		Role:   "video-egress",
		Window: config.Window{Threshold: 1, Limit: 1},
		Source: ChanSource{C: src},
		Sink:   &collectSink{},
		Coord:  coord,
	}
	p.Run()

	if len(src) != 1 {
		t.Fatal("pump consumed work after the stop signal was already up")
	}
}

func TestBarrierGatesEgress(t *testing.T) {
	t.Parallel()

	src := make(chan media.Frame, 1)
	src <- media.Frame{1}

	coord := shutdown.New(nil)
	b := barrier.New(2)
	sink := &collectSink{}
	p := &Pump{
		Role:    "audio-egress",
		Window:  config.Window{Threshold: 1, Limit: 1},
		Source:  ChanSource{C: src},
		Sink:    sink,
		Coord:   coord,
		Barrier: b,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run()
	}()

	time.Sleep(50 * time.Millisecond)
	if len(sink.got()) != 0 {
		t.Fatal("pump emitted before the rendezvous released")
	}

	b.Wait(nil) // control plane arrives, barrier releases
	time.Sleep(50 * time.Millisecond)
	if len(sink.got()) != 1 {
		t.Fatal("frame not forwarded after barrier release")
	}

	coord.Shutdown()
	<-done
}

func TestAbortedBarrierExitsCleanly(t *testing.T) {
	t.Parallel()

	coord := shutdown.New(nil)
	p := &Pump{
		Role:    "video-egress",
		Window:  config.Window{Threshold: 1, Limit: 1},
		Source:  ChanSource{C: make(chan media.Frame)},
		Sink:    &collectSink{},
		Coord:   coord,
		Barrier: barrier.New(2),
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run()
	}()

	coord.NotifyError(false, "transport never came up")
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pump stranded on an abandoned rendezvous")
	}
}

func TestChanSinkDropsWhenFull(t *testing.T) {
	t.Parallel()

	out := make(chan media.Frame, 1)
	s := ChanSink{C: out}
	if err := s.Put(media.Frame{1}); err != nil {
		t.Fatalf("first put: %v", err)
	}
	if err := s.Put(media.Frame{2}); !errors.Is(err, ErrSinkFull) {
		t.Fatalf("second put = %v, want ErrSinkFull", err)
	}
}
