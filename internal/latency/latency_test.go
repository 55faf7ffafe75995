package latency

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/zsiec/beam/internal/config"
	"github.com/zsiec/beam/internal/shutdown"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestProbeCodecRoundTrip(t *testing.T) {
	t.Parallel()

	sent := time.Unix(1700000000, 123456789)
	seq, got, err := decodeProbe(encodeProbe(42, sent))
	if err != nil {
		t.Fatalf("decodeProbe: %v", err)
	}
	if seq != 42 || !got.Equal(sent) {
		t.Fatalf("got seq %d at %v, want 42 at %v", seq, got, sent)
	}

	for _, frame := range [][]byte{nil, make([]byte, probeSize-1), make([]byte, probeSize+1)} {
		if _, _, err := decodeProbe(frame); err == nil {
			t.Errorf("%d-byte probe accepted", len(frame))
		}
	}
}

// echoTrack reflects every written frame back to the next read, after
// optionally prepending scripted frames.
type echoTrack struct {
	pending [][]byte
}

func (e *echoTrack) WriteFrame(frame []byte) error {
	e.pending = append(e.pending, frame)
	return nil
}

func (e *echoTrack) ReadFrame() ([]byte, error) {
	if len(e.pending) == 0 {
		return nil, errors.New("no echo pending")
	}
	f := e.pending[0]
	e.pending = e.pending[1:]
	return f, nil
}

// steppingClock advances a fixed amount per Now call.
func steppingClock(start time.Time, step time.Duration) Clock {
	now := start
	return ClockFunc(func() time.Time {
		t := now
		now = now.Add(step)
		return t
	})
}

func TestRoundTripMeasuresClockDelta(t *testing.T) {
	t.Parallel()

	p := &Prober{Track: &echoTrack{}}
	clock := steppingClock(time.Unix(100, 0), 5*time.Millisecond)

	rtt, err := p.roundTrip(clock, 1)
	if err != nil {
		t.Fatalf("roundTrip: %v", err)
	}
	if rtt != 5*time.Millisecond {
		t.Fatalf("rtt = %v, want 5ms", rtt)
	}
}

func TestRoundTripSkipsStaleEcho(t *testing.T) {
	t.Parallel()

	stale := encodeProbe(3, time.Unix(50, 0))
	tr := &echoTrack{pending: [][]byte{stale}}
	p := &Prober{Track: tr}

	rtt, err := p.roundTrip(steppingClock(time.Unix(100, 0), time.Millisecond), 4)
	if err != nil {
		t.Fatalf("roundTrip: %v", err)
	}
	if rtt != time.Millisecond {
		t.Fatalf("rtt = %v", rtt)
	}
}

func TestRoundTripRejectsMismatchedEcho(t *testing.T) {
	t.Parallel()

	future := encodeProbe(9, time.Unix(50, 0))
	tr := &echoTrack{pending: [][]byte{future}}
	p := &Prober{Track: tr}

	if _, err := p.roundTrip(steppingClock(time.Unix(100, 0), time.Millisecond), 4); err == nil {
		t.Fatal("mismatched echo accepted")
	}
}

type deadTrack struct{}

func (deadTrack) WriteFrame([]byte) error { return errors.New("track torn down") }
func (deadTrack) ReadFrame() ([]byte, error) { return nil, errors.New("track torn down") }

func TestProberEscalatesPersistentFailure(t *testing.T) {
	t.Parallel()

	coord := shutdown.New(nil)
	p := &Prober{
		Track:    deadTrack{},
		Interval: time.Millisecond,
		Window:   config.Window{Threshold: 3, Limit: 10},
		Coord:    coord,
	}

	done := make(chan struct{})
	go func() {
		p.Run()
		close(done)
	}()

	select {
	case <-coord.WaitForError():
	case <-time.After(2 * time.Second):
		t.Fatal("prober never escalated")
	}
	<-done

	if coord.Fatal() {
		t.Error("probe failure reported as fatal severity")
	}
	if got := coord.Reason(); got != "latency probe failure" {
		t.Errorf("reason = %q", got)
	}
}

func TestProberStopsOnShutdown(t *testing.T) {
	t.Parallel()

	coord := shutdown.New(nil)
	p := &Prober{
		Track:    &echoTrack{},
		Interval: time.Hour,
		Window:   config.DefaultLatencyWindow,
		Coord:    coord,
	}

	done := make(chan struct{})
	go func() {
		p.Run()
		close(done)
	}()

	coord.Shutdown()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("prober did not stop")
	}
}

func TestProberSampleStats(t *testing.T) {
	t.Parallel()

	p := &Prober{}
	if p.Last() != 0 || p.Average() != 0 {
		t.Fatal("stats nonzero before first sample")
	}
	p.record(10 * time.Millisecond)
	p.record(30 * time.Millisecond)
	if p.Last() != 30*time.Millisecond {
		t.Fatalf("Last = %v", p.Last())
	}
	if p.Average() != 20*time.Millisecond {
		t.Fatalf("Average = %v", p.Average())
	}

	for i := 0; i < 2*sampleWindow; i++ {
		p.record(time.Millisecond)
	}
	if p.Average() != time.Millisecond {
		t.Fatalf("rolling window not trimmed: avg %v", p.Average())
	}
}

// chanTrack is a frame pipe: reads pull from in, writes push to out.
type chanTrack struct {
	in  chan []byte
	out chan []byte
}

func (c *chanTrack) WriteFrame(frame []byte) error {
	c.out <- frame
	return nil
}

func (c *chanTrack) ReadFrame() ([]byte, error) {
	frame, ok := <-c.in
	if !ok {
		return nil, errors.New("track closed")
	}
	return frame, nil
}

func TestResponderEchoesProbes(t *testing.T) {
	t.Parallel()

	tr := &chanTrack{in: make(chan []byte), out: make(chan []byte, 1)}
	coord := shutdown.New(nil)
	r := &Responder{Track: tr, Window: config.DefaultLatencyWindow, Coord: coord}

	done := make(chan struct{})
	go func() {
		r.Run()
		close(done)
	}()

	probe := encodeProbe(7, time.Unix(100, 0))
	tr.in <- probe
	select {
	case echo := <-tr.out:
		if string(echo) != string(probe) {
			t.Errorf("echo differs from probe")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no echo")
	}

	coord.Shutdown()
	close(tr.in)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("responder did not stop")
	}
}

func TestResponderEscalatesDeadTrack(t *testing.T) {
	t.Parallel()

	coord := shutdown.New(nil)
	r := &Responder{
		Track:  deadTrack{},
		Window: config.Window{Threshold: 5, Limit: 20},
		Coord:  coord,
	}

	done := make(chan struct{})
	go func() {
		r.Run()
		close(done)
	}()

	select {
	case <-coord.WaitForError():
	case <-time.After(2 * time.Second):
		t.Fatal("responder never escalated")
	}
	<-done

	if got := coord.Reason(); got != "latency echo failure" {
		t.Errorf("reason = %q", got)
	}
}
