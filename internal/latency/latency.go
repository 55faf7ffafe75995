// Package latency measures the round trip to the peer over the dedicated
// latency track. The viewer runs a Prober that periodically sends a
// timestamped probe and reads the echo; the host runs a Responder that
// reflects every probe unchanged. Neither side is a pump: the probe is its
// own periodic task with its own error window, and clock synchronization
// between the peers stays external (RTT only needs the local clock).
package latency

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zsiec/beam/internal/config"
	"github.com/zsiec/beam/internal/errtrack"
	"github.com/zsiec/beam/internal/shutdown"
)

// probeSize is the fixed probe frame: sequence number plus send timestamp.
const probeSize = 4 + 8

// sampleWindow is how many recent RTT samples the prober keeps.
const sampleWindow = 32

// Clock supplies timestamps so tests can script time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now calls fn.
func (fn ClockFunc) Now() time.Time { return fn() }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// FrameTrack is the subset of the transport track the probe needs.
type FrameTrack interface {
	WriteFrame([]byte) error
	ReadFrame() ([]byte, error)
}

func encodeProbe(seq uint32, sent time.Time) []byte {
	buf := make([]byte, probeSize)
	binary.BigEndian.PutUint32(buf, seq)
	binary.BigEndian.PutUint64(buf[4:], uint64(sent.UnixNano()))
	return buf
}

func decodeProbe(frame []byte) (seq uint32, sent time.Time, err error) {
	if len(frame) != probeSize {
		return 0, time.Time{}, fmt.Errorf("latency probe is %d bytes, want %d", len(frame), probeSize)
	}
	seq = binary.BigEndian.Uint32(frame)
	sent = time.Unix(0, int64(binary.BigEndian.Uint64(frame[4:])))
	return seq, sent, nil
}

// Prober is the viewer-side half. Each interval it writes one probe and
// blocks for the echo; an echo with a stale sequence number is skipped until
// the current one arrives. Failed round trips feed the probe's error window
// and a persistently dead track escalates like any other stream.
type Prober struct {
	Track    FrameTrack
	Interval time.Duration
	Window   config.Window
	Coord    *shutdown.Coordinator
	Clock    Clock // nil means the system clock
	Log      *slog.Logger

	mu      sync.Mutex
	samples []time.Duration
}

// Run probes until the session stops or the window trips. It blocks.
func (p *Prober) Run() {
	log := p.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "latency-probe")

	clock := p.Clock
	if clock == nil {
		clock = systemClock{}
	}

	p.Coord.RegisterTask("latency-probe")
	tracker := errtrack.New(p.Window.Threshold, p.Window.Limit)

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	var seq uint32
	for {
		select {
		case <-p.Coord.Done():
			log.Info("probe stopping", "reason", p.Coord.Reason())
			return
		case <-ticker.C:
		}

		seq++
		rtt, err := p.roundTrip(clock, seq)
		if err != nil {
			if tracker.RecordFailure() {
				log.Error("persistent probe failure", "error", err)
				p.Coord.NotifyError(false, "latency probe failure")
				return
			}
			log.Warn("probe failed", "seq", seq, "error", err)
			continue
		}
		tracker.RecordSuccess()
		p.record(rtt)
		log.Debug("round trip measured", "seq", seq, "rtt", rtt)
	}
}

// roundTrip sends one probe and waits for its echo. The read blocks; session
// teardown closes the track, which makes a blocked read return.
func (p *Prober) roundTrip(clock Clock, seq uint32) (time.Duration, error) {
	sent := clock.Now()
	if err := p.Track.WriteFrame(encodeProbe(seq, sent)); err != nil {
		return 0, err
	}
	for {
		frame, err := p.Track.ReadFrame()
		if err != nil {
			return 0, err
		}
		echoSeq, echoSent, err := decodeProbe(frame)
		if err != nil {
			return 0, err
		}
		if echoSeq < seq {
			// Late echo of an earlier probe; keep reading for the current one.
			continue
		}
		if echoSeq != seq || !echoSent.Equal(sent) {
			return 0, fmt.Errorf("echo mismatch: got seq %d, want %d", echoSeq, seq)
		}
		return clock.Now().Sub(sent), nil
	}
}

func (p *Prober) record(rtt time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.samples = append(p.samples, rtt)
	if len(p.samples) > sampleWindow {
		p.samples = p.samples[len(p.samples)-sampleWindow:]
	}
}

// Last returns the most recent RTT, or zero before the first sample.
func (p *Prober) Last() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.samples) == 0 {
		return 0
	}
	return p.samples[len(p.samples)-1]
}

// Average returns the mean of the retained samples, or zero before the first.
func (p *Prober) Average() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.samples) == 0 {
		return 0
	}
	var sum time.Duration
	for _, s := range p.samples {
		sum += s
	}
	return sum / time.Duration(len(p.samples))
}

// Responder is the host-side half: it echoes every probe unchanged. Malformed
// probes and write failures feed its window the same way probe failures feed
// the prober's.
type Responder struct {
	Track  FrameTrack
	Window config.Window
	Coord  *shutdown.Coordinator
	Log    *slog.Logger
}

// Run echoes probes until the session stops or the window trips. It blocks.
func (r *Responder) Run() {
	log := r.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "latency-echo")

	r.Coord.RegisterTask("latency-echo")
	tracker := errtrack.New(r.Window.Threshold, r.Window.Limit)

	for {
		select {
		case <-r.Coord.Done():
			log.Info("echo stopping", "reason", r.Coord.Reason())
			return
		default:
		}

		frame, err := r.Track.ReadFrame()
		if err == nil {
			if _, _, derr := decodeProbe(frame); derr != nil {
				err = derr
			} else {
				err = r.Track.WriteFrame(frame)
			}
		}
		if err != nil {
			if tracker.RecordFailure() {
				log.Error("persistent echo failure", "error", err)
				r.Coord.NotifyError(false, "latency echo failure")
				return
			}
			log.Warn("echo failed", "error", err)
			continue
		}
		tracker.RecordSuccess()
	}
}
