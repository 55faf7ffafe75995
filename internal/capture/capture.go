// Package capture defines the host-side capture backend contract and ships
// two synthetic backends. Real screen and audio grabbers live behind the
// same contract (the SRT subpackage adapts an external encoder feed); the
// synthetic ones drive loopback runs and tests without any device access.
//
// A backend owns a producing goroutine that pushes frames into its bounded
// channel; the egress pump is the only consumer. Backend failure surfaces
// as a closed channel or an escalation through the coordinator, never as a
// panic into the pump.
package capture

import (
	"encoding/binary"
	"log/slog"
	"time"

	"github.com/zsiec/beam/internal/media"
	"github.com/zsiec/beam/internal/shutdown"
)

// Backend produces capture frames until the session stops.
type Backend interface {
	// Frames returns the bounded channel the backend produces into. It is
	// closed when the backend stops producing for good.
	Frames() <-chan media.Frame
	// Run produces frames until the coordinator reaches a terminal state.
	// It blocks; callers spawn it.
	Run(coord *shutdown.Coordinator)
}

// Pattern is a synthetic video backend: fixed-rate frames with a counter
// header and deterministic payload, enough to exercise the full egress path
// and let the far end verify ordering.
type Pattern struct {
	log       *slog.Logger
	fps       int
	frameSize int
	out       chan media.Frame
}

// NewPattern creates a pattern source at the given frame rate and frame
// size. If log is nil, slog.Default() is used.
func NewPattern(fps, frameSize int, log *slog.Logger) *Pattern {
	if log == nil {
		log = slog.Default()
	}
	if fps <= 0 {
		fps = 30
	}
	if frameSize < 8 {
		frameSize = 8
	}
	return &Pattern{
		log:       log.With("component", "pattern-capture"),
		fps:       fps,
		frameSize: frameSize,
		out:       make(chan media.Frame, media.VideoBufferSize),
	}
}

// Frames returns the video frame channel.
func (p *Pattern) Frames() <-chan media.Frame { return p.out }

// Run emits one frame per tick until the session stops, then closes the
// channel. A full buffer drops the frame; the pump will see a gap, not a
// stall.
func (p *Pattern) Run(coord *shutdown.Coordinator) {
	coord.RegisterTask("pattern-capture")
	defer close(p.out)

	ticker := time.NewTicker(time.Second / time.Duration(p.fps))
	defer ticker.Stop()

	var seq uint64
	for {
		select {
		case <-coord.Done():
			p.log.Info("capture stopping", "frames", seq)
			return
		case <-ticker.C:
			frame := make(media.Frame, p.frameSize)
			binary.BigEndian.PutUint64(frame, seq)
			for i := 8; i < len(frame); i++ {
				frame[i] = byte(seq + uint64(i))
			}
			seq++
			select {
			case p.out <- frame:
			default:
				p.log.Debug("frame dropped, egress lagging", "seq", seq-1)
			}
		}
	}
}

// PatternSeq reads the sequence number a Pattern frame carries, for
// order-checking consumers.
func PatternSeq(frame media.Frame) uint64 {
	if len(frame) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(frame)
}

// Tone is a synthetic audio backend: 20 ms PCM frames of a fixed-amplitude
// square wave, paired with the passthrough decoder on the far end.
type Tone struct {
	log *slog.Logger
	out chan media.Frame
}

// toneFrameBytes is 20 ms of 48 kHz mono s16le.
const toneFrameBytes = 2 * 48000 * 20 / 1000

// NewTone creates a tone source. If log is nil, slog.Default() is used.
func NewTone(log *slog.Logger) *Tone {
	if log == nil {
		log = slog.Default()
	}
	return &Tone{
		log: log.With("component", "tone-capture"),
		out: make(chan media.Frame, media.AudioBufferSize),
	}
}

// Frames returns the audio packet channel.
func (t *Tone) Frames() <-chan media.Frame { return t.out }

// Run emits one packet per 20 ms tick until the session stops.
func (t *Tone) Run(coord *shutdown.Coordinator) {
	coord.RegisterTask("tone-capture")
	defer close(t.out)

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	var phase bool
	for {
		select {
		case <-coord.Done():
			t.log.Info("capture stopping")
			return
		case <-ticker.C:
			frame := make(media.Frame, toneFrameBytes)
			sample := int16(4096)
			if phase {
				sample = -4096
			}
			phase = !phase
			for i := 0; i < len(frame); i += 2 {
				binary.LittleEndian.PutUint16(frame[i:], uint16(sample))
			}
			select {
			case t.out <- frame:
			default:
				t.log.Debug("audio packet dropped, egress lagging")
			}
		}
	}
}
