// Package pump implements the generic producer/consumer loop every beam
// stream is built on: frames move from a source to a sink for the lifetime
// of one stream, under a per-pump error-rate window and process-wide
// cooperative cancellation. Audio, video, and input streams in both
// directions are all instances of this one loop.
package pump

import (
	"errors"
	"log/slog"

	"github.com/zsiec/beam/internal/barrier"
	"github.com/zsiec/beam/internal/config"
	"github.com/zsiec/beam/internal/errtrack"
	"github.com/zsiec/beam/internal/media"
	"github.com/zsiec/beam/internal/shutdown"
)

// Sentinel results a Source can return from Take.
var (
	// ErrStopped means the source observed the stop signal; the pump exits
	// without charging the tracker.
	ErrStopped = errors.New("pump: stopped")
	// ErrSourceClosed means the producing side went away. It counts as an
	// ordinary failed attempt: persistent closure trips the window.
	ErrSourceClosed = errors.New("pump: source closed")
	// ErrSinkFull means the consuming side cannot accept the frame right
	// now. The frame is dropped and the attempt counts as failed.
	ErrSinkFull = errors.New("pump: sink full")
)

// Source yields the next frame. Implementations either race stop internally
// (channel-backed sources) or guarantee that session teardown makes a
// blocked Take return promptly (transport reads, whose streams are closed
// by the session on cancellation).
type Source interface {
	Take(stop <-chan struct{}) (media.Frame, error)
}

// Sink accepts one frame. A failed Put means the frame is lost; the pump
// never retries a frame, it moves on to the next attempt.
type Sink interface {
	Put(media.Frame) error
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(stop <-chan struct{}) (media.Frame, error)

// Take calls fn.
func (fn SourceFunc) Take(stop <-chan struct{}) (media.Frame, error) { return fn(stop) }

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(media.Frame) error

// Put calls fn.
func (fn SinkFunc) Put(f media.Frame) error { return fn(f) }

// ChanSource reads frames from a bounded channel, racing the stop signal so
// cancellation is observed at the suspension point, not by polling.
type ChanSource struct {
	C <-chan media.Frame
}

// Take returns the next frame, ErrSourceClosed once the channel is closed,
// or ErrStopped when stop wins the race.
func (s ChanSource) Take(stop <-chan struct{}) (media.Frame, error) {
	select {
	case f, ok := <-s.C:
		if !ok {
			return nil, ErrSourceClosed
		}
		return f, nil
	case <-stop:
		return nil, ErrStopped
	}
}

// ChanSink delivers frames into a bounded channel without blocking. A full
// buffer drops the frame; for live media, stale frames are worth less than
// keeping the pipeline moving.
type ChanSink struct {
	C chan<- media.Frame
}

// Put delivers f or returns ErrSinkFull.
func (s ChanSink) Put(f media.Frame) error {
	select {
	case s.C <- f:
		return nil
	default:
		return ErrSinkFull
	}
}

// Pump moves frames from Source to Sink until a fatal verdict, the
// coordinator stopping, or an aborted startup rendezvous. One Pump per
// stream direction; the tracker inside is never shared.
type Pump struct {
	Role    string
	Window  config.Window
	Source  Source
	Sink    Sink
	Coord   *shutdown.Coordinator
	Barrier *barrier.Barrier // nil for pumps not gated on transport readiness
	Log     *slog.Logger
}

// Run executes the pump loop. It blocks until the pump exits and always
// leaves its task registration and tracker behind; a dead stream is not
// resurrected here.
func (p *Pump) Run() {
	log := p.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("pump", p.Role)

	p.Coord.RegisterTask(p.Role)

	if p.Barrier != nil {
		if !p.Barrier.Wait(p.Coord.Done()) {
			log.Info("startup rendezvous abandoned")
			return
		}
		log.Debug("startup rendezvous released")
	}

	tracker := errtrack.New(p.Window.Threshold, p.Window.Limit)
	stop := p.Coord.Done()

	for {
		// Stop wins when both the stop signal and work are ready.
		select {
		case <-stop:
			log.Info("pump stopping", "reason", p.Coord.Reason())
			return
		default:
		}

		frame, err := p.Source.Take(stop)
		switch {
		case errors.Is(err, ErrStopped):
			log.Info("pump stopping", "reason", p.Coord.Reason())
			return
		case err != nil:
			if tracker.RecordFailure() {
				log.Error("persistent source failure", "error", err)
				p.Coord.NotifyError(false, p.Role+" source failure")
				return
			}
			log.Warn("source error", "error", err)
			continue
		}

		if err := p.Sink.Put(frame); err != nil {
			if tracker.RecordFailure() {
				log.Error("persistent sink failure", "error", err)
				p.Coord.NotifyError(false, p.Role+" sink failure")
				return
			}
			log.Warn("sink error, frame dropped", "error", err)
			continue
		}
		tracker.RecordSuccess()

		if p.Coord.CheckForError() {
			return
		}
	}
}
