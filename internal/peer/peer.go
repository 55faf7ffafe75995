// Package peer wires one end of a beam session: pumps, capture or playback,
// the startup barrier, the latency probe, and the transport, all sharing one
// shutdown coordinator. Host and View are the two role orchestrators; each
// owns the session's lifecycle events and is the only consumer of them.
package peer

import (
	"fmt"
	"time"

	"github.com/zsiec/beam/internal/media"
	"github.com/zsiec/beam/internal/pump"
	"github.com/zsiec/beam/internal/shutdown"
	"github.com/zsiec/beam/internal/transport"
)

// frameReader is the reading side of a track.
type frameReader interface {
	ReadFrame() ([]byte, error)
}

// frameTrack is the full track surface the latency wrapper forwards.
type frameTrack interface {
	frameReader
	WriteFrame([]byte) error
}

// sessionState is how the track adapters observe connection closure.
type sessionState interface {
	Closed() <-chan struct{}
	CloseCause() error
}

// closeGrace is how long a failed track read or write waits for the session
// to classify a closure before the error is charged to the pump's tracker.
// Connection death classifies within microseconds of the failing I/O, so the
// grace only defuses that scheduling race; errors on a live connection (a
// corrupt frame prefix, a reset stream) fall through and count normally.
const closeGrace = 10 * time.Millisecond

// trackSource adapts a track's reads into a pump source. Reads block until
// session teardown closes the stream. A failed read waits out the closure
// classification: teardown becomes a stop, anything else a source failure.
type trackSource struct {
	t    frameReader
	sess sessionState
}

func (s trackSource) Take(stop <-chan struct{}) (media.Frame, error) {
	frame, err := s.t.ReadFrame()
	if err != nil {
		timer := time.NewTimer(closeGrace)
		defer timer.Stop()
		select {
		case <-s.sess.Closed():
			if s.sess.CloseCause() == nil {
				return nil, pump.ErrStopped
			}
			return nil, err
		case <-stop:
			return nil, pump.ErrStopped
		case <-timer.C:
			return nil, err
		}
	}
	return media.Frame(frame), nil
}

// trackSink adapts a track's writes into a pump sink.
type trackSink struct {
	t *transport.Track
}

func (s trackSink) Put(f media.Frame) error { return s.t.WriteFrame(f) }

// sessionTrack wraps the latency track so connection teardown cannot
// masquerade as a burst of probe failures: a failed read or write waits out
// the closure classification, and a deliberate close additionally waits for
// the coordinator so the caller's stop check fires first. Errors on a live
// connection pass through after the grace and count.
type sessionTrack struct {
	t     frameTrack
	sess  sessionState
	coord *shutdown.Coordinator
}

func (s sessionTrack) WriteFrame(frame []byte) error {
	if err := s.t.WriteFrame(frame); err != nil {
		return s.settle(err)
	}
	return nil
}

func (s sessionTrack) ReadFrame() ([]byte, error) {
	frame, err := s.t.ReadFrame()
	if err != nil {
		return nil, s.settle(err)
	}
	return frame, nil
}

func (s sessionTrack) settle(err error) error {
	timer := time.NewTimer(closeGrace)
	defer timer.Stop()
	select {
	case <-s.sess.Closed():
		if s.sess.CloseCause() == nil {
			<-s.coord.Done()
		}
	case <-s.coord.Done():
	case <-timer.C:
	}
	return err
}

// sessionResult converts the coordinator's terminal state into the Run
// result: nil for a deliberate shutdown, the recorded reason otherwise.
func sessionResult(coord *shutdown.Coordinator) error {
	if coord.CheckForError() {
		return fmt.Errorf("session failed: %s", coord.Reason())
	}
	return nil
}

// notifyPeerGone reacts to the connection ending. A deliberate close by the
// peer (nil cause) is a graceful stop; anything else is a session failure.
// Already-terminal sessions treat the closure as their own teardown.
func notifyPeerGone(coord *shutdown.Coordinator, cause error) {
	select {
	case <-coord.Done():
		return
	default:
	}
	if cause == nil {
		coord.Shutdown()
		return
	}
	coord.NotifyError(false, "peer connection closed")
}

// closeOnDone ties the session's lifetime to the coordinator: teardown is
// what unblocks track reads and writes everywhere, and the close code tells
// the peer whether this end stopped or failed.
func closeOnDone(coord *shutdown.Coordinator, sess *transport.Session) {
	<-coord.Done()
	if coord.CheckForError() {
		sess.Abort(coord.Reason())
		return
	}
	sess.Close()
}
