// Package transport carries beam's media and control streams between the
// two peers over a single QUIC connection. Each stream role gets a labeled
// Track (an ordered QUIC stream with varint-framed payloads); connection
// lifecycle is surfaced as tagged events on a channel consumed by the
// orchestrator's single-owner state machine, never as callbacks.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

// Track labels for the four stream roles.
const (
	LabelVideo   = "video"
	LabelAudio   = "audio"
	LabelInput   = "input"
	LabelLatency = "latency"
)

// alpnProtocol identifies beam sessions during the TLS handshake.
const alpnProtocol = "beam/1"

// ErrClosed is returned by track operations after the session ended.
var ErrClosed = errors.New("transport: session closed")

// EventKind tags a connection lifecycle event.
type EventKind int

// Lifecycle events delivered on Session.Events.
const (
	// EventConnected fires once the QUIC handshake with the peer completed.
	// It is what times the startup-barrier release on the host.
	EventConnected EventKind = iota
	// EventTrackOpened fires when the peer opens a labeled track toward us.
	EventTrackOpened
	// EventClosed fires when the connection ends for any reason; Err holds
	// the cause when it was not a local close.
	EventClosed
)

// String returns the event name for logs.
func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventTrackOpened:
		return "track-opened"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is one tagged lifecycle event. Track is set for EventTrackOpened.
type Event struct {
	Kind  EventKind
	Track *Track
	Err   error
}

// Session is the negotiated transport with the remote peer. One side listens
// (host), the other dials (viewer); both ends look identical afterwards.
type Session struct {
	log    *slog.Logger
	conn   quic.Connection
	events chan Event

	closed     chan struct{}
	closeCause error
}

var quicConfig = &quic.Config{
	MaxIdleTimeout:  15 * time.Second,
	KeepAlivePeriod: 5 * time.Second,
}

// Listener waits for a peer to dial the host. beam sessions are one-to-one:
// callers Accept once and Close.
type Listener struct {
	ln  *quic.Listener
	log *slog.Logger
}

// Listen binds the host endpoint on addr.
func Listen(addr string, tlsConf *tls.Config, log *slog.Logger) (*Listener, error) {
	ln, err := quic.ListenAddr(addr, withALPN(tlsConf), quicConfig)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return &Listener{ln: ln, log: log}, nil
}

// Addr returns the bound address, useful when listening on port 0.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Accept waits for one peer and returns its session.
func (l *Listener) Accept(ctx context.Context) (*Session, error) {
	conn, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, fmt.Errorf("accept peer: %w", err)
	}
	return newSession(conn, l.log), nil
}

// Close stops accepting. Established sessions are unaffected.
func (l *Listener) Close() error { return l.ln.Close() }

// Dial connects to the host at addr.
func Dial(ctx context.Context, addr string, tlsConf *tls.Config, log *slog.Logger) (*Session, error) {
	tlsConf = withALPN(tlsConf)
	conn, err := quic.DialAddr(ctx, addr, tlsConf, quicConfig)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return newSession(conn, log), nil
}

func newSession(conn quic.Connection, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	s := &Session{
		log:    log.With("component", "transport", "remote", conn.RemoteAddr().String()),
		conn:   conn,
		events: make(chan Event, 16),
		closed: make(chan struct{}),
	}
	s.emit(Event{Kind: EventConnected})
	s.log.Info("peer connected")

	go s.watchConn()
	go s.acceptTracks()
	return s
}

// Events returns the lifecycle event channel. The orchestrator is its only
// consumer; events are dropped, not blocked on, if it falls behind.
func (s *Session) Events() <-chan Event { return s.events }

// OpenTrack opens a labeled track toward the peer.
func (s *Session) OpenTrack(ctx context.Context, label string) (*Track, error) {
	st, err := s.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("open track %q: %w", label, err)
	}
	if err := writeLabel(st, label); err != nil {
		st.Close()
		return nil, err
	}
	s.log.Debug("track opened", "label", label)
	return newTrack(label, st), nil
}

// Close tears the connection down deliberately. Blocked track reads and
// writes on both ends return errors promptly afterwards; the peer observes
// a graceful EventClosed, not a failure.
func (s *Session) Close() error {
	return s.conn.CloseWithError(closeCodeGraceful, "session closed")
}

// Abort tears the connection down signaling failure, so the peer's
// EventClosed carries a cause.
func (s *Session) Abort(reason string) error {
	return s.conn.CloseWithError(closeCodeError, reason)
}

const (
	closeCodeGraceful quic.ApplicationErrorCode = 0
	closeCodeError    quic.ApplicationErrorCode = 1
)

// Closed returns a channel closed once the connection has ended and its
// cause is known. Track readers use it to tell teardown from failure
// instead of spinning on a dead stream.
func (s *Session) Closed() <-chan struct{} { return s.closed }

// CloseCause returns why the connection ended, nil for a deliberate close.
// Valid only after Closed is closed.
func (s *Session) CloseCause() error { return s.closeCause }

// watchConn turns connection death into an EventClosed. A deliberate close,
// local or remote, is reported with a nil Err.
func (s *Session) watchConn() {
	<-s.conn.Context().Done()
	err := context.Cause(s.conn.Context())
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) && appErr.ErrorCode == closeCodeGraceful {
		err = nil
	}
	s.closeCause = err
	close(s.closed)
	s.log.Info("connection closed", "cause", err)
	s.emit(Event{Kind: EventClosed, Err: err})
}

// acceptTracks converts peer-opened streams into EventTrackOpened events.
func (s *Session) acceptTracks() {
	for {
		st, err := s.conn.AcceptStream(context.Background())
		if err != nil {
			// Connection gone; watchConn reports it.
			return
		}
		tr := newTrack("", st)
		label, err := readLabel(tr.reader)
		if err != nil {
			s.log.Warn("rejecting unlabeled stream", "error", err)
			st.Close()
			continue
		}
		tr.label = label
		s.log.Debug("track accepted", "label", label)
		s.emit(Event{Kind: EventTrackOpened, Track: tr})
	}
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.log.Warn("event dropped, consumer lagging", "event", ev.Kind.String())
	}
}

func withALPN(tlsConf *tls.Config) *tls.Config {
	out := tlsConf.Clone()
	out.NextProtos = []string{alpnProtocol}
	return out
}
