// Package srt adapts an external encoder feed into a beam capture backend.
// The host runs an SRT listener; a local encoder (OBS, ffmpeg with an
// srt:// output) publishes the screen capture into it, and every SRT
// payload read becomes one opaque video frame for the egress pump. beam
// never looks inside the payload; the viewer's player gets the same bytes.
package srt

import (
	"errors"
	"io"
	"log/slog"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/beam/internal/media"
	"github.com/zsiec/beam/internal/shutdown"
)

// readBufferSize fits the standard SRT payload: 1316 bytes, seven MPEG-TS
// packets.
const readBufferSize = 1316

// srtLatencyNs is the SRT latency setting in nanoseconds (120ms).
const srtLatencyNs = 120_000_000

// Source is an SRT-fed video capture backend. It accepts one publisher at a
// time; when a publisher drops, it goes back to accepting so the encoder can
// reconnect without restarting the session.
type Source struct {
	log  *slog.Logger
	addr string
	out  chan media.Frame
}

// New creates an SRT capture source listening on addr. If log is nil,
// slog.Default() is used.
func New(addr string, log *slog.Logger) *Source {
	if log == nil {
		log = slog.Default()
	}
	return &Source{
		log:  log.With("component", "srt-capture", "addr", addr),
		addr: addr,
		out:  make(chan media.Frame, media.VideoBufferSize),
	}
}

// Frames returns the video frame channel.
func (s *Source) Frames() <-chan media.Frame { return s.out }

// Run listens for encoder connections and pumps their payloads into the
// frame channel until the session stops. Failure to listen is a setup
// failure and escalates directly; read errors from a live publisher just
// end that publisher.
func (s *Source) Run(coord *shutdown.Coordinator) {
	coord.RegisterTask("srt-capture")
	defer close(s.out)

	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs

	l, err := srtgo.Listen(s.addr, cfg)
	if err != nil {
		s.log.Error("listen failed", "error", err)
		coord.NotifyError(false, "srt capture setup failure")
		return
	}
	s.log.Info("waiting for encoder feed")

	// Unblock Accept when the session ends.
	go func() {
		<-coord.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if coord.CheckForError() {
				return
			}
			select {
			case <-coord.Done():
				return
			default:
			}
			s.log.Warn("accept error", "error", err)
			continue
		}
		s.log.Info("encoder connected", "remote", conn.RemoteAddr())
		s.serve(coord, conn)
		select {
		case <-coord.Done():
			return
		default:
			s.log.Info("encoder disconnected, awaiting reconnect")
		}
	}
}

// serve reads one publisher until it drops or the session stops.
func (s *Source) serve(coord *shutdown.Coordinator, conn *srtgo.Conn) {
	defer conn.Close()

	buf := make([]byte, readBufferSize)
	var frames uint64
	for {
		select {
		case <-coord.Done():
			return
		default:
		}

		n, err := conn.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug("read error", "error", err)
			}
			return
		}
		if n == 0 {
			continue
		}
		frames++
		// The read buffer is reused, so the frame must own its bytes.
		select {
		case s.out <- media.Frame(buf[:n]).Clone():
		default:
			s.log.Debug("frame dropped, egress lagging", "frames", frames)
		}
	}
}
