// Package playback delivers received frames to whatever renders them. The
// actual decoder/renderer is an external program or device: video frames
// are forwarded over UDP (or any io.Writer) to a local player, PCM audio
// goes to a device feed the same way. When no destination is configured,
// frames are counted and discarded so a headless viewer still exercises the
// whole path.
package playback

import (
	"fmt"
	"io"
	"net"
	"sync/atomic"

	"github.com/zsiec/beam/internal/media"
)

// WriterSink writes each frame to w as-is. One frame per Write call, which
// over a UDP connection preserves datagram boundaries for the player.
type WriterSink struct {
	w        io.Writer
	name     string
	accepted atomic.Int64
}

// NewWriterSink wraps w; name appears in diagnostics.
func NewWriterSink(w io.Writer, name string) *WriterSink {
	return &WriterSink{w: w, name: name}
}

// NewUDPSink resolves addr and forwards frames to it as datagrams.
func NewUDPSink(addr string) (*WriterSink, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial playback %s: %w", addr, err)
	}
	return NewWriterSink(conn, "udp:"+addr), nil
}

// Put writes one frame.
func (s *WriterSink) Put(frame media.Frame) error {
	if _, err := s.w.Write(frame); err != nil {
		return fmt.Errorf("playback write to %s: %w", s.name, err)
	}
	s.accepted.Add(1)
	return nil
}

// Accepted returns how many frames were delivered.
func (s *WriterSink) Accepted() int64 { return s.accepted.Load() }

// Discard counts frames and drops them. The headless default.
type Discard struct {
	accepted atomic.Int64
}

// Put accepts and drops the frame.
func (s *Discard) Put(media.Frame) error {
	s.accepted.Add(1)
	return nil
}

// Accepted returns how many frames were dropped on the floor.
func (s *Discard) Accepted() int64 { return s.accepted.Load() }
