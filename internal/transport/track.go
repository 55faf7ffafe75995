package transport

import (
	"bufio"
	"fmt"
	"io"

	"github.com/quic-go/quic-go/quicvarint"
)

// maxFrameSize bounds a single frame on the wire. Video frames arrive as
// SRT-sized chunks and input/latency frames are tiny, so anything past 1 MiB
// is a corrupt length prefix, not a real frame.
const maxFrameSize = 1 << 20

// maxLabelSize bounds the track label exchanged at open.
const maxLabelSize = 64

// Track is one labeled, ordered byte-stream between the peers. Media and
// control streams each get their own track; frames are varint-length-prefixed
// blobs. A track is owned by exactly one writing and one reading loop, so no
// locking happens here.
type Track struct {
	label  string
	rw     io.ReadWriteCloser
	reader *bufio.Reader
}

func newTrack(label string, rw io.ReadWriteCloser) *Track {
	return &Track{
		label:  label,
		rw:     rw,
		reader: bufio.NewReader(rw),
	}
}

// Label returns the label negotiated when the track was opened.
func (t *Track) Label() string { return t.label }

// WriteFrame writes one length-prefixed frame. The prefix and payload go out
// in a single Write so a partial write cannot interleave with stream closure
// mid-frame.
func (t *Track) WriteFrame(frame []byte) error {
	if len(frame) > maxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds wire limit", len(frame))
	}
	buf := quicvarint.Append(make([]byte, 0, len(frame)+4), uint64(len(frame)))
	buf = append(buf, frame...)
	if _, err := t.rw.Write(buf); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadFrame reads the next length-prefixed frame. It blocks until a frame is
// available or the underlying stream fails; session teardown closes the
// stream, which makes a blocked read return promptly.
func (t *Track) ReadFrame() ([]byte, error) {
	size, err := quicvarint.Read(t.reader)
	if err != nil {
		return nil, fmt.Errorf("read frame length: %w", err)
	}
	if size > maxFrameSize {
		return nil, fmt.Errorf("frame length %d exceeds wire limit", size)
	}
	frame := make([]byte, size)
	if _, err := io.ReadFull(t.reader, frame); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	return frame, nil
}

// Close closes the underlying stream.
func (t *Track) Close() error { return t.rw.Close() }

// writeLabel sends the track label as a varint-length-prefixed string,
// the first bytes on a freshly opened stream.
func writeLabel(w io.Writer, label string) error {
	if len(label) == 0 || len(label) > maxLabelSize {
		return fmt.Errorf("bad track label %q", label)
	}
	buf := quicvarint.Append(make([]byte, 0, len(label)+2), uint64(len(label)))
	buf = append(buf, label...)
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("write track label: %w", err)
	}
	return nil
}

// readLabel reads the peer's track label off a freshly accepted stream.
func readLabel(r *bufio.Reader) (string, error) {
	size, err := quicvarint.Read(r)
	if err != nil {
		return "", fmt.Errorf("read track label length: %w", err)
	}
	if size == 0 || size > maxLabelSize {
		return "", fmt.Errorf("bad track label length %d", size)
	}
	label := make([]byte, size)
	if _, err := io.ReadFull(r, label); err != nil {
		return "", fmt.Errorf("read track label: %w", err)
	}
	return string(label), nil
}
