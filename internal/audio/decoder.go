// Package audio provides the ingress-side audio decode collaborator: a pure
// packet-to-PCM function the audio ingress pump runs each received frame
// through before handing samples to the playback channel. The pump stays
// agnostic to the codec; a decode failure is just one failed attempt.
package audio

import (
	"fmt"

	"github.com/pion/opus"

	"github.com/zsiec/beam/internal/media"
	"github.com/zsiec/beam/internal/pump"
)

// maxPCMFrame sizes the decode buffer: 120 ms at 48 kHz stereo s16le, the
// largest frame Opus can carry.
const maxPCMFrame = 2 * 2 * 48000 * 120 / 1000

// Decoder turns one transport audio packet into PCM sample bytes.
type Decoder interface {
	Decode(packet []byte) (pcm []byte, err error)
}

// OpusDecoder decodes Opus packets to s16le PCM. Not safe for concurrent
// use; each ingress pump owns its own.
type OpusDecoder struct {
	dec opus.Decoder
	buf []byte
}

// NewOpusDecoder creates a decoder with its reusable output buffer.
func NewOpusDecoder() *OpusDecoder {
	return &OpusDecoder{
		dec: opus.NewDecoder(),
		buf: make([]byte, maxPCMFrame),
	}
}

// Decode decodes one Opus packet. The returned slice is freshly allocated;
// the internal buffer is reused across calls.
func (d *OpusDecoder) Decode(packet []byte) ([]byte, error) {
	if len(packet) == 0 {
		return nil, fmt.Errorf("empty audio packet")
	}
	bandwidth, _, err := d.dec.Decode(packet, d.buf)
	if err != nil {
		return nil, fmt.Errorf("opus decode: %w", err)
	}
	// pion/opus fills the buffer for the packet's frame duration at the
	// bandwidth's sample rate, mono s16le: 20 ms per SILK frame.
	n := 2 * bandwidth.SampleRate() * 20 / 1000
	if n > len(d.buf) {
		n = len(d.buf)
	}
	out := make([]byte, n)
	copy(out, d.buf[:n])
	return out, nil
}

// Passthrough treats packets as raw PCM already. Used for loopback and
// synthetic sources where no encoder sits on the capture side.
type Passthrough struct{}

// Decode returns the packet unchanged.
func (Passthrough) Decode(packet []byte) ([]byte, error) {
	if len(packet) == 0 {
		return nil, fmt.Errorf("empty audio packet")
	}
	return packet, nil
}

// DecodedSink adapts a Decoder plus a bounded PCM channel into the Sink the
// audio ingress pump writes transport packets to. Decode failure surfaces as
// the sink error so the pump's tracker counts it like any other failure; a
// full PCM channel drops the samples (playback has fallen behind).
type DecodedSink struct {
	Decoder Decoder
	Out     chan<- media.Frame
}

// Put decodes packet and delivers the PCM frame.
func (s DecodedSink) Put(packet media.Frame) error {
	pcm, err := s.Decoder.Decode(packet)
	if err != nil {
		return err
	}
	select {
	case s.Out <- pcm:
		return nil
	default:
		return pump.ErrSinkFull
	}
}
