// Package media defines the frame type that flows through every beam stream
// pump, from capture through the transport to playback.
package media

// Channel buffer sizes used by producers (capture backends) and consumers
// (transport writers, playback backends) to decouple production from
// consumption. Sized to absorb scheduling jitter without adding visible
// latency: ~1s of video at 60fps, ~2.5s of 20ms audio packets.
const (
	VideoBufferSize = 60
	AudioBufferSize = 120
	InputBufferSize = 256
)

// Frame is one unit of captured or received stream data: opaque bytes whose
// only ordering is arrival order within its stream. Ownership transfers fully
// from producer to consumer through a channel; neither side retains aliases.
type Frame []byte

// Clone returns an independent copy, for the rare producer that must reuse
// its read buffer (SRT socket reads).
func (f Frame) Clone() Frame {
	out := make(Frame, len(f))
	copy(out, f)
	return out
}
