// Package config holds the canonical tuning table for beam's stream roles.
// The fault-tolerance window of every pump and the startup-barrier party
// count live here and nowhere else; the historical scatter of per-call-site
// threshold/limit constants is deliberately collapsed into this one table,
// with env overrides for operational retuning.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Window is an error-rate window for one stream role: a pump is fatally
// broken once Threshold failures accumulate within Limit attempts.
type Window struct {
	Threshold int
	Limit     int
}

// Validate reports whether the window is usable by a tracker.
func (w Window) Validate() error {
	if w.Threshold <= 0 || w.Threshold > w.Limit {
		return fmt.Errorf("invalid error window %d/%d: need 0 < threshold <= limit", w.Threshold, w.Limit)
	}
	return nil
}

// Default windows per role. Egress pumps get the wide window the sender
// historically used; transport reads get the tight 50-in-100 window; input
// injection sits in between. Override with BEAM_<ROLE>_THRESHOLD / _LIMIT.
var (
	DefaultEgressWindow  = Window{Threshold: 900, Limit: 1000}
	DefaultIngressWindow = Window{Threshold: 50, Limit: 100}
	DefaultInputWindow   = Window{Threshold: 500, Limit: 1000}
	DefaultLatencyWindow = Window{Threshold: 50, Limit: 100}
)

// Config carries every externally tunable parameter of a beam session.
type Config struct {
	// Addr is the QUIC address the host listens on and the viewer dials.
	Addr string
	// SRTAddr is where the host's local encoder publishes video (SRT).
	// Empty selects the synthetic test-pattern source.
	SRTAddr string
	// PlaybackAddr is the UDP address the viewer forwards video frames to
	// for an external player. Empty discards frames after accounting.
	PlaybackAddr string
	// AudioPlaybackAddr is the UDP address decoded PCM is forwarded to.
	// Empty discards samples after accounting.
	AudioPlaybackAddr string
	// AudioCodec selects the viewer's audio decoder: "opus" for a real
	// encoder feed, "pcm" for loopback and synthetic sources.
	AudioCodec string
	// Fingerprint pins the host certificate on the viewer side (base64
	// SHA-256). Empty means trust-on-first-use.
	Fingerprint string

	EgressWindow  Window
	IngressWindow Window
	InputWindow   Window
	LatencyWindow Window

	// BarrierParties is the startup rendezvous size on the host: audio
	// egress, video egress, and the control-plane task.
	BarrierParties int

	// LatencyInterval is the probe period on the viewer.
	LatencyInterval time.Duration
}

// FromEnv builds a Config from BEAM_* environment variables, falling back
// to the defaults above.
func FromEnv() Config {
	return Config{
		Addr:              envOr("BEAM_ADDR", ":4900"),
		SRTAddr:           os.Getenv("BEAM_SRT_ADDR"),
		PlaybackAddr:      os.Getenv("BEAM_PLAYBACK_ADDR"),
		AudioPlaybackAddr: os.Getenv("BEAM_AUDIO_PLAYBACK_ADDR"),
		AudioCodec:        envOr("BEAM_AUDIO_CODEC", "pcm"),
		Fingerprint:       os.Getenv("BEAM_FINGERPRINT"),
		EgressWindow:      windowFromEnv("BEAM_EGRESS", DefaultEgressWindow),
		IngressWindow:     windowFromEnv("BEAM_INGRESS", DefaultIngressWindow),
		InputWindow:       windowFromEnv("BEAM_INPUT", DefaultInputWindow),
		LatencyWindow:     windowFromEnv("BEAM_LATENCY", DefaultLatencyWindow),
		BarrierParties:    intFromEnv("BEAM_BARRIER_PARTIES", 3),
		LatencyInterval:   durationFromEnv("BEAM_LATENCY_INTERVAL", time.Second),
	}
}

// Validate checks every window before any pump is constructed, so a bad
// override fails the whole session at startup instead of panicking a pump.
func (c Config) Validate() error {
	for _, w := range []struct {
		name string
		win  Window
	}{
		{"egress", c.EgressWindow},
		{"ingress", c.IngressWindow},
		{"input", c.InputWindow},
		{"latency", c.LatencyWindow},
	} {
		if err := w.win.Validate(); err != nil {
			return fmt.Errorf("%s: %w", w.name, err)
		}
	}
	if c.BarrierParties < 1 {
		return fmt.Errorf("barrier parties must be >= 1, got %d", c.BarrierParties)
	}
	if c.AudioCodec != "pcm" && c.AudioCodec != "opus" {
		return fmt.Errorf("unknown audio codec %q", c.AudioCodec)
	}
	if c.LatencyInterval <= 0 {
		return fmt.Errorf("latency interval must be positive, got %v", c.LatencyInterval)
	}
	return nil
}

func windowFromEnv(prefix string, def Window) Window {
	return Window{
		Threshold: intFromEnv(prefix+"_THRESHOLD", def.Threshold),
		Limit:     intFromEnv(prefix+"_LIMIT", def.Limit),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intFromEnv(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func durationFromEnv(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
