package peer

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/beam/certs"
	"github.com/zsiec/beam/internal/barrier"
	"github.com/zsiec/beam/internal/capture"
	srtcapture "github.com/zsiec/beam/internal/capture/srt"
	"github.com/zsiec/beam/internal/config"
	"github.com/zsiec/beam/internal/input"
	"github.com/zsiec/beam/internal/latency"
	"github.com/zsiec/beam/internal/pump"
	"github.com/zsiec/beam/internal/shutdown"
	"github.com/zsiec/beam/internal/transport"
)

// patternFPS and patternFrameSize shape the synthetic video source used when
// no SRT encoder feed is configured.
const (
	patternFPS       = 30
	patternFrameSize = 1200
)

// Host is the capture-side orchestrator. It listens for one viewer, streams
// video and audio to it, applies the viewer's input events, and echoes its
// latency probes.
type Host struct {
	Config config.Config
	Coord  *shutdown.Coordinator
	Cert   *certs.CertInfo
	// Injector applies remote input to the desktop. Nil logs events instead.
	Injector input.Injector
	Log      *slog.Logger

	ln *transport.Listener
}

// Listen binds the QUIC endpoint ahead of Run, so callers can learn the
// bound address when Config.Addr asks for port 0. Run calls it if needed.
func (h *Host) Listen() (net.Addr, error) {
	ln, err := transport.Listen(h.Config.Addr, certs.ServerTLS(h.Cert), h.Log)
	if err != nil {
		return nil, err
	}
	h.ln = ln
	return ln.Addr(), nil
}

// Run serves one viewer session to completion. It returns nil after a
// deliberate shutdown and the session's failure reason otherwise.
func (h *Host) Run(ctx context.Context) error {
	log := h.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "host")

	coord := h.Coord
	if h.ln == nil {
		if _, err := h.Listen(); err != nil {
			return err
		}
	}
	defer h.ln.Close()

	ctx, cancel := coord.Context(ctx)
	defer cancel()

	log.Info("waiting for viewer", "addr", h.ln.Addr().String(),
		"fingerprint", h.Cert.FingerprintBase64())
	sess, err := h.ln.Accept(ctx)
	if err != nil {
		// An interrupt while waiting for the viewer is a clean exit.
		select {
		case <-coord.WaitForShutdown():
			return nil
		default:
		}
		return fmt.Errorf("accept viewer: %w", err)
	}
	go closeOnDone(coord, sess)

	videoTrack, err := sess.OpenTrack(ctx, transport.LabelVideo)
	if err != nil {
		coord.NotifyError(true, "video track setup failure")
		return err
	}
	audioTrack, err := sess.OpenTrack(ctx, transport.LabelAudio)
	if err != nil {
		coord.NotifyError(true, "audio track setup failure")
		return err
	}

	var video capture.Backend
	if h.Config.SRTAddr != "" {
		video = srtcapture.New(h.Config.SRTAddr, h.Log)
	} else {
		video = capture.NewPattern(patternFPS, patternFrameSize, h.Log)
	}
	audio := capture.NewTone(h.Log)

	bar := barrier.New(h.Config.BarrierParties)
	var g errgroup.Group

	g.Go(func() error {
		video.Run(coord)
		return nil
	})
	g.Go(func() error {
		audio.Run(coord)
		return nil
	})
	g.Go(func() error {
		p := &pump.Pump{
			Role:    "video-egress",
			Window:  h.Config.EgressWindow,
			Source:  pump.ChanSource{C: video.Frames()},
			Sink:    trackSink{videoTrack},
			Coord:   coord,
			Barrier: bar,
			Log:     h.Log,
		}
		p.Run()
		return nil
	})
	g.Go(func() error {
		p := &pump.Pump{
			Role:    "audio-egress",
			Window:  h.Config.EgressWindow,
			Source:  pump.ChanSource{C: audio.Frames()},
			Sink:    trackSink{audioTrack},
			Coord:   coord,
			Barrier: bar,
			Log:     h.Log,
		}
		p.Run()
		return nil
	})
	g.Go(func() error {
		h.control(sess, bar, &g, log)
		return nil
	})

	g.Wait()
	return sessionResult(coord)
}

// control is the single consumer of the session's lifecycle events. It joins
// the startup rendezvous once the viewer is connected and spawns the ingress
// side lazily as the viewer opens its tracks.
func (h *Host) control(sess *transport.Session, bar *barrier.Barrier, g *errgroup.Group, log *slog.Logger) {
	coord := h.Coord
	coord.RegisterTask("host-control")

	started := make(map[string]bool)
	for {
		select {
		case <-coord.Done():
			return
		case ev := <-sess.Events():
			switch ev.Kind {
			case transport.EventConnected:
				if !bar.Wait(coord.Done()) {
					return
				}
				log.Info("session ready")
			case transport.EventTrackOpened:
				h.startIngress(sess, ev.Track, g, started, log)
			case transport.EventClosed:
				notifyPeerGone(coord, ev.Err)
				return
			}
		}
	}
}

func (h *Host) startIngress(sess *transport.Session, tr *transport.Track, g *errgroup.Group, started map[string]bool, log *slog.Logger) {
	label := tr.Label()
	if started[label] {
		log.Warn("duplicate track rejected", "label", label)
		tr.Close()
		return
	}
	started[label] = true

	switch label {
	case transport.LabelInput:
		inj := h.Injector
		if inj == nil {
			inj = input.LogInjector{Log: h.Log}
		}
		g.Go(func() error {
			p := &pump.Pump{
				Role:   "input-ingress",
				Window: h.Config.InputWindow,
				Source: trackSource{t: tr, sess: sess},
				Sink:   input.InjectorSink{Injector: inj},
				Coord:  h.Coord,
				Log:    h.Log,
			}
			p.Run()
			return nil
		})
	case transport.LabelLatency:
		g.Go(func() error {
			r := &latency.Responder{
				Track:  sessionTrack{t: tr, sess: sess, coord: h.Coord},
				Window: h.Config.LatencyWindow,
				Coord:  h.Coord,
				Log:    h.Log,
			}
			r.Run()
			return nil
		})
	default:
		log.Warn("unexpected track rejected", "label", label)
		tr.Close()
	}
}
