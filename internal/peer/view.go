package peer

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/beam/certs"
	"github.com/zsiec/beam/internal/audio"
	"github.com/zsiec/beam/internal/barrier"
	"github.com/zsiec/beam/internal/config"
	"github.com/zsiec/beam/internal/input"
	"github.com/zsiec/beam/internal/latency"
	"github.com/zsiec/beam/internal/media"
	"github.com/zsiec/beam/internal/playback"
	"github.com/zsiec/beam/internal/pump"
	"github.com/zsiec/beam/internal/shutdown"
	"github.com/zsiec/beam/internal/transport"
)

// viewBarrierParties gates the viewer's egress on the rendezvous: the input
// pump and the control loop.
const viewBarrierParties = 2

// View is the playback-side orchestrator. It dials the host, plays back the
// media tracks, forwards captured input, and runs the latency probe.
type View struct {
	Config config.Config
	Coord  *shutdown.Coordinator
	// Capturer supplies local input events. Nil leaves the input track idle.
	Capturer input.Capturer
	Log      *slog.Logger

	prober *latency.Prober
}

// Run drives one session to completion. It returns nil after a deliberate
// shutdown and the session's failure reason otherwise.
func (v *View) Run(ctx context.Context) error {
	log := v.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "view")

	coord := v.Coord
	cfg := v.Config

	if cfg.Fingerprint == "" {
		log.Warn("no certificate pin configured, trusting the first certificate seen")
	}
	tlsConf, err := certs.ClientTLS(cfg.Fingerprint)
	if err != nil {
		return err
	}

	ctx, cancel := coord.Context(ctx)
	defer cancel()

	sess, err := transport.Dial(ctx, cfg.Addr, tlsConf, v.Log)
	if err != nil {
		select {
		case <-coord.WaitForShutdown():
			return nil
		default:
		}
		return fmt.Errorf("connect to host: %w", err)
	}
	go closeOnDone(coord, sess)

	inputTrack, err := sess.OpenTrack(ctx, transport.LabelInput)
	if err != nil {
		coord.NotifyError(true, "input track setup failure")
		return err
	}
	latencyTrack, err := sess.OpenTrack(ctx, transport.LabelLatency)
	if err != nil {
		coord.NotifyError(true, "latency track setup failure")
		return err
	}

	videoSink, err := newPlaybackSink(cfg.PlaybackAddr)
	if err != nil {
		coord.NotifyError(true, "video playback setup failure")
		return err
	}
	audioSink, err := newPlaybackSink(cfg.AudioPlaybackAddr)
	if err != nil {
		coord.NotifyError(true, "audio playback setup failure")
		return err
	}

	var decoder audio.Decoder = audio.Passthrough{}
	if cfg.AudioCodec == "opus" {
		decoder = audio.NewOpusDecoder()
	}
	pcm := make(chan media.Frame, media.AudioBufferSize)

	capturer := v.Capturer
	if capturer == nil {
		capturer = make(input.ChannelCapturer)
	}

	v.prober = &latency.Prober{
		Track:    sessionTrack{t: latencyTrack, sess: sess, coord: coord},
		Interval: cfg.LatencyInterval,
		Window:   cfg.LatencyWindow,
		Coord:    coord,
		Log:      v.Log,
	}

	bar := barrier.New(viewBarrierParties)
	var g errgroup.Group

	g.Go(func() error {
		p := &pump.Pump{
			Role:    "input-egress",
			Window:  cfg.InputWindow,
			Source:  input.EncodeSource{Capturer: capturer},
			Sink:    trackSink{inputTrack},
			Coord:   coord,
			Barrier: bar,
			Log:     v.Log,
		}
		p.Run()
		return nil
	})
	g.Go(func() error {
		v.prober.Run()
		return nil
	})
	g.Go(func() error {
		p := &pump.Pump{
			Role:   "audio-playback",
			Window: cfg.IngressWindow,
			Source: pump.ChanSource{C: pcm},
			Sink:   pump.SinkFunc(audioSink.put),
			Coord:  coord,
			Log:    v.Log,
		}
		p.Run()
		return nil
	})
	g.Go(func() error {
		v.control(sess, bar, &g, videoSink, audio.DecodedSink{Decoder: decoder, Out: pcm}, log)
		return nil
	})

	g.Wait()
	log.Info("session ended",
		"rtt_last", v.prober.Last(),
		"rtt_avg", v.prober.Average(),
		"video_frames", videoSink.accepted(),
		"audio_frames", audioSink.accepted(),
	)
	return sessionResult(coord)
}

// control is the single consumer of the session's lifecycle events. Media
// ingress pumps start lazily as the host's tracks arrive.
func (v *View) control(sess *transport.Session, bar *barrier.Barrier, g *errgroup.Group, videoSink *countedSink, audioSink audio.DecodedSink, log *slog.Logger) {
	coord := v.Coord
	coord.RegisterTask("view-control")

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
				v.startIngress(sess, ev.Track, g, started, videoSink, audioSink, log)
			case transport.EventClosed:
				notifyPeerGone(coord, ev.Err)
				return
			}
		}
	}
}

func (v *View) startIngress(sess *transport.Session, tr *transport.Track, g *errgroup.Group, started map[string]bool, videoSink *countedSink, audioSink audio.DecodedSink, log *slog.Logger) {
	label := tr.Label()
	if started[label] {
		log.Warn("duplicate track rejected", "label", label)
		tr.Close()
		return
	}
	started[label] = true

	var p *pump.Pump
	switch label {
	case transport.LabelVideo:
		p = &pump.Pump{
			Role:   "video-ingress",
			Window: v.Config.IngressWindow,
			Source: trackSource{t: tr, sess: sess},
			Sink:   pump.SinkFunc(videoSink.put),
			Coord:  v.Coord,
			Log:    v.Log,
		}
	case transport.LabelAudio:
		p = &pump.Pump{
			Role:   "audio-ingress",
			Window: v.Config.IngressWindow,
			Source: trackSource{t: tr, sess: sess},
			Sink:   audioSink,
			Coord:  v.Coord,
			Log:    v.Log,
		}
	default:
		log.Warn("unexpected track rejected", "label", label)
		tr.Close()
		return
	}
	g.Go(func() error {
		p.Run()
		return nil
	})
}

// countedSink is either a UDP forwarder or a counting discard, depending on
// whether a playback address was configured.
type countedSink struct {
	writer  *playback.WriterSink
	discard *playback.Discard
}

func newPlaybackSink(addr string) (*countedSink, error) {
	if addr == "" {
		return &countedSink{discard: &playback.Discard{}}, nil
	}
	w, err := playback.NewUDPSink(addr)
	if err != nil {
		return nil, err
	}
	return &countedSink{writer: w}, nil
}

func (s *countedSink) put(f media.Frame) error {
	if s.writer != nil {
		return s.writer.Put(f)
	}
	return s.discard.Put(f)
}

func (s *countedSink) accepted() int64 {
	if s.writer != nil {
		return s.writer.Accepted()
	}
	return s.discard.Accepted()
}
