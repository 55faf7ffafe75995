package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zsiec/beam/certs"
	"github.com/zsiec/beam/internal/config"
	"github.com/zsiec/beam/internal/peer"
	"github.com/zsiec/beam/internal/shutdown"
)

var version = "dev"

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s host|view\n", os.Args[0])
	os.Exit(2)
}

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if len(os.Args) < 2 {
		usage()
	}
	role := os.Args[1]
	if role != "host" && role != "view" {
		usage()
	}

	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	coord := shutdown.New(nil)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	interrupted := make(chan struct{})
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		close(interrupted)
		coord.Shutdown()
	}()

	slog.Info("beam starting", "version", version, "role", role, "addr", cfg.Addr)

	var err error
	switch role {
	case "host":
		var cert *certs.CertInfo
		cert, err = certs.Generate(0)
		if err != nil {
			slog.Error("failed to generate certificate", "error", err)
			os.Exit(1)
		}
		slog.Info("certificate generated",
			"fingerprint", cert.FingerprintBase64(),
			"expires", cert.NotAfter.Format(time.RFC3339),
		)
		h := &peer.Host{Config: cfg, Coord: coord, Cert: cert}
		err = h.Run(context.Background())
	case "view":
		v := &peer.View{Config: cfg, Coord: coord}
		err = v.Run(context.Background())
	}

	if err != nil {
		slog.Error("session failed", "error", err, "fatal", coord.Fatal())
		os.Exit(1)
	}

	select {
	case <-interrupted:
		slog.Info("session interrupted")
	default:
		slog.Info("session stopped")
	}
}
