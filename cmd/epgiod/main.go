// epgiod bridges one BLE acquisition board to HTTP and WebSocket consumers:
// it owns the connection lifecycle, parses the sample stream, and exposes
// control, status, metrics, and a live event feed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/epglabs/epgio/internal/ble"
	"github.com/epglabs/epgio/internal/config"
	"github.com/epglabs/epgio/internal/hub"
	"github.com/epglabs/epgio/internal/logging"
	"github.com/epglabs/epgio/internal/observability"
	"github.com/epglabs/epgio/internal/server"
	"github.com/epglabs/epgio/internal/stream"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to TOML configuration")
		listen     = flag.String("listen", "", "override the listen address")
		address    = flag.String("address", "", "override the board MAC address")
		connect    = flag.Bool("connect", false, "connect to the configured board on startup")
	)
	flag.Parse()

	logging.ConfigureRuntime()
	observability.RegisterMetrics()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *configPath).Msg("load config")
		}
		cfg = loaded
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	if *address != "" {
		cfg.Device.Address = *address
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	if err := run(cfg, *connect || cfg.Device.AutoConnect); err != nil {
		log.Fatal().Err(err).Msg("epgiod exited")
	}
}

func run(cfg config.Config, autoConnect bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handler := stream.NewHandler(cfg.StreamConfig(), ble.BluezDialer{})
	defer handler.Stop()

	wsHub := hub.New()
	handler.AddSink(func(ev stream.Event) {
		wsHub.Broadcast(hub.Message{Type: ev.Kind(), Payload: ev})
	})
	handler.AddSink(func(ev stream.Event) {
		if e, ok := ev.(stream.ErrorOccurred); ok {
			log.Warn().Str("reason", e.Message).Msg("stream error")
		}
	})

	if autoConnect {
		target := cfg.Target()
		if !target.Complete() {
			return errors.New("auto connect requires address and characteristic UUIDs")
		}
		if err := handler.Connect(target); err != nil {
			return fmt.Errorf("auto connect: %w", err)
		}
		log.Info().Str("address", target.Address).Msg("auto connecting")
	}

	srv := server.New(server.Config{
		Listen:        cfg.Server.Listen,
		AllowOrigins:  cfg.Server.AllowOrigins,
		DefaultTarget: cfg.Target(),
	}, handler, wsHub)
	return srv.Run(ctx)
}
