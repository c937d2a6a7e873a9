package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/video-system/go-decklink-capture/pkg/api"
	"github.com/video-system/go-decklink-capture/pkg/capture"
	"github.com/video-system/go-decklink-capture/pkg/decklink"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	flag.Parse()

	cfg, err := capture.LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	level := cfg.LogLevel
	if *logLevel != "" {
		level = *logLevel
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(level),
	}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received")
		cancel()
	}()

	dlctx, err := decklink.NewContext()
	if err != nil {
		logger.Error("failed to initialize decklink", "error", err)
		os.Exit(1)
	}
	defer dlctx.Close()

	devices, err := dlctx.Devices()
	if err != nil {
		logger.Error("failed to enumerate devices", "error", err)
		os.Exit(1)
	}
	for _, d := range devices {
		logger.Info("found device", "index", d.Index, "name", d.Name,
			"ports", d.InputPorts, "channel_capacity", d.ChannelCapacity)
	}

	registry := capture.NewRegistry(dlctx, logger)
	defer registry.Close()

	for _, devCfg := range cfg.Devices {
		dev, err := registry.OpenDevice(devCfg.Device)
		if err != nil {
			logger.Error("failed to open device", "index", devCfg.Device, "error", err)
			continue
		}
		for _, chCfg := range devCfg.Channels {
			ch, err := dev.CreateChannel(chCfg)
			if err != nil {
				logger.Error("failed to create channel", "channel", chCfg.ID, "error", err)
				continue
			}
			if err := ch.Start(); err != nil {
				logger.Error("failed to start channel", "channel", ch.ID(), "error", err)
			}
		}
	}

	apiServer := api.NewServer(api.ServerConfig{
		Host:    cfg.API.Host,
		Port:    cfg.API.Port,
		Manager: registry,
		Logger:  logger,
	})
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Warn("api server exited", "error", err)
		}
	}()
	defer apiServer.Stop()

	runStatusLoop(ctx, registry, logger)

	logger.Info("capture stopped")
}

// runStatusLoop periodically logs a per-channel summary until shutdown.
func runStatusLoop(ctx context.Context, registry *capture.Registry, logger *slog.Logger) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for id, st := range registry.AllStatuses() {
				logger.Info("channel status", "channel", id, "state", st.State,
					"frames", st.FrameCount, "locked", st.SignalLocked,
					"stable_rate", st.StableFrameRate)
			}
		}
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
