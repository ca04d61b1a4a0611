package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/magpie-io/magpie/admin"
	"github.com/magpie-io/magpie/bus"
	"github.com/magpie-io/magpie/cfg"
	"github.com/magpie-io/magpie/mirror"
	"github.com/magpie-io/magpie/record"
	"github.com/magpie-io/magpie/telemetry"
	"github.com/magpie-io/magpie/wal"
)

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("node_id", cfg.Config.NodeID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("Magpie - Dynamic Channel Recorder")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()

	identity := fmt.Sprintf("magpie_record_%d_%d", cfg.Config.NodeID, os.Getpid())

	// Connect to the bus
	log.Info().Strs("urls", cfg.Config.Bus.URLs).Msg("Connecting to bus")
	b, err := bus.Connect(cfg.Config.Bus, identity)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to bus")
		return
	}
	defer b.Close()

	topology := b.Topology(
		cfg.Config.Bus.TopologyPrefix,
		time.Duration(cfg.Config.Bus.SnapshotTimeoutMS)*time.Millisecond,
	)

	policy, err := record.NewPolicy(
		cfg.Config.Record.AllChannels,
		cfg.Config.Record.Channels,
		cfg.Config.Record.ChannelPatterns,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid channel selection")
		return
	}

	// Record log writer, wrapped by mirror sinks when configured. The writer
	// opens lazily inside Start so a failed start leaves no half-open store.
	var stats admin.StatsProvider
	openWriter := func() (record.Writer, error) {
		pw, err := wal.Open(cfg.Config.Record.OutputDir, wal.Options{
			Compression:             cfg.Config.Record.Compression,
			ProgressIntervalSeconds: cfg.Config.Record.ProgressIntervalSeconds,
		})
		if err != nil {
			return nil, err
		}
		stats = pw

		var w record.Writer = pw
		for _, mc := range cfg.Config.Mirrors {
			sink, err := mirror.NewSink(mc)
			if err != nil {
				pw.Close()
				return nil, fmt.Errorf("mirror sink %q: %w", mc.Name, err)
			}
			w = mirror.NewTeeWriter(w, mc.Name, sink, mc.TopicPrefix)
			log.Info().Str("sink", mc.Name).Str("type", mc.Type).Msg("Mirror sink attached")
		}
		return w, nil
	}

	session, err := record.NewSession(record.Options{
		Identity:         identity,
		Policy:           policy,
		OpenWriter:       openWriter,
		Topology:         topology,
		Subscriber:       b,
		PendingQueueSize: cfg.Config.Record.PendingQueueSize,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create recording session")
		return
	}

	if err := session.Start(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to start recording session")
		return
	}

	admin.Serve(cfg.Config.Admin, admin.NewHandlers(session, stats))

	log.Info().
		Str("output_dir", cfg.Config.Record.OutputDir).
		Bool("all_channels", cfg.Config.Record.AllChannels).
		Int("channels", len(session.Channels())).
		Msg("Recorder is operational")

	// Run until interrupted
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	log.Info().Str("signal", sig.String()).Msg("Shutting down")

	if err := session.Stop(); err != nil {
		log.Warn().Err(err).Msg("Session stop reported an error")
	}
}
