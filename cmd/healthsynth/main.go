package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"codeberg.org/mutker/healthsynth/internal/config"
	"codeberg.org/mutker/healthsynth/internal/errors"
	"codeberg.org/mutker/healthsynth/internal/joblog"
	"codeberg.org/mutker/healthsynth/internal/logger"
	"codeberg.org/mutker/healthsynth/internal/orchestrator"
	"codeberg.org/mutker/healthsynth/internal/pid"
	"codeberg.org/mutker/healthsynth/internal/server"
	"codeberg.org/mutker/healthsynth/internal/store/backend"
	"codeberg.org/mutker/healthsynth/internal/telemetry"
	"github.com/spf13/pflag"
)

const usage = `Usage: healthsynth [flags] [generate|delete|serve]

  generate  delete the synthetic window, then fill it with new samples (default)
  delete    delete the synthetic window
  serve     run the HTTP API and wait for requests

Flags:
`

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			fmt.Print(usage + config.Usage())
			os.Exit(0)
		}
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Printf("failed to parse log level: %v\n", err)
		os.Exit(1)
	}
	logger.Init(level, logger.IsService())
	logger.Debug().Str("file", cfg.File).Str("command", cfg.Command).Msg("Config loaded")
}

func main() {
	if err := pid.Write(); err != nil {
		logger.Error().Err(err).Msg("failed to acquire PID file")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go handleSignals(cancel)

	code := run(ctx)
	cancel()

	if err := pid.Remove(); err != nil {
		logger.Error().Err(err).Msg("failed to remove PID file")
	}
	logger.Info().Msg("Exiting...")
	os.Exit(code)
}

func run(ctx context.Context) int {
	st, err := backend.Open(ctx, cfg.Store.Backend, cfg.Store.Path, cfg.Grants())
	if err != nil {
		logger.Error().Err(err).Str("backend", string(cfg.Store.Backend)).Msg("failed to open store")
		return 1
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close store")
		}
	}()

	cat, err := cfg.Catalog()
	if err != nil {
		logger.Error().Err(err).Msg("failed to build metric catalog")
		return 1
	}
	loc, err := cfg.Location()
	if err != nil {
		logger.Error().Err(err).Msg("invalid location")
		return 1
	}
	from, to, err := cfg.Range()
	if err != nil {
		logger.Error().Err(err).Msg("invalid window")
		return 1
	}

	rec := telemetry.NewService(telemetry.Config{
		Enabled:   cfg.Telemetry.Enabled,
		Namespace: cfg.Telemetry.Namespace,
	})
	sink := joblog.New()
	orch := orchestrator.New(st, cat, sink,
		orchestrator.WithRecorder(rec),
		orchestrator.WithLocation(loc),
		orchestrator.WithDays(cfg.Window.Days),
		orchestrator.WithMaxInFlight(cfg.Jobs.MaxInFlight),
		orchestrator.WithJobTimeout(cfg.Jobs.Timeout),
		orchestrator.WithSeed(cfg.Seed),
	)
	req := orchestrator.Request{From: from, To: to}

	authErr := orch.Authorize(ctx)

	switch cfg.Command {
	case config.CommandServe:
		if authErr != nil {
			logger.Warn().Msg("Store access not authorized, POST /v1/authorize to retry")
		}
		srv := server.New(orch, cat, sink,
			server.WithRecorder(rec),
			server.WithDefaults(req),
		)
		if err := srv.ListenAndServe(ctx, cfg.Server.Addr); err != nil {
			logger.Error().Err(err).Msg("HTTP server failed")
			return 1
		}
		return 0

	case config.CommandDelete:
		if authErr != nil {
			return 1
		}
		report, err := orch.RunDeletion(ctx, req)
		if err != nil {
			logger.Error().Err(err).Msg("deletion refused")
			return 1
		}
		logCounts(ctx, st, cat.TrackedTypes(), report)
		return exitCode(report)

	default:
		if authErr != nil {
			return 1
		}
		report, err := orch.RunGeneration(ctx, req)
		if err != nil {
			logger.Error().Err(err).Msg("generation refused")
			return 1
		}
		logCounts(ctx, st, cat.TrackedTypes(), report)
		return exitCode(report)
	}
}

func exitCode(report orchestrator.Report) int {
	if report.Failed() {
		return 2
	}
	return 0
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
