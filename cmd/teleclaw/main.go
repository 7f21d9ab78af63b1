package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/clawinfra/teleclaw/internal/client"
	"github.com/clawinfra/teleclaw/internal/config"
	"github.com/clawinfra/teleclaw/internal/loop"
	"github.com/clawinfra/teleclaw/internal/monitor"
	"github.com/clawinfra/teleclaw/internal/policy"
	"github.com/clawinfra/teleclaw/internal/robot"
	"github.com/clawinfra/teleclaw/internal/server"
	"github.com/clawinfra/teleclaw/internal/telemetry"
)

var (
	version   = "0.1.0"
	buildTime = "dev"
)

const defaultConfigPath = "teleclaw.json"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return 1
	}

	switch args[0] {
	case "serve":
		return serveCommand(args[1:])
	case "run":
		return runCommand(args[1:])
	case "init":
		return initCommand(args[1:])
	case "version", "--version", "-version":
		fmt.Printf("TeleClaw v%s (built %s)\n", version, buildTime)
		fmt.Println("Remote policy inference for robot control loops")
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
		usage()
		return 1
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: teleclaw <command> [flags]

Commands:
  serve    host a policy behind the inference channel
  run      drive a control loop against an inference server
  init     write a default config file
  version  print version information`)
}

// serveCommand hosts the configured policy until interrupted.
func serveCommand(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to config file")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, logger, err := setup(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Setup failed: %v\n", err)
		return 1
	}

	pol, err := policy.Load(cfg.Policy)
	if err != nil {
		logger.Error("failed to load policy", "error", err)
		return 1
	}
	logger.Info("policy loaded", "policy", pol.Name())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.New(cfg.Server, pol, logger).Run(ctx); err != nil {
		logger.Error("server failed", "error", err)
		return 1
	}
	return 0
}

// runCommand drives the simulated arm against the configured server.
func runCommand(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to config file")
	duration := fs.Duration("duration", 0, "Stop after this long (0 = run until interrupted)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, logger, err := setup(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Setup failed: %v\n", err)
		return 1
	}

	profile, err := loadProfile(cfg.Client, logger)
	if err != nil {
		logger.Error("failed to load robot profile", "error", err)
		return 1
	}

	arm := robot.NewSimArm(profile)
	defer arm.Close() //nolint:errcheck

	inf, err := client.New(cfg.Client, profile, logger)
	if err != nil {
		logger.Error("failed to create inference client", "error", err)
		return 1
	}
	defer inf.Close() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	g, ctx := errgroup.WithContext(ctx)

	var store *telemetry.Store
	if cfg.Telemetry.Enabled {
		store, err = telemetry.Open(
			cfg.Telemetry.DBPath,
			time.Duration(cfg.Telemetry.RetentionHours)*time.Hour,
			cfg.Telemetry.PruneSchedule,
			logger,
		)
		if err != nil {
			logger.Error("failed to open telemetry journal", "error", err)
			return 1
		}
		defer store.Close() //nolint:errcheck
		inf.SetRecorder(store)
	}

	if cfg.Monitor.Enabled {
		if store == nil {
			logger.Warn("monitor enabled without telemetry, skipping")
		} else {
			pub := monitor.New(cfg.Monitor, store, logger)
			g.Go(func() error { return pub.Run(ctx) })
		}
	}

	hz := profile.ControlHz
	if cfg.Client.ControlHz > 0 {
		hz = cfg.Client.ControlHz
	}
	ctl := loop.New(arm, inf, hz, logger)
	g.Go(func() error { return ctl.Run(ctx) })

	if err := g.Wait(); err != nil {
		logger.Error("control loop failed", "error", err)
		return 1
	}

	if store != nil {
		if stats, err := store.Summary(); err == nil {
			logger.Info("session summary",
				"exchanges", stats.Exchanges,
				"fallbacks", stats.Fallbacks,
				"mean_latency_ms", fmt.Sprintf("%.1f", stats.MeanLatency),
			)
		}
	}
	logger.Info("run finished", "ticks", ctl.Ticks())
	return 0
}

// initCommand writes the default config.
func initCommand(args []string) int {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Path to config file")
	force := fs.Bool("force", false, "Overwrite an existing config file")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if _, err := os.Stat(*configPath); err == nil && !*force {
		fmt.Fprintf(os.Stderr, "%s already exists (use -force to overwrite)\n", *configPath)
		return 1
	}

	if err := config.DefaultConfig().Save(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
		return 1
	}
	fmt.Printf("Wrote default config to %s\n", *configPath)
	return 0
}

// setup loads the config and builds the root logger.
func setup(configPath string) (*config.Config, *slog.Logger, error) {
	bootLogger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			bootLogger.Info("config not found, using defaults", "path", configPath)
			cfg = config.DefaultConfig()
		} else {
			return nil, nil, err
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	logger.Info("starting TeleClaw", "version", version, "config", configPath)
	return cfg, logger, nil
}

// loadProfile reads the configured robot manifest, or falls back to a small
// built-in simulated arm when none is configured.
func loadProfile(cfg config.ClientConfig, logger *slog.Logger) (*robot.Profile, error) {
	if cfg.RobotProfile == "" {
		logger.Info("no robot profile configured, using built-in sim arm")
		return &robot.Profile{
			Name:            "sim",
			Type:            "sim_arm",
			ControlHz:       30,
			CommandChannels: []string{"joint_0", "joint_1", "joint_2"},
		}, nil
	}

	profile, err := robot.LoadProfile(cfg.RobotProfile)
	if err != nil {
		return nil, err
	}
	logger.Info("robot profile loaded",
		"name", profile.Name,
		"type", profile.Type,
		"channels", len(profile.CommandChannels),
	)
	return profile, nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
