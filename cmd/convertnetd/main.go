package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"convertnet/config"
	"convertnet/core"
	"convertnet/observability/logging"
	telemetry "convertnet/observability/otel"
	"convertnet/rpc"
)

const envVar = "CONVERTNET_ENV"

func main() {
	configFile := flag.String("config", "./convertnetd.toml", "Path to the configuration file (TOML or YAML)")
	listen := flag.String("listen", "", "Override the RPC listen address")
	flag.Parse()

	if err := run(*configFile, *listen); err != nil {
		fmt.Fprintf(os.Stderr, "convertnetd: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile, listen string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if env := strings.TrimSpace(os.Getenv(envVar)); env != "" {
		cfg.Environment = env
	}
	if listen != "" {
		cfg.RPC.ListenAddress = listen
	}

	logger, closer := logging.Configure(logging.Options{
		Service: cfg.Telemetry.ServiceName,
		Env:     cfg.Environment,
		Level:   logging.ParseLevel(cfg.Logging.Level),
		File:    fileSink(cfg.Logging),
	})
	defer closer.Close()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetryConfig(cfg, os.Getenv))
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	logger.Info("starting convertnetd",
		slog.String("config", configFile),
		slog.String("data_dir", cfg.DataDir),
		slog.String("history_driver", cfg.History.Driver),
		slog.String("history_dsn", logging.MaskDSN(cfg.History.DSN)),
		slog.Int("pools", len(cfg.Pools)))

	hub := rpc.NewHub(logger)
	engine, err := core.New(cfg, core.WithLogger(logger), core.WithEmitter(hub))
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer engine.Close()

	server, err := rpc.New(rpcConfig(cfg, os.Getenv), engine, hub, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := server.Run(ctx); err != nil {
		return err
	}
	logger.Info("convertnetd stopped")
	return nil
}

func fileSink(cfg config.LoggingConfig) *logging.FileSink {
	if strings.TrimSpace(cfg.File) == "" {
		return nil
	}
	return &logging.FileSink{
		Path:       cfg.File,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAgeDays: cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
}

func telemetryConfig(cfg *config.Config, getenv func(string) string) telemetry.Config {
	return telemetry.WithEnv(telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Traces:      cfg.Telemetry.Traces,
		Metrics:     cfg.Telemetry.Metrics,
	}, getenv)
}

func rpcConfig(cfg *config.Config, getenv func(string) string) rpc.Config {
	return rpc.Config{
		ListenAddress: cfg.RPC.ListenAddress,
		ReadTimeout:   cfg.RPC.ReadTimeout.Duration,
		WriteTimeout:  cfg.RPC.WriteTimeout.Duration,
		Auth: rpc.AuthConfig{
			HMACSecret: getenv(cfg.RPC.JWTSecretEnv),
			Issuer:     cfg.RPC.JWTIssuer,
		},
		RateLimit:      rpc.RateLimit{RequestsPerSecond: cfg.RPC.RateLimit, Burst: cfg.RPC.RateBurst},
		AllowedOrigins: cfg.RPC.AllowedOrigins,
		ExportDir:      cfg.History.ExportDir,
	}
}
