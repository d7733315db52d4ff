package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"convertnet/config"
)

func TestRPCConfigReadsSecretFromNamedEnv(t *testing.T) {
	cfg := &config.Config{
		RPC: config.RPCConfig{
			ListenAddress:  ":9000",
			JWTSecretEnv:   "TEST_SECRET",
			JWTIssuer:      "ops",
			RateLimit:      5,
			RateBurst:      10,
			ReadTimeout:    config.Duration{Duration: 3 * time.Second},
			AllowedOrigins: []string{"app.example.com"},
		},
		History: config.HistoryConfig{ExportDir: "/tmp/exports"},
	}
	env := map[string]string{"TEST_SECRET": "s3cret"}
	got := rpcConfig(cfg, func(k string) string { return env[k] })
	require.Equal(t, "s3cret", got.Auth.HMACSecret)
	require.Equal(t, "ops", got.Auth.Issuer)
	require.Equal(t, 3*time.Second, got.ReadTimeout)
	require.Equal(t, 10, got.RateLimit.Burst)
	require.Equal(t, "/tmp/exports", got.ExportDir)
	require.Equal(t, []string{"app.example.com"}, got.AllowedOrigins)
}

func TestTelemetryConfigEnvOverrides(t *testing.T) {
	cfg := &config.Config{
		Environment: "prod",
		Telemetry:   config.TelemetryConfig{ServiceName: "convertnetd", Headers: "x-team=amm"},
	}
	got := telemetryConfig(cfg, func(string) string { return "" })
	require.False(t, got.Enabled())
	require.Equal(t, "amm", got.Headers["x-team"])

	env := map[string]string{"OTEL_EXPORTER_OTLP_ENDPOINT": "collector:4318"}
	got = telemetryConfig(cfg, func(k string) string { return env[k] })
	require.True(t, got.Enabled())
	require.Equal(t, "collector:4318", got.Endpoint)
}

func TestFileSinkOptional(t *testing.T) {
	require.Nil(t, fileSink(config.LoggingConfig{}))
	sink := fileSink(config.LoggingConfig{File: "/var/log/convertnetd.log", MaxSizeMB: 50, Compress: true})
	require.Equal(t, 50, sink.MaxSizeMB)
	require.True(t, sink.Compress)
}
