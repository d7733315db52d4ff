package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigureWritesJSON(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	logger, closer := Configure(Options{Service: "convertnetd", Env: "test", Stdout: &buf})
	defer closer.Close()
	logger.Info("pool registered", slog.String("token", "abc"), slog.String("dsn", "postgres://svc:hunter2@db/convertnet"))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line["message"] != "pool registered" || line["severity"] != "INFO" {
		t.Fatalf("unexpected envelope: %v", line)
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("missing timestamp: %v", line)
	}
	if line["service"] != "convertnetd" || line["env"] != "test" {
		t.Fatalf("missing service attributes: %v", line)
	}
	if line["token"] != RedactedValue {
		t.Fatalf("token not masked: %v", line["token"])
	}
	if dsn, _ := line["dsn"].(string); strings.Contains(dsn, "hunter2") {
		t.Fatalf("dsn password leaked: %s", dsn)
	}
}

func TestConfigureFileSink(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	path := filepath.Join(t.TempDir(), "convertnetd.log")
	var buf bytes.Buffer
	logger, closer := Configure(Options{Service: "convertnetd", Stdout: &buf, File: &FileSink{Path: path, MaxSizeMB: 1}})
	logger.Warn("rate limited")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(raw), `"message":"rate limited"`) {
		t.Fatalf("file sink missing record: %s", raw)
	}
	if !strings.Contains(buf.String(), "rate limited") {
		t.Fatalf("console missing record: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("debug") != slog.LevelDebug || ParseLevel("WARN") != slog.LevelWarn {
		t.Fatalf("unexpected level mapping")
	}
	if ParseLevel("loud") != slog.LevelInfo {
		t.Fatalf("unknown levels default to info")
	}
}

func TestMaskDSN(t *testing.T) {
	if got := MaskDSN("file:history.db"); got != "file:history.db" {
		t.Fatalf("plain dsn changed: %s", got)
	}
	if got := MaskDSN("postgres://svc:pw@db:5432/x"); strings.Contains(got, "pw@") {
		t.Fatalf("password kept: %s", got)
	}
	if MaskValue("") != "" || MaskValue("x") != RedactedValue {
		t.Fatalf("unexpected mask")
	}
	if !IsSensitive(" Authorization ") || IsSensitive("trade_id") {
		t.Fatalf("unexpected sensitivity")
	}
}
