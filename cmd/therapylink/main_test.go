package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/MehulMathur2411/Cpap-Bipap/internal/connection"
	"github.com/MehulMathur2411/Cpap-Bipap/internal/deadletter"
	"github.com/MehulMathur2411/Cpap-Bipap/internal/infrastructure/config"
	"github.com/MehulMathur2411/Cpap-Bipap/internal/infrastructure/database"
	"github.com/MehulMathur2411/Cpap-Bipap/internal/protocol"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("THERAPYLINK_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("run() error = %v, want a config load error", err)
	}
}

// TestRun_InvalidMachineType verifies config validation stops startup.
func TestRun_InvalidMachineType(t *testing.T) {
	t.Setenv("THERAPYLINK_CONFIG", writeConfig(t, `
device:
  machine_type: VENTILATOR
`))

	err := run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "device.machine_type") {
		t.Errorf("run() error = %v, want machine_type validation error", err)
	}
}

// TestRun_BrokerUnreachable wires every component, queues the startup
// sync and stops when connect retries run out.
func TestRun_BrokerUnreachable(t *testing.T) {
	dir := t.TempDir()
	mailboxPath := filepath.Join(dir, "pending_messages.json")
	dbPath := filepath.Join(dir, "therapylink.db")

	t.Setenv("THERAPYLINK_CONFIG", writeConfig(t, `
device:
  serial: SN123456
  machine_type: BIPAP
mqtt:
  broker:
    host: 127.0.0.1
    port: 1
    client_id: therapylink-test
  connect_timeout: 2s
  reconnect:
    delay: 10ms
    max_attempts: 2
delivery:
  mailbox_path: `+mailboxPath+`
settings:
  path: `+filepath.Join(dir, "settings.json")+`
  sync_on_start: true
database:
  path: `+dbPath+`
influxdb:
  enabled: false
logging:
  level: error
  format: text
  output: stderr
`))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := run(ctx)
	if !errors.Is(err, connection.ErrConnectFailed) {
		t.Fatalf("run() error = %v, want ErrConnectFailed", err)
	}

	data, err := os.ReadFile(mailboxPath)
	if err != nil {
		t.Fatalf("reading mailbox: %v", err)
	}
	var pending []string
	if err := json.Unmarshal(data, &pending); err != nil {
		t.Fatalf("mailbox is not a JSON list: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("mailbox holds %d payloads, want 1", len(pending))
	}

	msg, err := protocol.ParseMessage([]byte(pending[0]))
	if err != nil || msg.Kind != protocol.KindDeviceData {
		t.Fatalf("queued payload %q is not an envelope: %v", pending[0], err)
	}
	if _, err := protocol.Decode(msg.Envelope.DeviceData, protocol.MachineBIPAP); err != nil {
		t.Errorf("queued frame does not decode: %v", err)
	}

	db, err := database.Open(config.DatabaseConfig{Path: dbPath})
	if err != nil {
		t.Fatalf("reopening database: %v", err)
	}
	defer db.Close()

	events, err := deadletter.NewJournal(db.DB, 1, nil).Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(events) == 0 || events[len(events)-1].Type != "enqueued" {
		t.Errorf("journal = %+v, want the enqueued event", events)
	}
}

// TestRun_APIPortInUse verifies a bind failure of the enabled API stops startup.
func TestRun_APIPortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	dir := t.TempDir()
	t.Setenv("THERAPYLINK_CONFIG", writeConfig(t, `
device:
  machine_type: CPAP
delivery:
  mailbox_path: `+filepath.Join(dir, "pending_messages.json")+`
settings:
  path: `+filepath.Join(dir, "settings.json")+`
database:
  path: `+filepath.Join(dir, "therapylink.db")+`
api:
  enabled: true
  host: 127.0.0.1
  port: `+strconv.Itoa(port)+`
logging:
  level: error
  format: text
  output: stderr
`))

	err = run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "starting API server") {
		t.Errorf("run() error = %v, want API bind error", err)
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("THERAPYLINK_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("THERAPYLINK_CONFIG", "/etc/therapylink.yaml")
	if got := getConfigPath(); got != "/etc/therapylink.yaml" {
		t.Errorf("getConfigPath() = %q, want env value", got)
	}
}

func TestRetryPolicy(t *testing.T) {
	fixed := retryPolicy(config.MQTTReconnectConfig{Delay: time.Second, MaxAttempts: 3})
	if _, ok := fixed.(connection.FixedDelay); !ok {
		t.Errorf("retryPolicy() = %T, want FixedDelay", fixed)
	}

	backoff := retryPolicy(config.MQTTReconnectConfig{Delay: time.Second, MaxDelay: time.Minute})
	if _, ok := backoff.(connection.ExponentialBackoff); !ok {
		t.Errorf("retryPolicy() = %T, want ExponentialBackoff", backoff)
	}
	if d, ok := backoff.Next(1); !ok || d != time.Second {
		t.Errorf("Next(1) = %v, %v; want 1s, true", d, ok)
	}
}

func TestNewCodec(t *testing.T) {
	codec, err := newCodec("")
	if err != nil || codec != protocol.DefaultCodec() {
		t.Errorf("newCodec(\"\") = %v, %v; want the default codec", codec, err)
	}

	if _, err := newCodec(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("newCodec() with a missing file should fail")
	}

	path := filepath.Join(t.TempDir(), "layouts.yaml")
	layouts := `
layouts:
  - machine: CPAP
    sections:
      - marker: G
        fields:
          - {mode: CPAP, field: Set Pressure, encoding: decimal}
`
	if err := os.WriteFile(path, []byte(layouts), 0o600); err != nil {
		t.Fatalf("writing layouts: %v", err)
	}

	codec, err = newCodec(path)
	if err != nil {
		t.Fatalf("newCodec() error = %v", err)
	}
	layout, err := codec.Layout(protocol.MachineCPAP)
	if err != nil {
		t.Fatalf("Layout() error = %v", err)
	}
	if got := layout.TokenCount(); got != 5 {
		t.Errorf("TokenCount() = %d, want 5", got)
	}
}
