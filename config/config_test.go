package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/RyanBlaney/harmonic-analyzer/logging"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesFileOverDefaults(t *testing.T) {
	t.Setenv(EnvBrokerURL, "")
	t.Setenv(EnvLogLevel, "")

	path := writeConfig(t, `
service:
  workers: 8
  handler_timeout: 5s
broker:
  host: broker.internal
  port: 8883
  topic: uploads
  result_topic: keys
analysis:
  top_estimates: 3
  chroma_source: message
logging:
  level: debug
  colors: false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Service.Workers != 8 {
		t.Fatalf("expected 8 workers, got %d", cfg.Service.Workers)
	}
	if cfg.Service.HandlerTimeout != 5*time.Second {
		t.Fatalf("expected 5s timeout, got %s", cfg.Service.HandlerTimeout)
	}
	if cfg.Service.QueueDepth != Default().Service.QueueDepth {
		t.Fatalf("expected default queue depth, got %d", cfg.Service.QueueDepth)
	}
	if cfg.BrokerURL() != "tcp://broker.internal:8883" {
		t.Fatalf("unexpected broker url %s", cfg.BrokerURL())
	}
	if cfg.Broker.QoS != 1 {
		t.Fatalf("expected default qos 1, got %d", cfg.Broker.QoS)
	}
	if cfg.Analysis.TopEstimates != 3 || cfg.Analysis.ChromaSource != "message" {
		t.Fatalf("unexpected analysis config %+v", cfg.Analysis)
	}
	if cfg.LogLevel() != logging.DebugLevel {
		t.Fatalf("expected debug level, got %s", cfg.LogLevel())
	}
	if cfg.Logging.Colors == nil || *cfg.Logging.Colors {
		t.Fatalf("expected colors explicitly disabled")
	}
	if cfg.Store.LedgerTTL != 7*24*time.Hour {
		t.Fatalf("expected default ledger ttl, got %s", cfg.Store.LedgerTTL)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv(EnvBrokerURL, "tcp://mq.example:1884")
	t.Setenv(EnvLogLevel, "warn")

	cfg, err := Load(writeConfig(t, "broker:\n  host: ignored\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Broker.Host != "mq.example" || cfg.Broker.Port != 1884 {
		t.Fatalf("expected env broker, got %s:%d", cfg.Broker.Host, cfg.Broker.Port)
	}
	if cfg.LogLevel() != logging.WarnLevel {
		t.Fatalf("expected warn level, got %s", cfg.LogLevel())
	}
}

func TestApplyEnvHostOnly(t *testing.T) {
	cfg := Default()
	env := map[string]string{EnvBrokerURL: "registry.local"}

	if err := cfg.ApplyEnv(func(k string) string { return env[k] }); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.Broker.Host != "registry.local" || cfg.Broker.Port != 1883 {
		t.Fatalf("expected host override with default port, got %s:%d", cfg.Broker.Host, cfg.Broker.Port)
	}

	env[EnvBrokerURL] = "tcp://host:notaport"
	if err := cfg.ApplyEnv(func(k string) string { return env[k] }); err == nil {
		t.Fatalf("expected error for bad port")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Setenv(EnvBrokerURL, "")
	t.Setenv(EnvLogLevel, "")

	_, err := Parse([]byte(`
broker:
  port: 70000
  qos: 3
  topic: same
  result_topic: same
analysis:
  top_estimates: 9
  chroma_source: microphone
logging:
  level: loud
`))
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"broker.port", "broker.qos", "result_topic", "top_estimates", "chroma_source", "logging.level"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %q", want, err.Error())
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
