package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeTemp(t, "sentinel.yaml", `
log_level: debug
detection:
  weight_tolerance: 0.2
  queue_length_threshold: 7
sink:
  path: out/events.jsonl
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level: %s", cfg.LogLevel)
	}
	if cfg.Detection.WeightTolerance != 0.2 || cfg.Detection.QueueLengthThreshold != 7 {
		t.Fatalf("detection overrides: %+v", cfg.Detection)
	}
	// Untouched fields keep their defaults.
	if cfg.Detection.CorrelationWindowShort != 30*time.Second {
		t.Fatalf("default lost: %v", cfg.Detection.CorrelationWindowShort)
	}
	if cfg.Ingest.ChannelBuffer != 10000 {
		t.Fatalf("ingest default lost: %d", cfg.Ingest.ChannelBuffer)
	}
}

func TestLoadJSONSniffing(t *testing.T) {
	path := writeTemp(t, "sentinel.conf", `{"log_level": "warn", "sink": {"path": "events.jsonl"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("json config not detected: %s", cfg.LogLevel)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad backpressure", func(c *Config) { c.Ingest.Backpressure = "spill" }},
		{"stream without addr", func(c *Config) { c.Ingest.Stream.Enabled = true; c.Ingest.Stream.Addr = "" }},
		{"empty sink path", func(c *Config) { c.Sink.Path = "" }},
		{"zero weight tolerance", func(c *Config) { c.Detection.WeightTolerance = 0 }},
		{"short above long window", func(c *Config) { c.Detection.CorrelationWindowShort = 700 * time.Second }},
		{"idle above hard timeout", func(c *Config) { c.Detection.SessionIdleTimeout = 2000 * time.Second }},
		{"kafka without brokers", func(c *Config) { c.Ingest.Kafka.Enabled = true }},
	}
	for _, tc := range cases {
		cfg := DefaultConfig()
		tc.mutate(cfg)
		if err := Validate(cfg); err == nil {
			t.Fatalf("%s: validation passed", tc.name)
		}
	}
	if err := Validate(DefaultConfig()); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestManagerReload(t *testing.T) {
	path := writeTemp(t, "sentinel.yaml", "log_level: info\n")
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if m.Get().LogLevel != "info" {
		t.Fatalf("initial config: %s", m.Get().LogLevel)
	}

	time.Sleep(10 * time.Millisecond)
	if err := os.WriteFile(path, []byte("log_level: debug\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	// Force a newer mod time; coarse filesystem clocks may round it away.
	future := time.Now().Add(time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	needs, err := m.NeedsReload()
	if err != nil {
		t.Fatalf("needs reload: %v", err)
	}
	if !needs {
		t.Fatalf("modified file not detected")
	}
	cfg, err := m.Reload()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("reloaded config: %s", cfg.LogLevel)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "debug"
	cfg.Detection.QueueLengthThreshold = 9

	for _, name := range []string{"dump.yaml", "dump.json"} {
		path := filepath.Join(t.TempDir(), name)
		if err := Save(path, cfg); err != nil {
			t.Fatalf("save %s: %v", name, err)
		}
		got, err := Load(path)
		if err != nil {
			t.Fatalf("load %s: %v", name, err)
		}
		if got.LogLevel != "debug" || got.Detection.QueueLengthThreshold != 9 {
			t.Fatalf("%s round trip: %+v", name, got.Detection)
		}
	}

	if err := Save("", cfg); err == nil {
		t.Fatalf("empty path accepted")
	}
}

func TestStaticManager(t *testing.T) {
	m := NewStaticManager(nil)
	if m.Get() == nil {
		t.Fatalf("static manager has no config")
	}
	needs, err := m.NeedsReload()
	if err != nil || needs {
		t.Fatalf("static manager wants a reload: %v %v", needs, err)
	}
}
