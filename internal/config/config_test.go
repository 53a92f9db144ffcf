package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Broker.Host != "localhost" || cfg.Broker.Port != 5672 {
		t.Fatalf("unexpected broker address %s:%d", cfg.Broker.Host, cfg.Broker.Port)
	}
	if got := cfg.ProbePolicy(); got.Attempts != 10 || got.Delay != 3*time.Second || got.Timeout != 3*time.Second {
		t.Fatalf("unexpected probe policy %+v", got)
	}
	if cfg.Finalizer.MaxChunkBytes != 10<<20 {
		t.Fatalf("expected 10 MiB chunk limit, got %d", cfg.Finalizer.MaxChunkBytes)
	}
	if got := cfg.FinalizerSettings().ChunkDelay; got != 100*time.Millisecond {
		t.Fatalf("expected 100ms chunk delay, got %v", got)
	}
	if cfg.Finalizer.Transport != TransportAMQP {
		t.Fatalf("expected amqp transport, got %q", cfg.Finalizer.Transport)
	}
	task := cfg.TaskTopology()
	if task.Queue != "crawl_tasks" || !task.Durable || task.Exchange != "crawler" {
		t.Fatalf("unexpected task topology %+v", task)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
broker:
  host: rabbit
  port: 5673
  heartbeat_seconds: 30
  exchange_name: crawl
  exchange_type: topic
  task_queue: tasks
  task_routing_key: tasks.new
  result_queue: results
  result_routing_key: ""
  publish_retries: 2
crawl:
  output_root: /srv/out
  log_root: /srv/logs
  user_agent: test-agent
  max_depth: 2
  respect_robots: false
  request_timeout_seconds: 5
finalizer:
  max_chunk_bytes: 1024
  chunk_delay_ms: 0
  archive: local
  archive_dir: /srv/archive
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	endpoint := cfg.Endpoint()
	if endpoint.Address() != "rabbit:5673" || endpoint.Heartbeat != 30*time.Second {
		t.Fatalf("unexpected endpoint %+v", endpoint)
	}
	task := cfg.TaskTopology()
	if task.RoutingKey != "tasks.new" || task.ExchangeType != "topic" {
		t.Fatalf("unexpected task topology %+v", task)
	}
	if result := cfg.ResultTopology(); result.RoutingKey != "results" {
		t.Fatalf("expected result routing key to fall back to the queue name, got %q", result.RoutingKey)
	}
	engine := cfg.EngineConfig()
	if engine.UserAgent != "test-agent" || engine.MaxDepth != 2 || engine.RespectRobots {
		t.Fatalf("unexpected engine config %+v", engine)
	}
	if engine.RequestTimeout != 5*time.Second || len(engine.DeniedExtensions) == 0 {
		t.Fatalf("unexpected engine timeouts %+v", engine)
	}
	if cfg.FinalizerSettings().MaxChunkBytes != 1024 {
		t.Fatalf("expected chunk override")
	}
	if cfg.Logging.Development {
		t.Fatalf("expected production logging")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Broker: BrokerConfig{
			Host:          "localhost",
			Port:          5672,
			TaskQueue:     "tasks",
			ResultQueue:   "results",
			ProbeAttempts: 1,
		},
		Finalizer: FinalizerConfig{MaxChunkBytes: 1, Transport: TransportAMQP},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "missing host", mutate: func(c *Config) { c.Broker.Host = "" }, want: "broker.host"},
		{name: "invalid port", mutate: func(c *Config) { c.Broker.Port = 0 }, want: "broker.port"},
		{name: "negative heartbeat", mutate: func(c *Config) { c.Broker.HeartbeatSeconds = -1 }, want: "broker.heartbeat_seconds"},
		{name: "missing queue", mutate: func(c *Config) { c.Broker.ResultQueue = "" }, want: "broker.task_queue"},
		{name: "no probe attempts", mutate: func(c *Config) { c.Broker.ProbeAttempts = 0 }, want: "broker.probe_attempts"},
		{name: "negative retries", mutate: func(c *Config) { c.Broker.PublishRetries = -1 }, want: "broker.publish_retries"},
		{name: "zero chunk", mutate: func(c *Config) { c.Finalizer.MaxChunkBytes = 0 }, want: "finalizer.max_chunk_bytes"},
		{name: "unknown transport", mutate: func(c *Config) { c.Finalizer.Transport = "kafka" }, want: "finalizer.transport"},
		{name: "pubsub without topic", mutate: func(c *Config) { c.Finalizer.Transport = TransportPubSub }, want: "pubsub.project_id"},
		{name: "local archive without dir", mutate: func(c *Config) { c.Finalizer.Archive = ArchiveLocal }, want: "finalizer.archive_dir"},
		{name: "gcs archive without bucket", mutate: func(c *Config) { c.Finalizer.Archive = ArchiveGCS }, want: "finalizer.gcs_bucket"},
		{name: "negative request rate", mutate: func(c *Config) { c.Crawl.RequestsPerSecond = -1 }, want: "crawl.requests_per_second"},
		{name: "unknown archive", mutate: func(c *Config) { c.Finalizer.Archive = "s3" }, want: "finalizer.archive"},
		{name: "metrics without port", mutate: func(c *Config) { c.Metrics.Enabled = true }, want: "metrics.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
