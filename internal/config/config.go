// Package config loads and validates crawl-broker configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/spf13/viper"

	"github.com/JakeFAU/crawl-broker/internal/broker"
	"github.com/JakeFAU/crawl-broker/internal/crawler"
	"github.com/JakeFAU/crawl-broker/internal/finalizer"
)

// Result transports.
const (
	TransportAMQP   = "amqp"
	TransportPubSub = "pubsub"
)

// Archive backends.
const (
	ArchiveNone   = "none"
	ArchiveMemory = "memory"
	ArchiveLocal  = "local"
	ArchiveGCS    = "gcs"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Broker    BrokerConfig    `mapstructure:"broker"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	Finalizer FinalizerConfig `mapstructure:"finalizer"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	DB        DBConfig        `mapstructure:"db"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// BrokerConfig locates RabbitMQ and names the task and result routes.
type BrokerConfig struct {
	Host                string `mapstructure:"host"`
	Port                int    `mapstructure:"port"`
	Username            string `mapstructure:"username"`
	Password            string `mapstructure:"password"`
	VHost               string `mapstructure:"vhost"`
	HeartbeatSeconds    int    `mapstructure:"heartbeat_seconds"`
	ExchangeName        string `mapstructure:"exchange_name"`
	ExchangeType        string `mapstructure:"exchange_type"`
	ExchangeDurable     bool   `mapstructure:"exchange_durable"`
	TaskQueue           string `mapstructure:"task_queue"`
	TaskRoutingKey      string `mapstructure:"task_routing_key"`
	ResultQueue         string `mapstructure:"result_queue"`
	ResultRoutingKey    string `mapstructure:"result_routing_key"`
	ProbeAttempts       int    `mapstructure:"probe_attempts"`
	ProbeDelaySeconds   int    `mapstructure:"probe_delay_seconds"`
	ProbeTimeoutSeconds int    `mapstructure:"probe_timeout_seconds"`
	PublishRetries      int    `mapstructure:"publish_retries"`
}

// CrawlConfig governs the crawl engine and default directories.
type CrawlConfig struct {
	OutputRoot            string `mapstructure:"output_root"`
	LogRoot               string `mapstructure:"log_root"`
	UserAgent             string `mapstructure:"user_agent"`
	MaxDepth              int    `mapstructure:"max_depth"`
	RespectRobots         bool   `mapstructure:"respect_robots"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`

	// RequestsPerSecond caps requests per host; zero disables the limit.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// FinalizerConfig sets chunking, the result transport and archiving.
type FinalizerConfig struct {
	MaxChunkBytes int64  `mapstructure:"max_chunk_bytes"`
	ChunkDelayMs  int    `mapstructure:"chunk_delay_ms"`
	Transport     string `mapstructure:"transport"`
	Archive       string `mapstructure:"archive"`
	ArchiveDir    string `mapstructure:"archive_dir"`
	GCSBucket     string `mapstructure:"gcs_bucket"`
	ArchivePrefix string `mapstructure:"archive_prefix"`
}

// PubSubConfig holds the alternative result topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// DBConfig controls the optional run ledger. An empty DSN disables it.
type DBConfig struct {
	DSN         string `mapstructure:"dsn"`
	TaskTable   string `mapstructure:"task_table"`
	ResultTable string `mapstructure:"result_table"`
	MaxConns    int32  `mapstructure:"max_conns"`
}

// MetricsConfig toggles the health and metrics listener.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("broker.host", "localhost")
	v.SetDefault("broker.port", 5672)
	v.SetDefault("broker.username", "guest")
	v.SetDefault("broker.password", "guest")
	v.SetDefault("broker.vhost", "/")
	v.SetDefault("broker.heartbeat_seconds", 600)
	v.SetDefault("broker.exchange_name", "crawler")
	v.SetDefault("broker.exchange_type", amqp.ExchangeDirect)
	v.SetDefault("broker.exchange_durable", false)
	v.SetDefault("broker.task_queue", "crawl_tasks")
	v.SetDefault("broker.task_routing_key", "crawl_tasks")
	v.SetDefault("broker.result_queue", "crawl_results")
	v.SetDefault("broker.result_routing_key", "crawl_results")
	v.SetDefault("broker.probe_attempts", 10)
	v.SetDefault("broker.probe_delay_seconds", 3)
	v.SetDefault("broker.probe_timeout_seconds", 3)
	v.SetDefault("broker.publish_retries", 0)
	v.SetDefault("crawl.output_root", "data/output")
	v.SetDefault("crawl.log_root", "data/logs")
	v.SetDefault("crawl.user_agent", crawler.DefaultConfig().UserAgent)
	v.SetDefault("crawl.max_depth", crawler.DefaultConfig().MaxDepth)
	v.SetDefault("crawl.respect_robots", true)
	v.SetDefault("crawl.request_timeout_seconds", 30)
	v.SetDefault("crawl.requests_per_second", 0)
	v.SetDefault("crawl.burst", 1)
	v.SetDefault("finalizer.max_chunk_bytes", finalizer.DefaultMaxChunkBytes)
	v.SetDefault("finalizer.chunk_delay_ms", 100)
	v.SetDefault("finalizer.transport", TransportAMQP)
	v.SetDefault("finalizer.archive", ArchiveNone)
	v.SetDefault("db.task_table", "task_runs")
	v.SetDefault("db.result_table", "result_messages")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.port", 9102)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Broker.Host == "" {
		return errors.New("broker.host must be set")
	}
	if c.Broker.Port <= 0 || c.Broker.Port > 65535 {
		return fmt.Errorf("broker.port must be in 1..65535, got %d", c.Broker.Port)
	}
	if c.Broker.HeartbeatSeconds < 0 {
		return errors.New("broker.heartbeat_seconds must be >= 0")
	}
	if c.Broker.TaskQueue == "" || c.Broker.ResultQueue == "" {
		return errors.New("broker.task_queue and broker.result_queue must be set")
	}
	if c.Broker.ProbeAttempts <= 0 {
		return errors.New("broker.probe_attempts must be > 0")
	}
	if c.Broker.PublishRetries < 0 {
		return errors.New("broker.publish_retries must be >= 0")
	}
	if c.Crawl.MaxDepth < 0 {
		return errors.New("crawl.max_depth must be >= 0")
	}
	if c.Crawl.RequestsPerSecond < 0 {
		return errors.New("crawl.requests_per_second must be >= 0")
	}
	if c.Finalizer.MaxChunkBytes <= 0 {
		return errors.New("finalizer.max_chunk_bytes must be > 0")
	}
	switch c.Finalizer.Transport {
	case TransportAMQP:
	case TransportPubSub:
		if c.PubSub.ProjectID == "" || c.PubSub.TopicName == "" {
			return errors.New("pubsub.project_id and pubsub.topic_name must be set for the pubsub transport")
		}
	default:
		return fmt.Errorf("finalizer.transport must be %s or %s, got %q", TransportAMQP, TransportPubSub, c.Finalizer.Transport)
	}
	switch c.Finalizer.Archive {
	case ArchiveNone, ArchiveMemory, "":
	case ArchiveLocal:
		if c.Finalizer.ArchiveDir == "" {
			return errors.New("finalizer.archive_dir must be set for the local archive")
		}
	case ArchiveGCS:
		if c.Finalizer.GCSBucket == "" {
			return errors.New("finalizer.gcs_bucket must be set for the gcs archive")
		}
	default:
		return fmt.Errorf("finalizer.archive must be none, memory, local or gcs, got %q", c.Finalizer.Archive)
	}
	if c.Metrics.Enabled && c.Metrics.Port <= 0 {
		return errors.New("metrics.port must be > 0 when metrics are enabled")
	}
	return nil
}

// Endpoint returns the broker endpoint.
func (c Config) Endpoint() broker.Endpoint {
	return broker.Endpoint{
		Host:      c.Broker.Host,
		Port:      c.Broker.Port,
		Heartbeat: time.Duration(c.Broker.HeartbeatSeconds) * time.Second,
		Username:  c.Broker.Username,
		Password:  c.Broker.Password,
		VHost:     c.Broker.VHost,
	}
}

// ProbePolicy returns the reachability policy used before every dial.
func (c Config) ProbePolicy() broker.ProbePolicy {
	return broker.ProbePolicy{
		Attempts: c.Broker.ProbeAttempts,
		Delay:    time.Duration(c.Broker.ProbeDelaySeconds) * time.Second,
		Timeout:  time.Duration(c.Broker.ProbeTimeoutSeconds) * time.Second,
	}
}

// TaskTopology routes crawl tasks to the durable task queue.
func (c Config) TaskTopology() broker.Topology {
	return c.topology(c.Broker.TaskQueue, c.Broker.TaskRoutingKey)
}

// ResultTopology routes result messages to the durable result queue.
func (c Config) ResultTopology() broker.Topology {
	return c.topology(c.Broker.ResultQueue, c.Broker.ResultRoutingKey)
}

func (c Config) topology(queue, key string) broker.Topology {
	if key == "" {
		key = queue
	}
	return broker.Topology{
		Exchange:        c.Broker.ExchangeName,
		ExchangeType:    c.Broker.ExchangeType,
		ExchangeDurable: c.Broker.ExchangeDurable,
		Queue:           queue,
		RoutingKey:      key,
		Durable:         true,
	}
}

// EngineConfig returns the crawl engine settings.
func (c Config) EngineConfig() crawler.Config {
	cfg := crawler.DefaultConfig()
	if c.Crawl.UserAgent != "" {
		cfg.UserAgent = c.Crawl.UserAgent
	}
	cfg.MaxDepth = c.Crawl.MaxDepth
	cfg.RespectRobots = c.Crawl.RespectRobots
	if c.Crawl.RequestTimeoutSeconds > 0 {
		cfg.RequestTimeout = time.Duration(c.Crawl.RequestTimeoutSeconds) * time.Second
	}
	cfg.RequestsPerSecond = c.Crawl.RequestsPerSecond
	cfg.Burst = c.Crawl.Burst
	return cfg
}

// FinalizerSettings returns chunking and pacing for the result finalizer.
func (c Config) FinalizerSettings() finalizer.Config {
	return finalizer.Config{
		MaxChunkBytes: c.Finalizer.MaxChunkBytes,
		ChunkDelay:    time.Duration(c.Finalizer.ChunkDelayMs) * time.Millisecond,
	}
}
