package cfg

import (
	"flag"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// BlobStoreType defines which object-store backend the worker talks to
type BlobStoreType string

const (
	BlobStoreS3    BlobStoreType = "s3"    // S3-compatible storage
	BlobStoreLocal BlobStoreType = "local" // Local file system (on-prem, tests)
)

// S3Configuration for S3-compatible storage backends
type S3Configuration struct {
	Endpoint     string `toml:"endpoint"`
	AccessKey    string `toml:"access_key"`
	SecretKey    string `toml:"secret"`
	SessionToken string `toml:"session_token"`
	Region       string `toml:"region"`
	UseSSL       bool   `toml:"use_ssl"`
}

// LocalStoreConfiguration for the filesystem backend
type LocalStoreConfiguration struct {
	RootDir string `toml:"root_dir"`
}

// BlobStoreConfiguration selects and configures the object-store backend
type BlobStoreConfiguration struct {
	Type  BlobStoreType           `toml:"type"`
	S3    S3Configuration         `toml:"s3"`
	Local LocalStoreConfiguration `toml:"local"`
}

// StreamerConfiguration controls blob stream behavior
type StreamerConfiguration struct {
	MaxBytesPerChunkMB int `toml:"max_bytes_per_chunk_mb"` // Validated only; the match worker streams in fixed 80 MiB chunks
	ChunkQueueDepth    int `toml:"chunk_queue_depth"`      // In-flight chunks per stream
}

// QueueConfiguration controls the job queue client
type QueueConfiguration struct {
	NatsURL                  string `toml:"nats_url"`
	StreamName               string `toml:"stream_name"`
	Subject                  string `toml:"subject"`
	DurableName              string `toml:"durable_name"`
	VisibilityTimeoutSeconds int    `toml:"visibility_timeout_seconds"` // Redelivery window; the lease heartbeat extends it
	MaxDeliver               int    `toml:"max_deliver"`                // Retry limit for failed jobs
}

// WorkerConfiguration controls the job poll loop
type WorkerConfiguration struct {
	PollIntervalMS  int      `toml:"poll_interval_ms"`
	BucketAllowlist []string `toml:"bucket_allowlist"` // Glob patterns; empty allows all
	PathAllowlist   []string `toml:"path_allowlist"`   // Glob patterns; empty allows all
}

// ExecutorConfiguration sizes the CPU and IO worker pools
type ExecutorConfiguration struct {
	CPUWorkers    int `toml:"cpu_workers"`
	IOWorkers     int `toml:"io_workers"`
	TaskQueueSize int `toml:"task_queue_size"`
}

// ParserConfiguration controls CSV stream parser buffering
type ParserConfiguration struct {
	MaxBufferedMB int `toml:"max_buffered_mb"` // Hard cap 500
}

// SinkConfiguration configures one job-event sink
type SinkConfiguration struct {
	Type    string   `toml:"type"` // "nats" or "kafka"
	NatsURL string   `toml:"nats_url"`
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
}

// AdminConfiguration for the ops HTTP server
type AdminConfiguration struct {
	Enabled     bool   `toml:"enabled"`
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
	Secret      string `toml:"secret"` // PSK; empty disables auth
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// Configuration is the main configuration structure
type Configuration struct {
	WorkerID string `toml:"worker_id"` // Empty derives a stable ID from the machine

	BlobStore  BlobStoreConfiguration  `toml:"blob_store"`
	Streamer   StreamerConfiguration   `toml:"streamer"`
	Queue      QueueConfiguration      `toml:"queue"`
	Worker     WorkerConfiguration     `toml:"worker"`
	Executor   ExecutorConfiguration   `toml:"executor"`
	Parser     ParserConfiguration     `toml:"parser"`
	Sinks      []SinkConfiguration     `toml:"sinks"`
	Admin      AdminConfiguration      `toml:"admin"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	WorkerIDFlag   = flag.String("worker-id", "", "Worker ID (overrides config)")
	AdminPortFlag  = flag.Int("admin-port", 0, "Admin HTTP port (overrides config)")
)

// Default configuration
var Config = &Configuration{
	WorkerID: "",

	BlobStore: BlobStoreConfiguration{
		Type: BlobStoreS3,
		S3:   S3Configuration{UseSSL: true},
		Local: LocalStoreConfiguration{
			RootDir: "./pair-data",
		},
	},

	Streamer: StreamerConfiguration{
		MaxBytesPerChunkMB: 80,
		ChunkQueueDepth:    64,
	},

	Queue: QueueConfiguration{
		NatsURL:                  "nats://127.0.0.1:4222",
		StreamName:               "PAIR_JOBS",
		Subject:                  "pair.jobs",
		DurableName:              "pair-worker",
		VisibilityTimeoutSeconds: 300,
		MaxDeliver:               3,
	},

	Worker: WorkerConfiguration{
		PollIntervalMS:  5000,
		BucketAllowlist: []string{},
		PathAllowlist:   []string{},
	},

	Executor: ExecutorConfiguration{
		CPUWorkers:    16,
		IOWorkers:     16,
		TaskQueueSize: 4096,
	},

	Parser: ParserConfiguration{
		MaxBufferedMB: 500,
	},

	Admin: AdminConfiguration{
		Enabled:     true,
		BindAddress: "0.0.0.0",
		Port:        9090,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *WorkerIDFlag != "" {
		Config.WorkerID = *WorkerIDFlag
	}
	if *AdminPortFlag != 0 {
		Config.Admin.Port = *AdminPortFlag
	}

	if Config.WorkerID == "" {
		id, err := machineid.ProtectedID("pairworker")
		if err != nil {
			return fmt.Errorf("failed to derive worker id: %w", err)
		}
		// Machine IDs are long; the first 12 hex chars are plenty unique
		// for log and metric labels.
		Config.WorkerID = id[:12]
	}

	return nil
}

// Validate checks the configuration for invalid combinations
func Validate() error {
	switch Config.BlobStore.Type {
	case BlobStoreS3:
		if Config.BlobStore.S3.Endpoint == "" {
			return fmt.Errorf("blob_store.s3.endpoint is required for the s3 backend")
		}
	case BlobStoreLocal:
		if Config.BlobStore.Local.RootDir == "" {
			return fmt.Errorf("blob_store.local.root_dir is required for the local backend")
		}
	default:
		return fmt.Errorf("unknown blob store type: %s", Config.BlobStore.Type)
	}

	if Config.Streamer.MaxBytesPerChunkMB < 1 {
		return fmt.Errorf("streamer max bytes per chunk must be >= 1 MB")
	}
	if Config.Streamer.ChunkQueueDepth < 1 {
		return fmt.Errorf("streamer chunk queue depth must be >= 1")
	}

	if Config.Queue.NatsURL == "" {
		return fmt.Errorf("queue nats_url is required")
	}
	if Config.Queue.VisibilityTimeoutSeconds < 1 {
		return fmt.Errorf("queue visibility timeout must be >= 1 second")
	}
	if Config.Queue.MaxDeliver < 1 {
		return fmt.Errorf("queue max deliver must be >= 1")
	}

	if Config.Worker.PollIntervalMS < 1 {
		return fmt.Errorf("worker poll interval must be >= 1ms")
	}

	// The surrogate assigner runs two cooperating tasks on the CPU pool.
	if Config.Executor.CPUWorkers < 2 {
		return fmt.Errorf("executor cpu pool must have >= 2 workers")
	}
	if Config.Executor.IOWorkers < 1 {
		return fmt.Errorf("executor io pool must have >= 1 worker")
	}
	if Config.Executor.TaskQueueSize < 1 {
		return fmt.Errorf("executor task queue size must be >= 1")
	}

	if Config.Parser.MaxBufferedMB < 1 || Config.Parser.MaxBufferedMB > 500 {
		return fmt.Errorf("parser max buffered MB must be in [1, 500]")
	}

	for i, sink := range Config.Sinks {
		switch sink.Type {
		case "nats":
			if sink.NatsURL == "" {
				return fmt.Errorf("sink %d: nats sink requires nats_url", i)
			}
		case "kafka":
			if len(sink.Brokers) == 0 {
				return fmt.Errorf("sink %d: kafka sink requires brokers", i)
			}
		default:
			return fmt.Errorf("sink %d: unknown sink type %q", i, sink.Type)
		}
		if sink.Topic == "" {
			return fmt.Errorf("sink %d: topic is required", i)
		}
	}

	if Config.Admin.Enabled && (Config.Admin.Port < 1 || Config.Admin.Port > 65535) {
		return fmt.Errorf("admin port must be in [1, 65535]")
	}

	return nil
}
