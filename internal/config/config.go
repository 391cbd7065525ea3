package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// UploadBackendDirectory copies artifacts into a local or mounted directory
	UploadBackendDirectory = "directory"
	// UploadBackendHTTP PUTs artifacts to an HTTP endpoint
	UploadBackendHTTP = "http"
)

// ErrInvalidConfig is returned by Validate for missing or malformed settings
var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the complete application configuration
type Config struct {
	App      AppConfig      `yaml:"app"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Logging  LoggingConfig  `yaml:"logging"`
	Worker   WorkerConfig   `yaml:"worker"`
	Recorder RecorderConfig `yaml:"recorder"`
	Upload   UploadConfig   `yaml:"upload"`
	Admin    AdminConfig    `yaml:"admin"`
	Database DatabaseConfig `yaml:"database"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// RabbitMQConfig holds broker connection, queue and consumer settings
type RabbitMQConfig struct {
	URI        string           `yaml:"uri"`
	Queue      QueueConfig      `yaml:"queue"`
	Connection ConnectionConfig `yaml:"connection"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name    string `yaml:"name"`
	Durable *bool  `yaml:"durable"`
}

// IsDurable reports the queue durability, true unless explicitly disabled
func (q QueueConfig) IsDurable() bool {
	return q.Durable == nil || *q.Durable
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	Name          string        `yaml:"name"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount    int  `yaml:"prefetch_count"`
	RequeueOnFailure bool `yaml:"requeue_on_failure"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// WorkerConfig holds job execution settings
type WorkerConfig struct {
	MaxDuration     time.Duration `yaml:"max_duration"`
	JobGracePeriod  time.Duration `yaml:"job_grace_period"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RecorderConfig holds settings for capturing the referenced resource
type RecorderConfig struct {
	WorkDir   string `yaml:"work_dir"`
	UserAgent string `yaml:"user_agent"`
}

// UploadConfig holds the artifact destination
type UploadConfig struct {
	Backend   string        `yaml:"backend"`
	Directory string        `yaml:"directory"`
	Endpoint  string        `yaml:"endpoint"`
	Token     string        `yaml:"token"`
	Timeout   time.Duration `yaml:"timeout"`
}

// AdminConfig holds the health and metrics HTTP server settings. Port 0
// disables the server.
type AdminConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds the optional PostgreSQL recording ledger settings
type DatabaseConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// Load reads and parses the configuration file, then applies environment
// overrides and defaults
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyEnv()
	config.SetDefaults()

	return &config, nil
}

// ApplyEnv overrides broker settings from AMQP_URI and AMQP_QUEUE
func (c *Config) ApplyEnv() {
	if uri := os.Getenv("AMQP_URI"); uri != "" {
		c.RabbitMQ.URI = uri
	}
	if queue := os.Getenv("AMQP_QUEUE"); queue != "" {
		c.RabbitMQ.Queue.Name = queue
	}
}

// SetDefaults fills zero values
func (c *Config) SetDefaults() {
	if c.App.Name == "" {
		c.App.Name = "stream-recorder"
	}
	if c.RabbitMQ.Connection.RetryAttempts == 0 {
		c.RabbitMQ.Connection.RetryAttempts = 1
	}
	if c.RabbitMQ.Connection.RetryInterval == 0 {
		c.RabbitMQ.Connection.RetryInterval = 5 * time.Second
	}
	if c.RabbitMQ.Connection.Heartbeat == 0 {
		c.RabbitMQ.Connection.Heartbeat = 10 * time.Second
	}
	if c.RabbitMQ.Consumer.PrefetchCount == 0 {
		c.RabbitMQ.Consumer.PrefetchCount = 1
	}
	if c.Worker.MaxDuration == 0 {
		c.Worker.MaxDuration = 6 * time.Hour
	}
	if c.Worker.JobGracePeriod == 0 {
		c.Worker.JobGracePeriod = 5 * time.Minute
	}
	if c.Worker.ShutdownTimeout == 0 {
		c.Worker.ShutdownTimeout = 30 * time.Second
	}
	if c.Recorder.WorkDir == "" {
		c.Recorder.WorkDir = os.TempDir()
	}
	if c.Upload.Backend == "" {
		c.Upload.Backend = UploadBackendDirectory
	}
	if c.Upload.Timeout == 0 {
		c.Upload.Timeout = 10 * time.Minute
	}
	if c.Admin.ShutdownTimeout == 0 {
		c.Admin.ShutdownTimeout = 5 * time.Second
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.RabbitMQ.URI == "" {
		return fmt.Errorf("%w: rabbitmq uri is required", ErrInvalidConfig)
	}

	if _, err := amqp.ParseURI(c.RabbitMQ.URI); err != nil {
		return fmt.Errorf("%w: invalid rabbitmq uri: %v", ErrInvalidConfig, err)
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("%w: rabbitmq queue name is required", ErrInvalidConfig)
	}

	if c.RabbitMQ.Consumer.PrefetchCount < 1 {
		return fmt.Errorf("%w: rabbitmq prefetch_count must be greater than 0", ErrInvalidConfig)
	}

	if c.Worker.MaxDuration <= 0 {
		return fmt.Errorf("%w: worker max_duration must be greater than 0", ErrInvalidConfig)
	}

	if c.Worker.JobGracePeriod < 0 {
		return fmt.Errorf("%w: worker job_grace_period must not be negative", ErrInvalidConfig)
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: worker shutdown_timeout must be greater than 0", ErrInvalidConfig)
	}

	switch c.Upload.Backend {
	case UploadBackendDirectory:
		if c.Upload.Directory == "" {
			return fmt.Errorf("%w: upload directory is required for the directory backend", ErrInvalidConfig)
		}
	case UploadBackendHTTP:
		if c.Upload.Endpoint == "" {
			return fmt.Errorf("%w: upload endpoint is required for the http backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown upload backend %q", ErrInvalidConfig, c.Upload.Backend)
	}

	if c.Admin.Port != 0 && (c.Admin.Port < MinPort || c.Admin.Port > MaxPort) {
		return fmt.Errorf("%w: invalid admin port: %d (must be between %d and %d)", ErrInvalidConfig, c.Admin.Port, MinPort, MaxPort)
	}

	if c.Database.Enabled {
		if c.Database.Host == "" {
			return fmt.Errorf("%w: database host is required", ErrInvalidConfig)
		}

		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("%w: invalid database port: %d (must be between %d and %d)", ErrInvalidConfig, c.Database.Port, MinPort, MaxPort)
		}

		if c.Database.Database == "" {
			return fmt.Errorf("%w: database name is required", ErrInvalidConfig)
		}
	}

	return nil
}
