// Package config loads the viewer configuration from YAML, JSON and
// BIRCH_* environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/clsa/birch/internal/database"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database" json:"database"`
	Paths     PathsConfig     `yaml:"paths" json:"paths"`
	Selection SelectionConfig `yaml:"selection" json:"selection"`
	Events    EventsConfig    `yaml:"events" json:"events"`
	Import    ImportConfig    `yaml:"import" json:"import"`
	Log       LogConfig       `yaml:"log" json:"log"`
}

// DatabaseConfig contains the MySQL connection parameters.
type DatabaseConfig struct {
	Name     string `yaml:"name" json:"name"`
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`

	// MaxOpenConns defaults to 1: the viewer shares a single connection.
	MaxOpenConns      int           `yaml:"max_open_conns,omitempty" json:"max_open_conns,omitempty"`
	MaxIdleConns      int           `yaml:"max_idle_conns,omitempty" json:"max_idle_conns,omitempty"`
	ConnMaxLifetime   time.Duration `yaml:"conn_max_lifetime,omitempty" json:"conn_max_lifetime,omitempty"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout,omitempty" json:"connection_timeout,omitempty"`
}

// Options converts the section into connection options.
func (d DatabaseConfig) Options() database.Options {
	return database.Options{
		Name:              d.Name,
		Username:          d.Username,
		Password:          d.Password,
		Host:              d.Host,
		Port:              d.Port,
		MaxOpenConns:      d.MaxOpenConns,
		MaxIdleConns:      d.MaxIdleConns,
		ConnMaxLifetime:   d.ConnMaxLifetime,
		ConnectionTimeout: d.ConnectionTimeout,
	}
}

// PathsConfig locates image data on disk.
type PathsConfig struct {
	ImageData string `yaml:"image_data" json:"image_data"`
}

// SelectionConfig configures where the last viewed image per user is kept.
// An empty Type disables the selection store.
type SelectionConfig struct {
	Type     string         `yaml:"type" json:"type"`
	Prefix   string         `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	TTL      time.Duration  `yaml:"ttl,omitempty" json:"ttl,omitempty"`
	Redis    RedisConfig    `yaml:"redis,omitempty" json:"redis,omitempty"`
	DynamoDB DynamoDBConfig `yaml:"dynamodb,omitempty" json:"dynamodb,omitempty"`
}

// RedisConfig contains Redis-specific configuration.
type RedisConfig struct {
	Endpoints    []string      `yaml:"endpoints" json:"endpoints"`
	Password     string        `yaml:"password,omitempty" json:"password,omitempty"`
	DB           int           `yaml:"db,omitempty" json:"db,omitempty"`
	PoolSize     int           `yaml:"pool_size,omitempty" json:"pool_size,omitempty"`
	DialTimeout  time.Duration `yaml:"dial_timeout,omitempty" json:"dial_timeout,omitempty"`
	ReadTimeout  time.Duration `yaml:"read_timeout,omitempty" json:"read_timeout,omitempty"`
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty" json:"write_timeout,omitempty"`
}

// DynamoDBConfig contains DynamoDB-specific configuration.
type DynamoDBConfig struct {
	Region          string `yaml:"region" json:"region"`
	TableName       string `yaml:"table_name" json:"table_name"`
	Endpoint        string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" json:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" json:"secret_access_key,omitempty"`
}

// EventsConfig configures the change feed. An empty QueueType disables it.
type EventsConfig struct {
	QueueType  string      `yaml:"queue_type" json:"queue_type"`
	Tables     []string    `yaml:"tables,omitempty" json:"tables,omitempty"`
	BufferSize int         `yaml:"buffer_size,omitempty" json:"buffer_size,omitempty"`
	Kafka      KafkaConfig `yaml:"kafka,omitempty" json:"kafka,omitempty"`
}

// KafkaConfig contains Kafka-specific configuration.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers" json:"brokers"`
	Topic        string        `yaml:"topic" json:"topic"`
	GroupID      string        `yaml:"group_id" json:"group_id"`
	BatchSize    int           `yaml:"batch_size" json:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout" json:"batch_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	RequiredAcks int           `yaml:"required_acks" json:"required_acks"`
	MinBytes     int           `yaml:"min_bytes" json:"min_bytes"`
	MaxBytes     int           `yaml:"max_bytes" json:"max_bytes"`
	MaxWait      time.Duration `yaml:"max_wait" json:"max_wait"`
}

// ImportConfig paces study imports.
type ImportConfig struct {
	// WriteRate is the maximum number of statements per second.
	WriteRate float64 `yaml:"write_rate" json:"write_rate"`
	Burst     int     `yaml:"burst" json:"burst"`
}

// LogConfig sets the logrus level.
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:              database.DefaultHost,
			Port:              database.DefaultPort,
			MaxOpenConns:      1,
			MaxIdleConns:      1,
			ConnMaxLifetime:   time.Hour,
			ConnectionTimeout: 10 * time.Second,
		},
		Paths: PathsConfig{
			ImageData: "images",
		},
		Selection: SelectionConfig{
			Prefix: "birch:selection",
			TTL:    30 * 24 * time.Hour,
			Redis: RedisConfig{
				Endpoints:    []string{"localhost:6379"},
				PoolSize:     2,
				DialTimeout:  5 * time.Second,
				ReadTimeout:  3 * time.Second,
				WriteTimeout: 3 * time.Second,
			},
		},
		Events: EventsConfig{
			BufferSize: 1000,
			Kafka: KafkaConfig{
				Brokers:      []string{"localhost:9092"},
				Topic:        "birch-record-changes",
				GroupID:      "birch",
				BatchSize:    100,
				BatchTimeout: 10 * time.Millisecond,
				WriteTimeout: 10 * time.Second,
				RequiredAcks: -1,
				MinBytes:     1,
				MaxBytes:     10 * 1024 * 1024,
				MaxWait:      100 * time.Millisecond,
			},
		},
		Import: ImportConfig{
			WriteRate: 50,
			Burst:     1,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadFile reads a YAML or JSON file, chosen by extension, over the
// defaults, applies environment overrides and validates the result.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json)", ext)
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides settings from BIRCH_* variables, e.g.
//   - BIRCH_DATABASE_NAME=birch
//   - BIRCH_DATABASE_PORT=3307
//   - BIRCH_PATHS_IMAGE_DATA=/data/images
//   - BIRCH_SELECTION_TYPE=redis
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if val, ok := lookup(key); ok && val != "" {
			*dst = val
		}
	}
	num := func(key string, dst *int) error {
		val, ok := lookup(key)
		if !ok || val == "" {
			return nil
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("BIRCH_DATABASE_NAME", &c.Database.Name)
	str("BIRCH_DATABASE_HOST", &c.Database.Host)
	str("BIRCH_DATABASE_USERNAME", &c.Database.Username)
	str("BIRCH_DATABASE_PASSWORD", &c.Database.Password)
	if err := num("BIRCH_DATABASE_PORT", &c.Database.Port); err != nil {
		return err
	}
	if err := num("BIRCH_DATABASE_MAX_OPEN_CONNS", &c.Database.MaxOpenConns); err != nil {
		return err
	}
	str("BIRCH_PATHS_IMAGE_DATA", &c.Paths.ImageData)
	str("BIRCH_SELECTION_TYPE", &c.Selection.Type)
	if val, ok := lookup("BIRCH_SELECTION_REDIS_ENDPOINTS"); ok && val != "" {
		c.Selection.Redis.Endpoints = strings.Split(val, ",")
	}
	str("BIRCH_EVENTS_QUEUE_TYPE", &c.Events.QueueType)
	if val, ok := lookup("BIRCH_EVENTS_KAFKA_BROKERS"); ok && val != "" {
		c.Events.Kafka.Brokers = strings.Split(val, ",")
	}
	str("BIRCH_LOG_LEVEL", &c.Log.Level)
	return nil
}

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	if c.Database.Name == "" {
		return fmt.Errorf("database.name is required")
	}
	if c.Database.Username == "" {
		return fmt.Errorf("database.username is required")
	}
	if c.Database.Port < 0 || c.Database.Port > 65535 {
		return fmt.Errorf("database.port must be at most 65535")
	}
	if c.Database.MaxOpenConns < 0 {
		return fmt.Errorf("database.max_open_conns must be non-negative")
	}

	switch c.Selection.Type {
	case "", "memory":
	case "redis":
		if len(c.Selection.Redis.Endpoints) == 0 {
			return fmt.Errorf("selection.redis.endpoints is required when selection.type is 'redis'")
		}
	case "dynamodb":
		if c.Selection.DynamoDB.Region == "" || c.Selection.DynamoDB.TableName == "" {
			return fmt.Errorf("selection.dynamodb.region and table_name are required when selection.type is 'dynamodb'")
		}
	default:
		return fmt.Errorf("selection.type must be 'memory', 'redis' or 'dynamodb'")
	}

	switch c.Events.QueueType {
	case "", "memory":
	case "kafka":
		if len(c.Events.Kafka.Brokers) == 0 {
			return fmt.Errorf("events.kafka.brokers is required when queue_type is 'kafka'")
		}
		if c.Events.Kafka.Topic == "" {
			return fmt.Errorf("events.kafka.topic is required when queue_type is 'kafka'")
		}
	default:
		return fmt.Errorf("events.queue_type must be 'memory' or 'kafka'")
	}

	if c.Import.WriteRate < 0 {
		return fmt.Errorf("import.write_rate must be non-negative")
	}
	return nil
}
