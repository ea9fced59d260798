package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct. The env tags are relative to
// the MARKETCHAT_ prefix.
type Config struct {
	Server    ServerConfig    `yaml:"server" envPrefix:"SERVER_"`
	Security  SecurityConfig  `yaml:"security"`
	Logging   LoggingConfig   `yaml:"logging" envPrefix:"LOG_"`
	Store     StoreConfig     `yaml:"store" envPrefix:"STORE_"`
	Messages  MessagesConfig  `yaml:"messages" envPrefix:"MESSAGES_"`
	Routing   RoutingConfig   `yaml:"routing" envPrefix:"ROUTING_"`
	Delivery  DeliveryConfig  `yaml:"delivery" envPrefix:"DELIVERY_"`
	Sweeper   SweeperConfig   `yaml:"sweeper" envPrefix:"SWEEPER_"`
	Telemetry TelemetryConfig `yaml:"telemetry" envPrefix:"TELEMETRY_"`
	Files     FilesConfig     `yaml:"files" envPrefix:"FILES_"`
}

// ServerConfig holds http and tls settings.
type ServerConfig struct {
	Address      string    `yaml:"address" env:"ADDRESS"`
	Port         int       `yaml:"port" env:"PORT" validate:"gte=0,lte=65535"`
	DBPath       string    `yaml:"db_path" env:"DB_PATH"`
	TLS          TLSConfig `yaml:"tls" envPrefix:"TLS_"`
	ReadTimeout  Duration  `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout Duration  `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout  Duration  `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	MaxBodySize  SizeBytes `yaml:"max_body_size" env:"MAX_BODY_SIZE"`
}

// TLSConfig holds TLS certificate configuration.
type TLSConfig struct {
	CertFile string `yaml:"cert_file" env:"CERT"`
	KeyFile  string `yaml:"key_file" env:"KEY"`
}

// SecurityConfig holds security related settings.
type SecurityConfig struct {
	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins" env:"CORS_ORIGINS" envSeparator:","`
	} `yaml:"cors"`
	RateLimit struct {
		RPS   float64 `yaml:"rps" env:"RATE_RPS" validate:"gte=0"`
		Burst int     `yaml:"burst" env:"RATE_BURST" validate:"gte=0"`
	} `yaml:"rate_limit"`
	IPWhitelist []string `yaml:"ip_whitelist" env:"IP_WHITELIST" envSeparator:","`
	APIKeys     struct {
		Backend  []string `yaml:"backend" env:"API_BACKEND_KEYS" envSeparator:","`
		Frontend []string `yaml:"frontend" env:"API_FRONTEND_KEYS" envSeparator:","`
		Admin    []string `yaml:"admin" env:"API_ADMIN_KEYS" envSeparator:","`
	} `yaml:"api_keys"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string      `yaml:"level" env:"LEVEL" validate:"omitempty,oneof=debug info warn warning error"`
	Audit AuditConfig `yaml:"audit" envPrefix:"AUDIT_"`
}

// AuditConfig controls the rotated audit log under the data directory.
type AuditConfig struct {
	Enabled    bool      `yaml:"enabled" env:"ENABLED"`
	MaxSize    SizeBytes `yaml:"max_size" env:"MAX_SIZE"`
	MaxBackups int       `yaml:"max_backups" env:"MAX_BACKUPS" validate:"gte=0"`
	MaxAgeDays int       `yaml:"max_age_days" env:"MAX_AGE_DAYS" validate:"gte=0"`
	Compress   bool      `yaml:"compress" env:"COMPRESS"`
}

// StoreConfig tunes the pebble store.
type StoreConfig struct {
	DisableWAL bool `yaml:"disable_wal" env:"DISABLE_WAL"`
}

// MessagesConfig bounds message bodies and listing pages.
type MessagesConfig struct {
	MaxBodyBytes    SizeBytes `yaml:"max_body_bytes" env:"MAX_BODY_BYTES"`
	DefaultPageSize int       `yaml:"default_page_size" env:"DEFAULT_PAGE_SIZE" validate:"gte=0"`
	MaxPageSize     int       `yaml:"max_page_size" env:"MAX_PAGE_SIZE" validate:"gte=0"`
}

// RoutingConfig selects who receives a buyer's message.
type RoutingConfig struct {
	// RouteToAgent sends buyer messages to the assigned agent instead of
	// the seller.
	RouteToAgent bool `yaml:"route_to_agent" env:"TO_AGENT"`
}

// DeliveryConfig configures the outbox queue and the broadcast broker.
type DeliveryConfig struct {
	Broker         string      `yaml:"broker" env:"BROKER" validate:"omitempty,oneof=memory redis"`
	Workers        int         `yaml:"workers" env:"WORKERS" validate:"gte=0"`
	QueueCapacity  int         `yaml:"queue_capacity" env:"QUEUE_CAPACITY" validate:"gte=0"`
	MaxAttempts    int         `yaml:"max_attempts" env:"MAX_ATTEMPTS" validate:"gte=0"`
	RetryBackoff   Duration    `yaml:"retry_backoff" env:"RETRY_BACKOFF"`
	PublishTimeout Duration    `yaml:"publish_timeout" env:"PUBLISH_TIMEOUT"`
	ReadReceipts   bool        `yaml:"read_receipts" env:"READ_RECEIPTS"`
	HubBuffer      int         `yaml:"hub_buffer" env:"HUB_BUFFER" validate:"gte=0"`
	Redis          RedisConfig `yaml:"redis" envPrefix:"REDIS_"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB" validate:"gte=0"`
	Prefix   string `yaml:"prefix" env:"PREFIX"`
}

// SweeperConfig holds configuration for the scheduled outbox redelivery.
type SweeperConfig struct {
	Enabled   bool     `yaml:"enabled" env:"ENABLED"`
	Cron      string   `yaml:"cron" env:"CRON"`
	MinAge    Duration `yaml:"min_age" env:"MIN_AGE"`
	BatchSize int      `yaml:"batch_size" env:"BATCH_SIZE" validate:"gte=0"`
	// LockTTL is the lease TTL taken for a run. Zero applies the default.
	LockTTL   Duration `yaml:"lock_ttl" env:"LOCK_TTL"`
}

// TelemetryConfig controls sampling and slow-operation thresholds.
type TelemetryConfig struct {
	SampleRate    float64   `yaml:"sample_rate" env:"SAMPLE_RATE" validate:"gte=0,lte=1"`
	SlowThreshold Duration  `yaml:"slow_threshold" env:"SLOW_THRESHOLD"`
	BufferSize    SizeBytes `yaml:"buffer_size" env:"BUFFER_SIZE"`
	FileMaxSize   SizeBytes `yaml:"file_max_size" env:"FILE_MAX_SIZE"`
	FlushInterval Duration  `yaml:"flush_interval" env:"FLUSH_INTERVAL"`
	QueueCapacity int       `yaml:"queue_capacity" env:"QUEUE_CAPACITY" validate:"gte=0"`
}

// FilesConfig points attachment paths at the file host.
type FilesConfig struct {
	BaseURL string `yaml:"base_url" env:"BASE_URL" validate:"omitempty,url"`
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly
// strings like "64MB" or plain integers.
type SizeBytes int64

func parseSizeBytes(raw string) (SizeBytes, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		return SizeBytes(v), nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return SizeBytes(i), nil
	}
	return 0, fmt.Errorf("invalid size value: %q", raw)
}

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	v, err := parseSizeBytes(node.Value)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// UnmarshalText lets env overrides use the same notation.
func (s *SizeBytes) UnmarshalText(b []byte) error {
	v, err := parseSizeBytes(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s SizeBytes) Int64() int64 { return int64(s) }

func (s SizeBytes) String() string { return humanize.IBytes(uint64(s)) }

// Duration wraps time.Duration and parses "100ms" style strings or plain
// numbers (seconds).
type Duration time.Duration

func parseDuration(raw string) (Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		return Duration(td), nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return Duration(time.Duration(f * float64(time.Second))), nil
	}
	return 0, fmt.Errorf("invalid duration value: %q", raw)
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = 0
		return nil
	}
	v, err := parseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := parseDuration(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }
