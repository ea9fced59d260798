package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort            = 8080
	defaultDBPath          = "./.marketchat"
	defaultReadTimeout     = 15 * time.Second
	defaultWriteTimeout    = 15 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultMaxRequestBytes = 4 * 1024 * 1024

	defaultRateRPS   = 50
	defaultRateBurst = 100

	defaultAuditMaxSize    = 100 * 1024 * 1024
	defaultAuditMaxBackups = 7
	defaultAuditMaxAgeDays = 30

	defaultMaxBodyBytes    = 16 * 1024
	defaultPageSize        = 50
	defaultMaxPageSize     = 200
	defaultBroker          = "memory"
	defaultQueueCapacity   = 4096
	defaultMaxAttempts     = 3
	defaultRetryBackoff    = 200 * time.Millisecond
	defaultPublishTimeout  = 5 * time.Second
	defaultHubBuffer       = 64
	defaultRedisPrefix     = "marketchat:"
	defaultSweeperCron     = "*/5 * * * *"
	defaultSweeperMinAge   = 2 * time.Minute
	defaultSweeperBatch    = 1000
	defaultSweeperLockTTL  = 120 * time.Second
	defaultTelemetrySample = 0.001
	defaultTelemetrySlow   = 200 * time.Millisecond
	defaultTelemetryBuffer = 8 * 1024 * 1024
	defaultTelemetryFile   = 40 * 1024 * 1024
	defaultTelemetryFlush  = 2 * time.Second
	defaultTelemetryQueue  = 2048
)

// RuntimeConfig holds the key sets the auth layer reads per request.
type RuntimeConfig struct {
	BackendKeys  map[string]struct{}
	FrontendKeys map[string]struct{}
	AdminKeys    map[string]struct{}
	SigningKeys  map[string]struct{}
}

var (
	runtimeMu  sync.RWMutex
	runtimeCfg *RuntimeConfig
)

// SetRuntime sets the global runtime config.
func SetRuntime(rc *RuntimeConfig) {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	runtimeCfg = rc
}

// NewRuntime builds key sets from the security section. Backend keys
// double as signing keys.
func NewRuntime(c *Config) *RuntimeConfig {
	set := func(keys []string) map[string]struct{} {
		out := make(map[string]struct{}, len(keys))
		for _, k := range keys {
			if k != "" {
				out[k] = struct{}{}
			}
		}
		return out
	}
	rc := &RuntimeConfig{
		BackendKeys:  set(c.Security.APIKeys.Backend),
		FrontendKeys: set(c.Security.APIKeys.Frontend),
		AdminKeys:    set(c.Security.APIKeys.Admin),
	}
	rc.SigningKeys = set(c.Security.APIKeys.Backend)
	return rc
}

func copyKeys(pick func(*RuntimeConfig) map[string]struct{}) map[string]struct{} {
	runtimeMu.RLock()
	defer runtimeMu.RUnlock()
	out := make(map[string]struct{})
	if runtimeCfg == nil {
		return out
	}
	for k := range pick(runtimeCfg) {
		out[k] = struct{}{}
	}
	return out
}

// GetBackendKeys returns a copy of backend API keys.
func GetBackendKeys() map[string]struct{} {
	return copyKeys(func(rc *RuntimeConfig) map[string]struct{} { return rc.BackendKeys })
}

func GetFrontendKeys() map[string]struct{} {
	return copyKeys(func(rc *RuntimeConfig) map[string]struct{} { return rc.FrontendKeys })
}

func GetAdminKeys() map[string]struct{} {
	return copyKeys(func(rc *RuntimeConfig) map[string]struct{} { return rc.AdminKeys })
}

// GetSigningKeys returns a copy of signing keys.
func GetSigningKeys() map[string]struct{} {
	return copyKeys(func(rc *RuntimeConfig) map[string]struct{} { return rc.SigningKeys })
}

// Addr returns the HTTP server address as host:port.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	port := c.Server.Port
	if port == 0 {
		port = defaultPort
	}
	return fmt.Sprintf("%s:%d", addr, port)
}

// StateDir is where logs, telemetry and the sweeper lease live.
func (c *Config) StateDir() string {
	return filepath.Join(c.Server.DBPath, "state")
}

// LoadConfigFile reads and parses a config file.
func LoadConfigFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// applyDefaults fills every zero value with its default.
func (c *Config) applyDefaults() {
	s := &c.Server
	if s.Port == 0 {
		s.Port = defaultPort
	}
	if s.DBPath == "" {
		s.DBPath = defaultDBPath
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = Duration(defaultReadTimeout)
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = Duration(defaultWriteTimeout)
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = Duration(defaultIdleTimeout)
	}
	if s.MaxBodySize == 0 {
		s.MaxBodySize = SizeBytes(defaultMaxRequestBytes)
	}

	if c.Security.RateLimit.RPS == 0 {
		c.Security.RateLimit.RPS = defaultRateRPS
	}
	if c.Security.RateLimit.Burst == 0 {
		c.Security.RateLimit.Burst = defaultRateBurst
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	a := &c.Logging.Audit
	if a.MaxSize == 0 {
		a.MaxSize = SizeBytes(defaultAuditMaxSize)
	}
	if a.MaxBackups == 0 {
		a.MaxBackups = defaultAuditMaxBackups
	}
	if a.MaxAgeDays == 0 {
		a.MaxAgeDays = defaultAuditMaxAgeDays
	}

	m := &c.Messages
	if m.MaxBodyBytes == 0 {
		m.MaxBodyBytes = SizeBytes(defaultMaxBodyBytes)
	}
	if m.DefaultPageSize == 0 {
		m.DefaultPageSize = defaultPageSize
	}
	if m.MaxPageSize == 0 {
		m.MaxPageSize = defaultMaxPageSize
	}

	d := &c.Delivery
	if d.Broker == "" {
		d.Broker = defaultBroker
	}
	if d.Workers == 0 {
		d.Workers = 1
	}
	if d.QueueCapacity == 0 {
		d.QueueCapacity = defaultQueueCapacity
	}
	if d.MaxAttempts == 0 {
		d.MaxAttempts = defaultMaxAttempts
	}
	if d.RetryBackoff == 0 {
		d.RetryBackoff = Duration(defaultRetryBackoff)
	}
	if d.PublishTimeout == 0 {
		d.PublishTimeout = Duration(defaultPublishTimeout)
	}
	if d.HubBuffer == 0 {
		d.HubBuffer = defaultHubBuffer
	}
	if d.Redis.Prefix == "" {
		d.Redis.Prefix = defaultRedisPrefix
	}

	sw := &c.Sweeper
	if sw.Cron == "" {
		sw.Cron = defaultSweeperCron
	}
	if sw.MinAge == 0 {
		sw.MinAge = Duration(defaultSweeperMinAge)
	}
	if sw.BatchSize == 0 {
		sw.BatchSize = defaultSweeperBatch
	}
	if sw.LockTTL == 0 {
		sw.LockTTL = Duration(defaultSweeperLockTTL)
	}

	t := &c.Telemetry
	if t.SampleRate == 0 {
		t.SampleRate = defaultTelemetrySample
	}
	if t.SlowThreshold == 0 {
		t.SlowThreshold = Duration(defaultTelemetrySlow)
	}
	if t.BufferSize == 0 {
		t.BufferSize = SizeBytes(defaultTelemetryBuffer)
	}
	if t.FileMaxSize == 0 {
		t.FileMaxSize = SizeBytes(defaultTelemetryFile)
	}
	if t.FlushInterval == 0 {
		t.FlushInterval = Duration(defaultTelemetryFlush)
	}
	if t.QueueCapacity == 0 {
		t.QueueCapacity = defaultTelemetryQueue
	}
}

// ResolveConfigPath returns the config file path, preferring flag, then env.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("MARKETCHAT_CONFIG"); p != "" {
		return p
	}
	return flagPath
}
