package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/adhocore/gronx"
	"github.com/go-playground/validator/v10"
)

var structValidator = validator.New()

// ValidateConfig fails fast on values the server cannot start with.
// Defaults are expected to be applied already.
func ValidateConfig(eff EffectiveConfigResult) error {
	cfg := eff.Config
	if cfg == nil {
		return fmt.Errorf("effective config is nil")
	}
	if strings.TrimSpace(eff.DBPath) == "" {
		return fmt.Errorf("database path is empty: set --db, MARKETCHAT_SERVER_DB_PATH, or server.db_path")
	}
	if err := structValidator.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	cert, key := cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile
	if (cert != "") != (key != "") {
		return fmt.Errorf("incomplete TLS configuration: both server.tls.cert_file and server.tls.key_file must be set")
	}
	if cert != "" {
		if _, err := os.Stat(cert); err != nil {
			return fmt.Errorf("tls cert file not accessible: %w", err)
		}
		if _, err := os.Stat(key); err != nil {
			return fmt.Errorf("tls key file not accessible: %w", err)
		}
	}

	if cfg.Messages.DefaultPageSize > cfg.Messages.MaxPageSize {
		return fmt.Errorf("messages.default_page_size (%d) exceeds messages.max_page_size (%d)",
			cfg.Messages.DefaultPageSize, cfg.Messages.MaxPageSize)
	}
	if cfg.Delivery.Broker == "redis" && strings.TrimSpace(cfg.Delivery.Redis.Addr) == "" {
		return fmt.Errorf("delivery.broker is redis but delivery.redis.addr is empty")
	}
	if !gronx.IsValid(cfg.Sweeper.Cron) {
		return fmt.Errorf("invalid sweeper cron expression: %s", cfg.Sweeper.Cron)
	}
	return nil
}
