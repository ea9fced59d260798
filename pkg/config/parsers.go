package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MARKETCHAT_"

// Flags holds parsed command-line flag values and which were set.
type Flags struct {
	Addr     string
	DB       string
	Config   string
	EnvFile  string
	Validate bool
	Version  bool
	Set      map[string]bool
}

// ParseConfigFlags parses args (without the program name).
func ParseConfigFlags(args []string) (Flags, error) {
	fs := pflag.NewFlagSet("marketchat", pflag.ContinueOnError)
	addr := fs.String("addr", ":8080", "HTTP listen address")
	db := fs.String("db", defaultDBPath, "Pebble data directory")
	cfg := fs.String("config", "./config.yaml", "Path to config file")
	envFile := fs.String("env-file", ".env", "Optional dotenv file loaded before env overrides")
	validate := fs.Bool("validate", false, "Validate configuration and exit")
	version := fs.BoolP("version", "v", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	set := make(map[string]bool)
	fs.Visit(func(f *pflag.Flag) { set[f.Name] = true })
	return Flags{
		Addr: *addr, DB: *db, Config: *cfg, EnvFile: *envFile,
		Validate: *validate, Version: *version, Set: set,
	}, nil
}

// ParseConfigFile loads the config file. A missing file that was not
// explicitly requested yields an empty config.
func ParseConfigFile(flags Flags) (*Config, bool, error) {
	path := ResolveConfigPath(flags.Config, flags.Set["config"])
	cfg, err := LoadConfigFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !flags.Set["config"] {
			return &Config{}, false, nil
		}
		return nil, false, err
	}
	return cfg, true, nil
}

// LoadDotEnv loads a dotenv file without overriding variables already in
// the environment. A missing file is ignored.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays MARKETCHAT_* variables on cfg. Unset variables leave
// the existing value untouched. It reports whether any override applied.
func ApplyEnv(cfg *Config) (bool, error) {
	used := false
	for _, kv := range os.Environ() {
		if len(kv) > len(EnvPrefix) && kv[:len(EnvPrefix)] == EnvPrefix {
			used = true
			break
		}
	}
	if !used {
		return false, nil
	}
	if err := env.Parse(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return true, fmt.Errorf("environment overrides: %w", err)
	}
	return true, nil
}

// EffectiveConfigResult is the merged configuration plus where it came
// from.
type EffectiveConfigResult struct {
	Config  *Config
	Addr    string
	DBPath  string
	Sources []string
}

// LoadEffectiveConfig merges file, flags and environment (later layers win)
// and applies defaults.
func LoadEffectiveConfig(flags Flags, fileCfg *Config, fileExists bool) (EffectiveConfigResult, error) {
	var res EffectiveConfigResult
	cfg := &Config{}
	if fileCfg != nil {
		copied := *fileCfg
		cfg = &copied
	}
	if fileExists {
		res.Sources = append(res.Sources, "config")
	}

	if flags.Set["addr"] {
		host, port, err := splitAddr(flags.Addr)
		if err != nil {
			return res, fmt.Errorf("--addr: %w", err)
		}
		cfg.Server.Address = host
		cfg.Server.Port = port
	}
	if flags.Set["db"] {
		cfg.Server.DBPath = flags.DB
	}
	if flags.Set["addr"] || flags.Set["db"] {
		res.Sources = append(res.Sources, "flags")
	}

	used, err := ApplyEnv(cfg)
	if err != nil {
		return res, err
	}
	if used {
		res.Sources = append(res.Sources, "env")
	}
	if len(res.Sources) == 0 {
		res.Sources = []string{"defaults"}
	}

	cfg.applyDefaults()
	res.Config = cfg
	res.Addr = cfg.Addr()
	res.DBPath = cfg.Server.DBPath
	return res, nil
}

// splitAddr accepts "host:port" or ":port".
func splitAddr(a string) (string, int, error) {
	h, p, err := net.SplitHostPort(a)
	if err != nil {
		return "", 0, err
	}
	pi, err := strconv.Atoi(p)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q", p)
	}
	return h, pi, nil
}
