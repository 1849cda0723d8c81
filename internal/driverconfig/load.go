package driverconfig

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jroosing/gobolt/internal/errorkind"
)

// CLIConfig is cmd/boltctl's full set of knobs, loaded with the following
// priority (highest to lowest):
//  1. Command-line flags (not handled here, see cmd/boltctl/main.go)
//  2. Environment variables (BOLT_* prefix)
//  3. YAML config file (if -config names one)
//  4. Hardcoded defaults
//
// Environment variables are mapped from BOLT_SETTING format, e.g.
// BOLT_FETCH_SIZE maps to fetch_size.
type CLIConfig struct {
	URI                   string
	Username              string
	Password              string
	Database              string
	FetchSize             int64
	ConnectionTimeout     time.Duration
	MaxConnectionPoolSize int
	LogLevel              string
}

func initViper(configPath string) (*viper.Viper, error) {
	v := viper.New()
	setCLIDefaults(v)

	v.SetEnvPrefix("BOLT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: reading config file: %v", errorkind.ErrInvalidConfig, err)
		}
	}
	return v, nil
}

func setCLIDefaults(v *viper.Viper) {
	v.SetDefault("uri", "bolt://localhost:7687")
	v.SetDefault("username", "")
	v.SetDefault("password", "")
	v.SetDefault("database", "")
	v.SetDefault("fetch_size", 1000)
	v.SetDefault("connection_timeout", "30s")
	v.SetDefault("max_connection_pool_size", 100)
	v.SetDefault("log_level", "INFO")
}

// LoadFromEnvironment layers env vars and an optional YAML file over the
// CLI's hardcoded defaults, validating the result.
func LoadFromEnvironment(configPath string) (*CLIConfig, error) {
	v, err := initViper(configPath)
	if err != nil {
		return nil, err
	}

	timeout, err := time.ParseDuration(v.GetString("connection_timeout"))
	if err != nil {
		return nil, fmt.Errorf("%w: connection_timeout: %v", errorkind.ErrInvalidConfig, err)
	}

	cfg := &CLIConfig{
		URI:                   v.GetString("uri"),
		Username:              v.GetString("username"),
		Password:              v.GetString("password"),
		Database:              v.GetString("database"),
		FetchSize:             v.GetInt64("fetch_size"),
		ConnectionTimeout:     timeout,
		MaxConnectionPoolSize: v.GetInt("max_connection_pool_size"),
		LogLevel:              strings.ToUpper(v.GetString("log_level")),
	}
	if cfg.FetchSize < 1 && cfg.FetchSize != -1 {
		return nil, errorkind.NewInvalidConfig("fetch_size must be >= 1 or -1")
	}
	if cfg.MaxConnectionPoolSize <= 0 {
		return nil, errorkind.NewInvalidConfig("max_connection_pool_size must be > 0")
	}
	return cfg, nil
}
