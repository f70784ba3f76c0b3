package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"ratescope/internal/amm"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	PostgresDSN string

	// AMMsFile points at the pool definition file; see LoadAMMs.
	AMMsFile string

	Process       string
	PollInterval  time.Duration
	BatchSize     uint64
	MaxConcurrent int
	AllowedOwners []string
	MaxRetries    int
	RetryBackoff  time.Duration
	LogLevel      string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RATESCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("redis-addr", "localhost:6379")
	v.SetDefault("redis-db", 0)
	v.SetDefault("amms", "./config/amms.yaml")
	v.SetDefault("process", "lp_sync")
	v.SetDefault("poll-interval", 30*time.Second)
	v.SetDefault("batch-size", uint64(2000))
	v.SetDefault("max-concurrent", 4)
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURL:        v.GetString("rpc"),
		RedisAddr:     v.GetString("redis-addr"),
		RedisPassword: v.GetString("redis-password"),
		RedisDB:       v.GetInt("redis-db"),
		PostgresDSN:   v.GetString("pg-dsn"),
		AMMsFile:      v.GetString("amms"),
		Process:       v.GetString("process"),
		PollInterval:  v.GetDuration("poll-interval"),
		BatchSize:     v.GetUint64("batch-size"),
		MaxConcurrent: v.GetInt("max-concurrent"),
		AllowedOwners: getStringSlice(v, "allowed-owners"),
		MaxRetries:    v.GetInt("max-retries"),
		RetryBackoff:  v.GetDuration("retry-backoff"),
		LogLevel:      v.GetString("log-level"),
	}

	if cfg.RPCURL == "" {
		return Config{}, fmt.Errorf("rpc url is required")
	}
	if cfg.PostgresDSN == "" {
		return Config{}, fmt.Errorf("pg-dsn is required")
	}

	return cfg, nil
}

// LoadAMMs reads the pool definition file. The file carries a top-level
// `amms` list; every entry must pass amm.Validate.
func LoadAMMs(path string) ([]amm.AMM, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read amms file: %w", err)
	}

	var pools []amm.AMM
	if err := v.UnmarshalKey("amms", &pools); err != nil {
		return nil, fmt.Errorf("parse amms file: %w", err)
	}
	if len(pools) == 0 {
		return nil, fmt.Errorf("no amms defined in %s", path)
	}

	for i := range pools {
		if err := pools[i].Validate(); err != nil {
			return nil, fmt.Errorf("amm %d: %w", i, err)
		}
	}

	return pools, nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
