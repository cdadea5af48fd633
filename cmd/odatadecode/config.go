package main

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes the environment variables read for unset flags, e.g.
// ODATADECODE_MODEL.
const EnvPrefix = "ODATADECODE"

// Config holds the settings of one decode run.
type Config struct {
	Model       string `mapstructure:"model"`
	Path        string `mapstructure:"path"`
	ServiceRoot string `mapstructure:"service_root"`
	Delta       bool   `mapstructure:"delta"`
	Untyped     bool   `mapstructure:"untyped"`
	Collection  bool   `mapstructure:"collection"`
	MaxDepth    int    `mapstructure:"max_depth"`
	Verbose     bool   `mapstructure:"verbose"`
}

// loadConfig merges flags, ODATADECODE_* variables and an optional config
// file, in that order of precedence.
func loadConfig(flags *pflag.FlagSet, configFile string) (*Config, error) {
	v := viper.New()
	v.SetDefault("untyped", true)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
	})
	if bindErr != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", bindErr)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Model == "" {
		return fmt.Errorf("model is required (--model or %s_MODEL)", EnvPrefix)
	}
	if cfg.Path == "" {
		return fmt.Errorf("path is required (--path or %s_PATH)", EnvPrefix)
	}
	if cfg.MaxDepth < 0 {
		return fmt.Errorf("max-depth must not be negative, got %d", cfg.MaxDepth)
	}
	return nil
}
