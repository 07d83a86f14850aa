package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/objclass/goclass/types"
)

const envPrefix = "CLSRUN"

// loadConfig layers, from weakest to strongest: defaults, the config file,
// CLSRUN_* environment variables and flags already bound to v.
func loadConfig(v *viper.Viper, path string) (types.Config, error) {
	def := types.DefaultConfig()
	v.SetDefault("class.name", def.Class.Name)
	v.SetDefault("class.metrics_namespace", def.Class.MetricsNamespace)
	v.SetDefault("native.range_policy", string(def.Native.RangePolicy))
	v.SetDefault("native.max_object_size", def.Native.MaxObjectSize)
	v.SetDefault("native.max_handles", def.Native.MaxHandles)
	v.SetDefault("native.log_backlog", def.Native.LogBacklog)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return types.Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg types.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return types.Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return types.Config{}, err
	}
	return cfg, nil
}

func newLogger(cfg types.LogConfig, w io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), err
	}
	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}
