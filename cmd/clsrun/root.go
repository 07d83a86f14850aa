package main

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/objclass/goclass/types"
)

type app struct {
	v          *viper.Viper
	configPath string

	cfg    types.Config
	logger zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	def := types.DefaultConfig()

	root := &cobra.Command{
		Use:          "clsrun",
		Short:        "Run object class methods against an in-memory object store",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(a.v, a.configPath)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			a.cfg, a.logger = cfg, logger
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "config file (json, yaml or toml)")
	flags.String("class", def.Class.Name, "name the class is registered under")
	flags.String("metrics-namespace", def.Class.MetricsNamespace, "prometheus namespace for dispatch metrics, empty to disable")
	flags.String("range-policy", string(def.Native.RangePolicy), "out of range reads and writes: clamp or strict")
	flags.Int("max-object-size", def.Native.MaxObjectSize, "largest object in bytes")
	flags.String("log-level", def.Log.Level, "trace, debug, info, warn or error")
	flags.String("log-format", def.Log.Format, "json or console")
	for key, flag := range map[string]string{
		"class.name":              "class",
		"class.metrics_namespace": "metrics-namespace",
		"native.range_policy":     "range-policy",
		"native.max_object_size":  "max-object-size",
		"log.level":               "log-level",
		"log.format":              "log-format",
	} {
		// nolint:errcheck
		a.v.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(newExecCmd(a), newMethodsCmd(a), newConfigCmd(a), newSchemaCmd())
	return root
}

func newConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bz, err := json.MarshalIndent(a.cfg, "", "  ")
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(bz))
			return err
		},
	}
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bz, err := types.ConfigSchema()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(bz))
			return err
		},
	}
}
