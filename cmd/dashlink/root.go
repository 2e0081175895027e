package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/rickgao/dashlink/internal/config"
	"github.com/rickgao/dashlink/internal/version"
)

type rootOptions struct {
	configPath string
	envFile    string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "dashlink",
		Short:         "Real-time link between a dashboard client and its backend",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to YAML config (defaults apply when empty)")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the config")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log.level")

	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newProbeCmd(opts))
	root.AddCommand(newBotsCmd(opts))

	return root
}

// load reads the env file and config, applies overrides and validates.
func (o *rootOptions) load() (*config.Config, error) {
	if err := config.LoadEnvFile(o.envFile); err != nil {
		return nil, err
	}

	var cfg *config.Config
	if o.configPath == "" {
		cfg = config.Default()
	} else {
		var err error
		if cfg, err = config.LoadWithDefaults(o.configPath); err != nil {
			return nil, err
		}
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the slog logger selected by cfg.
func newLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	hopts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch cfg.Format {
	case "json":
		h = slog.NewJSONHandler(w, hopts)
	default:
		h = slog.NewTextHandler(w, hopts)
	}
	return slog.New(h), nil
}
