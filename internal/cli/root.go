// Copyright 2026 The APEX Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli implements the apex command line: configuration validation
// over single files, folders and whole project trees, and the engine
// runtime itself.
package cli

import (
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/apexrules/apex/internal/config"
	"github.com/apexrules/apex/internal/logging"
)

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
	flags      *pflag.FlagSet
}

// NewRootCommand builds the apex command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:          "apex",
		Short:        "APEX rules and enrichment engine",
		Long:         "APEX validates and runs configuration-driven rules, enrichments and rule chains.",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "engine configuration file (YAML)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "minimum log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "json", "log output format (json, text)")
	opts.flags = cmd.PersistentFlags()

	cmd.AddCommand(
		newValidateCommand(opts),
		newValidateFolderCommand(opts),
		newValidateProjectCommand(opts),
		newRunCommand(opts),
	)
	return cmd
}

// engineConfig layers struct defaults, the optional --config file, APEX__
// environment variables and explicitly set flags, then validates.
func (o *rootOptions) engineConfig() (config.Engine, error) {
	loader := config.NewLoader("APEX")
	if err := loader.LoadWithDefaults(config.DefaultEngine(), o.configPath); err != nil {
		return config.Engine{}, err
	}
	if o.flags != nil {
		if err := loader.LoadFlags(o.flags, map[string]string{
			"log-level":  "logging.level",
			"log-format": "logging.format",
		}); err != nil {
			return config.Engine{}, err
		}
	}
	var engine config.Engine
	if err := loader.UnmarshalAndValidate("", &engine); err != nil {
		return config.Engine{}, err
	}
	return engine, nil
}

func (o *rootOptions) logger() (*slog.Logger, error) {
	cfg, err := o.engineConfig()
	if err != nil {
		return nil, err
	}
	return logging.New(cfg.Logging), nil
}
