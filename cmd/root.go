// SPDX-License-Identifier: Apache-2.0

// Package cmd implements lix's command-line interface: one subcommand per
// engine API entry point from spec.md §6.2, wired against a SQLite backend
// (the primary embedded target).
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lixdb/lix/cmd/flags"
	"github.com/lixdb/lix/pkg/backend"
	"github.com/lixdb/lix/pkg/engine"
	"github.com/lixdb/lix/pkg/plugin"
)

var rootCmd = &cobra.Command{
	Use:   "lix",
	Short: "lix is a versioned change-graph database embedded on SQLite",
}

func init() {
	viper.SetEnvPrefix("LIX")
	viper.AutomaticEnv()

	flags.DatabaseFlags(rootCmd)

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(checkpointCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(installPluginCmd)
	rootCmd.AddCommand(observeCmd)
	rootCmd.AddCommand(statusCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// openEngine boots an Engine against the configured SQLite database with a
// wazero plugin runtime; the remaining collaborators (schema store,
// function provider, logger) take engine.Boot's defaults.
func openEngine(ctx context.Context) (*engine.Engine, backend.Backend, error) {
	b, err := backend.OpenSQLite(flags.DatabasePath())
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}

	runtime, err := plugin.NewWazeroRuntime(ctx)
	if err != nil {
		b.Close()
		return nil, nil, fmt.Errorf("starting plugin runtime: %w", err)
	}

	e, err := engine.Boot(engine.BootArgs{
		Backend:     b,
		WasmRuntime: runtime,
	})
	if err != nil {
		b.Close()
		return nil, nil, fmt.Errorf("booting engine: %w", err)
	}
	return e, b, nil
}

func writerKeyPtr() *string {
	if k := flags.WriterKey(); k != "" {
		return &k
	}
	return nil
}
