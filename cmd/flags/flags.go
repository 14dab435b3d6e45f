// SPDX-License-Identifier: Apache-2.0

// Package flags centralizes the viper-backed accessors for lix's CLI flags,
// mirroring how every subcommand reads configuration regardless of whether
// it came from a flag or an environment variable. No config file is read.
package flags

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// DatabasePath returns the path to the SQLite file backing the engine.
func DatabasePath() string {
	return viper.GetString("database")
}

// VersionID returns the version a command should operate against, defaulting
// to the active version when empty.
func VersionID() string {
	return viper.GetString("version")
}

// WriterKey returns the writer identity to attribute new changes to, if any.
func WriterKey() string {
	return viper.GetString("writer-key")
}

// DatabaseFlags registers the --database flag shared by every subcommand
// that opens a backend.
func DatabaseFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringP("database", "d", "lix.db", "path to the lix SQLite database file")
	_ = viper.BindPFlag("database", cmd.PersistentFlags().Lookup("database"))
}

// VersionFlag registers the --version flag shared by commands that accept
// an explicit version to operate on.
func VersionFlag(cmd *cobra.Command) {
	cmd.Flags().String("version", "", "version id to operate against (defaults to the active version)")
	_ = viper.BindPFlag("version", cmd.Flags().Lookup("version"))
}

// WriterKeyFlag registers the --writer-key flag shared by commands that
// execute writes.
func WriterKeyFlag(cmd *cobra.Command) {
	cmd.Flags().String("writer-key", "", "writer key to attribute new changes to")
	_ = viper.BindPFlag("writer-key", cmd.Flags().Lookup("writer-key"))
}
