// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lixdb/lix/pkg/engine"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Manage versions (create_version, switch_version)",
}

var versionCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Derive a new named version inheriting from an existing one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		e, b, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer b.Close()

		v, err := e.CreateVersion(ctx, engine.CreateVersionOptions{
			Name: args[0],
			From: viper.GetString("from"),
		})
		if err != nil {
			return fmt.Errorf("version create: %w", err)
		}

		fmt.Printf("created version %q (id=%s)\n", v.Name, v.VersionID)
		return nil
	},
}

var versionSwitchCmd = &cobra.Command{
	Use:   "switch <version-id>",
	Short: "Switch the active version (switch_version)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		e, b, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer b.Close()

		if err := e.SwitchVersion(ctx, args[0]); err != nil {
			return fmt.Errorf("version switch: %w", err)
		}

		fmt.Printf("active version switched to %s\n", args[0])
		return nil
	},
}

func init() {
	versionCreateCmd.Flags().String("from", "", "source version id (defaults to the active version)")
	_ = viper.BindPFlag("from", versionCreateCmd.Flags().Lookup("from"))

	versionCmd.AddCommand(versionCreateCmd)
	versionCmd.AddCommand(versionSwitchCmd)
}
