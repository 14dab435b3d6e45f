// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var installPluginCmd = &cobra.Command{
	Use:   "install-plugin <archive>",
	Short: "Install a detect-changes/apply-changes plugin from a ZIP archive (install_plugin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		archive, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading plugin archive: %w", err)
		}

		e, b, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer b.Close()

		sp, _ := pterm.DefaultSpinner.Start("installing plugin " + args[0])
		record, err := e.InstallPlugin(ctx, archive)
		if err != nil {
			sp.Fail(err.Error())
			return fmt.Errorf("install-plugin: %w", err)
		}

		sp.Success(fmt.Sprintf("installed plugin %q (runtime=%s, api=%s)", record.Key, record.Runtime, record.APIVersion))
		return nil
	},
}
