// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/lixdb/lix/cmd/flags"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a fresh lix database",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		sp, _ := pterm.DefaultSpinner.Start("initializing " + flags.DatabasePath())

		e, b, err := openEngine(ctx)
		if err != nil {
			sp.Fail(err.Error())
			return err
		}
		defer b.Close()

		if err := e.Init(ctx); err != nil {
			sp.Fail(err.Error())
			return fmt.Errorf("init: %w", err)
		}

		sp.Success("lix database initialized at " + flags.DatabasePath())
		return nil
	},
}
