// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/lixdb/lix/cmd/flags"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Promote a version's working commit into its tip (create_checkpoint)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		e, b, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer b.Close()

		sp, _ := pterm.DefaultSpinner.Start("creating checkpoint")
		result, err := e.CreateCheckpoint(ctx, flags.VersionID())
		if err != nil {
			sp.Fail(err.Error())
			return fmt.Errorf("checkpoint: %w", err)
		}

		sp.Success(fmt.Sprintf("checkpoint created: commit=%s change_set=%s", result.CommitID, result.ChangeSetID))
		return nil
	},
}

func init() {
	flags.VersionFlag(checkpointCmd)
}
