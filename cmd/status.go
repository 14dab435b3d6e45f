// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lixdb/lix/cmd/flags"
	"github.com/lixdb/lix/pkg/backend"
)

type statusLine struct {
	Database  string
	VersionID string
	CommitID  string
	Working   string
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active version's tip and working commit",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		_, b, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer b.Close()

		versionID := flags.VersionID()
		if versionID == "" {
			active, err := b.Execute(ctx, "SELECT version_id FROM lix_internal_active_version", nil)
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			if len(active.Values) == 0 {
				return fmt.Errorf("status: no active version set")
			}
			versionID = active.Values[0][0].Text
		}

		rows, err := b.Execute(ctx, "SELECT version_id, commit_id, working_commit_id FROM lix_internal_version WHERE version_id = $1", []backend.Value{backend.Text(versionID)})
		if err != nil {
			return fmt.Errorf("status: %w", err)
		}
		if len(rows.Values) == 0 {
			return fmt.Errorf("status: version %q not found", versionID)
		}

		row := rows.Values[0]
		line := statusLine{
			Database:  flags.DatabasePath(),
			VersionID: row[0].Text,
			CommitID:  row[1].Text,
			Working:   row[2].Text,
		}

		out, err := json.MarshalIndent(line, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	flags.VersionFlag(statusCmd)
}
