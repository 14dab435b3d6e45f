// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lixdb/lix/pkg/observe"
)

var observeCmd = &cobra.Command{
	Use:   "observe",
	Short: "Tail the state-commit-stream bus, printing each batch as it arrives (state_commit_stream)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		e, b, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer b.Close()

		filter := observe.Filter{}
		if keys := viper.GetStringSlice("schema-key"); len(keys) > 0 {
			filter.SchemaKeys = keys
		}

		stream := e.Observe(filter)
		defer stream.Close()

		for {
			batch, ok := stream.Next(ctx)
			if !ok {
				return nil
			}
			fmt.Printf("batch %d: %d change(s)\n", batch.Sequence, len(batch.Changes))
			for _, c := range batch.Changes {
				fmt.Printf("  %-6s %s entity=%s schema=%s version=%s\n", opName(c.Operation), c.FileID, c.EntityID, c.SchemaKey, c.VersionID)
			}
		}
	},
}

func opName(op observe.Operation) string {
	switch op {
	case observe.OperationInsert:
		return "insert"
	case observe.OperationUpdate:
		return "update"
	case observe.OperationDelete:
		return "delete"
	default:
		return "?"
	}
}

func init() {
	observeCmd.Flags().StringSlice("schema-key", nil, "restrict the stream to these schema keys")
	_ = viper.BindPFlag("schema-key", observeCmd.Flags().Lookup("schema-key"))
}
