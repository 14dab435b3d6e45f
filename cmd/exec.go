// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lixdb/lix/cmd/flags"
	"github.com/lixdb/lix/pkg/engine"
)

var execCmd = &cobra.Command{
	Use:   "execute <sql>",
	Short: "Run one or more SQL statements through the engine",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		e, b, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer b.Close()

		result, err := e.Execute(ctx, args[0], nil, engine.ExecuteOptions{
			WriterKey: writerKeyPtr(),
			VersionID: flags.VersionID(),
		})
		if err != nil {
			return fmt.Errorf("execute: %w", err)
		}

		if len(result.Columns) == 0 {
			fmt.Printf("%d row(s) returned\n", result.RowsAffected)
			return nil
		}

		out := make([]map[string]any, 0, len(result.Rows))
		for _, row := range result.Rows {
			rec := make(map[string]any, len(result.Columns))
			for i, col := range result.Columns {
				rec[col] = row[i].Any()
			}
			out = append(out, rec)
		}
		enc, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(enc))
		return nil
	},
}

func init() {
	flags.VersionFlag(execCmd)
	flags.WriterKeyFlag(execCmd)
}
