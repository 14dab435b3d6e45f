// SPDX-License-Identifier: Apache-2.0

package validate

import (
	"context"
	"fmt"

	"github.com/lixdb/lix/pkg/backend"
	"github.com/lixdb/lix/pkg/model"
	"github.com/lixdb/lix/pkg/rewrite"
)

// ValidateUpdates resolves the rows an UPDATE plan touches and, for each
// one, rejects the write outright if its schema is x-lix-immutable, then
// runs normal snapshot validation against the plan's replacement content
// (spec.md §4.E.3). A schema cache keyed only by (schema_key, version) is
// shared with insert validation via v.Cache.
func (v *Validator) ValidateUpdates(ctx context.Context, b backend.Backend, plans []rewrite.UpdateValidationPlan) error {
	seenImmutable := map[string]bool{}

	for _, plan := range plans {
		touched, err := v.resolveTouchedSchemas(ctx, b, plan)
		if err != nil {
			return err
		}

		for _, target := range touched {
			if target.schemaKey == model.StoredSchemaKey {
				if plan.Snapshot != nil {
					if err := v.validateStoredSchemaSnapshot(ctx, b, plan.Snapshot); err != nil {
						return err
					}
				}
				continue
			}

			if !seenImmutable[target.schemaKey] {
				directives, err := v.directivesFor(ctx, b, target.schemaKey, target.schemaVersion)
				if err != nil {
					return err
				}
				if directives.Immutable {
					return model.ImmutableSchemaError{SchemaKey: target.schemaKey}
				}
				seenImmutable[target.schemaKey] = true
			}

			if plan.Snapshot != nil {
				if err := v.validateSnapshot(ctx, b, target.schemaKey, target.schemaVersion, plan.Snapshot); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

type touchedSchema struct {
	schemaKey     string
	schemaVersion string
}

// resolveTouchedSchemas runs the plan's WHERE clause against the
// materialized state to find which (schema_key, schema_version) pairs an
// UPDATE would touch, so immutability and snapshot validation can run
// before the physical UPDATE executes.
func (v *Validator) resolveTouchedSchemas(ctx context.Context, b backend.Backend, plan rewrite.UpdateValidationPlan) ([]touchedSchema, error) {
	sql := fmt.Sprintf("SELECT DISTINCT schema_key, schema_version FROM %s", plan.Relation)
	if plan.Where.SQL != "" {
		sql += " WHERE " + plan.Where.SQL
	}
	rows, err := b.Execute(ctx, sql, plan.Where.Params)
	if err != nil {
		return nil, fmt.Errorf("validate: resolving update targets: %w", err)
	}

	out := make([]touchedSchema, 0, len(rows.Values))
	for _, row := range rows.Values {
		if len(row) < 2 {
			continue
		}
		out = append(out, touchedSchema{schemaKey: row[0].Text, schemaVersion: row[1].Text})
	}
	return out, nil
}

func (v *Validator) directivesFor(ctx context.Context, b backend.Backend, schemaKey, schemaVersion string) (*model.SchemaDirectives, error) {
	def, err := v.Loader.LoadDefinition(ctx, b, schemaKey, schemaVersion)
	if err != nil {
		return nil, err
	}
	return model.ParseSchemaDirectives(def)
}
