// SPDX-License-Identifier: Apache-2.0

package validate

import (
	"context"
	"encoding/json"

	"github.com/lixdb/lix/pkg/backend"
	"github.com/lixdb/lix/pkg/model"
)

// validateForeignKeyTargets checks that every x-lix-foreign-keys entry in
// a schema definition references a primary key or unique-key group that
// actually exists on the latest registered version of its target schema
// (spec.md §4.E.2).
func (v *Validator) validateForeignKeyTargets(ctx context.Context, b backend.Backend, rawSchema json.RawMessage) error {
	directives, err := model.ParseSchemaDirectives(rawSchema)
	if err != nil {
		return err
	}

	for _, fk := range directives.ForeignKeys {
		targetDef, err := v.Loader.LoadLatestDefinition(ctx, b, fk.ReferencedSchema)
		if err != nil {
			return err
		}
		targetDirectives, err := model.ParseSchemaDirectives(targetDef)
		if err != nil {
			return err
		}

		if !targetDirectives.IsUniqueGroup(fk.ReferencedGroup) {
			return model.ForeignKeyTargetError{
				SchemaKey:        directives.Key,
				TargetSchemaKey:  fk.ReferencedSchema,
				TargetProperties: fk.ReferencedGroup,
			}
		}
	}
	return nil
}
