// SPDX-License-Identifier: Apache-2.0

// Package validate implements the validation layer (spec.md §4.E):
// JSON-schema conformance of snapshots, foreign-key target resolution, and
// immutability enforcement on UPDATE.
package validate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/lixdb/lix/pkg/backend"
	"github.com/lixdb/lix/pkg/model"
	"github.com/lixdb/lix/pkg/rewrite"
)

// SchemaCache memoizes compiled JSON schemas per (schema_key, schema
// version), mirroring the teacher's migration-plan caches: compile once,
// reuse across every row validated in a statement (spec.md §4.E.1).
type SchemaCache struct {
	mu    sync.RWMutex
	byKey map[string]*jsonschema.Schema
}

// NewSchemaCache constructs an empty cache.
func NewSchemaCache() *SchemaCache {
	return &SchemaCache{byKey: map[string]*jsonschema.Schema{}}
}

func cacheKey(schemaKey, schemaVersion string) string {
	return schemaKey + "~" + schemaVersion
}

// StoredSchemaLoader resolves a schema's raw JSON-schema document from the
// engine's materialized lix_stored_schema table.
type StoredSchemaLoader interface {
	LoadDefinition(ctx context.Context, b backend.Backend, schemaKey, schemaVersion string) (json.RawMessage, error)
	LoadLatestDefinition(ctx context.Context, b backend.Backend, schemaKey string) (json.RawMessage, error)
}

// Validator runs the validation layer's checks.
type Validator struct {
	Cache  *SchemaCache
	Loader StoredSchemaLoader
}

// NewValidator constructs a Validator with a fresh schema cache.
func NewValidator(loader StoredSchemaLoader) *Validator {
	return &Validator{Cache: NewSchemaCache(), Loader: loader}
}

// ValidateInserts checks every insert MutationRow's snapshot against its
// schema, and every lix_stored_schema registration against the meta-schema
// and its foreign-key targets (spec.md §4.E).
func (v *Validator) ValidateInserts(ctx context.Context, b backend.Backend, mutations []rewrite.MutationRow) error {
	for _, row := range mutations {
		if row.Operation != rewrite.MutationInsert {
			continue
		}
		if row.SchemaKey == model.StoredSchemaKey {
			if err := v.validateStoredSchemaSnapshot(ctx, b, row.Snapshot); err != nil {
				return err
			}
			continue
		}
		if row.Snapshot == nil || row.Snapshot.IsTombstone() {
			continue
		}
		if err := v.validateSnapshot(ctx, b, row.SchemaKey, row.SchemaVersion, row.Snapshot); err != nil {
			return err
		}
	}
	return nil
}

// validateSnapshot compiles (or reuses a cached compile of) the named
// schema and checks snapshot against it.
func (v *Validator) validateSnapshot(ctx context.Context, b backend.Backend, schemaKey, schemaVersion string, snapshot model.Snapshot) error {
	compiled, err := v.compiled(ctx, b, schemaKey, schemaVersion)
	if err != nil {
		return err
	}

	var instance any
	if err := json.Unmarshal(snapshot, &instance); err != nil {
		return model.SnapshotValidationError{SchemaKey: schemaKey, Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if err := compiled.Validate(instance); err != nil {
		return model.SnapshotValidationError{SchemaKey: schemaKey, Reason: err.Error()}
	}
	return nil
}

func (v *Validator) compiled(ctx context.Context, b backend.Backend, schemaKey, schemaVersion string) (*jsonschema.Schema, error) {
	key := cacheKey(schemaKey, schemaVersion)
	v.Cache.mu.RLock()
	if s, ok := v.Cache.byKey[key]; ok {
		v.Cache.mu.RUnlock()
		return s, nil
	}
	v.Cache.mu.RUnlock()

	def, err := v.Loader.LoadDefinition(ctx, b, schemaKey, schemaVersion)
	if err != nil {
		return nil, err
	}

	compiler := jsonschema.NewCompiler()
	var doc any
	if err := json.Unmarshal(def, &doc); err != nil {
		return nil, fmt.Errorf("validate: schema %q (%s) is not valid JSON: %w", schemaKey, schemaVersion, err)
	}
	url := "mem://" + key
	if err := compiler.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("validate: schema %q (%s) rejected: %w", schemaKey, schemaVersion, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("validate: schema %q (%s) failed to compile: %w", schemaKey, schemaVersion, err)
	}

	v.Cache.mu.Lock()
	v.Cache.byKey[key] = schema
	v.Cache.mu.Unlock()
	return schema, nil
}

// validateStoredSchemaSnapshot validates a lix_stored_schema row's nested
// `value` document against lix's own schema-definition shape rules, then
// checks its foreign keys resolve.
func (v *Validator) validateStoredSchemaSnapshot(ctx context.Context, b backend.Backend, snapshot model.Snapshot) error {
	var wrapper struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(snapshot, &wrapper); err != nil || len(wrapper.Value) == 0 {
		return model.SchemaValidationError{Reason: "stored schema snapshot_content missing value"}
	}
	if _, err := model.ParseSchemaDirectives(wrapper.Value); err != nil {
		return err
	}
	return v.validateForeignKeyTargets(ctx, b, wrapper.Value)
}

func isNullLiteral(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
