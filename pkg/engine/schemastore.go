// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/lixdb/lix/pkg/backend"
	"github.com/lixdb/lix/pkg/model"
	"github.com/lixdb/lix/pkg/rewrite"
)

// SchemaStore is the production collaborator behind both
// rewrite.SchemaLookup and validate.StoredSchemaLoader: an in-memory table
// of stored-schema targets and raw definitions, seeded with lix's built-in
// views and grown by Register as new `lix_stored_schema` rows commit
// (spec.md §4.F.8). Definitions are kept in memory rather than re-queried
// per call because Resolve has no backend parameter to query with — the
// rewrite engine expects a schema, once registered, to already be
// resolvable synchronously.
type SchemaStore struct {
	mu          sync.RWMutex
	targets     map[string]*rewrite.SchemaTarget
	definitions map[string]json.RawMessage // "<key>~<version>"
	latest      map[string]string          // key -> latest version string
}

// NewSchemaStore constructs a store seeded with lix's built-in schemas: the
// file descriptor and the stored-schema meta-schema itself.
func NewSchemaStore() *SchemaStore {
	return &SchemaStore{
		targets: map[string]*rewrite.SchemaTarget{
			"lix_file_descriptor": {SchemaKey: "lix_file_descriptor", LatestVersion: "1", PrimaryKey: []string{"id"}},
			model.StoredSchemaKey: {SchemaKey: model.StoredSchemaKey, LatestVersion: "1", PrimaryKey: []string{"key", "version"}, Immutable: true},
		},
		definitions: map[string]json.RawMessage{},
		latest:      map[string]string{},
	}
}

// Resolve implements rewrite.SchemaLookup.
func (s *SchemaStore) Resolve(schemaKey string) (*rewrite.SchemaTarget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.targets[schemaKey]; ok {
		return t, nil
	}
	return nil, model.SchemaValidationError{Reason: fmt.Sprintf("no stored schema registered for key %q", schemaKey)}
}

// Register records a newly committed lix_stored_schema row, making its
// directives resolvable by later statements in the same process (spec.md
// §3.2 invariant 3: x-lix-version is monotone; a re-registration at a
// higher version simply replaces the latest pointer).
func (s *SchemaStore) Register(reg rewrite.SchemaRegistration) error {
	directives, err := model.ParseSchemaDirectives(reg.Definition)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.definitions[cacheKey(reg.SchemaKey, reg.SchemaVersion)] = reg.Definition
	if cur, ok := s.latest[reg.SchemaKey]; !ok || isNewerVersion(reg.SchemaVersion, cur) {
		s.latest[reg.SchemaKey] = reg.SchemaVersion
	}
	s.targets[reg.SchemaKey] = &rewrite.SchemaTarget{
		SchemaKey:       reg.SchemaKey,
		LatestVersion:   s.latest[reg.SchemaKey],
		PrimaryKey:      directives.PrimaryKey,
		Immutable:       directives.Immutable,
		OverrideLixCols: directives.OverrideLixCols,
	}
	return nil
}

// LoadDefinition implements validate.StoredSchemaLoader.
func (s *SchemaStore) LoadDefinition(_ context.Context, _ backend.Backend, schemaKey, schemaVersion string) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.definitions[cacheKey(schemaKey, schemaVersion)]
	if !ok {
		return nil, fmt.Errorf("engine: no stored schema %q version %q", schemaKey, schemaVersion)
	}
	return def, nil
}

// LoadLatestDefinition implements validate.StoredSchemaLoader.
func (s *SchemaStore) LoadLatestDefinition(ctx context.Context, b backend.Backend, schemaKey string) (json.RawMessage, error) {
	s.mu.RLock()
	version, ok := s.latest[schemaKey]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("engine: no stored schema registered for key %q", schemaKey)
	}
	return s.LoadDefinition(ctx, b, schemaKey, version)
}

func cacheKey(schemaKey, schemaVersion string) string {
	return schemaKey + "~" + schemaVersion
}

// isNewerVersion compares two decimal-integer version strings (spec.md
// §3.2 invariant 3 guarantees no leading zeros, so plain length-then-value
// comparison is safe).
func isNewerVersion(candidate, current string) bool {
	if len(candidate) != len(current) {
		return len(candidate) > len(current)
	}
	return candidate > current
}
