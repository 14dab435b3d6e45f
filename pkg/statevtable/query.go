// SPDX-License-Identifier: Apache-2.0

// Package statevtable builds the physical SQL for lix's state projection
// (spec.md §4.B): the merge of the untracked overlay, the materialized
// tracked layer, and every ancestor version's materialized rows reachable
// within the bounded inheritance walk, with the usual
// overlay-beats-tracked-beats-inherited precedence and tombstone handling.
package statevtable

import (
	"fmt"
	"strings"

	"github.com/lixdb/lix/pkg/model"
)

// Scope selects whether the projection is pinned to the caller's active
// version (lix_state) or exposes every version (lix_state_by_version).
type Scope int

const (
	ScopeAllVersions Scope = iota
	ScopeActiveVersion
)

// Options parameterizes BuildQuery.
type Options struct {
	Scope Scope
	// MaterializedSource names the physical table merged rows are read
	// from. Narrowing to a per-schema table is the caller's
	// responsibility (spec.md §4.B "schema-key narrowing"); the default is
	// the catch-all materialized table.
	MaterializedSource string
	// CountStar renders a COUNT(*) projection instead of full columns,
	// skipping the ROW_NUMBER resolution's output columns (spec.md §4.B
	// "COUNT(*) fast path").
	CountStar bool
}

const defaultMaterializedSource = "lix_internal_state_materialized"

const stateColumns = "entity_id, schema_key, schema_version, file_id, version_id, plugin_key, snapshot_content, metadata, change_id, commit_id, created_at, updated_at, writer_key, untracked, inherited_from_version_id"

// BuildQuery renders the merge-and-inherit SQL a state read compiles down
// to. Precedence, highest first: untracked overlay rows, the materialized
// tracked row for the exact version, then the
// nearest ancestor's materialized row within model.MaxInheritanceDepth
// hops. A tombstone (null snapshot_content) at any layer still wins over a
// lower-precedence non-tombstone row — deletion is itself a fact recorded
// in the overlay/tracked layer, not an absence.
func BuildQuery(opts Options) string {
	source := opts.MaterializedSource
	if source == "" {
		source = defaultMaterializedSource
	}

	projection := stateColumns
	if opts.CountStar {
		projection = "COUNT(*)"
	}

	var b strings.Builder
	b.WriteString("WITH RECURSIVE inheritance(version_id, ancestor_id, depth) AS (\n")
	b.WriteString("  SELECT version_id, version_id, 0 FROM lix_internal_version\n")
	b.WriteString("  UNION ALL\n")
	b.WriteString("  SELECT i.version_id, v.inherits_from_version_id, i.depth + 1\n")
	b.WriteString("  FROM inheritance i JOIN lix_internal_version v ON v.version_id = i.ancestor_id\n")
	b.WriteString(fmt.Sprintf("  WHERE v.inherits_from_version_id IS NOT NULL AND i.depth < %d\n", model.MaxInheritanceDepth))
	b.WriteString("),\n")
	b.WriteString("merged AS (\n")
	b.WriteString("  SELECT u.*, 0 AS source_rank, NULL AS inherited_from_version_id\n")
	b.WriteString("  FROM lix_internal_state_untracked u\n")
	b.WriteString("  UNION ALL\n")
	b.WriteString(fmt.Sprintf("  SELECT t.*, 1 AS source_rank, NULL AS inherited_from_version_id FROM %s t\n", source))
	b.WriteString("  UNION ALL\n")
	b.WriteString(fmt.Sprintf(
		"  SELECT t.entity_id, t.schema_key, t.schema_version, t.file_id, i.version_id, t.plugin_key, t.snapshot_content, t.metadata, t.change_id, t.commit_id, t.created_at, t.updated_at, t.writer_key, t.untracked, 1 + i.depth AS source_rank, i.ancestor_id AS inherited_from_version_id\n  FROM %s t JOIN inheritance i ON i.ancestor_id = t.version_id AND i.depth > 0\n",
		source,
	))
	b.WriteString(")\n")
	b.WriteString(fmt.Sprintf("SELECT %s FROM (\n", projection))
	b.WriteString("  SELECT m.*, ROW_NUMBER() OVER (PARTITION BY entity_id, schema_key, file_id, version_id ORDER BY source_rank ASC) AS rn\n")
	b.WriteString("  FROM merged m\n")
	b.WriteString(") ranked WHERE rn = 1")
	if opts.Scope == ScopeActiveVersion {
		b.WriteString(" AND version_id = (SELECT version_id FROM lix_internal_active_version)")
	}

	return b.String()
}

// PerSchemaMaterializedTable names the narrowed materialized table for a
// schema key, following lix's `lix_internal_state_materialized_v1_<key>`
// per-schema table convention (spec.md §4.B "schema-key narrowing").
func PerSchemaMaterializedTable(schemaKey string) string {
	return "lix_internal_state_materialized_v1_" + schemaKey
}
