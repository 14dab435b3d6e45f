// SPDX-License-Identifier: Apache-2.0

// Package model defines the canonical data model of the lix change graph:
// changes, change sets, commits, versions, stored schemas, file descriptors
// and plugin records, together with the handful of invariants that every
// other package relies on.
package model

import (
	"encoding/json"
	"time"
)

// GlobalVersionID names the bootstrap version that hosts meta-state such as
// stored schemas and installed plugins.
const GlobalVersionID = "global"

// StoredSchemaKey is the schema_key of the lix_stored_schema pseudo-entity.
const StoredSchemaKey = "lix_stored_schema"

// MaxInheritanceDepth bounds the version inheritance walk performed by the
// state vtable projection (spec.md §4.B).
const MaxInheritanceDepth = 64

// Snapshot is an immutable JSON value. A nil Snapshot denotes a tombstone.
// The snapshot id a Change records is a fresh UUIDv7 per change, not a hash
// of the content.
type Snapshot json.RawMessage

// IsTombstone reports whether the snapshot represents a deletion.
func (s Snapshot) IsTombstone() bool {
	return s == nil
}

// Change is an immutable record of a mutation to one entity. Changes are
// append-only; a deletion is recorded as a Change with a nil Snapshot.
type Change struct {
	ChangeID      string
	EntityID      string
	SchemaKey     string
	SchemaVersion string
	FileID        string
	PluginKey     string
	SnapshotID    string
	Snapshot      Snapshot
	Metadata      json.RawMessage
	WriterKey     *string
	CreatedAt     time.Time
}

// IsTombstone reports whether the change records a deletion.
func (c *Change) IsTombstone() bool {
	return c.Snapshot == nil
}

// ChangeSetElement records the membership of a Change in a ChangeSet.
type ChangeSetElement struct {
	ChangeSetID string
	ChangeID    string
	EntityID    string
	SchemaKey   string
	FileID      string
}

// ChangeSet is a labeled group of changes.
type ChangeSet struct {
	ChangeSetID string
}

// Commit is a node in the append-only commit DAG. Parents form the DAG;
// ChangeIDs enumerates the changes the commit's change set binds together.
type Commit struct {
	CommitID      string
	ChangeSetID   string
	ParentIDs     []string
	ChangeIDs     []string
	CheckpointTag bool
	CreatedAt     time.Time
}

// CommitEdge is a derived (parent_id, child_id) row. Edges are never
// independently mutated; they are recomputed from Commit.ParentIDs.
type CommitEdge struct {
	ParentID string
	ChildID  string
}

// Version is a named line of history: a tip (last checkpointed commit) and a
// working commit that accumulates uncommitted changes, with optional
// inheritance from a parent version.
type Version struct {
	VersionID             string
	Name                  string
	CommitID              string
	WorkingCommitID       string
	InheritsFromVersionID *string
}

// ActiveVersion is the process-wide singleton naming the currently selected
// version.
type ActiveVersion struct {
	VersionID string
}

// StoredSchema is a JSON schema document keyed by (Key, SchemaVersion).
// SchemaVersion is a monotone decimal integer string with no leading zero.
type StoredSchema struct {
	Key           string
	SchemaVersion string
	Definition    json.RawMessage
}

// EntityID is the derived primary key of the lix_stored_schema pseudo-entity:
// "<key>~<version>" (spec.md invariant 7).
func (s *StoredSchema) EntityID() string {
	return s.Key + "~" + s.SchemaVersion
}

// FileDescriptor is the "shape" of a file without its bytes; its JSON tags
// match the snapshot_content it's stored and read back as.
type FileDescriptor struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Extension   string          `json:"extension"`
	DirectoryID *string         `json:"directory_id,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	Hidden      bool            `json:"hidden"`
}

// PluginRecord describes an installed detect-changes/apply-changes plugin.
type PluginRecord struct {
	Key             string
	Runtime         string
	APIVersion      string
	MatchPathGlob   string
	Entry           string
	ManifestJSON    json.RawMessage
	Wasm            []byte
}

// StateRow is a single row of the state vtable projection: the merged view
// of untracked overlay, materialized tracked state and version inheritance
// for one (entity_id, schema_key, file_id, version_id) key.
type StateRow struct {
	EntityID              string
	SchemaKey             string
	SchemaVersion         string
	FileID                string
	VersionID             string
	PluginKey             string
	Snapshot              Snapshot
	Metadata              json.RawMessage
	ChangeID              string
	CommitID              string
	CreatedAt             time.Time
	UpdatedAt             time.Time
	WriterKey             *string
	Untracked             bool
	InheritedFromVersionID *string
}

// IsTombstone reports whether the row represents a deletion.
func (r *StateRow) IsTombstone() bool {
	return r.Snapshot == nil
}
