// SPDX-License-Identifier: Apache-2.0

// Package rewrite implements the SQL rewrite engine (spec.md §4.C): a
// multi-pass transformer that turns statements against lix's logical views
// into physical statements over canonical base tables, alongside a typed
// LogicalPlan describing every mutation, schema registration and side effect
// the statement implies.
package rewrite

import (
	"github.com/lixdb/lix/pkg/backend"
	"github.com/lixdb/lix/pkg/model"
)

// MaxRewritePasses bounds the write-path convergence loop (spec.md §4.C,
// invariant under test in spec.md §8.9).
const MaxRewritePasses = 32

// PhysicalStatement is one statement ready to run against the backend.
type PhysicalStatement struct {
	SQL    string
	Params []backend.Value
}

// MutationOperation tags whether a MutationRow is an insert, update or
// delete. spec.md standardizes writes as append-only inserts plus
// null-snapshot tombstones (§9 open question, resolved per run.rs
// semantics); Update/Delete values here describe the *postprocess*
// classification used to shape state-commit-stream events, not a
// physically distinct storage operation.
type MutationOperation int

const (
	MutationInsert MutationOperation = iota
	MutationUpdate
	MutationDelete
)

// MutationRow is one tracked or untracked entity write produced by the
// rewrite engine's terminal vtable pass.
type MutationRow struct {
	Operation     MutationOperation
	EntityID      string
	SchemaKey     string
	SchemaVersion string
	FileID        string
	VersionID     string
	PluginKey     string
	Snapshot      model.Snapshot
	Metadata      []byte
	WriterKey     *string
	Untracked     bool
}

// SchemaRegistration asks the orchestrator to create the per-schema
// materialized table for a newly stored schema before any mutation targets
// it (spec.md §4.F.8).
type SchemaRegistration struct {
	SchemaKey     string
	SchemaVersion string
	Definition    []byte
}

// UpdateValidationPlan names the rows an UPDATE will touch so the
// validation layer can re-check immutability and schema conformance before
// the physical write runs (spec.md §4.E).
type UpdateValidationPlan struct {
	Relation  string
	Where     PhysicalStatement
	Snapshot  model.Snapshot
}

// PostprocessKind tags a PostprocessPlan's operation.
type PostprocessKind int

const (
	PostprocessVtableUpdate PostprocessKind = iota
	PostprocessVtableDelete
)

// PostprocessPlan describes the followup work the orchestrator performs
// after a non-terminal UPDATE/DELETE executes in a transaction: collecting
// touched rows, deriving stream events, and running any cascading writes a
// rewrite pass enqueued (spec.md §4.C "Postprocess plans for DML").
type PostprocessPlan struct {
	Kind      PostprocessKind
	SchemaKey string
	Followups []PhysicalStatement
}

// ResultContract shapes the final QueryResult the orchestrator returns to
// the caller.
type ResultContract int

const (
	ResultDmlNoReturning ResultContract = iota
	ResultDmlReturning
	ResultSelect
	ResultOther
)

// Preprocess bundles the non-physical-statement outputs of rewriting a
// single statement.
type Preprocess struct {
	Mutations          []MutationRow
	Registrations      []SchemaRegistration
	UpdateValidations  []UpdateValidationPlan
	Postprocess        *PostprocessPlan
}

// Effects bundles the side effects a statement implies beyond its physical
// rows: file writes/deletes, plugin-detected file-domain changes, and
// version-pointer changes (spec.md §4.C "effects").
type Effects struct {
	PendingFileWrites          []FileWrite
	PendingFileDeletes         []FileDelete
	DetectedFileDomainChanges  []DetectedChange
	UntrackedFilesystemUpdates []FileWrite
	NextActiveVersionID        *string
}

// FileWrite is a pending write of file bytes for (FileID, VersionID).
type FileWrite struct {
	FileID    string
	VersionID string
	Data      []byte
}

// FileDelete is a pending eviction of cached file bytes.
type FileDelete struct {
	FileID    string
	VersionID string
}

// DetectedChange is an entity-level change a plugin's detect-changes export
// produced from a file-level edit, pending persistence.
type DetectedChange struct {
	FileID        string
	VersionID     string
	PluginKey     string
	EntityID      string
	SchemaKey     string
	SchemaVersion string
	Snapshot      model.Snapshot
}

// Requirements flags cache work the orchestrator must perform after commit.
type Requirements struct {
	ShouldRefreshFileCache              bool
	ShouldInvalidateInstalledPluginsCache bool
}

// LogicalPlan is the complete output of rewriting one statement.
type LogicalPlan struct {
	PreparedStatements []PhysicalStatement
	Preprocess         Preprocess
	Effects            Effects
	Requirements       Requirements
	ResultContract     ResultContract
}
