// SPDX-License-Identifier: Apache-2.0

// Package commitgraph maintains lix's append-only commit DAG (spec.md
// §4.G): synthesizing a change/change-set/commit for every write, moving a
// version's tip and working-commit pointers, promoting checkpoints, and
// resolving bounded ancestry for the state projection's inheritance walk.
package commitgraph

import (
	"context"
	"fmt"

	"github.com/lixdb/lix/pkg/backend"
	"github.com/lixdb/lix/pkg/model"
	"github.com/lixdb/lix/pkg/rewrite"
	"github.com/lixdb/lix/pkg/runtimefn"
)

// Maintainer synthesizes commit-graph rows for a completed write and
// resolves ancestry for reads. One instance is shared across an Engine's
// lifetime.
type Maintainer struct {
	Functions runtimefn.FunctionProvider
}

// NewMaintainer constructs a Maintainer backed by the given id/timestamp
// provider.
func NewMaintainer(functions runtimefn.FunctionProvider) *Maintainer {
	return &Maintainer{Functions: functions}
}

// CommitResult is everything RecordCommit produced: the new change-graph
// rows plus the version's updated tip, ready to be persisted. The engine
// writes them after the statement's transaction has committed, not inside
// it.
type CommitResult struct {
	Changes          []model.Change
	ChangeSet        model.ChangeSet
	ChangeSetElements []model.ChangeSetElement
	Commit           model.Commit
	UpdatedTip       model.Version
}

// RecordCommit synthesizes one change per mutation, bundles them into a
// change set, appends one commit whose sole parent is the version's
// current tip, and advances the version's tip to point at it (spec.md
// §4.G.1-2). A mutation batch with no rows is a no-op: not every execute
// call produces a commit.
func (m *Maintainer) RecordCommit(ctx context.Context, current model.Version, mutations []rewrite.MutationRow, writerKey *string) (*CommitResult, error) {
	if len(mutations) == 0 {
		return nil, nil
	}

	changes := make([]model.Change, 0, len(mutations))
	elements := make([]model.ChangeSetElement, 0, len(mutations))
	for _, mu := range mutations {
		changeID, err := m.Functions.UUIDv7()
		if err != nil {
			return nil, fmt.Errorf("commitgraph: generating change id: %w", err)
		}
		snapshotID, err := m.Functions.UUIDv7()
		if err != nil {
			return nil, fmt.Errorf("commitgraph: generating snapshot id: %w", err)
		}
		ts := m.Functions.Timestamp()

		change := model.Change{
			ChangeID:      changeID,
			EntityID:      mu.EntityID,
			SchemaKey:     mu.SchemaKey,
			SchemaVersion: mu.SchemaVersion,
			FileID:        mu.FileID,
			PluginKey:     mu.PluginKey,
			SnapshotID:    snapshotID,
			Snapshot:      mu.Snapshot,
			WriterKey:     mu.WriterKey,
			CreatedAt:     ts,
		}
		changes = append(changes, change)
	}

	changeSetID, err := m.Functions.UUIDv7()
	if err != nil {
		return nil, fmt.Errorf("commitgraph: generating change set id: %w", err)
	}
	for _, c := range changes {
		elements = append(elements, model.ChangeSetElement{ChangeSetID: changeSetID, ChangeID: c.ChangeID, EntityID: c.EntityID, SchemaKey: c.SchemaKey, FileID: c.FileID})
	}
	changeSet := model.ChangeSet{ChangeSetID: changeSetID}

	commitID, err := m.Functions.UUIDv7()
	if err != nil {
		return nil, fmt.Errorf("commitgraph: generating commit id: %w", err)
	}
	changeIDs := make([]string, len(changes))
	for i, c := range changes {
		changeIDs[i] = c.ChangeID
	}
	commit := model.Commit{
		CommitID:    commitID,
		ChangeSetID: changeSet.ChangeSetID,
		ParentIDs:   []string{current.CommitID},
		ChangeIDs:   changeIDs,
		CreatedAt:   m.Functions.Timestamp(),
	}

	updatedTip := current
	updatedTip.CommitID = commit.CommitID

	return &CommitResult{Changes: changes, ChangeSet: changeSet, ChangeSetElements: elements, Commit: commit, UpdatedTip: updatedTip}, nil
}

// ResolveAncestry walks a commit's ParentIDs chain up to
// model.MaxInheritanceDepth hops, returning every ancestor commit ID
// encountered (closest first). A chain longer than the bound is truncated
// rather than erroring — the caller (the state projection) treats
// anything past the bound as simply not inherited from (spec.md §4.B).
func ResolveAncestry(ctx context.Context, b backend.Backend, startCommitID string, loadParents func(ctx context.Context, b backend.Backend, commitID string) ([]string, error)) ([]string, error) {
	visited := map[string]bool{startCommitID: true}
	frontier := []string{startCommitID}
	var ancestry []string

	for depth := 0; depth < model.MaxInheritanceDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			parents, err := loadParents(ctx, b, id)
			if err != nil {
				return nil, err
			}
			for _, p := range parents {
				if visited[p] {
					return nil, model.AncestryCycleError{CommitID: p}
				}
				visited[p] = true
				ancestry = append(ancestry, p)
				next = append(next, p)
			}
		}
		frontier = next
	}
	return ancestry, nil
}
