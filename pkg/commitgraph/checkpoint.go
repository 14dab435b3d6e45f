// SPDX-License-Identifier: Apache-2.0

package commitgraph

import (
	"fmt"

	"github.com/lixdb/lix/pkg/model"
)

// Checkpoint promotes a version's working commit into its tip: the
// working commit is tagged CheckpointTag and becomes the new tip, and a
// fresh empty working commit (whose sole parent is the new tip) replaces
// it (spec.md §4.G.3). A working commit with no changes since the last
// checkpoint is a no-op — checkpointing never produces an empty tagged
// commit.
func (m *Maintainer) Checkpoint(v model.Version, workingChangeIDs []string) (*model.Commit, *model.Commit, model.Version, error) {
	if len(workingChangeIDs) == 0 {
		return nil, nil, v, nil
	}

	tagged := model.Commit{
		CommitID:      v.WorkingCommitID,
		ParentIDs:     []string{v.CommitID},
		ChangeIDs:     workingChangeIDs,
		CheckpointTag: true,
		CreatedAt:     m.Functions.Timestamp(),
	}

	newWorkingID, err := m.Functions.UUIDv7()
	if err != nil {
		return nil, nil, v, fmt.Errorf("commitgraph: generating working commit id: %w", err)
	}
	newWorking := model.Commit{
		CommitID:  newWorkingID,
		ParentIDs: []string{tagged.CommitID},
		CreatedAt: m.Functions.Timestamp(),
	}

	updated := v
	updated.CommitID = tagged.CommitID
	updated.WorkingCommitID = newWorking.CommitID

	return &tagged, &newWorking, updated, nil
}

// CreateVersion derives a new named version from an existing one: a fresh
// working commit parented on the source's current tip, with
// InheritsFromVersionID set to the source so the state projection's
// inheritance walk can fall through to it (spec.md §4.G.4).
func (m *Maintainer) CreateVersion(name string, from model.Version) (model.Version, *model.Commit, error) {
	versionID, err := m.Functions.UUIDv7()
	if err != nil {
		return model.Version{}, nil, fmt.Errorf("commitgraph: generating version id: %w", err)
	}
	workingID, err := m.Functions.UUIDv7()
	if err != nil {
		return model.Version{}, nil, fmt.Errorf("commitgraph: generating working commit id: %w", err)
	}

	working := model.Commit{
		CommitID:  workingID,
		ParentIDs: []string{from.CommitID},
		CreatedAt: m.Functions.Timestamp(),
	}

	inherits := from.VersionID
	v := model.Version{
		VersionID:             versionID,
		Name:                  name,
		CommitID:              from.CommitID,
		WorkingCommitID:       working.CommitID,
		InheritsFromVersionID: &inherits,
	}
	return v, &working, nil
}
