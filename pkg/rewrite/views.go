// SPDX-License-Identifier: Apache-2.0

package rewrite

import "strings"

// Built-in view names the rewrite engine recognizes before falling back to
// stored-schema-derived entity views (spec.md §4.C).
const (
	ViewFile              = "lix_file"
	ViewFileByVersion      = "lix_file_by_version"
	ViewStateByVersion     = "lix_state_by_version"
	ViewState              = "lix_state"
	ViewStateHistory       = "lix_state_history"
	ViewFileHistory        = "lix_file_history"
	ViewVersion            = "lix_version"
	ViewActiveVersion      = "lix_active_version"
	ViewActiveAccount      = "lix_active_account"
	ViewWorkingChanges     = "lix_working_changes"
	InternalStateVtable    = "lix_internal_state_vtable"
)

// IsHistoryView reports whether relation names a read-only history
// projection. INSERT/UPDATE/DELETE against these are rejected outright
// (spec.md §4.C pass 1).
func IsHistoryView(relation string) bool {
	switch relation {
	case ViewStateHistory, ViewFileHistory:
		return true
	}
	return strings.HasSuffix(relation, "_history")
}

// IsFilesystemView reports whether relation names the lix_file family.
func IsFilesystemView(relation string) bool {
	return relation == ViewFile || relation == ViewFileByVersion
}

// IsVersionManagementView reports whether relation names one of the
// version/account/active-pointer management views.
func IsVersionManagementView(relation string) bool {
	switch relation {
	case ViewVersion, ViewActiveVersion, ViewActiveAccount:
		return true
	}
	return false
}

// IsLogicalStateView reports whether relation names one of the two base
// state views writes lower directly to the vtable.
func IsLogicalStateView(relation string) bool {
	return relation == ViewStateByVersion || relation == ViewState
}

// EntityViewVariant tags which lixcol shape an entity view exposes.
type EntityViewVariant int

const (
	VariantActiveVersion EntityViewVariant = iota
	VariantByVersion
	VariantHistory
)

// ParseEntityView recognizes the `lix_<schema>[_by_version|_history]` naming
// convention and returns the schema key and variant. ok is false if relation
// does not match the convention (and is not one of the other built-ins).
func ParseEntityView(relation string) (schemaKey string, variant EntityViewVariant, ok bool) {
	if !strings.HasPrefix(relation, "lix_") {
		return "", 0, false
	}
	rest := strings.TrimPrefix(relation, "lix_")
	switch {
	case strings.HasSuffix(rest, "_by_version"):
		return strings.TrimSuffix(rest, "_by_version"), VariantByVersion, true
	case strings.HasSuffix(rest, "_history"):
		return strings.TrimSuffix(rest, "_history"), VariantHistory, true
	default:
		return rest, VariantActiveVersion, true
	}
}

// SchemaLookup resolves a stored schema by key, combining lix's built-in
// schemas (file descriptor, version, etc.) with user-registered stored
// schemas (spec.md §4.C "resolve_target_from_view_name_with_backend").
type SchemaLookup interface {
	Resolve(schemaKey string) (*SchemaTarget, error)
}

// SchemaTarget is everything the entity-view write translator needs about a
// resolved schema: its JSON-pointer primary key, its latest registered
// version, and whether it is immutable.
type SchemaTarget struct {
	SchemaKey      string
	LatestVersion  string
	PrimaryKey     []string
	Immutable      bool
	OverrideLixCols map[string]string
}
