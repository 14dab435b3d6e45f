// SPDX-License-Identifier: Apache-2.0

package observe

import (
	"strings"

	"github.com/lixdb/lix/pkg/rewrite"
	"github.com/lixdb/lix/pkg/sqlparse"
)

// DeriveFilter computes the narrowest StateCommitStream Filter an observe
// query's statements imply: which relations it touches (mapped to their
// backing schema keys) and, when the query is a single statement whose
// WHERE clause is representable as a conjunction of equalities, which
// literal entity/file/version/schema values it's scoped to (spec.md §4.J
// "derived filter"). Anything not representable falls back to the
// relation-only filter rather than risk under-delivering events.
func DeriveFilter(statements []sqlparse.Statement) Filter {
	relations := map[string]bool{}
	var schemaKeys, entityIDs, fileIDs, versionIDs []string
	allowLiterals := len(statements) == 1

	for _, stmt := range statements {
		sel, ok := stmt.(*sqlparse.SelectStatement)
		if !ok {
			continue
		}
		relations[strings.ToLower(sel.Relation)] = true
		for _, j := range sel.Joins {
			relations[strings.ToLower(j.Relation)] = true
		}

		if allowLiterals && sel.Where != nil {
			pd := rewrite.CollectPushdown(sel.Where)
			if !pd.Narrowable {
				allowLiterals = false
				continue
			}
			schemaKeys = append(schemaKeys, literalTexts(pd.Equalities["schema_key"])...)
			entityIDs = append(entityIDs, literalTexts(pd.Equalities["entity_id"])...)
			fileIDs = append(fileIDs, literalTexts(pd.Equalities["file_id"])...)
			versionIDs = append(versionIDs, literalTexts(pd.Equalities["version_id"])...)
		}
	}

	if !allowLiterals {
		schemaKeys, entityIDs, fileIDs, versionIDs = nil, nil, nil, nil
	}

	derivedSchemaKeys, usesDynamicState := schemaKeysFromRelations(relations)
	if usesDynamicState {
		derivedSchemaKeys = append(derivedSchemaKeys, schemaKeys...)
	}

	return Filter{
		SchemaKeys:       dedupe(derivedSchemaKeys),
		EntityIDs:        dedupe(entityIDs),
		FileIDs:          dedupe(fileIDs),
		VersionIDs:       dedupe(versionIDs),
		IncludeUntracked: true,
	}
}

// dynamicStateRelations are views whose rows can carry any schema key, so
// reads against them only narrow by whatever literal schema_key predicate
// (if any) was found in the WHERE clause.
var dynamicStateRelations = map[string]bool{
	rewrite.ViewState:           true,
	rewrite.ViewStateByVersion:  true,
	rewrite.ViewStateHistory:    true,
	rewrite.ViewWorkingChanges:  true,
	rewrite.InternalStateVtable: true,
}

func schemaKeysFromRelations(relations map[string]bool) (keys []string, usesDynamicState bool) {
	for relation := range relations {
		if dynamicStateRelations[relation] {
			usesDynamicState = true
			continue
		}
		switch relation {
		case rewrite.ViewFile, rewrite.ViewFileByVersion, "lix_file_history":
			keys = append(keys, "lix_file_descriptor")
		case rewrite.ViewVersion:
			keys = append(keys, "lix_version_descriptor", "lix_version_tip")
		case rewrite.ViewActiveVersion:
			keys = append(keys, "lix_active_version")
		case rewrite.ViewActiveAccount:
			keys = append(keys, "lix_active_account")
		default:
			if strings.HasPrefix(relation, "lix_") && !strings.HasPrefix(relation, "lix_internal_") {
				keys = append(keys, normalizeRelationSchemaKey(relation))
			}
		}
	}
	return keys, usesDynamicState
}

func normalizeRelationSchemaKey(relation string) string {
	if base, ok := strings.CutSuffix(relation, "_by_version"); ok && base != "" {
		return base
	}
	if base, ok := strings.CutSuffix(relation, "_history"); ok && base != "" {
		return base
	}
	return relation
}

func literalTexts(exprs []sqlparse.Expr) []string {
	out := make([]string, 0, len(exprs))
	for _, e := range exprs {
		if lit, ok := e.(sqlparse.Literal); ok && lit.Kind == sqlparse.LiteralString {
			out = append(out, lit.Text)
		}
	}
	return out
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := map[string]bool{}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
