// SPDX-License-Identifier: Apache-2.0

package statevtable

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildQueryDefaultSource(t *testing.T) {
	sql := BuildQuery(Options{})
	assert.Contains(t, sql, "lix_internal_state_materialized t")
	assert.Contains(t, sql, "WITH RECURSIVE inheritance")
	assert.Contains(t, sql, "rn = 1")
	assert.NotContains(t, sql, "active_version")
}

func TestBuildQueryActiveVersionScope(t *testing.T) {
	sql := BuildQuery(Options{Scope: ScopeActiveVersion})
	assert.True(t, strings.HasSuffix(strings.TrimSpace(sql), "lix_internal_active_version)"))
}

func TestBuildQueryCountStar(t *testing.T) {
	sql := BuildQuery(Options{CountStar: true})
	assert.Contains(t, sql, "SELECT COUNT(*) FROM (")
}

func TestBuildQueryNarrowedSource(t *testing.T) {
	sql := BuildQuery(Options{MaterializedSource: PerSchemaMaterializedTable("lix_file_descriptor")})
	assert.Contains(t, sql, "lix_internal_state_materialized_v1_lix_file_descriptor")
}

func TestPerSchemaMaterializedTable(t *testing.T) {
	assert.Equal(t, "lix_internal_state_materialized_v1_lix_account", PerSchemaMaterializedTable("lix_account"))
}
