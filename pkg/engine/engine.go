// SPDX-License-Identifier: Apache-2.0

// Package engine implements lix's execution orchestrator (spec.md §4.F /
// §6.2): it sequences parsing, rewriting, preprocessing, validation,
// physical execution, commit-graph maintenance, cache invalidation and
// event emission for every call against the public API.
package engine

import (
	"context"
	"fmt"

	"github.com/lixdb/lix/pkg/backend"
	"github.com/lixdb/lix/pkg/cache"
	"github.com/lixdb/lix/pkg/commitgraph"
	"github.com/lixdb/lix/pkg/lixlog"
	"github.com/lixdb/lix/pkg/model"
	"github.com/lixdb/lix/pkg/observe"
	"github.com/lixdb/lix/pkg/plugin"
	"github.com/lixdb/lix/pkg/preprocess"
	"github.com/lixdb/lix/pkg/rewrite"
	"github.com/lixdb/lix/pkg/runtimefn"
	"github.com/lixdb/lix/pkg/sqlparse"
	"github.com/lixdb/lix/pkg/validate"
)

// BootArgs parameterizes Boot. Backend is the only required collaborator.
// Schemas and Loader default to a shared SchemaStore, Functions and Logger
// to production implementations; a nil WasmRuntime skips plugin change
// detection and makes materialization fail.
type BootArgs struct {
	Backend     backend.Backend
	WasmRuntime plugin.Runtime
	Schemas     rewrite.SchemaLookup
	Loader      validate.StoredSchemaLoader
	Functions   runtimefn.FunctionProvider
	Logger      lixlog.Logger

	FileCacheSize        int
	FileHistoryCacheSize int
}

// Engine is the single entry point into lix. One Engine instance owns the
// backend connection, every in-process cache, and the state-commit-stream
// bus for its lifetime.
type Engine struct {
	backend     backend.Backend
	wasmRuntime plugin.Runtime
	functions   runtimefn.FunctionProvider
	logger      lixlog.Logger

	rewriter  *rewrite.Rewriter
	defaulter *preprocess.Defaulter
	validator *validate.Validator
	commits   *commitgraph.Maintainer
	bus       *observe.Bus
	parser    sqlparse.Parser

	fileData         *cache.FileDataCache
	fileHistory      *cache.FileHistoryCache
	breakpoints      *cache.TimelineBreakpoints
	installedPlugins *cache.InstalledPluginsCache

	// accessInternal is set for the duration of an engine-internal call
	// (Init, checkpoint/version bookkeeping, plugin registration) so that
	// rejectInternalTableAccess doesn't reject the engine's own writes to
	// lix_internal_* tables. Single-engine-instance, single-call-at-a-time
	// semantics would need a mutex to make this safe under concurrent
	// Execute calls; spec.md's engine API does not promise concurrent
	// Execute safety beyond what the backend itself serializes.
	accessInternal bool
}

// Boot constructs an Engine from the given collaborators, defaulting
// optional ones to production implementations.
func Boot(args BootArgs) (*Engine, error) {
	if args.Backend == nil {
		return nil, fmt.Errorf("engine: boot requires a backend")
	}
	if args.Schemas == nil || args.Loader == nil {
		store := NewSchemaStore()
		if args.Schemas == nil {
			args.Schemas = store
		}
		if args.Loader == nil {
			args.Loader = store
		}
	}
	functions := args.Functions
	if functions == nil {
		functions = runtimefn.SystemProvider{}
	}
	logger := args.Logger
	if logger == nil {
		logger = lixlog.New()
	}

	fileCacheSize := args.FileCacheSize
	if fileCacheSize <= 0 {
		fileCacheSize = 1024
	}
	historyCacheSize := args.FileHistoryCacheSize
	if historyCacheSize <= 0 {
		historyCacheSize = 256
	}

	fileData, err := cache.NewFileDataCache(fileCacheSize)
	if err != nil {
		return nil, fmt.Errorf("engine: constructing file data cache: %w", err)
	}
	fileHistory, err := cache.NewFileHistoryCache(historyCacheSize)
	if err != nil {
		return nil, fmt.Errorf("engine: constructing file history cache: %w", err)
	}

	e := &Engine{
		backend:     args.Backend,
		wasmRuntime: args.WasmRuntime,
		functions:   functions,
		logger:      logger,
		rewriter:    &rewrite.Rewriter{Dialect: args.Backend.Dialect(), Schemas: args.Schemas},
		defaulter:   preprocess.NewDefaulter(functions),
		validator:   validate.NewValidator(args.Loader),
		commits:     commitgraph.NewMaintainer(functions),
		bus:         observe.NewBus(),
		parser:      sqlparse.PgQueryParser{},

		fileData:         fileData,
		fileHistory:      fileHistory,
		breakpoints:      cache.NewTimelineBreakpoints(),
		installedPlugins: cache.NewInstalledPluginsCache(),
	}
	return e, nil
}

// Init seeds the canonical tables a fresh backend needs: a root commit, the
// global version and its working commit, and the singleton active-version
// row (spec.md §4.A). No active-account row is seeded. Calling Init on an already-initialized backend is
// the caller's error to avoid, not this method's to detect — lix has no
// general schema-migration story in scope here.
func (e *Engine) Init(ctx context.Context) error {
	workingID, err := e.functions.UUIDv7()
	if err != nil {
		return fmt.Errorf("engine: init: generating working commit id: %w", err)
	}
	rootCommitID, err := e.functions.UUIDv7()
	if err != nil {
		return fmt.Errorf("engine: init: generating root commit id: %w", err)
	}
	ts := e.functions.Timestamp()

	e.accessInternal = true
	defer func() { e.accessInternal = false }()

	stmts := []struct {
		sql    string
		params []backend.Value
	}{
		{
			"INSERT INTO lix_internal_commit (commit_id, change_set_id, parent_ids, change_ids, checkpoint_tag, created_at) VALUES ($1, NULL, '[]', '[]', TRUE, $2)",
			[]backend.Value{backend.Text(rootCommitID), backend.Text(ts.Format("2006-01-02T15:04:05.000Z"))},
		},
		{
			"INSERT INTO lix_internal_commit (commit_id, change_set_id, parent_ids, change_ids, checkpoint_tag, created_at) VALUES ($1, NULL, $2, '[]', FALSE, $3)",
			[]backend.Value{backend.Text(workingID), backend.Text("[\"" + rootCommitID + "\"]"), backend.Text(ts.Format("2006-01-02T15:04:05.000Z"))},
		},
		{
			"INSERT INTO lix_internal_version (version_id, name, commit_id, working_commit_id, inherits_from_version_id) VALUES ($1, $1, $2, $3, NULL)",
			[]backend.Value{backend.Text(model.GlobalVersionID), backend.Text(rootCommitID), backend.Text(workingID)},
		},
		{
			"INSERT INTO lix_internal_active_version (version_id) VALUES ($1)",
			[]backend.Value{backend.Text(model.GlobalVersionID)},
		},
	}

	for _, s := range stmts {
		if _, err := e.backend.Execute(ctx, s.sql, s.params); err != nil {
			return fmt.Errorf("engine: init: %w", err)
		}
	}
	return nil
}

// Observe subscribes to the state-commit-stream bus, narrowed by filter.
func (e *Engine) Observe(filter observe.Filter) *observe.Stream {
	return e.bus.Subscribe(filter)
}

// StateCommitStream is an alias for Observe kept for API-surface parity
// with spec.md §6.2's separately named `state_commit_stream` entry point;
// both subscribe to the same bus.
func (e *Engine) StateCommitStream(filter observe.Filter) *observe.Stream {
	return e.bus.Subscribe(filter)
}

// InvalidateInstalledPluginsCache drops the cached plugin list, forcing the
// next lookup to reload from lix_internal_plugin.
func (e *Engine) InvalidateInstalledPluginsCache() {
	e.installedPlugins.Invalidate()
	e.logger.LogCacheInvalidation("installed_plugins", 1)
}

// FileDataCache exposes the engine's file bytes cache for callers that need
// to force an eviction outside the normal write path (e.g. a snapshot
// restore).
func (e *Engine) FileDataCache() *cache.FileDataCache { return e.fileData }
