// SPDX-License-Identifier: Apache-2.0

// Package preprocess implements the rewrite engine's preprocess layer
// (spec.md §4.D): CEL-evaluated defaults for the MutationRows a rewrite
// pass has lowered onto the internal state vtable, coalescing of adjacent
// vtable INSERTs in a parsed script, and select-sourced materialization of
// an InsertStatement.
package preprocess

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/lixdb/lix/pkg/model"
	"github.com/lixdb/lix/pkg/runtimefn"
)

// Defaulter evaluates a stored schema's `x-lix-default` CEL expressions
// (falling back to plain JSON Schema `default`) against rows missing those
// properties, in the schema's sorted property-name order so that one
// default expression can reference an earlier one's computed value
// (spec.md §4.D.1).
type Defaulter struct {
	Functions runtimefn.FunctionProvider
}

// NewDefaulter constructs a Defaulter backed by the given function
// provider (system clock/UUIDs, or a deterministic test provider).
func NewDefaulter(functions runtimefn.FunctionProvider) *Defaulter {
	return &Defaulter{Functions: functions}
}

// ApplyDefaults returns snapshot with every property the schema declares a
// default for and the row omits filled in, and whether it added any; the
// input snapshot is not modified. A property already
// present — including an explicit JSON null — is never overwritten.
func (d *Defaulter) ApplyDefaults(snapshot model.Snapshot, schema *model.SchemaDirectives, rawSchema map[string]any) (model.Snapshot, bool, error) {
	var obj map[string]any
	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &obj); err != nil {
			return snapshot, false, fmt.Errorf("preprocess: invalid snapshot_content JSON: %w", err)
		}
	}
	if obj == nil {
		obj = map[string]any{}
	}

	properties, _ := rawSchema["properties"].(map[string]any)
	if len(properties) == 0 {
		return snapshot, false, nil
	}

	names := make([]string, 0, len(properties))
	for name := range properties {
		names = append(names, name)
	}
	sort.Strings(names)

	context := make(map[string]any, len(obj))
	for k, v := range obj {
		context[k] = v
	}

	changed := false
	for _, name := range names {
		if _, present := obj[name]; present {
			continue
		}
		fieldSchema, _ := properties[name].(map[string]any)
		if fieldSchema == nil {
			continue
		}

		if expr, ok := fieldSchema["x-lix-default"].(string); ok {
			value, err := d.evaluate(expr, context)
			if err != nil {
				return snapshot, false, fmt.Errorf("preprocess: x-lix-default for %q failed: %w", name, err)
			}
			obj[name] = value
			context[name] = value
			changed = true
			continue
		}

		if fallback, ok := fieldSchema["default"]; ok {
			obj[name] = fallback
			context[name] = fallback
			changed = true
		}
	}

	if !changed {
		return snapshot, false, nil
	}
	out, err := json.Marshal(obj)
	if err != nil {
		return snapshot, false, err
	}
	return model.Snapshot(out), true, nil
}

// evaluate compiles and runs a single CEL expression against context,
// exposing every context key as a top-level dyn-typed identifier plus the
// two lix runtime functions. A fresh environment per call keeps this
// simple at the cost of re-compilation; lix schemas evaluate defaults
// rarely enough relative to a write's other costs that this is not worth
// caching.
func (d *Defaulter) evaluate(expr string, context map[string]any) (any, error) {
	opts := make([]cel.EnvOption, 0, len(context)+2)
	for name := range context {
		opts = append(opts, cel.Variable(name, cel.DynType))
	}
	opts = append(opts,
		cel.Function("lix_uuid_v7",
			cel.Overload("lix_uuid_v7_0", []*cel.Type{}, cel.StringType,
				cel.FunctionBinding(func(args ...ref.Val) ref.Val {
					id, err := d.Functions.UUIDv7()
					if err != nil {
						return types.NewErr("lix_uuid_v7: %v", err)
					}
					return types.String(id)
				}),
			),
		),
		cel.Function("lix_timestamp",
			cel.Overload("lix_timestamp_0", []*cel.Type{}, cel.StringType,
				cel.FunctionBinding(func(args ...ref.Val) ref.Val {
					return types.String(d.Functions.Timestamp().Format("2006-01-02T15:04:05.000Z"))
				}),
			),
		),
	)

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, err
	}
	out, _, err := program.Eval(context)
	if err != nil {
		return nil, err
	}
	return out.Value(), nil
}
