// SPDX-License-Identifier: Apache-2.0

package model

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// schemaVersionPattern enforces invariant 3: x-lix-version is a decimal
// integer with no leading zero.
var schemaVersionPattern = regexp.MustCompile(`^(0|[1-9][0-9]*)$`)

// SchemaDirectives captures the x-lix-* directives lix recognizes on a
// stored JSON schema document.
type SchemaDirectives struct {
	Key               string              `json:"x-lix-key"`
	Version           string              `json:"x-lix-version"`
	PrimaryKey        []string            `json:"x-lix-primary-key,omitempty"`
	Unique            [][]string          `json:"x-lix-unique,omitempty"`
	ForeignKeys       []ForeignKeyRef     `json:"x-lix-foreign-keys,omitempty"`
	Defaults          map[string]string   `json:"x-lix-default,omitempty"`
	EntityViews       []string            `json:"x-lix-entity-views,omitempty"`
	OverrideLixCols   map[string]string   `json:"x-lix-override-lixcols,omitempty"`
	Immutable         bool                `json:"x-lix-immutable,omitempty"`
}

// ForeignKeyRef names a foreign key from this schema's fields to a unique
// key group of another stored schema.
type ForeignKeyRef struct {
	Properties       []string `json:"properties"`
	ReferencedSchema string   `json:"schemaKey"`
	ReferencedGroup  []string `json:"referencedProperties"`
}

// ParseSchemaDirectives extracts and validates the x-lix-* directives from a
// raw JSON schema document.
func ParseSchemaDirectives(def json.RawMessage) (*SchemaDirectives, error) {
	var d SchemaDirectives
	if err := json.Unmarshal(def, &d); err != nil {
		return nil, fmt.Errorf("stored schema is not valid JSON: %w", err)
	}
	if d.Key == "" {
		return nil, SchemaValidationError{Reason: "x-lix-key is required"}
	}
	if !schemaVersionPattern.MatchString(d.Version) {
		return nil, SchemaValidationError{Reason: fmt.Sprintf("x-lix-version %q is not a decimal integer without leading zeros", d.Version)}
	}
	return &d, nil
}

// IsUniqueGroup reports whether the given set of property names is declared
// as a unique key group (or the primary key) on the schema.
func (d *SchemaDirectives) IsUniqueGroup(props []string) bool {
	if equalUnordered(d.PrimaryKey, props) {
		return true
	}
	for _, g := range d.Unique {
		if equalUnordered(g, props) {
			return true
		}
	}
	return false
}

func equalUnordered(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, v := range a {
		seen[v]++
	}
	for _, v := range b {
		seen[v]--
	}
	for _, n := range seen {
		if n != 0 {
			return false
		}
	}
	return true
}
