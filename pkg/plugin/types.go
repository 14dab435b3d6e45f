// SPDX-License-Identifier: Apache-2.0

// Package plugin implements lix's detect-changes/apply-changes plugin
// boundary (spec.md §4.F): selecting an installed WASM component by file
// extension, and exchanging JSON payloads with it across the wazero
// component boundary. The WASM runtime's own internals (linking, memory
// limits, component-model ABI) are out of scope for this package and sit
// behind the Runtime interface.
package plugin

// InstalledPlugin is a decoded, ready-to-run plugin record.
type InstalledPlugin struct {
	Key               string
	DetectChangesGlob string
	Wasm              []byte
}

// File is the wire representation of a file handed across the plugin
// boundary.
type File struct {
	ID   string `json:"id"`
	Path string `json:"path"`
	Data []byte `json:"data"`
}

// EntityChange is the wire representation of one entity change a plugin
// reports from detect-changes, or supplies to apply-changes.
type EntityChange struct {
	EntityID        string  `json:"entity_id"`
	SchemaKey       string  `json:"schema_key"`
	SchemaVersion   string  `json:"schema_version"`
	SnapshotContent *string `json:"snapshot_content"`
}

type detectChangesRequest struct {
	Before *File `json:"before"`
	After  File  `json:"after"`
}

type applyChangesRequest struct {
	File    File           `json:"file"`
	Changes []EntityChange `json:"changes"`
}

// DetectedChange is a change a plugin reported, resolved against the write
// that triggered detection.
type DetectedChange struct {
	EntityID        string
	SchemaKey       string
	SchemaVersion   string
	FileID          string
	VersionID       string
	PluginKey       string
	SnapshotContent *string
}

// DetectionRequest describes one file write to run through plugin
// detect-changes.
type DetectionRequest struct {
	FileID     string
	VersionID  string
	Path       string
	BeforeData []byte
	AfterData  []byte
}
