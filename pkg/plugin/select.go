// SPDX-License-Identifier: Apache-2.0

package plugin

import "strings"

// SelectForPath returns the first installed plugin whose detect-changes
// glob matches path's extension, or false if none does. Plugins are tried
// in list order — the first match wins, so install order doubles as
// priority (spec.md §4.F "plugin selection").
func SelectForPath(path string, plugins []InstalledPlugin) (InstalledPlugin, bool) {
	ext := extensionFromPath(path)
	for _, p := range plugins {
		if globMatchesExtension(p.DetectChangesGlob, ext) {
			return p, true
		}
	}
	return InstalledPlugin{}, false
}

func extensionFromPath(path string) string {
	name := path
	if i := strings.LastIndex(path, "/"); i >= 0 {
		name = path[i+1:]
	}
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return ""
	}
	return normalizeExtension(name[i+1:])
}

func normalizeExtension(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// globMatchesExtension implements lix's three supported plugin glob forms:
// "*" and "**/*" match any file, "*.<ext>" matches files with that
// extension case-insensitively. Any other glob form never matches — lix
// does not support arbitrary glob syntax for plugin selection.
func globMatchesExtension(glob string, ext string) bool {
	normalized := strings.ToLower(strings.TrimSpace(glob))
	if normalized == "*" || normalized == "**/*" {
		return true
	}
	if rest, ok := strings.CutPrefix(normalized, "*."); ok {
		return ext != "" && strings.EqualFold(ext, rest)
	}
	return false
}
