// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"fmt"
	"io"

	"github.com/lixdb/lix/pkg/cache"
)

// ExportSnapshot streams the physical store's bytes to w (spec.md §6.1,
// §6.2 export_snapshot). The chunking and page format are the concrete
// backend driver's concern; this method only forwards the call.
func (e *Engine) ExportSnapshot(ctx context.Context, w io.Writer) error {
	if err := e.backend.ExportSnapshot(ctx, w); err != nil {
		return fmt.Errorf("engine: exporting snapshot: %w", err)
	}
	return nil
}

// RestoreFromSnapshot replaces the physical store's bytes with the stream
// read from r (spec.md §6.1, §6.2 restore_from_snapshot). The file data
// cache, the timeline breakpoints and the installed-plugins cache are
// dropped afterward since they may now describe stale state; the file
// history cache is kept.
func (e *Engine) RestoreFromSnapshot(ctx context.Context, r io.Reader) error {
	if err := e.backend.RestoreFromSnapshot(ctx, r); err != nil {
		return fmt.Errorf("engine: restoring snapshot: %w", err)
	}
	e.fileData.InvalidateAll()
	e.breakpoints = cache.NewTimelineBreakpoints()
	e.InvalidateInstalledPluginsCache()
	return nil
}
