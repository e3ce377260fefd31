// File path: internal/export/stream.go
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/devtrail/devtrail/internal/common"
	"github.com/devtrail/devtrail/internal/store"
)

// streamYieldEvery is how many records the streaming writer emits
// between cooperative scheduling points.
const streamYieldEvery = 500

// streamWriter hand-assembles the streaming envelope so sections appear
// in a fixed order and records hit the wire one at a time instead of
// being buffered into one document.
type streamWriter struct {
	w       io.Writer
	written int
	err     error
}

func (sw *streamWriter) raw(s string) {
	if sw.err != nil {
		return
	}
	_, sw.err = io.WriteString(sw.w, s)
}

func (sw *streamWriter) value(v interface{}) {
	if sw.err != nil {
		return
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		sw.err = err
		return
	}
	_, sw.err = sw.w.Write(encoded)
}

// section writes `"name":[item,item,...]` yielding to the context
// periodically so one giant export cannot starve the server.
func streamSection[T any](ctx context.Context, sw *streamWriter, name string, items []T) {
	if sw.err != nil {
		return
	}
	sw.raw(fmt.Sprintf(",%q:[", name))
	for i, item := range items {
		if i > 0 {
			sw.raw(",")
		}
		sw.value(item)
		sw.written++
		if sw.written%streamYieldEvery == 0 {
			if err := ctx.Err(); err != nil {
				sw.err = err
				return
			}
			if flusher, ok := sw.w.(interface{ Flush() }); ok {
				flusher.Flush()
			}
		}
		if sw.err != nil {
			return
		}
	}
	sw.raw("]")
}

// writeStream emits the streaming envelope: metadata first, then the
// record sections in a fixed order, then the derived analytics
// sections. On failure the document is closed with an error field so a
// consumer holding a truncated body can still tell what happened.
func (e *Exporter) writeStream(ctx context.Context, opts Options, ds *dataset, w io.Writer) error {
	sw := &streamWriter{w: w}
	meta := Metadata{
		Version:       EnvelopeGeneration,
		SchemaVersion: store.CurrentSchemaVersion,
		ExportedAt:    e.now().UnixMilli(),
		Options:       opts,
		TotalItems:    ds.total(),
		Streamed:      true,
	}
	sw.raw(`{"metadata":`)
	sw.value(meta)
	sw.raw(`,"schema_version":`)
	sw.value(meta.SchemaVersion)

	streamSection(ctx, sw, "entries", ds.entries)
	streamSection(ctx, sw, "prompts", ds.prompts)
	streamSection(ctx, sw, "events", ds.events)
	streamSection(ctx, sw, "terminal_commands", ds.terminals)
	streamSection(ctx, sw, "context_snapshots", ds.snapshots)

	var rel *Relationships
	if !opts.NoLinkedData && sw.err == nil {
		r := relationshipsOf(ds)
		rel = &r
		sw.raw(`,"relationships":`)
		sw.value(rel)
	}
	if sw.err == nil {
		if contextStats, err := e.store.ContextAnalytics(ctx); err == nil {
			sw.raw(`,"context_analytics":`)
			sw.value(contextStats)
		} else {
			common.Logger().Warn("export: stream analytics unavailable", "error", err)
		}
	}
	if sw.err == nil {
		if summaries, err := e.store.WorkspaceSummaries(ctx); err == nil {
			sw.raw(`,"workspaces":`)
			sw.value(summaries)
		}
	}
	if sw.err == nil {
		sw.raw(`,"stats":`)
		sw.value(statsOf(ds, rel))
	}
	if opts.ExtractPatterns && sw.err == nil {
		sw.raw(`,"patterns":`)
		sw.value(extractPatterns(ds))
	}

	if sw.err != nil {
		// Best effort: close the object with the failure attached.
		streamErr := sw.err
		sw.err = nil
		sw.raw(`,"error":`)
		sw.value(streamErr.Error())
		sw.raw("}\n")
		return streamErr
	}
	sw.raw("}\n")
	return sw.err
}
