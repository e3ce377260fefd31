// File path: internal/common/telemetry/telemetry.go
package telemetry

import (
	"context"
	"expvar"
	"strings"
	"sync"
	"time"

	"github.com/devtrail/devtrail/internal/common"
)

type spanKey struct{}

type span struct {
	name  string
	start time.Time
}

var (
	initOnce sync.Once

	ingestAcceptedTotal *expvar.Map
	ingestRejectedTotal *expvar.Map
	ingestDedupeHits    *expvar.Int
	ingestBusyTotal     *expvar.Int
	deadLetterTotal     *expvar.Int

	correlatorLinksTotal *expvar.Map
	reconcilePassTotal   *expvar.Int

	exportItemsTotal   *expvar.Int
	exportStreamsTotal *expvar.Int
	importRecordsTotal *expvar.Map

	capabilityFallbacks *expvar.Map

	cacheHits   *expvar.Map
	cacheMisses *expvar.Map
)

func ensureInit() {
	initOnce.Do(func() {
		ingestAcceptedTotal = expvar.NewMap("devtrail_ingest_accepted_total")
		ingestRejectedTotal = expvar.NewMap("devtrail_ingest_rejected_total")
		ingestDedupeHits = expvar.NewInt("devtrail_ingest_dedupe_hits")
		ingestBusyTotal = expvar.NewInt("devtrail_ingest_busy_total")
		deadLetterTotal = expvar.NewInt("devtrail_dead_letter_total")

		correlatorLinksTotal = expvar.NewMap("devtrail_correlator_links_total")
		reconcilePassTotal = expvar.NewInt("devtrail_reconcile_passes_total")

		exportItemsTotal = expvar.NewInt("devtrail_export_items_total")
		exportStreamsTotal = expvar.NewInt("devtrail_export_streams_total")
		importRecordsTotal = expvar.NewMap("devtrail_import_records_total")

		capabilityFallbacks = expvar.NewMap("devtrail_capability_fallbacks_total")

		cacheHits = expvar.NewMap("devtrail_cache_hits_total")
		cacheMisses = expvar.NewMap("devtrail_cache_misses_total")
	})
}

// StartSpan records a lightweight trace span around a pipeline stage. The
// returned func logs the duration together with any extra attributes.
func StartSpan(ctx context.Context, name string) (context.Context, func(attrs ...interface{})) {
	ensureInit()
	sp := &span{name: name, start: time.Now()}
	ctx = context.WithValue(ctx, spanKey{}, sp)
	logger := common.Logger()
	logger.Debug("trace: start", "span", name)
	return ctx, func(attrs ...interface{}) {
		if sp == nil {
			return
		}
		duration := time.Since(sp.start)
		logger.Debug("trace: end", append([]interface{}{"span", name, "dur", duration}, attrs...)...)
	}
}

// SpanDuration reports elapsed time for the span carried on ctx, if any.
func SpanDuration(ctx context.Context) time.Duration {
	sp, _ := ctx.Value(spanKey{}).(*span)
	if sp == nil {
		return 0
	}
	return time.Since(sp.start)
}

func mapKey(kind string) string {
	key := strings.TrimSpace(strings.ToLower(kind))
	if key == "" {
		key = "unknown"
	}
	return key
}

func RecordIngestAccepted(kind string) {
	ensureInit()
	ingestAcceptedTotal.Add(mapKey(kind), 1)
}

func RecordIngestRejected(kind string) {
	ensureInit()
	ingestRejectedTotal.Add(mapKey(kind), 1)
}

func RecordIngestDedupe() {
	ensureInit()
	ingestDedupeHits.Add(1)
}

func RecordIngestBusy() {
	ensureInit()
	ingestBusyTotal.Add(1)
}

func RecordDeadLetter() {
	ensureInit()
	deadLetterTotal.Add(1)
}

func RecordCorrelatorLink(kind string) {
	ensureInit()
	correlatorLinksTotal.Add(mapKey(kind), 1)
}

func RecordReconcilePass() {
	ensureInit()
	reconcilePassTotal.Add(1)
}

func RecordExportItems(count int) {
	ensureInit()
	if count > 0 {
		exportItemsTotal.Add(int64(count))
	}
}

func RecordExportStream() {
	ensureInit()
	exportStreamsTotal.Add(1)
}

func RecordImport(collection string, count int) {
	ensureInit()
	if count > 0 {
		importRecordsTotal.Add(mapKey(collection), int64(count))
	}
}

// RecordCapabilityFallback counts a deterministic fallback taken because an
// external capability (LLM, embeddings) was unavailable. Absence is not an
// error, only a metric.
func RecordCapabilityFallback(capability string) {
	ensureInit()
	capabilityFallbacks.Add(mapKey(capability), 1)
}

func RecordCacheHit(cache string) {
	ensureInit()
	cacheHits.Add(mapKey(cache), 1)
}

func RecordCacheMiss(cache string) {
	ensureInit()
	cacheMisses.Add(mapKey(cache), 1)
}
