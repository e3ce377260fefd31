// File path: internal/data/orchestrator/orchestrator.go
package orchestrator

import (
	"context"
	"fmt"

	"github.com/devtrail/devtrail/internal/cluster"
	"github.com/devtrail/devtrail/internal/common"
	"github.com/devtrail/devtrail/internal/correlate"
	"github.com/devtrail/devtrail/internal/export"
	"github.com/devtrail/devtrail/internal/ingest"
	"github.com/devtrail/devtrail/internal/llm"
	"github.com/devtrail/devtrail/internal/modgraph"
	"github.com/devtrail/devtrail/internal/store"
	"github.com/devtrail/devtrail/internal/workspace"
)

// Orchestrator wires together the store and the processing components
// that back the server, and owns their shutdown order.
type Orchestrator struct {
	cfg Config

	store      *store.Store
	ownsStore  bool
	provider   llm.Provider
	queue      *ingest.Queue
	correlator *correlate.Correlator
	graph      *modgraph.Service
	analyzer   *workspace.Analyzer
	exporter   *export.Exporter
	importer   *export.Importer

	done chan struct{}
}

// New constructs an orchestrator from the provided configuration and
// optional overrides. The ingestion path is assembled end to end:
// queue workers persist records, the correlator observes them, and the
// fanout keeps the downstream caches honest.
func New(ctx context.Context, cfg Config, opts ...Option) (*Orchestrator, error) {
	cfg = applyDefaults(cfg)
	settings := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}

	st := settings.store
	ownsStore := false
	if st == nil {
		opened, err := store.Open("")
		if err != nil {
			return nil, fmt.Errorf("init store: %w", err)
		}
		st = opened
		ownsStore = true
	}

	provider := settings.provider
	if provider == nil {
		provider = llm.NewProvider()
	}

	correlator := correlate.New(st, correlate.Config{
		LinkWindow:        cfg.LinkWindow,
		TerminalWindow:    cfg.TerminalWindow,
		MaxAbsorbedEdits:  cfg.MaxAbsorbedEdits,
		ReconcileInterval: cfg.ReconcileInterval,
	})
	queue, err := ingest.NewQueue(st, correlator, ingest.Config{
		Capacity: cfg.QueueCapacity,
		Workers:  cfg.QueueWorkers,
	})
	if err != nil {
		correlator.Close()
		if ownsStore {
			st.Close()
		}
		return nil, fmt.Errorf("init ingest queue: %w", err)
	}

	orch := &Orchestrator{
		cfg:        cfg,
		store:      st,
		ownsStore:  ownsStore,
		provider:   provider,
		queue:      queue,
		correlator: correlator,
		graph:      modgraph.NewService(st),
		analyzer:   workspace.NewAnalyzer(st),
		exporter:   export.New(st),
		importer:   export.NewImporter(st),
		done:       make(chan struct{}),
	}
	go orch.fanout()
	common.Logger().Info("orchestrator: ready", "provider", provider.Name(), "listen", cfg.ListenAddr)
	return orch, nil
}

// fanout drains the correlator notifications. Linked records change the
// structure the graph reports, so the cached build is evicted eagerly
// instead of waiting for the sequence check.
func (o *Orchestrator) fanout() {
	defer close(o.done)
	for n := range o.correlator.Events() {
		if n.Linked {
			o.graph.Refresh(n.Workspace)
		}
	}
}

// Close tears the pipeline down back to front: stop intake, drain the
// correlator, then release the store.
func (o *Orchestrator) Close() error {
	o.queue.Close()
	o.correlator.Close()
	<-o.done
	if o.ownsStore {
		return o.store.Close()
	}
	return nil
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// Store exposes the backing store.
func (o *Orchestrator) Store() *store.Store {
	if o == nil {
		return nil
	}
	return o.store
}

// Queue exposes the ingestion intake.
func (o *Orchestrator) Queue() *ingest.Queue {
	if o == nil {
		return nil
	}
	return o.queue
}

// Correlator exposes the linking engine.
func (o *Orchestrator) Correlator() *correlate.Correlator {
	if o == nil {
		return nil
	}
	return o.correlator
}

// Graph exposes the module-graph service.
func (o *Orchestrator) Graph() *modgraph.Service {
	if o == nil {
		return nil
	}
	return o.graph
}

// Workspaces exposes the workspace analyzer.
func (o *Orchestrator) Workspaces() *workspace.Analyzer {
	if o == nil {
		return nil
	}
	return o.analyzer
}

// Provider exposes the configured LLM provider.
func (o *Orchestrator) Provider() llm.Provider {
	if o == nil {
		return nil
	}
	return o.provider
}

// Exporter exposes the export document builder.
func (o *Orchestrator) Exporter() *export.Exporter {
	if o == nil {
		return nil
	}
	return o.exporter
}

// Importer exposes the import engine.
func (o *Orchestrator) Importer() *export.Importer {
	if o == nil {
		return nil
	}
	return o.importer
}

// Clusters builds a clustering pipeline over the current stores.
func (o *Orchestrator) Clusters(cfg cluster.Config) *cluster.Pipeline {
	return cluster.NewPipeline(o.store, o.analyzer, o.provider, cfg)
}

// Reconcile runs one linking pass over stragglers immediately.
func (o *Orchestrator) Reconcile(ctx context.Context) error {
	return o.correlator.Reconcile(ctx)
}
