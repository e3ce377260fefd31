// File path: internal/ingest/queue.go
package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/devtrail/devtrail/internal/common"
	"github.com/devtrail/devtrail/internal/common/telemetry"
	"github.com/devtrail/devtrail/internal/model"
	"github.com/devtrail/devtrail/internal/store"
)

// Kind names one telemetry record family accepted by the queue.
type Kind string

const (
	KindEntry    Kind = "entry"
	KindPrompt   Kind = "prompt"
	KindTerminal Kind = "terminal"
	KindSnapshot Kind = "snapshot"
)

// ErrBusy is returned when the intake channel is full. Producers retry
// with backoff; records are never dropped silently.
var ErrBusy = errors.New("ingest queue full")

// ErrValidation wraps malformed payloads. Never retried.
var ErrValidation = errors.New("invalid record")

// Event is one validated, normalized record moving through the queue.
type Event struct {
	Kind      Kind
	ID        string
	Workspace string
	Timestamp int64
	Record    interface{}
	attempts  int
}

// Sink receives every persisted event, in per-workspace arrival order.
// The correlator implements it.
type Sink interface {
	Observe(ctx context.Context, event Event)
}

type Config struct {
	Capacity int
	Workers  int
}

func (c *Config) applyDefaults() {
	if c.Capacity <= 0 {
		c.Capacity = 1024
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
}

// Queue is the bounded intake in front of the store. Enqueue validates
// and deduplicates; workers persist, journal, and hand off to the sink.
type Queue struct {
	store      *store.Store
	sink       Sink
	events     chan Event
	deadletter *store.Journal

	wg     sync.WaitGroup
	cancel context.CancelFunc
	once   sync.Once
}

func NewQueue(st *store.Store, sink Sink, cfg Config) (*Queue, error) {
	cfg.applyDefaults()
	dead, err := store.NewJournal(filepath.Join(st.DataDir(), "deadletter.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("open dead-letter journal: %w", err)
	}
	q := &Queue{
		store:      st,
		sink:       sink,
		events:     make(chan Event, cfg.Capacity),
		deadletter: dead,
	}
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	for i := 0; i < cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	common.Logger().Info("ingest: queue started", "capacity", cfg.Capacity, "workers", cfg.Workers)
	return q, nil
}

// Close stops accepting work, drains in-flight events, and returns.
func (q *Queue) Close() {
	q.once.Do(func() {
		close(q.events)
		q.wg.Wait()
		q.cancel()
	})
}

// Enqueue validates and normalizes a raw payload, suppresses duplicates
// already persisted, and hands the event to a worker. Returns the
// record id, or ErrBusy when the channel is full.
func (q *Queue) Enqueue(ctx context.Context, kind Kind, payload map[string]interface{}) (string, error) {
	event, err := buildEvent(kind, payload)
	if err != nil {
		telemetry.RecordIngestRejected(string(kind))
		return "", err
	}

	exists, err := q.exists(ctx, event)
	if err != nil {
		return "", fmt.Errorf("dedupe check: %w", err)
	}
	if exists {
		telemetry.RecordIngestDedupe()
		common.Logger().Debug("ingest: duplicate suppressed", "kind", kind, "id", event.ID)
		return event.ID, nil
	}

	select {
	case q.events <- event:
		telemetry.RecordIngestAccepted(string(kind))
		return event.ID, nil
	default:
		telemetry.RecordIngestBusy()
		return "", ErrBusy
	}
}

func buildEvent(kind Kind, payload map[string]interface{}) (Event, error) {
	if payload == nil {
		return Event{}, fmt.Errorf("%w: empty payload", ErrValidation)
	}
	var (
		event Event
		err   error
	)
	switch kind {
	case KindEntry:
		var rec model.Entry
		if rec, err = model.EntryFromMap(payload); err == nil {
			if rec.ID == "" {
				rec.ID = model.NewID()
			}
			event = Event{Kind: kind, ID: rec.ID, Workspace: rec.WorkspacePath, Timestamp: rec.Timestamp, Record: rec}
		}
	case KindPrompt:
		// Payloads carrying turn metadata keep it through the typed
		// turn record; plain prompts stay plain.
		if model.HasTurnFields(payload) {
			var rec model.ConversationTurn
			if rec, err = model.TurnFromMap(payload); err == nil {
				if rec.ID == "" {
					rec.ID = model.NewID()
				}
				event = Event{Kind: kind, ID: rec.ID, Workspace: rec.WorkspacePath, Timestamp: rec.Timestamp, Record: rec}
			}
			break
		}
		var rec model.Prompt
		if rec, err = model.PromptFromMap(payload); err == nil {
			if rec.ID == "" {
				rec.ID = model.NewID()
			}
			event = Event{Kind: kind, ID: rec.ID, Workspace: rec.WorkspacePath, Timestamp: rec.Timestamp, Record: rec}
		}
	case KindTerminal:
		var rec model.TerminalCommand
		if rec, err = model.TerminalFromMap(payload); err == nil {
			if rec.ID == "" {
				rec.ID = model.NewID()
			}
			event = Event{Kind: kind, ID: rec.ID, Workspace: rec.WorkspacePath, Timestamp: rec.Timestamp, Record: rec}
		}
	case KindSnapshot:
		var rec model.ContextSnapshot
		if rec, err = model.SnapshotFromMap(payload); err == nil {
			if rec.ID == "" {
				rec.ID = model.NewID()
			}
			event = Event{Kind: kind, ID: rec.ID, Timestamp: rec.Timestamp, Record: rec}
		}
	default:
		return Event{}, fmt.Errorf("%w: unknown kind %q", ErrValidation, kind)
	}
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if event.Timestamp <= 0 {
		return Event{}, fmt.Errorf("%w: non-positive timestamp", ErrValidation)
	}
	if strings.ContainsRune(event.Workspace, 0) {
		return Event{}, fmt.Errorf("%w: invalid workspace", ErrValidation)
	}
	return event, nil
}

func (q *Queue) exists(ctx context.Context, event Event) (bool, error) {
	switch event.Kind {
	case KindEntry:
		return q.store.EntryExists(ctx, event.ID)
	case KindPrompt:
		return q.store.PromptExists(ctx, event.ID)
	case KindTerminal:
		return q.store.TerminalExists(ctx, event.ID)
	case KindSnapshot:
		return q.store.SnapshotExists(ctx, event.ID)
	}
	return false, nil
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for event := range q.events {
		q.process(ctx, event)
	}
}

// process persists the record, appends it to the journal, then hands it
// to the sink. The save must complete before correlation so correlator
// queries observe the new record. A failed save is retried once; the
// second failure parks the record in the dead-letter journal.
func (q *Queue) process(ctx context.Context, event Event) {
	logger := common.Logger()
	if err := q.save(ctx, event); err != nil {
		logger.Warn("ingest: save failed, retrying once", "kind", event.Kind, "id", event.ID, "error", err)
		event.attempts++
		if retryErr := q.save(ctx, event); retryErr != nil {
			q.park(ctx, event, retryErr)
			return
		}
	}
	if err := q.store.Journal().Append(ctx, string(event.Kind), event.Record); err != nil {
		logger.Warn("ingest: journal append failed", "id", event.ID, "error", err)
	}
	if q.sink != nil {
		q.sink.Observe(ctx, event)
	}
}

func (q *Queue) save(ctx context.Context, event Event) error {
	switch rec := event.Record.(type) {
	case model.Entry:
		return q.store.SaveEntry(ctx, rec)
	case model.Prompt:
		return q.store.SavePrompt(ctx, rec)
	case model.ConversationTurn:
		return q.store.SaveTurn(ctx, rec)
	case model.TerminalCommand:
		return q.store.SaveTerminal(ctx, rec)
	case model.ContextSnapshot:
		return q.store.SaveSnapshot(ctx, rec)
	}
	return fmt.Errorf("unsupported record type %T", event.Record)
}

func (q *Queue) park(ctx context.Context, event Event, cause error) {
	telemetry.RecordDeadLetter()
	common.Logger().Error("ingest: parking record in dead-letter journal", "kind", event.Kind, "id", event.ID, "error", cause)
	payload := map[string]interface{}{
		"kind":   string(event.Kind),
		"id":     event.ID,
		"record": event.Record,
		"cause":  cause.Error(),
	}
	if err := q.deadletter.Append(ctx, string(event.Kind), payload); err != nil {
		common.Logger().Error("ingest: dead-letter append failed", "id", event.ID, "error", err)
	}
}

// DeadLetters replays the parked records, oldest first.
func (q *Queue) DeadLetters(ctx context.Context, fn func(store.JournalRecord) error) error {
	return q.deadletter.ReadAll(ctx, fn)
}
