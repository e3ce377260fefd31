// File path: internal/correlate/correlator.go
package correlate

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/devtrail/devtrail/internal/common"
	"github.com/devtrail/devtrail/internal/common/telemetry"
	"github.com/devtrail/devtrail/internal/ingest"
	"github.com/devtrail/devtrail/internal/model"
	"github.com/devtrail/devtrail/internal/store"
)

type Config struct {
	// LinkWindow is how long a prompt waits for edits to attach.
	LinkWindow time.Duration
	// MaxAbsorbedEdits caps how many edits one prompt may absorb.
	MaxAbsorbedEdits int
	// TerminalWindow bounds terminal-to-prompt/edit attachment.
	TerminalWindow time.Duration
	// Workers is the number of workspace partitions.
	Workers int
	// ReconcileInterval schedules the periodic pass over unlinked
	// records; ReconcileHorizon bounds how far back it looks.
	ReconcileInterval time.Duration
	ReconcileHorizon  time.Duration
}

func (c *Config) applyDefaults() {
	if c.LinkWindow <= 0 {
		c.LinkWindow = 120 * time.Second
	}
	if c.MaxAbsorbedEdits <= 0 {
		c.MaxAbsorbedEdits = 8
	}
	if c.TerminalWindow <= 0 {
		c.TerminalWindow = 30 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.Workers > 4 {
		c.Workers = 4
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = time.Minute
	}
	if c.ReconcileHorizon <= 0 {
		c.ReconcileHorizon = 24 * time.Hour
	}
}

// Notification is the fanout record emitted after each correlated
// event; downstream caches key invalidation on it.
type Notification struct {
	Kind      ingest.Kind
	ID        string
	Workspace string
	Timestamp int64
	Linked    bool
}

// wsState is the per-workspace linker state. A prompt opens a window;
// edits arriving inside it and carrying no prompt of their own are
// attached, up to the absorption cap. Event time drives the machine,
// not wall-clock time.
type wsState struct {
	promptID   string
	promptTS   int64
	deadline   int64
	absorbed   int
	lastEdit   string
	lastEditTS int64
}

// Correlator links prompts, edits, and terminal commands inside each
// workspace. Events are partitioned by workspace hash so that one
// workspace is always handled by the same worker, preserving arrival
// order without a global lock.
type Correlator struct {
	store      *store.Store
	cfg        Config
	partitions []chan ingest.Event
	notify     chan Notification

	wg     sync.WaitGroup
	cancel context.CancelFunc
	once   sync.Once
}

func New(st *store.Store, cfg Config) *Correlator {
	cfg.applyDefaults()
	c := &Correlator{
		store:      st,
		cfg:        cfg,
		partitions: make([]chan ingest.Event, cfg.Workers),
		notify:     make(chan Notification, 256),
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	for i := range c.partitions {
		c.partitions[i] = make(chan ingest.Event, 256)
		c.wg.Add(1)
		go c.worker(ctx, c.partitions[i])
	}
	c.wg.Add(1)
	go c.reconcileLoop(ctx)
	common.Logger().Info("correlate: started", "workers", cfg.Workers, "link_window", cfg.LinkWindow)
	return c
}

// Observe implements the ingestion sink. It never blocks the caller:
// when a partition is saturated the event is skipped and left to the
// reconciliation pass.
func (c *Correlator) Observe(ctx context.Context, event ingest.Event) {
	idx := partition(event.Workspace, len(c.partitions))
	select {
	case c.partitions[idx] <- event:
	default:
		common.Logger().Warn("correlate: partition saturated, deferring to reconciliation", "workspace", event.Workspace, "id", event.ID)
	}
}

// Events exposes the correlated fanout. Sends are non-blocking; a slow
// consumer misses notifications but never stalls correlation.
func (c *Correlator) Events() <-chan Notification {
	return c.notify
}

func (c *Correlator) Close() {
	c.once.Do(func() {
		c.cancel()
		for _, p := range c.partitions {
			close(p)
		}
		c.wg.Wait()
		close(c.notify)
	})
}

func partition(workspace string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(model.NormalizeWorkspace(workspace)))
	return int(h.Sum32() % uint32(n))
}

func (c *Correlator) worker(ctx context.Context, events <-chan ingest.Event) {
	defer c.wg.Done()
	states := make(map[string]*wsState)
	for event := range events {
		ws := model.NormalizeWorkspace(event.Workspace)
		state := states[ws]
		if state == nil {
			state = &wsState{}
			states[ws] = state
		}
		linked := c.apply(ctx, state, event)
		c.emit(Notification{Kind: event.Kind, ID: event.ID, Workspace: ws, Timestamp: event.Timestamp, Linked: linked})
	}
}

func (c *Correlator) apply(ctx context.Context, state *wsState, event ingest.Event) bool {
	switch rec := event.Record.(type) {
	case model.Prompt:
		return c.applyPrompt(ctx, state, rec, "")
	case model.ConversationTurn:
		// A turn is a prompt row with extra metadata; it opens the link
		// window under the same id, so prompt_id references on later
		// edits resolve to the turn.
		return c.applyPrompt(ctx, state, rec.Prompt, rec.Title)
	case model.Entry:
		return c.applyEntry(ctx, state, rec)
	case model.TerminalCommand:
		return c.applyTerminal(ctx, state, rec)
	}
	return false
}

func (c *Correlator) applyPrompt(ctx context.Context, state *wsState, prompt model.Prompt, title string) bool {
	// A second prompt closes the previous window unconditionally.
	state.promptID = prompt.ID
	state.promptTS = prompt.Timestamp
	state.deadline = prompt.Timestamp + c.cfg.LinkWindow.Milliseconds()
	state.absorbed = 0
	if prompt.ConversationID != "" {
		err := c.store.UpdateConversationMetadata(ctx, prompt.ConversationID, prompt.WorkspaceID, prompt.WorkspacePath, title, prompt.Timestamp)
		if err != nil {
			common.Logger().Warn("correlate: conversation metadata update failed", "conversation", prompt.ConversationID, "error", err)
		}
	}
	return false
}

func (c *Correlator) applyEntry(ctx context.Context, state *wsState, entry model.Entry) bool {
	defer func() {
		state.lastEdit = entry.ID
		state.lastEditTS = entry.Timestamp
	}()
	if state.promptID == "" {
		return false
	}
	if entry.Timestamp > state.deadline {
		// Window expired; back to idle.
		state.promptID = ""
		return false
	}
	if entry.PromptID != "" || state.absorbed >= c.cfg.MaxAbsorbedEdits {
		return false
	}
	logger := common.Logger()
	if err := c.store.UpdateEntryLink(ctx, entry.ID, state.promptID); err != nil {
		logger.Warn("correlate: entry link failed", "entry", entry.ID, "error", err)
		return false
	}
	if err := c.store.UpdatePromptLink(ctx, state.promptID, entry.ID); err != nil {
		logger.Warn("correlate: prompt link failed", "prompt", state.promptID, "error", err)
	}
	state.absorbed++
	telemetry.RecordCorrelatorLink("prompt_to_code")
	logger.Debug("correlate: linked edit to prompt", "entry", entry.ID, "prompt", state.promptID)
	return true
}

func (c *Correlator) applyTerminal(ctx context.Context, state *wsState, cmd model.TerminalCommand) bool {
	window := c.cfg.TerminalWindow.Milliseconds()
	promptGap := int64(-1)
	if state.promptID != "" && cmd.Timestamp >= state.promptTS && cmd.Timestamp-state.promptTS <= window {
		promptGap = cmd.Timestamp - state.promptTS
	}
	editGap := int64(-1)
	if state.lastEdit != "" && cmd.Timestamp >= state.lastEditTS && cmd.Timestamp-state.lastEditTS <= window {
		editGap = cmd.Timestamp - state.lastEditTS
	}
	if promptGap < 0 && editGap < 0 {
		return false
	}
	// Tie-break toward the closer timestamp.
	promptID, entryID := "", ""
	switch {
	case promptGap >= 0 && (editGap < 0 || promptGap < editGap):
		promptID = state.promptID
	default:
		entryID = state.lastEdit
	}
	if err := c.store.UpdateTerminalLinks(ctx, cmd.ID, promptID, entryID); err != nil {
		common.Logger().Warn("correlate: terminal link failed", "command", cmd.ID, "error", err)
		return false
	}
	telemetry.RecordCorrelatorLink("terminal")
	return true
}

func (c *Correlator) emit(n Notification) {
	select {
	case c.notify <- n:
	default:
	}
}

func (c *Correlator) reconcileLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Reconcile(ctx); err != nil && ctx.Err() == nil {
				common.Logger().Warn("correlate: reconciliation pass failed", "error", err)
			}
		}
	}
}

// Reconcile re-runs correlation over unlinked entries older than the
// link window but inside the horizon. Correlation failures during live
// ingestion leave records persisted but unlinked; this pass picks them
// up.
func (c *Correlator) Reconcile(ctx context.Context) error {
	now := time.Now().UnixMilli()
	horizonStart := now - c.cfg.ReconcileHorizon.Milliseconds()
	deadline := now - c.cfg.LinkWindow.Milliseconds()
	entries, err := c.store.UnlinkedEntries(ctx, horizonStart, deadline, 500)
	if err != nil {
		return err
	}
	linked := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		prompt, ok, err := c.candidatePrompt(ctx, entry)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := c.store.UpdateEntryLink(ctx, entry.ID, prompt.ID); err != nil {
			common.Logger().Warn("correlate: reconcile link failed", "entry", entry.ID, "error", err)
			continue
		}
		if err := c.store.UpdatePromptLink(ctx, prompt.ID, entry.ID); err != nil {
			common.Logger().Warn("correlate: reconcile prompt link failed", "prompt", prompt.ID, "error", err)
		}
		telemetry.RecordCorrelatorLink("reconciled")
		linked++
	}
	telemetry.RecordReconcilePass()
	if linked > 0 {
		common.Logger().Info("correlate: reconciliation pass linked entries", "linked", linked, "scanned", len(entries))
	}
	return nil
}

// candidatePrompt finds the latest prompt inside the link window
// preceding the entry, in a matching workspace.
func (c *Correlator) candidatePrompt(ctx context.Context, entry model.Entry) (model.Prompt, bool, error) {
	since := entry.Timestamp - c.cfg.LinkWindow.Milliseconds()
	prompts, err := c.store.PromptsInRange(ctx, since, entry.Timestamp, 50)
	if err != nil {
		return model.Prompt{}, false, err
	}
	// PromptsInRange is descending; the first workspace match wins.
	for _, prompt := range prompts {
		if model.WorkspaceMatches(prompt.WorkspacePath, entry.WorkspacePath) {
			return prompt, true, nil
		}
	}
	return model.Prompt{}, false, nil
}
