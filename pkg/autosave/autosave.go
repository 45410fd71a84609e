// Package autosave persists an open workflow after edits settle, and refuses saves that would replace
// a larger saved graph with the default skeleton.
package autosave

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/apiflow/pkg/eventbus"
	"github.com/dukex/apiflow/pkg/events"
	"github.com/dukex/apiflow/pkg/models"
	"github.com/jonboulle/clockwork"
)

// DefaultDelay is the quiet period after the last change before an automatic save.
const DefaultDelay = 700 * time.Millisecond

var (
	ErrDestructiveSave = errors.New("refusing to replace a saved workflow with the default skeleton")
	ErrClosed          = errors.New("autosave controller is closed")
	ErrNotHydrated     = errors.New("workflow has not been loaded yet")
)

// Saver builds and writes the workflow document.
type Saver interface {
	Payload() models.WorkflowDocument
	Save(ctx context.Context, doc models.WorkflowDocument, silent bool) error
}

// DirtyListener is told whenever the dirty flag flips.
type DirtyListener func(dirty bool)

type Option func(*Controller)

func WithClock(clock clockwork.Clock) Option {
	return func(c *Controller) {
		c.clock = clock
	}
}

func WithDelay(delay time.Duration) Option {
	return func(c *Controller) {
		c.delay = delay
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(c *Controller) {
		c.publisher = publisher
	}
}

// WithEnabled sets the initial auto-save switch. Controllers start enabled.
func WithEnabled(enabled bool) Option {
	return func(c *Controller) {
		c.enabled = enabled
	}
}

// Controller owns the trailing debounce timer of one open workflow.
type Controller struct {
	workflowID string
	saver      Saver
	clock      clockwork.Clock
	delay      time.Duration
	logger     *slog.Logger
	publisher  eventbus.EventPublisher

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	saveMu     sync.Mutex
	enabled    bool
	hydrated   bool
	dirty      bool
	closed     bool
	baseline   models.AutoSaveBaseline
	timer      clockwork.Timer
	generation uint64
	changes    uint64
	blocked    int
	listeners  []DirtyListener
}

func New(workflowID string, saver Saver, opts ...Option) *Controller {
	c := &Controller{
		workflowID: workflowID,
		saver:      saver,
		clock:      clockwork.NewRealClock(),
		delay:      DefaultDelay,
		logger:     slog.Default(),
		publisher:  eventbus.NopPublisher{},
		enabled:    true,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.logger = c.logger.With("module", "autosave", "workflow_id", workflowID)
	c.ctx, c.cancel = context.WithCancel(context.Background())

	return c
}

// CheckDestructiveSave reports whether saving doc over a workflow loaded with baseline must be refused:
// the baseline held more than one node or any edge, and doc is exactly one start node with no edges.
func CheckDestructiveSave(baseline models.AutoSaveBaseline, doc models.WorkflowDocument) bool {
	if baseline.NodeCount <= 1 && baseline.EdgeCount == 0 {
		return false
	}

	return doc.IsDefaultSkeleton()
}

// Subscribe registers a listener for dirty flag changes.
func (c *Controller) Subscribe(listener DirtyListener) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.listeners = append(c.listeners, listener)
}

// SetBaseline records the graph size captured when the workflow finished loading.
func (c *Controller) SetBaseline(baseline models.AutoSaveBaseline) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.baseline = baseline
}

func (c *Controller) Baseline() models.AutoSaveBaseline {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.baseline
}

// MarkHydrated opens the controller to change notifications. Changes made while the initial load is
// still being applied are not edits and are ignored.
func (c *Controller) MarkHydrated() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.hydrated = true
}

func (c *Controller) Hydrated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.hydrated
}

// SetEnabled toggles automatic saving. Disabling drops a pending timer but keeps the dirty flag.
func (c *Controller) SetEnabled(enabled bool) {
	c.mu.Lock()
	c.enabled = enabled
	if !enabled {
		c.stopTimerLocked()
	}
	c.mu.Unlock()

	if enabled && c.Dirty() {
		c.Schedule()
	}
}

func (c *Controller) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.enabled
}

func (c *Controller) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.dirty
}

// BlockedSaves counts the saves refused by the destructive-save guard.
func (c *Controller) BlockedSaves() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.blocked
}

// Pending reports whether a debounce timer is armed.
func (c *Controller) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.timer != nil
}

// NotifyChange records an edit to nodes, edges or variables: the workflow turns dirty at once and the
// debounce timer restarts.
func (c *Controller) NotifyChange() {
	c.mu.Lock()
	if !c.hydrated || c.closed {
		c.mu.Unlock()

		return
	}

	c.changes++
	listeners := c.setDirtyLocked(true)
	c.mu.Unlock()

	notify(listeners, true)
	c.Schedule()
}

// Schedule (re)starts the debounce timer when auto-save is enabled and the workflow has hydrated.
func (c *Controller) Schedule() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.enabled || !c.hydrated || c.closed {
		return
	}

	c.stopTimerLocked()

	generation := c.generation
	c.timer = c.clock.AfterFunc(c.delay, func() {
		c.fire(generation)
	})
}

// Cancel drops the pending timer, if any.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopTimerLocked()
}

// FlushNow cancels the pending timer and saves immediately. A save refused by the guard returns
// ErrDestructiveSave. Before MarkHydrated there is nothing to save and ErrNotHydrated is returned.
func (c *Controller) FlushNow(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()

		return ErrClosed
	}

	if !c.hydrated {
		c.mu.Unlock()

		return ErrNotHydrated
	}
	c.stopTimerLocked()
	c.mu.Unlock()

	return c.save(ctx, false)
}

// Close stops the timer. Later changes are ignored.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.stopTimerLocked()
	c.mu.Unlock()

	c.cancel()
}

func (c *Controller) fire(generation uint64) {
	c.mu.Lock()
	if c.closed || generation != c.generation {
		c.mu.Unlock()

		return
	}
	c.timer = nil
	c.mu.Unlock()

	if err := c.save(c.ctx, true); err != nil && !errors.Is(err, ErrDestructiveSave) {
		c.logger.Error("Auto-save failed", "error", err)
	}
}

func (c *Controller) save(ctx context.Context, silent bool) error {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	doc := c.saver.Payload()

	c.mu.Lock()
	baseline := c.baseline
	changes := c.changes
	if CheckDestructiveSave(baseline, doc) {
		c.blocked++
		c.mu.Unlock()

		c.logger.WarnContext(ctx, "Blocked save of default skeleton over larger workflow",
			"baseline_nodes", baseline.NodeCount,
			"baseline_edges", baseline.EdgeCount)
		c.publish(ctx, events.WorkflowSaveBlocked{
			BaseEvent: events.NewBaseEvent(events.WorkflowSaveBlockedEvent, c.workflowID),
			Baseline:  baseline,
			NodeCount: len(doc.Nodes),
			EdgeCount: len(doc.Edges),
		})

		return ErrDestructiveSave
	}
	c.mu.Unlock()

	if err := c.saver.Save(ctx, doc, silent); err != nil {
		return err
	}

	c.mu.Lock()
	var listeners []DirtyListener
	if c.changes == changes {
		listeners = c.setDirtyLocked(false)
	}
	c.mu.Unlock()

	notify(listeners, false)

	c.logger.DebugContext(ctx, "Workflow saved", "nodes", len(doc.Nodes), "edges", len(doc.Edges), "silent", silent)
	c.publish(ctx, events.WorkflowSaved{
		BaseEvent: events.NewBaseEvent(events.WorkflowSavedEvent, c.workflowID),
		NodeCount: len(doc.Nodes),
		EdgeCount: len(doc.Edges),
		Silent:    silent,
	})

	return nil
}

// setDirtyLocked returns the listeners to notify when the flag flipped.
func (c *Controller) setDirtyLocked(dirty bool) []DirtyListener {
	if c.dirty == dirty {
		return nil
	}

	c.dirty = dirty

	return append([]DirtyListener(nil), c.listeners...)
}

func (c *Controller) stopTimerLocked() {
	c.generation++

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) publish(ctx context.Context, event eventbus.Event) {
	if err := c.publisher.Publish(ctx, c.workflowID, event); err != nil {
		c.logger.WarnContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

func notify(listeners []DirtyListener, dirty bool) {
	for _, listener := range listeners {
		listener(dirty)
	}
}
