// Package runner drives a workflow run on the remote run service: pre-flight validation, secret gating,
// trigger, adaptive polling, resume from failed nodes and historical run loading.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/dukex/apiflow/pkg/eventbus"
	"github.com/dukex/apiflow/pkg/events"
	"github.com/dukex/apiflow/pkg/models"
	"github.com/dukex/apiflow/pkg/otelhelper"
	"github.com/dukex/apiflow/pkg/runservice"
	"github.com/dukex/apiflow/pkg/secrets"
	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	FastPollInterval = 100 * time.Millisecond
	SlowPollInterval = time.Second
	// FastPollAttempts is the number of polls made at the fast interval before slowing down.
	FastPollAttempts = 20
	// InvalidMarkerTTL is how long nodes that failed validation stay flagged.
	InvalidMarkerTTL = 6 * time.Second
)

// State is the run life cycle state.
type State string

const (
	StateIdle            State = "idle"
	StateValidating      State = "validating"
	StateAwaitingSecrets State = "awaiting-secrets"
	StateTriggered       State = "triggered"
	StatePollingFast     State = "polling-fast"
	StatePollingSlow     State = "polling-slow"
	StateSettled         State = "settled"
)

// RunService is the part of the run service the controller drives.
type RunService interface {
	TriggerRun(ctx context.Context, workflowID string, req runservice.RunRequest) (string, error)
	GetRun(ctx context.Context, workflowID, runID string) (*models.RunSession, error)
	LatestFailedRun(ctx context.Context, workflowID string) (*models.LatestFailedRun, error)
	GetEnvironment(ctx context.Context, environmentID string) (*models.Environment, error)
}

// Graph is the node state the controller reads and writes execution fields into.
type Graph interface {
	Nodes() []*models.Node
	ClearExecution() bool
	ApplyNodeStatuses(statuses map[string]models.NodeRunStatus) bool
	SetInvalid(ids []string, invalid bool)
}

// Status is a snapshot of the controller delivered to listeners.
type Status struct {
	State     State
	Running   bool
	RunID     string
	RunStatus models.RunStatus
	Polls     int
}

type Listener func(Status)

type pendingRun struct {
	resume *models.ResumeRequest
}

type poller struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Controller.
type Option func(*Controller)

func WithClock(clock clockwork.Clock) Option {
	return func(c *Controller) {
		c.clock = clock
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(c *Controller) {
		c.tracer = tracer
	}
}

func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(c *Controller) {
		c.publisher = publisher
	}
}

func WithSecrets(store secrets.Store) Option {
	return func(c *Controller) {
		c.secrets = store
	}
}

func WithEnvironment(environmentID string) Option {
	return func(c *Controller) {
		c.environmentID = environmentID
	}
}

// Controller owns the run state of one open workflow. It writes only execution and invalid fields of
// the graph.
type Controller struct {
	workflowID string
	service    RunService
	graph      Graph
	secrets    secrets.Store
	clock      clockwork.Clock
	logger     *slog.Logger
	tracer     trace.Tracer
	publisher  eventbus.EventPublisher
	validate   *validator.Validate

	mu            sync.Mutex
	environmentID string
	state         State
	running       bool
	runID         string
	runStatus     models.RunStatus
	polls         int
	latestFailed  *models.LatestFailedRun
	pending       *pendingRun
	poller        *poller
	invalidIDs    []string
	invalidTimer  clockwork.Timer
	listeners     []Listener
	closed        bool
}

// New creates a controller for workflowID. An empty id makes every run fail with ErrMissingWorkflow.
func New(workflowID string, service RunService, graph Graph, opts ...Option) *Controller {
	c := &Controller{
		workflowID: workflowID,
		service:    service,
		graph:      graph,
		secrets:    secrets.NewMemoryStore(),
		clock:      clockwork.NewRealClock(),
		logger:     slog.Default(),
		tracer:     otelhelper.NoopTracer(),
		publisher:  eventbus.NopPublisher{},
		validate:   validator.New(),
		state:      StateIdle,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.logger = c.logger.With("module", "runner", "workflow_id", workflowID)

	return c
}

// Subscribe registers a listener for state changes.
func (c *Controller) Subscribe(listener Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.listeners = append(c.listeners, listener)
}

// Status returns the current controller snapshot.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.statusLocked()
}

func (c *Controller) State() State {
	return c.Status().State
}

func (c *Controller) IsRunning() bool {
	return c.Status().Running
}

func (c *Controller) RunID() string {
	return c.Status().RunID
}

// SetEnvironment selects the environment used by the next run.
func (c *Controller) SetEnvironment(environmentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.environmentID = environmentID
}

func (c *Controller) statusLocked() Status {
	return Status{
		State:     c.state,
		Running:   c.running,
		RunID:     c.runID,
		RunStatus: c.runStatus,
		Polls:     c.polls,
	}
}

// update applies fn under the lock and notifies listeners after releasing it.
func (c *Controller) update(fn func()) {
	_ = c.tryUpdate(func() error {
		fn()

		return nil
	})
}

// tryUpdate is update for changes that may be refused; listeners are not notified on error.
func (c *Controller) tryUpdate(fn func() error) error {
	c.mu.Lock()

	if err := fn(); err != nil {
		c.mu.Unlock()

		return err
	}

	status := c.statusLocked()
	listeners := slices.Clone(c.listeners)
	c.mu.Unlock()

	for _, listener := range listeners {
		listener(status)
	}

	return nil
}

// RunWorkflow validates the graph and triggers a fresh run. It returns once the run service accepted
// the run; polling continues in the background until the run settles.
func (c *Controller) RunWorkflow(ctx context.Context) error {
	return c.start(ctx, nil)
}

// RunFromFailedNodes triggers a run resuming sourceRunID from nodeIDs. Mode single takes exactly one
// node; all-failed takes the whole failed set.
func (c *Controller) RunFromFailedNodes(ctx context.Context, nodeIDs []string, sourceRunID string, mode models.ResumeMode) error {
	resume := &models.ResumeRequest{
		Mode:         mode,
		SourceRunID:  sourceRunID,
		StartNodeIDs: slices.Clone(nodeIDs),
	}

	if err := c.validate.Struct(resume); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidResume, err)
	}

	if mode == models.ResumeModeSingle && len(nodeIDs) != 1 {
		return fmt.Errorf("%w: single mode resumes exactly one node, got %d", ErrInvalidResume, len(nodeIDs))
	}

	return c.start(ctx, resume)
}

// ResumeLatestFailed resumes the latest failed run. Mode single restarts from its first failed node.
func (c *Controller) ResumeLatestFailed(ctx context.Context, mode models.ResumeMode) error {
	latest, err := c.RefreshLatestFailedRun(ctx)
	if err != nil {
		return err
	}

	if !latest.HasFailedRun || len(latest.FailedNodes) == 0 {
		return ErrNoFailedRun
	}

	nodeIDs := make([]string, 0, len(latest.FailedNodes))
	for _, node := range latest.FailedNodes {
		nodeIDs = append(nodeIDs, node.NodeID)
	}

	if mode == models.ResumeModeSingle {
		nodeIDs = nodeIDs[:1]
	}

	return c.RunFromFailedNodes(ctx, nodeIDs, latest.RunID, mode)
}

func (c *Controller) start(ctx context.Context, resume *models.ResumeRequest) error {
	if c.workflowID == "" {
		return ErrMissingWorkflow
	}

	err := c.tryUpdate(func() error {
		switch {
		case c.closed:
			return ErrClosed
		case c.running:
			return ErrRunInProgress
		}

		c.running = true
		c.pending = nil
		c.state = StateValidating

		return nil
	})
	if err != nil {
		return err
	}

	if err := c.checkGraph(ctx); err != nil {
		c.reset(StateIdle)

		return err
	}

	values, err := c.gateSecrets(ctx)
	if err != nil {
		var missingErr *MissingSecretsError
		if errors.As(err, &missingErr) {
			c.update(func() {
				c.running = false
				c.pending = &pendingRun{resume: resume}
				c.state = StateAwaitingSecrets
			})

			c.logger.InfoContext(ctx, "Run waiting for secrets", "missing", missingErr.Keys)

			return err
		}

		c.reset(StateIdle)

		return err
	}

	return c.trigger(ctx, values, resume)
}

func (c *Controller) reset(state State) {
	c.update(func() {
		c.running = false
		c.state = state
	})
}

// checkGraph runs the assertion gate and flags offending nodes for InvalidMarkerTTL.
func (c *Controller) checkGraph(ctx context.Context) error {
	err := ValidateAssertions(c.graph.Nodes())
	if err == nil {
		return nil
	}

	validationErr, _ := err.(*ValidationError)
	c.markInvalid(validationErr.NodeIDs())

	c.logger.WarnContext(ctx, "Run blocked by invalid assertions", "error", err)
	c.publish(ctx, events.RunValidationFailed{
		BaseEvent:  events.NewBaseEvent(events.RunValidationFailedEvent, c.workflowID),
		Violations: validationErr.Violations,
	})

	return err
}

func (c *Controller) markInvalid(ids []string) {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()

		return
	}

	if c.invalidTimer != nil {
		c.invalidTimer.Stop()
	}

	previous := c.invalidIDs
	c.invalidIDs = ids
	c.invalidTimer = c.clock.AfterFunc(InvalidMarkerTTL, func() {
		c.mu.Lock()
		expired := c.invalidIDs
		c.invalidIDs = nil
		c.invalidTimer = nil
		c.mu.Unlock()

		c.graph.SetInvalid(expired, false)
	})
	c.mu.Unlock()

	if len(previous) > 0 {
		c.graph.SetInvalid(previous, false)
	}

	c.graph.SetInvalid(ids, true)
}

// gateSecrets returns the session values of the environment's declared secret keys, or a
// *MissingSecretsError when some are absent.
func (c *Controller) gateSecrets(ctx context.Context) (map[string]any, error) {
	c.mu.Lock()
	environmentID := c.environmentID
	c.mu.Unlock()

	if environmentID == "" {
		return nil, nil
	}

	env, err := c.service.GetEnvironment(ctx, environmentID)
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to load environment", "environment_id", environmentID, "error", err)

		return nil, fmt.Errorf("failed to load environment %s: %w", environmentID, err)
	}

	keys := env.SecretKeys()
	if len(keys) == 0 {
		return nil, nil
	}

	missing, err := secrets.Missing(ctx, c.secrets, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to read session secrets: %w", err)
	}

	if len(missing) > 0 {
		return nil, &MissingSecretsError{EnvironmentID: environmentID, Keys: missing}
	}

	found, err := c.secrets.Lookup(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to read session secrets: %w", err)
	}

	values := make(map[string]any, len(found))
	for key, value := range found {
		values[key] = value
	}

	return values, nil
}

// ProvideSecrets stores secrets in the session store and resumes the run waiting for them.
func (c *Controller) ProvideSecrets(ctx context.Context, values map[string]string) error {
	if err := c.secrets.Put(ctx, values); err != nil {
		return fmt.Errorf("failed to store secrets: %w", err)
	}

	c.mu.Lock()
	pending := c.pending
	c.mu.Unlock()

	if pending == nil {
		return ErrNoPendingRun
	}

	return c.start(ctx, pending.resume)
}

// CancelPendingRun silently drops a run waiting for secrets.
func (c *Controller) CancelPendingRun() {
	c.update(func() {
		if c.pending == nil {
			return
		}

		c.pending = nil
		c.state = StateIdle
	})
}

func (c *Controller) trigger(ctx context.Context, secretValues map[string]any, resume *models.ResumeRequest) error {
	c.mu.Lock()
	environmentID := c.environmentID
	c.mu.Unlock()

	attrs := []attribute.KeyValue{
		attribute.String(otelhelper.WorkflowIDKey, c.workflowID),
		attribute.String(otelhelper.EnvironmentIDKey, environmentID),
		attribute.Int(otelhelper.NodeCountKey, len(c.graph.Nodes())),
	}
	if resume != nil {
		attrs = append(attrs, attribute.String(otelhelper.ResumeModeKey, string(resume.Mode)))
	}

	ctx, span := otelhelper.StartSpan(ctx, c.tracer, "runner.trigger", attrs...)
	defer span.End()

	err := c.tryUpdate(func() error {
		if c.closed {
			c.running = false
			c.state = StateIdle

			return ErrClosed
		}

		c.state = StateTriggered
		c.runStatus = ""
		c.polls = 0

		return nil
	})
	if err != nil {
		return err
	}

	c.graph.ClearExecution()

	runID, err := c.service.TriggerRun(ctx, c.workflowID, runservice.RunRequest{
		EnvironmentID: environmentID,
		Secrets:       secretValues,
		Resume:        resume,
	})
	if err != nil {
		otelhelper.SetError(span, err)
		c.logger.ErrorContext(ctx, "Failed to trigger run", "error", err)
		c.reset(StateIdle)

		return fmt.Errorf("failed to trigger run: %w", err)
	}

	span.SetAttributes(attribute.String(otelhelper.RunIDKey, runID))

	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p := &poller{cancel: cancel, done: make(chan struct{})}

	// Close may have run while the trigger request was in flight.
	err = c.tryUpdate(func() error {
		if c.closed {
			c.running = false
			c.state = StateIdle

			return ErrClosed
		}

		c.runID = runID
		c.runStatus = models.RunStatusRunning
		c.state = StatePollingFast
		c.poller = p

		return nil
	})
	if err != nil {
		cancel()
		c.logger.WarnContext(ctx, "Run triggered after close, not polling", "run_id", runID)

		return err
	}

	c.logger.InfoContext(ctx, "Run triggered", "run_id", runID, "environment_id", environmentID)
	c.publish(ctx, events.RunTriggered{
		BaseEvent:     events.NewBaseEvent(events.RunTriggeredEvent, c.workflowID),
		RunID:         runID,
		EnvironmentID: environmentID,
		Resume:        resume,
	})

	go c.poll(pollCtx, runID, p.done)

	return nil
}

// poll fetches the run status FastPollAttempts times at FastPollInterval, then at SlowPollInterval,
// until the run reports a terminal status. Failed polls are logged and do not stop the loop.
func (c *Controller) poll(ctx context.Context, runID string, done chan struct{}) {
	defer close(done)

	started := c.clock.Now()
	seen := map[string]models.ExecutionStatus{}

	for attempt := 0; ; attempt++ {
		interval := FastPollInterval
		if attempt >= FastPollAttempts {
			interval = SlowPollInterval
		}

		select {
		case <-ctx.Done():
			return
		case <-c.clock.After(interval):
		}

		session, err := c.pollOnce(ctx, runID, attempt+1)
		if ctx.Err() != nil {
			return
		}

		c.update(func() {
			c.polls = attempt + 1
			if attempt+1 == FastPollAttempts && c.state == StatePollingFast {
				c.state = StatePollingSlow
			}
		})

		if err != nil {
			c.logger.WarnContext(ctx, "Poll failed", "run_id", runID, "attempt", attempt+1, "error", err)

			continue
		}

		c.publishNodeChanges(ctx, runID, session.NodeStatuses, seen)

		if session.Status.Terminal() {
			c.settle(ctx, runID, session, attempt+1, c.clock.Since(started))

			return
		}
	}
}

func (c *Controller) pollOnce(ctx context.Context, runID string, attempt int) (*models.RunSession, error) {
	ctx, span := otelhelper.StartSpan(ctx, c.tracer, "runner.poll",
		attribute.String(otelhelper.WorkflowIDKey, c.workflowID),
		attribute.String(otelhelper.RunIDKey, runID),
		attribute.Int(otelhelper.PollAttemptKey, attempt),
	)
	defer span.End()

	session, err := c.service.GetRun(ctx, c.workflowID, runID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	span.SetAttributes(attribute.String(otelhelper.RunStatusKey, string(session.Status)))

	if len(session.NodeStatuses) > 0 {
		c.graph.ApplyNodeStatuses(session.NodeStatuses)
	}

	return session, nil
}

func (c *Controller) publishNodeChanges(ctx context.Context, runID string, statuses map[string]models.NodeRunStatus, seen map[string]models.ExecutionStatus) {
	for _, nodeID := range slices.Sorted(maps.Keys(statuses)) {
		status := statuses[nodeID]
		if seen[nodeID] == status.Status {
			continue
		}

		seen[nodeID] = status.Status
		c.publish(ctx, events.RunNodeStatus{
			BaseEvent:     events.NewBaseEvent(events.RunNodeStatusEvent, c.workflowID),
			RunID:         runID,
			NodeID:        nodeID,
			Status:        status.Status,
			NodeTimestamp: status.Timestamp,
		})
	}
}

func (c *Controller) settle(ctx context.Context, runID string, session *models.RunSession, polls int, elapsed time.Duration) {
	c.update(func() {
		c.running = false
		c.state = StateSettled
		c.runStatus = session.Status
	})

	var failed []string

	for _, nodeID := range slices.Sorted(maps.Keys(session.NodeStatuses)) {
		if session.NodeStatuses[nodeID].Status == models.ExecutionStatusError {
			failed = append(failed, nodeID)
		}
	}

	c.logger.InfoContext(ctx, "Run settled", "run_id", runID, "status", session.Status, "polls", polls, "failed_nodes", failed)
	c.publish(ctx, events.RunSettled{
		BaseEvent:   events.NewBaseEvent(events.RunSettledEvent, c.workflowID),
		RunID:       runID,
		Status:      session.Status,
		Polls:       polls,
		Duration:    elapsed,
		FailedNodes: failed,
	})

	if _, err := c.RefreshLatestFailedRun(ctx); err != nil {
		c.logger.WarnContext(ctx, "Failed to refresh latest failed run", "error", err)
	}
}

// RefreshLatestFailedRun queries the most recent failed run and caches it.
func (c *Controller) RefreshLatestFailedRun(ctx context.Context) (*models.LatestFailedRun, error) {
	if c.workflowID == "" {
		return nil, ErrMissingWorkflow
	}

	latest, err := c.service.LatestFailedRun(ctx, c.workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest failed run: %w", err)
	}

	c.mu.Lock()
	c.latestFailed = latest
	c.mu.Unlock()

	return latest, nil
}

// LatestFailedRun returns the cached latest failed run, nil before the first refresh.
func (c *Controller) LatestFailedRun() *models.LatestFailedRun {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.latestFailed
}

// LoadHistoricalRun applies the node statuses of a past run to the graph. The running state is not
// touched, so it may overlap a live run; the last write wins per node.
func (c *Controller) LoadHistoricalRun(ctx context.Context, runID string) (*models.RunSession, error) {
	if c.workflowID == "" {
		return nil, ErrMissingWorkflow
	}

	session, err := c.service.GetRun(ctx, c.workflowID, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}

	c.graph.ApplyNodeStatuses(session.NodeStatuses)
	c.logger.InfoContext(ctx, "Historical run loaded", "run_id", runID, "status", session.Status)

	return session, nil
}

// Wait blocks until the current poll loop has exited or ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	p := c.poller
	c.mu.Unlock()

	if p == nil {
		return nil
	}

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops polling and pending timers. The controller rejects runs afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.pending = nil
	p := c.poller
	c.poller = nil

	if c.invalidTimer != nil {
		c.invalidTimer.Stop()
		c.invalidTimer = nil
	}

	invalid := c.invalidIDs
	c.invalidIDs = nil
	c.mu.Unlock()

	if p != nil {
		p.cancel()
		<-p.done
	}

	if len(invalid) > 0 {
		c.graph.SetInvalid(invalid, false)
	}

	c.reset(StateIdle)
}

func (c *Controller) publish(ctx context.Context, event eventbus.Event) {
	if err := c.publisher.Publish(ctx, c.workflowID, event); err != nil {
		c.logger.WarnContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}
