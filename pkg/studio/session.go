// Package studio wires the graph store, variable registry, auto-save and run controllers of one open
// workflow together.
package studio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukex/apiflow/pkg/autosave"
	"github.com/dukex/apiflow/pkg/eventbus"
	"github.com/dukex/apiflow/pkg/graph"
	"github.com/dukex/apiflow/pkg/models"
	"github.com/dukex/apiflow/pkg/palette"
	"github.com/dukex/apiflow/pkg/runner"
	"github.com/dukex/apiflow/pkg/runservice"
	"github.com/dukex/apiflow/pkg/secrets"
	"github.com/dukex/apiflow/pkg/variables"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/trace"
)

// Service is the run service as seen by a studio session.
type Service interface {
	runner.RunService
	GetWorkflow(ctx context.Context, workflowID string) (*models.WorkflowDocument, error)
	SaveWorkflow(ctx context.Context, workflowID string, doc models.WorkflowDocument) error
}

type options struct {
	logger    *slog.Logger
	clock     clockwork.Clock
	tracer    trace.Tracer
	publisher eventbus.EventPublisher
	secrets   secrets.Store
	autoSave  bool
	newID     models.IDGenerator
}

type Option func(*options)

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		o.tracer = tracer
	}
}

func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(o *options) {
		o.publisher = publisher
	}
}

func WithSecrets(store secrets.Store) Option {
	return func(o *options) {
		o.secrets = store
	}
}

// WithAutoSave switches automatic saving on or off. It is on by default.
func WithAutoSave(enabled bool) Option {
	return func(o *options) {
		o.autoSave = enabled
	}
}

func WithIDGenerator(newID models.IDGenerator) Option {
	return func(o *options) {
		o.newID = newID
	}
}

// Session is one open workflow. The store owns nodes and edges, the registry owns variables, the
// runner writes execution fields back into the store and auto-save persists edits.
type Session struct {
	workflowID string
	service    Service
	logger     *slog.Logger

	store    *graph.Store
	registry *variables.Registry
	autosave *autosave.Controller
	runner   *runner.Controller
	palette  *palette.Handler

	mu          sync.Mutex
	closed      bool
	unsubscribe func()
}

func NewSession(workflowID string, service Service, opts ...Option) *Session {
	o := options{
		logger:    slog.Default(),
		clock:     clockwork.NewRealClock(),
		publisher: eventbus.NopPublisher{},
		secrets:   secrets.NewMemoryStore(),
		autoSave:  true,
		newID:     models.NewID,
	}

	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger.With("module", "studio", "workflow_id", workflowID)

	s := &Session{
		workflowID: workflowID,
		service:    service,
		logger:     logger,
		store:      graph.NewStore(graph.WithIDGenerator(o.newID), graph.WithLogger(o.logger)),
		registry:   variables.NewRegistry(o.logger),
		palette:    palette.NewHandler(o.newID, o.logger),
	}

	s.autosave = autosave.New(workflowID, documentSaver{session: s},
		autosave.WithClock(o.clock),
		autosave.WithLogger(o.logger),
		autosave.WithPublisher(o.publisher),
		autosave.WithEnabled(o.autoSave),
	)

	runnerOpts := []runner.Option{
		runner.WithClock(o.clock),
		runner.WithLogger(o.logger),
		runner.WithPublisher(o.publisher),
		runner.WithSecrets(o.secrets),
	}
	if o.tracer != nil {
		runnerOpts = append(runnerOpts, runner.WithTracer(o.tracer))
	}

	s.runner = runner.New(workflowID, service, s.store, runnerOpts...)

	s.unsubscribe = s.store.Subscribe(s.onGraphChange)
	s.registry.Subscribe(s.onVariablesChange)

	return s
}

func (s *Session) onGraphChange(change graph.Change) {
	if change.Kind == graph.ChangeNodes {
		s.registry.RegisterExtractors(variables.CollectExtractors(s.store.Nodes()))
	}

	if change.Structural() {
		s.autosave.NotifyChange()
	}
}

func (s *Session) onVariablesChange(models.VariableMap) {
	s.autosave.NotifyChange()
}

func (s *Session) WorkflowID() string {
	return s.workflowID
}

func (s *Session) Store() *graph.Store {
	return s.store
}

func (s *Session) Variables() *variables.Registry {
	return s.registry
}

func (s *Session) Runner() *runner.Controller {
	return s.runner
}

func (s *Session) AutoSave() *autosave.Controller {
	return s.autosave
}

// Open hydrates the session from the run service. A workflow the service does not know starts from
// the default document.
func (s *Session) Open(ctx context.Context) error {
	if s.workflowID == "" {
		return ErrNoWorkflowID
	}

	doc, err := s.service.GetWorkflow(ctx, s.workflowID)
	if runservice.IsNotFound(err) {
		s.logger.InfoContext(ctx, "Workflow not saved yet, starting from the default document")

		return s.Load(DefaultDocument())
	}

	if err != nil {
		return fmt.Errorf("failed to open workflow %s: %w", s.workflowID, err)
	}

	return s.Load(*doc)
}

// Load replaces the graph and variables with doc, captures the auto-save baseline and marks the
// session hydrated. Changes before the first Load do not count as edits.
func (s *Session) Load(doc models.WorkflowDocument) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	nodes, edges := doc.Graph()
	if err := s.store.Replace(nodes, edges); err != nil {
		return fmt.Errorf("failed to load workflow: %w", err)
	}

	s.registry.Load(doc.Variables, variables.CollectExtractors(s.store.Nodes()))
	s.autosave.SetBaseline(doc.Baseline())
	s.autosave.MarkHydrated()

	s.logger.Info("Workflow loaded", "nodes", len(doc.Nodes), "edges", len(doc.Edges))

	return nil
}

// ApplyGraphJSON replaces the graph with an externally edited JSON document. A rejected document
// returns an *ApplyError and leaves the session untouched.
func (s *Session) ApplyGraphJSON(raw []byte) error {
	doc, err := ParseDocument(raw)
	if err != nil {
		return err
	}

	return s.apply(doc)
}

// ApplyGraphYAML is ApplyGraphJSON for YAML documents.
func (s *Session) ApplyGraphYAML(raw []byte) error {
	doc, err := ParseDocumentYAML(raw)
	if err != nil {
		return err
	}

	return s.apply(doc)
}

func (s *Session) apply(doc models.WorkflowDocument) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	nodes, edges := doc.Graph()
	if err := s.store.Replace(nodes, edges); err != nil {
		return &ApplyError{Issues: []Issue{{Message: err.Error()}}}
	}

	s.registry.Load(doc.Variables, variables.CollectExtractors(s.store.Nodes()))
	s.autosave.NotifyChange()

	return nil
}

// Drop adds the node built from a palette drop to the graph.
func (s *Session) Drop(payload palette.DragPayload, position models.Position) (*models.Node, error) {
	node, err := s.palette.OnDrop(payload, position)
	if err != nil {
		return nil, err
	}

	if err := s.store.AddNode(node); err != nil {
		return nil, err
	}

	return node, nil
}

func (s *Session) SetVariable(name, value string) {
	s.registry.Set(name, value)
}

// DeleteVariables removes variables and strips the extractors declaring them from every node.
func (s *Session) DeleteVariables(names ...string) {
	s.registry.DeleteVariablesWithCleanup(names, s.store)
}

// Run validates and triggers the workflow.
func (s *Session) Run(ctx context.Context) error {
	return s.runner.RunWorkflow(ctx)
}

// SetEnvironment selects the environment whose declared secrets gate the next run.
func (s *Session) SetEnvironment(environmentID string) {
	s.runner.SetEnvironment(environmentID)
}

// Save writes the current document immediately.
func (s *Session) Save(ctx context.Context) error {
	return s.autosave.FlushNow(ctx)
}

// Document returns the persisted form of the current graph and variables.
func (s *Session) Document() models.WorkflowDocument {
	nodes, edges := s.store.Snapshot()

	return models.NewDocument(nodes, edges, s.registry.Variables())
}

// Close stops the auto-save and polling timers and detaches from the store.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()

		return
	}
	s.closed = true
	s.mu.Unlock()

	s.unsubscribe()
	s.autosave.Close()
	s.runner.Close()
}

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}

	return nil
}

type documentSaver struct {
	session *Session
}

func (d documentSaver) Payload() models.WorkflowDocument {
	return d.session.Document()
}

func (d documentSaver) Save(ctx context.Context, doc models.WorkflowDocument, silent bool) error {
	if d.session.workflowID == "" {
		return ErrNoWorkflowID
	}

	if err := d.session.service.SaveWorkflow(ctx, d.session.workflowID, doc); err != nil {
		return fmt.Errorf("failed to save workflow %s: %w", d.session.workflowID, err)
	}

	if !silent {
		d.session.logger.InfoContext(ctx, "Workflow saved", "nodes", len(doc.Nodes), "edges", len(doc.Edges))
	}

	return nil
}
