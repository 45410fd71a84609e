package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/apiflow/pkg/cmd"
	"github.com/dukex/apiflow/pkg/eventbus"
	"github.com/dukex/apiflow/pkg/events"
	"github.com/dukex/apiflow/pkg/log"
	"github.com/dukex/apiflow/pkg/otelhelper"
	"github.com/dukex/apiflow/pkg/runservice"
	"github.com/dukex/apiflow/pkg/studio"
	cli "github.com/urfave/cli/v3"
)

var errMissingWorkflowID = errors.New("workflow id argument is required")

// workspace is an open studio session plus the infrastructure it was built on.
type workspace struct {
	session  *studio.Session
	eventBus eventbus.EventBus
	closers  []func() error
	logger   *slog.Logger
}

// openWorkspace builds a studio session for the workflow named by the first argument and hydrates it
// from the run service.
func openWorkspace(ctx context.Context, command *cli.Command) (*workspace, error) {
	log.Setup(command.String("log-level"))

	logger := log.WithModule("cli")

	workflowID := command.Args().First()
	if workflowID == "" {
		return nil, errMissingWorkflowID
	}

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), logger)
	if err != nil {
		return nil, err
	}

	ws := &workspace{eventBus: eventBus, logger: logger}
	ws.closers = append(ws.closers, eventBus.Close)

	if err := ws.watchEvents(ctx); err != nil {
		ws.close()

		return nil, err
	}

	store, err := cmd.NewSecretStore(command.String("secret-store"), command.String("session"))
	if err != nil {
		ws.close()

		return nil, err
	}

	if closer, ok := store.(interface{ Close() error }); ok {
		ws.closers = append(ws.closers, closer.Close)
	}

	provided, err := parseSecrets(command.StringSlice("secret"))
	if err != nil {
		ws.close()

		return nil, err
	}

	if len(provided) > 0 {
		if err := store.Put(ctx, provided); err != nil {
			ws.close()

			return nil, fmt.Errorf("failed to store secrets: %w", err)
		}
	}

	opts := []studio.Option{
		studio.WithLogger(logger),
		studio.WithPublisher(eventBus),
		studio.WithSecrets(store),
		studio.WithAutoSave(false),
	}

	if command.Bool("otel") {
		tracer, err := otelhelper.NewTracer(ctx, "apiflow")
		if err != nil {
			ws.close()

			return nil, fmt.Errorf("failed to create tracer: %w", err)
		}

		opts = append(opts, studio.WithTracer(tracer))
	}

	client := runservice.NewClient(command.String("service-url"), logger)
	ws.session = studio.NewSession(workflowID, client, opts...)
	ws.session.SetEnvironment(command.String("environment"))

	if err := ws.session.Open(ctx); err != nil {
		ws.close()

		return nil, err
	}

	return ws, nil
}

// watchEvents logs node progress and settled runs as the runner publishes them.
func (ws *workspace) watchEvents(ctx context.Context) error {
	err := ws.eventBus.Handle(events.RunNodeStatusEvent, func(_ context.Context, event any) error {
		if status, ok := event.(*events.RunNodeStatus); ok {
			ws.logger.Info("Node status changed", "run_id", status.RunID, "node_id", status.NodeID, "status", status.Status)
		}

		return nil
	})
	if err != nil {
		return err
	}

	err = ws.eventBus.Handle(events.RunSettledEvent, func(_ context.Context, event any) error {
		if settled, ok := event.(*events.RunSettled); ok {
			ws.logger.Info("Run settled", "run_id", settled.RunID, "status", settled.Status, "polls", settled.Polls)
		}

		return nil
	})
	if err != nil {
		return err
	}

	return ws.eventBus.Subscribe(ctx)
}

func (ws *workspace) close() {
	if ws.session != nil {
		ws.session.Close()
	}

	for i := len(ws.closers) - 1; i >= 0; i-- {
		if err := ws.closers[i](); err != nil {
			ws.logger.Warn("Failed to release resource", "error", err)
		}
	}
}

// parseSecrets turns repeated key=value flags into a map. Keys must be non-empty.
func parseSecrets(pairs []string) (map[string]string, error) {
	values := make(map[string]string, len(pairs))

	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)

		if !found || key == "" {
			return nil, fmt.Errorf("invalid secret %q, expected key=value", pair)
		}

		values[key] = value
	}

	return values, nil
}
