package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/dukex/apiflow/pkg/runner"
	"github.com/robfig/cron/v3"
	cli "github.com/urfave/cli/v3"
)

// Runnable starts a workflow run without waiting for it to settle.
type Runnable interface {
	Run(ctx context.Context) error
}

// Scheduler triggers a workflow run on a cron schedule. A tick that finds the previous run still
// in flight is skipped.
type Scheduler struct {
	workflow Runnable
	logger   *slog.Logger
	cron     *cron.Cron
}

func NewScheduler(cronExpr string, workflow Runnable, logger *slog.Logger) (*Scheduler, error) {
	if _, err := cron.ParseStandard(cronExpr); err != nil {
		return nil, fmt.Errorf("invalid cron expression '%s': %w", cronExpr, err)
	}

	s := &Scheduler{
		workflow: workflow,
		logger:   logger.With("module", "scheduler"),
		cron:     cron.New(),
	}

	if _, err := s.cron.AddFunc(cronExpr, s.tick); err != nil {
		return nil, fmt.Errorf("failed to add cron job: %w", err)
	}

	return s, nil
}

// Start runs the schedule until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.InfoContext(ctx, "Starting scheduler")
	s.cron.Start()

	<-ctx.Done()

	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) tick() {
	ctx := context.Background()

	err := s.workflow.Run(ctx)

	switch {
	case err == nil:
		s.logger.InfoContext(ctx, "Scheduled run triggered")
	case errors.Is(err, runner.ErrRunInProgress):
		s.logger.InfoContext(ctx, "Previous run still in progress, skipping")
	default:
		s.logger.ErrorContext(ctx, "Scheduled run failed to start", "error", err)
	}
}

func scheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "schedule",
		Usage:     "Run a workflow on a cron schedule until interrupted",
		ArgsUsage: "WORKFLOW_ID",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "cron",
				Usage:    "Standard five field cron expression",
				Required: true,
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ws, err := openWorkspace(ctx, command)
			if err != nil {
				return err
			}
			defer ws.close()

			scheduler, err := NewScheduler(command.String("cron"), ws.session, ws.logger)
			if err != nil {
				return err
			}

			scheduler.Start(ctx)

			return nil
		},
	}
}
