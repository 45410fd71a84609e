package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/dukex/apiflow/pkg/log"
	"github.com/dukex/apiflow/pkg/models"
	"github.com/dukex/apiflow/pkg/runner"
	"github.com/dukex/apiflow/pkg/studio"
	cli "github.com/urfave/cli/v3"
)

var errRunFailed = errors.New("run failed")

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Check a workflow document and its assertion nodes",
		ArgsUsage: "FILE",
		Action: func(_ context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			path := command.Args().First()
			if path == "" {
				return errors.New("document file argument is required")
			}

			doc, err := loadDocument(path)
			if err != nil {
				return err
			}

			nodes, _ := doc.Graph()
			if err := runner.ValidateAssertions(nodes); err != nil {
				return err
			}

			_, err = fmt.Fprintf(command.Root().Writer, "%s: %d nodes, %d edges, ok\n", path, len(doc.Nodes), len(doc.Edges))

			return err
		},
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Run a workflow and wait for it to settle",
		ArgsUsage: "WORKFLOW_ID",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "file",
				Aliases: []string{"f"},
				Usage:   "Replace the workflow with this JSON or YAML document and save it before running",
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			ws, err := openWorkspace(ctx, command)
			if err != nil {
				return err
			}
			defer ws.close()

			if path := command.String("file"); path != "" {
				if err := applyFile(ctx, ws.session, path); err != nil {
					return err
				}
			}

			return runAndReport(ctx, ws.session, command.Root().Writer, ws.session.Run)
		},
	}
}

func resumeCommand() *cli.Command {
	return &cli.Command{
		Name:      "resume",
		Usage:     "Resume the latest failed run from its failed nodes",
		ArgsUsage: "WORKFLOW_ID",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "mode",
				Usage: "Resume mode (single, all-failed)",
				Value: string(models.ResumeModeAllFailed),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			mode, err := parseResumeMode(command.String("mode"))
			if err != nil {
				return err
			}

			ws, err := openWorkspace(ctx, command)
			if err != nil {
				return err
			}
			defer ws.close()

			return runAndReport(ctx, ws.session, command.Root().Writer, func(ctx context.Context) error {
				return ws.session.Runner().ResumeLatestFailed(ctx, mode)
			})
		},
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "Show the node statuses of a past run",
		ArgsUsage: "WORKFLOW_ID RUN_ID",
		Action: func(ctx context.Context, command *cli.Command) error {
			runID := command.Args().Get(1)
			if runID == "" {
				return errors.New("run id argument is required")
			}

			ws, err := openWorkspace(ctx, command)
			if err != nil {
				return err
			}
			defer ws.close()

			run, err := ws.session.Runner().LoadHistoricalRun(ctx, runID)
			if err != nil {
				return err
			}

			out := command.Root().Writer
			if _, err := fmt.Fprintf(out, "run %s %s\n", runID, run.Status); err != nil {
				return err
			}

			return printNodes(out, ws.session.Store().Nodes())
		},
	}
}

// runAndReport starts a run with start, waits for it to settle and prints every node status. A
// failed run is returned as errRunFailed.
func runAndReport(ctx context.Context, session *studio.Session, out io.Writer, start func(context.Context) error) error {
	if err := start(ctx); err != nil {
		var missing *runner.MissingSecretsError
		if errors.As(err, &missing) {
			return fmt.Errorf("%w, pass them with --secret key=value", err)
		}

		return err
	}

	if err := session.Runner().Wait(ctx); err != nil {
		return err
	}

	status := session.Runner().Status()
	if _, err := fmt.Fprintf(out, "run %s %s\n", status.RunID, status.RunStatus); err != nil {
		return err
	}

	if err := printNodes(out, session.Store().Nodes()); err != nil {
		return err
	}

	if status.RunStatus == models.RunStatusFailed {
		return fmt.Errorf("%w: %s", errRunFailed, status.RunID)
	}

	return nil
}

func applyFile(ctx context.Context, session *studio.Session, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	if isYAML(path) {
		err = session.ApplyGraphYAML(raw)
	} else {
		err = session.ApplyGraphJSON(raw)
	}

	if err != nil {
		return err
	}

	return session.Save(ctx)
}

// loadDocument reads a workflow document, choosing the decoder by file extension.
func loadDocument(path string) (models.WorkflowDocument, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return models.WorkflowDocument{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if isYAML(path) {
		return studio.ParseDocumentYAML(raw)
	}

	return studio.ParseDocument(raw)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))

	return ext == ".yaml" || ext == ".yml"
}

func parseResumeMode(raw string) (models.ResumeMode, error) {
	switch mode := models.ResumeMode(raw); mode {
	case models.ResumeModeSingle, models.ResumeModeAllFailed:
		return mode, nil
	default:
		return "", fmt.Errorf("unknown resume mode %q, expected %s or %s", raw, models.ResumeModeSingle, models.ResumeModeAllFailed)
	}
}

func printNodes(out io.Writer, nodes []*models.Node) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, "NODE\tTYPE\tLABEL\tSTATUS")

	for _, node := range nodes {
		status := node.Data.ExecutionStatus
		if status == "" {
			status = models.ExecutionStatusIdle
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", node.ID, node.Type, node.Data.Label, status)
	}

	return w.Flush()
}
