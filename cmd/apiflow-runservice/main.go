// Package main provides the development run service: it stores workflows and simulates their runs
// one node per poll.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dukex/apiflow/pkg/cmd"
	"github.com/dukex/apiflow/pkg/log"
	"github.com/dukex/apiflow/pkg/services"
	"github.com/joho/godotenv"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	_ = godotenv.Load()

	logger := log.WithModule("runservice")

	command := &cli.Command{
		Name:                  "apiflow-runservice",
		Usage:                 "Serve workflows and simulated runs for the apiflow studio",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL for persistence (directory or postgres:// URL)",
				Value:   "file://./data",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "environments",
				Usage:   "JSON or YAML file listing the environments",
				Sources: cli.EnvVars("APIFLOW_ENVIRONMENTS"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing apiflow run service")

			environments := services.NewEnvironments()

			if path := command.String("environments"); path != "" {
				loaded, err := services.LoadEnvironments(path)
				if err != nil {
					return err
				}

				environments = loaded
			}

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			api := NewAPI(logger, persistence, environments)

			err = api.Start(command.Int("port"))
			if err != nil {
				return fmt.Errorf("failed to start run service: %w", err)
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		logger.Error("Run service stopped", "error", err)
		os.Exit(1)
	}
}
