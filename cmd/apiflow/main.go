// Package main provides the apiflow command line: it validates workflow documents and runs, resumes
// and schedules workflows against a run service.
package main

import (
	"context"
	"os"

	"github.com/dukex/apiflow/pkg/log"
	"github.com/joho/godotenv"
	cli "github.com/urfave/cli/v3"
)

func main() {
	_ = godotenv.Load()

	err := newCommand().Run(context.Background(), os.Args)
	if err != nil {
		log.WithModule("cli").Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:                  "apiflow",
		Usage:                 "Validate, run and resume API test workflows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "service-url",
				Usage:   "Base URL of the run service",
				Value:   "http://localhost:9091",
				Sources: cli.EnvVars("APIFLOW_SERVICE_URL"),
			},
			&cli.StringFlag{
				Name:    "environment",
				Aliases: []string{"e"},
				Usage:   "Environment the workflow runs against",
				Sources: cli.EnvVars("APIFLOW_ENVIRONMENT"),
			},
			&cli.StringSliceFlag{
				Name:  "secret",
				Usage: "Environment secret as key=value, repeatable",
			},
			&cli.StringFlag{
				Name:    "secret-store",
				Usage:   "Secret store URL (redis:// shares secrets between sessions, empty keeps them in memory)",
				Sources: cli.EnvVars("SECRET_STORE_URL"),
			},
			&cli.StringFlag{
				Name:    "session",
				Usage:   "Session id the secrets are stored under",
				Value:   "default",
				Sources: cli.EnvVars("APIFLOW_SESSION"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Value:   "localhost:9092",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.BoolFlag{
				Name:    "otel",
				Usage:   "Export run traces over OTLP/HTTP",
				Sources: cli.EnvVars("APIFLOW_OTEL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Commands: []*cli.Command{
			validateCommand(),
			runCommand(),
			resumeCommand(),
			historyCommand(),
			scheduleCommand(),
		},
	}
}
