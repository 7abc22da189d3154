package main

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/dripflow/dripflow/pkg/log"
)

func main() {
	cmd := &cli.Command{
		Name:                  "dripflow-engine",
		EnableShellCompletion: true,
		Usage:                 "Run the automation execution engine",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "engine-id",
				Aliases: []string{"id"},
				Usage:   "Custom engine instance ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("ENGINE_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus type (kafka, memory)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the shared activation dedup store",
				Value:   "",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:     "delivery-url",
				Usage:    "Base URL of the email delivery service",
				Required: true,
				Sources:  cli.EnvVars("DELIVERY_URL"),
			},
			&cli.StringFlag{
				Name:     "contacts-url",
				Usage:    "Base URL of the contact service",
				Required: true,
				Sources:  cli.EnvVars("CONTACTS_URL"),
			},
			&cli.DurationFlag{
				Name:    "tick-interval",
				Usage:   "How often the scheduler polls for due work",
				Value:   time.Minute,
				Sources: cli.EnvVars("TICK_INTERVAL"),
			},
			&cli.IntFlag{
				Name:    "concurrency",
				Usage:   "Maximum executions advanced in parallel per tick",
				Value:   10,
				Sources: cli.EnvVars("CONCURRENCY"),
			},
			&cli.IntFlag{
				Name:    "step-budget",
				Usage:   "Maximum steps applied in a single advance",
				Value:   100,
				Sources: cli.EnvVars("STEP_BUDGET"),
			},
			&cli.IntFlag{
				Name:    "max-attempts",
				Usage:   "Attempts a failing action gets before the execution fails",
				Value:   3,
				Sources: cli.EnvVars("MAX_ATTEMPTS"),
			},
			&cli.DurationFlag{
				Name:    "action-timeout",
				Usage:   "Timeout for each external action call",
				Value:   10 * time.Second,
				Sources: cli.EnvVars("ACTION_TIMEOUT"),
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

			engineID := command.String("engine-id")
			if engineID == "" {
				engineID = "engine-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("dripflow-engine").With("engine_id", engineID)
			logger.InfoContext(ctx, "Initializing Dripflow engine")

			manager := NewEngineManager(engineID, logger)

			if err := manager.Start(ctx, command); err != nil {
				logger.ErrorContext(ctx, "Engine terminated with error", "error", err)

				return err
			}

			return nil
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
