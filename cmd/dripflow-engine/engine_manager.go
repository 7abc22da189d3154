package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	cli "github.com/urfave/cli/v3"

	"github.com/dripflow/dripflow/pkg/cmd"
	"github.com/dripflow/dripflow/pkg/engine"
	"github.com/dripflow/dripflow/pkg/gateway"
	"github.com/dripflow/dripflow/pkg/otelhelper"
)

// EngineManager owns the lifecycle of one engine instance: the trigger
// matcher consuming domain events and the scheduler resuming due work.
type EngineManager struct {
	id     string
	logger *slog.Logger
}

func NewEngineManager(id string, logger *slog.Logger) *EngineManager {
	return &EngineManager{
		id:     id,
		logger: logger,
	}
}

// Start wires all components and blocks until SIGINT or SIGTERM.
func (m *EngineManager) Start(ctx context.Context, command *cli.Command) error {
	persistence := cmd.NewPersistence(ctx, m.logger, command.String("database-url"))
	defer func() {
		if err := persistence.Close(ctx); err != nil {
			m.logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	eventBus := cmd.NewEventBus(command.String("event-bus"), "dripflow-engine", m.logger)
	defer func() {
		if err := eventBus.Close(); err != nil {
			m.logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	activations := cmd.NewActivationStore(command.String("redis-url"), m.logger)
	defer func() {
		if err := activations.Close(); err != nil {
			m.logger.ErrorContext(ctx, "Failed to close activation store", "error", err)
		}
	}()

	tracer, err := otelhelper.NewTracer(ctx, "dripflow-engine")
	if err != nil {
		m.logger.WarnContext(ctx, "Tracer unavailable, spans will be discarded", "error", err)

		tracer = otelhelper.NoopTracer()
	}

	contacts := gateway.NewHTTPContactDirectory(command.String("contacts-url"))
	emailGateway := gateway.NewHTTPEmailGateway(command.String("delivery-url"))
	clock := clockwork.NewRealClock()

	interpreter := engine.NewInterpreter(
		persistence,
		contacts,
		emailGateway,
		eventBus,
		clock,
		tracer,
		engine.Config{
			StepBudget:    command.Int("step-budget"),
			ActionTimeout: command.Duration("action-timeout"),
			MaxAttempts:   command.Int("max-attempts"),
		},
		m.logger,
	)

	matcher := engine.NewTriggerMatcher(persistence, interpreter, activations, eventBus, tracer, m.logger)
	if err := matcher.Register(eventBus); err != nil {
		return err
	}

	if err := eventBus.Subscribe(ctx); err != nil {
		return err
	}

	scheduler := engine.NewScheduler(
		persistence,
		interpreter,
		matcher,
		contacts,
		clock,
		engine.SchedulerConfig{
			TickInterval: command.Duration("tick-interval"),
			Concurrency:  command.Int("concurrency"),
		},
		m.logger,
	)

	if err := scheduler.Start(ctx); err != nil {
		return err
	}

	m.logger.InfoContext(ctx, "Engine started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	m.logger.InfoContext(ctx, "Shutting down engine...")

	return scheduler.Stop(ctx)
}
