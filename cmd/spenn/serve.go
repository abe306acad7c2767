package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/transfa/spenn-service/internal/api"
	"github.com/transfa/spenn-service/internal/app"
	"github.com/transfa/spenn-service/internal/store"
	"github.com/transfa/spenn-service/pkg/rabbitmq"
)

// Routing keys of the payment-need events consumed from the event exchange.
var paymentNeedRoutingKeys = []string{"behov.utbetaling", "behov.annullering"}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the consumers, scheduled jobs and internal HTTP API",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer rt.close()
	logger := rt.logger

	if err := store.EnsureSchema(ctx, rt.db); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	svc := rt.service()
	simulator := rt.simulator()

	var (
		reconciler api.Reconciler
		scheduler  *app.Scheduler
	)
	if rt.cfg.RabbitMQURL == "" {
		logger.Warn("rabbitmq url missing; running the HTTP API only", "env", "RABBITMQ_URL")
	} else {
		producer, err := rabbitmq.NewEventProducer(rt.cfg.RabbitMQURL, logger)
		if err != nil {
			return fmt.Errorf("rabbitmq producer: %w", err)
		}
		defer producer.Close()

		locker, release, err := rt.locker(ctx)
		if err != nil {
			return err
		}
		defer release()

		outcomes := app.NewOutcomeNotifier(producer, rt.cfg.EventExchange, rt.cfg.OutcomeRoutingKey, logger)
		jobs := app.NewJobs(svc, simulator, producer, outcomes, locker, logger, rt.cfg)
		reconciler = jobs

		consumer, err := rabbitmq.NewConsumer(rt.cfg.RabbitMQURL, logger)
		if err != nil {
			return fmt.Errorf("rabbitmq consumer: %w", err)
		}
		defer consumer.Close()

		needs := app.NewPaymentNeedConsumer(svc, rt.identity(), outcomes, logger)
		bindings := make(map[string]rabbitmq.Handler, len(paymentNeedRoutingKeys))
		for _, key := range paymentNeedRoutingKeys {
			bindings[key] = needs.HandleMessage
		}
		if err := consumer.ConsumeWithBindings(rt.cfg.EventExchange, rt.cfg.PaymentNeedQueue, bindings); err != nil {
			return fmt.Errorf("payment need consumer: %w", err)
		}

		replies := app.NewSettlementResponseConsumer(svc, logger)
		if err := consumer.ConsumeQueue(rt.cfg.SettlementReplyQueue, replies.HandleMessage); err != nil {
			return fmt.Errorf("settlement response consumer: %w", err)
		}

		scheduler = app.NewScheduler(jobs, logger, rt.cfg)
		scheduler.Start()
		logger.Info("scheduler started")
	}

	handler := api.NewHandler(svc, simulator, reconciler, logger)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", rt.cfg.ServerPort),
		Handler: api.NewRouter(handler, rt.cfg.InternalAPIKey, rt.cfg.AllowedOrigins()),
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	if scheduler != nil {
		<-scheduler.Stop().Done()
		logger.Info("scheduler stopped gracefully")
	}
	logger.Info("shutdown complete")
	return nil
}
