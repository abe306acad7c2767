package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/transfa/spenn-service/internal/app"
	"github.com/transfa/spenn-service/pkg/rabbitmq"
)

var reconcileCutoff time.Duration

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation sweep and exit",
		Long: `Run one reconciliation sweep.

Every unreconciled transaction submitted before the cutoff is reported to the
reconciliation queue. Settled transactions are marked reconciled; transactions still
waiting for a settlement answer are reported as missing and stay open. The sweep is
skipped when another instance holds the reconciliation lease.

Examples:
  spenn reconcile
  spenn reconcile --cutoff 0s`,
		RunE: runReconcile,
	}
	cmd.Flags().DurationVar(&reconcileCutoff, "cutoff", -1, "only include transactions submitted at least this long ago (default RECONCILIATION_CUTOFF)")
	return cmd
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rt, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	if rt.cfg.RabbitMQURL == "" {
		return errors.New("RABBITMQ_URL is required to send reconciliation data")
	}
	if reconcileCutoff >= 0 {
		rt.cfg.ReconciliationCutoff = reconcileCutoff
	}

	producer, err := rabbitmq.NewEventProducer(rt.cfg.RabbitMQURL, rt.logger)
	if err != nil {
		return fmt.Errorf("rabbitmq producer: %w", err)
	}
	defer producer.Close()

	locker, release, err := rt.locker(ctx)
	if err != nil {
		return err
	}
	defer release()

	outcomes := app.NewOutcomeNotifier(producer, rt.cfg.EventExchange, rt.cfg.OutcomeRoutingKey, rt.logger)
	jobs := app.NewJobs(rt.service(), nil, producer, outcomes, locker, rt.logger, rt.cfg)

	result, err := jobs.Reconcile(ctx)
	if err != nil {
		return err
	}
	if result.Skipped {
		fmt.Fprintln(cmd.OutOrStdout(), "reconciliation lease is held by another instance; nothing done")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "batch=%s reconciled=%d excluded=%d pending=%d\n",
		result.BatchID, result.Reconciled, result.Excluded, result.Pending)
	return nil
}
