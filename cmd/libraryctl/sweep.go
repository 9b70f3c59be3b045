package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/angelmondragon/bookitzzz-backend/internal/borrows"
	"github.com/angelmondragon/bookitzzz-backend/internal/cron"
	"github.com/angelmondragon/bookitzzz-backend/internal/overdue"
	"github.com/angelmondragon/bookitzzz-backend/pkg/redis"
)

func newSweepCmd(bootstrap bootstrapFunc) *cobra.Command {
	var (
		useLock   bool
		batchSize int
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Mark past-due borrows as overdue once",
		Args:  cobra.NoArgs,
		RunE: withApp(bootstrap, func(cmd *cobra.Command, a *app, _ []string) error {
			if batchSize <= 0 {
				batchSize = a.cfg.Cron.SweepBatchSize
			}
			sweeper, err := overdue.NewSweeper(overdue.Params{
				Logger:    a.logg,
				DB:        a.db,
				Borrows:   borrows.NewRepository(a.db.DB()),
				Audit:     a.audit,
				Outbox:    a.emitter,
				BatchSize: batchSize,
			})
			if err != nil {
				return err
			}

			var processed int
			run := func(ctx context.Context) error {
				n, err := sweeper.Sweep(ctx)
				processed = n
				return err
			}

			if useLock {
				redisClient, err := redis.New(cmd.Context(), a.cfg.Redis, a.logg)
				if err != nil {
					return err
				}
				defer redisClient.Close()
				locker, err := cron.NewRedisLocker(redisClient, a.cfg.Cron.LockTTL)
				if err != nil {
					return err
				}
				err = cron.RunExclusive(cmd.Context(), locker.ForJob(overdue.JobName), run)
				if err != nil {
					return err
				}
			} else if err := run(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "processed %d overdue borrows\n", processed)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&useLock, "lock", true, "take the shared redis job lock before sweeping")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "borrows per batch (0 uses BOOKITZZZ_SWEEP_BATCH_SIZE)")
	return cmd
}
