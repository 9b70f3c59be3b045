package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/angelmondragon/bookitzzz-backend/internal/cron"
	"github.com/angelmondragon/bookitzzz-backend/internal/jobs"
	"github.com/angelmondragon/bookitzzz-backend/pkg/redis"
)

func newJobsCmd(bootstrap bootstrapFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and trigger the scheduled jobs",
	}
	cmd.AddCommand(newJobsListCmd(bootstrap), newJobsRunCmd(bootstrap))
	return cmd
}

func newJobsListCmd(bootstrap bootstrapFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the registered job names",
		Args:  cobra.NoArgs,
		RunE: withApp(bootstrap, func(cmd *cobra.Command, a *app, _ []string) error {
			service, err := jobs.NewScheduler(jobs.Params{Config: a.cfg, Logger: a.logg, DB: a.db, Locker: localLocker{}})
			if err != nil {
				return err
			}
			for _, name := range service.JobNames() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		}),
	}
}

func newJobsRunCmd(bootstrap bootstrapFunc) *cobra.Command {
	var useLock bool
	cmd := &cobra.Command{
		Use:   "run NAME",
		Short: "Run one job now",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(bootstrap, func(cmd *cobra.Command, a *app, args []string) error {
			var locker cron.Locker = localLocker{}
			if useLock {
				redisClient, err := redis.New(cmd.Context(), a.cfg.Redis, a.logg)
				if err != nil {
					return err
				}
				defer redisClient.Close()
				shared, err := cron.NewRedisLocker(redisClient, a.cfg.Cron.LockTTL)
				if err != nil {
					return err
				}
				locker = shared
			}

			service, err := jobs.NewScheduler(jobs.Params{Config: a.cfg, Logger: a.logg, DB: a.db, Locker: locker})
			if err != nil {
				return err
			}
			if err := service.RunJob(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s finished\n", args[0])
			return nil
		}),
	}
	cmd.Flags().BoolVar(&useLock, "lock", true, "take the shared redis job lock before running")
	return cmd
}

// localLocker always grants the lock. It backs --lock=false runs.
type localLocker struct{}

func (localLocker) ForJob(string) cron.Lock { return localLock{} }

type localLock struct{}

func (localLock) Acquire(context.Context) (bool, error) { return true, nil }
func (localLock) Release(context.Context) error         { return nil }
