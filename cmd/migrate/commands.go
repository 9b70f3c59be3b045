package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/angelmondragon/bookitzzz-backend/pkg/bootstrap"
	"github.com/angelmondragon/bookitzzz-backend/pkg/config"
	"github.com/angelmondragon/bookitzzz-backend/pkg/db"
	"github.com/angelmondragon/bookitzzz-backend/pkg/migrate"
)

// schemaRunner is the subset of *migrate.Runner the commands drive.
type schemaRunner interface {
	Up(ctx context.Context) ([]migrate.Applied, error)
	Down(ctx context.Context) (migrate.Applied, error)
	To(ctx context.Context, target int64) ([]migrate.Applied, error)
	Status(ctx context.Context) ([]migrate.Status, error)
}

type openFunc func(ctx context.Context, source fs.FS) (schemaRunner, func() error, error)

func newRootCmd(open openFunc) *cobra.Command {
	var dir string
	source := func() fs.FS {
		if dir == "" {
			return migrate.Files()
		}
		return os.DirFS(dir)
	}
	withRunner := func(run func(cmd *cobra.Command, r schemaRunner, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			r, closeFn, err := open(cmd.Context(), source())
			if err != nil {
				return err
			}
			defer closeFn()
			return run(cmd, r, args)
		}
	}

	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Manage the bookitzzz postgres schema",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&dir, "dir", "", "read migrations from this directory instead of the embedded set")

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: withRunner(func(cmd *cobra.Command, r schemaRunner, _ []string) error {
				applied, err := r.Up(cmd.Context())
				printApplied(cmd.OutOrStdout(), applied)
				return err
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			Args:  cobra.NoArgs,
			RunE: withRunner(func(cmd *cobra.Command, r schemaRunner, _ []string) error {
				applied, err := r.Down(cmd.Context())
				if err != nil {
					return err
				}
				printApplied(cmd.OutOrStdout(), []migrate.Applied{applied})
				return nil
			}),
		},
		&cobra.Command{
			Use:   "to VERSION",
			Short: "Migrate up or down to VERSION (YYYYMMDDHHMMSS)",
			Args:  cobra.ExactArgs(1),
			RunE: withRunner(func(cmd *cobra.Command, r schemaRunner, args []string) error {
				target, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid version %q: %w", args[0], err)
				}
				applied, err := r.To(cmd.Context(), target)
				printApplied(cmd.OutOrStdout(), applied)
				return err
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List migrations and whether they are applied",
			Args:  cobra.NoArgs,
			RunE: withRunner(func(cmd *cobra.Command, r schemaRunner, _ []string) error {
				statuses, err := r.Status(cmd.Context())
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				for _, st := range statuses {
					applied := "-"
					if !st.AppliedAt.IsZero() {
						applied = st.AppliedAt.UTC().Format(time.RFC3339)
					}
					fmt.Fprintf(w, "%-9s %-25s %s\n", st.State, applied, st.Path)
				}
				return nil
			}),
		},
		newCreateCmd(),
		&cobra.Command{
			Use:   "validate",
			Short: "Check migration names and goose annotations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := migrate.Validate(source()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations valid")
				return nil
			},
		},
	)
	return root
}

func newCreateCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Write an empty timestamped migration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := migrate.CreateSQLMigration(dir, args[0], time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "created", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "out", migrate.DefaultDir, "directory to write the migration into")
	return cmd
}

func printApplied(w io.Writer, applied []migrate.Applied) {
	if len(applied) == 0 {
		fmt.Fprintln(w, "no migrations to run")
		return
	}
	for _, a := range applied {
		fmt.Fprintf(w, "%-4s %s (%s)\n", a.Direction, a.Path, a.Duration.Round(time.Millisecond))
	}
}

// openRunner connects to postgres using the service config.
func openRunner(ctx context.Context, source fs.FS) (schemaRunner, func() error, error) {
	cfg, logg, err := bootstrap.Load("migrate")
	if err != nil {
		return nil, nil, err
	}
	if cfg.DB.Driver == config.DriverSQLite {
		return nil, nil, fmt.Errorf("goose migrations target postgres; sqlite schemas come from BOOKITZZZ_AUTO_MIGRATE")
	}

	client, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	sqlDB, err := client.SQL()
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("extracting sql.DB: %w", err)
	}
	runner, err := migrate.NewRunner(sqlDB, source)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return runner, client.Close, nil
}
