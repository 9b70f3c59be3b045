package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/angelmondragon/bookitzzz-backend/internal/books"
	"github.com/angelmondragon/bookitzzz-backend/internal/seed"
	"github.com/angelmondragon/bookitzzz-backend/internal/users"
)

func newSeedCmd(bootstrap bootstrapFunc) *cobra.Command {
	var (
		opts   seed.Options
		prompt bool
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Upsert staff and member accounts and generate catalog books",
		Args:  cobra.NoArgs,
		RunE: withApp(bootstrap, func(cmd *cobra.Command, a *app, _ []string) error {
			if prompt {
				password, err := promptNewPassword(cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				opts.Password = password
			}
			conn := a.db.DB()
			seeder, err := seed.New(seed.Params{
				DB:        a.db,
				Users:     users.NewRepository(conn),
				Books:     books.NewRepository(conn),
				Passwords: a.cfg.Password,
				Logger:    a.logg,
			})
			if err != nil {
				return err
			}
			result, err := seeder.Run(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		}),
	}
	cmd.Flags().IntVar(&opts.Books, "books", 0, "number of books to generate (0 picks the default)")
	cmd.Flags().StringVar(&opts.AdminEmail, "admin-email", "", "admin account email")
	cmd.Flags().StringVar(&opts.Password, "password", "", "password for every seeded account")
	cmd.Flags().Uint64Var(&opts.RandSeed, "rand-seed", 0, "generator seed; the same seed yields the same catalog")
	cmd.Flags().BoolVar(&prompt, "prompt-password", false, "read the account password from the terminal")
	cmd.MarkFlagsMutuallyExclusive("password", "prompt-password")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
