package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/angelmondragon/bookitzzz-backend/internal/books"
)

func newImportCmd(bootstrap bootstrapFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Import catalog books from a CSV file",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(bootstrap, func(cmd *cobra.Command, a *app, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open import file: %w", err)
			}
			defer f.Close()

			svc, err := books.NewService(books.ServiceParams{
				DB:      a.db,
				Repo:    books.NewRepository(a.db.DB()),
				Audit:   a.audit,
				Outbox:  a.emitter,
				Logger:  a.logg,
				Library: a.cfg.Library,
			})
			if err != nil {
				return err
			}
			result, err := svc.Import(cmd.Context(), nil, f)
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		}),
	}
}
