package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/angelmondragon/bookitzzz-backend/internal/users"
	"github.com/angelmondragon/bookitzzz-backend/pkg/security"
)

func newPasswdCmd(bootstrap bootstrapFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "passwd <email>",
		Short: "Set a user's password from a terminal prompt",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(bootstrap, func(cmd *cobra.Command, a *app, args []string) error {
			email := users.NormalizeEmail(args[0])
			repo := users.NewRepository(a.db.DB())
			user, err := repo.FindByEmail(cmd.Context(), email)
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("no user with email %s", email)
			}
			if err != nil {
				return err
			}

			password, err := promptNewPassword(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			hash, err := security.HashPassword(password, a.cfg.Password)
			if err != nil {
				return err
			}
			if err := repo.UpdatePasswordHash(cmd.Context(), user.ID, hash); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "password updated for %s\n", email)
			return nil
		}),
	}
}
