package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd(bootstrap bootstrapFunc) *cobra.Command {
	root := &cobra.Command{
		Use:           "libraryctl",
		Short:         "Operational tooling for the bookitzzz library backend",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(
		newSeedCmd(bootstrap),
		newImportCmd(bootstrap),
		newSweepCmd(bootstrap),
		newPasswdCmd(bootstrap),
		newJobsCmd(bootstrap),
		newOutboxCmd(bootstrap),
	)
	return root
}

// withApp bootstraps the shared dependencies for one command run and closes
// them afterwards.
func withApp(bootstrap bootstrapFunc, run func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			if err := a.Close(); err != nil && a.logg != nil {
				a.logg.Error(cmd.Context(), "close database", err)
			}
		}()
		return run(cmd, a, args)
	}
}
