package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/matheus3301/glide/internal/daemon"
	"github.com/matheus3301/glide/internal/profile"
)

func main() {
	var profileFlag string
	root := &cobra.Command{
		Use:           "glided",
		Short:         "Messaging daemon for one profile",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := profile.Resolve(profileFlag)
			if err := profile.ValidateName(name); err != nil {
				return err
			}
			app := fx.New(
				daemon.Module(daemon.Params{ProfileName: name}),
				fx.NopLogger,
			)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
	root.Flags().StringVarP(&profileFlag, "profile", "p", "", "profile name (overrides config default)")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
