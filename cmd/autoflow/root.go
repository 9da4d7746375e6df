package main

import (
	"github.com/spf13/cobra"
)

type rootFlags struct {
	verbose  bool
	logLevel string
	project  string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	app := &AppContext{}

	cmd := &cobra.Command{
		Use:           "autoflow",
		Short:         "Autoflow runs declarative test suites",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			built, err := newAppContext(flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			*app = *built
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides --verbose")
	cmd.PersistentFlags().StringVarP(&flags.project, "project", "p", "", "Path to the project file (default ./autoflow.yaml when present)")

	cmd.AddCommand(newRunCmd(flags, app))
	cmd.AddCommand(newListCmd(flags, app))
	cmd.AddCommand(newValidateCmd(flags, app))
	cmd.AddCommand(newSchemaCmd())
	cmd.AddCommand(newDebugCmd())
	cmd.AddCommand(newPluginsCmd(flags, app))
	cmd.AddCommand(newVersionCmd())

	return cmd
}
