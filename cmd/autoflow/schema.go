package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/autoflow/internal/config"
)

func newSchemaCmd() *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of test-suite or project files",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			switch kind {
			case "suite":
				data, err = config.GenerateSuiteSchema()
			case "project":
				data, err = config.GenerateProjectSchema()
			default:
				return fmt.Errorf("unknown schema kind %q (expected suite or project)", kind)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "suite", "Schema to print: suite or project")
	return cmd
}
