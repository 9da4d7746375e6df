package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/autoflow/internal/config"
	"github.com/alexisbeaulieu97/autoflow/internal/engine"
)

func newValidateCmd(root *rootFlags, app *AppContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [suite-folder...]",
		Short: "Check test-suite files against the schema and the step registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{"."}
			}
			out := cmd.OutOrStdout()

			paths, err := config.SuiteFilePaths(args)
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				return fmt.Errorf("no test-suite files found")
			}

			invalid := 0
			for _, path := range paths {
				issues, err := config.ValidateSuiteFile(path)
				if err != nil {
					return err
				}
				for _, issue := range issues {
					fmt.Fprintf(out, "%s: %s\n", path, issue)
				}
				if len(issues) > 0 {
					invalid++
				}
			}
			if invalid > 0 {
				return fmt.Errorf("%d of %d file(s) do not match the test-suite schema", invalid, len(paths))
			}

			project, err := loadProject(root)
			if err != nil {
				return err
			}
			bundle, err := config.Load(project, args)
			if err != nil {
				return err
			}
			plan, err := engine.Build(bundle, app.Steps, engine.Filter{})
			if err != nil {
				return err
			}

			cases := 0
			for _, suite := range plan.Suites {
				cases += len(suite.Children)
			}
			fmt.Fprintf(out, "%d file(s) valid: %d test suite(s), %d test case(s)\n", len(paths), len(plan.Suites), cases)
			return nil
		},
	}

	return cmd
}
