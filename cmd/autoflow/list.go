package main

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/autoflow/internal/config"
	"github.com/alexisbeaulieu97/autoflow/internal/engine"
)

func newListCmd(root *rootFlags, app *AppContext) *cobra.Command {
	filters := filterOptions{}

	cmd := &cobra.Command{
		Use:   "list [suite-folder...]",
		Short: "List the test suites and test cases a run would execute",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{"."}
			}
			project, err := loadProject(root)
			if err != nil {
				return err
			}
			bundle, err := config.Load(project, args)
			if err != nil {
				return err
			}
			plan, err := engine.Build(bundle, app.Steps, filters.filter())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			t := table.NewWriter()
			t.SetOutputMirror(out)
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Suite", "Test case", "Groups", "Depends on"})
			for _, suite := range plan.Suites {
				t.AppendRow(table.Row{suite.Name, "", "", strings.Join(suite.Suite.DependsOn, ", ")})
				for _, child := range suite.Children {
					tc := child.TestCase
					t.AppendRow(table.Row{"", tc.Name, strings.Join(tc.Groups, ", "), strings.Join(tc.DependsOn, ", ")})
				}
			}
			t.Render()

			fmt.Fprint(out, plan.String())
			if len(plan.RequiredPlugins) > 0 {
				fmt.Fprintf(out, "Plugins: %s\n", strings.Join(plan.RequiredPlugins, ", "))
			}
			return nil
		},
	}

	addFilterFlags(cmd, &filters)
	return cmd
}
