package main

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/autoflow/internal/pool"
	"github.com/alexisbeaulieu97/autoflow/internal/steps"
)

func newPluginsCmd(root *rootFlags, app *AppContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "List registered plugins and the step types they provide",
		RunE: func(cmd *cobra.Command, args []string) error {
			project, err := loadProject(root)
			if err != nil {
				return err
			}

			provided := make(map[string][]string)
			for _, def := range app.Steps.Definitions() {
				if def.Plugin == "" {
					continue
				}
				label := def.Type
				if def.Kind == steps.KindValidation {
					label += " (validation)"
				}
				provided[def.Plugin] = append(provided[def.Plugin], label)
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Plugin", "Version", "API", "Max sessions", "Steps", "Description"})
			for _, meta := range app.Plugins.List() {
				maxSessions := pool.DefaultMaxSessions
				if settings, ok := project.Plugins[meta.Name]; ok && settings.MaxSessions > 0 {
					maxSessions = settings.MaxSessions
				}
				t.AppendRow(table.Row{
					meta.Name,
					meta.Version,
					meta.APIVersion,
					fmt.Sprint(maxSessions),
					strings.Join(provided[meta.Name], ", "),
					meta.Description,
				})
			}
			t.Render()
			return nil
		},
	}

	return cmd
}
