package main

import (
	"github.com/alexisbeaulieu97/autoflow/internal/plugin"
	commandplugin "github.com/alexisbeaulieu97/autoflow/internal/plugins/command"
	filesplugin "github.com/alexisbeaulieu97/autoflow/internal/plugins/files"
	gitplugin "github.com/alexisbeaulieu97/autoflow/internal/plugins/git"
	httpplugin "github.com/alexisbeaulieu97/autoflow/internal/plugins/http"
)

// builtinPlugins lists the plugins compiled into the binary.
func builtinPlugins() []plugin.Plugin {
	return []plugin.Plugin{
		commandplugin.New(),
		filesplugin.New(),
		gitplugin.New(),
		httpplugin.New(),
	}
}
