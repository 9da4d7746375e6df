package main

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/alexisbeaulieu97/autoflow/internal/config"
	"github.com/alexisbeaulieu97/autoflow/internal/logger"
	"github.com/alexisbeaulieu97/autoflow/internal/plugin"
	"github.com/alexisbeaulieu97/autoflow/internal/steps"
)

// AppContext bundles long-lived services created before a command runs.
type AppContext struct {
	Logger  *logger.Logger
	Plugins *plugin.Registry
	Steps   *steps.Registry
}

func newAppContext(flags *rootFlags, logOut io.Writer) (*AppContext, error) {
	level := "info"
	if flags.verbose {
		level = "debug"
	}
	if flags.logLevel != "" {
		level = flags.logLevel
	}

	log, err := logger.New(logger.Options{Level: level, HumanReadable: isTerminal(logOut), Writer: logOut})
	if err != nil {
		return nil, err
	}

	plugins := plugin.NewRegistry(log)
	stepRegistry := steps.NewBuiltinRegistry()
	for _, p := range builtinPlugins() {
		if err := plugins.Register(p); err != nil {
			return nil, fmt.Errorf("register plugin: %w", err)
		}
		if provider, ok := p.(steps.Provider); ok {
			if err := provider.RegisterSteps(stepRegistry); err != nil {
				return nil, fmt.Errorf("register steps of plugin %s: %w", p.Metadata().Name, err)
			}
		}
	}

	return &AppContext{Logger: log, Plugins: plugins, Steps: stepRegistry}, nil
}

// loadProject reads the project file. The default file may be absent; an
// explicitly named one may not.
func loadProject(flags *rootFlags) (*config.Project, error) {
	path := flags.project
	explicit := path != ""
	if !explicit {
		path = config.ProjectFileName
	}
	return config.LoadProject(path, !explicit)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
