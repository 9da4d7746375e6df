package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/autoflow/internal/config"
	"github.com/alexisbeaulieu97/autoflow/internal/debug"
	"github.com/alexisbeaulieu97/autoflow/internal/engine"
	"github.com/alexisbeaulieu97/autoflow/internal/logger"
	"github.com/alexisbeaulieu97/autoflow/internal/plugin"
	"github.com/alexisbeaulieu97/autoflow/internal/report"
)

type filterOptions struct {
	Suites    []string
	TestCases []string
	Groups    []string
}

func (f filterOptions) filter() engine.Filter {
	return engine.Filter{Suites: f.Suites, TestCases: f.TestCases, Groups: f.Groups}
}

func addFilterFlags(cmd *cobra.Command, opts *filterOptions) {
	cmd.Flags().StringSliceVar(&opts.Suites, "suites", nil, "Run only these test suites (dependencies are included)")
	cmd.Flags().StringSliceVar(&opts.TestCases, "test-cases", nil, "Run only these test cases (dependencies are included)")
	cmd.Flags().StringSliceVar(&opts.Groups, "groups", nil, "Run only test cases in these groups")
}

type runOptions struct {
	Folders               []string
	ReportDir             string
	Filter                filterOptions
	Parallel              int
	Args                  []string
	DebugHost             string
	DebugPort             int
	ReportOpeningDisabled bool
}

var openReport = report.Open

func newRunCmd(root *rootFlags, app *AppContext) *cobra.Command {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:   "run [suite-folder...]",
		Short: "Run test suites and write the report",
		Long: "Run every test suite found under the given folders (default: the current directory).\n" +
			"Test outcomes never change the exit code; configuration errors do.",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Folders = args
			if len(opts.Folders) == 0 {
				opts.Folders = []string{"."}
			}
			return runRun(cmd, root, app, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ReportDir, "report-dir", "r", "autoflow-report", "Folder receiving report.json and the execution logs")
	addFilterFlags(cmd, &opts.Filter)
	cmd.Flags().IntVar(&opts.Parallel, "parallel", 0, "Maximum test suites running at once (default from the project file)")
	cmd.Flags().StringArrayVar(&opts.Args, "arg", nil, "Plugin argument as plugin.key=value (repeatable)")
	cmd.Flags().StringVar(&opts.DebugHost, "debug-host", "127.0.0.1", "Interface the debug server listens on")
	cmd.Flags().IntVar(&opts.DebugPort, "debug-port", 0, "Start a debug server on this port and wait for a client")
	cmd.Flags().BoolVar(&opts.ReportOpeningDisabled, "report-opening-disabled", false, "Do not open the report when the run ends")

	return cmd
}

func runRun(cmd *cobra.Command, root *rootFlags, app *AppContext, opts runOptions) error {
	if opts.Parallel < 0 {
		return fmt.Errorf("--parallel must be positive")
	}

	project, err := loadProject(root)
	if err != nil {
		return err
	}
	bundle, err := config.Load(project, opts.Folders)
	if err != nil {
		return err
	}
	plan, err := engine.Build(bundle, app.Steps, opts.Filter.filter())
	if err != nil {
		return err
	}

	pluginCfg, err := pluginConfig(project, opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	parallel := project.Parallel
	if opts.Parallel > 0 {
		parallel = opts.Parallel
	}
	runtimeOpts := engine.Options{
		ReportName: project.ReportName,
		Parallel:   parallel,
		ReportDir:  opts.ReportDir,
		Properties: project.Properties,
		Plugins:    pluginCfg,
	}

	if opts.DebugPort > 0 {
		srv, err := startDebugServer(ctx, cmd, app, opts)
		if err != nil {
			return err
		}
		defer srv.Close()
		runtimeOpts.Debugger = srv.Flow()
	}

	out := cmd.OutOrStdout()
	interactive := isTerminal(out)
	progress := report.NewProgress(out, interactive)
	runtimeOpts.Progress = progress.Update

	app.Logger.WithFields(map[string]any{"suites": len(plan.Suites), "parallel": parallel}).Info("starting run")
	progress.Start()
	final, err := engine.New(plan, app.Steps, app.Plugins, runtimeOpts, app.Logger).Run(ctx)
	progress.Stop()
	if final == nil {
		return err
	}
	if err != nil {
		app.Logger.Error(err, "run interrupted")
	}

	report.PrintSummary(out, final, interactive)
	path, err := report.WriteJSON(opts.ReportDir, final)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Report written to %s\n", path)

	maybeOpenReport(app.Logger, path, opts.ReportOpeningDisabled, interactive)
	return nil
}

// maybeOpenReport opens the report for a person watching a terminal.
// Failures are only logged.
func maybeOpenReport(log *logger.Logger, path string, disabled, interactive bool) bool {
	if disabled || !interactive {
		return false
	}
	if err := openReport(path); err != nil {
		log.Warn(fmt.Sprintf("could not open report: %v", err))
	}
	return true
}

func pluginConfig(project *config.Project, opts runOptions) (*plugin.Config, error) {
	overrides, err := plugin.ParseArgumentOverrides(opts.Args)
	if err != nil {
		return nil, err
	}

	cfg := plugin.DefaultConfig()
	base := make(map[string]map[string]any, len(project.Plugins))
	for name, settings := range project.Plugins {
		base[name] = settings.Args
		if settings.MaxSessions > 0 {
			cfg.MaxSessions[name] = settings.MaxSessions
		}
	}
	cfg.Args = plugin.MergeArguments(base, overrides)
	cfg.ReportDir = opts.ReportDir
	return cfg, nil
}

// startDebugServer listens, serves the single client in the background and
// blocks until that client sent its breakpoints.
func startDebugServer(ctx context.Context, cmd *cobra.Command, app *AppContext, opts runOptions) (*debug.Server, error) {
	addr := net.JoinHostPort(opts.DebugHost, strconv.Itoa(opts.DebugPort))
	srv, err := debug.Listen(addr, app.Logger)
	if err != nil {
		return nil, err
	}

	go func() {
		if err := srv.Serve(ctx); err != nil {
			app.Logger.Error(err, "debug server stopped")
		}
	}()

	fmt.Fprintf(cmd.ErrOrStderr(), "Waiting for a debugger on %s\n", srv.Addr())
	if err := srv.WaitForClient(ctx); err != nil {
		_ = srv.Close()
		return nil, fmt.Errorf("wait for debugger: %w", err)
	}
	return srv, nil
}
