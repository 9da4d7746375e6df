// Package engine builds the executor tree from loaded definitions and runs
// it: suites on their own workers in dependency order, test cases
// sequentially within a suite, each unit through the step pipeline.
package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/alexisbeaulieu97/autoflow/internal/debug"
	"github.com/alexisbeaulieu97/autoflow/internal/execctx"
	"github.com/alexisbeaulieu97/autoflow/internal/logger"
	"github.com/alexisbeaulieu97/autoflow/internal/model"
	"github.com/alexisbeaulieu97/autoflow/internal/plugin"
	"github.com/alexisbeaulieu97/autoflow/internal/report"
	"github.com/alexisbeaulieu97/autoflow/internal/steps"
	autoflowerrors "github.com/alexisbeaulieu97/autoflow/pkg/errors"
)

const mainWorker execctx.WorkerID = "main"

// Debugger is consulted at every step boundary. *debug.Flow implements it.
type Debugger interface {
	Checkpoint(ctx context.Context, cp debug.Checkpoint) error
}

// Options configures a Runtime.
type Options struct {
	ReportName string
	// Parallel bounds the number of suites running at once.
	Parallel   int
	ReportDir  string
	Properties map[string]any
	Plugins    *plugin.Config
	Debugger   Debugger
	// Progress receives a short message whenever a unit starts.
	Progress func(message string)
}

// Runtime executes one plan. It owns the context manager and the global
// attribute store of the run.
type Runtime struct {
	plan     *Plan
	steps    *steps.Registry
	plugins  *plugin.Registry
	contexts *execctx.Manager
	opts     Options
	logger   *logger.Logger
	now      func() time.Time
	calls    atomic.Uint64
}

// New prepares a runtime. plugins may be nil when the plan needs none.
func New(plan *Plan, registry *steps.Registry, plugins *plugin.Registry, opts Options, log *logger.Logger) *Runtime {
	if opts.Parallel <= 0 {
		opts.Parallel = 1
	}
	if opts.ReportName == "" && plan != nil {
		opts.ReportName = plan.Name
	}

	var sessions execctx.SessionSource
	if plugins != nil {
		sessions = plugins
	}

	return &Runtime{
		plan:     plan,
		steps:    registry,
		plugins:  plugins,
		contexts: execctx.NewManager(sessions, log),
		opts:     opts,
		logger:   log,
		now:      time.Now,
	}
}

// Contexts exposes the context manager of the run.
func (r *Runtime) Contexts() *execctx.Manager {
	return r.contexts
}

// Run initializes the required plugins, executes global setup, every suite
// and global cleanup, and returns the final report. Test outcomes never
// produce an error; only launch failures and cancellation do.
func (r *Runtime) Run(ctx context.Context) (*model.FinalReport, error) {
	if r.plan == nil {
		return nil, autoflowerrors.NewExecutionError("", fmt.Errorf("plan is nil"))
	}
	started := r.now()

	if len(r.plan.RequiredPlugins) > 0 {
		if r.plugins == nil {
			return nil, autoflowerrors.NewExecutionError("", fmt.Errorf("plugins %v are required but no plugin registry is configured", r.plan.RequiredPlugins))
		}
		cfg := r.opts.Plugins
		if cfg == nil {
			cfg = plugin.DefaultConfig()
		}
		if cfg.ReportDir == "" {
			cfg.ReportDir = r.opts.ReportDir
		}
		if err := r.plugins.Initialize(ctx, r.plan.RequiredPlugins, cfg); err != nil {
			return nil, err
		}
	}
	if r.plugins != nil {
		defer func() {
			if err := r.plugins.Shutdown(); err != nil {
				r.logger.Error(err, "plugin shutdown failed")
			}
		}()
	}

	r.contexts.Push(mainWorker, r.plan.Root)
	defer r.contexts.Pop(mainWorker, r.plan.Root)

	globalSetup := r.runBlock(ctx, mainWorker, r.plan.GlobalSetup, nil)

	var (
		suites []model.TestSuiteResult
		runErr error
	)
	if failed(globalSetup) {
		message := skipMessage(KindGlobalSetup, string(KindGlobalSetup), globalSetup.Status)
		for _, exec := range r.plan.Suites {
			suites = append(suites, skippedSuite(exec, message))
		}
	} else {
		suites, runErr = r.runSuites(ctx)
	}

	var globalCleanup *model.ExecutionDetails
	if !failed(globalSetup) {
		globalCleanup = r.runBlock(ctx, mainWorker, r.plan.GlobalCleanup, nil)
	}

	final := model.NewFinalReport(r.opts.ReportName, started, suites)
	final.GlobalSetup = globalSetup
	final.GlobalCleanup = globalCleanup

	r.logger.WithFields(map[string]any{
		"suites":     final.TestSuiteCount,
		"testCases":  final.TestCaseCount,
		"successful": final.TestCaseSuccessCount,
		"failed":     final.TestCaseFailureCount,
		"errored":    final.TestCaseErroredCount,
		"skipped":    final.TestCaseSkippedCount,
	}).Info("run finished")
	return final, runErr
}

func (r *Runtime) progress(format string, args ...any) {
	if r.opts.Progress != nil {
		r.opts.Progress(fmt.Sprintf(format, args...))
	}
}

func (r *Runtime) writeLog(log *report.ExecutionLog) string {
	rel, err := log.Write(r.opts.ReportDir)
	if err != nil {
		r.logger.Error(err, "failed to write execution log")
		return ""
	}
	return rel
}

func failed(details *model.ExecutionDetails) bool {
	return details != nil && details.Status != model.StatusSuccessful
}

func skipMessage(kind Kind, name string, status model.Status) string {
	return fmt.Sprintf("Skipped as required dependency %s '%s' is found with status: %s", kind, name, status)
}
