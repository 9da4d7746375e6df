package engine

import (
	"context"
	"fmt"

	"github.com/alexisbeaulieu97/autoflow/internal/execctx"
	"github.com/alexisbeaulieu97/autoflow/internal/model"
	"github.com/alexisbeaulieu97/autoflow/internal/report"
)

// runTestCase runs one test case on the suite's worker. statuses holds the
// results of the test cases that already ran in the suite.
func (r *Runtime) runTestCase(ctx context.Context, worker execctx.WorkerID, exec *Executor, statuses map[string]model.Status) model.TestCaseResult {
	tc := exec.TestCase
	result := model.TestCaseResult{Name: tc.Name, StartedOn: r.now()}

	for _, dep := range exec.deps {
		if status := statuses[dep.Name]; status != model.StatusSuccessful {
			result.Status = model.StatusSkipped
			result.Message = skipMessage(KindTestCase, dep.Name, status)
			result.EndedOn = r.now()
			r.logger.WithFields(map[string]any{"testCase": exec.Path(), "dependency": dep.Name}).Warn("test case skipped")
			return result
		}
	}

	r.progress("%s", exec.Path())
	log := report.NewExecutionLog(exec.Path(), r.logger)

	scope := r.contexts.Push(worker, exec)
	for k, v := range tc.Attributes {
		scope.SetAttribute(k, v)
	}

	outcome := r.guarded(ctx, worker, exec.Setup, exec.Cleanup, exec.Suite, func() (model.Status, string) {
		if tc.DataProvider != nil {
			iterations, status, message := r.runIterations(ctx, worker, exec, log)
			result.Iterations = iterations
			return status, message
		}
		sc := r.newStepContext(worker, log, exec.Suite, exec.Path())
		return r.execute(ctx, sc, tc)
	})
	r.contexts.Pop(worker, exec)

	result.Setup = outcome.setup
	result.Cleanup = outcome.cleanup
	result.Status = outcome.status
	result.Message = outcome.message
	log.Info(fmt.Sprintf("test case finished with status %s", result.Status))

	result.EndedOn = r.now()
	result.LogFile = r.writeLog(log)
	r.logger.WithFields(map[string]any{"testCase": exec.Path(), "status": string(result.Status)}).Info("test case finished")
	return result
}

// runIterations runs the test case body once per data record, in order.
func (r *Runtime) runIterations(ctx context.Context, worker execctx.WorkerID, exec *Executor, log *report.ExecutionLog) ([]model.TestCaseResult, model.Status, string) {
	provider := exec.TestCase.DataProvider
	records := provider.Records()
	if len(records) == 0 {
		message := "No data provided by data provider"
		log.Error(message)
		return nil, model.StatusErrored, message
	}

	results := make([]model.TestCaseResult, 0, len(records))
	statuses := make([]model.Status, 0, len(records))
	for i, record := range records {
		if err := ctx.Err(); err != nil {
			iteration := model.TestCaseResult{Name: iterationName(exec, i), Status: model.StatusSkipped, Message: "Skipped as the run was cancelled"}
			results = append(results, iteration)
			statuses = append(statuses, iteration.Status)
			continue
		}
		iteration := r.runIteration(ctx, worker, exec, i, provider.Attribute(), record)
		results = append(results, iteration)
		statuses = append(statuses, iteration.Status)
	}

	status, message := model.RollUp(string(KindIteration), statuses)
	return results, status, message
}

func (r *Runtime) runIteration(ctx context.Context, worker execctx.WorkerID, parent *Executor, index int, attribute string, record any) model.TestCaseResult {
	tc := parent.TestCase
	exec := newExecutor(KindIteration, fmt.Sprintf("[%d]", index+1), parent, false)
	exec.Suite = parent.Suite
	exec.TestCase = tc

	result := model.TestCaseResult{Name: iterationName(parent, index), StartedOn: r.now()}
	log := report.NewExecutionLog(exec.Path(), r.logger)
	r.progress("%s", exec.Path())

	scope := r.contexts.Push(worker, exec)
	scope.SetAttribute(attribute, record)
	log.Info(fmt.Sprintf("data iteration %d with %s=%v", index+1, attribute, record))

	setup := blockExecutor(KindDataSetup, exec, tc.DataSetup)
	cleanup := blockExecutor(KindDataCleanup, exec, tc.DataCleanup)
	outcome := r.guarded(ctx, worker, setup, cleanup, exec.Suite, func() (model.Status, string) {
		sc := r.newStepContext(worker, log, exec.Suite, exec.Path())
		return r.execute(ctx, sc, tc)
	})
	r.contexts.Pop(worker, exec)

	result.Setup = outcome.setup
	result.Cleanup = outcome.cleanup
	result.Status = outcome.status
	result.Message = outcome.message
	result.EndedOn = r.now()
	result.LogFile = r.writeLog(log)
	return result
}

func iterationName(exec *Executor, index int) string {
	return fmt.Sprintf("%s[%d]", exec.Name, index+1)
}
