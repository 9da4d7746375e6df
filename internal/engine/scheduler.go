package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/alexisbeaulieu97/autoflow/internal/config"
	"github.com/alexisbeaulieu97/autoflow/internal/execctx"
	"github.com/alexisbeaulieu97/autoflow/internal/model"
)

// runSuites starts one worker per suite. A worker waits for the suites it
// depends on before taking a concurrency slot, so waiting never holds one.
func (r *Runtime) runSuites(ctx context.Context) ([]model.TestSuiteResult, error) {
	suites := r.plan.Suites
	results := make([]model.TestSuiteResult, len(suites))
	done := make(map[string]chan struct{}, len(suites))
	index := make(map[string]int, len(suites))
	for i, exec := range suites {
		done[exec.Name] = make(chan struct{})
		index[exec.Name] = i
	}

	slots := semaphore.NewWeighted(int64(r.opts.Parallel))
	g, gctx := errgroup.WithContext(ctx)

	for i, exec := range suites {
		g.Go(func() error {
			defer close(done[exec.Name])

			for _, dep := range exec.deps {
				select {
				case <-done[dep.Name]:
				case <-gctx.Done():
					results[i] = skippedSuite(exec, "Skipped as the run was cancelled")
					return gctx.Err()
				}
				if status := results[index[dep.Name]].Status; status != model.StatusSuccessful {
					results[i] = skippedSuite(exec, skipMessage(KindSuite, dep.Name, status))
					r.logger.WithFields(map[string]any{"suite": exec.Name, "dependency": dep.Name}).Warn("test suite skipped")
					return nil
				}
			}

			if err := slots.Acquire(gctx, 1); err != nil {
				results[i] = skippedSuite(exec, "Skipped as the run was cancelled")
				return err
			}
			defer slots.Release(1)

			results[i] = r.runSuite(gctx, exec)
			return nil
		})
	}

	err := g.Wait()
	return results, err
}

func (r *Runtime) runSuite(ctx context.Context, exec *Executor) model.TestSuiteResult {
	worker := execctx.WorkerID("suite:" + exec.Name)
	result := model.TestSuiteResult{Name: exec.Name}
	log := r.logger.WithField("suite", exec.Name)
	log.Info("test suite started")
	r.progress("suite %s", exec.Name)

	scope := r.contexts.Push(worker, exec)
	for k, v := range exec.Suite.Attributes {
		scope.SetAttribute(k, v)
	}
	defer r.contexts.Pop(worker, exec)

	outcome := r.guarded(ctx, worker, exec.Setup, exec.Cleanup, exec.Suite, func() (model.Status, string) {
		statuses := make(map[string]model.Status, len(exec.Children))
		all := make([]model.Status, 0, len(exec.Children))
		for _, child := range exec.Children {
			tc := r.runTestCase(ctx, worker, child, statuses)
			statuses[child.Name] = tc.Status
			all = append(all, tc.Status)
			result.Add(tc)
		}
		return model.RollUp(string(KindTestCase), all)
	})

	result.Setup = outcome.setup
	result.Cleanup = outcome.cleanup
	result.Status = outcome.status
	result.Message = outcome.message
	if failed(outcome.setup) {
		message := skipMessage(KindSetup, exec.Name, outcome.setup.Status)
		for _, child := range exec.Children {
			result.Add(skippedTestCase(child, message))
		}
	}

	log.WithField("status", string(result.Status)).Info("test suite finished")
	return result
}

func skippedSuite(exec *Executor, message string) model.TestSuiteResult {
	result := model.TestSuiteResult{Name: exec.Name, Status: model.StatusSkipped, Message: message}
	for _, child := range exec.Children {
		result.Add(skippedTestCase(child, message))
	}
	return result
}

func skippedTestCase(exec *Executor, message string) model.TestCaseResult {
	return model.TestCaseResult{Name: exec.Name, Status: model.StatusSkipped, Message: message}
}

type guardedOutcome struct {
	setup   *model.ExecutionDetails
	cleanup *model.ExecutionDetails
	status  model.Status
	message string
}

// guarded runs setup, body and cleanup. A failed setup short-circuits the
// body and the cleanup; a failed cleanup turns the outcome into ERRORED.
func (r *Runtime) guarded(ctx context.Context, worker execctx.WorkerID, setup, cleanup *Executor, suite *config.Suite, body func() (model.Status, string)) guardedOutcome {
	var out guardedOutcome

	out.setup = r.runBlock(ctx, worker, setup, suite)
	if failed(out.setup) {
		out.status = model.StatusErrored
		out.message = fmt.Sprintf("Setup failed with error: %s", out.setup.Message)
		return out
	}

	out.status, out.message = body()

	out.cleanup = r.runBlock(ctx, worker, cleanup, suite)
	if failed(out.cleanup) {
		out.status = model.Effective(out.status, model.StatusErrored)
		cleanupMessage := fmt.Sprintf("Cleanup failed with error: %s", out.cleanup.Message)
		if out.message == "" {
			out.message = cleanupMessage
		} else {
			out.message += "; " + cleanupMessage
		}
	}
	return out
}
