// Package runner executes expanded matrix cells through their build
// phases and aggregates the results into a run report.
//
// The runner owns the phase lifecycle semantics: setup phase failures
// error the cell, script failures fail it, after-phases observe the
// outcome without changing it, and allowed-failure cells never affect
// the overall result. Cells run through an Environment (local host or
// Docker), optionally in parallel with a bounded worker pool.
package runner

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mmr-tortoise/lattice/internal/model"
)

// Runner executes matrix cells for one configuration.
type Runner struct {
	// Config is the build configuration the cells came from.
	Config *model.Config

	// Env provisions per-cell execution sessions.
	Env Environment

	// Logs is the per-run log store.
	Logs *LogStore

	// RunID, when non-empty, is used as the run identifier instead of a
	// generated one. Callers that label external resources (containers)
	// with the run ID set this so both sides agree.
	RunID string

	// Stream, when non-nil, receives a live copy of all phase output in
	// addition to the log files.
	Stream io.Writer

	// Jobs is the number of cells executed concurrently. Values below 1
	// are treated as 1 (sequential, the default).
	Jobs int

	// FailFast cancels outstanding required cells after the first
	// required-cell failure, in addition to the config's fast_finish.
	FailFast bool

	// Verbose, when non-nil, receives progress messages.
	Verbose func(format string, args ...interface{})
}

// Run executes the given cells and returns the aggregated report.
// The returned error covers infrastructure problems only (log store
// failures and the like); cell failures are reported in the RunReport,
// never as an error.
func (r *Runner) Run(ctx context.Context, cells []model.Cell) (*model.RunReport, error) {
	runID := r.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	report := &model.RunReport{
		RunID:     runID,
		StartedAt: time.Now(),
	}

	jobs := r.Jobs
	if jobs < 1 {
		jobs = 1
	}
	failFast := r.FailFast || r.Config.Matrix.FastFinish

	// Cancellation is manual: a required-cell failure under fail-fast
	// cancels the run context, which pending cells observe before they
	// start and running cells observe through their commands.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]model.CellResult, len(cells))

	g := new(errgroup.Group)
	g.SetLimit(jobs)
	for i := range cells {
		i := i
		g.Go(func() error {
			results[i] = r.runCell(runCtx, report.RunID, &cells[i])

			if failFast && !cells[i].AllowFailure {
				switch results[i].Status {
				case model.StatusFailed, model.StatusErrored:
					r.logf("cell %s %s, canceling remaining cells", cells[i].Name(), results[i].Status)
					cancel()
				}
			}
			return nil
		})
	}
	// The group's goroutines never return errors; Wait only synchronizes.
	_ = g.Wait()

	report.Results = results
	report.FinishedAt = time.Now()
	return report, nil
}

// runCell executes all phases for one cell and returns its result.
func (r *Runner) runCell(ctx context.Context, runID string, cell *model.Cell) model.CellResult {
	start := time.Now()
	result := model.CellResult{Cell: *cell}

	finish := func(status model.CellStatus) model.CellResult {
		result.Status = status
		result.Duration = time.Since(start)
		return result
	}

	// Cells canceled before they start report as canceled, not errored.
	if ctx.Err() != nil {
		return finish(model.StatusCanceled)
	}

	logDir, err := r.Logs.CellDir(runID, cell)
	if err != nil {
		result.Message = err.Error()
		return finish(model.StatusErrored)
	}
	result.LogDir = logDir

	r.logf("cell %s: starting", cell.Name())

	session, err := r.Env.Open(ctx, cell)
	if err != nil {
		result.Message = fmt.Sprintf("failed to open execution session: %v", err)
		return finish(model.StatusErrored)
	}
	// Session teardown must happen even when the run context is already
	// canceled, so cleanup uses a context detached from cancellation.
	defer func() { _ = session.Close(context.WithoutCancel(ctx)) }()

	env := r.cellEnv(runID, cell)

	var setupFailed, scriptFailed bool
	for _, phase := range model.Phases() {
		if !r.shouldRunPhase(phase, setupFailed, scriptFailed) {
			continue
		}
		commands := r.Config.Commands(phase)
		if len(commands) == 0 {
			continue
		}

		failed, err := r.runPhase(ctx, session, logDir, phase, commands, env)
		if err != nil {
			result.Message = err.Error()
			return finish(model.StatusErrored)
		}
		if failed {
			if ctx.Err() != nil {
				// The command failed because the run was canceled.
				return finish(model.StatusCanceled)
			}
			if phase.IsAfter() {
				// After-phase failures are recorded in the log only.
				r.logf("cell %s: %s failed (ignored)", cell.Name(), phase)
				continue
			}
			result.FailedPhase = phase
			if phase.IsSetup() {
				setupFailed = true
			} else {
				scriptFailed = true
			}
		}
	}

	switch {
	case setupFailed:
		return finish(model.StatusErrored)
	case scriptFailed:
		return finish(model.StatusFailed)
	default:
		return finish(model.StatusPassed)
	}
}

// shouldRunPhase applies the lifecycle gating rules. A setup failure
// stops the cell outright: nothing after the failing phase runs. A
// script failure still runs after_failure and after_script.
func (r *Runner) shouldRunPhase(phase model.Phase, setupFailed, scriptFailed bool) bool {
	if setupFailed {
		return false
	}
	switch phase {
	case model.PhaseAfterSuccess:
		return !scriptFailed
	case model.PhaseAfterFailure:
		return scriptFailed
	default:
		return true
	}
}

// runPhase runs one phase's commands in order, writing output to the
// phase log (and the live stream, if any). It returns failed=true when
// a command exits non-zero; the error return is reserved for log store
// problems.
func (r *Runner) runPhase(ctx context.Context, session Session, logDir string, phase model.Phase, commands []string, env []model.EnvVar) (failed bool, err error) {
	logFile, err := r.Logs.PhaseLog(logDir, phase)
	if err != nil {
		return false, err
	}
	defer func() { _ = logFile.Close() }()

	out := io.Writer(logFile)
	if r.Stream != nil {
		out = io.MultiWriter(logFile, r.Stream)
	}

	for _, command := range commands {
		fmt.Fprintf(out, "$ %s\n", command)
		if err := session.RunCommand(ctx, command, env, out); err != nil {
			fmt.Fprintf(out, "command failed: %v\n", err)
			return true, nil
		}
	}
	return false, nil
}

// cellEnv builds the full environment for a cell: global assignments,
// the cell's env row (overriding globals), then the built-in variables.
func (r *Runner) cellEnv(runID string, cell *model.Cell) []model.EnvVar {
	env := make([]model.EnvVar, 0, len(r.Config.Env.Global)+len(cell.Env)+6)
	env = append(env, r.Config.Env.Global...)
	env = append(env, cell.Env...)
	env = append(env,
		model.EnvVar{Name: "CI", Value: "true"},
		model.EnvVar{Name: "LATTICE", Value: "true"},
		model.EnvVar{Name: "LATTICE_LANGUAGE", Value: r.Config.Language},
		model.EnvVar{Name: "LATTICE_VERSION", Value: cell.Version},
		model.EnvVar{Name: "LATTICE_CELL", Value: cell.Name()},
		model.EnvVar{Name: "LATTICE_RUN_ID", Value: runID},
	)
	return env
}

func (r *Runner) logf(format string, args ...interface{}) {
	if r.Verbose != nil {
		r.Verbose(format, args...)
	}
}
