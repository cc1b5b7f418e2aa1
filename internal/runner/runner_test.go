package runner

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmr-tortoise/lattice/internal/model"
)

// newRunner builds a Runner over the local environment with logs in a
// temp directory.
func newRunner(t *testing.T, cfg *model.Config) *Runner {
	t.Helper()
	return &Runner{
		Config: cfg,
		Env:    &LocalEnvironment{Dir: t.TempDir()},
		Logs:   NewLogStore(filepath.Join(t.TempDir(), "runs")),
	}
}

// readPhaseLog loads one phase log from a cell result's log directory.
func readPhaseLog(t *testing.T, result model.CellResult, phase model.Phase) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(result.LogDir, phase.String()+".log"))
	require.NoError(t, err)
	return string(data)
}

// TestRun_Passed covers the happy path: all phases succeed, logs are
// written, after_success runs and after_failure does not.
func TestRun_Passed(t *testing.T) {
	cfg := &model.Config{
		Language:     "sh",
		Install:      []string{"true"},
		Script:       []string{"echo script ran"},
		AfterSuccess: []string{"echo success hook"},
		AfterFailure: []string{"echo failure hook"},
	}
	r := newRunner(t, cfg)

	report, err := r.Run(context.Background(), []model.Cell{{Version: "1"}})
	require.NoError(t, err)
	require.Len(t, report.Results, 1)

	result := report.Results[0]
	assert.Equal(t, model.StatusPassed, result.Status)
	assert.Empty(t, result.FailedPhase)
	assert.False(t, report.Failed())
	assert.NotEmpty(t, report.RunID)

	assert.Contains(t, readPhaseLog(t, result, model.PhaseScript), "script ran")
	assert.Contains(t, readPhaseLog(t, result, model.PhaseAfterSuccess), "success hook")
	// after_failure must not have run at all.
	_, statErr := os.Stat(filepath.Join(result.LogDir, "after_failure.log"))
	assert.True(t, os.IsNotExist(statErr))
}

// TestRun_ScriptFailure verifies failed status, after_failure execution,
// and after_script always running.
func TestRun_ScriptFailure(t *testing.T) {
	cfg := &model.Config{
		Language:     "sh",
		Script:       []string{"false"},
		AfterSuccess: []string{"echo success hook"},
		AfterFailure: []string{"echo failure hook"},
		AfterScript:  []string{"echo always"},
	}
	r := newRunner(t, cfg)

	report, err := r.Run(context.Background(), []model.Cell{{Version: "1"}})
	require.NoError(t, err)

	result := report.Results[0]
	assert.Equal(t, model.StatusFailed, result.Status)
	assert.Equal(t, model.PhaseScript, result.FailedPhase)
	assert.True(t, report.Failed())

	assert.Contains(t, readPhaseLog(t, result, model.PhaseAfterFailure), "failure hook")
	assert.Contains(t, readPhaseLog(t, result, model.PhaseAfterScript), "always")
	_, statErr := os.Stat(filepath.Join(result.LogDir, "after_success.log"))
	assert.True(t, os.IsNotExist(statErr))
}

// TestRun_SetupFailure verifies errored status and that nothing after
// the failing setup phase runs.
func TestRun_SetupFailure(t *testing.T) {
	cfg := &model.Config{
		Language:    "sh",
		Install:     []string{"false"},
		Script:      []string{"echo script ran"},
		AfterScript: []string{"echo always"},
	}
	r := newRunner(t, cfg)

	report, err := r.Run(context.Background(), []model.Cell{{Version: "1"}})
	require.NoError(t, err)

	result := report.Results[0]
	assert.Equal(t, model.StatusErrored, result.Status)
	assert.Equal(t, model.PhaseInstall, result.FailedPhase)

	for _, phase := range []model.Phase{model.PhaseScript, model.PhaseAfterScript} {
		_, statErr := os.Stat(filepath.Join(result.LogDir, phase.String()+".log"))
		assert.True(t, os.IsNotExist(statErr), "phase %s must not run after setup failure", phase)
	}
}

// TestRun_MultipleCommandsStopAtFirstFailure verifies commands within a
// phase run in order and stop at the first non-zero exit.
func TestRun_MultipleCommandsStopAtFirstFailure(t *testing.T) {
	cfg := &model.Config{
		Language: "sh",
		Script:   []string{"echo first", "false", "echo third"},
	}
	r := newRunner(t, cfg)

	report, err := r.Run(context.Background(), []model.Cell{{Version: "1"}})
	require.NoError(t, err)

	log := readPhaseLog(t, report.Results[0], model.PhaseScript)
	assert.Contains(t, log, "first")
	assert.NotContains(t, log, "third")
	assert.Equal(t, model.StatusFailed, report.Results[0].Status)
}

// TestRun_AllowFailure verifies tolerated cells report their failure
// without failing the run.
func TestRun_AllowFailure(t *testing.T) {
	cfg := &model.Config{
		Language: "sh",
		Script:   []string{"exit $LATTICE_EXIT"},
	}
	r := newRunner(t, cfg)

	cells := []model.Cell{
		{Version: "1", Env: model.EnvRow{{Name: "LATTICE_EXIT", Value: "0"}}},
		{Version: "2", Env: model.EnvRow{{Name: "LATTICE_EXIT", Value: "1"}}, AllowFailure: true},
	}

	report, err := r.Run(context.Background(), cells)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPassed, report.Results[0].Status)
	assert.Equal(t, model.StatusFailed, report.Results[1].Status)
	assert.False(t, report.Failed(), "allowed failures must not fail the run")
}

// TestRun_EnvInjection verifies globals, cell env precedence, and the
// built-in variables.
func TestRun_EnvInjection(t *testing.T) {
	outFile := filepath.Join(t.TempDir(), "env.txt")
	cfg := &model.Config{
		Language: "python",
		Env: model.EnvBlock{
			Global: model.EnvRow{
				{Name: "SHARED", Value: "global"},
				{Name: "ONLY_GLOBAL", Value: "yes"},
			},
		},
		Script: []string{"printenv SHARED ONLY_GLOBAL CI LATTICE_LANGUAGE LATTICE_VERSION LATTICE_CELL > " + outFile},
	}
	r := newRunner(t, cfg)

	cell := model.Cell{
		Version: "3.12",
		Env:     model.EnvRow{{Name: "SHARED", Value: "cell"}},
	}
	report, err := r.Run(context.Background(), []model.Cell{cell})
	require.NoError(t, err)
	require.Equal(t, model.StatusPassed, report.Results[0].Status)

	data, err := os.ReadFile(outFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "cell", lines[0]) // cell row overrides the global
	assert.Equal(t, "yes", lines[1])
	assert.Equal(t, "true", lines[2])
	assert.Equal(t, "python", lines[3])
	assert.Equal(t, "3.12", lines[4])
	assert.Equal(t, "3.12/SHARED=cell", lines[5])
}

// TestRun_FailFast verifies cancellation of cells that have not started
// when a required cell fails.
func TestRun_FailFast(t *testing.T) {
	cfg := &model.Config{
		Language: "sh",
		Script:   []string{"false"},
	}
	r := newRunner(t, cfg)
	r.FailFast = true
	// Jobs defaults to 1, so cells run strictly in order.

	report, err := r.Run(context.Background(), []model.Cell{
		{Version: "1"},
		{Version: "2"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, report.Results[0].Status)
	assert.Equal(t, model.StatusCanceled, report.Results[1].Status)
	assert.True(t, report.Failed())
}

// TestRun_FailFastIgnoresAllowedFailures verifies an allowed-failure
// cell never triggers cancellation.
func TestRun_FailFastIgnoresAllowedFailures(t *testing.T) {
	cfg := &model.Config{
		Language: "sh",
		Script:   []string{"exit $LATTICE_EXIT"},
	}
	r := newRunner(t, cfg)
	r.FailFast = true

	report, err := r.Run(context.Background(), []model.Cell{
		{Version: "1", Env: model.EnvRow{{Name: "LATTICE_EXIT", Value: "1"}}, AllowFailure: true},
		{Version: "2", Env: model.EnvRow{{Name: "LATTICE_EXIT", Value: "0"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, report.Results[0].Status)
	assert.Equal(t, model.StatusPassed, report.Results[1].Status)
	assert.False(t, report.Failed())
}

// TestRun_Parallel smoke-tests the worker pool: all cells complete and
// results land at their matrix positions.
func TestRun_Parallel(t *testing.T) {
	cfg := &model.Config{
		Language: "sh",
		Script:   []string{"echo $LATTICE_VERSION"},
	}
	r := newRunner(t, cfg)
	r.Jobs = 3

	cells := []model.Cell{
		{Version: "1"}, {Version: "2"}, {Version: "3"}, {Version: "4"},
	}
	report, err := r.Run(context.Background(), cells)
	require.NoError(t, err)
	require.Len(t, report.Results, 4)
	for i, res := range report.Results {
		assert.Equal(t, cells[i].Name(), res.Cell.Name())
		assert.Equal(t, model.StatusPassed, res.Status)
	}
}

// failingEnv is an Environment whose sessions cannot be opened.
type failingEnv struct{}

func (failingEnv) Open(context.Context, *model.Cell) (Session, error) {
	return nil, errors.New("docker daemon unreachable")
}

// TestRun_SessionOpenFailure verifies session provisioning errors mark
// the cell errored with a diagnostic, rather than aborting the run.
func TestRun_SessionOpenFailure(t *testing.T) {
	cfg := &model.Config{Language: "sh", Script: []string{"true"}}
	r := newRunner(t, cfg)
	r.Env = failingEnv{}

	report, err := r.Run(context.Background(), []model.Cell{{Version: "1"}})
	require.NoError(t, err)
	assert.Equal(t, model.StatusErrored, report.Results[0].Status)
	assert.Contains(t, report.Results[0].Message, "docker daemon unreachable")
	assert.True(t, report.Failed())
}

// TestSanitizeCellName verifies the path-safe mapping of cell names.
func TestSanitizeCellName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"3.12/DJANGO=5.0", "3.12_DJANGO-5.0"},
		{"3.12/DJANGO=5.0 CRYPTO=yes", "3.12_DJANGO-5.0_CRYPTO-yes"},
		{"default", "default"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeCellName(tt.input))
		})
	}
}

// TestLocalSession_Timeout verifies a hung command is killed at the
// session timeout.
func TestLocalSession_Timeout(t *testing.T) {
	session := &LocalSession{Timeout: 50 * time.Millisecond}

	start := time.Now()
	err := session.RunCommand(context.Background(), "sleep 5", nil, io.Discard)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}
