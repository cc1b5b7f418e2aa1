// Package cli — run.go implements the "lattice run" command.
//
// The run command validates the configuration, expands the matrix,
// and executes the selected cells through the build lifecycle, either
// directly on the host or inside Docker containers (--docker). The
// command exits non-zero when any required cell fails.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/lattice/internal/docker"
	"github.com/mmr-tortoise/lattice/internal/matrix"
	"github.com/mmr-tortoise/lattice/internal/model"
	"github.com/mmr-tortoise/lattice/internal/runner"
	"github.com/mmr-tortoise/lattice/internal/validate"
)

// runFlags holds the flag values for the run command.
type runFlags struct {
	// cells restricts execution to the named cells. Empty means all.
	cells []string

	// jobs is the number of cells executed concurrently.
	jobs int

	// failFast cancels remaining required cells after the first
	// required-cell failure.
	failFast bool

	// useDocker runs each cell in its own container instead of on
	// the host.
	useDocker bool

	// logRoot overrides where per-cell phase logs are stored.
	logRoot string
}

// NewRunCommand creates the "run" cobra command.
func NewRunCommand() *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the build matrix",
		Long: `Execute the expanded build matrix through its lifecycle phases.

Cells run sequentially by default; --jobs enables parallel execution.
With --docker, each cell runs in its own container built from the
image for its version (language:version by default).

Examples:
  lattice run
  lattice run --cell "3.12/DJANGO=5.0" --cell 3.13
  lattice run --jobs 4 --fail-fast
  lattice run --docker`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringArrayVar(&flags.cells, "cell", nil,
		"Run only the named cell (repeatable); names as shown by \"lattice matrix\"")
	cmd.Flags().IntVar(&flags.jobs, "jobs", 1, "Number of cells to run concurrently")
	cmd.Flags().BoolVar(&flags.failFast, "fail-fast", false,
		"Cancel remaining required cells after the first required-cell failure")
	cmd.Flags().BoolVar(&flags.useDocker, "docker", false,
		"Run each cell in its own Docker container")
	cmd.Flags().StringVar(&flags.logRoot, "log-dir", "",
		"Directory for per-cell phase logs (default: "+runner.DefaultLogRoot+")")

	return cmd
}

// runRun is the main logic function for the run command.
func runRun(ctx context.Context, flags *runFlags) error {
	// Step 1: Load and validate the configuration. Running an invalid
	// matrix would produce misleading results, so errors stop here.
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if result := validate.Config(cfg); !result.OK() {
		for _, f := range result.Errors() {
			fmt.Fprintln(os.Stderr, f.String())
		}
		return model.NewCLIError(model.ExitConfigInvalid, "configuration is invalid")
	}

	// Step 2: Expand the matrix and apply the --cell selection.
	cells := matrix.Expand(cfg)
	if len(flags.cells) > 0 {
		selected, unknown := matrix.Select(cells, flags.cells)
		if len(unknown) > 0 {
			return model.NewCLIError(model.ExitGeneralError,
				fmt.Sprintf("unknown cell(s): %s (see \"lattice matrix\" for names)",
					strings.Join(unknown, ", ")))
		}
		cells = selected
	}
	VerboseLog("Executing %d matrix cell(s)", len(cells))

	// Step 3: Build the execution environment. The run ID is generated
	// here so Docker containers can be labeled with it.
	runID := uuid.NewString()
	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to determine working directory: %w", err)
	}

	var env runner.Environment
	if flags.useDocker {
		cli, err := docker.NewClient()
		if err != nil {
			return err
		}
		defer func() { _ = cli.Close() }()
		if err := cli.Ping(ctx); err != nil {
			return err
		}
		VerboseLog("Connected to Docker daemon")

		env = &docker.Environment{
			Client:  cli,
			Config:  cfg,
			RunID:   runID,
			Dir:     workDir,
			Verbose: VerboseLog,
		}
	} else {
		env = &runner.LocalEnvironment{Dir: workDir}
	}

	// Step 4: Run. Phase output streams to stdout in text mode; JSON
	// mode keeps stdout clean for the report and relies on log files.
	r := &runner.Runner{
		Config:   cfg,
		Env:      env,
		Logs:     runner.NewLogStore(flags.logRoot),
		RunID:    runID,
		Jobs:     flags.jobs,
		FailFast: flags.failFast,
		Verbose:  VerboseLog,
	}
	if !IsJSONOutput() {
		r.Stream = os.Stdout
	}

	report, err := r.Run(ctx, cells)
	if err != nil {
		return err
	}

	// Step 5: Report and translate the outcome into the exit code.
	printRunReport(report)
	if report.Failed() {
		return model.NewCLIError(model.ExitRunFailed, "one or more required cells failed")
	}
	return nil
}

// printRunReport outputs the run report in text or JSON format.
func printRunReport(report *model.RunReport) {
	if IsJSONOutput() {
		data, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(data))
		return
	}

	fmt.Printf("\nRun %s\n", report.RunID)
	fmt.Printf("%-30s %-10s %-12s %s\n", "CELL", "STATUS", "DURATION", "DETAIL")
	for i := range report.Results {
		res := &report.Results[i]
		fmt.Printf("%-30s %-10s %-12s %s\n",
			res.Cell.Name(),
			res.Status.String(),
			res.Duration.Round(time.Millisecond),
			FormatResultDetail(res),
		)
	}
	fmt.Println(SummarizeReport(report))
}

// FormatResultDetail renders the detail column for one cell result:
// the failed phase, the allow-failure marker, an infrastructure
// message, or "-" when there is nothing to say. Exported for testing.
func FormatResultDetail(res *model.CellResult) string {
	var parts []string
	if res.FailedPhase != "" {
		parts = append(parts, fmt.Sprintf("failed in %s", res.FailedPhase))
	}
	if res.Message != "" {
		parts = append(parts, res.Message)
	}
	if res.Cell.AllowFailure {
		parts = append(parts, "(allowed failure)")
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, " ")
}

// SummarizeReport renders the one-line run summary, e.g.
// "3 passed, 1 failed (run failed)". Exported for testing.
func SummarizeReport(report *model.RunReport) string {
	counts := report.Counts()
	var parts []string
	for _, status := range []model.CellStatus{
		model.StatusPassed, model.StatusFailed, model.StatusErrored, model.StatusCanceled,
	} {
		if n := counts[status]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, status))
		}
	}
	summary := strings.Join(parts, ", ")
	if report.Failed() {
		return summary + " (run failed)"
	}
	return summary + " (run passed)"
}
