// Package cli — deploy.go implements the "lattice deploy" command.
//
// The deploy command evaluates the configured trigger conditions
// against the build context (tag, branch, deploying cell) and, when
// they all hold, assembles and runs the provider's command plan.
// Credentials are resolved at the last moment and never appear in
// command lines or output; encrypted blobs cannot be used locally and
// fail with an explanation.
//
// With --check, the command only reports the per-rule decisions and
// runs nothing.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/lattice/internal/deploy"
	"github.com/mmr-tortoise/lattice/internal/matrix"
	"github.com/mmr-tortoise/lattice/internal/model"
	"github.com/mmr-tortoise/lattice/internal/runner"
	"github.com/mmr-tortoise/lattice/internal/validate"
)

// deployFlags holds the flag values for the deploy command.
type deployFlags struct {
	// check evaluates the trigger conditions without deploying.
	check bool

	// tag is the tag the build runs against; defaults to $LATTICE_TAG.
	tag string

	// branch is the build branch; defaults to $LATTICE_BRANCH.
	branch string

	// cell names the matrix cell acting as the deploy cell. Empty
	// selects the first cell of the expanded matrix.
	cell string
}

// NewDeployCommand creates the "deploy" cobra command.
func NewDeployCommand() *cobra.Command {
	flags := &deployFlags{}

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Run the configured deploy step",
		Long: `Evaluate the deploy trigger conditions and run the provider commands.

The build context comes from --tag/--branch (falling back to the
LATTICE_TAG and LATTICE_BRANCH environment variables) and the deploy
cell selected with --cell. All configured conditions must hold for the
deploy to run.

Examples:
  lattice deploy --check --tag v1.0.0 --cell "3.12/DJANGO=5.0"
  lattice deploy --tag v1.0.0`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(cmd.Context(), flags)
		},
	}

	cmd.Flags().BoolVar(&flags.check, "check", false,
		"Evaluate trigger conditions and print the decisions without deploying")
	cmd.Flags().StringVar(&flags.tag, "tag", os.Getenv("LATTICE_TAG"),
		"Tag the build runs against (default: $LATTICE_TAG)")
	cmd.Flags().StringVar(&flags.branch, "branch", os.Getenv("LATTICE_BRANCH"),
		"Branch of the build (default: $LATTICE_BRANCH)")
	cmd.Flags().StringVar(&flags.cell, "cell", "",
		"Matrix cell acting as the deploy cell (default: first cell)")

	return cmd
}

// runDeploy is the main logic function for the deploy command.
func runDeploy(ctx context.Context, flags *deployFlags) error {
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
	if cfg.Deploy == nil {
		return model.NewCLIError(model.ExitGeneralError,
			"configuration has no deploy section")
	}

	// Resolve the deploy cell. The first cell of the expanded matrix is
	// the default, matching how hosted CI services pick the deploy job.
	cells := matrix.Expand(cfg)
	if len(cells) == 0 {
		return model.NewCLIError(model.ExitGeneralError, "the build matrix is empty")
	}
	deployCell := cells[0]
	if flags.cell != "" {
		selected, unknown := matrix.Select(cells, []string{flags.cell})
		if len(unknown) > 0 {
			return model.NewCLIError(model.ExitGeneralError,
				fmt.Sprintf("unknown cell %q (see \"lattice matrix\" for names)", flags.cell))
		}
		deployCell = selected[0]
	}

	deployCtx := &deploy.Context{
		Tag:       flags.tag,
		Branch:    flags.branch,
		Cell:      deployCell,
		GlobalEnv: cfg.Env.Global,
	}

	decisions, satisfied, err := deploy.Evaluate(cfg.Deploy, deployCtx)
	if err != nil {
		return model.WrapCLIError(model.ExitConfigInvalid, "invalid deploy condition", err)
	}

	printDeployDecisions(cfg.Deploy, deployCell, decisions, satisfied)

	if flags.check {
		// Check mode only inspects; it never deploys and never fails
		// on unmet conditions.
		return nil
	}
	if !satisfied {
		return model.NewCLIError(model.ExitDeployConditionsNotMet, "deploy conditions not met")
	}

	// Conditions hold: assemble and run the provider plan. Credentials
	// resolve from the process environment here, not earlier, so a
	// --check never touches them.
	plan, err := deploy.BuildPlan(cfg.Deploy, os.LookupEnv)
	if err != nil {
		return model.WrapCLIError(model.ExitDeployFailed, "failed to assemble deploy commands", err)
	}

	VerboseLog("Deploying with provider %s as cell %s", cfg.Deploy.Provider, deployCell.Name())
	if err := deploy.Execute(ctx, plan, &runner.LocalSession{}, os.Stdout); err != nil {
		return err
	}

	if !IsJSONOutput() {
		fmt.Println("Deploy succeeded.")
	}
	return nil
}

// printDeployDecisions outputs the per-rule trigger decisions.
func printDeployDecisions(d *model.Deploy, cell model.Cell, decisions []deploy.Decision, satisfied bool) {
	if IsJSONOutput() {
		out := struct {
			Provider  string            `json:"provider"`
			Cell      string            `json:"cell"`
			Decisions []deploy.Decision `json:"decisions"`
			Satisfied bool              `json:"satisfied"`
		}{
			Provider:  string(d.Provider),
			Cell:      cell.Name(),
			Decisions: append([]deploy.Decision{}, decisions...),
			Satisfied: satisfied,
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(data))
		return
	}

	fmt.Printf("Deploy provider: %s (cell %s)\n", d.Provider, cell.Name())
	if len(decisions) == 0 {
		fmt.Println("No trigger conditions configured; deploy always runs.")
		return
	}
	for _, dec := range decisions {
		fmt.Printf("  %s %s: %s\n", FormatDecisionMark(dec.Satisfied), dec.Rule, dec.Detail)
	}
}

// FormatDecisionMark renders the pass/fail marker for one trigger
// decision. Exported for testing.
func FormatDecisionMark(satisfied bool) string {
	if satisfied {
		return "[ok]"
	}
	return "[--]"
}
