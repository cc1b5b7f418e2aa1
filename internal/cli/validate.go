// Package cli — validate.go implements the "lattice validate" command.
//
// The validate command loads the configuration, runs all structural and
// cross-reference checks over it, and reports the findings. Warnings do
// not affect the exit code; any error-severity finding exits with the
// config-invalid code.
package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/lattice/internal/model"
	"github.com/mmr-tortoise/lattice/internal/validate"
)

// NewValidateCommand creates the "validate" cobra command.
func NewValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the build configuration",
		Long: `Validate the build configuration without running anything.

Checks include required fields, matrix selector consistency (every
allow_failures entry must match an expanded cell), and deploy trigger
coherence.

Examples:
  lattice validate
  lattice validate --config ci/lattice.yml --json`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate()
		},
	}
}

// runValidate is the main logic function for the validate command.
func runValidate() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	result := validate.Config(cfg)
	printValidateResult(cfg.Path, result)

	if !result.OK() {
		return model.NewCLIError(model.ExitConfigInvalid,
			fmt.Sprintf("configuration has %d error(s)", len(result.Errors())))
	}
	return nil
}

// printValidateResult outputs the findings in text or JSON format.
func printValidateResult(path string, result *validate.Result) {
	if IsJSONOutput() {
		out := struct {
			Config   string             `json:"config"`
			Valid    bool               `json:"valid"`
			Findings []validate.Finding `json:"findings"`
		}{
			Config: path,
			Valid:  result.OK(),
			// Empty slice rather than nil so JSON shows [] instead of null.
			Findings: append([]validate.Finding{}, result.Findings...),
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(data))
		return
	}

	for _, f := range result.Findings {
		fmt.Println(f.String())
	}
	if result.OK() {
		fmt.Printf("%s is valid\n", path)
	}
}
