// Package cli — matrix.go implements the "lattice matrix" command.
//
// The matrix command expands the configuration's version × env matrix
// (after include/exclude adjustments) and prints the resulting cells,
// marking the ones whose failure is tolerated. It is the quickest way
// to see what "lattice run" would execute.
package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/lattice/internal/matrix"
	"github.com/mmr-tortoise/lattice/internal/model"
	"github.com/mmr-tortoise/lattice/internal/validate"
)

// NewMatrixCommand creates the "matrix" cobra command.
func NewMatrixCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "matrix",
		Short: "Show the expanded build matrix",
		Long: `Expand the configuration's build matrix and list its cells.

Each cell is shown with its name, runtime version, environment row,
and whether its failure is allowed.

Examples:
  lattice matrix
  lattice matrix --json`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runMatrix()
		},
	}
}

// runMatrix is the main logic function for the matrix command.
// The config must validate before expansion is meaningful, so errors
// found here exit with the config-invalid code.
func runMatrix() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if result := validate.Config(cfg); !result.OK() {
		for _, f := range result.Errors() {
			fmt.Println(f.String())
		}
		return model.NewCLIError(model.ExitConfigInvalid, "configuration is invalid")
	}

	cells := matrix.Expand(cfg)
	printMatrixResult(cells)
	return nil
}

// matrixCellJSON is the JSON output structure for a single cell.
type matrixCellJSON struct {
	Name         string   `json:"name"`
	Version      string   `json:"version,omitempty"`
	Env          []string `json:"env"`
	AllowFailure bool     `json:"allowFailure"`
	FromInclude  bool     `json:"fromInclude"`
}

// printMatrixResult outputs the cell list in text or JSON format.
func printMatrixResult(cells []model.Cell) {
	if IsJSONOutput() {
		out := struct {
			Cells []matrixCellJSON `json:"cells"`
		}{Cells: make([]matrixCellJSON, 0, len(cells))}

		for i := range cells {
			cell := &cells[i]
			entry := matrixCellJSON{
				Name:         cell.Name(),
				Version:      cell.Version,
				Env:          make([]string, 0, len(cell.Env)),
				AllowFailure: cell.AllowFailure,
				FromInclude:  cell.FromInclude,
			}
			for _, v := range cell.Env {
				entry.Env = append(entry.Env, v.String())
			}
			out.Cells = append(out.Cells, entry)
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(data))
		return
	}

	if len(cells) == 0 {
		fmt.Println("The build matrix is empty.")
		return
	}

	fmt.Printf("%-30s %-10s %-30s %s\n", "CELL", "VERSION", "ENV", "ALLOW FAILURE")
	for i := range cells {
		cell := &cells[i]
		fmt.Printf("%-30s %-10s %-30s %s\n",
			cell.Name(),
			orDash(cell.Version),
			orDash(cell.Env.String()),
			FormatAllowFailure(cell.AllowFailure),
		)
	}
}

// FormatAllowFailure renders the allow-failure column value.
// Exported for testing.
func FormatAllowFailure(allowed bool) string {
	if allowed {
		return "yes"
	}
	return "-"
}

// orDash substitutes "-" for empty table values.
func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
