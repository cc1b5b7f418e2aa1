// logs.go implements the per-run log store.
//
// Each run gets a directory named by its run ID, with one subdirectory
// per cell and one log file per executed phase:
//
//	.lattice/runs/<run-id>/<cell>/install.log
//	.lattice/runs/<run-id>/<cell>/script.log
//
// Cell names contain characters that are awkward in paths ("/", "=",
// spaces), so directory names use a sanitized form.
package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mmr-tortoise/lattice/internal/model"
)

// DefaultLogRoot is the log store location relative to the project root.
const DefaultLogRoot = ".lattice/runs"

// LogStore writes per-cell, per-phase log files for matrix runs.
type LogStore struct {
	// Root is the directory runs are stored under.
	Root string
}

// NewLogStore creates a log store rooted at the given directory.
// An empty root selects DefaultLogRoot.
func NewLogStore(root string) *LogStore {
	if root == "" {
		root = DefaultLogRoot
	}
	return &LogStore{Root: root}
}

// CellDir creates and returns the log directory for one cell of a run.
func (s *LogStore) CellDir(runID string, cell *model.Cell) (string, error) {
	dir := filepath.Join(s.Root, runID, SanitizeCellName(cell.Name()))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}
	return dir, nil
}

// PhaseLog opens the log file for a phase within a cell directory.
// The file is truncated if it already exists (re-runs overwrite).
func (s *LogStore) PhaseLog(cellDir string, phase model.Phase) (*os.File, error) {
	path := filepath.Join(cellDir, phase.String()+".log")
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create phase log: %w", err)
	}
	return f, nil
}

// pathUnsafe matches the cell-name characters replaced in directory names.
var pathUnsafe = strings.NewReplacer(
	"/", "_",
	"=", "-",
	" ", "_",
	"\"", "",
	"'", "",
)

// SanitizeCellName converts a cell name into a filesystem-safe directory
// name: "3.12/DJANGO=5.0" becomes "3.12_DJANGO-5.0". The mapping is not
// reversible; the original name is preserved in the run report.
func SanitizeCellName(name string) string {
	return pathUnsafe.Replace(name)
}
