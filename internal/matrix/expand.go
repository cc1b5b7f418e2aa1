// Package matrix expands a build-matrix configuration into the concrete
// list of cells an execution run will cover.
//
// Expansion is deterministic: the cross product follows declaration order
// (versions outer, env rows inner), excludes remove, includes append at
// the end, and allow-failure marking is applied last. Determinism matters
// because cell names double as log directory names and as the user-facing
// identifiers accepted by `lattice run --cell`.
package matrix

import (
	"github.com/mmr-tortoise/lattice/internal/model"
)

// Expand produces the concrete matrix cells for a configuration.
//
// The steps, in order:
//  1. Cross product of versions × env.matrix rows. A missing axis
//     contributes exactly one empty slot, so a config with neither axis
//     yields a single "default" cell.
//  2. matrix.exclude removes matching cells from the cross product
//     (includes are never excluded; they are explicit requests).
//  3. matrix.include appends extra cells.
//  4. matrix.allow_failures marks matching cells as tolerated.
func Expand(cfg *model.Config) []model.Cell {
	versions := cfg.Versions
	if len(versions) == 0 {
		versions = []string{""}
	}
	rows := cfg.Env.Matrix
	if len(rows) == 0 {
		rows = []model.EnvRow{nil}
	}

	var cells []model.Cell
	for _, version := range versions {
		for _, row := range rows {
			cell := model.Cell{Version: version, Env: row}
			if excluded(&cell, cfg.Matrix.Exclude) {
				continue
			}
			cells = append(cells, cell)
		}
	}

	for _, inc := range cfg.Matrix.Include {
		cells = append(cells, model.Cell{
			Version:     inc.Version,
			Env:         inc.Env,
			FromInclude: true,
		})
	}

	for i := range cells {
		if matchesAny(&cells[i], cfg.Matrix.AllowFailures) {
			cells[i].AllowFailure = true
		}
	}

	return cells
}

// Select returns the cells whose names appear in the given list, in
// matrix order. Unknown names are returned so the caller can report them.
func Select(cells []model.Cell, names []string) (selected []model.Cell, unknown []string) {
	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}

	for _, cell := range cells {
		if wanted[cell.Name()] {
			selected = append(selected, cell)
			delete(wanted, cell.Name())
		}
	}
	for _, n := range names {
		if wanted[n] {
			unknown = append(unknown, n)
		}
	}
	return selected, unknown
}

// MatchCount returns how many cells the selector matches. Validation uses
// this to enforce that allow_failures entries reference real cells.
func MatchCount(cells []model.Cell, sel model.MatrixSelector) int {
	count := 0
	for i := range cells {
		if sel.Matches(&cells[i]) {
			count++
		}
	}
	return count
}

// excluded reports whether any exclude selector matches the cell.
func excluded(cell *model.Cell, excludes []model.MatrixSelector) bool {
	return matchesAny(cell, excludes)
}

// matchesAny reports whether any non-zero selector matches the cell.
// Zero selectors (no attributes at all) are skipped; validation rejects
// them with a proper diagnostic.
func matchesAny(cell *model.Cell, selectors []model.MatrixSelector) bool {
	for _, sel := range selectors {
		if sel.IsZero() {
			continue
		}
		if sel.Matches(cell) {
			return true
		}
	}
	return false
}
