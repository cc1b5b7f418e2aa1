// Package cli — output_test.go contains unit tests for the pure
// formatting functions used by the matrix, run, and deploy commands.
//
// These tests verify output transformation logic without requiring a
// Docker daemon or any external dependencies.
package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mmr-tortoise/lattice/internal/model"
)

func TestFormatAllowFailure(t *testing.T) {
	assert.Equal(t, "yes", FormatAllowFailure(true))
	assert.Equal(t, "-", FormatAllowFailure(false))
}

// TestFormatResultDetail verifies the detail column for the run report
// table across the result shapes it has to render.
func TestFormatResultDetail(t *testing.T) {
	tests := []struct {
		name   string
		result model.CellResult
		want   string
	}{
		{
			name:   "passed cell has nothing to say",
			result: model.CellResult{Status: model.StatusPassed},
			want:   "-",
		},
		{
			name: "failed cell names the phase",
			result: model.CellResult{
				Status:      model.StatusFailed,
				FailedPhase: model.PhaseScript,
			},
			want: "failed in script",
		},
		{
			name: "errored cell carries the diagnostic",
			result: model.CellResult{
				Status:  model.StatusErrored,
				Message: "failed to open execution session: no such image",
			},
			want: "failed to open execution session: no such image",
		},
		{
			name: "allowed failure is marked",
			result: model.CellResult{
				Cell:        model.Cell{AllowFailure: true},
				Status:      model.StatusFailed,
				FailedPhase: model.PhaseScript,
			},
			want: "failed in script (allowed failure)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatResultDetail(&tt.result))
		})
	}
}

// TestSummarizeReport verifies the one-line run summary, including the
// allow-failure rule: a run with only tolerated failures still passes.
func TestSummarizeReport(t *testing.T) {
	tests := []struct {
		name    string
		results []model.CellResult
		want    string
	}{
		{
			name: "all passed",
			results: []model.CellResult{
				{Status: model.StatusPassed},
				{Status: model.StatusPassed},
			},
			want: "2 passed (run passed)",
		},
		{
			name: "required failure fails the run",
			results: []model.CellResult{
				{Status: model.StatusPassed},
				{Status: model.StatusFailed},
			},
			want: "1 passed, 1 failed (run failed)",
		},
		{
			name: "allowed failure does not fail the run",
			results: []model.CellResult{
				{Status: model.StatusPassed},
				{Cell: model.Cell{AllowFailure: true}, Status: model.StatusFailed},
			},
			want: "1 passed, 1 failed (run passed)",
		},
		{
			name: "errored and canceled cells are counted",
			results: []model.CellResult{
				{Status: model.StatusErrored},
				{Status: model.StatusCanceled},
			},
			want: "1 errored, 1 canceled (run failed)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := &model.RunReport{Results: tt.results}
			assert.Equal(t, tt.want, SummarizeReport(report))
		})
	}
}

func TestFormatDecisionMark(t *testing.T) {
	assert.Equal(t, "[ok]", FormatDecisionMark(true))
	assert.Equal(t, "[--]", FormatDecisionMark(false))
}
