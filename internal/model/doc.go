// Package model defines the domain types and value objects for the
// lattice CLI.
//
// This package contains pure data structures with no external dependencies.
// All entities (Config, Cell, CellResult, Deploy, MatrixSelector, etc.)
// describe either the build-matrix configuration or the outcome of
// executing it.
//
// The package also defines exit codes (ExitCode) and a custom error type
// (CLIError) that carries exit codes for proper OS process exit handling.
package model
