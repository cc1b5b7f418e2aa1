// Package cli — clean.go implements the "lattice clean" command.
//
// Cell containers are normally removed when their cell finishes, so
// leftovers only exist after crashes or hard interrupts. The clean
// command finds them through their "lattice." labels and force-removes
// them.
package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mmr-tortoise/lattice/internal/docker"
)

// cleanFlags holds the flag values for the clean command.
type cleanFlags struct {
	// runID restricts cleanup to one run's containers.
	runID string

	// dryRun lists what would be removed without removing anything.
	dryRun bool
}

// NewCleanCommand creates the "clean" cobra command.
func NewCleanCommand() *cobra.Command {
	flags := &cleanFlags{}

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove leftover cell containers",
		Long: `Remove Docker containers left behind by interrupted runs.

Containers are found through the labels this tool applies when
creating them; nothing else on the host is touched.

Examples:
  lattice clean
  lattice clean --run 4f9c... --dry-run`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runClean(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringVar(&flags.runID, "run", "", "Only remove containers from this run")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "List containers without removing them")

	return cmd
}

// runClean is the main logic function for the clean command.
func runClean(ctx context.Context, flags *cleanFlags) error {
	cli, err := docker.NewClient()
	if err != nil {
		return err
	}
	defer func() { _ = cli.Close() }()
	if err := cli.Ping(ctx); err != nil {
		return err
	}

	containers, err := docker.ListCellContainers(ctx, cli, flags.runID)
	if err != nil {
		return err
	}
	VerboseLog("Found %d leftover cell container(s)", len(containers))

	removed := 0
	var removeErr error
	if !flags.dryRun && len(containers) > 0 {
		removed, removeErr = docker.RemoveCellContainers(ctx, cli, containers)
	}

	printCleanResult(containers, removed, flags.dryRun)
	return removeErr
}

// printCleanResult outputs the cleanup outcome in text or JSON format.
func printCleanResult(containers []docker.CellContainer, removed int, dryRun bool) {
	if IsJSONOutput() {
		out := struct {
			Containers []docker.CellContainer `json:"containers"`
			Removed    int                    `json:"removed"`
			DryRun     bool                   `json:"dryRun"`
		}{
			Containers: append([]docker.CellContainer{}, containers...),
			Removed:    removed,
			DryRun:     dryRun,
		}
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(data))
		return
	}

	if len(containers) == 0 {
		fmt.Println("No leftover cell containers found.")
		return
	}

	fmt.Printf("%-20s %-38s %-30s %s\n", "CONTAINER", "RUN", "CELL", "STATE")
	for _, c := range containers {
		fmt.Printf("%-20s %-38s %-30s %s\n", c.Name, c.RunID, c.Cell, c.State)
	}
	if dryRun {
		fmt.Printf("%d container(s) would be removed.\n", len(containers))
	} else {
		fmt.Printf("Removed %d container(s).\n", removed)
	}
}
