package docker

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"

	"github.com/mmr-tortoise/lattice/internal/model"
)

// CellContainer describes one leftover cell container found on the
// daemon. Sessions normally remove their container on close, so these
// only exist after crashes or hard interrupts.
type CellContainer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	RunID string `json:"run_id"`
	Cell  string `json:"cell"`
	State string `json:"state"`
}

// ListCellContainers returns all containers carrying this tool's labels,
// including stopped ones. A non-empty runID restricts the listing to one
// run.
func ListCellContainers(ctx context.Context, cli *Client, runID string) ([]CellContainer, error) {
	filterArgs := filters.NewArgs(
		filters.Arg("label", LabelManagedBy+"="+ManagedByValue),
	)
	if runID != "" {
		filterArgs.Add("label", LabelRunID+"="+runID)
	}

	containers, err := cli.Inner().ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filterArgs,
	})
	if err != nil {
		return nil, model.WrapCLIError(
			model.ExitDockerNotRunning,
			"failed to list Docker containers",
			err,
		)
	}

	result := make([]CellContainer, 0, len(containers))
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			// The API reports names with a leading "/".
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		result = append(result, CellContainer{
			ID:    c.ID,
			Name:  name,
			RunID: c.Labels[LabelRunID],
			Cell:  c.Labels[LabelCell],
			State: c.State,
		})
	}
	return result, nil
}

// RemoveCellContainers force-removes the given containers and returns
// how many were removed. Removal continues past individual failures;
// the first error is returned after all containers have been attempted.
func RemoveCellContainers(ctx context.Context, cli *Client, containers []CellContainer) (int, error) {
	removed := 0
	var firstErr error
	for _, c := range containers {
		err := cli.Inner().ContainerRemove(ctx, c.ID, container.RemoveOptions{
			Force:         true,
			RemoveVolumes: true,
		})
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to remove container %q: %w", c.Name, err)
			}
			continue
		}
		removed++
	}
	return removed, firstErr
}
