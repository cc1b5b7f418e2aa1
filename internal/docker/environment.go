// environment.go implements containerized cell execution on top of the
// Docker exec API.
//
// Lifecycle per cell: resolve the image, pull it if absent, create a
// container that sleeps forever with the project directory bind-mounted
// at /workspace, then run each phase command as a docker exec inside
// that container. The container is removed when the session closes, so
// a cell's commands share filesystem and process state while cells
// remain isolated from each other.
package docker

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/mmr-tortoise/lattice/internal/model"
	"github.com/mmr-tortoise/lattice/internal/runner"
)

// workspacePath is where the project directory is mounted inside cell
// containers. Commands run with this as their working directory.
const workspacePath = "/workspace"

// Environment provisions one container per matrix cell. It implements
// runner.Environment.
type Environment struct {
	// Client is the Docker client used for all daemon operations.
	Client *Client

	// Config supplies the language, version image overrides, and labels.
	Config *model.Config

	// RunID labels created containers so leftovers are attributable.
	RunID string

	// Dir is the project directory mounted into each container.
	Dir string

	// PullOutput, when non-nil, receives the raw image pull progress
	// stream. When nil, pull progress is discarded.
	PullOutput io.Writer

	// Verbose, when non-nil, receives progress messages.
	Verbose func(format string, args ...interface{})
}

// Open pulls the cell's image if needed, creates the cell container,
// and starts it. The returned session runs commands through docker exec
// until closed.
func (e *Environment) Open(ctx context.Context, cell *model.Cell) (runner.Session, error) {
	img := ImageFor(e.Config, cell)
	if err := e.ensureImage(ctx, img); err != nil {
		return nil, err
	}

	name := fmt.Sprintf("lattice-%.8s-%s", e.RunID, runner.SanitizeCellName(cell.Name()))
	e.logf("cell %s: creating container %s from %s", cell.Name(), name, img)

	created, err := e.Client.Inner().ContainerCreate(ctx,
		&container.Config{
			Image:      img,
			Cmd:        []string{"sleep", "infinity"},
			WorkingDir: workspacePath,
			Labels:     BuildLabels(e.RunID, e.Config.Language, cell),
		},
		&container.HostConfig{
			Binds: []string{e.Dir + ":" + workspacePath},
		},
		nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create container for cell %s: %w", cell.Name(), err)
	}

	if err := e.Client.Inner().ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		// The created container would otherwise leak.
		_ = e.Client.Inner().ContainerRemove(context.WithoutCancel(ctx), created.ID, container.RemoveOptions{Force: true})
		return nil, fmt.Errorf("failed to start container for cell %s: %w", cell.Name(), err)
	}

	return &Session{client: e.Client, containerID: created.ID}, nil
}

// ensureImage checks whether the image exists locally and pulls it when
// it does not. The pull stream must be drained for the pull to complete.
func (e *Environment) ensureImage(ctx context.Context, img string) error {
	if _, _, err := e.Client.Inner().ImageInspectWithRaw(ctx, img); err == nil {
		return nil
	}

	e.logf("pulling image %s", img)
	rc, err := e.Client.Inner().ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", img, err)
	}
	defer rc.Close()

	out := e.PullOutput
	if out == nil {
		out = io.Discard
	}
	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("image pull for %s interrupted: %w", img, err)
	}
	return nil
}

func (e *Environment) logf(format string, args ...interface{}) {
	if e.Verbose != nil {
		e.Verbose(format, args...)
	}
}

// Session runs commands inside one cell's container. It implements
// runner.Session.
type Session struct {
	client      *Client
	containerID string
}

// RunCommand executes one shell command inside the container via the
// Docker exec API, streaming combined output to out. A non-zero exit
// status is returned as an error, matching the local session contract.
func (s *Session) RunCommand(ctx context.Context, command string, extraEnv []model.EnvVar, out io.Writer) error {
	env := make([]string, 0, len(extraEnv))
	for _, v := range extraEnv {
		env = append(env, v.String())
	}

	exec, err := s.client.Inner().ContainerExecCreate(ctx, s.containerID, container.ExecOptions{
		Cmd:          []string{"sh", "-c", command},
		Env:          env,
		WorkingDir:   workspacePath,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return fmt.Errorf("exec create failed: %w", err)
	}

	attach, err := s.client.Inner().ContainerExecAttach(ctx, exec.ID, container.ExecAttachOptions{})
	if err != nil {
		return fmt.Errorf("exec attach failed: %w", err)
	}
	defer attach.Close()

	if out == nil {
		out = io.Discard
	}
	// The attached stream multiplexes stdout and stderr; stdcopy
	// demultiplexes it. Copying until EOF also waits for the command
	// to finish.
	if _, err := stdcopy.StdCopy(out, out, attach.Reader); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("exec output stream failed: %w", err)
	}

	inspect, err := s.client.Inner().ContainerExecInspect(ctx, exec.ID)
	if err != nil {
		return fmt.Errorf("exec inspect failed: %w", err)
	}
	if inspect.ExitCode != 0 {
		return fmt.Errorf("exit status %d", inspect.ExitCode)
	}
	return nil
}

// Close removes the cell's container. Force removal kills the sleep
// process, so no separate stop is needed.
func (s *Session) Close(ctx context.Context) error {
	err := s.client.Inner().ContainerRemove(ctx, s.containerID, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
	if err != nil {
		return fmt.Errorf("failed to remove container %q: %w", s.containerID, err)
	}
	return nil
}
