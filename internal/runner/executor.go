// executor.go defines the execution abstraction the runner drives and
// its local implementation.
//
// A Session runs shell commands inside one matrix cell's environment.
// The local implementation shells out on the host; internal/docker
// provides a containerized implementation with the same interface.
// Commands are run one at a time through "sh -c" so that each command's
// exit status is observed individually, mirroring how hosted CI runners
// treat phase command lists.
package runner

import (
	"context"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/mmr-tortoise/lattice/internal/model"
)

// Session executes commands within a single matrix cell's environment.
// Sessions hold per-cell state (a working directory, a running container)
// and must be closed when the cell finishes.
type Session interface {
	// RunCommand runs one shell command with the extra environment
	// variables applied, streaming combined stdout/stderr to out.
	// A non-nil error indicates the command did not exit zero.
	RunCommand(ctx context.Context, command string, extraEnv []model.EnvVar, out io.Writer) error

	// Close releases the session's resources.
	Close(ctx context.Context) error
}

// Environment provisions execution sessions for matrix cells.
type Environment interface {
	// Open prepares a session for the given cell. The returned session
	// is owned by the caller and must be closed.
	Open(ctx context.Context, cell *model.Cell) (Session, error)
}

// LocalEnvironment runs matrix cells directly on the host. Every cell
// shares the same working directory; isolation between cells comes only
// from their environment variables. This matches the expectation that
// the project under test manages its own per-cell state (tox, nox,
// virtualenvs, node_modules variants, ...).
type LocalEnvironment struct {
	// Dir is the working directory commands run in. Empty means the
	// current process working directory.
	Dir string

	// Timeout bounds each individual command. Zero means no limit.
	Timeout time.Duration
}

// Open returns a session for the cell. Local sessions are stateless,
// so Open never fails.
func (e *LocalEnvironment) Open(_ context.Context, _ *model.Cell) (Session, error) {
	return &LocalSession{Dir: e.Dir, Timeout: e.Timeout}, nil
}

// LocalSession runs commands on the host via "sh -c".
// It also satisfies deploy.CommandRunner, so deploy command plans run
// through the same code path as build phases.
type LocalSession struct {
	Dir     string
	Timeout time.Duration
}

// RunCommand implements Session. The command inherits the full process
// environment with the extra variables appended, so later entries
// (cell env, injected credentials) override inherited ones.
func (s *LocalSession) RunCommand(ctx context.Context, command string, extraEnv []model.EnvVar, out io.Writer) error {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = s.Dir
	cmd.Env = append(os.Environ(), flattenEnv(extraEnv)...)
	cmd.Stdout = out
	cmd.Stderr = out

	return cmd.Run()
}

// Close implements Session. Local sessions hold no resources.
func (s *LocalSession) Close(_ context.Context) error {
	return nil
}

// flattenEnv converts env vars to the KEY=value strings exec.Cmd expects.
func flattenEnv(vars []model.EnvVar) []string {
	out := make([]string, 0, len(vars))
	for _, v := range vars {
		out = append(out, v.String())
	}
	return out
}
