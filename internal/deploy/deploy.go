// Package deploy evaluates and executes the deploy descriptor of a
// lattice configuration.
//
// Evaluation answers "should this build deploy?" by checking each trigger
// condition (tags, branch, version, env condition) against a build
// context and reporting a per-rule decision list, so `lattice deploy
// --check` can show exactly which rule held or failed. Execution
// assembles the provider's command plan (twine for pypi, npm publish for
// npm, user commands for script) and runs it through a caller-supplied
// command runner.
//
// Credentials are handled with care: encrypted blobs are never decrypted
// locally, resolved secrets travel to the provider only through process
// environment variables, and display paths only ever see redacted
// placeholders.
package deploy

import (
	"context"
	"fmt"
	"io"

	"github.com/mmr-tortoise/lattice/internal/model"
)

// Context is the build context a deploy decision is made against:
// which commit ref is being built and which matrix cell is deploying.
type Context struct {
	// Tag is the tag name when the build runs against a tagged commit,
	// empty otherwise.
	Tag string

	// Branch is the branch name of the build.
	Branch string

	// Cell is the matrix cell acting as the deploy cell.
	Cell model.Cell

	// GlobalEnv holds the config's global assignments, merged under the
	// cell's env row for condition evaluation.
	GlobalEnv model.EnvRow
}

// env returns the merged environment for condition evaluation: global
// assignments first, cell row after, so the cell wins on conflicts.
func (c *Context) env() model.EnvRow {
	merged := make(model.EnvRow, 0, len(c.GlobalEnv)+len(c.Cell.Env))
	merged = append(merged, c.GlobalEnv...)
	merged = append(merged, c.Cell.Env...)
	return merged
}

// Decision records the outcome of checking one trigger rule.
type Decision struct {
	// Rule names the trigger rule ("tags", "branch", "version", "condition").
	Rule string `json:"rule"`

	// Detail is a human-readable description of what was compared.
	Detail string `json:"detail"`

	// Satisfied is whether the rule held for the build context.
	Satisfied bool `json:"satisfied"`
}

// Evaluate checks every trigger rule the deploy descriptor specifies
// against the build context. It returns the per-rule decisions and
// whether all of them held. Unspecified rules produce no decision.
//
// A malformed condition string yields an error; validation normally
// catches this earlier, but Evaluate is also reachable with configs
// that were loaded without validation.
func Evaluate(d *model.Deploy, ctx *Context) ([]Decision, bool, error) {
	var decisions []Decision
	all := true

	record := func(rule, detail string, ok bool) {
		decisions = append(decisions, Decision{Rule: rule, Detail: detail, Satisfied: ok})
		if !ok {
			all = false
		}
	}

	if d.On.Tags {
		record("tags", fmt.Sprintf("build tag is %q", ctx.Tag), ctx.Tag != "")
	}
	if d.On.Branch != "" {
		record("branch",
			fmt.Sprintf("build branch %q must equal %q", ctx.Branch, d.On.Branch),
			ctx.Branch == d.On.Branch)
	}
	if d.On.Version != "" {
		record("version",
			fmt.Sprintf("cell version %q must equal %q", ctx.Cell.Version, d.On.Version),
			ctx.Cell.Version == d.On.Version)
	}
	if d.On.Condition != "" {
		cond, err := ParseCondition(d.On.Condition)
		if err != nil {
			return nil, false, err
		}
		record("condition", cond.String(), cond.Eval(ctx.env()))
	}

	return decisions, all, nil
}

// Plan is the assembled deploy command sequence for a provider.
// Credentials travel in Env, never inline in the command strings, so
// command lines can be logged without leaking secrets.
type Plan struct {
	// Commands are the shell commands to run, in order.
	Commands []string

	// Env holds provider credential variables and any repository
	// override, to be injected into the command environment.
	Env []model.EnvVar
}

// BuildPlan assembles the provider command plan. The password secret is
// resolved via the supplied lookup (normally os.LookupEnv); encrypted
// blobs fail here with an explanatory error.
func BuildPlan(d *model.Deploy, lookup func(string) (string, bool)) (*Plan, error) {
	switch d.Provider {
	case model.ProviderPyPI:
		password, err := d.Password.Resolve(lookup)
		if err != nil {
			return nil, err
		}
		plan := &Plan{
			Commands: []string{"twine upload dist/*"},
			Env: []model.EnvVar{
				{Name: "TWINE_USERNAME", Value: d.Username},
				{Name: "TWINE_PASSWORD", Value: password},
			},
		}
		if d.Repository != "" {
			plan.Env = append(plan.Env, model.EnvVar{Name: "TWINE_REPOSITORY_URL", Value: d.Repository})
		}
		return plan, nil

	case model.ProviderNPM:
		token, err := d.Password.Resolve(lookup)
		if err != nil {
			return nil, err
		}
		cmd := "npm publish"
		if d.Repository != "" {
			cmd = fmt.Sprintf("npm publish --registry %s", d.Repository)
		}
		return &Plan{
			Commands: []string{cmd},
			Env: []model.EnvVar{
				{Name: "NPM_TOKEN", Value: token},
			},
		}, nil

	case model.ProviderScript:
		plan := &Plan{Commands: d.Script}
		// Script deploys may not need a credential at all; resolve only
		// when one was configured.
		if !d.Password.IsZero() {
			password, err := d.Password.Resolve(lookup)
			if err != nil {
				return nil, err
			}
			plan.Env = append(plan.Env, model.EnvVar{Name: "LATTICE_DEPLOY_PASSWORD", Value: password})
		}
		if d.Username != "" {
			plan.Env = append(plan.Env, model.EnvVar{Name: "LATTICE_DEPLOY_USERNAME", Value: d.Username})
		}
		return plan, nil

	default:
		return nil, fmt.Errorf("unknown deploy provider %q", string(d.Provider))
	}
}

// CommandRunner runs a single shell command with additional environment
// variables, streaming combined output to out. The runner package's
// local executor satisfies this.
type CommandRunner interface {
	RunCommand(ctx context.Context, command string, extraEnv []model.EnvVar, out io.Writer) error
}

// Execute runs the plan's commands in order, stopping at the first
// failure. Returns a CLIError with ExitDeployFailed when a command fails.
func Execute(ctx context.Context, plan *Plan, runner CommandRunner, out io.Writer) error {
	for _, command := range plan.Commands {
		if err := runner.RunCommand(ctx, command, plan.Env, out); err != nil {
			return model.WrapCLIError(
				model.ExitDeployFailed,
				fmt.Sprintf("deploy command failed: %s", command),
				err,
			)
		}
	}
	return nil
}
