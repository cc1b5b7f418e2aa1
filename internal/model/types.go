// Package model defines the domain types for the lattice CLI.
//
// All entities in this package represent the build-matrix configuration
// and its execution results. These types are used throughout the
// application for passing data between components.
//
// The package contains pure data structures with no external dependencies:
// parsing lives in internal/config, expansion in internal/matrix, and
// execution in internal/runner.
package model

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Phase identifies one stage of a matrix cell's build lifecycle.
// Phases run in a fixed order:
//
//	before_install → install → before_script → script →
//	after_success / after_failure → after_script
//
// The after_success and after_failure phases are mutually exclusive:
// which one runs depends on the outcome of the script phase.
type Phase string

const (
	// PhaseBeforeInstall runs before dependency installation.
	PhaseBeforeInstall Phase = "before_install"

	// PhaseInstall installs the dependencies needed by the script phase.
	PhaseInstall Phase = "install"

	// PhaseBeforeScript runs after installation, before the main script.
	PhaseBeforeScript Phase = "before_script"

	// PhaseScript is the main build/test phase. Its outcome decides
	// whether the cell passed or failed.
	PhaseScript Phase = "script"

	// PhaseAfterSuccess runs only when the script phase succeeded.
	PhaseAfterSuccess Phase = "after_success"

	// PhaseAfterFailure runs only when the script phase failed.
	PhaseAfterFailure Phase = "after_failure"

	// PhaseAfterScript always runs last, regardless of outcome.
	PhaseAfterScript Phase = "after_script"
)

// Phases returns all phases in execution order. Callers iterating the
// lifecycle should use this instead of hand-written lists so the order
// is defined in exactly one place.
func Phases() []Phase {
	return []Phase{
		PhaseBeforeInstall,
		PhaseInstall,
		PhaseBeforeScript,
		PhaseScript,
		PhaseAfterSuccess,
		PhaseAfterFailure,
		PhaseAfterScript,
	}
}

// String returns the string representation of the phase.
func (p Phase) String() string {
	return string(p)
}

// IsValid checks whether the Phase value is one of the defined phases.
func (p Phase) IsValid() bool {
	switch p {
	case PhaseBeforeInstall, PhaseInstall, PhaseBeforeScript, PhaseScript,
		PhaseAfterSuccess, PhaseAfterFailure, PhaseAfterScript:
		return true
	default:
		return false
	}
}

// IsSetup reports whether the phase is part of environment setup.
// A command failure in a setup phase marks the cell as errored rather
// than failed, because the main script never got a chance to run.
func (p Phase) IsSetup() bool {
	switch p {
	case PhaseBeforeInstall, PhaseInstall, PhaseBeforeScript:
		return true
	default:
		return false
	}
}

// IsAfter reports whether the phase runs after the script phase.
// Failures in after-phases are logged but never change the cell status.
func (p Phase) IsAfter() bool {
	switch p {
	case PhaseAfterSuccess, PhaseAfterFailure, PhaseAfterScript:
		return true
	default:
		return false
	}
}

// ParsePhase converts a string to a Phase.
// Returns an error if the string does not match any defined phase.
func ParsePhase(s string) (Phase, error) {
	phase := Phase(strings.ToLower(s))
	if !phase.IsValid() {
		return "", fmt.Errorf("invalid phase: %q", s)
	}
	return phase, nil
}

// CellStatus represents the lifecycle state of a matrix cell execution.
// The state transitions are:
//
//	Created → Running → Passed | Failed | Errored
//	Created/Running → Canceled (fast-finish cancellation)
type CellStatus string

const (
	// StatusCreated indicates the cell has been expanded from the matrix
	// but execution has not started.
	StatusCreated CellStatus = "created"

	// StatusRunning indicates the cell's phases are currently executing.
	StatusRunning CellStatus = "running"

	// StatusPassed indicates every setup phase and the script phase succeeded.
	StatusPassed CellStatus = "passed"

	// StatusFailed indicates the script phase failed.
	StatusFailed CellStatus = "failed"

	// StatusErrored indicates a setup phase (before_install, install,
	// before_script) failed, so the script phase never ran.
	StatusErrored CellStatus = "errored"

	// StatusCanceled indicates the cell was canceled before completion,
	// typically by fast-finish after another required cell failed.
	StatusCanceled CellStatus = "canceled"
)

// String returns the string representation of the cell status.
func (s CellStatus) String() string {
	return string(s)
}

// IsValid checks whether the CellStatus value is one of the defined states.
func (s CellStatus) IsValid() bool {
	switch s {
	case StatusCreated, StatusRunning, StatusPassed, StatusFailed,
		StatusErrored, StatusCanceled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status is a final state.
func (s CellStatus) IsTerminal() bool {
	switch s {
	case StatusPassed, StatusFailed, StatusErrored, StatusCanceled:
		return true
	default:
		return false
	}
}

// ParseCellStatus converts a string to a CellStatus.
// Returns an error if the string does not match any valid status.
func ParseCellStatus(s string) (CellStatus, error) {
	status := CellStatus(strings.ToLower(s))
	if !status.IsValid() {
		return "", fmt.Errorf("invalid cell status: %q (valid: created, running, passed, failed, errored, canceled)", s)
	}
	return status, nil
}

// Provider identifies the package index a deploy descriptor targets.
type Provider string

const (
	// ProviderPyPI publishes to the Python Package Index via twine.
	ProviderPyPI Provider = "pypi"

	// ProviderNPM publishes to an npm registry via npm publish.
	ProviderNPM Provider = "npm"

	// ProviderScript runs user-supplied deploy commands instead of a
	// built-in provider integration.
	ProviderScript Provider = "script"
)

// String returns the string representation of the provider.
func (p Provider) String() string {
	return string(p)
}

// IsValid checks whether the Provider value is one of the supported providers.
func (p Provider) IsValid() bool {
	switch p {
	case ProviderPyPI, ProviderNPM, ProviderScript:
		return true
	default:
		return false
	}
}

// ParseProvider converts a string to a Provider.
// Returns an error if the string does not match any supported provider.
func ParseProvider(s string) (Provider, error) {
	provider := Provider(strings.ToLower(s))
	if !provider.IsValid() {
		return "", fmt.Errorf("invalid deploy provider: %q (valid: pypi, npm, script)", s)
	}
	return provider, nil
}

// envNameRegex validates environment variable names: a letter or underscore
// followed by letters, digits, or underscores (POSIX shell identifier).
var envNameRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// EnvVar is a single NAME=value environment variable assignment.
type EnvVar struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// String returns the assignment in NAME=value form.
func (v EnvVar) String() string {
	return v.Name + "=" + v.Value
}

// ParseEnvVar parses a single "NAME=value" assignment.
// The value may be empty ("NAME="); the name must be a valid shell identifier.
func ParseEnvVar(s string) (EnvVar, error) {
	name, value, found := strings.Cut(s, "=")
	if !found {
		return EnvVar{}, fmt.Errorf("invalid env entry %q: expected NAME=value", s)
	}
	if !envNameRegex.MatchString(name) {
		return EnvVar{}, fmt.Errorf("invalid env variable name %q: must be a letter or underscore followed by letters, digits, or underscores", name)
	}
	return EnvVar{Name: name, Value: unquote(value)}, nil
}

// unquote strips a single level of matching surrounding quotes from a value.
// Env rows written as DJANGO="5.0 beta" arrive here with the quotes intact
// after whitespace splitting.
func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// EnvRow is an ordered list of env var assignments. One row names one
// matrix axis value: every assignment in the row applies together to the
// cells the row produces.
type EnvRow []EnvVar

// String returns the row in its source form: space-separated NAME=value pairs.
func (r EnvRow) String() string {
	parts := make([]string, 0, len(r))
	for _, v := range r {
		parts = append(parts, v.String())
	}
	return strings.Join(parts, " ")
}

// Lookup returns the value of the named variable and whether it is set.
// Later assignments win when a name is repeated within the row.
func (r EnvRow) Lookup(name string) (string, bool) {
	value := ""
	found := false
	for _, v := range r {
		if v.Name == name {
			value = v.Value
			found = true
		}
	}
	return value, found
}

// Equal reports whether two rows contain the same assignments in the
// same order. Rows are compared structurally, not by source text, so
// quoting differences do not affect equality.
func (r EnvRow) Equal(other EnvRow) bool {
	if len(r) != len(other) {
		return false
	}
	for i := range r {
		if r[i] != other[i] {
			return false
		}
	}
	return true
}

// ParseEnvRow parses a whitespace-separated list of NAME=value assignments,
// honoring single and double quotes around values so that rows like
//
//	DJANGO=5.0 EXTRA="foo bar"
//
// parse into two assignments rather than three.
func ParseEnvRow(s string) (EnvRow, error) {
	var row EnvRow
	for _, field := range splitQuoted(s) {
		v, err := ParseEnvVar(field)
		if err != nil {
			return nil, err
		}
		row = append(row, v)
	}
	return row, nil
}

// splitQuoted splits on whitespace while keeping quoted spans intact.
// Quotes are preserved in the output fields; ParseEnvVar strips them.
func splitQuoted(s string) []string {
	var fields []string
	var cur strings.Builder
	var quote byte

	flush := func() {
		if cur.Len() > 0 {
			fields = append(fields, cur.String())
			cur.Reset()
		}
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			cur.WriteByte(c)
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
			cur.WriteByte(c)
		case c == ' ' || c == '\t':
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return fields
}

// Config is the parsed build-matrix configuration. This is the primary
// aggregate entity in the domain: validation, matrix expansion, running,
// and deploy evaluation all start from a Config.
type Config struct {
	// Language is the runtime the matrix targets (e.g. "python").
	// It is a free-form identifier; lattice does not interpret it beyond
	// using it to derive container image names.
	Language string `json:"language"`

	// Versions lists the runtime versions forming the first matrix axis.
	// May be empty, in which case env rows are the only axis.
	Versions []string `json:"versions,omitempty"`

	// Env holds the global assignments and the env matrix rows.
	Env EnvBlock `json:"env"`

	// Matrix holds include/exclude/allow_failures adjustments applied
	// after the version × env cross product.
	Matrix MatrixBlock `json:"matrix"`

	// Phase command lists. Each is an ordered list of shell commands.
	BeforeInstall []string `json:"beforeInstall,omitempty"`
	Install       []string `json:"install,omitempty"`
	BeforeScript  []string `json:"beforeScript,omitempty"`
	Script        []string `json:"script,omitempty"`
	AfterSuccess  []string `json:"afterSuccess,omitempty"`
	AfterFailure  []string `json:"afterFailure,omitempty"`
	AfterScript   []string `json:"afterScript,omitempty"`

	// Images maps runtime versions to container image references,
	// overriding the default "<language>:<version>" derivation used
	// for containerized runs.
	Images map[string]string `json:"images,omitempty"`

	// Deploy is the optional deploy descriptor. Nil when the config
	// declares no deploy step.
	Deploy *Deploy `json:"deploy,omitempty"`

	// Path is the file the config was loaded from. Set by the loader;
	// not part of the configuration schema.
	Path string `json:"-"`
}

// Commands returns the command list for the given phase.
func (c *Config) Commands(p Phase) []string {
	switch p {
	case PhaseBeforeInstall:
		return c.BeforeInstall
	case PhaseInstall:
		return c.Install
	case PhaseBeforeScript:
		return c.BeforeScript
	case PhaseScript:
		return c.Script
	case PhaseAfterSuccess:
		return c.AfterSuccess
	case PhaseAfterFailure:
		return c.AfterFailure
	case PhaseAfterScript:
		return c.AfterScript
	default:
		return nil
	}
}

// HasVersion reports whether the version is declared in the Versions axis.
func (c *Config) HasVersion(version string) bool {
	for _, v := range c.Versions {
		if v == version {
			return true
		}
	}
	return false
}

// EnvBlock holds the env section of the configuration.
type EnvBlock struct {
	// Global assignments apply to every matrix cell.
	Global EnvRow `json:"global,omitempty"`

	// Matrix rows form the second matrix axis: each row produces one
	// cell per runtime version.
	Matrix []EnvRow `json:"matrix,omitempty"`
}

// MatrixBlock holds the matrix adjustment section of the configuration.
type MatrixBlock struct {
	// Include adds cells beyond the version × env cross product.
	Include []MatrixSelector `json:"include,omitempty"`

	// Exclude removes cells from the cross product.
	Exclude []MatrixSelector `json:"exclude,omitempty"`

	// AllowFailures marks cells whose failure does not fail the run.
	// Every entry must match at least one expanded cell.
	AllowFailures []MatrixSelector `json:"allowFailures,omitempty"`

	// FastFinish stops waiting on remaining required cells as soon as
	// one required cell fails.
	FastFinish bool `json:"fastFinish,omitempty"`
}

// MatrixSelector identifies one or more matrix cells by attribute.
// An empty attribute matches any value; a selector matches a cell when
// every attribute it does specify equals the cell's attribute.
//
// Used by matrix.include (where it fully describes a new cell),
// matrix.exclude, and matrix.allow_failures.
type MatrixSelector struct {
	// Version constrains the runtime version. Empty matches any version.
	Version string `json:"version,omitempty"`

	// Env constrains the cell's env row. Empty matches any row.
	Env EnvRow `json:"env,omitempty"`
}

// IsZero reports whether the selector specifies no attributes at all.
// Zero selectors are rejected by validation: they would match everything.
func (s MatrixSelector) IsZero() bool {
	return s.Version == "" && len(s.Env) == 0
}

// Matches reports whether the selector matches the given cell.
func (s MatrixSelector) Matches(cell *Cell) bool {
	if s.Version != "" && s.Version != cell.Version {
		return false
	}
	if len(s.Env) > 0 && !s.Env.Equal(cell.Env) {
		return false
	}
	return true
}

// String returns a human-readable description of the selector,
// e.g. `version=3.12 env="DJANGO=main"`.
func (s MatrixSelector) String() string {
	var parts []string
	if s.Version != "" {
		parts = append(parts, "version="+s.Version)
	}
	if len(s.Env) > 0 {
		parts = append(parts, fmt.Sprintf("env=%q", s.Env.String()))
	}
	if len(parts) == 0 {
		return "(any)"
	}
	return strings.Join(parts, " ")
}

// Cell is one expanded matrix cell: a runtime version paired with an env
// row. Cells are produced by matrix expansion and consumed by the runner
// and the deploy trigger evaluator.
type Cell struct {
	// Version is the runtime version for this cell. Empty when the
	// config declares no versions axis.
	Version string `json:"version,omitempty"`

	// Env is the matrix env row for this cell (global assignments are
	// merged in at execution time, not stored here).
	Env EnvRow `json:"env,omitempty"`

	// AllowFailure marks the cell as tolerated: its failure is reported
	// but does not fail the overall run.
	AllowFailure bool `json:"allowFailure,omitempty"`

	// FromInclude records that the cell came from matrix.include rather
	// than the cross product.
	FromInclude bool `json:"fromInclude,omitempty"`
}

// Name returns the cell's deterministic display name, built from its
// version and env row: "3.12/DJANGO=5.0". Cells with only one axis use
// that axis alone; a config with neither axis yields a single cell
// named "default".
func (c *Cell) Name() string {
	switch {
	case c.Version != "" && len(c.Env) > 0:
		return c.Version + "/" + c.Env.String()
	case c.Version != "":
		return c.Version
	case len(c.Env) > 0:
		return c.Env.String()
	default:
		return "default"
	}
}

// CellResult records the outcome of executing one matrix cell.
type CellResult struct {
	// Cell is the matrix cell that was executed.
	Cell Cell `json:"cell"`

	// Status is the terminal status of the cell.
	Status CellStatus `json:"status"`

	// FailedPhase names the phase whose command failed, for failed and
	// errored cells. Empty for passed and canceled cells.
	FailedPhase Phase `json:"failedPhase,omitempty"`

	// Message carries a short diagnostic for errored cells whose
	// failure happened outside a phase (e.g. the execution session
	// could not be opened). Empty otherwise.
	Message string `json:"message,omitempty"`

	// Duration is the wall-clock time the cell took.
	Duration time.Duration `json:"duration"`

	// LogDir is the directory holding the cell's per-phase logs.
	LogDir string `json:"logDir,omitempty"`
}

// RunReport aggregates the results of one matrix run.
type RunReport struct {
	// RunID uniquely identifies the run. Also used as the log directory
	// name and as the container label value for containerized cells.
	RunID string `json:"runId"`

	// Results holds one entry per executed cell, in matrix order.
	Results []CellResult `json:"results"`

	// StartedAt and FinishedAt bound the run's wall-clock duration.
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Failed reports whether the run failed overall. A run fails iff any
// cell NOT marked allow-failure finished as failed, errored, or canceled.
// Allowed-failure cells are reported but never affect the outcome.
func (r *RunReport) Failed() bool {
	for _, res := range r.Results {
		if res.Cell.AllowFailure {
			continue
		}
		switch res.Status {
		case StatusFailed, StatusErrored, StatusCanceled:
			return true
		}
	}
	return false
}

// Counts tallies results by status, for summary output.
func (r *RunReport) Counts() map[CellStatus]int {
	counts := make(map[CellStatus]int)
	for _, res := range r.Results {
		counts[res.Status]++
	}
	return counts
}

// Deploy is the deploy descriptor: where to publish, with what
// credentials, and under which trigger conditions.
type Deploy struct {
	// Provider selects the package index integration.
	Provider Provider `json:"provider"`

	// Username is the account identifier at the package index.
	// Required for registry providers (pypi, npm); unused for script.
	Username string `json:"username,omitempty"`

	// Password is the credential used to authenticate against the index.
	Password Secret `json:"password,omitempty"`

	// Repository optionally overrides the index URL (PyPI repository URL
	// or npm registry URL).
	Repository string `json:"repository,omitempty"`

	// Script lists the deploy commands for the script provider.
	Script []string `json:"script,omitempty"`

	// On declares the trigger conditions gating the deploy.
	On DeployOn `json:"on"`
}

// DeployOn declares when a deploy should run. All specified conditions
// must hold; unspecified conditions are not checked.
type DeployOn struct {
	// Tags requires the build to be running against a tagged commit.
	Tags bool `json:"tags,omitempty"`

	// Branch requires the build branch to equal this value.
	Branch string `json:"branch,omitempty"`

	// Version requires the deploying cell's runtime version to equal
	// this value. Must reference a declared version.
	Version string `json:"version,omitempty"`

	// Condition is an env comparison of the form "$VAR = value" or
	// "$VAR != value", evaluated against the deploying cell's env.
	// The referenced variable must appear somewhere in the matrix.
	Condition string `json:"condition,omitempty"`
}

// Secret is a credential value from the configuration. At most one of
// Plain or Secure is set. Plain values of the form "$NAME" are resolved
// from the process environment at deploy time. Secure values are opaque
// encrypted blobs that only the hosted CI service can decrypt: lattice
// never decrypts them locally and always redacts them in output.
type Secret struct {
	// Plain is a literal credential or a "$NAME" env reference.
	Plain string `json:"-"`

	// Secure is the encrypted credential blob, kept opaque.
	Secure string `json:"-"`
}

// IsZero reports whether the secret carries no value at all.
func (s Secret) IsZero() bool {
	return s.Plain == "" && s.Secure == ""
}

// Resolve returns the usable credential value. Env references are looked
// up via the supplied function (usually os.LookupEnv); secure blobs
// cannot be resolved locally and return an error.
func (s Secret) Resolve(lookup func(string) (string, bool)) (string, error) {
	if s.Secure != "" {
		return "", fmt.Errorf("credential is an encrypted blob and cannot be decrypted locally; supply the plaintext via an environment variable reference instead")
	}
	if strings.HasPrefix(s.Plain, "$") {
		name := strings.TrimPrefix(s.Plain, "$")
		value, ok := lookup(name)
		if !ok {
			return "", fmt.Errorf("credential references environment variable %s, which is not set", name)
		}
		return value, nil
	}
	if s.Plain == "" {
		return "", fmt.Errorf("credential is empty")
	}
	return s.Plain, nil
}

// Redacted returns a display placeholder for the secret. Secrets are
// never printed in clear, in any output mode.
func (s Secret) Redacted() string {
	if s.IsZero() {
		return ""
	}
	if s.Secure != "" {
		return "[secure]"
	}
	return "[redacted]"
}

// ExitCode defines the CLI exit codes. These codes allow scripts and
// wrapping automation to programmatically determine the outcome of a
// command.
type ExitCode int

const (
	// ExitSuccess indicates the command completed successfully.
	ExitSuccess ExitCode = 0

	// ExitGeneralError indicates an unspecified error occurred.
	ExitGeneralError ExitCode = 1

	// ExitConfigNotFound indicates no lattice config file was found
	// in the expected locations.
	ExitConfigNotFound ExitCode = 2

	// ExitConfigInvalid indicates the config failed to parse or failed
	// structural validation.
	ExitConfigInvalid ExitCode = 3

	// ExitRunFailed indicates a required (non-allow-failure) matrix cell
	// failed or errored.
	ExitRunFailed ExitCode = 4

	// ExitDockerNotRunning indicates the Docker daemon is not accessible.
	ExitDockerNotRunning ExitCode = 5

	// ExitDeployConditionsNotMet indicates the deploy trigger conditions
	// did not hold for the given build context.
	ExitDeployConditionsNotMet ExitCode = 6

	// ExitDeployFailed indicates a deploy command failed.
	ExitDeployFailed ExitCode = 7
)

// CLIError is a custom error type that carries an exit code.
// This allows the CLI layer to translate domain errors into
// appropriate process exit codes.
type CLIError struct {
	// Code is the exit code to return to the OS.
	Code ExitCode

	// Message is the human-readable error description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error satisfies the error interface. It returns the human-readable
// error message, optionally including the underlying error.
func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a new CLIError with the given exit code and message.
func NewCLIError(code ExitCode, message string) *CLIError {
	return &CLIError{Code: code, Message: message}
}

// WrapCLIError creates a new CLIError that wraps an existing error.
func WrapCLIError(code ExitCode, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Err: err}
}
