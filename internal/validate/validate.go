// Package validate performs structural validation of a parsed lattice
// configuration.
//
// Validation runs against the expanded matrix, not just the raw config,
// because the interesting properties are cross-cutting: every
// allow_failures entry must select real cells, and the deploy trigger
// must reference versions and env variables that actually occur in the
// matrix. Findings are split into errors (the config is unusable) and
// warnings (the config is suspicious but runnable).
package validate

import (
	"fmt"
	"strings"

	"github.com/mmr-tortoise/lattice/internal/deploy"
	"github.com/mmr-tortoise/lattice/internal/matrix"
	"github.com/mmr-tortoise/lattice/internal/model"
)

// Severity classifies a finding.
type Severity string

const (
	// SeverityError marks findings that make the config unusable.
	SeverityError Severity = "error"

	// SeverityWarning marks findings that are likely mistakes but do
	// not block execution.
	SeverityWarning Severity = "warning"
)

// Finding represents a single validation result for a config field.
type Finding struct {
	// Severity is error or warning.
	Severity Severity `json:"severity"`

	// Field is the config field path the finding concerns
	// (e.g. "matrix.allow_failures[0]").
	Field string `json:"field"`

	// Message describes what is wrong with the field value.
	Message string `json:"message"`
}

// String formats the finding for text output.
func (f Finding) String() string {
	return fmt.Sprintf("%s: %s: %s", f.Severity, f.Field, f.Message)
}

// Result holds all findings for one config.
type Result struct {
	Findings []Finding `json:"findings"`
}

// OK reports whether the config passed validation (no error findings;
// warnings alone do not fail validation).
func (r *Result) OK() bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityError {
			return false
		}
	}
	return true
}

// Errors returns only the error-severity findings.
func (r *Result) Errors() []Finding {
	var errs []Finding
	for _, f := range r.Findings {
		if f.Severity == SeverityError {
			errs = append(errs, f)
		}
	}
	return errs
}

func (r *Result) errorf(field, format string, args ...interface{}) {
	r.Findings = append(r.Findings, Finding{SeverityError, field, fmt.Sprintf(format, args...)})
}

func (r *Result) warnf(field, format string, args ...interface{}) {
	r.Findings = append(r.Findings, Finding{SeverityWarning, field, fmt.Sprintf(format, args...)})
}

// Config validates a parsed configuration and returns all findings.
//
// Checks performed:
//   - language and script phase are present
//   - versions and env rows contain no duplicates
//   - selectors (include/exclude/allow_failures) are non-empty and, for
//     exclude/allow_failures, reference versions declared in the matrix
//   - every allow_failures entry matches at least one expanded cell
//     (the allowed-failure set must be a subset of the matrix)
//   - exclude entries that match nothing are flagged as warnings
//   - the expanded matrix contains no duplicate cells
//   - the deploy descriptor, if present, is coherent and its trigger
//     references a version/env variable that exists in the matrix
func Config(cfg *model.Config) *Result {
	res := &Result{}

	if cfg.Language == "" {
		res.errorf("language", "language is required")
	}
	if len(cfg.Script) == 0 {
		res.errorf("script", "script phase must declare at least one command")
	}

	checkDuplicateVersions(res, cfg)
	checkDuplicateEnvRows(res, cfg)

	cells := matrix.Expand(cfg)

	// Exclude entries are matched against the pre-exclusion cross
	// product: a working exclude removes its cells, so matching against
	// the final matrix would flag every effective entry as unmatched.
	base := *cfg
	base.Matrix.Exclude = nil
	checkSelectors(res, cfg, matrix.Expand(&base), "matrix.exclude", cfg.Matrix.Exclude, SeverityWarning)
	checkSelectors(res, cfg, cells, "matrix.allow_failures", cfg.Matrix.AllowFailures, SeverityError)
	checkIncludes(res, cfg)
	checkDuplicateCells(res, cells)

	if cfg.Deploy != nil {
		checkDeploy(res, cfg, cells)
	}

	return res
}

func checkDuplicateVersions(res *Result, cfg *model.Config) {
	seen := make(map[string]bool)
	for i, v := range cfg.Versions {
		if v == "" {
			res.errorf(fmt.Sprintf("versions[%d]", i), "version must not be empty")
			continue
		}
		if seen[v] {
			res.warnf(fmt.Sprintf("versions[%d]", i), "duplicate version %q", v)
		}
		seen[v] = true
	}
}

func checkDuplicateEnvRows(res *Result, cfg *model.Config) {
	seen := make(map[string]bool)
	for i, row := range cfg.Env.Matrix {
		key := row.String()
		if seen[key] {
			res.warnf(fmt.Sprintf("env.matrix[%d]", i), "duplicate env row %q", key)
		}
		seen[key] = true
	}
}

// checkSelectors validates exclude/allow_failures entries: each must
// specify at least one attribute, reference declared versions, and match
// at least one expanded cell. An unmatched entry is reported with the
// given severity: for allow_failures that is an error, because an
// allowed-failure set that is not a subset of the matrix means the
// tolerance applies to nothing.
func checkSelectors(res *Result, cfg *model.Config, cells []model.Cell, field string, selectors []model.MatrixSelector, unmatched Severity) {
	for i, sel := range selectors {
		entry := fmt.Sprintf("%s[%d]", field, i)

		if sel.IsZero() {
			res.errorf(entry, "entry must specify a version and/or env")
			continue
		}
		if sel.Version != "" && !cfg.HasVersion(sel.Version) {
			res.errorf(entry, "version %q is not declared in versions", sel.Version)
			continue
		}
		if matrix.MatchCount(cells, sel) == 0 {
			msg := fmt.Sprintf("entry %s does not match any matrix cell", sel)
			res.Findings = append(res.Findings, Finding{unmatched, entry, msg})
		}
	}
}

// checkIncludes validates include entries independently: they create
// cells rather than select them, so only shape and version sanity apply.
// An include version outside the declared axis is legal (that is the
// point of include) but an entirely empty include is not.
func checkIncludes(res *Result, cfg *model.Config) {
	for i, inc := range cfg.Matrix.Include {
		if inc.IsZero() {
			res.errorf(fmt.Sprintf("matrix.include[%d]", i), "entry must specify a version and/or env")
		}
	}
}

func checkDuplicateCells(res *Result, cells []model.Cell) {
	seen := make(map[string]bool)
	for i := range cells {
		name := cells[i].Name()
		if seen[name] {
			res.warnf("matrix", "duplicate cell %q after expansion", name)
		}
		seen[name] = true
	}
}

// checkDeploy validates the deploy descriptor and its trigger references.
func checkDeploy(res *Result, cfg *model.Config, cells []model.Cell) {
	d := cfg.Deploy

	if !d.Provider.IsValid() {
		res.errorf("deploy.provider", "unknown provider %q (valid: pypi, npm, script)", string(d.Provider))
	}

	switch d.Provider {
	case model.ProviderScript:
		if len(d.Script) == 0 {
			res.errorf("deploy.script", "script provider requires at least one deploy command")
		}
	case model.ProviderPyPI, model.ProviderNPM:
		if d.Username == "" {
			res.errorf("deploy.username", "username is required for the %s provider", d.Provider)
		}
		if d.Password.IsZero() {
			res.errorf("deploy.password", "password is required for the %s provider", d.Provider)
		}
	}

	if d.Password.Secure != "" && strings.ContainsAny(d.Password.Secure, " \t\n") {
		res.errorf("deploy.password.secure", "encrypted blob must not contain whitespace")
	}

	// Trigger references must point at things that exist in the matrix.
	if d.On.Version != "" && !cfg.HasVersion(d.On.Version) {
		res.errorf("deploy.on.version", "version %q is not declared in versions", d.On.Version)
	}

	if d.On.Condition != "" {
		cond, err := deploy.ParseCondition(d.On.Condition)
		if err != nil {
			res.errorf("deploy.on.condition", "%v", err)
			return
		}
		if !envVarInMatrix(cfg, cells, cond.Var) {
			res.errorf("deploy.on.condition", "condition references $%s, which does not appear in the matrix", cond.Var)
		}
	}
}

// envVarInMatrix reports whether the named variable is assigned anywhere
// in the matrix: in a cell's env row or in the global assignments.
func envVarInMatrix(cfg *model.Config, cells []model.Cell, name string) bool {
	if _, ok := cfg.Env.Global.Lookup(name); ok {
		return true
	}
	for i := range cells {
		if _, ok := cells[i].Env.Lookup(name); ok {
			return true
		}
	}
	return false
}
