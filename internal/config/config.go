// Package config handles discovery, parsing, and normalization of the
// lattice build-matrix configuration file.
//
// The canonical format is YAML (.lattice.yml), parsed with gopkg.in/yaml.v3.
// JSON variants with comments (.lattice.jsonc, lattice.json) are supported
// by stripping JSONC comments with github.com/tidwall/jsonc before decoding;
// since every JSON document is a valid YAML document, both formats go
// through the same decoder.
//
// Several schema fields accept multiple shapes for author convenience
// (string-or-list phases, list-or-sectioned env), so parsing happens in two
// steps: decode into a raw form with flexible field types, then normalize
// into the strict model.Config.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/mmr-tortoise/lattice/internal/model"
)

// Candidate config file names, in priority order. The hidden YAML name is
// the canonical one; the JSON variants exist for projects that keep their
// tool configuration in commented JSON.
var candidates = []string{
	".lattice.yml",
	".lattice.yaml",
	"lattice.yml",
	".lattice.jsonc",
	"lattice.json",
}

// Find searches for a lattice config file in the given directory.
//
// Returns the path of the first candidate that exists, or a CLIError with
// ExitConfigNotFound if none do.
func Find(dir string) (string, error) {
	for _, name := range candidates {
		path := filepath.Join(dir, name)
		// os.Stat checks existence without reading contents.
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", model.NewCLIError(
		model.ExitConfigNotFound,
		fmt.Sprintf("no lattice config found in %s (searched %s)", dir, strings.Join(candidates, ", ")),
	)
}

// Load reads and parses the config file at the given path, returning the
// normalized model.Config.
//
// Returns a CLIError with ExitConfigNotFound if the file does not exist,
// or ExitConfigInvalid if it cannot be decoded or normalized.
func Load(path string) (*model.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, model.WrapCLIError(
				model.ExitConfigNotFound,
				fmt.Sprintf("config file not found: %s", path),
				err,
			)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// JSON variants may carry comments and trailing commas. Strip them
	// before decoding; the result is plain JSON, which the YAML decoder
	// accepts as-is.
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" || ext == ".jsonc" {
		data = jsonc.ToJSON(data)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, model.WrapCLIError(
			model.ExitConfigInvalid,
			fmt.Sprintf("invalid config %s", path),
			err,
		)
	}
	cfg.Path = path
	return cfg, nil
}

// Parse decodes raw config bytes and normalizes them into a model.Config.
// Unknown top-level keys are silently ignored, so configs can carry
// host-specific extensions without breaking lattice.
func Parse(data []byte) (*model.Config, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return raw.normalize()
}

// rawConfig is the flexible decode target. Fields that accept multiple
// YAML shapes use dedicated types with custom unmarshalling; everything
// else decodes directly.
type rawConfig struct {
	Language string     `yaml:"language"`
	Versions stringList `yaml:"versions"`
	Env      rawEnv     `yaml:"env"`
	Matrix   rawMatrix  `yaml:"matrix"`

	BeforeInstall stringList `yaml:"before_install"`
	Install       stringList `yaml:"install"`
	BeforeScript  stringList `yaml:"before_script"`
	Script        stringList `yaml:"script"`
	AfterSuccess  stringList `yaml:"after_success"`
	AfterFailure  stringList `yaml:"after_failure"`
	AfterScript   stringList `yaml:"after_script"`

	Images map[string]string `yaml:"images"`

	Deploy *rawDeploy `yaml:"deploy"`
}

// normalize converts the raw decode into the strict domain form,
// parsing env rows and selector entries along the way.
func (r *rawConfig) normalize() (*model.Config, error) {
	cfg := &model.Config{
		Language:      r.Language,
		Versions:      r.Versions,
		BeforeInstall: r.BeforeInstall,
		Install:       r.Install,
		BeforeScript:  r.BeforeScript,
		Script:        r.Script,
		AfterSuccess:  r.AfterSuccess,
		AfterFailure:  r.AfterFailure,
		AfterScript:   r.AfterScript,
		Images:        r.Images,
	}

	global, err := parseEnvRows("env.global", r.Env.Global)
	if err != nil {
		return nil, err
	}
	// Global assignments flatten into a single row: sectioning them in
	// the source is purely cosmetic.
	for _, row := range global {
		cfg.Env.Global = append(cfg.Env.Global, row...)
	}

	cfg.Env.Matrix, err = parseEnvRows("env.matrix", r.Env.Matrix)
	if err != nil {
		return nil, err
	}

	cfg.Matrix.FastFinish = r.Matrix.FastFinish
	cfg.Matrix.Include, err = parseSelectors("matrix.include", r.Matrix.Include)
	if err != nil {
		return nil, err
	}
	cfg.Matrix.Exclude, err = parseSelectors("matrix.exclude", r.Matrix.Exclude)
	if err != nil {
		return nil, err
	}
	cfg.Matrix.AllowFailures, err = parseSelectors("matrix.allow_failures", r.Matrix.AllowFailures)
	if err != nil {
		return nil, err
	}

	if r.Deploy != nil {
		deploy, err := r.Deploy.normalize()
		if err != nil {
			return nil, err
		}
		cfg.Deploy = deploy
	}

	return cfg, nil
}

// parseEnvRows parses a list of "K=V K2=V2" row strings, attributing
// errors to the named config section.
func parseEnvRows(section string, rows []string) ([]model.EnvRow, error) {
	var parsed []model.EnvRow
	for i, raw := range rows {
		row, err := model.ParseEnvRow(raw)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", section, i, err)
		}
		parsed = append(parsed, row)
	}
	return parsed, nil
}

// parseSelectors converts raw selector entries into model.MatrixSelector
// values, parsing their env rows.
func parseSelectors(section string, entries []rawSelector) ([]model.MatrixSelector, error) {
	var selectors []model.MatrixSelector
	for i, e := range entries {
		sel := model.MatrixSelector{Version: e.Version}
		if e.Env != "" {
			row, err := model.ParseEnvRow(e.Env)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", section, i, err)
			}
			sel.Env = row
		}
		selectors = append(selectors, sel)
	}
	return selectors, nil
}

// stringList decodes a YAML value that may be either a single scalar
// string or a sequence of strings. Phase command lists and the versions
// axis both use this convenience form:
//
//	script: tox
//	script: [flake8, tox]
type stringList []string

// UnmarshalYAML implements yaml.Unmarshaler for the string-or-list form.
func (l *stringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*l = stringList{s}
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}
		*l = items
		return nil
	default:
		return fmt.Errorf("line %d: expected a string or a list of strings", node.Line)
	}
}

// rawEnv decodes the env section, which may be either a bare list of
// matrix rows or a mapping with explicit global/matrix keys:
//
//	env:
//	  - DJANGO=4.2
//	  - DJANGO=5.0
//
//	env:
//	  global:
//	    - PIP_DISABLE_PIP_VERSION_CHECK=1
//	  matrix:
//	    - DJANGO=4.2
type rawEnv struct {
	Global stringList
	Matrix stringList
}

// UnmarshalYAML implements yaml.Unmarshaler for the two env section shapes.
func (e *rawEnv) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode, yaml.ScalarNode:
		// Bare list (or single scalar): all rows are matrix rows.
		var rows stringList
		if err := node.Decode(&rows); err != nil {
			return err
		}
		e.Matrix = rows
		return nil
	case yaml.MappingNode:
		var sections struct {
			Global stringList `yaml:"global"`
			Matrix stringList `yaml:"matrix"`
		}
		if err := node.Decode(&sections); err != nil {
			return err
		}
		e.Global = sections.Global
		e.Matrix = sections.Matrix
		return nil
	default:
		return fmt.Errorf("line %d: env must be a list of rows or a global/matrix mapping", node.Line)
	}
}

// rawMatrix decodes the matrix adjustment section.
type rawMatrix struct {
	Include       []rawSelector `yaml:"include"`
	Exclude       []rawSelector `yaml:"exclude"`
	AllowFailures []rawSelector `yaml:"allow_failures"`
	FastFinish    bool          `yaml:"fast_finish"`
}

// rawSelector decodes one include/exclude/allow_failures entry. The env
// attribute is the row in its source "K=V K2=V2" form.
type rawSelector struct {
	Version string `yaml:"version"`
	Env     string `yaml:"env"`
}

// rawDeploy decodes the deploy descriptor.
type rawDeploy struct {
	Provider   string     `yaml:"provider"`
	Username   string     `yaml:"username"`
	Password   rawSecret  `yaml:"password"`
	Repository string     `yaml:"repository"`
	Script     stringList `yaml:"script"`
	On         struct {
		Tags      bool   `yaml:"tags"`
		Branch    string `yaml:"branch"`
		Version   string `yaml:"version"`
		Condition string `yaml:"condition"`
	} `yaml:"on"`
}

// normalize converts the raw deploy block into the domain form. The
// provider string is kept even when unknown, so validation can report it
// with field context rather than failing the parse.
func (d *rawDeploy) normalize() (*model.Deploy, error) {
	deploy := &model.Deploy{
		Provider:   model.Provider(strings.ToLower(d.Provider)),
		Username:   d.Username,
		Password:   model.Secret{Plain: d.Password.Plain, Secure: d.Password.Secure},
		Repository: d.Repository,
		Script:     d.Script,
	}
	deploy.On.Tags = d.On.Tags
	deploy.On.Branch = d.On.Branch
	deploy.On.Version = d.On.Version
	deploy.On.Condition = d.On.Condition
	return deploy, nil
}

// rawSecret decodes a credential that may be a plain scalar or a
// {secure: <blob>} mapping.
type rawSecret struct {
	Plain  string
	Secure string
}

// UnmarshalYAML implements yaml.Unmarshaler for the two credential shapes.
func (s *rawSecret) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		return node.Decode(&s.Plain)
	case yaml.MappingNode:
		var m struct {
			Secure string `yaml:"secure"`
		}
		if err := node.Decode(&m); err != nil {
			return err
		}
		s.Secure = m.Secure
		return nil
	default:
		return fmt.Errorf("line %d: password must be a string or a {secure: ...} mapping", node.Line)
	}
}
