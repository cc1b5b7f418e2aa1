package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmr-tortoise/lattice/internal/config"
	"github.com/mmr-tortoise/lattice/internal/model"
)

// parse is a test helper that builds a Config from YAML via the real
// parser, so validation tests exercise the same structures the CLI sees.
func parse(t *testing.T, yaml string) *model.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(yaml))
	require.NoError(t, err)
	return cfg
}

// hasFinding reports whether the result contains a finding for the field
// with the given severity.
func hasFinding(res *Result, severity Severity, field string) bool {
	for _, f := range res.Findings {
		if f.Severity == severity && f.Field == field {
			return true
		}
	}
	return false
}

// TestConfig_Valid verifies a well-formed config produces no findings.
func TestConfig_Valid(t *testing.T) {
	cfg := parse(t, `
language: python
versions: ["3.11", "3.12"]
env:
  matrix:
    - DJANGO=4.2
    - DJANGO=5.0
matrix:
  allow_failures:
    - env: DJANGO=5.0
install: pip install tox
script: tox
deploy:
  provider: pypi
  username: charettes
  password:
    secure: "AbCdEf=="
  on:
    tags: true
    version: "3.12"
    condition: $DJANGO = 5.0
`)

	res := Config(cfg)
	assert.True(t, res.OK())
	assert.Empty(t, res.Findings)
}

// TestConfig_RequiredFields verifies language and script are mandatory.
func TestConfig_RequiredFields(t *testing.T) {
	res := Config(parse(t, `{}`))
	assert.False(t, res.OK())
	assert.True(t, hasFinding(res, SeverityError, "language"))
	assert.True(t, hasFinding(res, SeverityError, "script"))
}

// TestConfig_AllowFailuresSubset enforces the core structural property:
// every allowed-failure entry must select at least one matrix cell.
func TestConfig_AllowFailuresSubset(t *testing.T) {
	cfg := parse(t, `
language: python
versions: ["3.12"]
env:
  matrix:
    - DJANGO=5.0
matrix:
  allow_failures:
    - env: DJANGO=main
script: tox
`)

	res := Config(cfg)
	assert.False(t, res.OK())
	assert.True(t, hasFinding(res, SeverityError, "matrix.allow_failures[0]"))
}

// TestConfig_AllowFailuresUndeclaredVersion rejects entries naming
// versions outside the declared axis.
func TestConfig_AllowFailuresUndeclaredVersion(t *testing.T) {
	cfg := parse(t, `
language: python
versions: ["3.12"]
matrix:
  allow_failures:
    - version: "2.7"
script: tox
`)

	res := Config(cfg)
	assert.True(t, hasFinding(res, SeverityError, "matrix.allow_failures[0]"))
}

// TestConfig_AllowFailuresMatchesInclude verifies that entries selecting
// only an included cell are accepted, since includes are part of the matrix.
func TestConfig_AllowFailuresMatchesInclude(t *testing.T) {
	cfg := parse(t, `
language: python
versions: ["3.12"]
env:
  matrix:
    - DJANGO=5.0
matrix:
  include:
    - version: "3.12"
      env: DJANGO=main
  allow_failures:
    - env: DJANGO=main
script: tox
`)

	res := Config(cfg)
	assert.True(t, res.OK(), "findings: %v", res.Findings)
}

// TestConfig_UnmatchedExcludeWarns verifies excludes that remove nothing
// warn instead of erroring.
func TestConfig_UnmatchedExcludeWarns(t *testing.T) {
	cfg := parse(t, `
language: python
versions: ["3.12"]
matrix:
  exclude:
    - version: "3.12"
      env: DJANGO=404
script: tox
`)

	res := Config(cfg)
	assert.True(t, res.OK()) // warnings do not fail validation
	assert.True(t, hasFinding(res, SeverityWarning, "matrix.exclude[0]"))
}

// TestConfig_EmptySelector rejects entries with no attributes.
func TestConfig_EmptySelector(t *testing.T) {
	cfg := parse(t, `
language: python
versions: ["3.12"]
matrix:
  include:
    - {}
  allow_failures:
    - {}
script: tox
`)

	res := Config(cfg)
	assert.True(t, hasFinding(res, SeverityError, "matrix.include[0]"))
	assert.True(t, hasFinding(res, SeverityError, "matrix.allow_failures[0]"))
}

// TestConfig_DuplicateWarnings covers duplicate versions, env rows,
// and expanded cells.
func TestConfig_DuplicateWarnings(t *testing.T) {
	cfg := parse(t, `
language: python
versions: ["3.12", "3.12"]
env:
  matrix:
    - DJANGO=5.0
    - DJANGO=5.0
script: tox
`)

	res := Config(cfg)
	assert.True(t, res.OK())
	assert.True(t, hasFinding(res, SeverityWarning, "versions[1]"))
	assert.True(t, hasFinding(res, SeverityWarning, "env.matrix[1]"))
	assert.True(t, hasFinding(res, SeverityWarning, "matrix"))
}

// TestConfig_DeployProvider covers provider-specific requirements.
func TestConfig_DeployProvider(t *testing.T) {
	t.Run("unknown provider", func(t *testing.T) {
		cfg := parse(t, `
language: python
script: tox
deploy:
  provider: rubygems
`)
		res := Config(cfg)
		assert.True(t, hasFinding(res, SeverityError, "deploy.provider"))
	})

	t.Run("registry provider requires credentials", func(t *testing.T) {
		cfg := parse(t, `
language: python
script: tox
deploy:
  provider: pypi
`)
		res := Config(cfg)
		assert.True(t, hasFinding(res, SeverityError, "deploy.username"))
		assert.True(t, hasFinding(res, SeverityError, "deploy.password"))
	})

	t.Run("script provider requires commands", func(t *testing.T) {
		cfg := parse(t, `
language: python
script: tox
deploy:
  provider: script
`)
		res := Config(cfg)
		assert.True(t, hasFinding(res, SeverityError, "deploy.script"))
	})
}

// TestConfig_DeployTriggerReferences enforces that the trigger points at
// things that exist in the matrix.
func TestConfig_DeployTriggerReferences(t *testing.T) {
	t.Run("undeclared version", func(t *testing.T) {
		cfg := parse(t, `
language: python
versions: ["3.12"]
script: tox
deploy:
  provider: script
  script: ./release.sh
  on:
    version: "2.7"
`)
		res := Config(cfg)
		assert.True(t, hasFinding(res, SeverityError, "deploy.on.version"))
	})

	t.Run("condition var not in matrix", func(t *testing.T) {
		cfg := parse(t, `
language: python
versions: ["3.12"]
env:
  matrix:
    - DJANGO=5.0
script: tox
deploy:
  provider: script
  script: ./release.sh
  on:
    condition: $TOXENV = py312
`)
		res := Config(cfg)
		assert.True(t, hasFinding(res, SeverityError, "deploy.on.condition"))
	})

	t.Run("condition var from globals is accepted", func(t *testing.T) {
		cfg := parse(t, `
language: python
versions: ["3.12"]
env:
  global:
    - CHANNEL=stable
script: tox
deploy:
  provider: script
  script: ./release.sh
  on:
    condition: $CHANNEL = stable
`)
		res := Config(cfg)
		assert.True(t, res.OK(), "findings: %v", res.Findings)
	})

	t.Run("malformed condition", func(t *testing.T) {
		cfg := parse(t, `
language: python
versions: ["3.12"]
script: tox
deploy:
  provider: script
  script: ./release.sh
  on:
    condition: not a condition
`)
		res := Config(cfg)
		assert.True(t, hasFinding(res, SeverityError, "deploy.on.condition"))
	})
}

// TestConfig_SecureBlobWhitespace rejects blobs that were mangled by
// YAML folding.
func TestConfig_SecureBlobWhitespace(t *testing.T) {
	cfg := parse(t, `
language: python
script: tox
deploy:
  provider: pypi
  username: charettes
  password:
    secure: "AbCd Ef=="
`)
	res := Config(cfg)
	assert.True(t, hasFinding(res, SeverityError, "deploy.password.secure"))
}
