// condition.go implements the deploy trigger condition mini-language.
//
// A condition is a single env comparison of the form
//
//	$VAR = value
//	$VAR != value
//
// evaluated against the deploying cell's environment. This is
// deliberately the only supported form: the condition exists to pick one
// matrix cell as the deploy cell, not to be a general expression
// language.
package deploy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/mmr-tortoise/lattice/internal/model"
)

// Condition is a parsed deploy trigger condition.
type Condition struct {
	// Var is the environment variable name (without the $ prefix).
	Var string

	// Negated is true for "!=" comparisons.
	Negated bool

	// Value is the right-hand side, with any surrounding quotes removed.
	Value string
}

// String returns the condition in its canonical source form.
func (c Condition) String() string {
	op := "="
	if c.Negated {
		op = "!="
	}
	return fmt.Sprintf("$%s %s %s", c.Var, op, c.Value)
}

// conditionRegex matches "$VAR = value" / "$VAR != value" with flexible
// whitespace. The value runs to the end of the string so it may contain
// spaces when quoted; it must not start with "=" so that shell-style
// "==" is rejected rather than parsed as "= =value".
var conditionRegex = regexp.MustCompile(`^\$([A-Za-z_][A-Za-z0-9_]*)\s*(!?=)\s*([^=\s].*)$`)

// ParseCondition parses a deploy trigger condition string.
func ParseCondition(s string) (Condition, error) {
	m := conditionRegex.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Condition{}, fmt.Errorf("invalid condition %q: expected \"$VAR = value\" or \"$VAR != value\"", s)
	}

	value := strings.TrimSpace(m[3])
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') || (value[0] == '\'' && value[len(value)-1] == '\'') {
			value = value[1 : len(value)-1]
		}
	}

	return Condition{
		Var:     m[1],
		Negated: m[2] == "!=",
		Value:   value,
	}, nil
}

// Eval evaluates the condition against an environment. An unset variable
// compares as the empty string, matching shell semantics.
func (c Condition) Eval(env model.EnvRow) bool {
	actual, _ := env.Lookup(c.Var)
	if c.Negated {
		return actual != c.Value
	}
	return actual == c.Value
}
