// Package report computes outstanding regulatory obligations from
// ledger and graph state. The scheduler is read-only with respect to
// both; submission acknowledgements arrive from the external report
// sink and are the only state it keeps.
package report

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RuleKind selects the trigger class of a regulatory rule.
type RuleKind string

const (
	// RuleContinuous triggers on unsubmitted high or critical
	// incidents older than the rule threshold.
	RuleContinuous RuleKind = "continuous"
	// RuleProblemResolution triggers on tests left in the affected
	// state with no safety improvement in flight.
	RuleProblemResolution RuleKind = "problem_resolution"
)

// Duration wraps time.Duration for yaml rule files ("72h", "30m").
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Rule is one registered regulatory obligation source.
type Rule struct {
	Standard    string   `yaml:"standard"`
	Clause      string   `yaml:"clause"`
	Description string   `yaml:"description"`
	Kind        RuleKind `yaml:"kind"`
	Threshold   Duration `yaml:"threshold"` // continuous rules only
}

// RuleSet is the parsed rule file.
type RuleSet struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads and validates a yaml rule file.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules: %w", err)
	}
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}
	for i, r := range rs.Rules {
		if r.Standard == "" || r.Clause == "" {
			return nil, fmt.Errorf("rule %d: standard and clause are required", i)
		}
		switch r.Kind {
		case RuleContinuous, RuleProblemResolution:
		default:
			return nil, fmt.Errorf("rule %d (%s %s): unknown kind %q", i, r.Standard, r.Clause, r.Kind)
		}
	}
	return rs.Rules, nil
}
