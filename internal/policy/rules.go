package policy

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rules/policy_rules.yaml
var defaultRulesYAML []byte

// Pattern is one regular expression inside an input rule.
type Pattern struct {
	ID    string `yaml:"id"`
	Regex string `yaml:"regex"`

	compiled *regexp.Regexp
}

// InputRule groups patterns that share an action and audit message.
type InputRule struct {
	Name     string    `yaml:"name"`
	Action   Action    `yaml:"action"`
	Event    string    `yaml:"event"`
	Notice   string    `yaml:"notice"`
	Patterns []Pattern `yaml:"patterns"`
}

// Match reports whether any of the rule's patterns occurs in text.
func (r *InputRule) Match(text string) bool {
	for _, p := range r.Patterns {
		if p.compiled != nil && p.compiled.MatchString(text) {
			return true
		}
	}
	return false
}

// OutputRule flags drafts with fewer than MinCitations citations.
type OutputRule struct {
	MinCitations int    `yaml:"min_citations"`
	Action       Action `yaml:"action"`
	Event        string `yaml:"event"`
	Notice       string `yaml:"notice"`
}

// RuleSet is a compiled policy rule file.
type RuleSet struct {
	Input  []InputRule `yaml:"input"`
	Output OutputRule  `yaml:"output"`
}

// DefaultRules returns the rule set compiled into the binary.
func DefaultRules() (*RuleSet, error) {
	return LoadRules(defaultRulesYAML)
}

// LoadRules parses and compiles a YAML rule file.
func LoadRules(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal policy rules: %w", err)
	}
	if err := rs.compile(); err != nil {
		return nil, err
	}
	return &rs, nil
}

func (rs *RuleSet) compile() error {
	for i := range rs.Input {
		rule := &rs.Input[i]
		if strings.TrimSpace(rule.Name) == "" {
			return fmt.Errorf("input rule %d: name is required", i)
		}
		switch rule.Action {
		case ActionBlock, ActionRedact:
		default:
			return fmt.Errorf("input rule %q: unsupported action %q", rule.Name, rule.Action)
		}
		for j := range rule.Patterns {
			re, err := regexp.Compile(rule.Patterns[j].Regex)
			if err != nil {
				return fmt.Errorf("input rule %q pattern %q: %w", rule.Name, rule.Patterns[j].ID, err)
			}
			rule.Patterns[j].compiled = re
		}
	}
	if rs.Output.Action == "" {
		rs.Output.Action = ActionRedact
	}
	if rs.Output.Action == ActionBlock {
		return fmt.Errorf("output rule: action %q is not allowed", ActionBlock)
	}
	return nil
}
