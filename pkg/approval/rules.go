package approval

import "time"

// Rule is the approval policy for one environment.
type Rule struct {
	// Environment this rule applies to.
	Environment string `yaml:"environment"`

	// Required controls whether deployments to this environment need
	// approval at all. When false, Request is a no-op.
	Required bool `yaml:"required"`

	// MinApprovals is the number of distinct approvers needed.
	MinApprovals int `yaml:"min_approvals"`

	// AllowedRoles restricts who may decide. Empty allows any role.
	AllowedRoles []string `yaml:"allowed_roles"`

	// Timeout is how long a round stays open. Zero means no expiry.
	Timeout time.Duration `yaml:"timeout"`
}

// RuleSet maps environments to rules with a default for environments
// that have no explicit rule.
type RuleSet struct {
	rules       map[string]Rule
	defaultRule Rule
}

// NewRuleSet builds a rule set. The default rule applies to any
// environment not listed.
func NewRuleSet(rules []Rule, defaultRule Rule) *RuleSet {
	byEnv := make(map[string]Rule, len(rules))
	for _, r := range rules {
		if r.MinApprovals <= 0 {
			r.MinApprovals = 1
		}
		byEnv[r.Environment] = r
	}
	if defaultRule.MinApprovals <= 0 {
		defaultRule.MinApprovals = 1
	}
	return &RuleSet{
		rules:       byEnv,
		defaultRule: defaultRule,
	}
}

// For returns the rule for an environment.
func (rs *RuleSet) For(environment string) Rule {
	if rule, ok := rs.rules[environment]; ok {
		return rule
	}
	rule := rs.defaultRule
	rule.Environment = environment
	return rule
}

// roleAllowed reports whether any of the user's roles satisfies the rule.
func (r Rule) roleAllowed(roles []string) bool {
	if len(r.AllowedRoles) == 0 {
		return true
	}
	for _, allowed := range r.AllowedRoles {
		for _, have := range roles {
			if allowed == have {
				return true
			}
		}
	}
	return false
}
