package domain

import (
	"context"
	"fmt"
)

// Severity captures rule outcomes.
type Severity string

const (
	// SeverityBlock rejects the change.
	SeverityBlock Severity = "block"
	// SeverityWarn is logged but the change is kept.
	SeverityWarn Severity = "warn"
)

// RuleView provides read-only access to the proposed definitions.
type RuleView interface {
	ListWorkItems() []WorkItemDefinition
	ListJobs() []JobDefinition
	FindWorkItem(id uint64) (WorkItemDefinition, bool)
	FindJob(id uint64) (JobDefinition, bool)
}

// Rule checks a proposed set of definitions.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, view RuleView) (Result, error)
}

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID uint64
}

// Result aggregates violations.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking reports whether any violation blocks the change.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			return fmt.Sprintf("change blocked by rule %s: %s", v.Rule, v.Message)
		}
	}
	return "change blocked by rules"
}

// RulesEngine evaluates registered rules in order.
type RulesEngine struct {
	rules []Rule
}

// NewRulesEngine returns an engine without rules.
func NewRulesEngine() *RulesEngine {
	return &RulesEngine{}
}

// Register appends a rule to the engine.
func (e *RulesEngine) Register(rule Rule) {
	e.rules = append(e.rules, rule)
}

// Evaluate runs every rule and merges their results. A nil engine has no
// rules.
func (e *RulesEngine) Evaluate(ctx context.Context, view RuleView) (Result, error) {
	var combined Result
	if e == nil {
		return combined, nil
	}
	for _, rule := range e.rules {
		res, err := rule.Evaluate(ctx, view)
		if err != nil {
			return Result{}, fmt.Errorf("rule %s: %w", rule.Name(), err)
		}
		combined.Merge(res)
	}
	return combined, nil
}
