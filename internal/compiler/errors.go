package compiler

import "fmt"

// UnknownEnvironmentError reports an explicitly requested environment
// with no matching override on the resolved entity.
type UnknownEnvironmentError struct {
	EntityID    string
	Environment string
}

func (e *UnknownEnvironmentError) Error() string {
	return fmt.Sprintf("entity %q has no environment override for %q", e.EntityID, e.Environment)
}

// ColumnNotInEntityError reports a rule binding whose validated column is
// not part of its resolved entity's schema.
type ColumnNotInEntityError struct {
	RuleBindingID string
	EntityID      string
	ColumnID      string
}

func (e *ColumnNotInEntityError) Error() string {
	return fmt.Sprintf("rule binding %q: column %q not found in entity %q",
		e.RuleBindingID, e.ColumnID, e.EntityID)
}

// MissingArgumentError reports a declared custom-sql-argument with no
// value supplied by the binding.
type MissingArgumentError struct {
	RuleBindingID string
	RuleID        string
	Argument      string
}

func (e *MissingArgumentError) Error() string {
	return fmt.Sprintf("rule binding %q: rule %q declares argument %q but the binding does not supply it",
		e.RuleBindingID, e.RuleID, e.Argument)
}

// UnknownRuleTypeError reports a rule_type outside the closed enumeration.
type UnknownRuleTypeError struct {
	RuleID   string
	RuleType string
}

func (e *UnknownRuleTypeError) Error() string {
	return fmt.Sprintf("rule %q: unknown rule type %q", e.RuleID, e.RuleType)
}

// InvalidEntityURIError reports a structured entity address that fails to
// parse per its scheme's required keys.
type InvalidEntityURIError struct {
	URI    string
	Reason string
}

func (e *InvalidEntityURIError) Error() string {
	return fmt.Sprintf("invalid entity URI %q: %s", e.URI, e.Reason)
}

// InvalidRuleParamError reports a rule parameter value that would corrupt
// the generated SQL (empty, or carrying SQL comment tokens).
type InvalidRuleParamError struct {
	RuleID string
	Param  string
	Reason string
}

func (e *InvalidRuleParamError) Error() string {
	return fmt.Sprintf("rule %q: param %q %s", e.RuleID, e.Param, e.Reason)
}
