package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hejnal/cloud-data-quality/internal/config"
)

// CompiledRule is one rule made concrete against a validated column.
// For simple rules SQLExpr is a per-row boolean expression; for
// CUSTOM_SQL_STATEMENT it is a full subquery over the `data` relation
// returning the failing rows.
type CompiledRule struct {
	RuleID    string          `json:"rule_id"`
	RuleType  config.RuleType `json:"rule_type"`
	Dimension string          `json:"dimension,omitempty"`
	SQLExpr   string          `json:"rule_sql_expr"`
}

// IsComplex reports whether the rule aggregates to a failure count
// instead of a per-row validity flag.
func (r CompiledRule) IsComplex() bool {
	return r.RuleType == config.RuleCustomSQLStatement
}

// CompileRule produces the concrete SQL for one rule against the
// resolved column, substituting the binding-supplied argument overrides.
// The rule_type enumeration is closed: each variant has exactly one
// compilation branch and anything else fails with UnknownRuleTypeError.
//
// Substitution is literal token replacement, not SQL-injection-safe
// parsing; the configuration source is trusted. The only hardening kept
// is the comment-token guard on custom SQL and regex parameters.
func CompileRule(rule *config.Rule, columnName string, args map[string]string) (CompiledRule, error) {
	compiled := CompiledRule{
		RuleID:    rule.ID,
		RuleType:  rule.RuleType,
		Dimension: rule.Dimension,
	}

	switch rule.RuleType {
	case config.RuleNotNull:
		compiled.SQLExpr = fmt.Sprintf("%s IS NOT NULL", columnName)

	case config.RuleNotBlank:
		compiled.SQLExpr = fmt.Sprintf("TRIM(%s) != ''", columnName)

	case config.RuleRegex:
		pattern, _ := rule.Params["pattern"].(string)
		if err := checkSQLParam(rule.ID, "pattern", pattern, false); err != nil {
			return CompiledRule{}, err
		}
		compiled.SQLExpr = fmt.Sprintf("REGEXP_CONTAINS(CAST(%s AS STRING), '%s')", columnName, pattern)

	case config.RuleCustomSQLExpr:
		expr, _ := rule.Params["custom_sql_expr"].(string)
		if err := checkSQLParam(rule.ID, "custom_sql_expr", expr, true); err != nil {
			return CompiledRule{}, err
		}
		substituted, err := substitute(rule, expr, columnName, args)
		if err != nil {
			return CompiledRule{}, err
		}
		compiled.SQLExpr = substituted

	case config.RuleCustomSQLStatement:
		stmt, _ := rule.Params["custom_sql_statement"].(string)
		if err := checkSQLParam(rule.ID, "custom_sql_statement", stmt, false); err != nil {
			return CompiledRule{}, err
		}
		substituted, err := substitute(rule, stmt, columnName, args)
		if err != nil {
			return CompiledRule{}, err
		}
		compiled.SQLExpr = strings.TrimSpace(substituted)

	case "":
		return CompiledRule{}, &UnknownRuleTypeError{RuleID: rule.ID, RuleType: ""}
	default:
		return CompiledRule{}, &UnknownRuleTypeError{RuleID: rule.ID, RuleType: string(rule.RuleType)}
	}

	return compiled, nil
}

// substitute replaces every declared custom-sql-argument placeholder and
// the $column token with its value. Tokens are replaced longest-first so
// that $column never clobbers a longer placeholder such as $column_names.
func substitute(rule *config.Rule, template, columnName string, args map[string]string) (string, error) {
	tokens := map[string]string{"column": columnName}
	for _, name := range rule.CustomSQLArguments {
		value, ok := args[name]
		if !ok {
			return "", &MissingArgumentError{RuleID: rule.ID, Argument: name}
		}
		tokens[name] = value
	}

	names := make([]string, 0, len(tokens))
	for name := range tokens {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})

	out := template
	for _, name := range names {
		out = strings.ReplaceAll(out, "$"+name, tokens[name])
	}
	return out, nil
}

// checkSQLParam rejects empty values and values carrying SQL comment
// tokens, which would structurally corrupt the generated query.
func checkSQLParam(ruleID, param, value string, rejectHash bool) error {
	if strings.TrimSpace(value) == "" {
		return &InvalidRuleParamError{RuleID: ruleID, Param: param, Reason: "must not be empty"}
	}
	if strings.Contains(value, "--") || strings.Contains(value, "/*") {
		return &InvalidRuleParamError{RuleID: ruleID, Param: param, Reason: "must not contain SQL comment tokens"}
	}
	if rejectHash && strings.Contains(value, "#") {
		return &InvalidRuleParamError{RuleID: ruleID, Param: param, Reason: "must not contain SQL comment tokens"}
	}
	return nil
}
