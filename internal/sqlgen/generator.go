// Package sqlgen renders compiled rule bindings into executable SQL: one
// self-contained validation query per binding, and an aggregating summary
// query stitching every requested binding together with UNION ALL.
package sqlgen

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hejnal/cloud-data-quality/internal/compiler"
)

// TableMetadataSource returns the last-modified timestamp for a
// fully-qualified table. Implemented by the warehouse collaborator;
// optional, the generator emits NULL when unavailable.
type TableMetadataSource interface {
	LastModified(tableID string) (time.Time, bool)
}

// WatermarkSource returns the latest previously-recorded execution
// timestamp for a rule binding. Required for incremental bindings; a
// binding with no prior run defaults to the epoch.
type WatermarkSource interface {
	HighWatermark(ruleBindingID string) (time.Time, bool, error)
}

// Options configures a Generator.
type Options struct {
	Metadata   TableMetadataSource
	Watermarks WatermarkSource
}

// Generator renders SQL for compiled rule bindings. Rendering is
// deterministic: the same bindings produce byte-identical SQL.
type Generator struct {
	opts Options
}

// New creates a Generator.
func New(opts Options) *Generator {
	return &Generator{opts: opts}
}

// BindingQuery renders the validation query for one compiled binding.
// The query returns one row per validated record for simple rules, and
// one row per failing record (at least one row) for complex rules.
func (g *Generator) BindingQuery(cb *compiler.CompiledBinding) (string, error) {
	watermark, err := g.watermarkFor(cb)
	if err != nil {
		return "", err
	}
	return g.renderBinding(cb, watermark), nil
}

// SummaryQuery renders the aggregating summary query over the given
// bindings, parameterized by a caller-supplied invocation identifier
// substituted verbatim into every row. Bindings are ordered by
// rule_binding_id so repeated invocations produce identical SQL.
func (g *Generator) SummaryQuery(invocationID string, bindings []*compiler.CompiledBinding) (string, error) {
	if len(bindings) == 0 {
		return "", fmt.Errorf("no rule bindings to generate summary SQL for")
	}

	ordered := make([]*compiler.CompiledBinding, len(bindings))
	copy(ordered, bindings)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].RuleBindingID < ordered[j].RuleBindingID
	})

	blocks := make([]string, 0, len(ordered))
	for _, cb := range ordered {
		query, err := g.BindingQuery(cb)
		if err != nil {
			return "", err
		}
		blocks = append(blocks, "SELECT * FROM (\n"+query+"\n)")
	}

	var b strings.Builder
	b.WriteString("WITH\nall_validation_results AS (\n")
	b.WriteString(strings.Join(blocks, "\nUNION ALL\n"))
	b.WriteString("\n),\n")
	b.WriteString(`validation_summary AS (
SELECT
    execution_ts,
    rule_binding_id,
    rule_id,
    table_id,
    column_id,
    dimension,
    ANY_VALUE(rows_validated) AS rows_validated,
    CASE
      WHEN ANY_VALUE(complex_rule_validation_errors_count) IS NOT NULL
        THEN ANY_VALUE(rows_validated) - ANY_VALUE(complex_rule_validation_errors_count)
      ELSE COUNTIF(simple_rule_row_is_valid IS TRUE)
    END AS success_count,
    CASE
      WHEN ANY_VALUE(complex_rule_validation_errors_count) IS NOT NULL
        THEN ANY_VALUE(complex_rule_validation_errors_count)
      ELSE COUNTIF(simple_rule_row_is_valid IS FALSE)
    END AS failed_count,
    COUNTIF(column_value IS NULL) AS null_count,
    ANY_VALUE(metadata_json_string) AS metadata_json_string,
    ANY_VALUE(configs_hashsum) AS configs_hashsum,
    ANY_VALUE(dataplex_lake) AS dataplex_lake,
    ANY_VALUE(dataplex_zone) AS dataplex_zone,
    ANY_VALUE(dataplex_asset_id) AS dataplex_asset_id,
    ANY_VALUE(progress_watermark) AS progress_watermark,
    ANY_VALUE(last_modified) AS last_modified
FROM
    all_validation_results
GROUP BY
    execution_ts,
    rule_binding_id,
    rule_id,
    table_id,
    column_id,
    dimension
)
`)
	fmt.Fprintf(&b, `SELECT
    '%s' AS invocation_id,
    execution_ts,
    rule_binding_id,
    rule_id,
    table_id,
    column_id,
    dimension,
    rows_validated,
    success_count,
    SAFE_DIVIDE(success_count, rows_validated) AS success_percentage,
    failed_count,
    SAFE_DIVIDE(failed_count, rows_validated) AS failed_percentage,
    null_count,
    SAFE_DIVIDE(null_count, rows_validated) AS null_percentage,
    metadata_json_string,
    configs_hashsum,
    dataplex_lake,
    dataplex_zone,
    dataplex_asset_id,
    CONCAT(rule_binding_id, '_', rule_id, '_', CAST(execution_ts AS STRING), '_', CAST(progress_watermark AS STRING)) AS dq_run_id,
    progress_watermark,
    last_modified
FROM
    validation_summary
`, escapeLiteral(invocationID))
	return b.String(), nil
}

// watermarkFor returns the incremental high watermark for a binding, or
// nil for full-scope bindings. A missing prior run defaults to the epoch.
func (g *Generator) watermarkFor(cb *compiler.CompiledBinding) (*time.Time, error) {
	if !cb.Incremental {
		return nil, nil
	}
	if g.opts.Watermarks == nil {
		return nil, fmt.Errorf("rule binding %q is incremental but no watermark source is configured", cb.RuleBindingID)
	}
	watermark, ok, err := g.opts.Watermarks.HighWatermark(cb.RuleBindingID)
	if err != nil {
		return nil, fmt.Errorf("failed to read high watermark for %q: %w", cb.RuleBindingID, err)
	}
	if !ok {
		watermark = time.Unix(0, 0).UTC()
	}
	return &watermark, nil
}

// renderBinding emits the complete validation query for one binding.
func (g *Generator) renderBinding(cb *compiler.CompiledBinding, watermark *time.Time) string {
	var b strings.Builder

	b.WriteString("WITH\nzero_record AS (\n")
	fmt.Fprintf(&b, "SELECT '%s' AS rule_binding_id\n", escapeLiteral(cb.RuleBindingID))
	b.WriteString("),\ndata AS (\n")
	fmt.Fprintf(&b, "SELECT\n    *\nFROM\n    `%s` d\nWHERE\n    %s\n", cb.TableID, cb.RowFilterSQL)
	if watermark != nil {
		fmt.Fprintf(&b, "    AND %s > TIMESTAMP '%s'\n", cb.TimeFilterColumn, formatTimestamp(*watermark))
	}
	b.WriteString("),\nvalidation_results AS (\n")

	blocks := make([]string, 0, len(cb.Rules))
	for _, rule := range cb.Rules {
		if rule.IsComplex() {
			blocks = append(blocks, g.renderComplexRule(cb, rule))
		} else {
			blocks = append(blocks, g.renderSimpleRule(cb, rule))
		}
	}
	b.WriteString(strings.Join(blocks, "\nUNION ALL\n"))
	b.WriteString("\n)\n")

	fmt.Fprintf(&b, `SELECT
    r.*,
    '%s' AS metadata_json_string,
    '%s' AS configs_hashsum,
    %s AS dataplex_lake,
    %s AS dataplex_zone,
    %s AS dataplex_asset_id,
    %s AS progress_watermark,
    %s AS last_modified
FROM
    validation_results r`,
		escapeLiteral(metadataJSON(cb.Metadata)),
		escapeLiteral(cb.Hashsum),
		stringLiteralOrNull(cb.DataplexLake),
		stringLiteralOrNull(cb.DataplexZone),
		stringLiteralOrNull(cb.DataplexAssetID),
		boolLiteral(cb.Incremental),
		g.lastModifiedLiteral(cb.TableID))
	return b.String()
}

// renderSimpleRule emits one row per validated row. The rule expression
// is projected as-is so that a NULL column value yields a NULL validity
// flag, which counts toward neither the success nor the failed bucket.
func (g *Generator) renderSimpleRule(cb *compiler.CompiledBinding, rule compiler.CompiledRule) string {
	return fmt.Sprintf(`SELECT
    CURRENT_TIMESTAMP() AS execution_ts,
    '%s' AS rule_binding_id,
    '%s' AS rule_id,
    '%s' AS table_id,
    '%s' AS column_id,
    data.%s AS column_value,
    %s AS dimension,
    (SELECT COUNT(1) FROM data) AS rows_validated,
    %s AS simple_rule_row_is_valid,
    CAST(NULL AS INT64) AS complex_rule_validation_errors_count
FROM
    data`,
		escapeLiteral(cb.RuleBindingID),
		escapeLiteral(rule.RuleID),
		escapeLiteral(cb.TableID),
		escapeLiteral(cb.ColumnName),
		cb.ColumnName,
		stringLiteralOrNull(rule.Dimension),
		rule.SQLExpr)
}

// renderComplexRule emits one row per failing row returned by the custom
// SQL statement, joined against zero_record so a clean run still emits a
// single row with a zero error count. The statement must select from the
// data relation and expose the validated column.
func (g *Generator) renderComplexRule(cb *compiler.CompiledBinding, rule compiler.CompiledRule) string {
	return fmt.Sprintf(`SELECT
    CURRENT_TIMESTAMP() AS execution_ts,
    zero_record.rule_binding_id,
    '%s' AS rule_id,
    '%s' AS table_id,
    '%s' AS column_id,
    custom_sql.column_value,
    %s AS dimension,
    (SELECT COUNT(1) FROM data) AS rows_validated,
    CAST(NULL AS BOOLEAN) AS simple_rule_row_is_valid,
    IFNULL(custom_sql.complex_rule_validation_errors_count, 0) AS complex_rule_validation_errors_count
FROM
    zero_record
LEFT JOIN (
    SELECT
        '%s' AS rule_binding_id,
        %s AS column_value,
        COUNT(1) OVER () AS complex_rule_validation_errors_count
    FROM (
%s
    ) custom_sql_statement_errors
) custom_sql
USING (rule_binding_id)`,
		escapeLiteral(rule.RuleID),
		escapeLiteral(cb.TableID),
		escapeLiteral(cb.ColumnName),
		stringLiteralOrNull(rule.Dimension),
		escapeLiteral(cb.RuleBindingID),
		cb.ColumnName,
		indent(rule.SQLExpr, "        "))
}

func (g *Generator) lastModifiedLiteral(tableID string) string {
	if g.opts.Metadata != nil {
		if lastModified, ok := g.opts.Metadata.LastModified(tableID); ok {
			return fmt.Sprintf("TIMESTAMP '%s'", formatTimestamp(lastModified))
		}
	}
	return "CAST(NULL AS TIMESTAMP)"
}

// metadataJSON encodes binding metadata deterministically (sorted keys).
func metadataJSON(metadata map[string]string) string {
	if metadata == nil {
		metadata = map[string]string{}
	}
	b, _ := json.Marshal(metadata)
	return string(b)
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05.999999+00")
}

func stringLiteralOrNull(s string) string {
	if s == "" {
		return "CAST(NULL AS STRING)"
	}
	return "'" + escapeLiteral(s) + "'"
}

func boolLiteral(v bool) string {
	if v {
		return "TRUE"
	}
	return "FALSE"
}

// escapeLiteral escapes backslashes and single quotes for safe embedding
// in a SQL string literal. Backslashes go first so a value like `\'` does
// not collapse into an unterminated literal.
func escapeLiteral(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "'", `\'`)
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = prefix + line
		}
	}
	return strings.Join(lines, "\n")
}
