package sqlgen

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hejnal/cloud-data-quality/internal/compiler"
	"github.com/hejnal/cloud-data-quality/internal/config"
)

func simpleBinding() *compiler.CompiledBinding {
	return &compiler.CompiledBinding{
		RuleBindingID:  "T1_DQ_1",
		EntityID:       "TEST_TABLE",
		SourceDatabase: config.SourceBigQuery,
		TableID:        "my-project.dq_test.contact_details",
		ColumnID:       "VALUE",
		ColumnName:     "value",
		RowFilterID:    "NONE",
		RowFilterSQL:   "True",
		Rules: []compiler.CompiledRule{
			{RuleID: "NOT_NULL_SIMPLE", RuleType: config.RuleNotNull, Dimension: "completeness", SQLExpr: "value IS NOT NULL"},
		},
		Metadata: map[string]string{"team": "data-eng"},
		Hashsum:  "abc123",
	}
}

func complexBinding() *compiler.CompiledBinding {
	cb := simpleBinding()
	cb.RuleBindingID = "T1_DQ_2"
	cb.Rules = []compiler.CompiledRule{
		{
			RuleID:   "NO_DUPLICATES_IN_COLUMN_GROUPS",
			RuleType: config.RuleCustomSQLStatement,
			SQLExpr:  "select value from data\ngroup by value\nhaving count(*) > 1",
		},
	}
	return cb
}

type stubWatermarks struct {
	watermark time.Time
	found     bool
	err       error
}

func (s stubWatermarks) HighWatermark(string) (time.Time, bool, error) {
	return s.watermark, s.found, s.err
}

type stubMetadata struct {
	lastModified time.Time
}

func (s stubMetadata) LastModified(string) (time.Time, bool) {
	return s.lastModified, true
}

func TestGenerator_BindingQuerySimpleRule(t *testing.T) {
	g := New(Options{})

	query, err := g.BindingQuery(simpleBinding())
	require.NoError(t, err)

	assert.Contains(t, query, "SELECT 'T1_DQ_1' AS rule_binding_id")
	assert.Contains(t, query, "FROM\n    `my-project.dq_test.contact_details` d")
	assert.Contains(t, query, "WHERE\n    True")
	assert.Contains(t, query, "value IS NOT NULL AS simple_rule_row_is_valid")
	assert.Contains(t, query, "data.value AS column_value")
	assert.Contains(t, query, "(SELECT COUNT(1) FROM data) AS rows_validated")
	assert.Contains(t, query, "CAST(NULL AS INT64) AS complex_rule_validation_errors_count")
	assert.Contains(t, query, `'{"team":"data-eng"}' AS metadata_json_string`)
	assert.Contains(t, query, "'abc123' AS configs_hashsum")
	assert.Contains(t, query, "FALSE AS progress_watermark")
	assert.Contains(t, query, "CAST(NULL AS TIMESTAMP) AS last_modified")
	assert.NotContains(t, query, "TIMESTAMP '")
}

func TestGenerator_BindingQueryComplexRule(t *testing.T) {
	g := New(Options{})

	query, err := g.BindingQuery(complexBinding())
	require.NoError(t, err)

	assert.Contains(t, query, "zero_record AS (")
	assert.Contains(t, query, "LEFT JOIN (")
	assert.Contains(t, query, "USING (rule_binding_id)")
	assert.Contains(t, query, "COUNT(1) OVER () AS complex_rule_validation_errors_count")
	assert.Contains(t, query, "IFNULL(custom_sql.complex_rule_validation_errors_count, 0)")
	assert.Contains(t, query, "CAST(NULL AS BOOLEAN) AS simple_rule_row_is_valid")
	assert.Contains(t, query, "select value from data")
	assert.Contains(t, query, "custom_sql_statement_errors")
}

func TestGenerator_BindingQueryIncremental(t *testing.T) {
	watermark := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	cb := simpleBinding()
	cb.Incremental = true
	cb.TimeFilterColumn = "ts"

	g := New(Options{Watermarks: stubWatermarks{watermark: watermark, found: true}})

	query, err := g.BindingQuery(cb)
	require.NoError(t, err)

	assert.Contains(t, query, "AND ts > TIMESTAMP '2026-03-14 09:26:53+00'")
	assert.Contains(t, query, "TRUE AS progress_watermark")
}

func TestGenerator_BindingQueryIncrementalDefaultsToEpoch(t *testing.T) {
	cb := simpleBinding()
	cb.Incremental = true
	cb.TimeFilterColumn = "ts"

	g := New(Options{Watermarks: stubWatermarks{found: false}})

	query, err := g.BindingQuery(cb)
	require.NoError(t, err)
	assert.Contains(t, query, "AND ts > TIMESTAMP '1970-01-01 00:00:00+00'")
}

func TestGenerator_BindingQueryIncrementalRequiresWatermarkSource(t *testing.T) {
	cb := simpleBinding()
	cb.Incremental = true
	cb.TimeFilterColumn = "ts"

	g := New(Options{})

	_, err := g.BindingQuery(cb)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no watermark source")
}

func TestGenerator_BindingQueryWatermarkFailure(t *testing.T) {
	cb := simpleBinding()
	cb.Incremental = true
	cb.TimeFilterColumn = "ts"

	g := New(Options{Watermarks: stubWatermarks{err: fmt.Errorf("store unavailable")}})

	_, err := g.BindingQuery(cb)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store unavailable")
}

func TestGenerator_BindingQueryLastModified(t *testing.T) {
	lastModified := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	g := New(Options{Metadata: stubMetadata{lastModified: lastModified}})

	query, err := g.BindingQuery(simpleBinding())
	require.NoError(t, err)
	assert.Contains(t, query, "TIMESTAMP '2026-01-02 03:04:05+00' AS last_modified")
}

func TestGenerator_BindingQueryDataplexFields(t *testing.T) {
	cb := simpleBinding()
	cb.DataplexLake = "lake1"
	cb.DataplexZone = "zone1"
	cb.DataplexAssetID = "asset1"

	g := New(Options{})
	query, err := g.BindingQuery(cb)
	require.NoError(t, err)

	assert.Contains(t, query, "'lake1' AS dataplex_lake")
	assert.Contains(t, query, "'zone1' AS dataplex_zone")
	assert.Contains(t, query, "'asset1' AS dataplex_asset_id")

	// Absent fields render as typed NULLs
	bare, err := g.BindingQuery(simpleBinding())
	require.NoError(t, err)
	assert.Contains(t, bare, "CAST(NULL AS STRING) AS dataplex_lake")
}

func TestGenerator_BindingQueryDeterministic(t *testing.T) {
	g := New(Options{})

	first, err := g.BindingQuery(simpleBinding())
	require.NoError(t, err)
	second, err := g.BindingQuery(simpleBinding())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestGenerator_SummaryQuery(t *testing.T) {
	g := New(Options{})

	// Deliberately unsorted input
	query, err := g.SummaryQuery("invocation-1", []*compiler.CompiledBinding{complexBinding(), simpleBinding()})
	require.NoError(t, err)

	assert.Contains(t, query, "all_validation_results AS (")
	assert.Contains(t, query, "UNION ALL")
	assert.Contains(t, query, "validation_summary AS (")
	assert.Contains(t, query, "'invocation-1' AS invocation_id")

	// Bindings render in identifier order regardless of input order
	assert.Less(t,
		strings.Index(query, "'T1_DQ_1' AS rule_binding_id"),
		strings.Index(query, "'T1_DQ_2' AS rule_binding_id"))

	// Aggregation arithmetic
	assert.Contains(t, query, "COUNTIF(simple_rule_row_is_valid IS TRUE)")
	assert.Contains(t, query, "COUNTIF(simple_rule_row_is_valid IS FALSE)")
	assert.Contains(t, query, "ANY_VALUE(rows_validated) - ANY_VALUE(complex_rule_validation_errors_count)")
	assert.Contains(t, query, "COUNTIF(column_value IS NULL) AS null_count")
	assert.Contains(t, query, "SAFE_DIVIDE(success_count, rows_validated) AS success_percentage")
	assert.Contains(t, query, "SAFE_DIVIDE(failed_count, rows_validated) AS failed_percentage")
	assert.Contains(t, query, "SAFE_DIVIDE(null_count, rows_validated) AS null_percentage")
	assert.Contains(t, query, "CONCAT(rule_binding_id, '_', rule_id, '_', CAST(execution_ts AS STRING), '_', CAST(progress_watermark AS STRING)) AS dq_run_id")
}

func TestGenerator_SummaryQueryDeterministic(t *testing.T) {
	g := New(Options{})

	first, err := g.SummaryQuery("inv", []*compiler.CompiledBinding{simpleBinding(), complexBinding()})
	require.NoError(t, err)
	second, err := g.SummaryQuery("inv", []*compiler.CompiledBinding{complexBinding(), simpleBinding()})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestGenerator_SummaryQueryEmpty(t *testing.T) {
	g := New(Options{})
	_, err := g.SummaryQuery("inv", nil)
	require.Error(t, err)
}

func TestEscapeLiteral(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"it's", `it\'s`},
		{`back\slash`, `back\\slash`},
		{`trailing\`, `trailing\\`},
		{`a\'b`, `a\\\'b`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, escapeLiteral(tt.in))
	}
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 123456000, time.UTC)
	assert.Equal(t, "2026-03-14 09:26:53.123456+00", formatTimestamp(ts))
}
