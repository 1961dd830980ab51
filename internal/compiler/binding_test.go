package compiler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hejnal/cloud-data-quality/internal/config"
	"github.com/hejnal/cloud-data-quality/internal/registry"
)

func testSuite(t *testing.T) *config.Suite {
	t.Helper()
	suite := &config.Suite{
		Registry: registry.New(),
		Defaults: map[string]config.RegistryDefaults{
			"dataplex": {
				Projects:  "default-project",
				Locations: "us-central1",
				Lakes:     "default-lake",
			},
		},
	}

	register := func(kind registry.Kind, id string, def any) {
		t.Helper()
		require.NoError(t, suite.Registry.Register(kind, id, def, config.Fingerprint(def)))
	}

	register(registry.KindEntity, "TEST_TABLE", testEntity())
	register(registry.KindRowFilter, "NONE", &config.RowFilter{ID: "NONE", FilterSQLExpr: "True"})
	register(registry.KindRule, "NOT_NULL_SIMPLE", &config.Rule{
		ID:        "NOT_NULL_SIMPLE",
		RuleType:  config.RuleNotNull,
		Dimension: "completeness",
	})
	register(registry.KindRule, "NO_DUPLICATES_IN_COLUMN_GROUPS", &config.Rule{
		ID:                 "NO_DUPLICATES_IN_COLUMN_GROUPS",
		RuleType:           config.RuleCustomSQLStatement,
		CustomSQLArguments: []string{"column_names"},
		Params: map[string]any{
			"custom_sql_statement": "select $column_names from data\ngroup by $column_names\nhaving count(*) > 1",
		},
	})
	register(registry.KindRuleBinding, "T1_DQ_1", &config.RuleBinding{
		ID:          "T1_DQ_1",
		EntityID:    "TEST_TABLE",
		ColumnID:    "VALUE",
		RowFilterID: "NONE",
		RuleRefs: []config.RuleRef{
			{RuleID: "NOT_NULL_SIMPLE"},
			{RuleID: "NO_DUPLICATES_IN_COLUMN_GROUPS", Arguments: map[string]string{"column_names": "contact_type,value"}},
		},
		Metadata: map[string]string{"team": "data-eng"},
	})
	register(registry.KindRuleBinding, "T2_DQ_1", &config.RuleBinding{
		ID:          "T2_DQ_1",
		EntityID:    "TEST_TABLE",
		ColumnID:    "UNIQUE_KEY",
		RowFilterID: "NONE",
		RuleRefs:    []config.RuleRef{{RuleID: "NOT_NULL_SIMPLE"}},
		Incremental: true,
	})
	return suite
}

func TestCompiler_Compile(t *testing.T) {
	c := New(testSuite(t), Options{})

	compiled, err := c.Compile("t1_dq_1")
	require.NoError(t, err)

	assert.Equal(t, "T1_DQ_1", compiled.RuleBindingID)
	assert.Equal(t, "TEST_TABLE", compiled.EntityID)
	assert.Equal(t, "my-project.dq_test.contact_details", compiled.TableID)
	assert.Equal(t, "VALUE", compiled.ColumnID)
	assert.Equal(t, "value", compiled.ColumnName)
	assert.Equal(t, "NONE", compiled.RowFilterID)
	assert.Equal(t, "True", compiled.RowFilterSQL)
	assert.Equal(t, map[string]string{"team": "data-eng"}, compiled.Metadata)
	assert.NotEmpty(t, compiled.Hashsum)

	require.Len(t, compiled.Rules, 2)
	assert.Equal(t, "value IS NOT NULL", compiled.Rules[0].SQLExpr)
	assert.Contains(t, compiled.Rules[1].SQLExpr, "contact_type,value")
}

func TestCompiler_CompileIncremental(t *testing.T) {
	c := New(testSuite(t), Options{})

	compiled, err := c.Compile("T2_DQ_1")
	require.NoError(t, err)
	assert.True(t, compiled.Incremental)
	assert.Equal(t, "ts", compiled.TimeFilterColumn)
}

func TestCompiler_CompileWithEnvironment(t *testing.T) {
	c := New(testSuite(t), Options{Environment: "test"})

	compiled, err := c.Compile("T1_DQ_1")
	require.NoError(t, err)
	assert.Equal(t, "my-project.dq_test_env.contact_details", compiled.TableID)
}

func TestCompiler_HashsumStableAcrossCompiles(t *testing.T) {
	suite := testSuite(t)
	first, err := New(suite, Options{}).Compile("T1_DQ_1")
	require.NoError(t, err)
	second, err := New(suite, Options{}).Compile("T1_DQ_1")
	require.NoError(t, err)
	assert.Equal(t, first.Hashsum, second.Hashsum)
}

func TestCompiler_CompileFailures(t *testing.T) {
	suite := testSuite(t)

	register := func(id string, b *config.RuleBinding) {
		b.ID = id
		require.NoError(t, suite.Registry.Register(registry.KindRuleBinding, id, b, config.Fingerprint(b)))
	}
	register("BAD_COLUMN", &config.RuleBinding{
		EntityID:    "TEST_TABLE",
		ColumnID:    "NOT_A_COLUMN",
		RowFilterID: "NONE",
		RuleRefs:    []config.RuleRef{{RuleID: "NOT_NULL_SIMPLE"}},
	})
	register("BAD_FILTER", &config.RuleBinding{
		EntityID:    "TEST_TABLE",
		ColumnID:    "VALUE",
		RowFilterID: "MISSING_FILTER",
		RuleRefs:    []config.RuleRef{{RuleID: "NOT_NULL_SIMPLE"}},
	})
	register("BAD_RULE", &config.RuleBinding{
		EntityID:    "TEST_TABLE",
		ColumnID:    "VALUE",
		RowFilterID: "NONE",
		RuleRefs:    []config.RuleRef{{RuleID: "MISSING_RULE"}},
	})
	register("MISSING_ARGS", &config.RuleBinding{
		EntityID:    "TEST_TABLE",
		ColumnID:    "VALUE",
		RowFilterID: "NONE",
		RuleRefs:    []config.RuleRef{{RuleID: "NO_DUPLICATES_IN_COLUMN_GROUPS"}},
	})

	c := New(suite, Options{})

	t.Run("column not in entity", func(t *testing.T) {
		_, err := c.Compile("BAD_COLUMN")
		var notFound *ColumnNotInEntityError
		require.True(t, errors.As(err, &notFound))
		assert.Equal(t, "BAD_COLUMN", notFound.RuleBindingID)
		assert.Equal(t, "NOT_A_COLUMN", notFound.ColumnID)
	})

	t.Run("unresolved row filter", func(t *testing.T) {
		_, err := c.Compile("BAD_FILTER")
		var unresolved *registry.UnresolvedReferenceError
		require.True(t, errors.As(err, &unresolved))
		assert.Equal(t, registry.KindRowFilter, unresolved.Kind)
	})

	t.Run("unresolved rule", func(t *testing.T) {
		_, err := c.Compile("BAD_RULE")
		var unresolved *registry.UnresolvedReferenceError
		require.True(t, errors.As(err, &unresolved))
		assert.Equal(t, registry.KindRule, unresolved.Kind)
	})

	t.Run("missing custom sql argument names the binding", func(t *testing.T) {
		_, err := c.Compile("MISSING_ARGS")
		var missing *MissingArgumentError
		require.True(t, errors.As(err, &missing))
		assert.Equal(t, "MISSING_ARGS", missing.RuleBindingID)
		assert.Equal(t, "column_names", missing.Argument)
	})
}

func TestCompiler_EntityURIBinding(t *testing.T) {
	suite := testSuite(t)
	b := &config.RuleBinding{
		ID:          "URI_DQ_1",
		EntityURI:   "dataplex://zones/z/entities/contact_details",
		ColumnID:    "VALUE",
		RowFilterID: "NONE",
		RuleRefs:    []config.RuleRef{{RuleID: "NOT_NULL_SIMPLE"}},
	}
	require.NoError(t, suite.Registry.Register(registry.KindRuleBinding, b.ID, b, config.Fingerprint(b)))

	c := New(suite, Options{Zones: stubZoneResolver{project: "zone-project", dataset: "zone_ds"}})

	compiled, err := c.Compile("URI_DQ_1")
	require.NoError(t, err)

	// Registry defaults complete the partial URI, including the project
	assert.Equal(t, "default-project.zone_ds.contact_details", compiled.TableID)
	assert.Equal(t, "default-lake", compiled.DataplexLake)
	assert.Equal(t, "z", compiled.DataplexZone)

	// Without a schema source the column falls back to its lower-cased id
	assert.Equal(t, "value", compiled.ColumnName)
}

func TestCompiler_CompileAll(t *testing.T) {
	c := New(testSuite(t), Options{Parallelism: 2})

	compiled, err := c.CompileAll(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, compiled, 2)

	// Ordered by rule_binding_id
	assert.Equal(t, "T1_DQ_1", compiled[0].RuleBindingID)
	assert.Equal(t, "T2_DQ_1", compiled[1].RuleBindingID)
}

func TestCompiler_CompileAllSubsetNormalizesIDs(t *testing.T) {
	c := New(testSuite(t), Options{})

	compiled, err := c.CompileAll(context.Background(), []string{" t2_dq_1 "})
	require.NoError(t, err)
	require.Len(t, compiled, 1)
	assert.Equal(t, "T2_DQ_1", compiled[0].RuleBindingID)
}

func TestCompiler_CompileAllCollectsAllFailures(t *testing.T) {
	c := New(testSuite(t), Options{})

	_, err := c.CompileAll(context.Background(), []string{"T1_DQ_1", "GHOST_A", "GHOST_B"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GHOST_A")
	assert.Contains(t, err.Error(), "GHOST_B")
}
