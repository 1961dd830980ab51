package compiler

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hejnal/cloud-data-quality/internal/config"
)

func testEntity() *config.Entity {
	return &config.Entity{
		ID:             "TEST_TABLE",
		SourceDatabase: config.SourceBigQuery,
		ProjectName:    "my-project",
		DatasetName:    "dq_test",
		TableName:      "contact_details",
		Columns: map[string]config.Column{
			"UNIQUE_KEY": {Name: "unique_key", DataType: config.TypeInteger},
			"VALUE":      {Name: "value", DataType: config.TypeString},
			"TS":         {Name: "ts", DataType: config.TypeTimestamp},
		},
		IncrementalTimeFilterColumnID: "TS",
		EnvironmentOverrides: map[string]config.EnvironmentOverride{
			"TEST": {
				Environment: "test",
				Override: config.AddressingOverlay{
					DatasetName: "dq_test_env",
				},
			},
		},
	}
}

func TestResolveEntity_BaseDefinition(t *testing.T) {
	resolved, err := ResolveEntity(testEntity(), "")
	require.NoError(t, err)

	assert.Equal(t, "my-project.dq_test.contact_details", resolved.TableID())
	assert.Equal(t, config.SourceBigQuery, resolved.SourceDatabase)
	assert.Equal(t, "TS", resolved.TimeFilterColumnID)
	assert.Equal(t, []string{"TS", "UNIQUE_KEY", "VALUE"}, resolved.ColumnIDs())
}

func TestResolveEntity_EnvironmentOverride(t *testing.T) {
	resolved, err := ResolveEntity(testEntity(), "test")
	require.NoError(t, err)

	// Only the overridden field changes
	assert.Equal(t, "my-project.dq_test_env.contact_details", resolved.TableID())
}

func TestResolveEntity_UnknownEnvironment(t *testing.T) {
	_, err := ResolveEntity(testEntity(), "prod")
	var unknown *UnknownEnvironmentError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "TEST_TABLE", unknown.EntityID)
	assert.Equal(t, "prod", unknown.Environment)
}

func TestResolveEntity_SynonymOverride(t *testing.T) {
	e := testEntity()
	e.EnvironmentOverrides = map[string]config.EnvironmentOverride{
		"STAGING": {
			Environment: "staging",
			Override: config.AddressingOverlay{
				InstanceName: "staging-project",
				DatabaseName: "staging_ds",
			},
		},
	}
	resolved, err := ResolveEntity(e, "STAGING")
	require.NoError(t, err)
	assert.Equal(t, "staging-project.staging_ds.contact_details", resolved.TableID())
}

func TestResolvedEntity_ColumnLookupCaseInsensitive(t *testing.T) {
	resolved, err := ResolveEntity(testEntity(), "")
	require.NoError(t, err)

	c, ok := resolved.Column("unique_key")
	require.True(t, ok)
	assert.Equal(t, "unique_key", c.Name)

	_, ok = resolved.Column("missing")
	assert.False(t, ok)
}

type stubZoneResolver struct {
	project string
	dataset string
	err     error
}

func (s stubZoneResolver) ZoneDataset(string) (string, string, error) {
	return s.project, s.dataset, s.err
}

type stubSchemaSource struct {
	columns map[string]config.Column
}

func (s stubSchemaSource) EntitySchema(*EntityURI) (map[string]config.Column, error) {
	return s.columns, nil
}

func TestResolveEntityURI_BigQuery(t *testing.T) {
	uri, err := ParseEntityURI("bigquery://projects/p/datasets/d/tables/t")
	require.NoError(t, err)

	resolved, err := ResolveEntityURI(uri, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "p.d.t", resolved.TableID())
	assert.Equal(t, config.SourceBigQuery, resolved.SourceDatabase)
	assert.Empty(t, resolved.Columns)
}

func TestResolveEntityURI_Dataplex(t *testing.T) {
	uri, err := ParseEntityURI("dataplex://projects/p/locations/us/lakes/l/zones/z/entities/contact_details")
	require.NoError(t, err)

	resolved, err := ResolveEntityURI(uri, stubZoneResolver{project: "zone-project", dataset: "zone_ds"}, nil)
	require.NoError(t, err)

	// URI project overrides the zone resolver's
	assert.Equal(t, "p.zone_ds.contact_details", resolved.TableID())
	assert.Equal(t, config.SourceDataplexBQExternal, resolved.SourceDatabase)
	assert.Equal(t, "l", resolved.DataplexLake)
	assert.Equal(t, "z", resolved.DataplexZone)
	assert.Equal(t, "contact_details", resolved.DataplexAssetID)
}

func TestResolveEntityURI_DataplexWithoutProjectUsesZone(t *testing.T) {
	uri, err := ParseEntityURI("dataplex://zones/z/entities/e")
	require.NoError(t, err)

	resolved, err := ResolveEntityURI(uri, stubZoneResolver{project: "zone-project", dataset: "zone_ds"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "zone-project.zone_ds.e", resolved.TableID())
}

func TestResolveEntityURI_DataplexRequiresZoneResolver(t *testing.T) {
	uri, err := ParseEntityURI("dataplex://zones/z/entities/e")
	require.NoError(t, err)

	_, err = ResolveEntityURI(uri, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zone resolver")
}

func TestResolveEntityURI_ZoneResolutionFailure(t *testing.T) {
	uri, err := ParseEntityURI("dataplex://zones/z/entities/e")
	require.NoError(t, err)

	_, err = ResolveEntityURI(uri, stubZoneResolver{err: fmt.Errorf("zone not found")}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zone not found")
}

func TestResolveEntityURI_SchemaSource(t *testing.T) {
	uri, err := ParseEntityURI("bigquery://projects/p/datasets/d/tables/t")
	require.NoError(t, err)

	schema := map[string]config.Column{
		"VALUE": {Name: "value", DataType: config.TypeString},
	}
	resolved, err := ResolveEntityURI(uri, nil, stubSchemaSource{columns: schema})
	require.NoError(t, err)

	c, ok := resolved.Column("value")
	require.True(t, ok)
	assert.Equal(t, "value", c.Name)
}
