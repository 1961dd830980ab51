package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hejnal/cloud-data-quality/internal/config"
	"github.com/hejnal/cloud-data-quality/internal/registry"
)

// ZoneResolver maps a Dataplex zone to the BigQuery project and dataset
// backing it. Implemented by the orchestration-platform collaborator.
type ZoneResolver interface {
	ZoneDataset(zone string) (project, dataset string, err error)
}

// EntitySchemaSource returns the physical column schema for a
// URI-addressed entity, keyed by upper-cased column identifier.
// Implemented by the metadata collaborator; optional.
type EntitySchemaSource interface {
	EntitySchema(uri *EntityURI) (map[string]config.Column, error)
}

// ResolvedEntity is the output of entity resolution: a fully-qualified
// table reference plus the ordered column schema.
type ResolvedEntity struct {
	EntityID       string
	SourceDatabase config.SourceDatabase
	Project        string
	Dataset        string
	Table          string
	Columns        map[string]config.Column

	// TimeFilterColumnID is the declared incremental time-filter column
	// identifier, when the entity declares one.
	TimeFilterColumnID string

	DataplexLake    string
	DataplexZone    string
	DataplexAssetID string
}

// TableID returns the fully-qualified table reference.
func (r *ResolvedEntity) TableID() string {
	return fmt.Sprintf("%s.%s.%s", r.Project, r.Dataset, r.Table)
}

// Column looks up a column by identifier, case-insensitively.
func (r *ResolvedEntity) Column(id string) (config.Column, bool) {
	c, ok := r.Columns[registry.NormalizeID(id)]
	return c, ok
}

// ColumnIDs returns the column identifiers in sorted order.
func (r *ResolvedEntity) ColumnIDs() []string {
	ids := make([]string, 0, len(r.Columns))
	for id := range r.Columns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ResolveEntity resolves a declared entity, overlaying the environment
// override when an environment is explicitly requested. The overlay is
// field-level: only non-empty override fields replace base fields.
// Omitting the environment is valid and uses the base definition;
// requesting one with no matching override fails.
func ResolveEntity(e *config.Entity, environment string) (*ResolvedEntity, error) {
	resolved := &ResolvedEntity{
		EntityID:           e.ID,
		SourceDatabase:     e.SourceDatabase,
		Project:            e.ResolvedProject(),
		Dataset:            e.ResolvedDataset(),
		Table:              e.TableName,
		Columns:            e.Columns,
		TimeFilterColumnID: e.IncrementalTimeFilterColumnID,
		DataplexLake:       e.DataplexLake,
		DataplexZone:       e.DataplexZone,
		DataplexAssetID:    e.DataplexAssetID,
	}

	if environment == "" {
		return resolved, nil
	}

	override, ok := lookupOverride(e, environment)
	if !ok {
		return nil, &UnknownEnvironmentError{EntityID: e.ID, Environment: environment}
	}

	o := override.Override
	if p := firstNonEmpty(o.ProjectName, o.InstanceName); p != "" {
		resolved.Project = p
	}
	if d := firstNonEmpty(o.DatasetName, o.DatabaseName); d != "" {
		resolved.Dataset = d
	}
	if o.TableName != "" {
		resolved.Table = o.TableName
	}
	return resolved, nil
}

func lookupOverride(e *config.Entity, environment string) (config.EnvironmentOverride, bool) {
	for key, o := range e.EnvironmentOverrides {
		if strings.EqualFold(key, environment) || strings.EqualFold(o.Environment, environment) {
			return o, true
		}
	}
	return config.EnvironmentOverride{}, false
}

// entityTimeFilterColumn returns the physical name of the entity's
// declared incremental time-filter column.
func entityTimeFilterColumn(entity *ResolvedEntity) (string, error) {
	if entity.TimeFilterColumnID == "" {
		return "", fmt.Errorf("entity %q declares no incremental_time_filter_column_id", entity.EntityID)
	}
	column, ok := entity.Column(entity.TimeFilterColumnID)
	if !ok {
		return "", fmt.Errorf("entity %q: incremental_time_filter_column_id %q not in schema", entity.EntityID, entity.TimeFilterColumnID)
	}
	return column.Name, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// ResolveEntityURI resolves a structured entity address to a
// ResolvedEntity. A bigquery:// URI with explicit project/dataset/table
// bypasses lake/zone indirection entirely; a dataplex:// URI resolves the
// backing dataset through the zone resolver. When a schema source is
// available it supplies the column set; otherwise the schema is unknown
// and per-column referential checks are deferred to the warehouse.
func ResolveEntityURI(uri *EntityURI, zones ZoneResolver, schemas EntitySchemaSource) (*ResolvedEntity, error) {
	var resolved *ResolvedEntity

	switch uri.Scheme {
	case SchemeBigQuery:
		resolved = &ResolvedEntity{
			EntityID:       registry.NormalizeID(uri.Raw),
			SourceDatabase: config.SourceBigQuery,
			Project:        uri.Get("projects"),
			Dataset:        uri.Get("datasets"),
			Table:          uri.Get("tables"),
		}
	case SchemeDataplex:
		if zones == nil {
			return nil, fmt.Errorf("entity URI %q requires a Dataplex zone resolver", uri.Raw)
		}
		zone := uri.Get("zones")
		project, dataset, err := zones.ZoneDataset(zone)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve Dataplex zone %q for %q: %w", zone, uri.Raw, err)
		}
		if p := uri.Get("projects"); p != "" {
			project = p
		}
		resolved = &ResolvedEntity{
			EntityID:       registry.NormalizeID(uri.Raw),
			SourceDatabase: config.SourceDataplexBQExternal,
			Project:        project,
			Dataset:        dataset,
			Table:          uri.Get("entities"),
			DataplexLake:   uri.Get("lakes"),
			DataplexZone:   zone,
		}
		resolved.DataplexAssetID = resolved.Table
	default:
		return nil, &InvalidEntityURIError{URI: uri.Raw, Reason: "unsupported scheme " + uri.Scheme}
	}

	if schemas != nil {
		columns, err := schemas.EntitySchema(uri)
		if err != nil {
			return nil, fmt.Errorf("failed to look up schema for %q: %w", uri.Raw, err)
		}
		resolved.Columns = columns
	}
	return resolved, nil
}
