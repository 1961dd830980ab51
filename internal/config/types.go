// Package config defines the declarative data-quality configuration
// language: entities, columns, row filters, rules, and rule bindings.
// Definitions are loaded from YAML documents and registered into a
// registry.Registry for one compilation pass.
package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// SourceDatabase enumerates the systems an entity can live in.
type SourceDatabase string

const (
	SourceBigQuery           SourceDatabase = "BIGQUERY"
	SourceDataplexBQExternal SourceDatabase = "DATAPLEX_BQ_EXTERNAL_TABLE"
)

// DataType enumerates declared column data types.
type DataType string

const (
	TypeString    DataType = "STRING"
	TypeInteger   DataType = "INTEGER"
	TypeFloat     DataType = "FLOAT"
	TypeBoolean   DataType = "BOOLEAN"
	TypeDatetime  DataType = "DATETIME"
	TypeTimestamp DataType = "TIMESTAMP"
)

// Column is a declared column of an entity. Immutable once loaded.
type Column struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	DataType    DataType `yaml:"data_type" json:"data_type"`
}

// EnvironmentOverride substitutes addressing fields for one environment.
// The overlay is field-level: empty fields keep the base value.
type EnvironmentOverride struct {
	Environment string            `yaml:"environment" json:"environment"`
	Override    AddressingOverlay `yaml:"override" json:"override"`
}

// AddressingOverlay carries the addressing fields an environment override
// may substitute. Only non-empty fields take effect.
type AddressingOverlay struct {
	ProjectName  string `yaml:"project_name,omitempty" json:"project_name,omitempty"`
	InstanceName string `yaml:"instance_name,omitempty" json:"instance_name,omitempty"`
	DatasetName  string `yaml:"dataset_name,omitempty" json:"dataset_name,omitempty"`
	DatabaseName string `yaml:"database_name,omitempty" json:"database_name,omitempty"`
	TableName    string `yaml:"table_name,omitempty" json:"table_name,omitempty"`
}

// Entity is a declared data source (table) with schema and addressing
// metadata. project_name/instance_name and dataset_name/database_name are
// accepted as synonyms; ResolvedProject and ResolvedDataset canonicalize.
type Entity struct {
	ID             string         `yaml:"-" json:"id"`
	SourceDatabase SourceDatabase `yaml:"source_database" json:"source_database"`

	ProjectName  string `yaml:"project_name,omitempty" json:"project_name,omitempty"`
	InstanceName string `yaml:"instance_name,omitempty" json:"instance_name,omitempty"`
	DatasetName  string `yaml:"dataset_name,omitempty" json:"dataset_name,omitempty"`
	DatabaseName string `yaml:"database_name,omitempty" json:"database_name,omitempty"`
	TableName    string `yaml:"table_name" json:"table_name"`

	Columns map[string]Column `yaml:"columns" json:"columns"`

	EnvironmentOverrides map[string]EnvironmentOverride `yaml:"environment_override,omitempty" json:"environment_override,omitempty"`

	// IncrementalTimeFilterColumnID names the column used to scope
	// incremental validation runs. Must exist in Columns when set.
	IncrementalTimeFilterColumnID string `yaml:"incremental_time_filter_column_id,omitempty" json:"incremental_time_filter_column_id,omitempty"`

	// Dataplex addressing, populated when the entity was resolved from an
	// entity URI rather than declared inline.
	DataplexLake    string `yaml:"dataplex_lake,omitempty" json:"dataplex_lake,omitempty"`
	DataplexZone    string `yaml:"dataplex_zone,omitempty" json:"dataplex_zone,omitempty"`
	DataplexAssetID string `yaml:"dataplex_asset_id,omitempty" json:"dataplex_asset_id,omitempty"`
}

// ResolvedProject returns the project addressing field, accepting the
// legacy instance_name synonym.
func (e *Entity) ResolvedProject() string {
	if e.ProjectName != "" {
		return e.ProjectName
	}
	return e.InstanceName
}

// ResolvedDataset returns the dataset addressing field, accepting the
// legacy database_name synonym.
func (e *Entity) ResolvedDataset() string {
	if e.DatasetName != "" {
		return e.DatasetName
	}
	return e.DatabaseName
}

// Validate checks structural invariants of an entity definition.
func (e *Entity) Validate() error {
	switch e.SourceDatabase {
	case SourceBigQuery, SourceDataplexBQExternal:
	case "":
		return fmt.Errorf("entity %q: source_database is required", e.ID)
	default:
		return fmt.Errorf("entity %q: unsupported source_database %q", e.ID, e.SourceDatabase)
	}
	if e.TableName == "" {
		return fmt.Errorf("entity %q: table_name is required", e.ID)
	}
	if e.ResolvedProject() == "" {
		return fmt.Errorf("entity %q: project_name is required", e.ID)
	}
	if e.ResolvedDataset() == "" {
		return fmt.Errorf("entity %q: dataset_name is required", e.ID)
	}
	if len(e.Columns) == 0 {
		return fmt.Errorf("entity %q: at least one column is required", e.ID)
	}
	for id, c := range e.Columns {
		if c.Name == "" {
			return fmt.Errorf("entity %q: column %q must define a name", e.ID, id)
		}
	}
	if tc := e.IncrementalTimeFilterColumnID; tc != "" {
		if _, ok := e.Columns[normalizeKey(tc)]; !ok {
			return fmt.Errorf("entity %q: incremental_time_filter_column_id %q not in columns", e.ID, tc)
		}
	}
	return nil
}

// RowFilter restricts which rows participate in validation. The
// expression is inlined verbatim into the generated WHERE clause.
type RowFilter struct {
	ID            string `yaml:"-" json:"id"`
	FilterSQLExpr string `yaml:"filter_sql_expr" json:"filter_sql_expr"`
}

// Validate checks structural invariants of a row filter definition.
func (f *RowFilter) Validate() error {
	if f.FilterSQLExpr == "" {
		return fmt.Errorf("row filter %q: filter_sql_expr is required", f.ID)
	}
	return nil
}

// RuleType enumerates the built-in rule types. The set is closed: each
// value has exactly one SQL compilation function in the compiler.
type RuleType string

const (
	RuleNotNull            RuleType = "NOT_NULL"
	RuleNotBlank           RuleType = "NOT_BLANK"
	RuleRegex              RuleType = "REGEX"
	RuleCustomSQLExpr      RuleType = "CUSTOM_SQL_EXPR"
	RuleCustomSQLStatement RuleType = "CUSTOM_SQL_STATEMENT"
)

// Rule is a reusable validation rule definition.
type Rule struct {
	ID        string         `yaml:"-" json:"id"`
	RuleType  RuleType       `yaml:"rule_type" json:"rule_type"`
	Dimension string         `yaml:"dimension,omitempty" json:"dimension,omitempty"`
	Params    map[string]any `yaml:"params,omitempty" json:"params,omitempty"`

	// CustomSQLArguments declares the placeholder names a
	// CUSTOM_SQL_STATEMENT or CUSTOM_SQL_EXPR rule expects each binding
	// to supply.
	CustomSQLArguments []string `yaml:"custom_sql_arguments,omitempty" json:"custom_sql_arguments,omitempty"`
}

// Validate checks structural invariants of a rule definition.
func (r *Rule) Validate() error {
	switch r.RuleType {
	case RuleNotNull, RuleNotBlank:
	case RuleRegex:
		if s, _ := r.Params["pattern"].(string); s == "" {
			return fmt.Errorf("rule %q: REGEX requires a non-empty 'pattern' param", r.ID)
		}
	case RuleCustomSQLExpr:
		if s, _ := r.Params["custom_sql_expr"].(string); s == "" {
			return fmt.Errorf("rule %q: CUSTOM_SQL_EXPR requires a non-empty 'custom_sql_expr' param", r.ID)
		}
	case RuleCustomSQLStatement:
		if s, _ := r.Params["custom_sql_statement"].(string); s == "" {
			return fmt.Errorf("rule %q: CUSTOM_SQL_STATEMENT requires a non-empty 'custom_sql_statement' param", r.ID)
		}
	case "":
		return fmt.Errorf("rule %q: rule_type is required", r.ID)
	default:
		return fmt.Errorf("rule %q: unknown rule_type %q", r.ID, r.RuleType)
	}
	return nil
}

// RuleRef references a rule from a binding, optionally carrying
// per-binding argument overrides for the rule's declared placeholders.
//
// YAML accepts either form:
//
//	rule_ids:
//	  - NOT_NULL_SIMPLE
//	  - NO_DUPLICATES_IN_COLUMN_GROUPS:
//	      column_names: "contact_type,value"
type RuleRef struct {
	RuleID    string            `json:"rule_id"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

// UnmarshalYAML accepts the scalar and single-key-mapping forms.
func (r *RuleRef) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var id string
		if err := value.Decode(&id); err != nil {
			return err
		}
		r.RuleID = id
		return nil
	case yaml.MappingNode:
		var m map[string]map[string]string
		if err := value.Decode(&m); err != nil {
			return fmt.Errorf("rule reference must map a rule id to its arguments: %w", err)
		}
		if len(m) != 1 {
			return fmt.Errorf("rule reference mapping must have exactly one key, got %d", len(m))
		}
		for id, args := range m {
			r.RuleID = id
			r.Arguments = args
		}
		return nil
	default:
		return fmt.Errorf("rule reference must be a string or a single-key mapping")
	}
}

// MarshalYAML renders the scalar form when no arguments are present.
func (r RuleRef) MarshalYAML() (any, error) {
	if len(r.Arguments) == 0 {
		return r.RuleID, nil
	}
	return map[string]map[string]string{r.RuleID: r.Arguments}, nil
}

// RuleBinding combines one entity+column+row-filter with an ordered
// sequence of rules. It is the unit of compilation.
type RuleBinding struct {
	ID          string            `yaml:"-" json:"id"`
	EntityID    string            `yaml:"entity_id,omitempty" json:"entity_id,omitempty"`
	EntityURI   string            `yaml:"entity_uri,omitempty" json:"entity_uri,omitempty"`
	ColumnID    string            `yaml:"column_id" json:"column_id"`
	RowFilterID string            `yaml:"row_filter_id" json:"row_filter_id"`
	RuleRefs    []RuleRef         `yaml:"rule_ids" json:"rule_ids"`
	Metadata    map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
	Incremental bool              `yaml:"incremental,omitempty" json:"incremental,omitempty"`
}

// Validate checks structural invariants of a rule binding definition.
func (b *RuleBinding) Validate() error {
	if b.EntityID == "" && b.EntityURI == "" {
		return fmt.Errorf("rule binding %q: one of entity_id or entity_uri is required", b.ID)
	}
	if b.EntityID != "" && b.EntityURI != "" {
		return fmt.Errorf("rule binding %q: entity_id and entity_uri are mutually exclusive", b.ID)
	}
	if b.ColumnID == "" {
		return fmt.Errorf("rule binding %q: column_id is required", b.ID)
	}
	if b.RowFilterID == "" {
		return fmt.Errorf("rule binding %q: row_filter_id is required", b.ID)
	}
	if len(b.RuleRefs) == 0 {
		return fmt.Errorf("rule binding %q: rule_ids must not be empty", b.ID)
	}
	for _, ref := range b.RuleRefs {
		if ref.RuleID == "" {
			return fmt.Errorf("rule binding %q: rule reference with empty rule id", b.ID)
		}
	}
	return nil
}

// RegistryDefaults supplies default Dataplex addressing used to complete
// partial entity URIs.
type RegistryDefaults struct {
	Projects  string `yaml:"projects,omitempty" json:"projects,omitempty"`
	Locations string `yaml:"locations,omitempty" json:"locations,omitempty"`
	Lakes     string `yaml:"lakes,omitempty" json:"lakes,omitempty"`
	Zones     string `yaml:"zones,omitempty" json:"zones,omitempty"`
}

// Document is the shape of one YAML configuration document. All sections
// are optional; identifiers are the mapping keys.
type Document struct {
	Entities         map[string]Entity           `yaml:"entities,omitempty"`
	RowFilters       map[string]RowFilter        `yaml:"row_filters,omitempty"`
	Rules            map[string]Rule             `yaml:"rules,omitempty"`
	RuleBindings     map[string]RuleBinding      `yaml:"rule_bindings,omitempty"`
	RegistryDefaults map[string]RegistryDefaults `yaml:"metadata_registry_defaults,omitempty"`
}
