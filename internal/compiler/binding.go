// Package compiler resolves declarative data-quality definitions into
// self-contained compiled rule bindings: the entity's fully-qualified
// table reference, the validated column, the row filter expression, and
// each bound rule's concrete SQL, plus a deterministic content hash used
// for drift detection.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/hejnal/cloud-data-quality/internal/config"
)

// defaultParallelism bounds concurrent binding compilation in CompileAll.
const defaultParallelism = 4

// CompiledBinding is the flattened, immutable merge of everything one
// rule binding depends on. It is created once per compilation pass and
// consumed by the SQL generator; the Hashsum covers the semantic fields
// only and is excluded from its own computation.
type CompiledBinding struct {
	RuleBindingID  string                `json:"rule_binding_id"`
	EntityID       string                `json:"entity_id"`
	SourceDatabase config.SourceDatabase `json:"source_database"`
	TableID        string                `json:"table_id"`
	ColumnID       string                `json:"column_id"`
	ColumnName     string                `json:"column_name"`
	RowFilterID    string                `json:"row_filter_id"`
	RowFilterSQL   string                `json:"row_filter_sql"`
	Rules          []CompiledRule        `json:"rules"`
	Metadata       map[string]string     `json:"metadata,omitempty"`
	Incremental    bool                  `json:"incremental,omitempty"`

	// TimeFilterColumn is the physical column scoping incremental runs;
	// set only when Incremental is true.
	TimeFilterColumn string `json:"time_filter_column,omitempty"`

	DataplexLake    string `json:"dataplex_lake,omitempty"`
	DataplexZone    string `json:"dataplex_zone,omitempty"`
	DataplexAssetID string `json:"dataplex_asset_id,omitempty"`

	Hashsum string `json:"configs_hashsum"`
}

// Options configures a compilation pass.
type Options struct {
	// Environment selects entity environment overrides; empty uses the
	// base definitions.
	Environment string

	// Zones resolves Dataplex zone indirection for entity URIs.
	Zones ZoneResolver

	// Schemas supplies column schemas for URI-addressed entities.
	Schemas EntitySchemaSource

	// Parallelism bounds concurrent binding compilation; zero means the
	// default.
	Parallelism int

	Logger *slog.Logger
}

// Compiler compiles rule bindings against one loaded configuration suite.
// It is a pure transformation of registry state: no I/O, no mutation of
// the suite.
type Compiler struct {
	suite  *config.Suite
	opts   Options
	logger *slog.Logger
}

// New creates a compiler over a loaded suite.
func New(suite *config.Suite, opts Options) *Compiler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Compiler{suite: suite, opts: opts, logger: logger}
}

// Compile compiles a single rule binding. The result is fully valid or
// not produced at all.
func (c *Compiler) Compile(bindingID string) (*CompiledBinding, error) {
	binding, err := c.suite.RuleBinding(bindingID)
	if err != nil {
		return nil, err
	}

	entity, err := c.resolveEntity(binding)
	if err != nil {
		return nil, fmt.Errorf("rule binding %q: %w", binding.ID, err)
	}

	columnName, err := c.resolveColumn(binding, entity)
	if err != nil {
		return nil, err
	}

	rowFilter, err := c.suite.RowFilter(binding.RowFilterID)
	if err != nil {
		return nil, fmt.Errorf("rule binding %q: %w", binding.ID, err)
	}

	compiled := &CompiledBinding{
		RuleBindingID:   binding.ID,
		EntityID:        entity.EntityID,
		SourceDatabase:  entity.SourceDatabase,
		TableID:         entity.TableID(),
		ColumnID:        strings.ToUpper(binding.ColumnID),
		ColumnName:      columnName,
		RowFilterID:     rowFilter.ID,
		RowFilterSQL:    rowFilter.FilterSQLExpr,
		Metadata:        binding.Metadata,
		Incremental:     binding.Incremental,
		DataplexLake:    entity.DataplexLake,
		DataplexZone:    entity.DataplexZone,
		DataplexAssetID: entity.DataplexAssetID,
	}

	if binding.Incremental {
		tc, err := incrementalColumn(binding, entity)
		if err != nil {
			return nil, err
		}
		compiled.TimeFilterColumn = tc
	}

	for _, ref := range binding.RuleRefs {
		rule, err := c.suite.Rule(ref.RuleID)
		if err != nil {
			return nil, fmt.Errorf("rule binding %q: %w", binding.ID, err)
		}
		compiledRule, err := CompileRule(rule, columnName, ref.Arguments)
		if err != nil {
			var missing *MissingArgumentError
			if errors.As(err, &missing) {
				missing.RuleBindingID = binding.ID
			}
			return nil, err
		}
		compiled.Rules = append(compiled.Rules, compiledRule)
	}

	compiled.Hashsum = compiled.computeHashsum()
	c.logger.Debug("compiled rule binding",
		"rule_binding_id", compiled.RuleBindingID,
		"table_id", compiled.TableID,
		"rules", len(compiled.Rules),
		"configs_hashsum", compiled.Hashsum)
	return compiled, nil
}

// CompileAll compiles the requested binding identifiers, or every loaded
// binding when ids is empty. Bindings compile independently and in
// parallel; results are ordered by rule_binding_id for reproducible
// downstream SQL. Errors are collected per binding and joined, and any
// error fails the whole invocation.
func (c *Compiler) CompileAll(ctx context.Context, ids []string) ([]*CompiledBinding, error) {
	if len(ids) == 0 {
		ids = c.suite.RuleBindingIDs()
	} else {
		normalized := make([]string, len(ids))
		for i, id := range ids {
			normalized[i] = strings.ToUpper(strings.TrimSpace(id))
		}
		ids = normalized
	}
	sort.Strings(ids)

	parallelism := c.opts.Parallelism
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}

	compiled := make([]*CompiledBinding, len(ids))
	failures := make([]error, len(ids))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, id := range ids {
		g.Go(func() error {
			cb, err := c.Compile(id)
			if err != nil {
				failures[i] = err
				return nil
			}
			compiled[i] = cb
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(failures...); err != nil {
		return nil, err
	}
	return compiled, nil
}

func (c *Compiler) resolveEntity(binding *config.RuleBinding) (*ResolvedEntity, error) {
	if binding.EntityURI != "" {
		uri, err := ParseEntityURI(binding.EntityURI)
		if err != nil {
			return nil, err
		}
		if uri.Scheme == SchemeDataplex {
			uri.ApplyDefaults(c.dataplexDefaults())
		}
		return ResolveEntityURI(uri, c.opts.Zones, c.opts.Schemas)
	}

	entity, err := c.suite.Entity(binding.EntityID)
	if err != nil {
		return nil, err
	}
	return ResolveEntity(entity, c.opts.Environment)
}

func (c *Compiler) dataplexDefaults() map[string]string {
	d, ok := c.suite.Defaults["dataplex"]
	if !ok {
		return nil
	}
	return map[string]string{
		"projects":  d.Projects,
		"locations": d.Locations,
		"lakes":     d.Lakes,
		"zones":     d.Zones,
	}
}

// resolveColumn maps the binding's validated column to its physical
// name. When the entity carries a schema the column must belong to it;
// URI-addressed entities without a schema source fall back to the
// lower-cased column identifier and leave the check to the warehouse.
func (c *Compiler) resolveColumn(binding *config.RuleBinding, entity *ResolvedEntity) (string, error) {
	if len(entity.Columns) == 0 {
		return strings.ToLower(binding.ColumnID), nil
	}
	column, ok := entity.Column(binding.ColumnID)
	if !ok {
		return "", &ColumnNotInEntityError{
			RuleBindingID: binding.ID,
			EntityID:      entity.EntityID,
			ColumnID:      binding.ColumnID,
		}
	}
	return column.Name, nil
}

func incrementalColumn(binding *config.RuleBinding, entity *ResolvedEntity) (string, error) {
	// URI-addressed entities carry no declared time-filter column.
	if len(entity.Columns) == 0 {
		return "", fmt.Errorf("rule binding %q: incremental validation requires a declared entity with incremental_time_filter_column_id", binding.ID)
	}
	tc, err := entityTimeFilterColumn(entity)
	if err != nil {
		return "", fmt.Errorf("rule binding %q: %w", binding.ID, err)
	}
	return tc, nil
}

func (cb *CompiledBinding) computeHashsum() string {
	shadow := *cb
	shadow.Hashsum = ""
	return Hashsum(&shadow)
}
