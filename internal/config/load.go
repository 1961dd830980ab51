package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hejnal/cloud-data-quality/internal/registry"
)

// Suite is the full set of definitions loaded for one compilation pass.
// The registry owns the raw definitions; Defaults carries the optional
// Dataplex registry defaults keyed by default-registry name.
type Suite struct {
	Registry *registry.Registry
	Defaults map[string]RegistryDefaults

	logger *slog.Logger
}

// LoadDir loads every *.yaml / *.yml file under dir (recursively) into a
// fresh Suite. A duplicate identifier with identical content across files
// is tolerated; differing content fails with ConflictingDefinitionError.
func LoadDir(dir string, logger *slog.Logger) (*Suite, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch filepath.Ext(path) {
		case ".yaml", ".yml":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan configs directory %s: %w", dir, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no YAML configuration files found under %s", dir)
	}

	s := &Suite{
		Registry: registry.New(),
		Defaults: make(map[string]RegistryDefaults),
		logger:   logger,
	}
	for _, path := range paths {
		if err := s.loadFile(path); err != nil {
			return nil, err
		}
	}

	logger.Debug("loaded configuration suite",
		"files", len(paths),
		"entities", s.Registry.Count(registry.KindEntity),
		"row_filters", s.Registry.Count(registry.KindRowFilter),
		"rules", s.Registry.Count(registry.KindRule),
		"rule_bindings", s.Registry.Count(registry.KindRuleBinding))
	return s, nil
}

func (s *Suite) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var doc Document
		if err := dec.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if err := s.merge(path, &doc); err != nil {
			return err
		}
	}
	return nil
}

func (s *Suite) merge(path string, doc *Document) error {
	for id, e := range doc.Entities {
		e.ID = registry.NormalizeID(id)
		e.Columns = normalizeColumnKeys(e.Columns)
		if err := e.Validate(); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if err := s.register(registry.KindEntity, e.ID, &e); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	for id, f := range doc.RowFilters {
		f.ID = registry.NormalizeID(id)
		if err := f.Validate(); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if err := s.register(registry.KindRowFilter, f.ID, &f); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	for id, r := range doc.Rules {
		r.ID = registry.NormalizeID(id)
		if err := r.Validate(); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if err := s.register(registry.KindRule, r.ID, &r); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	for id, b := range doc.RuleBindings {
		b.ID = registry.NormalizeID(id)
		b.EntityID = registry.NormalizeID(b.EntityID)
		b.ColumnID = registry.NormalizeID(b.ColumnID)
		b.RowFilterID = registry.NormalizeID(b.RowFilterID)
		for i := range b.RuleRefs {
			b.RuleRefs[i].RuleID = registry.NormalizeID(b.RuleRefs[i].RuleID)
		}
		if err := b.Validate(); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if err := s.register(registry.KindRuleBinding, b.ID, &b); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	for name, d := range doc.RegistryDefaults {
		s.Defaults[strings.ToLower(name)] = d
	}
	return nil
}

// register adds a definition, tolerating byte-identical redefinitions
// across files. Conflicting content always fails the load.
func (s *Suite) register(kind registry.Kind, id string, def any) error {
	err := s.Registry.Register(kind, id, def, Fingerprint(def))
	var dup *registry.DuplicateIdentifierError
	if errors.As(err, &dup) {
		s.logger.Debug("ignoring identical redefinition", "kind", string(kind), "id", id)
		return nil
	}
	return err
}

// Fingerprint returns the canonical JSON encoding of a definition,
// used for duplicate-vs-conflict detection. encoding/json emits map
// keys in sorted order, so key order in the source YAML is irrelevant.
func Fingerprint(def any) string {
	b, err := json.Marshal(def)
	if err != nil {
		// Definitions are plain data; marshalling cannot fail for them.
		panic(fmt.Sprintf("config: unmarshallable definition: %v", err))
	}
	return string(b)
}

func normalizeColumnKeys(cols map[string]Column) map[string]Column {
	out := make(map[string]Column, len(cols))
	for k, v := range cols {
		out[registry.NormalizeID(k)] = v
	}
	return out
}

func normalizeKey(k string) string {
	return registry.NormalizeID(k)
}

// Entity resolves an entity definition by identifier.
func (s *Suite) Entity(id string) (*Entity, error) {
	def, err := s.Registry.Resolve(registry.KindEntity, id)
	if err != nil {
		return nil, err
	}
	return def.(*Entity), nil
}

// RowFilter resolves a row filter definition by identifier.
func (s *Suite) RowFilter(id string) (*RowFilter, error) {
	def, err := s.Registry.Resolve(registry.KindRowFilter, id)
	if err != nil {
		return nil, err
	}
	return def.(*RowFilter), nil
}

// Rule resolves a rule definition by identifier.
func (s *Suite) Rule(id string) (*Rule, error) {
	def, err := s.Registry.Resolve(registry.KindRule, id)
	if err != nil {
		return nil, err
	}
	return def.(*Rule), nil
}

// RuleBinding resolves a rule binding definition by identifier.
func (s *Suite) RuleBinding(id string) (*RuleBinding, error) {
	def, err := s.Registry.Resolve(registry.KindRuleBinding, id)
	if err != nil {
		return nil, err
	}
	return def.(*RuleBinding), nil
}

// RuleBindingIDs returns all rule binding identifiers in sorted order.
func (s *Suite) RuleBindingIDs() []string {
	return s.Registry.IDs(registry.KindRuleBinding)
}
