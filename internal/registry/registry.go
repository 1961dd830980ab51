// Package registry holds every loaded data-quality definition for the
// lifetime of one compilation pass. It maps (kind, identifier) pairs to
// parsed definitions, enforcing uniqueness and reporting unresolved
// references with the offending identifier attached.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Kind classifies a registered definition. Uniqueness is scoped per kind.
type Kind string

const (
	KindEntity      Kind = "entity"
	KindRowFilter   Kind = "row_filter"
	KindRule        Kind = "rule"
	KindRuleBinding Kind = "rule_binding"
)

// DuplicateIdentifierError reports a second registration of the same
// (kind, identifier) pair with identical content.
type DuplicateIdentifierError struct {
	Kind Kind
	ID   string
}

func (e *DuplicateIdentifierError) Error() string {
	return fmt.Sprintf("duplicate %s identifier %q", e.Kind, e.ID)
}

// ConflictingDefinitionError reports two registrations of the same
// (kind, identifier) pair that disagree in content.
type ConflictingDefinitionError struct {
	Kind Kind
	ID   string
}

func (e *ConflictingDefinitionError) Error() string {
	return fmt.Sprintf("conflicting definitions for %s identifier %q", e.Kind, e.ID)
}

// UnresolvedReferenceError reports a lookup of an identifier that was
// never registered.
type UnresolvedReferenceError struct {
	Kind Kind
	ID   string
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("unresolved %s reference %q", e.Kind, e.ID)
}

// entry pairs a definition with its canonical content fingerprint,
// used to tell pure redefinition apart from conflicting redefinition.
type entry struct {
	def         any
	fingerprint string
}

// Registry is the identifier registry for one compilation pass. It is
// constructed once per invocation and never shared across invocations.
type Registry struct {
	mu      sync.RWMutex
	entries map[Kind]map[string]entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[Kind]map[string]entry),
	}
}

// NormalizeID upper-cases an identifier. Definition identifiers are
// case-insensitive on input but stored and compared upper-case.
func NormalizeID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// Register adds a definition under (kind, id). The fingerprint is a
// canonical encoding of the definition's content: registering the same
// identifier again fails with DuplicateIdentifierError when the content
// matches, or ConflictingDefinitionError when it does not.
func (r *Registry) Register(kind Kind, id string, def any, fingerprint string) error {
	id = NormalizeID(id)

	r.mu.Lock()
	defer r.mu.Unlock()

	byID, ok := r.entries[kind]
	if !ok {
		byID = make(map[string]entry)
		r.entries[kind] = byID
	}

	if existing, ok := byID[id]; ok {
		if existing.fingerprint != fingerprint {
			return &ConflictingDefinitionError{Kind: kind, ID: id}
		}
		return &DuplicateIdentifierError{Kind: kind, ID: id}
	}

	byID[id] = entry{def: def, fingerprint: fingerprint}
	return nil
}

// Resolve looks up a definition by (kind, id). It fails with
// UnresolvedReferenceError when absent.
func (r *Registry) Resolve(kind Kind, id string) (any, error) {
	id = NormalizeID(id)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if byID, ok := r.entries[kind]; ok {
		if e, ok := byID[id]; ok {
			return e.def, nil
		}
	}
	return nil, &UnresolvedReferenceError{Kind: kind, ID: id}
}

// IDs returns the sorted identifiers registered under a kind.
func (r *Registry) IDs(kind Kind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byID := r.entries[kind]
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of definitions registered under a kind.
func (r *Registry) Count(kind Kind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries[kind])
}
