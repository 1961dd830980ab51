package compiler

import (
	"strings"
)

// Entity URI schemes. bigquery:// addresses a table directly;
// dataplex:// addresses it through lake/zone indirection.
const (
	SchemeBigQuery = "bigquery"
	SchemeDataplex = "dataplex"
)

// segment keys allowed per scheme. Any other key fails the parse.
var (
	bigqueryURIKeys = map[string]bool{
		"projects": true, "datasets": true, "tables": true,
	}
	dataplexURIKeys = map[string]bool{
		"projects": true, "locations": true, "lakes": true,
		"zones": true, "entities": true,
	}
)

// EntityURI is a parsed structured entity address. Components holds the
// path segment key/value pairs, e.g. "projects" -> "my-project".
type EntityURI struct {
	Raw        string
	Scheme     string
	Components map[string]string
}

// Get returns a component value or "".
func (u *EntityURI) Get(key string) string {
	return u.Components[key]
}

// ParseEntityURI parses a structured entity address. Parsing is a pure
// function: the scheme selects the source-system enumeration, each path
// segment pair becomes a key/value, unknown keys and missing required
// keys fail with InvalidEntityURIError.
func ParseEntityURI(raw string) (*EntityURI, error) {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return nil, &InvalidEntityURIError{URI: raw, Reason: "missing scheme"}
	}
	if scheme != SchemeBigQuery && scheme != SchemeDataplex {
		return nil, &InvalidEntityURIError{URI: raw, Reason: "unsupported scheme " + scheme}
	}
	if strings.ContainsAny(rest, "@#?:") {
		return nil, &InvalidEntityURIError{URI: raw, Reason: "special characters [@ # ? :] are not allowed"}
	}

	segments := strings.Split(strings.Trim(rest, "/"), "/")
	if len(segments)%2 != 0 {
		return nil, &InvalidEntityURIError{URI: raw, Reason: "path segments must be key/value pairs"}
	}

	allowed := bigqueryURIKeys
	if scheme == SchemeDataplex {
		allowed = dataplexURIKeys
	}

	components := make(map[string]string, len(segments)/2)
	for i := 0; i < len(segments); i += 2 {
		key, value := segments[i], segments[i+1]
		if !allowed[key] {
			return nil, &InvalidEntityURIError{URI: raw, Reason: "unknown key " + key}
		}
		if value == "" {
			return nil, &InvalidEntityURIError{URI: raw, Reason: "empty value for key " + key}
		}
		if _, dup := components[key]; dup {
			return nil, &InvalidEntityURIError{URI: raw, Reason: "repeated key " + key}
		}
		components[key] = value
	}

	uri := &EntityURI{Raw: raw, Scheme: scheme, Components: components}
	if err := uri.checkRequired(); err != nil {
		return nil, err
	}
	return uri, nil
}

func (u *EntityURI) checkRequired() error {
	switch u.Scheme {
	case SchemeBigQuery:
		for _, key := range []string{"projects", "datasets", "tables"} {
			if u.Get(key) == "" {
				return &InvalidEntityURIError{URI: u.Raw, Reason: "required key " + key + " is missing"}
			}
		}
	case SchemeDataplex:
		for _, key := range []string{"zones", "entities"} {
			if u.Get(key) == "" {
				return &InvalidEntityURIError{URI: u.Raw, Reason: "required key " + key + " is missing"}
			}
		}
		if strings.HasSuffix(u.Get("entities"), "*") {
			return &InvalidEntityURIError{URI: u.Raw, Reason: "wildcard entity filters are not supported"}
		}
	}
	return nil
}

// ApplyDefaults overlays default Dataplex addressing onto components the
// URI did not specify. Higher-specificity values already present in the
// URI always win.
func (u *EntityURI) ApplyDefaults(defaults map[string]string) {
	for key, value := range defaults {
		if value == "" {
			continue
		}
		if _, ok := u.Components[key]; !ok {
			u.Components[key] = value
		}
	}
}
