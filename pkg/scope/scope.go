package scope

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Type is the kind of schema a scope grants access to.
type Type string

const (
	TypeStream Type = "stream"
	TypeSurvey Type = "survey"
)

const (
	prefixOMH        = "omh"
	prefixOhmage     = "ohmage"
	versionSeparator = "@"
)

// Scope is one requested capability: access to a stream or a survey, optionally pinned to a version.
type Scope struct {
	Type          Type   `json:"type"`
	SchemaID      string `json:"schema_id"`
	SchemaVersion *int64 `json:"schema_version,omitempty"`
}

// Parse parses the canonical form omh:ohmage:<stream|survey>:<schema_id>[@<version>].
func Parse(s string) (Scope, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 4 {
		return Scope{}, fmt.Errorf("scope %q must have four colon-separated parts: omh:ohmage:<stream|survey>:<schema_id>", s)
	}
	if parts[0] != prefixOMH {
		return Scope{}, fmt.Errorf("scope %q must begin with %q", s, prefixOMH+":")
	}
	if parts[1] != prefixOhmage {
		return Scope{}, fmt.Errorf("the second part of scope %q must be %q", s, prefixOhmage)
	}

	var t Type
	switch Type(parts[2]) {
	case TypeStream, TypeSurvey:
		t = Type(parts[2])
	default:
		return Scope{}, fmt.Errorf("the type of scope %q must be either %q or %q", s, TypeStream, TypeSurvey)
	}

	id, rawVersion, hasVersion := strings.Cut(parts[3], versionSeparator)
	if id == "" {
		return Scope{}, fmt.Errorf("scope %q is missing a schema ID", s)
	}

	result := Scope{Type: t, SchemaID: id}
	if hasVersion {
		version, err := strconv.ParseInt(rawVersion, 10, 64)
		if err != nil {
			return Scope{}, fmt.Errorf("the schema version of scope %q is not an integer: %q", s, rawVersion)
		}
		result.SchemaVersion = &version
	}

	return result, nil
}

// String returns the canonical form accepted by Parse.
func (s Scope) String() string {
	out := prefixOMH + ":" + prefixOhmage + ":" + string(s.Type) + ":" + s.SchemaID
	if s.SchemaVersion != nil {
		out += versionSeparator + strconv.FormatInt(*s.SchemaVersion, 10)
	}
	return out
}

// Covers reports whether s grants at least the access requested by other.
// A scope without a version covers every version of the same schema.
func (s Scope) Covers(other Scope) bool {
	if s.Type != other.Type || s.SchemaID != other.SchemaID {
		return false
	}
	if s.SchemaVersion == nil {
		return true
	}
	return other.SchemaVersion != nil && *s.SchemaVersion == *other.SchemaVersion
}

// Describe names the schema for error messages, e.g. "steps" or "steps : 2".
func (s Scope) Describe() string {
	if s.SchemaVersion == nil {
		return s.SchemaID
	}
	return s.SchemaID + " : " + strconv.FormatInt(*s.SchemaVersion, 10)
}

// Set is a de-duplicated, order-preserving collection of scopes.
type Set []Scope

// Add appends sc unless an identical scope is already present.
func (s Set) Add(sc Scope) Set {
	key := sc.String()
	for _, existing := range s {
		if existing.String() == key {
			return s
		}
	}
	return append(s, sc)
}

// Covers reports whether any scope in the set covers required.
func (s Set) Covers(required Scope) bool {
	for _, sc := range s {
		if sc.Covers(required) {
			return true
		}
	}
	return false
}

// String joins the canonical forms with spaces, the same way scopes are requested.
func (s Set) String() string {
	parts := make([]string, 0, len(s))
	for _, sc := range s {
		parts = append(parts, sc.String())
	}
	return strings.Join(parts, " ")
}

// MarshalJSON encodes the set as a list of canonical scope strings.
func (s Set) MarshalJSON() ([]byte, error) {
	parts := make([]string, 0, len(s))
	for _, sc := range s {
		parts = append(parts, sc.String())
	}
	return json.Marshal(parts)
}

// UnmarshalJSON decodes a list of canonical scope strings.
func (s *Set) UnmarshalJSON(data []byte) error {
	var parts []string
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	result := make(Set, 0, len(parts))
	for _, p := range parts {
		sc, err := Parse(p)
		if err != nil {
			return err
		}
		result = result.Add(sc)
	}
	*s = result
	return nil
}
