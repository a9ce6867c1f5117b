package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/ohmage/ohmage-oauth/pkg/scope"
)

// Scopes is a scope set stored as a JSON list of canonical scope strings
type Scopes scope.Set

// Set returns the scopes as a scope.Set.
func (s Scopes) Set() scope.Set {
	return scope.Set(s)
}

// String joins the canonical scope strings with spaces.
func (s Scopes) String() string {
	return scope.Set(s).String()
}

// MarshalJSON implements json.Marshaler for Scopes
func (s Scopes) MarshalJSON() ([]byte, error) {
	return scope.Set(s).MarshalJSON()
}

// UnmarshalJSON implements json.Unmarshaler for Scopes
func (s *Scopes) UnmarshalJSON(data []byte) error {
	var set scope.Set
	if err := set.UnmarshalJSON(data); err != nil {
		return err
	}
	*s = Scopes(set)
	return nil
}

// Value implements the driver.Valuer interface for Scopes
func (s Scopes) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "[]", nil
	}
	data, err := s.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the sql.Scanner interface for Scopes
func (s *Scopes) Scan(value any) error {
	if value == nil {
		*s = Scopes{}
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("cannot scan %T into Scopes", value)
	}

	if len(data) == 0 {
		*s = Scopes{}
		return nil
	}

	return json.Unmarshal(data, s)
}
