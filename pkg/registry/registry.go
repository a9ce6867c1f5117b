// Package registry answers whether the streams and surveys named in a scope exist.
package registry

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ohmage/ohmage-oauth/pkg/scope"
)

var (
	_ scope.Registry = (*Static)(nil)
	_ scope.Registry = (*Redis)(nil)
	_ scope.Registry = (*Cached)(nil)
)

// Static is a fixed, in-memory registry.
type Static struct {
	schemas map[scope.Type]map[string]versions
}

// versions is the set of known versions of one schema. A nil set means every version is known.
type versions map[int64]struct{}

// NewStatic builds a registry from "id" or "id@version" entries. An entry without a version makes every
// version of that schema known.
func NewStatic(streams, surveys []string) (*Static, error) {
	s := &Static{
		schemas: map[scope.Type]map[string]versions{
			scope.TypeStream: {},
			scope.TypeSurvey: {},
		},
	}
	for _, entry := range streams {
		if err := s.add(scope.TypeStream, entry); err != nil {
			return nil, err
		}
	}
	for _, entry := range surveys {
		if err := s.add(scope.TypeSurvey, entry); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Static) add(t scope.Type, entry string) error {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return nil
	}

	id, rawVersion, hasVersion := strings.Cut(entry, "@")
	if id == "" {
		return fmt.Errorf("invalid %s entry %q: missing schema ID", t, entry)
	}

	byID := s.schemas[t]
	if !hasVersion {
		byID[id] = nil
		return nil
	}

	version, err := strconv.ParseInt(rawVersion, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s entry %q: version is not an integer", t, entry)
	}
	known, ok := byID[id]
	if ok && known == nil {
		return nil
	}
	if known == nil {
		known = versions{}
		byID[id] = known
	}
	known[version] = struct{}{}
	return nil
}

func (s *Static) exists(t scope.Type, id string, version *int64) bool {
	known, ok := s.schemas[t][id]
	if !ok {
		return false
	}
	if version == nil || known == nil {
		return true
	}
	_, ok = known[*version]
	return ok
}

func (s *Static) StreamExists(_ context.Context, schemaID string, version *int64) (bool, error) {
	return s.exists(scope.TypeStream, schemaID, version), nil
}

func (s *Static) SurveyExists(_ context.Context, schemaID string, version *int64) (bool, error) {
	return s.exists(scope.TypeSurvey, schemaID, version), nil
}
