package scope

import (
	"context"
	"strings"

	"github.com/ohmage/ohmage-oauth/pkg/apierrors"
)

// Registry answers whether a schema exists. A nil version means any version.
type Registry interface {
	StreamExists(ctx context.Context, schemaID string, version *int64) (bool, error)
	SurveyExists(ctx context.Context, schemaID string, version *int64) (bool, error)
}

// Validator parses requested scopes and checks them against a Registry.
type Validator struct {
	registry Registry
}

func NewValidator(registry Registry) *Validator {
	return &Validator{
		registry: registry,
	}
}

// Validate parses a space-delimited scope string and confirms every referenced schema exists.
func (v *Validator) Validate(ctx context.Context, scopeString string) (Set, error) {
	fields := strings.Fields(scopeString)
	if len(fields) == 0 {
		return nil, apierrors.InvalidArgument("The scope is missing.")
	}

	var scopes Set
	for _, field := range fields {
		sc, err := Parse(field)
		if err != nil {
			return nil, apierrors.InvalidArgument("The scope is invalid: %v", err)
		}

		var exists bool
		switch sc.Type {
		case TypeStream:
			exists, err = v.registry.StreamExists(ctx, sc.SchemaID, sc.SchemaVersion)
		case TypeSurvey:
			exists, err = v.registry.SurveyExists(ctx, sc.SchemaID, sc.SchemaVersion)
		}
		if err != nil {
			return nil, apierrors.Internal(err, "failed to look up %s %s", sc.Type, sc.Describe())
		}
		if !exists {
			return nil, apierrors.InvalidArgument("The %s is unknown: %s", sc.Type, sc.Describe())
		}

		scopes = scopes.Add(sc)
	}

	return scopes, nil
}
