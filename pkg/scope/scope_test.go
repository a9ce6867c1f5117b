package scope

import (
	"context"
	"errors"
	"testing"

	"github.com/ohmage/ohmage-oauth/pkg/apierrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("Stream", func(t *testing.T) {
		sc, err := Parse("omh:ohmage:stream:steps")
		require.NoError(t, err)
		assert.Equal(t, TypeStream, sc.Type)
		assert.Equal(t, "steps", sc.SchemaID)
		assert.Nil(t, sc.SchemaVersion)
		assert.Equal(t, "omh:ohmage:stream:steps", sc.String())
	})

	t.Run("SurveyWithVersion", func(t *testing.T) {
		sc, err := Parse("omh:ohmage:survey:mood@3")
		require.NoError(t, err)
		assert.Equal(t, TypeSurvey, sc.Type)
		assert.Equal(t, "mood", sc.SchemaID)
		require.NotNil(t, sc.SchemaVersion)
		assert.Equal(t, int64(3), *sc.SchemaVersion)
		assert.Equal(t, "omh:ohmage:survey:mood@3", sc.String())
		assert.Equal(t, "mood : 3", sc.Describe())
	})

	invalid := []struct {
		name  string
		input string
	}{
		{"TooFewParts", "omh:ohmage:stream"},
		{"TooManyParts", "omh:ohmage:stream:steps:1"},
		{"WrongPrefix", "xyz:ohmage:stream:steps"},
		{"WrongNamespace", "omh:other:stream:steps"},
		{"UnknownType", "omh:ohmage:campaign:steps"},
		{"EmptyID", "omh:ohmage:stream:"},
		{"BadVersion", "omh:ohmage:stream:steps@latest"},
		{"OldSlashForm", "/streams/steps/*/read"},
	}
	for _, tc := range invalid {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.input)
			assert.Error(t, err)
		})
	}
}

func TestCovers(t *testing.T) {
	v1 := int64(1)
	v2 := int64(2)
	anySteps := Scope{Type: TypeStream, SchemaID: "steps"}
	steps1 := Scope{Type: TypeStream, SchemaID: "steps", SchemaVersion: &v1}
	steps2 := Scope{Type: TypeStream, SchemaID: "steps", SchemaVersion: &v2}
	surveySteps := Scope{Type: TypeSurvey, SchemaID: "steps"}

	assert.True(t, anySteps.Covers(steps1))
	assert.True(t, anySteps.Covers(anySteps))
	assert.True(t, steps1.Covers(steps1))
	assert.False(t, steps1.Covers(steps2))
	assert.False(t, steps1.Covers(anySteps))
	assert.False(t, anySteps.Covers(surveySteps))

	set := Set{steps1, surveySteps}
	assert.True(t, set.Covers(steps1))
	assert.False(t, set.Covers(steps2))
}

func TestSetJSON(t *testing.T) {
	var set Set
	set = set.Add(Scope{Type: TypeStream, SchemaID: "steps"})
	set = set.Add(Scope{Type: TypeStream, SchemaID: "steps"})
	require.Len(t, set, 1)

	data, err := set.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `["omh:ohmage:stream:steps"]`, string(data))

	var decoded Set
	require.NoError(t, decoded.UnmarshalJSON([]byte(`["omh:ohmage:survey:mood@2","omh:ohmage:stream:steps"]`)))
	assert.Equal(t, "omh:ohmage:survey:mood@2 omh:ohmage:stream:steps", decoded.String())
}

type fakeRegistry struct {
	streams map[string]bool
	surveys map[string]bool
	err     error
}

func (f fakeRegistry) StreamExists(_ context.Context, id string, _ *int64) (bool, error) {
	return f.streams[id], f.err
}

func (f fakeRegistry) SurveyExists(_ context.Context, id string, _ *int64) (bool, error) {
	return f.surveys[id], f.err
}

func TestValidator(t *testing.T) {
	ctx := context.Background()
	v := NewValidator(fakeRegistry{
		streams: map[string]bool{"steps": true},
		surveys: map[string]bool{"known-id": true},
	})

	t.Run("KnownSchemas", func(t *testing.T) {
		scopes, err := v.Validate(ctx, "omh:ohmage:survey:known-id  omh:ohmage:stream:steps")
		require.NoError(t, err)
		assert.Len(t, scopes, 2)
	})

	t.Run("UnknownStream", func(t *testing.T) {
		_, err := v.Validate(ctx, "omh:ohmage:stream:unknown-stream-id")
		require.Error(t, err)
		assert.True(t, apierrors.Is(err, apierrors.KindInvalidArgument))
		assert.Contains(t, err.Error(), "unknown-stream-id")
	})

	t.Run("Malformed", func(t *testing.T) {
		_, err := v.Validate(ctx, "omh:ohmage:stream:steps bogus")
		require.Error(t, err)
		assert.True(t, apierrors.Is(err, apierrors.KindInvalidArgument))
		assert.Contains(t, err.Error(), "bogus")
	})

	t.Run("Empty", func(t *testing.T) {
		_, err := v.Validate(ctx, "   ")
		assert.True(t, apierrors.Is(err, apierrors.KindInvalidArgument))
	})

	t.Run("RegistryFailure", func(t *testing.T) {
		broken := NewValidator(fakeRegistry{err: errors.New("connection refused")})
		_, err := broken.Validate(ctx, "omh:ohmage:stream:steps")
		require.Error(t, err)
		assert.Equal(t, apierrors.KindInternal, apierrors.KindOf(err))
	})
}
