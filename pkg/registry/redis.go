package registry

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ohmage/ohmage-oauth/pkg/scope"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "ohmage:schema:"

// Redis looks schemas up in Redis. Each schema is a set at ohmage:schema:<type>:<id> whose members are its
// known versions.
type Redis struct {
	client redis.UniversalClient
}

// NewRedis connects to the Redis server at url, e.g. redis://localhost:6379/0.
func NewRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisWithClient(client), nil
}

func NewRedisWithClient(client redis.UniversalClient) *Redis {
	return &Redis{
		client: client,
	}
}

func schemaKey(t scope.Type, id string) string {
	return keyPrefix + string(t) + ":" + id
}

func (r *Redis) exists(ctx context.Context, t scope.Type, id string, version *int64) (bool, error) {
	key := schemaKey(t, id)
	if version == nil {
		n, err := r.client.Exists(ctx, key).Result()
		if err != nil {
			return false, fmt.Errorf("failed to check %s: %w", key, err)
		}
		return n > 0, nil
	}

	ok, err := r.client.SIsMember(ctx, key, strconv.FormatInt(*version, 10)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check %s version %d: %w", key, *version, err)
	}
	return ok, nil
}

func (r *Redis) StreamExists(ctx context.Context, schemaID string, version *int64) (bool, error) {
	return r.exists(ctx, scope.TypeStream, schemaID, version)
}

func (r *Redis) SurveyExists(ctx context.Context, schemaID string, version *int64) (bool, error) {
	return r.exists(ctx, scope.TypeSurvey, schemaID, version)
}

// AddSchema registers versions of a schema.
func (r *Redis) AddSchema(ctx context.Context, t scope.Type, id string, schemaVersions ...int64) error {
	if len(schemaVersions) == 0 {
		return fmt.Errorf("at least one version of %s %s is required", t, id)
	}
	members := make([]any, 0, len(schemaVersions))
	for _, v := range schemaVersions {
		members = append(members, strconv.FormatInt(v, 10))
	}
	if err := r.client.SAdd(ctx, schemaKey(t, id), members...).Err(); err != nil {
		return fmt.Errorf("failed to add %s %s: %w", t, id, err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
