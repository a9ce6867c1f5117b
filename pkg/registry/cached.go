package registry

import (
	"context"
	"strconv"
	"time"

	"github.com/ohmage/ohmage-oauth/pkg/scope"
	"github.com/patrickmn/go-cache"
)

// Cached remembers positive answers from another registry for a short time. Negative answers are not
// cached so a newly registered schema is usable immediately.
type Cached struct {
	next  scope.Registry
	cache *cache.Cache
}

func NewCached(next scope.Registry, ttl time.Duration) *Cached {
	return &Cached{
		next:  next,
		cache: cache.New(ttl, 2*ttl),
	}
}

func cacheKey(t scope.Type, id string, version *int64) string {
	key := string(t) + ":" + id
	if version != nil {
		key += "@" + strconv.FormatInt(*version, 10)
	}
	return key
}

func (c *Cached) lookup(ctx context.Context, t scope.Type, id string, version *int64,
	fetch func(context.Context, string, *int64) (bool, error),
) (bool, error) {
	key := cacheKey(t, id, version)
	if _, ok := c.cache.Get(key); ok {
		return true, nil
	}

	exists, err := fetch(ctx, id, version)
	if err != nil {
		return false, err
	}
	if exists {
		c.cache.SetDefault(key, struct{}{})
	}
	return exists, nil
}

func (c *Cached) StreamExists(ctx context.Context, schemaID string, version *int64) (bool, error) {
	return c.lookup(ctx, scope.TypeStream, schemaID, version, c.next.StreamExists)
}

func (c *Cached) SurveyExists(ctx context.Context, schemaID string, version *int64) (bool, error) {
	return c.lookup(ctx, scope.TypeSurvey, schemaID, version, c.next.SurveyExists)
}
