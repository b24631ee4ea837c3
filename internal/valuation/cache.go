package valuation

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"acquisition_backend/internal/pipeline/ports"
	"acquisition_backend/platform/logger"
)

const cacheKeyPrefix = "valuation:"

// CachedLookup remembers estimates in Redis so re-validating a lead gives the same
// figure and does not pay for a second lookup. Misses and errors are not cached.
type CachedLookup struct {
	next   ports.ValuationLookup
	client redis.UniversalClient
	ttl    time.Duration
	log    *logger.Logger
}

func NewCachedLookup(next ports.ValuationLookup, client redis.UniversalClient, ttl time.Duration, log *logger.Logger) *CachedLookup {
	return &CachedLookup{next: next, client: client, ttl: ttl, log: log}
}

type cachedValuation struct {
	Value  float64 `json:"value"`
	Source string  `json:"source"`
}

func (c *CachedLookup) Estimate(ctx context.Context, q ports.ValuationQuery) (ports.Valuation, error) {
	key := cacheKey(q)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var v cachedValuation
		if jsonErr := json.Unmarshal(raw, &v); jsonErr == nil {
			return ports.Valuation{Value: v.Value, Source: v.Source}, nil
		}
		c.log.Warn("discarding corrupt valuation cache entry", "key", key)
	case !errors.Is(err, redis.Nil):
		c.log.Warn("valuation cache read failed", "error", err)
	}

	val, err := c.next.Estimate(ctx, q)
	if err != nil {
		return ports.Valuation{}, err
	}

	data, _ := json.Marshal(cachedValuation{Value: val.Value, Source: val.Source})
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.log.Warn("valuation cache write failed", "error", err)
	}
	return val, nil
}

func cacheKey(q ports.ValuationQuery) string {
	parts := []string{
		strings.ToUpper(strings.Join(strings.Fields(q.Postcode), "")),
		strings.ToLower(strings.Join(strings.Fields(q.Address), " ")),
		q.PropertyType,
	}
	if q.Bedrooms != nil {
		parts = append(parts, strconv.Itoa(*q.Bedrooms))
	}
	return cacheKeyPrefix + strings.Join(parts, "|")
}
