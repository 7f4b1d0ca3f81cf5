package geocode

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"relief_portal_backend/internal/missingpersons/domain"
	"relief_portal_backend/platform/logger"
	"relief_portal_backend/platform/metrics"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	cacheKeyPrefix    = "geocode:v1:"
	noMatchMarker     = "none"
	defaultCacheTTL   = 7 * 24 * time.Hour
	defaultNoMatchTTL = 10 * time.Minute
	cacheOpTimeout    = 300 * time.Millisecond
	sharedLookupLimit = 10 * time.Second
)

// RedisCache is a Geocoder decorator that shares results across sessions
// and with the warm-up worker. Misses for the same key are coalesced.
// Redis errors degrade to calling the wrapped geocoder directly.
type RedisCache struct {
	client     redis.Cmdable
	next       Geocoder
	ttl        time.Duration
	noMatchTTL time.Duration
	group      singleflight.Group
	log        *logger.Logger
}

// NewRedisCache wraps next. ttl <= 0 uses a week.
func NewRedisCache(client redis.Cmdable, next Geocoder, ttl time.Duration, log *logger.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &RedisCache{
		client:     client,
		next:       next,
		ttl:        ttl,
		noMatchTTL: defaultNoMatchTTL,
		log:        log,
	}
}

// Lookup answers from redis when possible.
func (c *RedisCache) Lookup(ctx context.Context, query string) (domain.Coordinate, error) {
	key := cacheKeyPrefix + Normalize(query)
	if key == cacheKeyPrefix {
		return domain.Coordinate{}, ErrEmptyQuery
	}

	if coord, noMatch, ok := c.get(ctx, key); ok {
		metrics.GeocodeCacheHitsTotal.Inc()
		if noMatch {
			return domain.Coordinate{}, ErrNoMatch
		}
		return coord, nil
	}

	// The shared lookup outlives any single caller; each caller stops
	// waiting on its own context.
	ch := c.group.DoChan(key, func() (interface{}, error) {
		lookupCtx, cancel := detach(ctx)
		defer cancel()

		coord, err := c.next.Lookup(lookupCtx, query)
		switch {
		case err == nil:
			c.set(lookupCtx, key, encodeCoordinate(coord), c.ttl)
		case errors.Is(err, ErrNoMatch):
			c.set(lookupCtx, key, noMatchMarker, c.noMatchTTL)
		}
		return coord, err
	})

	select {
	case <-ctx.Done():
		return domain.Coordinate{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return domain.Coordinate{}, res.Err
		}
		return res.Val.(domain.Coordinate), nil
	}
}

// detach drops ctx's cancellation but keeps its deadline, bounded by
// sharedLookupLimit when there is none.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	if deadline, ok := ctx.Deadline(); ok {
		return context.WithDeadline(base, deadline)
	}
	return context.WithTimeout(base, sharedLookupLimit)
}

// get reports ok=false on a cache miss or any redis failure.
func (c *RedisCache) get(ctx context.Context, key string) (coord domain.Coordinate, noMatch bool, ok bool) {
	opCtx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	raw, err := c.client.Get(opCtx, key).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Coordinate{}, false, false
	}
	if err != nil {
		c.log.UpstreamError("redis", "geocode cache get", err)
		return domain.Coordinate{}, false, false
	}
	if raw == noMatchMarker {
		return domain.Coordinate{}, true, true
	}

	coord, err = decodeCoordinate(raw)
	if err != nil {
		c.log.Warn("discarding corrupt geocode cache entry", "key", key, "error", err)
		return domain.Coordinate{}, false, false
	}
	return coord, false, true
}

func (c *RedisCache) set(ctx context.Context, key, value string, ttl time.Duration) {
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheOpTimeout)
	defer cancel()

	if err := c.client.Set(opCtx, key, value, ttl).Err(); err != nil {
		c.log.UpstreamError("redis", "geocode cache set", err)
	}
}

func encodeCoordinate(c domain.Coordinate) string {
	return c.Key()
}

func decodeCoordinate(raw string) (domain.Coordinate, error) {
	latRaw, lonRaw, ok := strings.Cut(raw, ",")
	if !ok {
		return domain.Coordinate{}, fmt.Errorf("malformed coordinate %q", raw)
	}
	lat, err := strconv.ParseFloat(latRaw, 64)
	if err != nil {
		return domain.Coordinate{}, err
	}
	lon, err := strconv.ParseFloat(lonRaw, 64)
	if err != nil {
		return domain.Coordinate{}, err
	}
	return domain.Coordinate{Lat: lat, Lon: lon}, nil
}
