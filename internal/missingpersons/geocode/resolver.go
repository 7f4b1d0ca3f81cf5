package geocode

import (
	"context"
	"errors"
	"strings"
	"time"

	"relief_portal_backend/internal/missingpersons/domain"
	"relief_portal_backend/platform/config"
	"relief_portal_backend/platform/logger"
	"relief_portal_backend/platform/metrics"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	defaultLookupTimeout = 5 * time.Second
	defaultConcurrency   = 8
)

// Options bounds a resolution batch.
type Options struct {
	// Timeout applies to each lookup, not the batch.
	Timeout time.Duration
	// Concurrency caps in-flight lookups.
	Concurrency int
}

// Batch is the settled result of ResolveAll. Every input string appears in
// exactly one of Resolved or Failed.
type Batch struct {
	Resolved map[string]domain.Coordinate
	Failed   map[string]error
	// Lookups is the number of geocoder calls issued after deduplication.
	Lookups int
}

// Resolver resolves batches of location strings.
type Resolver struct {
	geocoder Geocoder
	opts     Options
	log      *logger.Logger
}

// NewResolver creates a resolver over geocoder.
func NewResolver(geocoder Geocoder, opts Options, log *logger.Logger) *Resolver {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultLookupTimeout
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = defaultConcurrency
	}
	return &Resolver{geocoder: geocoder, opts: opts, log: log}
}

// NewFromConfig builds the production resolver: Nominatim, optionally
// behind the redis cache when rdb is non-nil.
func NewFromConfig(cfg config.GeocoderConfig, rdb redis.Cmdable, log *logger.Logger) *Resolver {
	var g Geocoder = NewNominatimClient(NominatimOptions{
		BaseURL:       cfg.GetGeocoderURL(),
		UserAgent:     cfg.GetGeocoderUserAgent(),
		CountryCodes:  cfg.GetGeocoderCountryCodes(),
		RatePerSecond: cfg.GetGeocodeRatePerSecond(),
	}, log)
	if rdb != nil {
		g = NewRedisCache(rdb, g, cfg.GetGeocodeCacheTTL(), log)
	}
	return NewResolver(g, Options{
		Timeout:     cfg.GetGeocodeTimeout(),
		Concurrency: cfg.GetGeocodeConcurrency(),
	}, log)
}

type pending struct {
	query     string
	originals []string
	coord     domain.Coordinate
	err       error
}

// ResolveAll resolves every query concurrently and returns once all lookups
// have settled. Strings that normalise to the same key share one lookup.
// A failure is recorded against its strings and never affects the others.
func (r *Resolver) ResolveAll(ctx context.Context, queries []string) Batch {
	batch := Batch{
		Resolved: make(map[string]domain.Coordinate, len(queries)),
		Failed:   make(map[string]error),
	}

	index := make(map[string]int)
	var work []*pending
	seen := make(map[string]struct{}, len(queries))

	for _, q := range queries {
		if _, dup := seen[q]; dup {
			continue
		}
		seen[q] = struct{}{}

		key := Normalize(q)
		if key == "" {
			r.recordFailure(batch, q, ErrEmptyQuery)
			continue
		}
		i, ok := index[key]
		if !ok {
			i = len(work)
			index[key] = i
			work = append(work, &pending{query: strings.Join(strings.Fields(q), " ")})
		}
		work[i].originals = append(work[i].originals, q)
	}

	var g errgroup.Group
	g.SetLimit(r.opts.Concurrency)
	for _, p := range work {
		p := p
		g.Go(func() error {
			p.coord, p.err = r.lookup(ctx, p.query)
			return nil
		})
	}
	_ = g.Wait()

	batch.Lookups = len(work)
	for _, p := range work {
		for _, q := range p.originals {
			if p.err != nil {
				r.recordFailure(batch, q, p.err)
				continue
			}
			batch.Resolved[q] = p.coord
		}
	}

	return batch
}

// Resolve resolves a single string.
func (r *Resolver) Resolve(ctx context.Context, query string) (domain.Coordinate, error) {
	batch := r.ResolveAll(ctx, []string{query})
	if err, failed := batch.Failed[query]; failed {
		return domain.Coordinate{}, err
	}
	return batch.Resolved[query], nil
}

func (r *Resolver) lookup(ctx context.Context, query string) (domain.Coordinate, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	metrics.GeocodeRequestsTotal.Inc()
	start := time.Now()
	coord, err := r.geocoder.Lookup(lookupCtx, query)
	metrics.GeocodeDurationMs.Observe(float64(time.Since(start).Milliseconds()))

	if err == nil && !validCoordinate(coord) {
		err = errors.New("geocode: coordinate out of range")
	}
	return coord, err
}

func (r *Resolver) recordFailure(batch Batch, query string, err error) {
	batch.Failed[query] = err
	reason := failureReason(err)
	metrics.GeocodeFailuresTotal.WithLabelValues(reason).Inc()
	r.log.Warn("location lookup failed", "query", query, "reason", reason, "error", err)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrEmptyQuery):
		return metrics.ReasonEmptyQuery
	case errors.Is(err, ErrNoMatch):
		return metrics.ReasonNoMatch
	case errors.Is(err, context.DeadlineExceeded):
		return metrics.ReasonTimeout
	default:
		return metrics.ReasonError
	}
}
