// Package resolver answers "which country is this coordinate in". It
// consults the cache first and goes to the external geocoder, under the
// global rate limit, only for cells never seen before.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/visited-countries/internal/domain"
	"github.com/couchcryptid/visited-countries/internal/geocache"
	"github.com/couchcryptid/visited-countries/internal/observability"
)

// ErrNoCountry reports that a coordinate resolves to no country (open sea,
// for instance). It is an authoritative answer, not a failure: the cell is
// cached so the question is never asked again.
var ErrNoCountry = errors.New("no country at coordinate")

// Resolver resolves coordinates through the cache and, on misses, the
// external geocoder.
type Resolver struct {
	cache    *geocache.Cache
	geocoder domain.Geocoder
	pacer    *Pacer
	clock    clockwork.Clock
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// New creates a Resolver. The pacer must be the process-wide instance.
func New(cache *geocache.Cache, geocoder domain.Geocoder, pacer *Pacer, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *Resolver {
	return &Resolver{
		cache:    cache,
		geocoder: geocoder,
		pacer:    pacer,
		clock:    clock,
		metrics:  metrics,
		logger:   logger,
	}
}

// Resolve returns the country containing coord. Cache hits return
// immediately; misses wait for the pacer, call the geocoder, and write the
// answer back. Transient failures (timeout, bad status, malformed body) are
// returned without caching so the cell is retried on a later cycle.
func (r *Resolver) Resolve(ctx context.Context, coord domain.Coordinate) (domain.CountryResult, error) {
	cell := domain.Quantize(coord)

	if e, ok := r.cache.Lookup(cell); ok {
		if !e.Resolved {
			return domain.CountryResult{}, ErrNoCountry
		}
		return domain.CountryResult{Code: e.Code, Name: domain.CountryName(e.Code), Found: true}, nil
	}

	waitStart := r.clock.Now()
	if err := r.pacer.Wait(ctx); err != nil {
		return domain.CountryResult{}, fmt.Errorf("rate limit wait: %w", err)
	}
	r.metrics.RateLimitWait.Observe(r.clock.Since(waitStart).Seconds())

	callStart := r.clock.Now()
	result, err := r.geocoder.CountryAt(ctx, coord.Lat, coord.Lon)
	r.cache.RecordAPICall()
	r.metrics.GeocodeAPIDuration.Observe(r.clock.Since(callStart).Seconds())

	if err != nil {
		r.metrics.GeocodeRequests.WithLabelValues("error").Inc()
		return domain.CountryResult{}, fmt.Errorf("reverse geocode %s: %w", cell, err)
	}

	if !result.Found {
		r.metrics.GeocodeRequests.WithLabelValues("no_country").Inc()
		if serr := r.cache.Store(ctx, cell, "", false); serr != nil {
			r.logger.Warn("cache write failed", "cell", cell.Key(), "error", serr)
		}
		return domain.CountryResult{}, ErrNoCountry
	}

	r.metrics.GeocodeRequests.WithLabelValues("success").Inc()
	if serr := r.cache.Store(ctx, cell, result.Code, true); serr != nil {
		r.logger.Warn("cache write failed", "cell", cell.Key(), "code", result.Code, "error", serr)
	}
	return result, nil
}
