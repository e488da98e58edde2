// Package engine drives the periodic update cycles: for each tracked person,
// scan the location trail, resolve cells through the cache and rate-limited
// geocoder, and fold the answers into the visit ledger.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/visited-countries/internal/domain"
	"github.com/couchcryptid/visited-countries/internal/ledger"
	"github.com/couchcryptid/visited-countries/internal/observability"
	"github.com/couchcryptid/visited-countries/internal/resolver"
	"github.com/couchcryptid/visited-countries/internal/scanner"
)

// PositionSource supplies a person's present coordinate, with explicit
// absence when the person has no GPS fix.
type PositionSource interface {
	CurrentPosition(ctx context.Context, person string) (domain.Coordinate, bool, error)
}

// Publisher emits visit events for downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, event domain.VisitEvent) error
}

// Engine owns the scan-resolve-record loop for every configured person.
type Engine struct {
	persons   []string
	scanner   *scanner.Scanner
	resolver  *resolver.Resolver
	ledger    *ledger.Ledger
	position  PositionSource // nil when the host API is not configured
	publisher Publisher      // nil disables event publishing
	window    time.Duration
	interval  time.Duration
	clock     clockwork.Clock
	metrics   *observability.Metrics
	logger    *slog.Logger
	ready     atomic.Bool
}

// New creates an Engine.
func New(persons []string, sc *scanner.Scanner, rs *resolver.Resolver, lg *ledger.Ledger, position PositionSource, publisher Publisher, window, interval time.Duration, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *Engine {
	return &Engine{
		persons:   persons,
		scanner:   sc,
		resolver:  rs,
		ledger:    lg,
		position:  position,
		publisher: publisher,
		window:    window,
		interval:  interval,
		clock:     clock,
		metrics:   metrics,
		logger:    logger,
	}
}

// CheckReadiness returns nil once the engine has completed a full pass over
// the configured persons.
func (e *Engine) CheckReadiness(_ context.Context) error {
	if !e.ready.Load() {
		return errors.New("engine has not completed an update pass yet")
	}
	return nil
}

// Run executes update passes until the context is cancelled: one pass
// immediately so a fresh start (or reload) catches up without waiting, then
// one per interval.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine started",
		"persons", len(e.persons),
		"interval", e.interval,
		"history_window", e.window,
	)
	e.metrics.EngineRunning.Set(1)
	defer e.metrics.EngineRunning.Set(0)

	e.RunOnce(ctx)

	ticker := e.clock.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
			e.RunOnce(ctx)
		}
	}
}

// RunOnce runs one update cycle per person. A person's failure is logged and
// the pass moves on; cancellation abandons the pass after the in-flight
// resolution, with already-cached progress retained.
func (e *Engine) RunOnce(ctx context.Context) {
	for _, person := range e.persons {
		if ctx.Err() != nil {
			return
		}
		if err := e.runCycle(ctx, person); err != nil && ctx.Err() == nil {
			e.logger.Error("update cycle failed", "person", person, "error", err)
		}
	}
	if ctx.Err() == nil {
		e.ready.Store(true)
	}
}

func (e *Engine) runCycle(ctx context.Context, person string) error {
	start := e.clock.Now()
	since := start.Add(-e.window)

	candidates, deferred, err := e.scanner.Collect(ctx, person, since)
	if err != nil {
		// History is an enrichment; current-location detection still runs.
		e.logger.Warn("history scan failed", "person", person, "error", err)
	}

	resolved := 0
	for _, cand := range candidates {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		result, err := e.resolver.Resolve(ctx, cand.Coord)
		if errors.Is(err, resolver.ErrNoCountry) {
			continue
		}
		if err != nil {
			// Forward progress: one coordinate's failure never kills the cycle.
			e.logger.Warn("resolution failed, skipping coordinate",
				"person", person,
				"cell", cand.Cell.Key(),
				"error", err,
			)
			continue
		}
		resolved++

		added, err := e.ledger.ApplyResolution(ctx, person, result.Code)
		if err != nil {
			e.logger.Warn("ledger write failed", "person", person, "country", result.Code, "error", err)
		}
		if added {
			e.publish(ctx, person, result, domain.SourceHistory)
		}
	}

	if err := e.updateCurrent(ctx, person); err != nil {
		e.logger.Warn("current-country update failed", "person", person, "error", err)
	}

	e.metrics.CyclesTotal.Inc()
	e.metrics.CycleDuration.Observe(e.clock.Since(start).Seconds())
	e.logger.Debug("cycle complete",
		"person", person,
		"candidates", len(candidates),
		"resolved", resolved,
		"deferred", deferred,
		"duration", e.clock.Since(start),
	)
	return nil
}

func (e *Engine) updateCurrent(ctx context.Context, person string) error {
	if e.position == nil {
		return nil
	}

	coord, ok, err := e.position.CurrentPosition(ctx, person)
	if err != nil {
		return err
	}
	if !ok {
		_, _, err := e.ledger.ApplyCurrent(ctx, person, "")
		return err
	}

	result, err := e.resolver.Resolve(ctx, coord)
	if errors.Is(err, resolver.ErrNoCountry) {
		_, _, err := e.ledger.ApplyCurrent(ctx, person, "")
		return err
	}
	if err != nil {
		// Transient failure: keep the last known current country.
		return err
	}

	changed, _, err := e.ledger.ApplyCurrent(ctx, person, result.Code)
	if err != nil {
		return err
	}
	if changed {
		e.publish(ctx, person, result, domain.SourceCurrent)
	}
	return nil
}

func (e *Engine) publish(ctx context.Context, person string, result domain.CountryResult, source string) {
	if e.publisher == nil {
		return
	}
	event := domain.VisitEvent{
		Person:      person,
		CountryCode: result.Code,
		CountryName: result.Name,
		Source:      source,
		OccurredAt:  e.clock.Now().UTC(),
	}
	if err := e.publisher.Publish(ctx, event); err != nil {
		e.logger.Warn("event publish failed", "person", person, "country", result.Code, "error", err)
	}
}
