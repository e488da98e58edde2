// Package scanner turns a person's location trail into a bounded batch of
// grid cells for the resolver. It deduplicates by cell and caps the number
// of uncached cells admitted per run so one cycle never stalls its host
// behind a long history under the external rate limit.
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/visited-countries/internal/domain"
	"github.com/couchcryptid/visited-countries/internal/geocache"
	"github.com/couchcryptid/visited-countries/internal/observability"
)

// HistorySource supplies the coordinates a person has been observed at.
type HistorySource interface {
	Samples(ctx context.Context, person string, since time.Time) ([]domain.Coordinate, error)
}

// Candidate is one distinct grid cell scheduled for resolution, with the
// raw coordinate that first mapped to it.
type Candidate struct {
	Cell  domain.GridCell
	Coord domain.Coordinate
}

// Scanner collects and batches resolution candidates.
type Scanner struct {
	history HistorySource // nil when history scanning is not authorized
	cache   *geocache.Cache
	limit   int
	metrics *observability.Metrics
	logger  *slog.Logger
}

// New creates a Scanner. Pass a nil history source to skip the history pass
// entirely (degraded mode: only current-location detection feeds the ledger).
func New(history HistorySource, cache *geocache.Cache, limit int, metrics *observability.Metrics, logger *slog.Logger) *Scanner {
	return &Scanner{
		history: history,
		cache:   cache,
		limit:   limit,
		metrics: metrics,
		logger:  logger,
	}
}

// Collect returns the distinct cells seen in the person's history since the
// given time. Cached cells always pass through (they cost nothing and
// produce hits downstream); at most limit uncached cells are admitted, the
// rest are deferred and reported in the second return value. Deferral is
// catch-up policy, not loss: the window is re-scanned next cycle, by which
// time this cycle's admissions are cached.
func (s *Scanner) Collect(ctx context.Context, person string, since time.Time) ([]Candidate, int, error) {
	if s.history == nil {
		return nil, 0, nil
	}

	coords, err := s.history.Samples(ctx, person, since)
	if err != nil {
		return nil, 0, fmt.Errorf("collect history for %s: %w", person, err)
	}
	s.metrics.CoordinatesScanned.Add(float64(len(coords)))

	seen := make(map[domain.GridCell]struct{})
	var out []Candidate
	uncached := 0
	deferred := 0

	for _, coord := range coords {
		cell := domain.Quantize(coord)
		if _, dup := seen[cell]; dup {
			continue
		}
		seen[cell] = struct{}{}

		if s.cache.Contains(cell) {
			out = append(out, Candidate{Cell: cell, Coord: coord})
			continue
		}
		if uncached >= s.limit {
			deferred++
			continue
		}
		uncached++
		out = append(out, Candidate{Cell: cell, Coord: coord})
	}

	if deferred > 0 {
		s.metrics.CellsDeferred.Add(float64(deferred))
		s.logger.Info("batch ceiling reached, deferring cells",
			"person", person,
			"limit", s.limit,
			"deferred", deferred,
		)
	}

	s.logger.Debug("scan complete",
		"person", person,
		"raw_coordinates", len(coords),
		"distinct_cells", len(seen),
		"candidates", len(out),
		"deferred", deferred,
	)
	return out, deferred, nil
}
