// Package geocache is the durable grid-cell → country cache sitting between
// the coordinate scanner and the external reverse geocoder. Entries persist
// in SQLite so a restart never repeats a lookup already paid for.
package geocache

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/visited-countries/internal/domain"
	"github.com/couchcryptid/visited-countries/internal/observability"
)

// Entry is one cached resolution. Resolved is false for the explicit
// "no country here" marker (open water), which is cached to suppress repeat
// calls for the same cell but never surfaces as a visited country.
type Entry struct {
	Cell      domain.GridCell
	Code      string
	Resolved  bool
	UpdatedAt time.Time
}

// Cache is the process-wide geocoding cache. Reads are served from memory;
// writes go through to SQLite. All counters share one mutex so statistics
// stay consistent under concurrent cycles.
type Cache struct {
	db      *sql.DB
	clock   clockwork.Clock
	metrics *observability.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[domain.GridCell]Entry

	hits          uint64
	misses        uint64
	apiCalls      uint64
	totalRequests uint64
}

// New builds a Cache backed by db, preloading every persisted entry. The key
// space is bounded by world land area at ~1 km resolution, so the working
// set fits in memory and entries are never evicted.
func New(db *sql.DB, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) (*Cache, error) {
	c := &Cache{
		db:      db,
		clock:   clock,
		metrics: metrics,
		logger:  logger,
		entries: make(map[domain.GridCell]Entry),
	}

	rows, err := db.Query(`SELECT cell, country_code, resolved, updated_at FROM geocode_cache`)
	if err != nil {
		return nil, fmt.Errorf("load geocode cache: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, code string
		var resolved int
		var updatedAt int64
		if err := rows.Scan(&key, &code, &resolved, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan geocode cache row: %w", err)
		}
		cell, err := parseCellKey(key)
		if err != nil {
			logger.Warn("skipping malformed cache row", "cell", key, "error", err)
			continue
		}
		c.entries[cell] = Entry{
			Cell:      cell,
			Code:      code,
			Resolved:  resolved != 0,
			UpdatedAt: time.Unix(updatedAt, 0).UTC(),
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate geocode cache: %w", err)
	}

	metrics.CacheSize.Set(float64(len(c.entries)))
	logger.Info("geocode cache loaded", "entries", len(c.entries))
	return c, nil
}

// Lookup returns the entry for a cell. Every call counts toward
// total_requests and either hits or misses.
func (c *Cache) Lookup(cell domain.GridCell) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalRequests++
	e, ok := c.entries[cell]
	if ok {
		c.hits++
		c.metrics.GeocodeCache.WithLabelValues("hit").Inc()
	} else {
		c.misses++
		c.metrics.GeocodeCache.WithLabelValues("miss").Inc()
	}
	return e, ok
}

// Contains reports presence without touching the statistics counters. The
// scanner uses it to decide which cells count against the per-cycle batch
// ceiling; the resolver performs the counted Lookup.
func (c *Cache) Contains(cell domain.GridCell) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[cell]
	return ok
}

// Store records a resolution for a cell, overwriting any prior entry.
// resolved=false stores the "no country" marker. The in-memory entry is
// updated even when the SQLite write fails; the error is returned so the
// caller can report it, but the running process keeps the result.
func (c *Cache) Store(ctx context.Context, cell domain.GridCell, code string, resolved bool) error {
	now := c.clock.Now().UTC()

	c.mu.Lock()
	c.entries[cell] = Entry{Cell: cell, Code: code, Resolved: resolved, UpdatedAt: now}
	size := len(c.entries)
	c.mu.Unlock()

	c.metrics.CacheSize.Set(float64(size))

	resolvedInt := 0
	if resolved {
		resolvedInt = 1
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO geocode_cache (cell, country_code, resolved, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(cell) DO UPDATE SET
		   country_code = excluded.country_code,
		   resolved = excluded.resolved,
		   updated_at = excluded.updated_at`,
		cell.Key(), code, resolvedInt, now.Unix())
	if err != nil {
		return fmt.Errorf("persist cache entry %s: %w", cell.Key(), err)
	}
	return nil
}

// RecordAPICall bumps the external-call counter. Called by the resolver for
// every outbound request, successful or not.
func (c *Cache) RecordAPICall() {
	c.mu.Lock()
	c.apiCalls++
	c.mu.Unlock()
}

// Size returns the number of cached cells.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func parseCellKey(key string) (domain.GridCell, error) {
	var lat, lon int32
	if _, err := fmt.Sscanf(key, "%d,%d", &lat, &lon); err != nil {
		return domain.GridCell{}, fmt.Errorf("parse cell key %q: %w", key, err)
	}
	return domain.GridCell{LatE2: lat, LonE2: lon}, nil
}
