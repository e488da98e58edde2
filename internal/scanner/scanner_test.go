package scanner_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/visited-countries/internal/domain"
	"github.com/couchcryptid/visited-countries/internal/geocache"
	"github.com/couchcryptid/visited-countries/internal/observability"
	"github.com/couchcryptid/visited-countries/internal/scanner"
	"github.com/couchcryptid/visited-countries/internal/storage"
)

type fakeHistory struct {
	coords []domain.Coordinate
	err    error
}

func (f *fakeHistory) Samples(_ context.Context, _ string, _ time.Time) ([]domain.Coordinate, error) {
	return f.coords, f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCache(t *testing.T) *geocache.Cache {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	c, err := geocache.New(db, clockwork.NewFakeClock(), observability.NewMetricsForTesting(), discardLogger())
	require.NoError(t, err)
	return c
}

// distinctCoords generates n coordinates in n distinct grid cells.
func distinctCoords(n int) []domain.Coordinate {
	coords := make([]domain.Coordinate, n)
	for i := range n {
		coords[i] = domain.Coordinate{Lat: float64(i) * 0.05, Lon: 10.0}
	}
	return coords
}

func since() time.Time { return time.Now().Add(-24 * time.Hour) }

func TestCollect_NilHistorySkipsScan(t *testing.T) {
	s := scanner.New(nil, newTestCache(t), 100, observability.NewMetricsForTesting(), discardLogger())

	candidates, deferred, err := s.Collect(context.Background(), "person.alice", since())
	require.NoError(t, err)
	assert.Empty(t, candidates)
	assert.Zero(t, deferred)
}

func TestCollect_DeduplicatesByCell(t *testing.T) {
	// 250 raw coordinates collapsing into 40 distinct cells.
	var coords []domain.Coordinate
	for i := range 250 {
		cellIdx := i % 40
		jitter := float64(i) * 0.00001 // well inside one cell
		coords = append(coords, domain.Coordinate{Lat: float64(cellIdx) * 0.05, Lon: 20.0 + jitter})
	}

	s := scanner.New(&fakeHistory{coords: coords}, newTestCache(t), 100, observability.NewMetricsForTesting(), discardLogger())

	candidates, deferred, err := s.Collect(context.Background(), "person.alice", since())
	require.NoError(t, err)
	assert.Len(t, candidates, 40, "all 40 distinct cells fit under the cap")
	assert.Zero(t, deferred)
}

func TestCollect_CapsUncachedCells(t *testing.T) {
	coords := distinctCoords(150)
	cache := newTestCache(t)
	s := scanner.New(&fakeHistory{coords: coords}, cache, 100, observability.NewMetricsForTesting(), discardLogger())

	candidates, deferred, err := s.Collect(context.Background(), "person.alice", since())
	require.NoError(t, err)
	assert.Len(t, candidates, 100)
	assert.Equal(t, 50, deferred)
}

func TestCollect_DeferredCellsPickedUpNextRun(t *testing.T) {
	coords := distinctCoords(150)
	cache := newTestCache(t)
	s := scanner.New(&fakeHistory{coords: coords}, cache, 100, observability.NewMetricsForTesting(), discardLogger())

	first, deferred, err := s.Collect(context.Background(), "person.alice", since())
	require.NoError(t, err)
	require.Equal(t, 50, deferred)

	// Simulate the resolver caching everything the first run admitted.
	for _, cand := range first {
		require.NoError(t, cache.Store(context.Background(), cand.Cell, "US", true))
	}

	second, deferred, err := s.Collect(context.Background(), "person.alice", since())
	require.NoError(t, err)
	assert.Zero(t, deferred, "backlog fits on the second run")
	assert.Len(t, second, 150, "cached cells pass through, 50 new cells admitted")

	uncachedInSecond := 0
	for _, cand := range second {
		if !cache.Contains(cand.Cell) {
			uncachedInSecond++
		}
	}
	assert.Equal(t, 50, uncachedInSecond, "only the deferred cells still need external calls")
}

func TestCollect_CachedCellsDoNotCountAgainstCap(t *testing.T) {
	coords := distinctCoords(30)
	cache := newTestCache(t)

	// Pre-cache 20 of the 30 cells.
	for _, c := range coords[:20] {
		require.NoError(t, cache.Store(context.Background(), domain.Quantize(c), "US", true))
	}

	s := scanner.New(&fakeHistory{coords: coords}, cache, 5, observability.NewMetricsForTesting(), discardLogger())

	candidates, deferred, err := s.Collect(context.Background(), "person.alice", since())
	require.NoError(t, err)
	assert.Len(t, candidates, 25, "20 cached + 5 admitted uncached")
	assert.Equal(t, 5, deferred)
}

func TestCollect_HistoryErrorPropagates(t *testing.T) {
	s := scanner.New(&fakeHistory{err: errors.New("boom")}, newTestCache(t), 100, observability.NewMetricsForTesting(), discardLogger())

	_, _, err := s.Collect(context.Background(), "person.alice", since())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "person.alice")
}
