package engine_test

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
	"github.com/couchcryptid/visited-countries/internal/engine"
	"github.com/couchcryptid/visited-countries/internal/geocache"
	"github.com/couchcryptid/visited-countries/internal/ledger"
	"github.com/couchcryptid/visited-countries/internal/observability"
	"github.com/couchcryptid/visited-countries/internal/resolver"
	"github.com/couchcryptid/visited-countries/internal/scanner"
	"github.com/couchcryptid/visited-countries/internal/storage"
)

const alice = "person.alice"

var (
	nyc   = domain.Coordinate{Lat: 40.7128, Lon: -74.0060}
	nyc2  = domain.Coordinate{Lat: 40.7130, Lon: -74.0061} // same cell as nyc
	paris = domain.Coordinate{Lat: 48.8566, Lon: 2.3522}
	tokyo = domain.Coordinate{Lat: 35.6762, Lon: 139.6503}
)

// --- fakes ---

type fakeHistory struct {
	coords []domain.Coordinate
	err    error
}

func (f *fakeHistory) Samples(_ context.Context, _ string, _ time.Time) ([]domain.Coordinate, error) {
	return f.coords, f.err
}

type fakePosition struct {
	coord domain.Coordinate
	fix   bool
	err   error
}

func (f *fakePosition) CurrentPosition(_ context.Context, _ string) (domain.Coordinate, bool, error) {
	return f.coord, f.fix, f.err
}

// cellGeocoder answers by grid cell, counting external calls.
type cellGeocoder struct {
	answers map[domain.GridCell]domain.CountryResult
	errs    map[domain.GridCell]error
	calls   int
}

func (g *cellGeocoder) CountryAt(_ context.Context, lat, lon float64) (domain.CountryResult, error) {
	g.calls++
	cell := domain.Quantize(domain.Coordinate{Lat: lat, Lon: lon})
	if err, ok := g.errs[cell]; ok {
		return domain.CountryResult{}, err
	}
	return g.answers[cell], nil
}

type fakePublisher struct {
	events []domain.VisitEvent
}

func (f *fakePublisher) Publish(_ context.Context, event domain.VisitEvent) error {
	f.events = append(f.events, event)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	engine *engine.Engine
	cache  *geocache.Cache
	ledger *ledger.Ledger
	geo    *cellGeocoder
	pub    *fakePublisher
}

func newFixture(t *testing.T, history scanner.HistorySource, position engine.PositionSource, geo *cellGeocoder) *fixture {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "visited.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clock := clockwork.NewRealClock()
	metrics := observability.NewMetricsForTesting()
	logger := discardLogger()

	cache, err := geocache.New(db, clock, metrics, logger)
	require.NoError(t, err)
	lg, err := ledger.New(db, clock, metrics, logger)
	require.NoError(t, err)

	pacer := resolver.NewPacer(time.Millisecond, clock)
	rs := resolver.New(cache, geo, pacer, clock, metrics, logger)
	sc := scanner.New(history, cache, 100, metrics, logger)
	pub := &fakePublisher{}

	e := engine.New([]string{alice}, sc, rs, lg, position, pub,
		24*time.Hour, time.Hour, clock, metrics, logger)

	return &fixture{engine: e, cache: cache, ledger: lg, geo: geo, pub: pub}
}

func worldGeocoder() *cellGeocoder {
	return &cellGeocoder{
		answers: map[domain.GridCell]domain.CountryResult{
			domain.Quantize(nyc):   {Code: "US", Name: "United States", Found: true},
			domain.Quantize(paris): {Code: "FR", Name: "France", Found: true},
			domain.Quantize(tokyo): {Code: "JP", Name: "Japan", Found: true},
		},
	}
}

// --- tests ---

func TestRunOnce_DetectsCountriesFromHistoryAndCurrent(t *testing.T) {
	geo := worldGeocoder()
	f := newFixture(t,
		&fakeHistory{coords: []domain.Coordinate{nyc, nyc2, paris}},
		&fakePosition{coord: tokyo, fix: true},
		geo,
	)

	f.engine.RunOnce(context.Background())

	snap := f.ledger.Snapshot(alice)
	assert.Equal(t, []string{"FR", "JP", "US"}, snap.Visited)
	assert.Equal(t, "JP", snap.Current)

	// nyc and nyc2 share a cell: 2 history cells + 1 current cell.
	assert.Equal(t, 3, geo.calls)
	assert.Equal(t, uint64(3), f.cache.Stats().APICalls)

	require.Len(t, f.pub.events, 3)
	sources := map[string]int{}
	for _, ev := range f.pub.events {
		sources[ev.Source]++
	}
	assert.Equal(t, 2, sources[domain.SourceHistory])
	assert.Equal(t, 1, sources[domain.SourceCurrent])
}

func TestRunOnce_SecondPassServedFromCache(t *testing.T) {
	geo := worldGeocoder()
	f := newFixture(t,
		&fakeHistory{coords: []domain.Coordinate{nyc, paris}},
		&fakePosition{coord: tokyo, fix: true},
		geo,
	)

	f.engine.RunOnce(context.Background())
	callsAfterFirst := geo.calls

	f.engine.RunOnce(context.Background())

	assert.Equal(t, callsAfterFirst, geo.calls, "second pass must not hit the geocoder")
	stats := f.cache.Stats()
	assert.Equal(t, uint64(callsAfterFirst), stats.APICalls)
	assert.Equal(t, uint64(3), stats.Hits)
	assert.Len(t, f.pub.events, 3, "no duplicate events for already-detected countries")
}

func TestRunOnce_TransientFailureDoesNotKillCycle(t *testing.T) {
	geo := worldGeocoder()
	geo.errs = map[domain.GridCell]error{
		domain.Quantize(paris): errors.New("503 overloaded"),
	}
	f := newFixture(t,
		&fakeHistory{coords: []domain.Coordinate{paris, nyc}},
		&fakePosition{fix: false},
		geo,
	)

	f.engine.RunOnce(context.Background())

	snap := f.ledger.Snapshot(alice)
	assert.Equal(t, []string{"US"}, snap.Visited, "the failing coordinate is skipped, the rest proceed")
	assert.Equal(t, 1, f.cache.Size(), "transient failure not cached")
}

func TestRunOnce_NoCountryPointsIgnored(t *testing.T) {
	sea := domain.Coordinate{Lat: 30.0, Lon: -45.0}
	geo := worldGeocoder() // sea cell absent: Found=false
	f := newFixture(t,
		&fakeHistory{coords: []domain.Coordinate{sea, nyc}},
		&fakePosition{coord: sea, fix: true},
		geo,
	)

	f.engine.RunOnce(context.Background())

	snap := f.ledger.Snapshot(alice)
	assert.Equal(t, []string{"US"}, snap.Visited)
	assert.Empty(t, snap.Current, "unresolvable position clears current")
	assert.Equal(t, 2, f.cache.Size(), "no-country marker is cached")
}

func TestRunOnce_HistoryFailureStillUpdatesCurrent(t *testing.T) {
	geo := worldGeocoder()
	f := newFixture(t,
		&fakeHistory{err: errors.New("history API down")},
		&fakePosition{coord: tokyo, fix: true},
		geo,
	)

	f.engine.RunOnce(context.Background())

	snap := f.ledger.Snapshot(alice)
	assert.Equal(t, "JP", snap.Current)
	assert.Equal(t, []string{"JP"}, snap.Visited)
}

func TestCheckReadiness(t *testing.T) {
	f := newFixture(t, &fakeHistory{}, &fakePosition{}, worldGeocoder())

	require.Error(t, f.engine.CheckReadiness(context.Background()))
	f.engine.RunOnce(context.Background())
	assert.NoError(t, f.engine.CheckReadiness(context.Background()))
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture(t, &fakeHistory{coords: []domain.Coordinate{nyc}}, &fakePosition{}, worldGeocoder())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.engine.Run(ctx) }()

	// Let the initial pass finish, then cancel.
	require.Eventually(t, func() bool {
		return f.engine.CheckReadiness(context.Background()) == nil
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop after cancellation")
	}
}
