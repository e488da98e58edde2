package history

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/visited-countries/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const historyBody = `[[
	{"entity_id":"person.alice","state":"home","attributes":{"latitude":40.7128,"longitude":-74.0060},"last_changed":"2026-08-01T10:00:00Z"},
	{"entity_id":"person.alice","state":"not_home","attributes":{},"last_changed":"2026-08-01T11:00:00Z"},
	{"entity_id":"person.alice","state":"zone.office","attributes":{},"last_changed":"2026-08-01T12:00:00Z"},
	{"entity_id":"person.alice","state":"not_home","attributes":{"latitude":48.8566,"longitude":2.3522},"last_changed":"2026-08-02T09:00:00Z"}
]]`

func TestSamples_ExtractsCoordinatesAndZones(t *testing.T) {
	var zoneFetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer llat-secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.URL.Path == "/api/states/zone.office":
			zoneFetches.Add(1)
			_, _ = w.Write([]byte(`{"entity_id":"zone.office","state":"zoning","attributes":{"latitude":51.5074,"longitude":-0.1278}}`))
		default:
			assert.Contains(t, r.URL.Path, "/api/history/period/")
			assert.Equal(t, "person.alice", r.URL.Query().Get("filter_entity_id"))
			_, _ = w.Write([]byte(historyBody))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "llat-secret", 5*time.Second, testLogger())
	since := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	coords, err := c.Samples(context.Background(), "person.alice", since)
	require.NoError(t, err)

	assert.Equal(t, []domain.Coordinate{
		{Lat: 40.7128, Lon: -74.0060},
		{Lat: 51.5074, Lon: -0.1278},
		{Lat: 48.8566, Lon: 2.3522},
	}, coords)
	assert.Equal(t, int32(1), zoneFetches.Load())
}

func TestSamples_ZoneMemoized(t *testing.T) {
	var zoneFetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/api/states/zone.office" {
			zoneFetches.Add(1)
			_, _ = w.Write([]byte(`{"entity_id":"zone.office","state":"zoning","attributes":{"latitude":51.5074,"longitude":-0.1278}}`))
			return
		}
		_, _ = w.Write([]byte(historyBody))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "llat-secret", 5*time.Second, testLogger())
	since := time.Now().Add(-24 * time.Hour)

	_, err := c.Samples(context.Background(), "person.alice", since)
	require.NoError(t, err)
	_, err = c.Samples(context.Background(), "person.alice", since)
	require.NoError(t, err)

	assert.Equal(t, int32(1), zoneFetches.Load(), "zone position should be fetched once")
}

func TestSamples_ZoneWithoutCoordinatesSkipped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/api/states/zone.office" {
			_, _ = w.Write([]byte(`{"entity_id":"zone.office","state":"zoning","attributes":{}}`))
			return
		}
		_, _ = w.Write([]byte(`[[{"entity_id":"person.alice","state":"zone.office","attributes":{}}]]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "llat-secret", 5*time.Second, testLogger())

	coords, err := c.Samples(context.Background(), "person.alice", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, coords)
}

func TestSamples_AuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("401: Unauthorized"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "bad-token", 5*time.Second, testLogger())

	_, err := c.Samples(context.Background(), "person.alice", time.Now().Add(-time.Hour))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestCurrentPosition_WithFix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/states/person.alice", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"entity_id":"person.alice","state":"not_home","attributes":{"latitude":35.6762,"longitude":139.6503}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "llat-secret", 5*time.Second, testLogger())
	coord, ok, err := c.CurrentPosition(context.Background(), "person.alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.Coordinate{Lat: 35.6762, Lon: 139.6503}, coord)
}

func TestCurrentPosition_WithoutFix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"entity_id":"person.alice","state":"home","attributes":{}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "llat-secret", 5*time.Second, testLogger())
	_, ok, err := c.CurrentPosition(context.Background(), "person.alice")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHistoryAuthorized(t *testing.T) {
	assert.True(t, NewClient("http://host", "token", time.Second, testLogger()).HistoryAuthorized())
	assert.False(t, NewClient("http://host", "", time.Second, testLogger()).HistoryAuthorized())
}
