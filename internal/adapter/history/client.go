// Package history reads a person's location trail from the hosting
// application's REST API: historical states, zone-entry transitions, and the
// present position.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/couchcryptid/visited-countries/internal/domain"
)

// Client talks to the host's state and state-history endpoints. History
// queries require the bearer token; construction without one leaves the
// history pass disabled while the current-position path keeps working.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	logger     *slog.Logger

	mu    sync.Mutex
	zones map[string]*domain.Coordinate // memoized zone positions; nil = zone has none
}

// NewClient creates a host API client.
func NewClient(baseURL, token string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		logger:     logger,
		zones:      make(map[string]*domain.Coordinate),
	}
}

// HistoryAuthorized reports whether historical queries can be made.
func (c *Client) HistoryAuthorized() bool {
	return c.token != ""
}

// Samples returns every coordinate observed for the person since the given
// time: GPS fixes carried on historical states, plus the positions of zones
// the person entered. States without either are skipped.
func (c *Client) Samples(ctx context.Context, person string, since time.Time) ([]domain.Coordinate, error) {
	endpoint := fmt.Sprintf("%s/api/history/period/%s?filter_entity_id=%s",
		c.baseURL, since.UTC().Format(time.RFC3339), url.QueryEscape(person))

	var periods [][]stateObject
	if err := c.getJSON(ctx, endpoint, &periods); err != nil {
		return nil, fmt.Errorf("fetch history for %s: %w", person, err)
	}

	var coords []domain.Coordinate
	for _, states := range periods {
		for _, st := range states {
			if coord, ok := st.coordinate(); ok {
				coords = append(coords, coord)
			}
			if strings.HasPrefix(st.State, "zone.") {
				if coord, ok := c.zoneCoordinate(ctx, st.State); ok {
					coords = append(coords, coord)
				}
			}
		}
	}
	return coords, nil
}

// CurrentPosition returns the person's present coordinate, or ok=false when
// the person's state carries no GPS fix.
func (c *Client) CurrentPosition(ctx context.Context, person string) (domain.Coordinate, bool, error) {
	var st stateObject
	if err := c.getJSON(ctx, c.baseURL+"/api/states/"+url.PathEscape(person), &st); err != nil {
		return domain.Coordinate{}, false, fmt.Errorf("fetch state for %s: %w", person, err)
	}
	coord, ok := st.coordinate()
	return coord, ok, nil
}

// zoneCoordinate resolves a zone entity to its position, memoizing answers.
// Zones rarely move, and histories mention the same zones over and over.
func (c *Client) zoneCoordinate(ctx context.Context, zone string) (domain.Coordinate, bool) {
	c.mu.Lock()
	cached, known := c.zones[zone]
	c.mu.Unlock()
	if known {
		if cached == nil {
			return domain.Coordinate{}, false
		}
		return *cached, true
	}

	var st stateObject
	if err := c.getJSON(ctx, c.baseURL+"/api/states/"+url.PathEscape(zone), &st); err != nil {
		// Not memoized: a transient fetch failure shouldn't blank the zone forever.
		c.logger.Debug("zone lookup failed", "zone", zone, "error", err)
		return domain.Coordinate{}, false
	}

	coord, ok := st.coordinate()
	c.mu.Lock()
	if ok {
		c.zones[zone] = &coord
	} else {
		c.zones[zone] = nil
	}
	c.mu.Unlock()
	return coord, ok
}

func (c *Client) getJSON(ctx context.Context, fullURL string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("host API error: status %d: %s", resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Host API response types. Latitude and longitude are pointers so "attribute
// absent" is distinguishable from zero.

type stateObject struct {
	EntityID   string `json:"entity_id"`
	State      string `json:"state"`
	Attributes struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	} `json:"attributes"`
	LastChanged time.Time `json:"last_changed"`
}

func (s stateObject) coordinate() (domain.Coordinate, bool) {
	if s.Attributes.Latitude == nil || s.Attributes.Longitude == nil {
		return domain.Coordinate{}, false
	}
	return domain.Coordinate{Lat: *s.Attributes.Latitude, Lon: *s.Attributes.Longitude}, true
}
