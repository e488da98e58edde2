// Package nominatim implements domain.Geocoder against the Nominatim
// (OpenStreetMap) reverse-geocoding API.
package nominatim

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/couchcryptid/visited-countries/internal/domain"
)

// userAgent identifies the service per the Nominatim usage policy, which
// requires a descriptive agent alongside the 1 req/s limit the resolver's
// pacer enforces.
const userAgent = "visited-countries-tracker/1.0"

var _ domain.Geocoder = (*Client)(nil)

// Client is a Nominatim reverse-geocoding client.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// NewClient creates a Nominatim client. baseURL is normally the public
// instance; tests and self-hosted deployments point it elsewhere.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// CountryAt resolves the country containing the given point. A well-formed
// "nothing here" answer (open sea) returns Found=false with a nil error;
// transport problems, bad statuses, and malformed bodies return an error.
func (c *Client) CountryAt(ctx context.Context, lat, lon float64) (domain.CountryResult, error) {
	params := url.Values{
		"format":         {"jsonv2"},
		"lat":            {fmt.Sprintf("%.6f", lat)},
		"lon":            {fmt.Sprintf("%.6f", lon)},
		"zoom":           {"3"}, // country-level detail is all we need
		"addressdetails": {"1"},
	}
	fullURL := c.baseURL + "/reverse?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return domain.CountryResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.CountryResult{}, fmt.Errorf("reverse geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return domain.CountryResult{}, fmt.Errorf("nominatim API error: status %d: %s", resp.StatusCode, body)
	}

	var nr response
	if err := json.NewDecoder(resp.Body).Decode(&nr); err != nil {
		return domain.CountryResult{}, fmt.Errorf("decode response: %w", err)
	}

	// Nominatim reports "Unable to geocode" with status 200 for points
	// outside any mapped area. That's an answer, not a failure.
	if nr.Error != "" {
		c.logger.Debug("no country for point", "lat", lat, "lon", lon, "reason", nr.Error)
		return domain.CountryResult{}, nil
	}

	code := strings.ToUpper(nr.Address.CountryCode)
	if len(code) != 2 {
		c.logger.Debug("response without usable country code", "lat", lat, "lon", lon, "code", nr.Address.CountryCode)
		return domain.CountryResult{}, nil
	}

	name := nr.Address.Country
	if name == "" {
		name = domain.CountryName(code)
	}
	return domain.CountryResult{Code: code, Name: name, Found: true}, nil
}

// Nominatim API response types.

type response struct {
	Error   string  `json:"error"`
	Address address `json:"address"`
}

type address struct {
	Country     string `json:"country"`
	CountryCode string `json:"country_code"`
}
