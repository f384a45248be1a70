package mapbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/couchcryptid/location-geocoder/internal/domain"
	"github.com/couchcryptid/location-geocoder/internal/observability"
)

const defaultBaseURL = "https://api.mapbox.com/geocoding/v5/mapbox.places"

// Client implements domain.Geocoder using the Mapbox Geocoding API.
type Client struct {
	token      string
	httpClient *http.Client
	baseURL    string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a Mapbox geocoding client.
func NewClient(token string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		token: token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: defaultBaseURL,
		metrics: metrics,
		logger:  logger,
	}
}

// Available reports whether the client has credentials to call the API.
func (c *Client) Available() bool {
	return c.token != ""
}

// ReverseGeocode converts coordinates to up to limit address candidates.
func (c *Client) ReverseGeocode(ctx context.Context, lat, lon float64, limit int) ([]domain.Address, error) {
	if limit < 1 {
		limit = 1
	}

	// Mapbox uses lon,lat order.
	u := fmt.Sprintf("%s/%.6f,%.6f.json", c.baseURL, lon, lat)
	params := url.Values{
		"access_token": {c.token},
		"limit":        {strconv.Itoa(limit)},
	}
	// Mapbox only honors limit > 1 for reverse queries restricted to one type.
	if limit > 1 {
		params.Set("types", "address")
	}

	start := time.Now()
	features, err := c.doRequest(ctx, u+"?"+params.Encode())
	c.metrics.GeocodeAPIDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.GeocodeRequests.WithLabelValues("error").Inc()
		return nil, err
	}
	if len(features) == 0 {
		c.metrics.GeocodeRequests.WithLabelValues("empty").Inc()
		return []domain.Address{}, nil
	}
	c.metrics.GeocodeRequests.WithLabelValues("success").Inc()

	out := make([]domain.Address, 0, len(features))
	for _, f := range features {
		out = append(out, f.toAddress())
	}
	return out, nil
}

func (c *Client) doRequest(ctx context.Context, fullURL string) ([]feature, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reverse geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.logger.Warn("mapbox API error", "status", resp.StatusCode)
		return nil, fmt.Errorf("mapbox API error: status %d: %s", resp.StatusCode, body)
	}

	var mapboxResp response
	if err := json.NewDecoder(resp.Body).Decode(&mapboxResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return mapboxResp.Features, nil
}

// Mapbox API response types.

type response struct {
	Features []feature `json:"features"`
}

type feature struct {
	Center    []float64 `json:"center"` // [lon, lat]
	PlaceName string    `json:"place_name"`
	Text      string    `json:"text"`
	Relevance float64   `json:"relevance"`
}

// toAddress maps a feature to a candidate. The full place_name is the
// formatted first line; an empty place_name leaves the candidate without one.
func (f feature) toAddress() domain.Address {
	a := domain.Address{
		PlaceName: f.Text,
		Relevance: f.Relevance,
	}
	if f.PlaceName != "" {
		a.Lines = []string{f.PlaceName}
	}
	if len(f.Center) == 2 {
		a.Lon = f.Center[0]
		a.Lat = f.Center[1]
	}
	return a
}
