package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"relief_portal_backend/internal/missingpersons/domain"
	"relief_portal_backend/platform/logger"

	"golang.org/x/time/rate"
)

const defaultNominatimURL = "https://nominatim.openstreetmap.org/search"

// NominatimClient queries an OSM Nominatim-compatible search endpoint.
type NominatimClient struct {
	client       *http.Client
	baseURL      string
	userAgent    string
	countryCodes string
	limiter      *rate.Limiter
	log          *logger.Logger
}

// NominatimOptions configures NominatimClient. Zero values pick defaults;
// RatePerSecond <= 0 disables throttling.
type NominatimOptions struct {
	BaseURL       string
	UserAgent     string
	CountryCodes  string
	RatePerSecond float64
	HTTPClient    *http.Client
}

// NewNominatimClient creates a client.
func NewNominatimClient(opts NominatimOptions, log *logger.Logger) *NominatimClient {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultNominatimURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "ReliefPortal/1.0"
	}
	if opts.HTTPClient == nil {
		// Per-lookup deadlines come from the resolver's context.
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
	}

	return &NominatimClient{
		client:       opts.HTTPClient,
		baseURL:      opts.BaseURL,
		userAgent:    opts.UserAgent,
		countryCodes: opts.CountryCodes,
		limiter:      limiter,
		log:          log,
	}
}

// Lookup returns the first match for query.
func (n *NominatimClient) Lookup(ctx context.Context, query string) (domain.Coordinate, error) {
	if strings.TrimSpace(query) == "" {
		return domain.Coordinate{}, ErrEmptyQuery
	}

	if err := n.limiter.Wait(ctx); err != nil {
		return domain.Coordinate{}, err
	}

	params := url.Values{}
	params.Add("q", query)
	params.Add("format", "json")
	params.Add("limit", "1")
	if n.countryCodes != "" {
		params.Add("countrycodes", n.countryCodes)
	}

	reqURL := fmt.Sprintf("%s?%s", n.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return domain.Coordinate{}, err
	}
	req.Header.Set("User-Agent", n.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.log.Error("nominatim request failed", "error", err)
		return domain.Coordinate{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		n.log.Error("nominatim upstream error", "status", resp.StatusCode)
		return domain.Coordinate{}, fmt.Errorf("upstream api error: %d", resp.StatusCode)
	}

	var results []nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		n.log.Error("failed to decode nominatim payload", "error", err)
		return domain.Coordinate{}, err
	}

	if len(results) == 0 {
		return domain.Coordinate{}, ErrNoMatch
	}

	return results[0].coordinate()
}

// nominatimResponse mirrors the relevant parts of the OSM search payload.
type nominatimResponse struct {
	DisplayName string `json:"display_name"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
}

func (r nominatimResponse) coordinate() (domain.Coordinate, error) {
	lat, err := strconv.ParseFloat(r.Lat, 64)
	if err != nil {
		return domain.Coordinate{}, fmt.Errorf("invalid latitude %q: %w", r.Lat, err)
	}
	lon, err := strconv.ParseFloat(r.Lon, 64)
	if err != nil {
		return domain.Coordinate{}, fmt.Errorf("invalid longitude %q: %w", r.Lon, err)
	}
	c := domain.Coordinate{Lat: lat, Lon: lon}
	if !validCoordinate(c) {
		return domain.Coordinate{}, fmt.Errorf("coordinate out of range: %s", c.Key())
	}
	return c, nil
}
