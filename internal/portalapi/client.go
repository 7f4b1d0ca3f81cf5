// Package portalapi is the client for the portal's REST API, which owns the
// missing-person and agency records.
package portalapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"relief_portal_backend/internal/missingpersons/domain"
	"relief_portal_backend/platform/config"
	"relief_portal_backend/platform/logger"
	"relief_portal_backend/platform/metrics"
	"relief_portal_backend/platform/phone"
	"relief_portal_backend/platform/sanitize"
)

var (
	// ErrFetchFailed wraps every transport or upstream failure.
	ErrFetchFailed = errors.New("portalapi: fetch failed")
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("portalapi: not found")
)

const (
	maxBodyBytes = 16 << 20
	// maxPages bounds how many "next" links a list fetch follows.
	maxPages = 200
)

// Client reads records from the portal API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	log        *logger.Logger
}

// New creates a client for baseURL. An empty token sends no Authorization
// header.
func New(baseURL, token string, timeout time.Duration, log *logger.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		log:        log,
	}
}

// NewFromConfig creates a client from application config.
func NewFromConfig(cfg config.PortalAPIConfig, log *logger.Logger) *Client {
	return New(cfg.GetPortalAPIURL(), cfg.GetPortalAPIToken(), cfg.GetPortalAPITimeout(), log)
}

// ListMissingPersons fetches every missing-person record, following the
// "next" links of a paginated response until they run out.
func (c *Client) ListMissingPersons(ctx context.Context) ([]domain.MissingPersonRecord, error) {
	const resource = "missing_persons"

	var records []domain.MissingPersonRecord
	pageURL := c.baseURL + "/missing-persons/"
	for page := 1; pageURL != ""; page++ {
		if page > maxPages {
			return nil, c.fail(resource, fmt.Errorf("more than %d pages", maxPages))
		}

		body, err := c.fetch(ctx, resource, pageURL)
		if err != nil {
			return nil, err
		}
		items, next, err := decodeList[domain.MissingPersonRecord](body)
		if err != nil {
			return nil, c.fail(resource, fmt.Errorf("decode list page %d: %w", page, err))
		}
		records = append(records, items...)

		if pageURL, err = resolveNext(pageURL, next); err != nil {
			return nil, c.fail(resource, err)
		}
	}

	for i := range records {
		clean(&records[i])
	}
	return records, nil
}

// GetMissingPerson fetches one record with its detail fields.
func (c *Client) GetMissingPerson(ctx context.Context, id int64) (domain.MissingPersonRecord, error) {
	body, err := c.get(ctx, "missing_person", "/missing-persons/"+strconv.FormatInt(id, 10)+"/")
	if err != nil {
		return domain.MissingPersonRecord{}, err
	}

	var record domain.MissingPersonRecord
	if err := json.Unmarshal(body, &record); err != nil {
		return domain.MissingPersonRecord{}, c.fail("missing_person", fmt.Errorf("decode detail: %w", err))
	}
	clean(&record)
	return record, nil
}

// GetAgencyProfile fetches the agency that seeds the dashboard filter.
func (c *Client) GetAgencyProfile(ctx context.Context, id int64) (domain.AgencyProfile, error) {
	body, err := c.get(ctx, "agency_profile", "/agency-profiles/"+strconv.FormatInt(id, 10)+"/")
	if err != nil {
		return domain.AgencyProfile{}, err
	}

	var agency domain.AgencyProfile
	if err := json.Unmarshal(body, &agency); err != nil {
		return domain.AgencyProfile{}, c.fail("agency_profile", fmt.Errorf("decode agency: %w", err))
	}
	return agency, nil
}

func (c *Client) get(ctx context.Context, resource, path string) ([]byte, error) {
	return c.fetch(ctx, resource, c.baseURL+path)
}

func (c *Client) fetch(ctx context.Context, resource, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, c.fail(resource, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Token "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.fail(resource, fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		c.log.Debug("portal api record not found", "url", rawURL)
		return nil, ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, c.fail(resource, fmt.Errorf("upstream error: status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, c.fail(resource, fmt.Errorf("read body: %w", err))
	}
	return body, nil
}

func (c *Client) fail(resource string, err error) error {
	metrics.UpstreamFetchFailuresTotal.WithLabelValues(resource).Inc()
	c.log.UpstreamError("portal_api", resource, err)
	return fmt.Errorf("%w: %s: %w", ErrFetchFailed, resource, err)
}

// clean strips markup from the publicly reported free text and puts the
// contact number into E.164.
func clean(r *domain.MissingPersonRecord) {
	sanitize.Fields(&r.FullName, &r.LastSeenLocation, &r.State, &r.District, &r.Description, &r.IdentificationMarks)
	r.ContactNumber = phone.NormalizeE164(r.ContactNumber, phone.DefaultRegion)
}

// decodeList accepts both a bare array and a paginated
// {"results": [...], "next": ...} envelope. next is empty on the last page.
func decodeList[T any](body []byte) (items []T, next string, err error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var page struct {
			Results []T     `json:"results"`
			Next    *string `json:"next"`
		}
		if err := json.Unmarshal(trimmed, &page); err != nil {
			return nil, "", err
		}
		if page.Next != nil {
			next = *page.Next
		}
		return page.Results, next, nil
	}

	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, "", err
	}
	return items, "", nil
}

// resolveNext resolves a possibly relative next link against the page it
// came from.
func resolveNext(current, next string) (string, error) {
	if next == "" {
		return "", nil
	}
	base, err := url.Parse(current)
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}
	ref, err := url.Parse(next)
	if err != nil {
		return "", fmt.Errorf("parse next link %q: %w", next, err)
	}
	resolved := base.ResolveReference(ref).String()
	if resolved == current {
		return "", fmt.Errorf("next link %q points at the current page", next)
	}
	return resolved, nil
}
