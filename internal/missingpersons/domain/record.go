// Package domain holds the missing-person map model: records as delivered by
// the portal API, location clusters, the visibility filter cascade and list
// pagination. Everything here is pure and safe to call from any goroutine.
package domain

import (
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// MissingPersonRecord is a missing-person report as owned by the portal API.
// It is treated as read-only.
type MissingPersonRecord struct {
	ID                  int64     `json:"id"`
	FullName            string    `json:"full_name"`
	LastSeenLocation    string    `json:"last_seen_location"`
	State               string    `json:"state"`
	District            string    `json:"district"`
	EventType           string    `json:"event_type"`
	IsFound             bool      `json:"is_found"`
	CreatedAt           time.Time `json:"created_at"`
	PhotoURL            string    `json:"photo,omitempty"`
	Description         string    `json:"description,omitempty"`
	IdentificationMarks string    `json:"identification_marks,omitempty"`
	ContactNumber       string    `json:"contact_number,omitempty"`
	AgencyID            *int64    `json:"agency,omitempty"`
}

// PersonSummary is the per-marker view of a record.
type PersonSummary struct {
	ID               int64     `json:"id"`
	FullName         string    `json:"fullName"`
	LastSeenLocation string    `json:"lastSeenLocation"`
	State            string    `json:"state"`
	District         string    `json:"district"`
	EventType        string    `json:"eventType"`
	PhotoURL         string    `json:"photoUrl,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Summary projects the record onto its marker summary.
func (r MissingPersonRecord) Summary() PersonSummary {
	return PersonSummary{
		ID:               r.ID,
		FullName:         r.FullName,
		LastSeenLocation: r.LastSeenLocation,
		State:            r.State,
		District:         r.District,
		EventType:        r.EventType,
		PhotoURL:         r.PhotoURL,
		CreatedAt:        r.CreatedAt,
	}
}

// AgencyProfile is the subset of an agency record that seeds the filter.
type AgencyProfile struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	State    string `json:"state"`
	District string `json:"district"`
}

// Coordinate is a resolved geographic position in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Key renders the exact coordinate pair. Two coordinates share a key only
// when both components are bit-for-bit equal after shortest formatting.
func (c Coordinate) Key() string {
	return strconv.FormatFloat(c.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(c.Lon, 'f', -1, 64)
}

// Fold case-folds s after trimming it and collapsing inner whitespace.
// It is the single normalisation used for geocode dedupe, state/district
// matching and search.
func Fold(s string) string {
	collapsed := strings.Join(strings.Fields(s), " ")
	if collapsed == "" {
		return ""
	}
	return cases.Fold().String(collapsed)
}

// SameName reports whether a and b are equal after Fold.
func SameName(a, b string) bool {
	return Fold(a) == Fold(b)
}

// DistinctLocations returns each record's raw location text once, in first
// appearance order. Texts that only differ by case or spacing are kept
// separately here; the resolver collapses them.
func DistinctLocations(records []MissingPersonRecord) []string {
	seen := make(map[string]struct{}, len(records))
	out := make([]string, 0, len(records))
	for _, r := range records {
		if _, ok := seen[r.LastSeenLocation]; ok {
			continue
		}
		seen[r.LastSeenLocation] = struct{}{}
		out = append(out, r.LastSeenLocation)
	}
	return out
}

// MatchesSearch reports whether the record's name or last-seen text contains
// query (folded). An empty query matches everything.
func MatchesSearch(r MissingPersonRecord, query string) bool {
	q := Fold(query)
	if q == "" {
		return true
	}
	return strings.Contains(Fold(r.FullName), q) || strings.Contains(Fold(r.LastSeenLocation), q)
}
