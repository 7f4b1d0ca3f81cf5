// Package geocode resolves free-text "last seen" locations to coordinates.
//
// A Geocoder performs one lookup. Resolver fans a batch of strings out to a
// Geocoder, collapsing identical (normalised) strings into one lookup and
// isolating per-string failures.
package geocode

import (
	"context"
	"errors"

	"relief_portal_backend/internal/missingpersons/domain"
)

var (
	// ErrEmptyQuery is recorded for blank input; it never reaches the network.
	ErrEmptyQuery = errors.New("geocode: empty query")
	// ErrNoMatch means the geocoder answered but found nothing.
	ErrNoMatch = errors.New("geocode: no match")
)

// Geocoder resolves a single query.
type Geocoder interface {
	Lookup(ctx context.Context, query string) (domain.Coordinate, error)
}

// GeocoderFunc adapts a function to Geocoder.
type GeocoderFunc func(ctx context.Context, query string) (domain.Coordinate, error)

// Lookup calls f.
func (f GeocoderFunc) Lookup(ctx context.Context, query string) (domain.Coordinate, error) {
	return f(ctx, query)
}

// Normalize is the dedupe key of a query: trimmed, whitespace-collapsed,
// case-folded.
func Normalize(query string) string {
	return domain.Fold(query)
}

func validCoordinate(c domain.Coordinate) bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}
