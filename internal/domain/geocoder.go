package domain

import "context"

// CountryResult is the answer to a reverse-geocoding query. Found is false
// when the point resolves to no country (open sea, unmapped area); that is
// an authoritative answer, not an error.
type CountryResult struct {
	Code  string // ISO 3166-1 alpha-2, uppercase
	Name  string // display name
	Found bool
}

// Geocoder resolves a coordinate to the country containing it.
type Geocoder interface {
	CountryAt(ctx context.Context, lat, lon float64) (CountryResult, error)
}
