package geoipx

import "testing"

func TestRegionForCoords(t *testing.T) {
	tests := []struct {
		lat, lon float64
		want     string
	}{
		{40.7, -74.0, "US East"},    // New York
		{34.0, -118.2, "US West"},   // Los Angeles
		{50.2, -66.4, "CA East"},    // Sept-Îles, Quebec (the Canada box starts at 49°N)
		{51.5, -0.1, "EU West"},     // London
		{41.0, 29.0, "EU South"},    // Istanbul fringe (lat < 45)
		{-33.9, 151.2, "AUS"},       // Sydney
		{0, -25, ""},                // middle of the Atlantic, no box matches
	}
	for _, tc := range tests {
		if got := regionForCoords(tc.lat, tc.lon); got != tc.want {
			t.Errorf("regionForCoords(%v, %v) = %q, want %q", tc.lat, tc.lon, got, tc.want)
		}
	}
}
