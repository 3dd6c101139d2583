package domain

import (
	"math"
	"testing"
)

func TestValidCoordinatesBoundaries(t *testing.T) {
	testCases := []struct {
		lat, lng float64
		want     bool
	}{
		{0, 0, true},
		{90, 180, true},
		{-90, -180, true},
		{90.0001, 0, false},
		{-90.0001, 0, false},
		{0, 180.0001, false},
		{0, -180.0001, false},
	}
	for _, tc := range testCases {
		if got := ValidCoordinates(tc.lat, tc.lng); got != tc.want {
			t.Errorf("ValidCoordinates(%v, %v) = %v, want %v", tc.lat, tc.lng, got, tc.want)
		}
	}
}

func TestDistanceKm(t *testing.T) {
	if d := DistanceKm(40.7128, -74.0060, 40.7128, -74.0060); d != 0 {
		t.Fatalf("expected zero distance to self, got %v", d)
	}
	// New York to Philadelphia is roughly 130 km.
	d := DistanceKm(40.7128, -74.0060, 39.9526, -75.1652)
	if math.Abs(d-130) > 10 {
		t.Fatalf("expected roughly 130 km, got %v", d)
	}
}
