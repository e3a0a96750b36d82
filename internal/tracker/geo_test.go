package tracker

import (
	"math"
	"testing"
)

func TestHaversine_OneDegreeLongitudeAtEquator(t *testing.T) {
	got := Haversine(0, 0, 0, 1)

	// One degree of longitude at the equator is about 111.19 km
	if math.Abs(got-111.19) > 0.1 {
		t.Errorf("Expected ~111.19 km, got %f", got)
	}
}

func TestHaversine_SamePoint(t *testing.T) {
	got := Haversine(51.5, -0.1, 51.5, -0.1)
	if got != 0 {
		t.Errorf("Expected 0 km for identical points, got %f", got)
	}
}

func TestHaversine_Symmetric(t *testing.T) {
	a := Haversine(40.6413, -73.7781, 51.4700, -0.4543)
	b := Haversine(51.4700, -0.4543, 40.6413, -73.7781)

	if math.Abs(a-b) > 1e-9 {
		t.Errorf("Expected symmetric distance, got %f and %f", a, b)
	}

	// JFK to Heathrow is roughly 5540 km
	if a < 5400 || a > 5700 {
		t.Errorf("Expected ~5540 km, got %f", a)
	}
}
