package geo

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDistanceKm(t *testing.T) {
	require.Zero(t, DistanceKm(12.93, 77.62, 12.93, 77.62))

	// Koramangala to Indiranagar, roughly 5 km.
	d := DistanceKm(12.9352, 77.6245, 12.9784, 77.6408)
	require.InDelta(t, 5.1, d, 0.3)

	// Symmetric.
	require.InDelta(t, d, DistanceKm(12.9784, 77.6408, 12.9352, 77.6245), 1e-9)
}

func TestWithin(t *testing.T) {
	require.True(t, Within(12.9352, 77.6245, 12.9784, 77.6408, 6))
	require.False(t, Within(12.9352, 77.6245, 12.9784, 77.6408, 4))
}

func TestValidCoordinates(t *testing.T) {
	require.True(t, ValidCoordinates(0, 0))
	require.False(t, ValidCoordinates(91, 0))
	require.False(t, ValidCoordinates(0, -181))
}
