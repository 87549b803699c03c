package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistanceIdentity(t *testing.T) {
	assert.Zero(t, Distance(0, 0, 0, 0))
	assert.Zero(t, Distance(-23.5505, -46.6333, -23.5505, -46.6333))
}

func TestDistanceSymmetry(t *testing.T) {
	cases := [][4]float64{
		{0, 0, 0, 1},
		{-23.5505, -46.6333, -22.9068, -43.1729},
		{51.5074, -0.1278, 40.7128, -74.0060},
		{-89.9, 170, 89.9, -170},
	}

	for _, c := range cases {
		ab := Distance(c[0], c[1], c[2], c[3])
		ba := Distance(c[2], c[3], c[0], c[1])
		assert.InDelta(t, ab, ba, 1e-6)
		assert.GreaterOrEqual(t, ab, 0.0)
	}
}

func TestDistanceSaoPauloToRio(t *testing.T) {
	// Great-circle distance between the two city centers on the 6371 km
	// sphere.
	d := Distance(-23.5505, -46.6333, -22.9068, -43.1729)
	require.InDelta(t, 360730, d, 500)
}

func TestDistanceOneDegreeAtEquator(t *testing.T) {
	// One degree of longitude on the equator spans roughly 111.19 km.
	d := Distance(0, 0, 0, 1)
	require.InDelta(t, 111195, d, 50)
}

func TestDistanceShortRange(t *testing.T) {
	// 0.003 degrees of longitude at the equator is well inside a 500 m
	// radius.
	d := Distance(0, 0, 0, 0.003)
	require.InDelta(t, 334, d, 5)
}
