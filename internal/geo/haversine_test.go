package geo

import (
	"context"
	"testing"

	"liftbook/internal/config"
	"liftbook/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func TestGreatCircleKm(t *testing.T) {
	// Paris -> London is roughly 344 km
	d := GreatCircleKm(48.8566, 2.3522, 51.5074, -0.1278)
	assert.InDelta(t, 344, d, 2)

	assert.Equal(t, 0.0, GreatCircleKm(10, 10, 10, 10))
}

func TestHaversineProvider(t *testing.T) {
	p := NewHaversineProvider(config.GeoConfig{RoadFactor: 1.3})
	ctx := context.Background()

	from := domain.Location{Address: "A", Lat: ptr(52.52), Lng: ptr(13.405)}
	to := domain.Location{Address: "B", Lat: ptr(52.40), Lng: ptr(13.05)}

	km, err := p.DistanceKm(ctx, from, to)
	require.NoError(t, err)
	assert.InDelta(t, GreatCircleKm(52.52, 13.405, 52.40, 13.05)*1.3, km, 0.01)
}

func TestHaversineProviderErrors(t *testing.T) {
	p := NewHaversineProvider(config.GeoConfig{})
	ctx := context.Background()
	ok := domain.Location{Lat: ptr(1), Lng: ptr(1)}

	_, err := p.DistanceKm(ctx, domain.Location{Address: "somewhere"}, ok)
	assert.ErrorIs(t, err, domain.ErrGeocoding)

	_, err = p.DistanceKm(ctx, ok, domain.Location{Lat: ptr(91), Lng: ptr(0)})
	assert.ErrorIs(t, err, domain.ErrGeocoding)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = p.DistanceKm(cancelled, ok, ok)
	assert.ErrorIs(t, err, context.Canceled)
}
