// Package geo estimates road distance between two job sites.
package geo

import (
	"context"
	"fmt"
	"math"

	"liftbook/internal/config"
	"liftbook/internal/domain"

	"github.com/shopspring/decimal"
)

const earthRadiusKm = 6371.0

// HaversineProvider multiplies the great-circle distance by a road factor.
// It needs coordinates on both ends and reports domain.ErrGeocoding otherwise.
type HaversineProvider struct {
	roadFactor float64
}

func NewHaversineProvider(cfg config.GeoConfig) *HaversineProvider {
	factor := cfg.RoadFactor
	if factor <= 0 {
		factor = 1
	}
	return &HaversineProvider{roadFactor: factor}
}

func (p *HaversineProvider) DistanceKm(ctx context.Context, from, to domain.Location) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := checkLocation("pickup", from); err != nil {
		return 0, err
	}
	if err := checkLocation("dropoff", to); err != nil {
		return 0, err
	}

	km := GreatCircleKm(*from.Lat, *from.Lng, *to.Lat, *to.Lng) * p.roadFactor
	// two decimals are enough for pricing per km
	return decimal.NewFromFloat(km).Round(2).InexactFloat64(), nil
}

func checkLocation(name string, loc domain.Location) error {
	if loc.Lat == nil || loc.Lng == nil {
		return fmt.Errorf("%s %q has no coordinates: %w", name, loc.Address, domain.ErrGeocoding)
	}
	if *loc.Lat < -90 || *loc.Lat > 90 || *loc.Lng < -180 || *loc.Lng > 180 {
		return fmt.Errorf("%s coordinates out of range: %w", name, domain.ErrGeocoding)
	}
	return nil
}

// GreatCircleKm returns the haversine distance in kilometres.
func GreatCircleKm(lat1, lng1, lat2, lng2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
