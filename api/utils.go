package api

import (
	"errors"
	"strconv"

	"github.com/labstack/echo/v4"

	"dispatchd/domain"
)

const defaultQueryRadiusKm = 50

// geoQueryFrom builds an optional radius filter from lat/lng/radius query
// parameters. Both coordinates must be present for a filter to apply.
func geoQueryFrom(c echo.Context) (*domain.GeoQuery, error) {
	latStr := c.QueryParam("lat")
	lngStr := c.QueryParam("lng")
	if latStr == "" && lngStr == "" {
		return nil, nil
	}
	lat, latErr := strconv.ParseFloat(latStr, 64)
	lng, lngErr := strconv.ParseFloat(lngStr, 64)
	if latErr != nil || lngErr != nil || !domain.ValidCoordinates(lat, lng) {
		return nil, errors.New("invalid location")
	}
	radius := float64(defaultQueryRadiusKm)
	if raw := c.QueryParam("radius"); raw != "" {
		r, err := strconv.ParseFloat(raw, 64)
		if err != nil || r <= 0 {
			return nil, errors.New("invalid radius")
		}
		radius = r
	}
	return &domain.GeoQuery{Lat: lat, Lng: lng, RadiusKm: radius}, nil
}
