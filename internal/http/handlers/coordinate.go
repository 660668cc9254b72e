package handlers

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Oxyrus/pinphotos/internal/storage"
)

var errInvalidCoordinate = errors.New("invalid coordinate")

// coordinateFromQuery reads lat and lon. The values are parsed, not rounded,
// so the same text always maps to the same pin.
func coordinateFromQuery(c *gin.Context) (storage.Coordinate, error) {
	lat, err := parseComponent(c.Query("lat"))
	if err != nil {
		return storage.Coordinate{}, fmt.Errorf("%w: lat: %v", errInvalidCoordinate, err)
	}
	lon, err := parseComponent(c.Query("lon"))
	if err != nil {
		return storage.Coordinate{}, fmt.Errorf("%w: lon: %v", errInvalidCoordinate, err)
	}

	at := storage.Coordinate{Latitude: lat, Longitude: lon}
	if err := validateCoordinate(at); err != nil {
		return storage.Coordinate{}, err
	}
	return at, nil
}

func parseComponent(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errors.New("missing")
	}
	return strconv.ParseFloat(raw, 64)
}

func validateCoordinate(at storage.Coordinate) error {
	if math.IsNaN(at.Latitude) || at.Latitude < -90 || at.Latitude > 90 {
		return fmt.Errorf("%w: latitude out of range", errInvalidCoordinate)
	}
	if math.IsNaN(at.Longitude) || at.Longitude < -180 || at.Longitude > 180 {
		return fmt.Errorf("%w: longitude out of range", errInvalidCoordinate)
	}
	return nil
}

func coordinateQuery(at storage.Coordinate) string {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(at.Latitude, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(at.Longitude, 'f', -1, 64))
	return q.Encode()
}
