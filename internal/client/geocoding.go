package client

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-aggregation-service/internal/models"
	"github.com/kjstillabower/weather-aggregation-service/internal/observability"
)

// DefaultGeocodingURL is the public OpenWeatherMap geocoding API base.
const DefaultGeocodingURL = "https://api.openweathermap.org/geo/1.0"

const geocodingName = "geocoding"

// Geocoder resolves free-text place names to candidate locations.
type Geocoder interface {
	Search(ctx context.Context, query string) []models.Location
}

// OpenWeatherGeocoder resolves names with the OpenWeatherMap direct geocoding API.
// Upstream errors are reported as an empty result; they are logged and counted.
type OpenWeatherGeocoder struct {
	apiKey    string
	baseURL   string
	limit     int
	transport *transport
	logger    *zap.Logger
}

// NewOpenWeatherGeocoder returns a geocoder. limit <= 0 uses 10.
func NewOpenWeatherGeocoder(apiKey, baseURL string, limit int, cfg HTTPConfig, logger *zap.Logger) (*OpenWeatherGeocoder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if baseURL == "" {
		baseURL = DefaultGeocodingURL
	}
	if limit <= 0 {
		limit = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenWeatherGeocoder{
		apiKey:    apiKey,
		baseURL:   strings.TrimRight(baseURL, "/"),
		limit:     limit,
		transport: newTransport(geocodingName, cfg),
		logger:    logger,
	}, nil
}

type geocodingEntry struct {
	Name    string  `json:"name"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Country string  `json:"country"`
	State   string  `json:"state"`
}

func (g *OpenWeatherGeocoder) Search(ctx context.Context, query string) []models.Location {
	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", strconv.Itoa(g.limit))
	params.Set("appid", g.apiKey)

	var entries []geocodingEntry
	if err := g.transport.getJSON(ctx, g.baseURL+"/direct", params, &entries); err != nil {
		observability.GeocodingRequestsTotal.WithLabelValues("error").Inc()
		logger := observability.LoggerFromContext(ctx)
		if logger == nil {
			logger = g.logger
		}
		logger.Warn("geocoding failed; reporting no matches",
			zap.String("query", query),
			zap.String("category", string(CategorizeError(err))),
			zap.Error(err),
		)
		return []models.Location{}
	}

	if len(entries) == 0 {
		observability.GeocodingRequestsTotal.WithLabelValues("empty").Inc()
	} else {
		observability.GeocodingRequestsTotal.WithLabelValues("success").Inc()
	}

	out := make([]models.Location, 0, len(entries))
	for _, e := range entries {
		out = append(out, models.Location{
			Name:      e.Name,
			Latitude:  e.Lat,
			Longitude: e.Lon,
			Country:   e.Country,
			State:     e.State,
		})
	}
	return out
}
