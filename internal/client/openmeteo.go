package client

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/kjstillabower/weather-aggregation-service/internal/models"
)

// OpenMeteoName is the provider name used in config, metrics and errors.
const OpenMeteoName = "openmeteo"

// DefaultOpenMeteoURL is the public Open-Meteo API base.
const DefaultOpenMeteoURL = "https://api.open-meteo.com/v1"

// OpenMeteo fetches from the keyless Open-Meteo API. Its daily buckets are
// already local to the location (timezone=auto).
type OpenMeteo struct {
	baseURL    string
	transport  *transport
	conditions *ConditionTable
}

// NewOpenMeteo returns an Open-Meteo provider. An empty baseURL uses the public API.
func NewOpenMeteo(baseURL string, cfg HTTPConfig) *OpenMeteo {
	if baseURL == "" {
		baseURL = DefaultOpenMeteoURL
	}
	return &OpenMeteo{
		baseURL:    strings.TrimRight(baseURL, "/"),
		transport:  newTransport(OpenMeteoName, cfg),
		conditions: WMOConditions(),
	}
}

func (c *OpenMeteo) Name() string { return OpenMeteoName }

type openMeteoCurrentResponse struct {
	Current *struct {
		Temperature float64 `json:"temperature_2m"`
		Humidity    float64 `json:"relative_humidity_2m"`
		WeatherCode int     `json:"weather_code"`
	} `json:"current"`
}

type openMeteoDailyResponse struct {
	Daily *struct {
		Time          []string  `json:"time"`
		MaxTemp       []float64 `json:"temperature_2m_max"`
		MinTemp       []float64 `json:"temperature_2m_min"`
		Precipitation []float64 `json:"precipitation_sum"`
		WeatherCode   []int     `json:"weather_code"`
	} `json:"daily"`
}

func (c *OpenMeteo) FetchCurrent(ctx context.Context, lat, lon float64) (models.CurrentWeather, error) {
	params := c.coordParams(lat, lon)
	params.Set("current", "temperature_2m,relative_humidity_2m,weather_code")

	var resp openMeteoCurrentResponse
	if err := c.transport.getJSON(ctx, c.baseURL+"/forecast", params, &resp); err != nil {
		return models.CurrentWeather{}, err
	}
	if resp.Current == nil {
		return models.CurrentWeather{}, fmt.Errorf("%s: %w: missing current block", OpenMeteoName, ErrMalformedResponse)
	}

	return models.CurrentWeather{
		Temperature: resp.Current.Temperature,
		Humidity:    resp.Current.Humidity,
		Conditions:  c.conditions.Describe(resp.Current.WeatherCode),
	}, nil
}

func (c *OpenMeteo) FetchForecast(ctx context.Context, lat, lon float64, days int) (models.Forecast, error) {
	params := c.coordParams(lat, lon)
	params.Set("daily", "temperature_2m_max,temperature_2m_min,precipitation_sum,weather_code")
	params.Set("forecast_days", strconv.Itoa(days))

	var resp openMeteoDailyResponse
	if err := c.transport.getJSON(ctx, c.baseURL+"/forecast", params, &resp); err != nil {
		return models.Forecast{}, err
	}
	d := resp.Daily
	if d == nil {
		return models.Forecast{}, fmt.Errorf("%s: %w: missing daily block", OpenMeteoName, ErrMalformedResponse)
	}
	n := len(d.Time)
	if len(d.MaxTemp) != n || len(d.MinTemp) != n || len(d.Precipitation) != n || len(d.WeatherCode) != n {
		return models.Forecast{}, fmt.Errorf("%s: %w: daily arrays have mismatched lengths", OpenMeteoName, ErrMalformedResponse)
	}
	if n > days {
		n = days
	}

	out := models.Forecast{Days: make([]models.DailyForecast, 0, n)}
	for i := 0; i < n; i++ {
		out.Days = append(out.Days, models.DailyForecast{
			Date:          d.Time[i],
			MaxTemp:       d.MaxTemp[i],
			MinTemp:       d.MinTemp[i],
			Precipitation: d.Precipitation[i],
			Conditions:    c.conditions.Describe(d.WeatherCode[i]),
		})
	}
	return out, nil
}

func (c *OpenMeteo) coordParams(lat, lon float64) url.Values {
	params := url.Values{}
	params.Set("latitude", formatCoord(lat))
	params.Set("longitude", formatCoord(lon))
	params.Set("timezone", "auto")
	return params
}
