package client

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kjstillabower/weather-aggregation-service/internal/models"
)

// OpenWeatherMapName is the provider name used in config, metrics and errors.
const OpenWeatherMapName = "openweathermap"

// DefaultOpenWeatherMapURL is the public OpenWeatherMap data API base.
const DefaultOpenWeatherMapURL = "https://api.openweathermap.org/data/2.5"

// MaxForecastDays is the most days the 5 day / 3 hour forecast endpoint covers.
// Open-Meteo serves more, so this caps every forecast request.
const MaxForecastDays = 5

// OpenWeatherMap fetches from the OpenWeatherMap 2.5 API. Its forecast is
// 3-hourly and is folded into local calendar days here.
type OpenWeatherMap struct {
	apiKey    string
	baseURL   string
	transport *transport
}

// NewOpenWeatherMap returns an OpenWeatherMap provider. The key is required.
func NewOpenWeatherMap(apiKey, baseURL string, cfg HTTPConfig) (*OpenWeatherMap, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if baseURL == "" {
		baseURL = DefaultOpenWeatherMapURL
	}
	return &OpenWeatherMap{
		apiKey:    apiKey,
		baseURL:   strings.TrimRight(baseURL, "/"),
		transport: newTransport(OpenWeatherMapName, cfg),
	}, nil
}

func (c *OpenWeatherMap) Name() string { return OpenWeatherMapName }

type owmWeather struct {
	Main        string `json:"main"`
	Description string `json:"description"`
}

type owmCurrentResponse struct {
	Main *struct {
		Temp     float64 `json:"temp"`
		Humidity float64 `json:"humidity"`
	} `json:"main"`
	Weather []owmWeather `json:"weather"`
}

type owmForecastResponse struct {
	List []owmSample `json:"list"`
	City struct {
		Timezone int `json:"timezone"`
	} `json:"city"`
}

type owmSample struct {
	Dt   int64 `json:"dt"`
	Main struct {
		TempMax float64 `json:"temp_max"`
		TempMin float64 `json:"temp_min"`
	} `json:"main"`
	Weather []owmWeather `json:"weather"`
	Rain    *owmVolume   `json:"rain"`
	Snow    *owmVolume   `json:"snow"`
}

type owmVolume struct {
	ThreeHour float64 `json:"3h"`
}

func (c *OpenWeatherMap) FetchCurrent(ctx context.Context, lat, lon float64) (models.CurrentWeather, error) {
	var resp owmCurrentResponse
	if err := c.transport.getJSON(ctx, c.baseURL+"/weather", c.params(lat, lon), &resp); err != nil {
		return models.CurrentWeather{}, err
	}
	if resp.Main == nil {
		return models.CurrentWeather{}, fmt.Errorf("%s: %w: missing main block", OpenWeatherMapName, ErrMalformedResponse)
	}
	return models.CurrentWeather{
		Temperature: resp.Main.Temp,
		Humidity:    resp.Main.Humidity,
		Conditions:  describe(resp.Weather),
	}, nil
}

func (c *OpenWeatherMap) FetchForecast(ctx context.Context, lat, lon float64, days int) (models.Forecast, error) {
	var resp owmForecastResponse
	if err := c.transport.getJSON(ctx, c.baseURL+"/forecast", c.params(lat, lon), &resp); err != nil {
		return models.Forecast{}, err
	}
	return models.Forecast{Days: bucketDaily(resp.List, resp.City.Timezone, days)}, nil
}

func (c *OpenWeatherMap) params(lat, lon float64) url.Values {
	params := url.Values{}
	params.Set("lat", formatCoord(lat))
	params.Set("lon", formatCoord(lon))
	params.Set("units", "metric")
	params.Set("appid", c.apiKey)
	return params
}

// bucketDaily folds 3-hourly samples into at most days calendar days, local to
// the UTC offset tzOffset (seconds). The first sample of a day seeds both
// extremes so sub-zero minimums survive.
func bucketDaily(samples []owmSample, tzOffset, days int) []models.DailyForecast {
	zone := time.FixedZone("", tzOffset)
	out := make([]models.DailyForecast, 0, days)
	index := make(map[string]int)

	for _, s := range samples {
		date := time.Unix(s.Dt, 0).In(zone).Format("2006-01-02")
		i, seen := index[date]
		if !seen {
			if len(out) == days {
				break
			}
			out = append(out, models.DailyForecast{
				Date:    date,
				MaxTemp: s.Main.TempMax,
				MinTemp: s.Main.TempMin,
			})
			i = len(out) - 1
			index[date] = i
		}

		day := &out[i]
		if s.Main.TempMax > day.MaxTemp {
			day.MaxTemp = s.Main.TempMax
		}
		if s.Main.TempMin < day.MinTemp {
			day.MinTemp = s.Main.TempMin
		}
		if s.Rain != nil {
			day.Precipitation += s.Rain.ThreeHour
		}
		if s.Snow != nil {
			day.Precipitation += s.Snow.ThreeHour
		}
		if c := describe(s.Weather); c != "" {
			day.Conditions = c
		}
	}
	return out
}

// describe prefers the detailed description over the group name.
func describe(w []owmWeather) string {
	if len(w) == 0 {
		return ""
	}
	if w[0].Description != "" {
		return w[0].Description
	}
	return w[0].Main
}
