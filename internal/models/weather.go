package models

// Location is a geocoded place. Produced by the geocoder and passed by value.
type Location struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Country   string  `json:"country"`
	State     string  `json:"state,omitempty"`
}

// CurrentWeather is one provider's (or the merged) observation.
// Temperature is in Celsius, Humidity in percent.
type CurrentWeather struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Conditions  string  `json:"conditions"`
}

// DailyForecast is a single calendar day. Date is an ISO-8601 date (YYYY-MM-DD)
// in the location's local timezone; Precipitation is in millimeters.
type DailyForecast struct {
	Date          string  `json:"date"`
	MaxTemp       float64 `json:"maxTemp"`
	MinTemp       float64 `json:"minTemp"`
	Precipitation float64 `json:"precipitation"`
	Conditions    string  `json:"conditions"`
}

// Forecast holds daily entries in ascending date order.
type Forecast struct {
	Days []DailyForecast `json:"days"`
}
