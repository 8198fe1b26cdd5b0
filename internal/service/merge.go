package service

import "github.com/kjstillabower/weather-aggregation-service/internal/models"

// mergeCurrent combines successful observations: numeric fields are averaged,
// conditions come from results[conditionIdx].
func mergeCurrent(results []providerResult[models.CurrentWeather], conditionIdx int) models.CurrentWeather {
	n := float64(len(results))
	var temp, humidity float64
	for _, r := range results {
		temp += r.value.Temperature
		humidity += r.value.Humidity
	}
	return models.CurrentWeather{
		Temperature: temp / n,
		Humidity:    humidity / n,
		Conditions:  results[conditionIdx].value.Conditions,
	}
}

// mergeForecast zips days index-for-index. Every result must hold at least days entries.
// The date is taken verbatim from results[dateIdx]; other providers' dates are not checked.
func mergeForecast(results []providerResult[models.Forecast], days, conditionIdx, dateIdx int) models.Forecast {
	n := float64(len(results))
	out := models.Forecast{Days: make([]models.DailyForecast, days)}
	for i := 0; i < days; i++ {
		var maxT, minT, precip float64
		for _, r := range results {
			d := r.value.Days[i]
			maxT += d.MaxTemp
			minT += d.MinTemp
			precip += d.Precipitation
		}
		out.Days[i] = models.DailyForecast{
			Date:          results[dateIdx].value.Days[i].Date,
			MaxTemp:       maxT / n,
			MinTemp:       minT / n,
			Precipitation: precip / n,
			Conditions:    results[conditionIdx].value.Days[i].Conditions,
		}
	}
	return out
}
