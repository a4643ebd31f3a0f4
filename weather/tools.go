package weather

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	errLocationNotString = "Error: Location must be a string"
	errLocationFormat    = "Error: Location must be in lat,lon format (e.g., '40.7128,-74.0060')"
	errDaysRange         = "Error: Days must be a number between 1 and 7"
	errNoForecastURL     = "Error: Unable to get forecast data for this location"
	errNoForecastData    = "Error: No forecast data available"

	defaultForecastDays = 5
)

var coordinatePattern = regexp.MustCompile(`^(-?\d+\.?\d*),\s*(-?\d+\.?\d*)$`)

// parseLocation validates a "lat,lon" argument. On failure the second return
// value is the user-facing error text.
func parseLocation(args map[string]any) (lat, lon float64, errText string) {
	location, ok := args["location"].(string)
	if !ok {
		return 0, 0, errLocationNotString
	}
	match := coordinatePattern.FindStringSubmatch(location)
	if match == nil {
		return 0, 0, errLocationFormat
	}
	lat, latErr := strconv.ParseFloat(match[1], 64)
	lon, lonErr := strconv.ParseFloat(match[2], 64)
	if latErr != nil || lonErr != nil {
		return 0, 0, errLocationFormat
	}
	return lat, lon, ""
}

// CurrentWeather reports the first forecast period for the location.
func (c *Client) CurrentWeather(ctx context.Context, args map[string]any) string {
	lat, lon, errText := parseLocation(args)
	if errText != "" {
		return errText
	}

	periods, errText := c.forecastPeriods(ctx, lat, lon)
	if errText != "" {
		return errText
	}

	current := periods[0]
	return strings.Join([]string{
		fmt.Sprintf("Current conditions for %s:", formatCoordinates(lat, lon)),
		fmt.Sprintf("%s: %s°%s", orDefault(current.Name, "Now"), formatTemperature(current.Temperature), orDefault(current.TemperatureUnit, "F")),
		fmt.Sprintf("Wind: %s %s", orDefault(current.WindSpeed, "Unknown"), current.WindDirection),
		fmt.Sprintf("Conditions: %s", orDefault(current.ShortForecast, "Unknown")),
	}, "\n")
}

// Forecast reports day and night periods for up to 7 days, 5 by default.
func (c *Client) Forecast(ctx context.Context, args map[string]any) string {
	if _, ok := args["location"].(string); !ok {
		return errLocationNotString
	}

	days := float64(defaultForecastDays)
	if raw, present := args["days"]; present {
		number, ok := toNumber(raw)
		if !ok || number < 1 || number > 7 {
			return errDaysRange
		}
		days = number
	}

	lat, lon, errText := parseLocation(args)
	if errText != "" {
		return errText
	}

	periods, errText := c.forecastPeriods(ctx, lat, lon)
	if errText != "" {
		return errText
	}

	if limit := int(days * 2); limit < len(periods) {
		periods = periods[:limit]
	}
	lines := make([]string, 0, len(periods))
	for _, period := range periods {
		lines = append(lines, fmt.Sprintf("%s: %s°%s, %s",
			orDefault(period.Name, "Unknown"),
			formatTemperature(period.Temperature),
			orDefault(period.TemperatureUnit, "F"),
			orDefault(period.ShortForecast, "Unknown"),
		))
	}

	return fmt.Sprintf("%s-day forecast for %s:\n%s",
		strconv.FormatFloat(days, 'f', -1, 64), formatCoordinates(lat, lon), strings.Join(lines, "\n"))
}

// Alerts lists active alerts for the location. A failed lookup is reported
// the same as having no alerts.
func (c *Client) Alerts(ctx context.Context, args map[string]any) string {
	lat, lon, errText := parseLocation(args)
	if errText != "" {
		return errText
	}

	coordinates := formatCoordinates(lat, lon)
	alerts := c.GetActiveAlerts(ctx, lat, lon)
	if alerts == nil || len(alerts.Features) == 0 {
		return fmt.Sprintf("No active weather alerts for %s", coordinates)
	}

	formatted := make([]string, 0, len(alerts.Features))
	for _, feature := range alerts.Features {
		formatted = append(formatted, formatAlert(feature))
	}
	return fmt.Sprintf("Active weather alerts for %s:\n\n%s", coordinates, strings.Join(formatted, "\n"))
}

func (c *Client) forecastPeriods(ctx context.Context, lat, lon float64) ([]ForecastPeriod, string) {
	point := c.GetPoint(ctx, lat, lon)
	if point == nil || point.Properties.Forecast == "" {
		return nil, errNoForecastURL
	}

	forecast := c.GetForecast(ctx, point.Properties.Forecast)
	if forecast == nil || len(forecast.Properties.Periods) == 0 {
		return nil, errNoForecastData
	}
	return forecast.Properties.Periods, ""
}

func formatAlert(feature AlertFeature) string {
	props := feature.Properties
	return strings.Join([]string{
		"Event: " + orDefault(props.Event, "Unknown"),
		"Area: " + orDefault(props.AreaDesc, "Unknown"),
		"Severity: " + orDefault(props.Severity, "Unknown"),
		"Status: " + orDefault(props.Status, "Unknown"),
		"Headline: " + orDefault(props.Headline, "No headline"),
		"---",
	}, "\n")
}

// formatCoordinates uses the shortest representation, so "-74.0060" is
// echoed as "-74.006".
func formatCoordinates(lat, lon float64) string {
	return strconv.FormatFloat(lat, 'f', -1, 64) + "," + strconv.FormatFloat(lon, 'f', -1, 64)
}

func formatTemperature(temperature *float64) string {
	if temperature == nil {
		return "Unknown"
	}
	return strconv.FormatFloat(*temperature, 'f', -1, 64)
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func toNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
