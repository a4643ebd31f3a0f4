package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	DefaultBaseURL   = "https://api.weather.gov"
	DefaultUserAgent = "weather-app/1.0"
)

// Client is a minimal National Weather Service API client. Every lookup is a
// single attempt; any failure is logged and reported as a nil result.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

func NewClient(baseURL, userAgent string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type PointsResponse struct {
	Properties struct {
		Forecast string `json:"forecast"`
	} `json:"properties"`
}

type ForecastPeriod struct {
	Name            string   `json:"name"`
	Temperature     *float64 `json:"temperature"`
	TemperatureUnit string   `json:"temperatureUnit"`
	WindSpeed       string   `json:"windSpeed"`
	WindDirection   string   `json:"windDirection"`
	ShortForecast   string   `json:"shortForecast"`
}

type ForecastResponse struct {
	Properties struct {
		Periods []ForecastPeriod `json:"periods"`
	} `json:"properties"`
}

type AlertProperties struct {
	Event    string `json:"event"`
	AreaDesc string `json:"areaDesc"`
	Severity string `json:"severity"`
	Status   string `json:"status"`
	Headline string `json:"headline"`
}

type AlertFeature struct {
	Properties AlertProperties `json:"properties"`
}

type AlertsResponse struct {
	Features []AlertFeature `json:"features"`
}

func (c *Client) GetPoint(ctx context.Context, lat, lon float64) *PointsResponse {
	return makeRequest[PointsResponse](ctx, c, fmt.Sprintf("%s/points/%s", c.baseURL, formatCoordinates(lat, lon)))
}

// GetForecast follows the forecast URL returned by GetPoint.
func (c *Client) GetForecast(ctx context.Context, forecastURL string) *ForecastResponse {
	return makeRequest[ForecastResponse](ctx, c, forecastURL)
}

func (c *Client) GetActiveAlerts(ctx context.Context, lat, lon float64) *AlertsResponse {
	return makeRequest[AlertsResponse](ctx, c, fmt.Sprintf("%s/alerts/active?point=%s", c.baseURL, formatCoordinates(lat, lon)))
}

func makeRequest[T any](ctx context.Context, c *Client, url string) *T {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		log.Error().Err(err).Str("url", url).Msg("Error building NWS request")
		return nil
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/geo+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Error().Err(err).Str("url", url).Msg("Error making NWS request")
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Error().Int("status", resp.StatusCode).Str("url", url).Msg("Error making NWS request")
		return nil
	}

	var result T
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		log.Error().Err(err).Str("url", url).Msg("Error decoding NWS response")
		return nil
	}
	return &result
}
