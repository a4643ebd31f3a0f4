package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"chatrelay/weather"

	"github.com/invopop/jsonschema"
)

const (
	ToolGetCurrentWeather  = "get_current_weather"
	ToolGetWeatherForecast = "get_weather_forecast"
	ToolGetWeatherAlerts   = "get_weather_alerts"
)

// UserContext identifies the caller of a tool invocation. Both fields are
// optional and come from the x-user-id and x-session-id request headers.
type UserContext struct {
	UserId    string `json:"userId,omitempty"`
	SessionId string `json:"sessionId,omitempty"`
}

func UserContextFromRequest(r *http.Request) UserContext {
	return UserContext{
		UserId:    r.Header.Get("x-user-id"),
		SessionId: r.Header.Get("x-session-id"),
	}
}

// ToolHandler returns a text result for the given arguments. Invalid input is
// reported through the returned text; an error means an internal fault.
type ToolHandler func(ctx context.Context, args map[string]any, uc UserContext) (string, error)

type ToolDescriptor struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema
	Enabled     bool
	Handler     ToolHandler
}

// SchemaMap renders the input schema as a plain JSON object.
func (d ToolDescriptor) SchemaMap() (map[string]any, error) {
	raw, err := json.Marshal(d.InputSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal input schema for %s: %w", d.Name, err)
	}
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("failed to unmarshal input schema for %s: %w", d.Name, err)
	}
	return schema, nil
}

// Registry is the immutable table of tools the gateway can serve.
type Registry struct {
	tools []ToolDescriptor
}

// NewRegistry panics when two tools share a name.
func NewRegistry(tools ...ToolDescriptor) *Registry {
	seen := make(map[string]struct{}, len(tools))
	for _, tool := range tools {
		if _, dup := seen[tool.Name]; dup {
			panic(fmt.Sprintf("duplicate tool name %q", tool.Name))
		}
		seen[tool.Name] = struct{}{}
	}
	return &Registry{tools: append([]ToolDescriptor(nil), tools...)}
}

// Supported returns the enabled tools in declaration order.
func (r *Registry) Supported() []ToolDescriptor {
	supported := make([]ToolDescriptor, 0, len(r.tools))
	for _, tool := range r.tools {
		if tool.Enabled {
			supported = append(supported, tool)
		}
	}
	return supported
}

type LocationParams struct {
	Location string `json:"location" jsonschema_description:"Location coordinates in lat,lon format (e.g., \"40.7128,-74.0060\")"`
}

type ForecastParams struct {
	Location string   `json:"location" jsonschema_description:"Location coordinates in lat,lon format (e.g., \"40.7128,-74.0060\")"`
	Days     *float64 `json:"days,omitempty" jsonschema:"minimum=1,maximum=7" jsonschema_description:"Number of forecast days (1-7, default: 5)"`
}

func reflectSchema(params any) *jsonschema.Schema {
	return (&jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}).Reflect(params)
}

func weatherHandler(lookup func(context.Context, map[string]any) string) ToolHandler {
	return func(ctx context.Context, args map[string]any, _ UserContext) (string, error) {
		return lookup(ctx, args), nil
	}
}

// WeatherTools is the weather tool family backed by the given NWS client.
func WeatherTools(client *weather.Client) []ToolDescriptor {
	return []ToolDescriptor{
		{
			Name:        ToolGetCurrentWeather,
			Description: "Get current weather conditions for a specified location using National Weather Service data",
			InputSchema: reflectSchema(&LocationParams{}),
			Enabled:     true,
			Handler:     weatherHandler(client.CurrentWeather),
		},
		{
			Name:        ToolGetWeatherForecast,
			Description: "Get weather forecast for a specified location using National Weather Service data",
			InputSchema: reflectSchema(&ForecastParams{}),
			Enabled:     true,
			Handler:     weatherHandler(client.Forecast),
		},
		{
			Name:        ToolGetWeatherAlerts,
			Description: "Get active weather alerts and warnings for a specified location using National Weather Service data",
			InputSchema: reflectSchema(&LocationParams{}),
			Enabled:     true,
			Handler:     weatherHandler(client.Alerts),
		},
	}
}
