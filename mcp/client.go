package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"chatrelay/llm"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const clientName = "chatbot-backend"

// FetchToolSpecs connects to the gateway at endpoint, lists its tools and
// converts them into LLM function specs. It makes a single attempt.
func FetchToolSpecs(ctx context.Context, endpoint string) ([]llm.ToolSpec, error) {
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: clientName, Version: serverVersion}, nil)
	transport := &mcpsdk.StreamableClientTransport{
		Endpoint:   endpoint,
		HTTPClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to tool server %s: %w", endpoint, err)
	}
	defer session.Close()

	var specs []llm.ToolSpec
	params := &mcpsdk.ListToolsParams{}
	for {
		result, err := session.ListTools(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("failed to list tools: %w", err)
		}
		for _, tool := range result.Tools {
			spec, err := toolSpecFromMCP(tool)
			if err != nil {
				return nil, err
			}
			specs = append(specs, spec)
		}
		if result.NextCursor == "" {
			break
		}
		params = &mcpsdk.ListToolsParams{Cursor: result.NextCursor}
	}
	return specs, nil
}

func toolSpecFromMCP(tool *mcpsdk.Tool) (llm.ToolSpec, error) {
	spec := llm.ToolSpec{Name: tool.Name, Description: tool.Description}
	switch schema := tool.InputSchema.(type) {
	case nil:
		spec.InputSchema = map[string]any{"type": "object"}
	case map[string]any:
		spec.InputSchema = schema
	default:
		raw, err := json.Marshal(schema)
		if err != nil {
			return llm.ToolSpec{}, fmt.Errorf("failed to marshal input schema for %s: %w", tool.Name, err)
		}
		if err := json.Unmarshal(raw, &spec.InputSchema); err != nil {
			return llm.ToolSpec{}, fmt.Errorf("failed to unmarshal input schema for %s: %w", tool.Name, err)
		}
	}
	return spec, nil
}
