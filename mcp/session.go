package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"
)

const serverVersion = "1.0.0"

// ToolSession is the protocol session for a single JSON-RPC exchange. It owns
// a fresh MCP server with every supported tool registered and a stateless
// streamable HTTP transport. Nothing in it outlives the request.
type ToolSession struct {
	server    *mcpsdk.Server
	handler   http.Handler
	closeOnce sync.Once
}

func NewToolSession(name string, tools []ToolDescriptor, uc UserContext, jsonResponse bool) (session *ToolSession, err error) {
	// AddTool panics on a malformed tool definition
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to build tool session: %v", r)
		}
	}()

	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: name, Version: serverVersion}, &mcpsdk.ServerOptions{HasTools: true})
	server.AddReceivingMiddleware(func(nextHandler mcpsdk.MethodHandler) mcpsdk.MethodHandler {
		return func(ctx context.Context, method string, req mcpsdk.Request) (mcpsdk.Result, error) {
			log.Debug().Str("userId", uc.UserId).Str("sessionId", uc.SessionId).Str("method", method).Msg("MCP request")
			return nextHandler(ctx, method, req)
		}
	})

	for _, tool := range tools {
		schema, err := tool.SchemaMap()
		if err != nil {
			return nil, err
		}
		server.AddTool(&mcpsdk.Tool{
			Name:        tool.Name,
			Title:       tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		}, callTool(tool, uc))
	}

	handler := mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server {
		return server
	}, &mcpsdk.StreamableHTTPOptions{
		Stateless:    true,
		JSONResponse: jsonResponse,
	})

	return &ToolSession{server: server, handler: handler}, nil
}

func callTool(tool ToolDescriptor, uc UserContext) mcpsdk.ToolHandler {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		var args map[string]any
		if len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
				return nil, fmt.Errorf("invalid arguments for %s: %w", tool.Name, err)
			}
		}
		if args == nil {
			args = map[string]any{}
		}

		text, err := tool.Handler(ctx, args, uc)
		if err != nil {
			log.Error().Err(err).Str("tool", tool.Name).Msg("Tool handler failed")
			return nil, err
		}
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
		}, nil
	}
}

func (s *ToolSession) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close releases every server session created for the exchange. Safe to call
// more than once and from any goroutine.
func (s *ToolSession) Close() {
	s.closeOnce.Do(func() {
		for ss := range s.server.Sessions() {
			if err := ss.Close(); err != nil {
				log.Debug().Err(err).Msg("Error closing MCP server session")
			}
		}
	})
}
