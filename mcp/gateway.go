package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"chatrelay/common"
	"chatrelay/logger"
	"chatrelay/weather"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/ksuid"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const (
	jsonRPCVersion = "2.0"

	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeInternalError  = -32603
)

// ListedTool is the portable rendering of a tool in the describe response.
type ListedTool struct {
	Name        string         `json:"name"`
	InputSchema map[string]any `json:"input_schema"`
}

// Gateway serves a Registry over MCP's streamable HTTP transport.
type Gateway struct {
	label        string
	jsonResponse bool
	tools        []ToolDescriptor
	listed       []ListedTool
}

func NewGateway(registry *Registry, cfg common.GatewayConfig) (*Gateway, error) {
	tools := registry.Supported()
	listed := make([]ListedTool, 0, len(tools))
	for _, tool := range tools {
		schema, err := tool.SchemaMap()
		if err != nil {
			return nil, err
		}
		listed = append(listed, ListedTool{Name: tool.Name, InputSchema: schema})
	}
	return &Gateway{
		label:        cfg.ServerLabel,
		jsonResponse: cfg.JSONResponse,
		tools:        tools,
		listed:       listed,
	}, nil
}

func (g *Gateway) DefineRoutes(r *gin.Engine) {
	r.Use(gatewayCORSMiddleware())
	r.GET("/health", g.HealthHandler)
	r.GET("/mcp", g.DescribeHandler)
	r.POST("/mcp", g.InvokeHandler)
	r.DELETE("/mcp", methodNotAllowed)
}

func NewRouter(g *Gateway, serviceName string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName))
	r.Use(logger.GinMiddleware(log.Logger))
	g.DefineRoutes(r)
	return r
}

func (g *Gateway) HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// DescribeHandler lists the supported tools. MCP clients probe the same path
// with a GET for a standalone event stream; there is none to offer.
func (g *Gateway) DescribeHandler(c *gin.Context) {
	if wantsEventStreamOnly(c.GetHeader("Accept")) {
		methodNotAllowed(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":           "mcp_list_tools_" + ksuid.New().String(),
		"type":         "mcp_list_tools",
		"server_label": g.label,
		"tools":        g.listed,
	})
}

type envelopeHeader struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Id      json.RawMessage `json:"id,omitempty"`
}

func (g *Gateway) InvokeHandler(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeRPCError(c, http.StatusBadRequest, codeParseError, "Parse error: "+err.Error(), nil)
		return
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		writeRPCError(c, http.StatusBadRequest, codeInvalidRequest, "Invalid Request: batch requests are not supported", nil)
		return
	}

	var envelope envelopeHeader
	if err := json.Unmarshal(body, &envelope); err != nil {
		writeRPCError(c, http.StatusBadRequest, codeParseError, "Parse error: "+err.Error(), nil)
		return
	}
	if envelope.JSONRPC != jsonRPCVersion {
		writeRPCError(c, http.StatusBadRequest, codeInvalidRequest, `Invalid Request: jsonrpc must be "2.0"`, envelope.Id)
		return
	}

	uc := UserContextFromRequest(c.Request)
	log.Ctx(c.Request.Context()).Debug().Str("method", envelope.Method).RawJSON("rpcId", idOrNull(envelope.Id)).Msg("JSON-RPC request")

	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	normalizeAccept(c.Request)
	g.serveSession(c, uc)
}

func (g *Gateway) serveSession(c *gin.Context, uc UserContext) {
	defer func() {
		if r := recover(); r != nil {
			g.internalError(c, fmt.Errorf("%v", r))
		}
	}()

	session, err := NewToolSession(g.label, g.tools, uc, g.jsonResponse)
	if err != nil {
		g.internalError(c, err)
		return
	}
	defer session.Close()
	// a disconnect tears the session down while the transport may still be blocked
	stop := context.AfterFunc(c.Request.Context(), session.Close)
	defer stop()

	session.ServeHTTP(c.Writer, c.Request)
}

func (g *Gateway) internalError(c *gin.Context, err error) {
	if c.Writer.Written() {
		log.Error().Err(err).Msg("MCP session failed after the response started")
		return
	}
	log.Error().Err(err).Msg("MCP session failed")
	writeRPCError(c, http.StatusInternalServerError, codeInternalError, "Internal error: "+err.Error(), nil)
}

func writeRPCError(c *gin.Context, status, code int, message string, id json.RawMessage) {
	c.AbortWithStatusJSON(status, gin.H{
		"jsonrpc": jsonRPCVersion,
		"error":   gin.H{"code": code, "message": message},
		"id":      idOrNull(id),
	})
}

func idOrNull(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}

func methodNotAllowed(c *gin.Context) {
	c.Header("Allow", "GET, POST, OPTIONS")
	c.AbortWithStatusJSON(http.StatusMethodNotAllowed, gin.H{
		"jsonrpc": jsonRPCVersion,
		"error":   gin.H{"code": codeInvalidRequest, "message": "Method not allowed"},
		"id":      nil,
	})
}

func wantsEventStreamOnly(accept string) bool {
	return strings.Contains(accept, "text/event-stream") && !strings.Contains(accept, "application/json")
}

// normalizeAccept lets plain JSON clients such as curl talk to the streamable
// transport, which insists on both media types being acceptable.
func normalizeAccept(r *http.Request) {
	accept := r.Header.Get("Accept")
	if accept == "" || accept == "*/*" {
		r.Header.Set("Accept", "application/json, text/event-stream")
	}
	if r.Header.Get("Content-Type") == "" {
		r.Header.Set("Content-Type", "application/json")
	}
}

func gatewayCORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		if c.Request.Method == http.MethodOptions {
			c.Header("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type,Authorization,Accept,x-user-id,x-session-id")
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RunServer serves the weather tool gateway until ctx is cancelled. The
// listener is bound before returning control to the serve loop, so a port
// conflict is reported as an error immediately.
func RunServer(ctx context.Context, cfg common.GatewayConfig, serviceName string) error {
	gin.SetMode(gin.ReleaseMode)

	client := weather.NewClient(cfg.WeatherAPIBaseURL, cfg.UserAgent, cfg.RequestTimeout)
	gateway, err := NewGateway(NewRegistry(WeatherTools(client)...), cfg)
	if err != nil {
		return err
	}

	addr := common.HostPort(cfg.Host, cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{Handler: NewRouter(gateway, serviceName).Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Gateway shutdown failed")
		}
	}()

	log.Info().Str("addr", addr).Int("tools", len(gateway.tools)).Msg("Tool gateway listening")
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway server failed: %w", err)
	}
	return nil
}
