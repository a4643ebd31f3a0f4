package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"chatrelay/common"
	"chatrelay/llm"
	"chatrelay/logger"
	"chatrelay/mcp"
	"chatrelay/secret_manager"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RunServer binds the relay listener, starts the one-time tool discovery in
// the background and serves until ctx is cancelled. A bind failure is
// returned immediately.
func RunServer(ctx context.Context, cfg common.RelayConfig) error {
	gin.SetMode(gin.ReleaseMode)

	allowedOrigins, err := ParseAllowedOrigins(cfg.AllowedOrigins)
	if err != nil {
		return err
	}

	ctrl := NewController(cfg, &ToolsCache{})
	router := DefineRoutes(ctrl, allowedOrigins)

	addr := common.HostPort(cfg.Host, cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	go func() {
		_ = InitToolsCache(ctx, ctrl.toolsCache, cfg.ToolServerURL, cfg.HandshakeTimeout, mcp.FetchToolSpecs)
	}()

	srv := &http.Server{Handler: router.Handler()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Relay shutdown failed")
		}
	}()

	log.Info().Str("addr", addr).Str("provider", cfg.Provider).Msg("Relay listening")
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("relay server failed: %w", err)
	}
	return nil
}

type ProviderFactory func(name, baseURL string) (llm.Provider, error)

type Controller struct {
	relayConfig   common.RelayConfig
	toolsCache    *ToolsCache
	secretManager secret_manager.SecretManager
	newProvider   ProviderFactory
}

func NewController(cfg common.RelayConfig, toolsCache *ToolsCache) Controller {
	return Controller{
		relayConfig:   cfg,
		toolsCache:    toolsCache,
		secretManager: secret_manager.GetSecretManager(secret_manager.CompositeSecretManagerType),
		newProvider:   llm.NewProvider,
	}
}

func DefineRoutes(ctrl Controller, allowedOrigins *AllowedOrigins) *gin.Engine {
	r := gin.New()
	r.ForwardedByClientIP = true
	r.SetTrustedProxies(nil)
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(ctrl.serviceName()))
	r.Use(logger.GinMiddleware(log.Logger))
	r.Use(CORSMiddleware(allowedOrigins))

	r.GET("/health", ctrl.HealthHandler)
	r.GET("/chat/stream", ctrl.ChatStreamHandler)

	return r
}

func (ctrl *Controller) serviceName() string {
	if ctrl.relayConfig.ServiceName == "" {
		return "chatbot-backend"
	}
	return ctrl.relayConfig.ServiceName
}

func (ctrl *Controller) HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"service":   ctrl.serviceName(),
	})
}

func (ctrl *Controller) ErrorHandler(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error()})
}
