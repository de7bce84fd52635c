package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/featherproxy/feather/internal/server/eventbus"
	"github.com/featherproxy/feather/internal/server/model"
)

// APIKeyHeader carries the operator API key.
const APIKeyHeader = "X-Feather-API-Key"

// Options configures access control for the operator API.
type Options struct {
	APIKey     string
	AllowCIDRs []string
}

// New constructs the operator API router backed by the configuration model.
func New(logger *slog.Logger, m *model.Model, bus eventbus.Bus, opts Options) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(logger))

	if len(opts.AllowCIDRs) > 0 {
		r.Use(ipFilterMiddleware(logger, opts.AllowCIDRs))
	}
	if key := strings.TrimSpace(opts.APIKey); key != "" {
		r.Use(apiKeyMiddleware(key))
	}

	api := &apiServer{logger: logger, model: m, bus: bus}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/openapi.json", api.serveOpenAPI)

	v1 := r.Group("/api/v1")
	{
		sources := v1.Group("/source-servers")
		{
			sources.GET("", api.listSourceServers)
			sources.POST("", api.createSourceServer)
			sources.GET("/:id", api.getSourceServer)
			sources.PUT("/:id", api.updateSourceServer)
			sources.DELETE("/:id", api.deleteSourceServer)
			sources.GET("/:id/candidate-targets", api.listCandidateTargets)
			sources.GET("/:id/options", api.getServerOptions)
			sources.PUT("/:id/options", api.setServerOptions)
			sources.GET("/:id/acl", api.getACLOptions)
			sources.PUT("/:id/acl", api.setACLOptions)
		}

		targets := v1.Group("/target-servers")
		{
			targets.GET("", api.listTargetServers)
			targets.POST("", api.createTargetServer)
			targets.GET("/:id", api.getTargetServer)
			targets.PUT("/:id", api.updateTargetServer)
			targets.DELETE("/:id", api.deleteTargetServer)
		}

		auths := v1.Group("/authentications")
		{
			auths.GET("", api.listAuthentications)
			auths.POST("", api.createAuthentication)
			auths.GET("/:id", api.getAuthentication)
			auths.PUT("/:id", api.updateAuthentication)
			auths.DELETE("/:id", api.deleteAuthentication)
		}

		routes := v1.Group("/routes")
		{
			routes.GET("", api.listRoutes)
			routes.POST("", api.createRoute)
			routes.GET("/:id", api.getRoute)
			routes.PUT("/:id", api.updateRoute)
			routes.DELETE("/:id", api.deleteRoute)
			routes.GET("/:id/source-auth", api.getSourceAuth)
			routes.PUT("/:id/source-auth", api.setSourceAuth)
			routes.GET("/:id/target-auth", api.getTargetAuth)
			routes.PUT("/:id/target-auth", api.setTargetAuth)
			routes.GET("/:id/auth", api.getRouteAuth)
			routes.PUT("/:id/auth", api.setRouteAuth)
		}

		v1.GET("/resolve", api.resolveRoute)
		v1.GET("/snapshot", api.snapshot)
		v1.POST("/reload", api.reload)
		v1.GET("/events", api.streamConfigEvents)
	}

	r.GET("/ws/v1/events", api.eventsWebSocket)

	return r
}

// requestLogger adapts slog to Gin's middleware interface.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		args := []any{
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.String("latency", latency.String()),
			slog.String("client_ip", c.ClientIP()),
		}
		switch {
		case len(c.Errors) > 0:
			args = append(args, slog.String("error", c.Errors.String()))
			logger.Error("http request", args...)
		case c.Writer.Status() >= http.StatusInternalServerError:
			logger.Error("http request", args...)
		default:
			logger.Info("http request", args...)
		}
	}
}

func ipFilterMiddleware(logger *slog.Logger, cidrs []string) gin.HandlerFunc {
	var networks []*net.IPNet
	for _, raw := range cidrs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		_, network, err := net.ParseCIDR(raw)
		if err != nil {
			logger.Warn("invalid CIDR", "cidr", raw, "error", err)
			continue
		}
		networks = append(networks, network)
	}
	if len(networks) == 0 {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		ip := net.ParseIP(c.ClientIP())
		if ip == nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid client IP"})
			return
		}
		for _, network := range networks {
			if network.Contains(ip) {
				c.Next()
				return
			}
		}
		logger.Warn("request blocked by CIDR filter", "ip", ip.String())
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "access denied"})
	}
}

func apiKeyMiddleware(expected string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Next()
			return
		}
		provided := c.GetHeader(APIKeyHeader)
		if provided == "" {
			provided = c.Query("api_key")
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
			return
		}
		c.Next()
	}
}

type apiServer struct {
	logger *slog.Logger
	model  *model.Model
	bus    eventbus.Bus
}

func statusFromError(err error) int {
	var (
		validation  model.ValidationError
		missing     model.NotFoundError
		conflict    model.ConflictError
		transport   model.TransportError
		unavailable model.UnavailableError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &missing):
		return http.StatusNotFound
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &transport):
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusServiceUnavailable
	case errors.As(err, &unavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (api *apiServer) fail(c *gin.Context, op string, err error) {
	status := statusFromError(err)
	if status >= http.StatusInternalServerError {
		api.logger.Error(op, "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (api *apiServer) bindJSON(c *gin.Context, out any) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}
