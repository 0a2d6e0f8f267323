package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"crowd-radio/internal/apperr"
	"crowd-radio/internal/metrics"
)

// RouterConfig configures the HTTP surface around the API.
type RouterConfig struct {
	AllowedOrigins []string     // Origin prefixes reflected in CORS headers
	MetricsHandler http.Handler // Served at /metrics when set
	Metrics        *metrics.Metrics
	Logger         zerolog.Logger
}

// SetupRouter creates and configures the Gin router.
func SetupRouter(api *API, cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	log := cfg.Logger.With().Str("component", "http").Logger()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(log, cfg.Metrics))
	r.Use(corsMiddleware(cfg.AllowedOrigins))

	// Recording endpoints
	audio := r.Group("/", rejectQuery(api))
	{
		audio.POST("/audio", api.Upload)
		audio.GET("/audio", api.ListOwn)
		audio.GET("/recordings", api.ListOwnHashes)
		audio.GET("/audio/:token/:file", api.PlayRecording)
		audio.HEAD("/audio/:token/:file", api.PlayRecording)
		audio.DELETE("/audio/:token/:file", api.Delete)

		// Radio client endpoints
		audio.GET("/radio", api.Stations)
		audio.GET("/radio/:token/:file", api.PlayConverted)
		audio.HEAD("/radio/:token/:file", api.PlayConverted)
	}

	// Health check
	r.GET("/health", api.Health)

	if cfg.MetricsHandler != nil {
		r.GET("/metrics", gin.WrapH(cfg.MetricsHandler))
	}

	return r
}

// corsMiddleware reflects the request Origin when it starts with one of the
// allowed prefixes. Preflight requests are answered directly.
func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		if origin := c.GetHeader("Origin"); originAllowed(origin, allowedOrigins) {
			h.Set("Access-Control-Allow-Origin", origin)
		}
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Set("Access-Control-Expose-Headers", "Location")
		h.Add("Vary", "Origin")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}

func originAllowed(origin string, prefixes []string) bool {
	if origin == "" {
		return false
	}
	for _, p := range prefixes {
		if strings.HasPrefix(origin, p) {
			return true
		}
	}
	return false
}

// rejectQuery fails any request carrying a query string.
func rejectQuery(api *API) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.RawQuery != "" || c.Request.URL.ForceQuery {
			api.fail(c, apperr.E(apperr.KindInvalidRequest, "server.rejectQuery",
				"invalid query string: %s?%s", c.Request.URL.Path, c.Request.URL.RawQuery))
			return
		}
		c.Next()
	}
}

// requestLogger logs one line per request and records request metrics.
func requestLogger(log zerolog.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		took := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		m.RecordHTTPRequest(c.Request.Method, route, status, took.Seconds())

		if route == "/health" || route == "/metrics" {
			return
		}
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("took", took).
			Msg("Request")
	}
}
