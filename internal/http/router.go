package http

import (
	"log/slog"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.ngs.io/metnorm/internal/usecase"
)

// RouterConfig holds the settings the router needs beyond the use case.
type RouterConfig struct {
	DataDir        string
	AllowedOrigins []string // Empty allows all origins.
	Clock          clockwork.Clock
	Logger         *slog.Logger
}

// SetupRouter creates and configures the Gin router.
func SetupRouter(normalizeUC *usecase.NormalizeUseCase, cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(cfg.Logger))

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	router.Use(cors.New(corsConfig))

	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	handler := NewHandler(normalizeUC, cfg.DataDir, clock)

	v1 := router.Group("/v1")
	v1.GET("/dates/tokens", handler.GetDateTokens)
	v1.GET("/tables", handler.GetTable)
	v1.GET("/matrix", handler.GetMatrix)
	v1.GET("/matrix/sample", handler.GetSample)
	v1.GET("/frames", handler.GetFrames)
	v1.POST("/requests/era5", handler.PostEra5Request)

	router.GET("/health", handler.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}

// requestLogger logs one line per request.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
