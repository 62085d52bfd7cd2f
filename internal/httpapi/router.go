// Package httpapi is the administrative control plane (§6): lifecycle
// (enable/disable), strategy upsert, market signal ingestion, and
// read-only fleet/safety views. It never touches internal/store directly —
// every handler calls through the *runner.Scheduler admin facade, the same
// separation the teacher draws between its HTTP layer and its repository
// layer.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nfa-labs/agentrunner/internal/runner"
	"github.com/nfa-labs/agentrunner/pkg/logger"
)

// Server wires the gin engine, HTTP server, and the handler it dispatches to.
type Server struct {
	engine *gin.Engine
	http   *http.Server
}

// NewServer builds the control-plane router. apiKey gates the mutating
// routes and (optionally) /metrics; an empty apiKey disables auth entirely,
// matching the teacher's opt-in API_KEY env var.
func NewServer(addr string, sched *runner.Scheduler, apiKey string, metricsKeyRequired bool, metricsHandler http.Handler) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), zapLogger())

	h := &handler{sched: sched}
	auth := apiKeyAuth(apiKey)

	engine.POST("/enable", auth, h.enable)
	engine.POST("/disable", auth, h.disable)
	engine.POST("/strategy/upsert", auth, h.strategyUpsert)
	engine.POST("/market/signal", auth, h.marketSignal)
	engine.POST("/market/signal/batch", auth, h.marketSignalBatch)
	engine.POST("/market/signal/sync", auth, h.marketSignalSync)

	engine.GET("/status", h.status)
	engine.GET("/status/all", h.statusAll)
	engine.GET("/status/stream", h.statusStream)
	engine.GET("/autopilots", h.statusAll)
	engine.GET("/health", h.health)
	engine.GET("/shadow/metrics", h.shadowMetrics)
	engine.GET("/v3/safety/:tokenId/metrics", h.safetyMetrics)
	engine.GET("/v3/safety/:tokenId/timeline", h.safetyTimeline)
	engine.GET("/v3/safety/:tokenId/violations", h.safetyViolations)

	if metricsHandler != nil {
		metricsRoute := engine.Group("/metrics")
		if metricsKeyRequired {
			metricsRoute.Use(auth)
		}
		metricsRoute.GET("", gin.WrapH(metricsHandler))
	}

	return &Server{
		engine: engine,
		http: &http.Server{
			Addr:         addr,
			Handler:      engine,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Start blocks until the server is shut down. Call in its own goroutine.
func (s *Server) Start() error {
	logger.Info("control plane listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully drains in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func zapLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
