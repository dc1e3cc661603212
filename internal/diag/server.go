package diag

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lunahq/realtime/internal/infrastructure/config"
	"github.com/lunahq/realtime/internal/infrastructure/logging"
	"github.com/lunahq/realtime/internal/infrastructure/monitoring"
	"github.com/lunahq/realtime/internal/registry"
)

// Server serves the diagnostics endpoints over HTTP.
type Server struct {
	logger   *logging.Logger
	router   *gin.Engine
	registry *registry.Registry
	srv      *http.Server
	started  time.Time
}

// New builds the diagnostics server. The registry may be nil; the
// connections endpoint then reports an empty set.
func New(cfg config.DiagConfig, logger *logging.Logger, metrics *monitoring.Metrics, reg *registry.Registry) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Accept", "Origin"},
		MaxAge:       12 * time.Hour,
	}))

	s := &Server{
		logger:   logger.Named("diag"),
		router:   router,
		registry: reg,
		started:  time.Now(),
		srv: &http.Server{
			Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}

	router.GET("/health", s.health)
	router.GET("/connections", s.connections)
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
			metrics.Registry(),
			promhttp.HandlerOpts{},
		)))
	}
	return s
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start serves until Shutdown. Blocks.
func (s *Server) Start() error {
	s.logger.Info("diagnostics server listening", zap.String("addr", s.srv.Addr))
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.started).String(),
	})
}

func (s *Server) connections(c *gin.Context) {
	if s.registry == nil {
		c.JSON(http.StatusOK, registry.Stats{PerConnection: []registry.ConnectionStats{}})
		return
	}
	c.JSON(http.StatusOK, s.registry.GetStats())
}
