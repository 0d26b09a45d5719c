// Package httpapi 视图的 JSON 接口
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"crypto-live-dashboard/internal/live"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Views 视图注册表
type Views interface {
	Create(ctx context.Context, assetID, symbol string) (*live.Session, error)
	Get(id string) (*live.Session, bool)
	Remove(ctx context.Context, id string) error
	Len() int
}

type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	views      Views
	cadences   []string
	logger     *zap.Logger
}

func NewServer(addr string, views Views, cadences []string, logger *zap.Logger) *Server {
	router := gin.New()
	s := &Server{
		router:   router,
		views:    views,
		cadences: cadences,
		logger:   logger,
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.requestLogger())

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", s.health)

	v1 := s.router.Group("/v1")
	{
		v1.GET("/periods", s.listPeriods)

		views := v1.Group("/views")
		{
			views.POST("", s.createView)
			views.GET("/:id", s.getView)
			views.PUT("/:id/asset", s.bindAsset)
			views.PUT("/:id/period", s.selectPeriod)
			views.PUT("/:id/cadence", s.selectCadence)
			views.DELETE("/:id", s.deleteView)
		}
	}
}

// Handler 供测试直接驱动路由
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 阻塞直到服务关闭
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
