package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"forecaster/internal/api"
	"forecaster/internal/config"
	"forecaster/internal/logging"
	"forecaster/internal/service"
)

// Server HTTP服务器
type Server struct {
	router *gin.Engine
	api    *api.Handler
	http   *http.Server
	log    zerolog.Logger
}

// NewServer 创建服务器
func NewServer(cfg *config.AppConfig, svc *service.Service, log zerolog.Logger) *Server {
	if !cfg.Server.DevMode {
		gin.SetMode(gin.ReleaseMode)
	}

	handler := api.NewHandler(svc, api.Options{
		MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
		UploadTTL:      time.Duration(cfg.Server.UploadTTLMinutes) * time.Minute,
	}, log)

	s := &Server{
		router: gin.New(),
		api:    handler,
		log:    log,
	}
	s.setupRoutes()
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// setupRoutes 设置路由
func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery(), logging.Middleware(s.log))

	// CORS
	s.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	group := s.router.Group("/api")
	{
		s.api.RegisterRoutes(group)
	}
}

// Handler 返回 HTTP 处理器（用于测试）
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run 启动服务器，直到 Shutdown 被调用
func (s *Server) Run() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("server listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
