// Package server provides the admin HTTP server of a Corral node.
// It exposes the services facade, the handle codec, the registry event
// stream and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shepherd-project/corral/internal/api"
	"github.com/shepherd-project/corral/internal/catalog"
	"github.com/shepherd-project/corral/internal/config"
	"github.com/shepherd-project/corral/internal/kernel"
	"github.com/shepherd-project/corral/internal/logger"
)

// Server represents the HTTP server
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	listener   net.Listener
	config     *Config
	kernel     *kernel.Kernel
	catalog    *catalog.Catalog
	gatherer   prometheus.Gatherer
	log        *logger.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config contains server configuration
type Config struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	CORSEnabled    bool
	AllowedOrigins []string
	// DeployTimeout bounds how long a request waits on a deploy or cancel
	DeployTimeout time.Duration
}

// ConfigFrom converts the file configuration
func ConfigFrom(c *config.ServerConfig) *Config {
	return &Config{
		Host:           c.Host,
		Port:           c.Port,
		ReadTimeout:    time.Duration(c.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(c.WriteTimeout) * time.Second,
		CORSEnabled:    c.CORSEnabled,
		AllowedOrigins: c.AllowedOrigins,
		DeployTimeout:  30 * time.Second,
	}
}

// NewServer creates a new HTTP server. gatherer serves /metrics; nil uses
// the default Prometheus registry.
func NewServer(cfg *Config, k *kernel.Kernel, cat *catalog.Catalog, gatherer prometheus.Gatherer, log *logger.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if cat == nil {
		cat = catalog.Builtin()
	}
	if log == nil {
		log = logger.GetLogger()
	}
	if cfg.DeployTimeout <= 0 {
		cfg.DeployTimeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		config:   cfg,
		kernel:   k,
		catalog:  cat,
		gatherer: gatherer,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}

	gin.SetMode(gin.ReleaseMode)
	s.engine = gin.New()
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures server middleware
func (s *Server) setupMiddleware() {
	s.engine.Use(
		api.RequestID(),
		api.NodeID(s.kernel.NodeID().String()),
		api.RecoveryMiddleware(s.log),
		api.LoggerMiddleware(s.log),
	)
	if s.config.CORSEnabled {
		s.engine.Use(api.CORSMiddleware(s.config.AllowedOrigins))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	apiGroup := s.engine.Group("/api")
	{
		apiGroup.GET("/info", s.handleInfo)
		apiGroup.GET("/events", s.handleEvents)

		svc := apiGroup.Group("/services")
		{
			svc.GET("", s.handleListServices)
			svc.POST("", s.handleDeploy)
			svc.DELETE("", s.handleCancelAll)
			svc.GET("/history", s.handleHistory)
			svc.DELETE("/:name", s.handleCancel)
		}

		handle := apiGroup.Group("/handle")
		{
			handle.GET("", s.handleEncode)
			handle.POST("/resolve", s.handleResolve)
		}
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil {
		return fmt.Errorf("server already started")
	}

	addr := net.JoinHostPort(s.config.Host, fmt.Sprint(s.config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:      s.engine,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.wg.Add(1)
	go func(srv *http.Server) {
		defer s.wg.Done()

		s.log.Infof("启动 HTTP 服务器，监听 %s", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorf("HTTP 服务器错误: %v", err)
		}
		s.log.Info("HTTP 服务器已停止")
	}(s.httpServer)

	return nil
}

// Addr returns the listening address, or nil before Start
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops the HTTP server gracefully and ends event streams
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.mu.Unlock()

	s.cancel()
	if srv == nil {
		return nil
	}

	s.log.Info("关闭 HTTP 服务器...")
	if err := srv.Shutdown(ctx); err != nil {
		s.log.Errorf("HTTP 服务器关闭失败: %v", err)
		_ = srv.Close()
		return err
	}
	s.wg.Wait()
	s.log.Info("HTTP 服务器已优雅关闭")
	return nil
}

// GetEngine returns the Gin engine (for testing)
func (s *Server) GetEngine() *gin.Engine {
	return s.engine
}
