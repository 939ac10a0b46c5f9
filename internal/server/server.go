package server

import (
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/polyrelay/polyrelay/internal/config"
	"github.com/polyrelay/polyrelay/internal/pool"
	"github.com/polyrelay/polyrelay/internal/storage"
)

// Server represents the ops API server
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	router *gin.Engine
	bridge *storage.Bridge

	// 重载时整体换新，读写都走访问器
	poolMu sync.RWMutex
	pool   *pool.Pool
}

// New creates a new server instance
func New(cfg *config.Config, logger *zap.Logger, bridge *storage.Bridge, p *pool.Pool) (*Server, error) {
	// 设置Gin模式
	gin.SetMode(cfg.Server.Mode)

	s := &Server{
		cfg:    cfg,
		logger: logger,
		router: gin.New(),
		bridge: bridge,
		pool:   p,
	}

	// 设置中间件
	s.setupMiddleware()

	// 设置路由
	s.setupRoutes()

	return s, nil
}

// Router returns the gin engine
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Pool returns the current pool instance
func (s *Server) Pool() *pool.Pool {
	s.poolMu.RLock()
	defer s.poolMu.RUnlock()
	return s.pool
}

func (s *Server) swapPool(p *pool.Pool) {
	s.poolMu.Lock()
	s.pool = p
	s.poolMu.Unlock()
}

func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.router.Use(gin.Recovery())

	// Request ID middleware
	s.router.Use(s.requestIDMiddleware())

	// Logger middleware
	s.router.Use(s.loggerMiddleware())
}

func (s *Server) setupRoutes() {
	// 根路径返回简单状态
	s.router.GET("/", func(c *gin.Context) {
		c.String(200, "ok")
	})

	// 健康检查
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/ping", s.ping)

	v1 := s.router.Group("/v1")
	{
		// 账号池
		v1.GET("/pool/status", s.poolStatus)
		v1.POST("/pool/reload", s.poolReload)
		v1.GET("/pool/history", s.poolHistory)

		// 日志
		v1.GET("/logs", s.getLogs)
		v1.DELETE("/logs", s.clearLogs)
	}
}

// 基础handlers
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok", "storage": s.bridge.Engine()})
}

func (s *Server) ping(c *gin.Context) {
	c.JSON(200, gin.H{"message": "pong"})
}
