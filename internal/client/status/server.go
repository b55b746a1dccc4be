// Package status exposes task snapshots and metrics over HTTP for GUI and
// RPC collaborators. It never changes task state.
package status

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	defaultAddr         = "127.0.0.1:31416"
	defaultReadTimeout  = 5 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultIdleTimeout  = 60 * time.Second
)

// Config holds HTTP server settings.
type Config struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// ApplyDefaults fills zero fields.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = defaultAddr
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = defaultIdleTimeout
	}
}

// NewRouter builds the status routes. metrics may be nil.
func NewRouter(tasks Tasks, metrics http.Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(TraceContextMiddleware())
	router.Use(requestLogger())

	ctrl := NewTaskController(tasks)
	router.GET("/healthz", ctrl.Health)
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}

	api := router.Group("/api/v1/tasks")
	api.GET("", ctrl.List)
	api.GET("/:result", ctrl.Get)
	return router
}

// NewServer wraps the router in an http.Server.
func NewServer(cfg Config, tasks Tasks, metrics http.Handler) *http.Server {
	cfg.ApplyDefaults()
	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      NewRouter(tasks, metrics),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}
