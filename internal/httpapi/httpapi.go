// Package httpapi is the optional HTTP transport. It reuses the dispatcher's
// Handle path verbatim, so a request posted to /jsonrpc yields the same
// result bytes the stdio transport would produce for the same envelope.
package httpapi

import (
	"context"
	"crypto/subtle"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/contextkeep/ltmc/internal/memory"
	"github.com/contextkeep/ltmc/internal/platform/logger"
	"github.com/contextkeep/ltmc/internal/platform/metrics"
	"github.com/contextkeep/ltmc/internal/rpc"
)

const maxBodyBytes = 8 << 20

type Config struct {
	Addr        string
	AuthEnabled bool
	APIToken    string
}

type Server struct {
	cfg    Config
	disp   *rpc.Dispatcher
	mem    memory.Service
	reg    *metrics.Registry
	log    *logger.Logger
	server *http.Server
}

func NewServer(cfg Config, disp *rpc.Dispatcher, mem memory.Service, reg *metrics.Registry, log *logger.Logger) *Server {
	s := &Server{
		cfg:  cfg,
		disp: disp,
		mem:  mem,
		reg:  reg,
		log:  log.With("component", "httpapi"),
	}
	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	// gin's default logger writes to stdout, which this process reserves for
	// JSON-RPC envelopes.
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000", "http://127.0.0.1:3000"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.GET("/health", s.handleHealth)

	protected := r.Group("/")
	if s.cfg.AuthEnabled {
		protected.Use(s.requireBearer())
	}
	protected.GET("/tools", s.handleTools)
	protected.POST("/jsonrpc", s.handleJSONRPC)

	return r
}

func (s *Server) requireBearer() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.APIToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Unauthorized",
				"message": "missing or invalid bearer token",
			})
			return
		}
		c.Next()
	}
}

func (s *Server) handleJSONRPC(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "ParseError", "message": err.Error()})
		return
	}
	// All JSON-RPC outcomes, including envelope errors, ride HTTP 200; the
	// transport only reports transport problems.
	c.JSON(http.StatusOK, s.disp.Handle(c.Request.Context(), body))
}

func (s *Server) handleTools(c *gin.Context) {
	c.JSON(http.StatusOK, s.disp.Catalog())
}

func (s *Server) handleHealth(c *gin.Context) {
	health, err := s.mem.Health(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "error": err.Error()})
		return
	}
	status := http.StatusOK
	c.JSON(status, gin.H{
		"status":   health.Status,
		"health":   health,
		"handlers": s.reg.Snapshot(),
	})
}

// Start blocks until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.log.Info("http transport listening", "addr", s.cfg.Addr)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
