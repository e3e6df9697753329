// Package server assembles the records backend: gin routes, authentication,
// observability middleware and the (optionally TLS) listener.
package server

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-records/internal/api"
	"github.com/celerix-dev/celerix-records/internal/engine"
	"github.com/celerix-dev/celerix-records/internal/logging"
	"github.com/celerix-dev/celerix-records/internal/metrics"
)

// Options configures the router.
type Options struct {
	// APITokens are the accepted credentials. Empty disables authentication.
	APITokens []string
	// MetricsPath serves Prometheus metrics; empty disables it.
	MetricsPath string
	// MaxInFlight bounds concurrent API requests (default 100).
	MaxInFlight int
}

type Router struct {
	engine *gin.Engine
	cert   *tls.Certificate

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
}

// NewRouter wires the API handlers for store.
func NewRouter(store engine.RecordStore, opts Options) *Router {
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = 100
	}

	h := &api.Handler{Store: store}
	r := gin.New()
	r.Use(gin.Recovery(), logging.Middleware(), metrics.Middleware(), cors())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if opts.MetricsPath != "" {
		r.GET(opts.MetricsPath, gin.WrapH(metrics.Handler()))
	}

	if len(opts.APITokens) == 0 {
		logging.Warn("no API tokens configured, authentication is disabled")
	}

	apiGroup := r.Group("/api", limit(opts.MaxInFlight), TokenAuth(opts.APITokens))
	{
		apiGroup.GET("/records/", h.ListRecords)
		apiGroup.POST("/records/", h.CreateRecord)
		apiGroup.GET("/records/export/", h.ExportRecords)
		apiGroup.GET("/records/:id/", h.GetRecord)
		apiGroup.PUT("/records/:id/", h.UpdateRecord)

		apiGroup.GET("/batches/", h.ListBatches)
		apiGroup.POST("/batches/", h.CreateBatch)

		apiGroup.POST("/relationships/", h.AddRelationship)
		apiGroup.DELETE("/relationships/:id/", h.RemoveRelationship)

		apiGroup.GET("/dashboard-stats/", h.DashboardStats)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not found."})
	})

	return &Router{engine: r}
}

// Handler exposes the router for httptest and embedding.
func (r *Router) Handler() http.Handler {
	return r.engine
}

// SetCertificate sets the TLS certificate for the router
func (r *Router) SetCertificate(cert tls.Certificate) {
	r.cert = &cert
}

// Listen serves HTTP (or HTTPS once a certificate is set) on addr until
// Shutdown is called.
func (r *Router) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	if r.cert != nil {
		ln = tls.NewListener(ln, &tls.Config{
			Certificates: []tls.Certificate{*r.cert},
			MinVersion:   tls.VersionTLS12,
		})
	}

	srv := &http.Server{
		Handler:           r.engine,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       5 * time.Minute,
	}
	r.mu.Lock()
	r.srv = srv
	r.listener = ln
	r.mu.Unlock()

	logging.Info("listening", zap.String("addr", ln.Addr().String()), zap.Bool("tls", r.cert != nil))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (r *Router) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (r *Router) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	srv := r.srv
	r.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// TokenAuth accepts "Authorization: Token <t>" or "Bearer <t>" for any of
// tokens. With no tokens every request passes.
func TokenAuth(tokens []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(tokens) == 0 {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		scheme, credential, ok := strings.Cut(header, " ")
		if header == "" || !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Authentication credentials were not provided."})
			return
		}
		if scheme != "Token" && scheme != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Invalid authentication scheme."})
			return
		}

		credential = strings.TrimSpace(credential)
		for _, t := range tokens {
			if subtle.ConstantTimeCompare([]byte(credential), []byte(t)) == 1 {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Invalid token."})
	}
}

// limit rejects requests beyond max concurrent ones with 503.
func limit(max int) gin.HandlerFunc {
	semaphore := make(chan struct{}, max)
	return func(c *gin.Context) {
		select {
		case semaphore <- struct{}{}:
			defer func() { <-semaphore }()
			c.Next()
		default:
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"detail": "Server busy."})
		}
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
