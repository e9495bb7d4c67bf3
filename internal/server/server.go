// Package server exposes the orchestrators over HTTP.
package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/zulandar/roundhouse/internal/broadcast"
	"github.com/zulandar/roundhouse/internal/conversation"
	"github.com/zulandar/roundhouse/internal/llm"
	"github.com/zulandar/roundhouse/internal/notify"
	"github.com/zulandar/roundhouse/internal/pipeline"
)

// Keys are the provider credentials reported by health and debug.
type Keys struct {
	OpenAI   string
	DeepSeek string
}

// Opts holds the collaborators behind the routes.
type Opts struct {
	Pipeline    *pipeline.Orchestrator
	Broadcast   *broadcast.Orchestrator
	Store       conversation.Store
	Hub         *notify.Hub      // event source for SSE
	Gateway     llm.Gateway      // used by /api/test-ai
	Costs       *llm.CostTracker // optional
	Keys        Keys
	Environment string
	Heartbeat   time.Duration // SSE keepalive; defaults to 15s
	Out         io.Writer     // request log; nil disables it
}

type handlers struct {
	Opts
}

// NewRouter builds the gin engine serving every route.
func NewRouter(opts Opts) (*gin.Engine, error) {
	if opts.Pipeline == nil {
		return nil, fmt.Errorf("server: pipeline is required")
	}
	if opts.Broadcast == nil {
		return nil, fmt.Errorf("server: broadcast is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("server: store is required")
	}
	if opts.Hub == nil {
		return nil, fmt.Errorf("server: hub is required")
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 15 * time.Second
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLog(opts.Out))

	h := &handlers{Opts: opts}
	api := router.Group("/api")
	api.POST("/multi-agent", h.multiAgent)
	api.POST("/realtime-agents", h.realtimeAgents)
	api.GET("/tasks/:id", h.task)
	api.GET("/tasks/:id/events", h.taskEvents)
	api.GET("/health", h.health)
	api.GET("/debug", h.debug)
	api.GET("/test-ai", h.testAI)
	return router, nil
}

// StartOpts holds configuration for the HTTP server.
type StartOpts struct {
	Opts
	Host            string
	Port            int
	ShutdownTimeout time.Duration
}

// Start launches the HTTP server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Port <= 0 {
		opts.Port = 8080
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}

	gin.SetMode(gin.ReleaseMode)
	router, err := NewRouter(opts.Opts)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port))
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Roundhouse API listening on http://%s\n", displayAddr(opts.Host, opts.Port))
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

func displayAddr(host string, port int) string {
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// requestLog tags each request with an id and logs it when done.
func requestLog(out io.Writer) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()[:8]
		}
		c.Header("X-Request-ID", id)
		start := time.Now()
		c.Next()
		if out != nil {
			fmt.Fprintf(out, "server: [%s] %s %s %d (%s)\n", id, c.Request.Method, c.Request.URL.Path,
				c.Writer.Status(), time.Since(start).Round(time.Millisecond))
		}
	}
}
