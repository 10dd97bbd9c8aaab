// Package httpapi exposes the external triggers over HTTP: the inbound
// message hook, the outbound send request, quota administration and the
// dispatch event stream. The WhatsApp webhook front door proper (signature
// verification, media handling) lives outside this core and calls in here.
package httpapi

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mahm0udsaad/sufrah-bot-sub000/internal/dispatch"
	"github.com/mahm0udsaad/sufrah-bot-sub000/internal/events"
	"github.com/mahm0udsaad/sufrah-bot-sub000/internal/queue"
	"github.com/mahm0udsaad/sufrah-bot-sub000/internal/quota"
)

// StartOpts holds configuration for the API server.
type StartOpts struct {
	Service *dispatch.Service
	Ledger  *quota.Ledger
	Store   *queue.Store
	Bus     *events.Bus
	Port    int
	Out     io.Writer
}

// Start launches the API server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Service == nil {
		return fmt.Errorf("httpapi: service is required")
	}
	if opts.Ledger == nil {
		return fmt.Errorf("httpapi: ledger is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, opts)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "API listening on :%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("httpapi: %w", err)
	}
	return nil
}

// NewRouter builds the gin router without binding a listener, for tests.
func NewRouter(opts StartOpts) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	registerRoutes(router, opts)
	return router
}

// registerRoutes sets up all API routes.
func registerRoutes(router *gin.Engine, opts StartOpts) {
	router.POST("/hooks/inbound", handleInbound(opts.Service))
	router.POST("/v1/messages", handleSend(opts.Service))
	router.GET("/v1/jobs/:id", handleJob(opts.Store))
	router.GET("/v1/tenants/:id/quota", handleQuotaStatus(opts.Ledger))
	router.POST("/v1/tenants/:id/quota/renew", handleRenew(opts.Ledger))
	router.GET("/v1/quota/nearing", handleNearing(opts.Ledger))
	router.GET("/api/events", handleSSE(opts.Bus))
}
