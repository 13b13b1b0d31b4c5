package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ledgersync/backend/internal/interfaces/http/handler"
)

// Handlers are the endpoints served by the control API
type Handlers struct {
	Sync   *handler.SyncHandler
	Ledger *handler.LedgerHandler
	OAuth  *handler.OAuthHandler
	System *handler.SystemHandler
	// Metrics serves the prometheus scrape endpoint; nil disables /metrics
	Metrics http.Handler
}

// SetupControlRoutes registers the full control API on engine.
// scopeMiddleware runs on every /api/v1/scopes/:scope route.
func SetupControlRoutes(engine *gin.Engine, h Handlers, scopeMiddleware ...gin.HandlerFunc) {
	engine.GET("/healthz", h.System.Health)
	if h.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(h.Metrics))
	}

	oauth := engine.Group("/oauth")
	oauth.GET("/authorize", h.OAuth.Authorize)
	oauth.GET("/callback", h.OAuth.Callback)

	scopes := NewGroup("scopes", "/scopes/:scope").Use(scopeMiddleware...)
	scopes.Sub("stages", "/stages/:stage").
		POST("/run", h.Sync.RunStage).
		POST("/resume", h.Sync.Resume)
	scopes.POST("/sync", h.Sync.Sync).
		GET("/status", h.Sync.Status).
		GET("/rate-limit", h.Sync.RateLimit)
	scopes.Sub("ledger", "").
		GET("/items/:external_id/mapping", h.Ledger.GetMapping).
		PUT("/items/:external_id/mapping", h.Ledger.OverrideMapping).
		GET("/transactions/:kind/:external_id/verify", h.Ledger.Verify).
		POST("/invoices/:external_id/recompute", h.Ledger.RecomputeInvoice)

	system := NewGroup("system", "/system").
		GET("/info", h.System.GetSystemInfo)

	NewAPI(engine, "v1").Add(scopes, system).Mount()
}
