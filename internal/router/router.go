// Package router defines how HTTP routes are registered for the API.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/iliyamo/raffle-settlement/internal/handler"
	"github.com/iliyamo/raffle-settlement/internal/middleware"
	"github.com/iliyamo/raffle-settlement/internal/model"
)

// RegisterRoutes registers the unauthenticated probes.
func RegisterRoutes(e *echo.Echo, gatherer prometheus.Gatherer) {
	e.GET("/healthz", handler.Health)
	e.GET("/metrics", handler.Metrics(gatherer))
}

// RegisterPublic registers the buyer endpoints under /v1.  limit may be
// nil.
func RegisterPublic(e *echo.Echo, p *handler.PurchaseHandler, limit echo.MiddlewareFunc) {
	var mw []echo.MiddlewareFunc
	if limit != nil {
		mw = append(mw, limit)
	}
	g := e.Group("/v1", mw...)
	g.GET("/draws/:id/numbers", p.Numbers)
	g.POST("/draws/:id/orders", p.Reserve)
	g.POST("/campaigns/:id/claims", p.Claim)
	g.GET("/campaigns/:id/usage", p.RoundUsage)
}

// RegisterWebhooks registers gateway callbacks.  They are never rate
// limited: the gateway retries and a dropped notification only delays
// confirmation until the next poll.
func RegisterWebhooks(e *echo.Echo, w *handler.WebhookHandler) {
	e.POST("/v1/webhooks/payments", w.Payment)
}

// RegisterAuth registers operator login and the token probe.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	e.POST("/v1/auth/login", a.Login)
	e.GET("/v1/auth/me", a.Me, middleware.JWTAuth(jwtSecret))
}

// RegisterAdmin registers OPERATOR-scoped endpoints under /v1/admin.
func RegisterAdmin(e *echo.Echo, h *handler.AdminHandler, jwtSecret string) {
	g := e.Group(
		"/v1/admin",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleOperator),
	)

	// ---- Draws ----
	g.POST("/draws", h.CreateDraw)
	g.GET("/draws/:id", h.GetDraw)
	g.POST("/draws/:id/activate", h.Activate)
	g.POST("/draws/:id/deactivate", h.Deactivate)
	g.POST("/draws/:id/settle", h.Settle)
	g.GET("/draws/:id/settlement", h.GetSettlement)

	// ---- Pool campaigns ----
	g.POST("/campaigns/:id/rounds", h.AdvanceRound)

	// ---- Reconciliation ----
	g.POST("/reconcile/sweep", h.Sweep)
	g.POST("/reconcile/poll", h.Poll)
	g.POST("/payments/:ref/reconcile", h.ReconcilePayment)
	g.POST("/payments/:ref/confirm", h.ConfirmPayment)
	g.POST("/payments/:ref/cancel", h.CancelPayment)

	// ---- Anomalies ----
	g.GET("/anomalies", h.ListAnomalies)
	g.POST("/anomalies/:id/resolve", h.ResolveAnomaly)

	// ---- Affiliates ----
	g.GET("/affiliates/chain", h.AffiliateChain)
}
