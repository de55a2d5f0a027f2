package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iliyamo/raffle-settlement/internal/clock"
	"github.com/iliyamo/raffle-settlement/internal/middleware"
	"github.com/iliyamo/raffle-settlement/internal/model"
	"github.com/iliyamo/raffle-settlement/internal/service"
)

const (
	defaultAnomalyLimit = 100
	maxAnomalyLimit     = 500
	defaultPollLimit    = 50
)

// AdminHandler serves the operator endpoints under /v1/admin.  Every
// mutating call is logged with the acting operator.
type AdminHandler struct {
	Engine *service.Engine
	Clock  clock.Clock
	Log    *zap.Logger
}

func NewAdminHandler(engine *service.Engine, clk clock.Clock, log *zap.Logger) *AdminHandler {
	if clk == nil {
		clk = clock.System()
	}
	return &AdminHandler{Engine: engine, Clock: clk, Log: log.Named("admin")}
}

func formatID(id int64) string { return strconv.FormatInt(id, 10) }

func (h *AdminHandler) audit(c echo.Context, action string, fields ...zap.Field) {
	h.Log.Info(action, append(fields, zap.String("operator_id", middleware.OperatorID(c)))...)
}

type createDrawReq struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	RangeStart int    `json:"range_start"`
	RangeEnd   int    `json:"range_end"`
	Price      string `json:"price"`
	PrizeTotal string `json:"prize_total"`
	BaseQty    int    `json:"base_qty"`
	IsActive   *bool  `json:"is_active"`
}

// CreateDraw handles POST /v1/admin/draws.
func (h *AdminHandler) CreateDraw(c echo.Context) error {
	var req createDrawReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	price, err := decimal.NewFromString(strings.TrimSpace(req.Price))
	if err != nil {
		return badRequest(c, "price must be a decimal string")
	}
	prize := decimal.Zero
	if s := strings.TrimSpace(req.PrizeTotal); s != "" {
		if prize, err = decimal.NewFromString(s); err != nil {
			return badRequest(c, "prize_total must be a decimal string")
		}
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	d, err := h.Engine.Draws.Create(c.Request().Context(), model.Draw{
		Name:       strings.TrimSpace(req.Name),
		Type:       model.DrawType(strings.ToUpper(strings.TrimSpace(req.Type))),
		RangeStart: req.RangeStart,
		RangeEnd:   req.RangeEnd,
		Price:      price,
		PrizeTotal: prize,
		BaseQty:    req.BaseQty,
		IsActive:   active,
	})
	if err != nil {
		return writeError(c, err)
	}
	h.audit(c, "draw created", zap.Uint64("draw_id", d.ID))
	return c.JSON(http.StatusCreated, toDrawResp(d))
}

// GetDraw handles GET /v1/admin/draws/:id.
func (h *AdminHandler) GetDraw(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return badRequest(c, "invalid draw id")
	}
	d, err := h.Engine.Draws.Get(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toDrawResp(d))
}

func (h *AdminHandler) setActive(c echo.Context, active bool) error {
	id, ok := pathID(c)
	if !ok {
		return badRequest(c, "invalid draw id")
	}
	if err := h.Engine.Draws.SetActive(c.Request().Context(), id, active); err != nil {
		return writeError(c, err)
	}
	h.audit(c, "draw activity changed", zap.Uint64("draw_id", id), zap.Bool("active", active))
	return c.NoContent(http.StatusNoContent)
}

// Activate handles POST /v1/admin/draws/:id/activate.
func (h *AdminHandler) Activate(c echo.Context) error { return h.setActive(c, true) }

// Deactivate handles POST /v1/admin/draws/:id/deactivate.
func (h *AdminHandler) Deactivate(c echo.Context) error { return h.setActive(c, false) }

type settleReq struct {
	DrawnNumber *int `json:"drawn_number"`
}

// Settle handles POST /v1/admin/draws/:id/settle.
func (h *AdminHandler) Settle(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return badRequest(c, "invalid draw id")
	}
	var req settleReq
	if err := c.Bind(&req); err != nil || req.DrawnNumber == nil {
		return badRequest(c, "drawn_number is required")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 30*time.Second)
	defer cancel()

	s, err := h.Engine.Settlement.Settle(ctx, id, *req.DrawnNumber)
	if err != nil {
		return writeError(c, err)
	}
	h.audit(c, "draw settled", zap.Uint64("draw_id", id), zap.Int("drawn_number", s.DrawnNumber),
		zap.Int("winners", s.WinnersCount))
	return c.JSON(http.StatusOK, toSettlementResp(s))
}

// GetSettlement handles GET /v1/admin/draws/:id/settlement.
func (h *AdminHandler) GetSettlement(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return badRequest(c, "invalid draw id")
	}
	s, err := h.Engine.Settlement.Get(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toSettlementResp(s))
}

// AdvanceRound handles POST /v1/admin/campaigns/:id/rounds.
func (h *AdminHandler) AdvanceRound(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return badRequest(c, "invalid campaign id")
	}
	round, err := h.Engine.Pool.AdvanceRound(c.Request().Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	h.audit(c, "pool round advanced", zap.Uint64("campaign_id", id), zap.Int("round", round))
	return c.JSON(http.StatusOK, echo.Map{"campaign_id": id, "current_round": round})
}

// ListAnomalies handles GET /v1/admin/anomalies?kind=&unresolved=&limit=.
func (h *AdminHandler) ListAnomalies(c echo.Context) error {
	f := model.AnomalyFilter{
		Kind:  model.AnomalyKind(strings.ToUpper(strings.TrimSpace(c.QueryParam("kind")))),
		Limit: defaultAnomalyLimit,
	}
	if v := c.QueryParam("unresolved"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return badRequest(c, "unresolved must be a boolean")
		}
		f.UnresolvedOnly = b
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return badRequest(c, "limit must be a positive integer")
		}
		f.Limit = min(n, maxAnomalyLimit)
	}

	ctx := c.Request().Context()
	list, err := h.Engine.Anomalies.List(ctx, f)
	if err != nil {
		return writeError(c, err)
	}
	total, err := h.Engine.Anomalies.Count(ctx, model.AnomalyFilter{Kind: f.Kind, UnresolvedOnly: f.UnresolvedOnly})
	if err != nil {
		return writeError(c, err)
	}
	items := make([]anomalyResp, 0, len(list))
	for _, a := range list {
		items = append(items, toAnomalyResp(a))
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items, "total": total})
}

type resolveReq struct {
	Note string `json:"note"`
}

// ResolveAnomaly handles POST /v1/admin/anomalies/:id/resolve.
func (h *AdminHandler) ResolveAnomaly(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return badRequest(c, "invalid anomaly id")
	}
	var req resolveReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := h.Engine.Anomalies.Resolve(c.Request().Context(), id, strings.TrimSpace(req.Note)); err != nil {
		return writeError(c, err)
	}
	h.audit(c, "anomaly resolved", zap.Int64("anomaly_id", id))
	return c.NoContent(http.StatusNoContent)
}

// Sweep handles POST /v1/admin/reconcile/sweep.
func (h *AdminHandler) Sweep(c echo.Context) error {
	rep, err := h.Engine.Reconciler.SweepExpired(c.Request().Context(), h.Clock.Now())
	if err != nil {
		return writeError(c, err)
	}
	h.audit(c, "manual sweep", zap.Int("orders", rep.Orders), zap.Int("claims", rep.Claims))
	return c.JSON(http.StatusOK, rep)
}

// Poll handles POST /v1/admin/reconcile/poll?limit=.
func (h *AdminHandler) Poll(c echo.Context) error {
	limit := defaultPollLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return badRequest(c, "limit must be a positive integer")
		}
		limit = n
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 60*time.Second)
	defer cancel()

	rep, err := h.Engine.Reconciler.Poll(ctx, limit)
	if err != nil {
		return writeError(c, err)
	}
	h.audit(c, "manual poll", zap.Int("seen", rep.Seen), zap.Int("applied", rep.Applied))
	return c.JSON(http.StatusOK, rep)
}

// ReconcilePayment handles POST /v1/admin/payments/:ref/reconcile: the
// payment is fetched from the gateway and applied.
func (h *AdminHandler) ReconcilePayment(c echo.Context) error {
	ref := strings.TrimSpace(c.Param("ref"))
	if ref == "" {
		return badRequest(c, "payment ref is required")
	}
	res, err := h.Engine.Reconciler.HandleNotification(c.Request().Context(), ref)
	if err != nil {
		return writeError(c, err)
	}
	h.audit(c, "payment reconciled", zap.String("payment_ref", ref), zap.Bool("applied", res.Applied))
	return c.JSON(http.StatusOK, res)
}

type cancelReq struct {
	Reason string `json:"reason"`
}

// ConfirmPayment handles POST /v1/admin/payments/:ref/confirm for
// payments settled outside the gateway.
func (h *AdminHandler) ConfirmPayment(c echo.Context) error {
	ref := strings.TrimSpace(c.Param("ref"))
	if ref == "" {
		return badRequest(c, "payment ref is required")
	}
	res, err := h.Engine.Reconciler.Confirm(c.Request().Context(), ref)
	if err != nil {
		return writeError(c, err)
	}
	h.audit(c, "payment confirmed manually", zap.String("payment_ref", ref), zap.String("kind", string(res.Kind)))
	return c.JSON(http.StatusOK, res)
}

// CancelPayment handles POST /v1/admin/payments/:ref/cancel.
func (h *AdminHandler) CancelPayment(c echo.Context) error {
	ref := strings.TrimSpace(c.Param("ref"))
	if ref == "" {
		return badRequest(c, "payment ref is required")
	}
	var req cancelReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "cancelled by operator"
	}
	res, err := h.Engine.Reconciler.Cancel(c.Request().Context(), ref, reason)
	if err != nil {
		return writeError(c, err)
	}
	h.audit(c, "payment cancelled manually", zap.String("payment_ref", ref))
	return c.JSON(http.StatusOK, res)
}

type chainNode struct {
	Tier  int    `json:"tier"`
	Kind  string `json:"kind"`
	Key   string `json:"key"`
	Phone string `json:"phone"`
}

// AffiliateChain handles GET /v1/admin/affiliates/chain?referrer=.
func (h *AdminHandler) AffiliateChain(c echo.Context) error {
	referrer := strings.TrimSpace(c.QueryParam("referrer"))
	if referrer == "" {
		return badRequest(c, "referrer is required")
	}
	chain, err := h.Engine.Affiliates.ResolveChain(c.Request().Context(), referrer)
	if err != nil {
		return writeError(c, err)
	}
	nodes := make([]chainNode, 0, len(chain))
	for i, a := range chain {
		nodes = append(nodes, chainNode{Tier: i, Kind: string(a.Kind), Key: a.Key, Phone: a.Phone})
	}
	return c.JSON(http.StatusOK, echo.Map{"referrer": referrer, "chain": nodes})
}
