package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/raffle-settlement/internal/service"
)

// PurchaseHandler serves the public buying endpoints.
type PurchaseHandler struct {
	Engine *service.Engine
}

func NewPurchaseHandler(engine *service.Engine) *PurchaseHandler {
	return &PurchaseHandler{Engine: engine}
}

type reserveReq struct {
	Phone      string `json:"phone"`
	Name       string `json:"name"`
	PixKey     string `json:"pix_key"`
	Number     *int   `json:"number"`
	PaymentRef string `json:"payment_ref"`
	Referrer   string `json:"referrer"`
}

type claimReq struct {
	Phone      string `json:"phone"`
	Name       string `json:"name"`
	Qty        int    `json:"qty"`
	PaymentRef string `json:"payment_ref"`
}

func pathID(c echo.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	return id, err == nil && id > 0
}

// Reserve handles POST /v1/draws/:id/orders.  The buyer is upserted by
// phone and the order carries the buyer's opaque reference.  Omitting
// number lets the engine pick the lowest free one.
func (h *PurchaseHandler) Reserve(c echo.Context) error {
	drawID, ok := pathID(c)
	if !ok {
		return badRequest(c, "invalid draw id")
	}
	var req reserveReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if strings.TrimSpace(req.Phone) == "" {
		return badRequest(c, "phone is required")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	cust, err := h.Engine.Customers.Upsert(ctx, req.Phone, req.Name, req.PixKey)
	if err != nil {
		return writeError(c, err)
	}
	o, err := h.Engine.Inventory.Reserve(ctx, service.ReserveRequest{
		DrawID:       drawID,
		Number:       req.Number,
		BuyerRef:     service.BuyerRef(cust),
		PaymentRef:   strings.TrimSpace(req.PaymentRef),
		ReferrerCode: strings.TrimSpace(req.Referrer),
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, toOrderResp(o))
}

// Numbers handles GET /v1/draws/:id/numbers.
func (h *PurchaseHandler) Numbers(c echo.Context) error {
	drawID, ok := pathID(c)
	if !ok {
		return badRequest(c, "invalid draw id")
	}
	free, err := h.Engine.Inventory.Available(c.Request().Context(), drawID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"draw_id": drawID, "available": free, "count": len(free)})
}

// Claim handles POST /v1/campaigns/:id/claims.
func (h *PurchaseHandler) Claim(c echo.Context) error {
	campaignID, ok := pathID(c)
	if !ok {
		return badRequest(c, "invalid campaign id")
	}
	var req claimReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	phone, err := service.NormalizePhone(req.Phone)
	if err != nil {
		return writeError(c, err)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	cl, err := h.Engine.Pool.AllocateClaim(ctx, service.ClaimRequest{
		CampaignID: campaignID,
		Qty:        req.Qty,
		Phone:      phone,
		Name:       strings.TrimSpace(req.Name),
		PaymentRef: strings.TrimSpace(req.PaymentRef),
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, toClaimResp(cl))
}

// RoundUsage handles GET /v1/campaigns/:id/usage.
func (h *PurchaseHandler) RoundUsage(c echo.Context) error {
	campaignID, ok := pathID(c)
	if !ok {
		return badRequest(c, "invalid campaign id")
	}
	u, err := h.Engine.Pool.RoundUsage(c.Request().Context(), campaignID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"campaign_id": u.CampaignID,
		"round":       u.Round,
		"quota":       u.Quota,
		"used":        u.Used,
		"remaining":   u.Remaining(),
	})
}
