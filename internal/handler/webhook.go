package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/iliyamo/raffle-settlement/internal/gateway"
	"github.com/iliyamo/raffle-settlement/internal/service"
)

const maxWebhookBody = 64 << 10

var ErrBadSignature = errors.New("invalid webhook signature")

// Notifier is the reconciler entry point used by the webhook.
type Notifier interface {
	HandleNotification(ctx context.Context, paymentRef string) (service.Result, error)
}

// WebhookHandler receives gateway payment notifications.  The payload
// only names the payment; its state is always fetched from the
// gateway.
type WebhookHandler struct {
	Reconciler Notifier
	Secret     string
	Log        *zap.Logger
}

func NewWebhookHandler(rec Notifier, secret string, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{Reconciler: rec, Secret: secret, Log: log.Named("webhook")}
}

// VerifySignature checks an `x-signature: ts=..,v1=..` header against
// the manifest `id:<dataID>;request-id:<requestID>;ts:<ts>;` signed
// with HMAC-SHA256.
func VerifySignature(secret, header, requestID, dataID string) error {
	var ts, v1 string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "ts":
			ts = v
		case "v1":
			v1 = v
		}
	}
	if ts == "" || v1 == "" {
		return ErrBadSignature
	}
	got, err := hex.DecodeString(v1)
	if err != nil {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "id:%s;request-id:%s;ts:%s;", strings.ToLower(dataID), requestID, ts)
	if !hmac.Equal(mac.Sum(nil), got) {
		return ErrBadSignature
	}
	return nil
}

// Payment handles POST /v1/webhooks/payments.  Non-payment topics are
// acknowledged and ignored.  Only transient failures answer 5xx so the
// gateway retries.
func (h *WebhookHandler) Payment(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return badRequest(c, "unreadable body")
	}
	if len(body) > 0 && !gjson.ValidBytes(body) {
		return badRequest(c, "invalid json")
	}

	topic := firstNonEmpty(
		gjson.GetBytes(body, "type").String(),
		gjson.GetBytes(body, "topic").String(),
		c.QueryParam("type"),
		c.QueryParam("topic"),
	)
	if topic != "" && topic != "payment" {
		return c.JSON(http.StatusOK, echo.Map{"ignored": true, "topic": topic})
	}
	id := firstNonEmpty(
		c.QueryParam("data.id"),
		gjson.GetBytes(body, "data.id").String(),
		c.QueryParam("id"),
	)
	if id == "" {
		return badRequest(c, "payment id missing")
	}

	if h.Secret != "" {
		sig := c.Request().Header.Get("x-signature")
		if err := VerifySignature(h.Secret, sig, c.Request().Header.Get("x-request-id"), id); err != nil {
			h.Log.Warn("rejected notification", zap.String("payment_ref", id), zap.Error(err))
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid signature"})
		}
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 15*time.Second)
	defer cancel()

	res, err := h.Reconciler.HandleNotification(ctx, id)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, res)
	case errors.Is(err, gateway.ErrNotFound):
		h.Log.Warn("notification for unknown payment", zap.String("payment_ref", id))
		return c.JSON(http.StatusOK, echo.Map{"ignored": true, "payment_ref": id})
	case errors.Is(err, service.ErrExpiredBeforeConfirm), errors.Is(err, service.ErrCancelledBeforeConfirm):
		_, code := errorStatus(err)
		return c.JSON(http.StatusOK, echo.Map{"result": res, "anomaly": code})
	default:
		h.Log.Error("notification failed", zap.String("payment_ref", id), zap.Error(err))
		return writeError(c, err)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
