package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/raffle-settlement/internal/gateway"
	"github.com/iliyamo/raffle-settlement/internal/model"
	"github.com/iliyamo/raffle-settlement/internal/service"
)

type stubNotifier struct {
	calls []string
	res   service.Result
	err   error
}

func (n *stubNotifier) HandleNotification(_ context.Context, ref string) (service.Result, error) {
	n.calls = append(n.calls, ref)
	return n.res, n.err
}

func sign(secret, id, requestID, ts string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "id:%s;request-id:%s;ts:%s;", id, requestID, ts)
	return "ts=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(t *testing.T, h *WebhookHandler, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	e.POST("/v1/webhooks/payments", h.Payment)
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestVerifySignature(t *testing.T) {
	header := sign("s3cret", "123", "req-1", "1704908010")

	assert.NoError(t, VerifySignature("s3cret", header, "req-1", "123"))
	assert.ErrorIs(t, VerifySignature("other", header, "req-1", "123"), ErrBadSignature)
	assert.ErrorIs(t, VerifySignature("s3cret", header, "req-2", "123"), ErrBadSignature)
	assert.ErrorIs(t, VerifySignature("s3cret", header, "req-1", "124"), ErrBadSignature)
	assert.ErrorIs(t, VerifySignature("s3cret", "ts=1", "req-1", "123"), ErrBadSignature)
	assert.ErrorIs(t, VerifySignature("s3cret", "ts=1,v1=zz", "req-1", "123"), ErrBadSignature)
}

func TestWebhookAppliesPaymentFromBody(t *testing.T) {
	n := &stubNotifier{res: service.Result{Kind: service.KindOrder, PaymentRef: "555", FinalStatus: model.StatusPaid, Applied: true}}
	h := NewWebhookHandler(n, "", zap.NewNop())

	rec := postWebhook(t, h, "/v1/webhooks/payments", `{"type":"payment","data":{"id":"555"}}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"555"}, n.calls)
	assert.Equal(t, "PAID", decode(t, rec)["final_status"])
}

func TestWebhookReadsQueryParameters(t *testing.T) {
	n := &stubNotifier{}
	h := NewWebhookHandler(n, "", zap.NewNop())

	rec := postWebhook(t, h, "/v1/webhooks/payments?topic=payment&id=777", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"777"}, n.calls)
}

func TestWebhookIgnoresOtherTopics(t *testing.T) {
	n := &stubNotifier{}
	h := NewWebhookHandler(n, "", zap.NewNop())

	rec := postWebhook(t, h, "/v1/webhooks/payments", `{"topic":"merchant_order","data":{"id":"9"}}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["ignored"])
	assert.Empty(t, n.calls)
}

func TestWebhookRejectsMalformedRequests(t *testing.T) {
	h := NewWebhookHandler(&stubNotifier{}, "", zap.NewNop())

	assert.Equal(t, http.StatusBadRequest, postWebhook(t, h, "/v1/webhooks/payments", `{not json`, nil).Code)
	assert.Equal(t, http.StatusBadRequest, postWebhook(t, h, "/v1/webhooks/payments", `{"type":"payment"}`, nil).Code)
}

func TestWebhookSignature(t *testing.T) {
	n := &stubNotifier{}
	h := NewWebhookHandler(n, "s3cret", zap.NewNop())
	body := `{"type":"payment","data":{"id":"42"}}`

	rec := postWebhook(t, h, "/v1/webhooks/payments", body, map[string]string{
		"x-signature": sign("wrong", "42", "r-1", "1700000000"), "x-request-id": "r-1",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, n.calls)

	rec = postWebhook(t, h, "/v1/webhooks/payments", body, map[string]string{
		"x-signature": sign("s3cret", "42", "r-1", "1700000000"), "x-request-id": "r-1",
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"42"}, n.calls)
}

func TestWebhookErrorResponses(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"unknown payment", fmt.Errorf("payment 1: %w", gateway.ErrNotFound), http.StatusOK},
		{"expired before confirm", service.ErrExpiredBeforeConfirm, http.StatusOK},
		{"cancelled before confirm", service.ErrCancelledBeforeConfirm, http.StatusOK},
		{"gateway down", service.ErrGatewayUnavailable, http.StatusServiceUnavailable},
		{"store failure", errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewWebhookHandler(&stubNotifier{err: tc.err}, "", zap.NewNop())
			rec := postWebhook(t, h, "/v1/webhooks/payments", `{"type":"payment","data":{"id":"1"}}`, nil)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
}
