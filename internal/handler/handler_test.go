package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/raffle-settlement/internal/clock"
	"github.com/iliyamo/raffle-settlement/internal/config"
	"github.com/iliyamo/raffle-settlement/internal/model"
	"github.com/iliyamo/raffle-settlement/internal/repository"
	"github.com/iliyamo/raffle-settlement/internal/service"
	"github.com/iliyamo/raffle-settlement/internal/utils"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type testServer struct {
	e      *echo.Echo
	store  *repository.MemoryStore
	engine *service.Engine
	clock  *clock.FakeClock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := repository.NewMemoryStore()
	clk := clock.NewFakeClock(testNow)
	engine := service.NewEngine(service.Deps{
		Store:   store,
		Clock:   clk,
		Logger:  zap.NewNop(),
		Options: service.DefaultOptions(),
	})
	purchase := NewPurchaseHandler(engine)
	admin := NewAdminHandler(engine, clk, zap.NewNop())
	auth := NewAuthHandler(config.AuthConfig{JWTSecret: "test-secret", AccessTTLMin: 30}, store, clk)

	e := echo.New()
	e.POST("/v1/auth/login", auth.Login)
	e.POST("/v1/draws/:id/orders", purchase.Reserve)
	e.GET("/v1/draws/:id/numbers", purchase.Numbers)
	e.POST("/v1/campaigns/:id/claims", purchase.Claim)
	e.GET("/v1/campaigns/:id/usage", purchase.RoundUsage)
	e.POST("/v1/admin/draws", admin.CreateDraw)
	e.POST("/v1/admin/draws/:id/deactivate", admin.Deactivate)
	e.POST("/v1/admin/draws/:id/settle", admin.Settle)
	e.GET("/v1/admin/draws/:id/settlement", admin.GetSettlement)
	e.POST("/v1/admin/campaigns/:id/rounds", admin.AdvanceRound)
	e.GET("/v1/admin/anomalies", admin.ListAnomalies)
	e.POST("/v1/admin/anomalies/:id/resolve", admin.ResolveAnomaly)
	e.POST("/v1/admin/payments/:ref/confirm", admin.ConfirmPayment)
	e.POST("/v1/admin/payments/:ref/reconcile", admin.ReconcilePayment)
	e.POST("/v1/admin/reconcile/sweep", admin.Sweep)
	return &testServer{e: e, store: store, engine: engine, clock: clk}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (s *testServer) createDraw(t *testing.T, body string) uint64 {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/v1/admin/draws", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return uint64(decode(t, rec)["id"].(float64))
}

func TestReserveAndNumbers(t *testing.T) {
	s := newTestServer(t)
	id := s.createDraw(t, `{"name":"Rifa","range_start":1,"range_end":5,"price":"10.00","prize_total":"100.00"}`)

	rec := s.do(t, http.MethodPost, "/v1/draws/1/orders",
		`{"phone":"+55 (11) 98888-7777","name":"Ana","number":3,"payment_ref":"pay-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	o := decode(t, rec)
	assert.Equal(t, float64(id), o["draw_id"])
	assert.Equal(t, float64(3), o["number"])
	assert.Equal(t, "10.00", o["price"])
	assert.Equal(t, "PENDING", o["status"])

	rec = s.do(t, http.MethodPost, "/v1/draws/1/orders", `{"phone":"11977776666","number":3}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "number_unavailable", decode(t, rec)["error"])

	rec = s.do(t, http.MethodGet, "/v1/draws/1/numbers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, []any{1.0, 2.0, 4.0, 5.0}, body["available"])
	assert.Equal(t, 4.0, body["count"])
}

func TestReserveRejectsBadInput(t *testing.T) {
	s := newTestServer(t)
	s.createDraw(t, `{"name":"Rifa","range_start":1,"range_end":5,"price":"10.00"}`)

	cases := []struct {
		name   string
		path   string
		body   string
		status int
		code   string
	}{
		{"bad id", "/v1/draws/abc/orders", `{"phone":"11988887777"}`, http.StatusBadRequest, ""},
		{"missing phone", "/v1/draws/1/orders", `{}`, http.StatusBadRequest, ""},
		{"short phone", "/v1/draws/1/orders", `{"phone":"1234"}`, http.StatusUnprocessableEntity, "invalid_phone"},
		{"out of range", "/v1/draws/1/orders", `{"phone":"11988887777","number":9}`, http.StatusUnprocessableEntity, "number_out_of_range"},
		{"payment ref with spaces", "/v1/draws/1/orders", `{"phone":"11988887777","payment_ref":"a b"}`, http.StatusUnprocessableEntity, "invalid_payment_ref"},
		{"payment ref too long", "/v1/draws/1/orders", `{"phone":"11988887777","payment_ref":"` + strings.Repeat("x", 65) + `"}`, http.StatusUnprocessableEntity, "invalid_payment_ref"},
		{"unknown draw", "/v1/draws/42/orders", `{"phone":"11988887777"}`, http.StatusUnprocessableEntity, "draw_inactive"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, tc.path, tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			if tc.code != "" {
				assert.Equal(t, tc.code, decode(t, rec)["error"])
			}
		})
	}
}

func TestConfirmThenSettleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	s.createDraw(t, `{"name":"Rifa","range_start":1,"range_end":10,"price":"5.00","prize_total":"250.00"}`)

	rec := s.do(t, http.MethodPost, "/v1/draws/1/orders", `{"phone":"11988887777","number":6,"payment_ref":"pay-6"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/admin/payments/pay-6/confirm", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode(t, rec)
	assert.Equal(t, "ORDER", res["kind"])
	assert.Equal(t, "PAID", res["final_status"])
	assert.Equal(t, true, res["applied"])

	rec = s.do(t, http.MethodGet, "/v1/admin/draws/1/settlement", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "not_settled", decode(t, rec)["error"])

	rec = s.do(t, http.MethodPost, "/v1/admin/draws/1/settle", `{"drawn_number":6}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	st := decode(t, rec)
	assert.Equal(t, 1.0, st["winners_count"])
	assert.Equal(t, "250.00", st["payout_each"])
	assert.Equal(t, "0.00", st["remainder"])

	rec = s.do(t, http.MethodPost, "/v1/admin/draws/1/settle", `{"drawn_number":6}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_settled", decode(t, rec)["error"])

	rec = s.do(t, http.MethodGet, "/v1/admin/draws/1/settlement", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 6.0, decode(t, rec)["drawn_number"])
}

func TestSettleRequiresDrawnNumber(t *testing.T) {
	s := newTestServer(t)
	s.createDraw(t, `{"name":"Rifa","range_start":1,"range_end":10,"price":"5.00"}`)

	rec := s.do(t, http.MethodPost, "/v1/admin/draws/1/settle", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateDrawValidation(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/v1/admin/draws", `{"name":"x","range_start":1,"range_end":5,"price":"abc"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/v1/admin/draws", `{"name":"x","range_start":9,"range_end":5,"price":"1.00"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "invalid_draw", decode(t, rec)["error"])

	s.createDraw(t, `{"name":"a","range_start":1,"range_end":50,"price":"1.00"}`)
	rec = s.do(t, http.MethodPost, "/v1/admin/draws", `{"name":"b","range_start":40,"range_end":90,"price":"1.00"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "range_overlap", decode(t, rec)["error"])
}

func TestPoolClaimsOverHTTP(t *testing.T) {
	s := newTestServer(t)
	s.createDraw(t, `{"name":"Bolao","type":"pool","price":"2.50","base_qty":5}`)

	rec := s.do(t, http.MethodPost, "/v1/campaigns/1/claims", `{"phone":"11988887777","qty":4,"payment_ref":"c-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	cl := decode(t, rec)
	assert.Equal(t, "10.00", cl["amount"])
	assert.Equal(t, 1.0, cl["round"])

	rec = s.do(t, http.MethodPost, "/v1/campaigns/1/claims", `{"phone":"11988887777","qty":2,"payment_ref":"c-2"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "quota_exhausted", decode(t, rec)["error"])

	rec = s.do(t, http.MethodGet, "/v1/campaigns/1/usage", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, decode(t, rec)["remaining"])

	rec = s.do(t, http.MethodPost, "/v1/admin/campaigns/1/rounds", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2.0, decode(t, rec)["current_round"])

	rec = s.do(t, http.MethodPost, "/v1/campaigns/1/claims", `{"phone":"11988887777","qty":2,"payment_ref":"c-3"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestExpiredConfirmSurfacesAnomaly(t *testing.T) {
	s := newTestServer(t)
	s.createDraw(t, `{"name":"Rifa","range_start":1,"range_end":10,"price":"5.00"}`)
	rec := s.do(t, http.MethodPost, "/v1/draws/1/orders", `{"phone":"11988887777","number":2,"payment_ref":"late"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	s.clock.Advance(time.Hour)
	rec = s.do(t, http.MethodPost, "/v1/admin/reconcile/sweep", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, decode(t, rec)["orders"])

	rec = s.do(t, http.MethodPost, "/v1/admin/payments/late/confirm", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "expired_before_confirm", decode(t, rec)["error"])

	rec = s.do(t, http.MethodGet, "/v1/admin/anomalies?unresolved=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode(t, rec)
	assert.Equal(t, 1.0, list["total"])
	items := list["items"].([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, "EXPIRED_BEFORE_CONFIRM", item["kind"])

	rec = s.do(t, http.MethodPost, "/v1/admin/anomalies/"+item["id"].(string)+"/resolve", `{"note":"refunded"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/v1/admin/anomalies?unresolved=true", "")
	assert.Equal(t, 0.0, decode(t, rec)["total"])

	rec = s.do(t, http.MethodGet, "/v1/admin/anomalies?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReconcileWithoutGatewayIsUnavailable(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/v1/admin/payments/p-1/reconcile", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "gateway_unavailable", decode(t, rec)["error"])
}

func TestLogin(t *testing.T) {
	s := newTestServer(t)
	hash, err := utils.HashPassword("correct-horse", 4)
	require.NoError(t, err)
	require.NoError(t, s.store.CreateOperator(context.Background(), &model.Operator{
		Email: "ops@example.com", PasswordHash: hash, IsActive: true,
	}))
	require.NoError(t, s.store.CreateOperator(context.Background(), &model.Operator{
		Email: "gone@example.com", PasswordHash: hash, IsActive: false,
	}))

	rec := s.do(t, http.MethodPost, "/v1/auth/login", `{"email":" OPS@example.com ","password":"correct-horse"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	op := body["operator"].(map[string]any)
	assert.Equal(t, "OPERATOR", op["role"])
	access := body["access"].(map[string]any)
	assert.NotEmpty(t, access["token"])
	assert.Equal(t, testNow.Add(30*time.Minute).Format(time.RFC3339), access["expires"])

	for _, body := range []string{
		`{"email":"ops@example.com","password":"wrong-horse"}`,
		`{"email":"gone@example.com","password":"correct-horse"}`,
		`{"email":"nobody@example.com","password":"correct-horse"}`,
	} {
		rec = s.do(t, http.MethodPost, "/v1/auth/login", body)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, body)
	}

	rec = s.do(t, http.MethodPost, "/v1/auth/login", `{"email":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
