// Package gateway is a read-only client for the Mercado Pago payments
// API.  The engine only observes payments; nothing here creates,
// refunds or cancels them.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/iliyamo/raffle-settlement/internal/metrics"
	"github.com/iliyamo/raffle-settlement/internal/model"
)

const DefaultBaseURL = "https://api.mercadopago.com"

// ErrNotFound is returned when the gateway has no payment with the
// requested id.
var ErrNotFound = errors.New("payment not found")

// APIError is returned for any other non-2xx response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway: status %d: %s", e.StatusCode, e.Body)
}

type Config struct {
	BaseURL     string
	AccessToken string
	// RequestsPerSecond throttles outgoing calls; zero disables throttling.
	RequestsPerSecond float64
	Timeout           time.Duration
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewClient(cfg Config, m *metrics.Metrics, log *zap.Logger) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return &Client{
		baseURL: base,
		token:   cfg.AccessToken,
		http:    &http.Client{Timeout: timeout},
		limiter: limiter,
		metrics: m,
		log:     log.Named("gateway"),
	}
}

// GetByID fetches a single payment.
func (c *Client) GetByID(ctx context.Context, id string) (model.PaymentRecord, error) {
	if strings.TrimSpace(id) == "" {
		return model.PaymentRecord{}, ErrNotFound
	}
	body, err := c.get(ctx, "get", "/v1/payments/"+url.PathEscape(id), nil)
	if err != nil {
		return model.PaymentRecord{}, err
	}
	return parsePayment(gjson.ParseBytes(body))
}

// SearchRecent lists the most recently created payments, newest first.
func (c *Client) SearchRecent(ctx context.Context, limit int) ([]model.PaymentRecord, error) {
	if limit <= 0 {
		limit = 30
	}
	q := url.Values{}
	q.Set("sort", "date_created")
	q.Set("criteria", "desc")
	q.Set("limit", strconv.Itoa(limit))
	body, err := c.get(ctx, "search", "/v1/payments/search", q)
	if err != nil {
		return nil, err
	}
	results := gjson.GetBytes(body, "results").Array()
	out := make([]model.PaymentRecord, 0, len(results))
	for _, r := range results {
		rec, err := parsePayment(r)
		if err != nil {
			c.log.Warn("skipping unparsable payment", zap.String("id", r.Get("id").String()), zap.Error(err))
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, op, path string, query url.Values) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.GatewayRequest(op, "error")
		return nil, fmt.Errorf("gateway %s: %w", op, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		c.metrics.GatewayRequest(op, "error")
		return nil, fmt.Errorf("gateway %s: read body: %w", op, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		c.metrics.GatewayRequest(op, "not_found")
		return nil, ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		c.metrics.GatewayRequest(op, "error")
		return nil, &APIError{StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
	}
	c.metrics.GatewayRequest(op, "ok")
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// parsePayment maps a payment JSON object to a PaymentRecord.  The
// amount is read from the raw JSON number so no float rounding occurs.
func parsePayment(r gjson.Result) (model.PaymentRecord, error) {
	id := r.Get("id").String()
	if id == "" {
		return model.PaymentRecord{}, errors.New("payment without id")
	}
	rec := model.PaymentRecord{
		ID:                id,
		Status:            r.Get("status").String(),
		StatusDetail:      r.Get("status_detail").String(),
		ExternalReference: r.Get("external_reference").String(),
		TransactionAmount: decimal.Zero,
		Payer: model.Payer{
			Email:     r.Get("payer.email").String(),
			FirstName: r.Get("payer.first_name").String(),
			LastName:  r.Get("payer.last_name").String(),
			IDType:    r.Get("payer.identification.type").String(),
			IDNumber:  r.Get("payer.identification.number").String(),
		},
	}
	if amt := r.Get("transaction_amount"); amt.Exists() && amt.Type == gjson.Number {
		d, err := decimal.NewFromString(amt.Raw)
		if err != nil {
			return model.PaymentRecord{}, fmt.Errorf("transaction_amount: %w", err)
		}
		rec.TransactionAmount = d
	}
	if s := r.Get("date_created").String(); s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return model.PaymentRecord{}, fmt.Errorf("date_created: %w", err)
		}
		rec.DateCreated = t.UTC()
	}
	if s := r.Get("date_of_expiration").String(); s != "" {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			t = t.UTC()
			rec.DateOfExpiration = &t
		}
	}
	if md, ok := r.Get("metadata").Value().(map[string]any); ok {
		rec.Metadata = md
	}
	return rec, nil
}
