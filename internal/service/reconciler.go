package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iliyamo/raffle-settlement/internal/clock"
	"github.com/iliyamo/raffle-settlement/internal/gateway"
	"github.com/iliyamo/raffle-settlement/internal/metrics"
	"github.com/iliyamo/raffle-settlement/internal/model"
	"github.com/iliyamo/raffle-settlement/internal/queue"
	"github.com/iliyamo/raffle-settlement/internal/repository"
)

// sweepBatch is the number of expired records loaded per store query.
const sweepBatch = 200

// PaymentGateway is the read-only view of the payment provider.
type PaymentGateway interface {
	GetByID(ctx context.Context, id string) (model.PaymentRecord, error)
	SearchRecent(ctx context.Context, limit int) ([]model.PaymentRecord, error)
}

// RecordKind tells which local record a payment matched.
type RecordKind string

const (
	KindOrder  RecordKind = "ORDER"
	KindClaim  RecordKind = "CLAIM"
	KindOrphan RecordKind = "ORPHAN"
	// KindNone: a non-approved payment that matches nothing.
	KindNone RecordKind = "NONE"
)

// Result describes the outcome of reconciling one payment.  Applied is
// true only for the call that performed the status transition.
type Result struct {
	Kind        RecordKind   `json:"kind"`
	RecordID    string       `json:"record_id,omitempty"`
	PaymentRef  string       `json:"payment_ref"`
	FinalStatus model.Status `json:"final_status,omitempty"`
	Applied     bool         `json:"applied"`
}

type PollReport struct {
	Seen      int `json:"seen"`
	Applied   int `json:"applied"`
	Anomalies int `json:"anomalies"`
	Failed    int `json:"failed"`
}

type SweepReport struct {
	Orders int `json:"orders"`
	Claims int `json:"claims"`
	Stale  int `json:"stale_holds"`
}

// Reconciler is the only writer of order and claim status.  Every
// transition out of PENDING is a compare-and-set in the store, so a
// confirmation and an expiration racing on the same record cannot
// both win.
type Reconciler struct {
	store      repository.Store
	inventory  *Inventory
	affiliates *AffiliateGraph
	anomalies  *AnomalyLog
	gateway    PaymentGateway
	pub        EventPublisher
	mode       CommissionMode
	clock      clock.Clock
	metrics    *metrics.Metrics
	log        *zap.Logger
}

type ReconcilerDeps struct {
	Store      repository.Store
	Inventory  *Inventory
	Affiliates *AffiliateGraph
	Anomalies  *AnomalyLog
	Gateway    PaymentGateway
	Publisher  EventPublisher
	Mode       CommissionMode
	Clock      clock.Clock
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

func NewReconciler(d ReconcilerDeps) *Reconciler {
	return &Reconciler{
		store:      d.Store,
		inventory:  d.Inventory,
		affiliates: d.Affiliates,
		anomalies:  d.Anomalies,
		gateway:    d.Gateway,
		pub:        d.Publisher,
		mode:       d.Mode,
		clock:      d.Clock,
		metrics:    d.Metrics,
		log:        d.Logger.Named("reconciler"),
	}
}

// Confirm marks the order or claim carrying paymentRef as PAID.
//
// Repeated calls are harmless: a PAID record is a no-op success.  An
// EXPIRED or CANCELLED record is left untouched, an anomaly is recorded
// and ErrExpiredBeforeConfirm / ErrCancelledBeforeConfirm is returned.
// A reference matching nothing is recorded as an orphan payment and
// reported with Kind ORPHAN and no error.
func (r *Reconciler) Confirm(ctx context.Context, paymentRef string) (Result, error) {
	return r.confirm(ctx, paymentRef, nil)
}

// Cancel moves the order or claim carrying paymentRef to CANCELLED and
// releases what it held.  Records already final are left as they are.
func (r *Reconciler) Cancel(ctx context.Context, paymentRef, detail string) (Result, error) {
	return r.cancel(ctx, paymentRef, detail, nil)
}

// Apply reconciles one gateway payment record according to its status.
func (r *Reconciler) Apply(ctx context.Context, rec model.PaymentRecord) (Result, error) {
	switch rec.LocalStatus() {
	case model.StatusPaid:
		return r.confirm(ctx, rec.ID, &rec)
	case model.StatusCancelled:
		return r.cancel(ctx, rec.ID, rec.StatusDetail, &rec)
	default:
		t, err := r.lookup(ctx, rec.ID, &rec)
		if err != nil {
			return Result{}, err
		}
		return t.result(rec.ID, false), nil
	}
}

// HandleNotification fetches the payment named by a webhook and
// applies it.  The notification body itself is never trusted.
func (r *Reconciler) HandleNotification(ctx context.Context, paymentRef string) (Result, error) {
	if r.gateway == nil {
		return Result{}, ErrGatewayUnavailable
	}
	rec, err := r.gateway.GetByID(ctx, paymentRef)
	if err != nil {
		if errors.Is(err, gateway.ErrNotFound) {
			return Result{}, fmt.Errorf("payment %s: %w", paymentRef, err)
		}
		return Result{}, err
	}
	return r.Apply(ctx, rec)
}

// Poll applies the most recent gateway payments.  Anomalies and
// per-payment failures are counted, not returned.
func (r *Reconciler) Poll(ctx context.Context, limit int) (PollReport, error) {
	if r.gateway == nil {
		return PollReport{}, ErrGatewayUnavailable
	}
	recs, err := r.gateway.SearchRecent(ctx, limit)
	if err != nil {
		return PollReport{}, err
	}
	var rep PollReport
	for _, rec := range recs {
		rep.Seen++
		res, err := r.Apply(ctx, rec)
		switch {
		case err == nil:
			if res.Applied {
				rep.Applied++
			}
			if res.Kind == KindOrphan {
				rep.Anomalies++
			}
		case errors.Is(err, ErrExpiredBeforeConfirm), errors.Is(err, ErrCancelledBeforeConfirm):
			rep.Anomalies++
		default:
			rep.Failed++
			r.log.Error("poll apply failed", zap.String("payment_ref", rec.ID), zap.Error(err))
		}
	}
	return rep, nil
}

// SweepExpired expires PENDING orders and claims whose deadline is
// before now and releases their numbers.  A record confirmed between
// the scan and the transition keeps its PAID status.
func (r *Reconciler) SweepExpired(ctx context.Context, now time.Time) (SweepReport, error) {
	var rep SweepReport
	for {
		orders, err := r.store.ExpiredOrders(ctx, now, sweepBatch)
		if err != nil {
			return rep, err
		}
		for _, o := range orders {
			_, applied, err := r.store.TransitionOrder(ctx, o.OrderID, repository.Transition{
				From: model.StatusPending, To: model.StatusExpired, Detail: "expired", At: now,
			})
			if err != nil {
				return rep, fmt.Errorf("expire order %s: %w", o.OrderID, err)
			}
			if !applied {
				continue
			}
			rep.Orders++
			r.metrics.Transition("order", string(model.StatusExpired))
			if err := r.inventory.Release(ctx, o.OrderID); err != nil {
				return rep, err
			}
		}
		if len(orders) < sweepBatch {
			break
		}
	}
	for {
		claims, err := r.store.ExpiredClaims(ctx, now, sweepBatch)
		if err != nil {
			return rep, err
		}
		for _, c := range claims {
			_, applied, err := r.store.TransitionClaim(ctx, c.ID, repository.Transition{
				From: model.StatusPending, To: model.StatusExpired, Detail: "expired", At: now,
			})
			if err != nil {
				return rep, fmt.Errorf("expire claim %s: %w", c.ID, err)
			}
			if applied {
				rep.Claims++
				r.metrics.Transition("claim", string(model.StatusExpired))
			}
		}
		if len(claims) < sweepBatch {
			break
		}
	}
	stale, err := r.inventory.ReleaseStale(ctx)
	if err != nil {
		return rep, err
	}
	rep.Stale = stale
	if rep.Orders > 0 || rep.Claims > 0 {
		r.log.Info("expired records swept", zap.Int("orders", rep.Orders), zap.Int("claims", rep.Claims))
	}
	return rep, nil
}

// target is the local record a payment resolved to.
type target struct {
	kind  RecordKind
	order model.Order
	claim model.Claim
}

func (t target) id() string {
	switch t.kind {
	case KindOrder:
		return t.order.OrderID
	case KindClaim:
		return t.claim.ID
	}
	return ""
}

func (t target) status() model.Status {
	switch t.kind {
	case KindOrder:
		return t.order.Status
	case KindClaim:
		return t.claim.Status
	}
	return ""
}

func (t target) result(ref string, applied bool) Result {
	kind := t.kind
	if kind == "" {
		kind = KindNone
	}
	return Result{Kind: kind, RecordID: t.id(), PaymentRef: ref, FinalStatus: t.status(), Applied: applied}
}

// lookup matches a payment to an order or claim, first by payment
// reference and then, when rec is known, by its external reference
// (the order or claim id sent when the payment was created).  A record
// found by external reference must not carry a different payment
// reference.
func (r *Reconciler) lookup(ctx context.Context, ref string, rec *model.PaymentRecord) (target, error) {
	o, err := r.store.OrderByPaymentRef(ctx, ref)
	if err == nil {
		return target{kind: KindOrder, order: o}, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return target{}, err
	}
	c, err := r.store.ClaimByPaymentRef(ctx, ref)
	if err == nil {
		return target{kind: KindClaim, claim: c}, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return target{}, err
	}
	if rec == nil || rec.ExternalReference == "" {
		return target{}, nil
	}
	ext := rec.ExternalReference
	o, err = r.store.GetOrder(ctx, ext)
	if err == nil && (o.PaymentRef == "" || o.PaymentRef == ref) {
		return target{kind: KindOrder, order: o}, nil
	}
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return target{}, err
	}
	c, err = r.store.GetClaim(ctx, ext)
	if err == nil && (c.PaymentRef == "" || c.PaymentRef == ref) {
		return target{kind: KindClaim, claim: c}, nil
	}
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return target{}, err
	}
	return target{}, nil
}

func (r *Reconciler) confirm(ctx context.Context, ref string, rec *model.PaymentRecord) (Result, error) {
	t, err := r.lookup(ctx, ref, rec)
	if err != nil {
		return Result{}, err
	}
	detail := ""
	if rec != nil {
		detail = rec.StatusDetail
	}
	switch t.kind {
	case KindOrder:
		return r.confirmOrder(ctx, ref, t.order, detail, rec)
	case KindClaim:
		return r.confirmClaim(ctx, ref, t.claim, detail, rec)
	}
	a := model.Anomaly{Kind: model.AnomalyOrphanPayment, PaymentRef: ref, Detail: "approved payment matches no order or claim"}
	if rec != nil {
		a.GatewayStatus = rec.Status
		a.Amount = rec.TransactionAmount
		if rec.ExternalReference != "" {
			a.Detail += "; external_reference=" + rec.ExternalReference
		}
	}
	if _, err := r.anomalies.Record(ctx, a); err != nil {
		return Result{}, fmt.Errorf("record orphan %s: %w", ref, err)
	}
	return Result{Kind: KindOrphan, PaymentRef: ref}, nil
}

func (r *Reconciler) confirmOrder(ctx context.Context, ref string, o model.Order, detail string, rec *model.PaymentRecord) (Result, error) {
	if o.Status == model.StatusPending {
		updated, applied, err := r.store.TransitionOrder(ctx, o.OrderID, repository.Transition{
			From: model.StatusPending, To: model.StatusPaid, Detail: detail, PaymentRef: ref, At: r.clock.Now(),
		})
		if err != nil {
			return Result{}, fmt.Errorf("confirm order %s: %w", o.OrderID, err)
		}
		if applied {
			r.afterOrderPaid(ctx, ref, updated, rec)
			return Result{Kind: KindOrder, RecordID: o.OrderID, PaymentRef: ref, FinalStatus: model.StatusPaid, Applied: true}, nil
		}
		o = updated
	}
	return r.rejectConfirm(ctx, ref, target{kind: KindOrder, order: o}, o.Price, rec)
}

func (r *Reconciler) confirmClaim(ctx context.Context, ref string, c model.Claim, detail string, rec *model.PaymentRecord) (Result, error) {
	if c.Status == model.StatusPending {
		updated, applied, err := r.store.TransitionClaim(ctx, c.ID, repository.Transition{
			From: model.StatusPending, To: model.StatusPaid, Detail: detail, PaymentRef: ref, At: r.clock.Now(),
		})
		if err != nil {
			return Result{}, fmt.Errorf("confirm claim %s: %w", c.ID, err)
		}
		if applied {
			r.afterClaimPaid(ctx, ref, updated, rec)
			return Result{Kind: KindClaim, RecordID: c.ID, PaymentRef: ref, FinalStatus: model.StatusPaid, Applied: true}, nil
		}
		c = updated
	}
	return r.rejectConfirm(ctx, ref, target{kind: KindClaim, claim: c}, c.Amount, rec)
}

// rejectConfirm handles a confirmation for a record that is no longer
// PENDING.  PAID is a duplicate delivery; EXPIRED and CANCELLED win
// over the late approval and are surfaced as anomalies.
func (r *Reconciler) rejectConfirm(ctx context.Context, ref string, t target, expected decimal.Decimal, rec *model.PaymentRecord) (Result, error) {
	res := t.result(ref, false)
	var kind model.AnomalyKind
	var sentinel error
	switch t.status() {
	case model.StatusPaid:
		r.log.Debug("duplicate confirmation", zap.String("payment_ref", ref), zap.String("record_id", t.id()))
		return res, nil
	case model.StatusExpired:
		kind, sentinel = model.AnomalyExpiredBeforeConfirm, ErrExpiredBeforeConfirm
	case model.StatusCancelled:
		kind, sentinel = model.AnomalyCancelledBeforeConfirm, ErrCancelledBeforeConfirm
	default:
		return res, fmt.Errorf("record %s in unexpected status %s", t.id(), t.status())
	}
	a := model.Anomaly{
		Kind:       kind,
		PaymentRef: ref,
		RecordID:   t.id(),
		Detail:     fmt.Sprintf("%s %s was %s when the payment was approved (expected %s)", t.kind, t.id(), t.status(), expected.StringFixed(2)),
	}
	if rec != nil {
		a.GatewayStatus = rec.Status
		a.Amount = rec.TransactionAmount
	}
	if _, err := r.anomalies.Record(ctx, a); err != nil {
		return res, fmt.Errorf("record anomaly %s: %w", ref, err)
	}
	return res, sentinel
}

func (r *Reconciler) afterOrderPaid(ctx context.Context, ref string, o model.Order, rec *model.PaymentRecord) {
	r.metrics.Transition("order", string(model.StatusPaid))
	r.log.Info("order paid", zap.String("order_id", o.OrderID), zap.String("payment_ref", ref))
	if rec != nil && !rec.TransactionAmount.Equal(o.Price) {
		r.recordMismatch(ctx, ref, o.OrderID, o.Price.StringFixed(2), rec)
	}
	r.checkSettledDraw(ctx, ref, o, rec)
	if r.pub != nil {
		ev := queue.PaymentConfirmedEvent{
			Record:     "order",
			RecordID:   o.OrderID,
			PaymentRef: ref,
			DrawID:     o.DrawID,
			Number:     o.Number,
			Amount:     o.Price.StringFixed(2),
			PaidAt:     paidAt(o.PaidAt, r.clock.Now()),
		}
		if err := r.pub.PublishPaymentConfirmed(ctx, ev); err != nil {
			r.log.Warn("confirmation publish failed", zap.String("order_id", o.OrderID), zap.Error(err))
		}
	}
	if r.mode == CommissionOnPurchase && r.affiliates != nil {
		if _, err := r.affiliates.AttributeOrder(ctx, o); err != nil {
			r.log.Error("commission attribution failed", zap.String("order_id", o.OrderID), zap.Error(err))
		}
	}
}

func (r *Reconciler) afterClaimPaid(ctx context.Context, ref string, c model.Claim, rec *model.PaymentRecord) {
	r.metrics.Transition("claim", string(model.StatusPaid))
	r.log.Info("claim paid", zap.String("claim_id", c.ID), zap.String("payment_ref", ref))
	if rec != nil && !rec.TransactionAmount.Equal(c.Amount) {
		r.recordMismatch(ctx, ref, c.ID, c.Amount.StringFixed(2), rec)
	}
	if r.pub != nil {
		ev := queue.PaymentConfirmedEvent{
			Record:     "claim",
			RecordID:   c.ID,
			PaymentRef: ref,
			DrawID:     c.CampaignID,
			Quantity:   c.TotalQty,
			Amount:     c.Amount.StringFixed(2),
			PaidAt:     paidAt(c.PaidAt, r.clock.Now()),
		}
		if err := r.pub.PublishPaymentConfirmed(ctx, ev); err != nil {
			r.log.Warn("confirmation publish failed", zap.String("claim_id", c.ID), zap.Error(err))
		}
	}
}

func (r *Reconciler) recordMismatch(ctx context.Context, ref, recordID, expected string, rec *model.PaymentRecord) {
	a := model.Anomaly{
		Kind:          model.AnomalyAmountMismatch,
		PaymentRef:    ref,
		RecordID:      recordID,
		GatewayStatus: rec.Status,
		Amount:        rec.TransactionAmount,
		Detail:        fmt.Sprintf("paid %s, expected %s", rec.TransactionAmount.StringFixed(2), expected),
	}
	if _, err := r.anomalies.Record(ctx, a); err != nil {
		r.log.Error("record amount mismatch failed", zap.String("payment_ref", ref), zap.Error(err))
	}
}

// checkSettledDraw flags an order that became PAID after its draw was
// settled.  The settlement did not count it, so an operator decides
// between refund and manual payout.
func (r *Reconciler) checkSettledDraw(ctx context.Context, ref string, o model.Order, rec *model.PaymentRecord) {
	d, err := r.store.GetDraw(ctx, o.DrawID)
	if err != nil {
		r.log.Error("load draw for paid order failed", zap.String("order_id", o.OrderID), zap.Error(err))
		return
	}
	if !d.Settled() {
		return
	}
	detail := fmt.Sprintf("draw %d settled with number %d before order %s (number %d) was paid",
		d.ID, *d.DrawnNumber, o.OrderID, o.Number)
	if o.Number == *d.DrawnNumber {
		detail += "; order holds the drawn number"
	}
	a := model.Anomaly{
		Kind:       model.AnomalyPaidAfterSettlement,
		PaymentRef: ref,
		RecordID:   o.OrderID,
		Amount:     o.Price,
		Detail:     detail,
	}
	if rec != nil {
		a.GatewayStatus = rec.Status
		a.Amount = rec.TransactionAmount
	}
	if _, err := r.anomalies.Record(ctx, a); err != nil {
		r.log.Error("record paid after settlement failed", zap.String("payment_ref", ref), zap.Error(err))
	}
}

func paidAt(t *time.Time, fallback time.Time) string {
	if t != nil {
		return t.UTC().Format(time.RFC3339)
	}
	return fallback.UTC().Format(time.RFC3339)
}

func (r *Reconciler) cancel(ctx context.Context, ref, detail string, rec *model.PaymentRecord) (Result, error) {
	t, err := r.lookup(ctx, ref, rec)
	if err != nil {
		return Result{}, err
	}
	now := r.clock.Now()
	switch t.kind {
	case KindOrder:
		if t.order.Status != model.StatusPending {
			return t.result(ref, false), nil
		}
		o, applied, err := r.store.TransitionOrder(ctx, t.order.OrderID, repository.Transition{
			From: model.StatusPending, To: model.StatusCancelled, Detail: detail, PaymentRef: ref, At: now,
		})
		if err != nil {
			return Result{}, fmt.Errorf("cancel order %s: %w", t.order.OrderID, err)
		}
		if applied {
			r.metrics.Transition("order", string(model.StatusCancelled))
			r.log.Info("order cancelled", zap.String("order_id", o.OrderID), zap.String("payment_ref", ref), zap.String("detail", detail))
			if err := r.inventory.Release(ctx, o.OrderID); err != nil {
				return Result{}, err
			}
		}
		return target{kind: KindOrder, order: o}.result(ref, applied), nil
	case KindClaim:
		if t.claim.Status != model.StatusPending {
			return t.result(ref, false), nil
		}
		c, applied, err := r.store.TransitionClaim(ctx, t.claim.ID, repository.Transition{
			From: model.StatusPending, To: model.StatusCancelled, Detail: detail, PaymentRef: ref, At: now,
		})
		if err != nil {
			return Result{}, fmt.Errorf("cancel claim %s: %w", t.claim.ID, err)
		}
		if applied {
			r.metrics.Transition("claim", string(model.StatusCancelled))
			r.log.Info("claim cancelled", zap.String("claim_id", c.ID), zap.String("payment_ref", ref), zap.String("detail", detail))
		}
		return target{kind: KindClaim, claim: c}.result(ref, applied), nil
	}
	r.log.Info("cancelled payment matches no record", zap.String("payment_ref", ref))
	return Result{Kind: KindNone, PaymentRef: ref}, nil
}
