package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/iliyamo/raffle-settlement/internal/clock"
	"github.com/iliyamo/raffle-settlement/internal/metrics"
	"github.com/iliyamo/raffle-settlement/internal/model"
	"github.com/iliyamo/raffle-settlement/internal/queue"
	"github.com/iliyamo/raffle-settlement/internal/repository"
)

// EventPublisher forwards engine events to the message broker.
type EventPublisher interface {
	PublishAnomaly(ctx context.Context, ev queue.AnomalyEvent) error
	PublishPaymentConfirmed(ctx context.Context, ev queue.PaymentConfirmedEvent) error
}

// AnomalyLog records reconciliation anomalies.  Every anomaly is
// persisted first (so it is queryable and survives broker outages) and
// then published for asynchronous operator review.  Recording never
// fails the caller's operation because of the broker.
type AnomalyLog struct {
	store   repository.AnomalyStore
	ids     *snowflake.Node
	pub     EventPublisher
	clock   clock.Clock
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewAnomalyLog(store repository.AnomalyStore, ids *snowflake.Node, pub EventPublisher, clk clock.Clock, m *metrics.Metrics, log *zap.Logger) *AnomalyLog {
	return &AnomalyLog{store: store, ids: ids, pub: pub, clock: clk, metrics: m, log: log.Named("anomalies")}
}

// Record stores a and publishes it when it is new.  It reports whether
// the anomaly was new; duplicates of (kind, payment_ref) are dropped.
func (l *AnomalyLog) Record(ctx context.Context, a model.Anomaly) (bool, error) {
	a.ID = l.ids.Generate().Int64()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = l.clock.Now()
	}
	created, err := l.store.RecordAnomaly(ctx, &a)
	if err != nil {
		return false, err
	}
	if !created {
		l.log.Debug("anomaly already recorded", zap.String("kind", string(a.Kind)), zap.String("payment_ref", a.PaymentRef))
		return false, nil
	}
	l.metrics.Anomaly(string(a.Kind))
	l.log.Warn("anomaly recorded",
		zap.Int64("anomaly_id", a.ID),
		zap.String("kind", string(a.Kind)),
		zap.String("payment_ref", a.PaymentRef),
		zap.String("record_id", a.RecordID),
	)
	if l.pub != nil {
		ev := queue.AnomalyEvent{
			AnomalyID:     a.ID,
			Kind:          string(a.Kind),
			PaymentRef:    a.PaymentRef,
			RecordID:      a.RecordID,
			GatewayStatus: a.GatewayStatus,
			Amount:        a.Amount.StringFixed(2),
			Detail:        a.Detail,
			DetectedAt:    a.CreatedAt.Format(time.RFC3339),
		}
		if err := l.pub.PublishAnomaly(ctx, ev); err != nil {
			l.log.Warn("anomaly publish failed", zap.Int64("anomaly_id", a.ID), zap.Error(err))
		}
	}
	return true, nil
}

func (l *AnomalyLog) List(ctx context.Context, f model.AnomalyFilter) ([]model.Anomaly, error) {
	return l.store.ListAnomalies(ctx, f)
}

func (l *AnomalyLog) Count(ctx context.Context, f model.AnomalyFilter) (int, error) {
	return l.store.CountAnomalies(ctx, f)
}

// Resolve closes an open anomaly with an operator note.
func (l *AnomalyLog) Resolve(ctx context.Context, id int64, note string) error {
	err := l.store.ResolveAnomaly(ctx, id, note, l.clock.Now())
	if errors.Is(err, repository.ErrNotFound) {
		return ErrAnomalyNotFound
	}
	return err
}
