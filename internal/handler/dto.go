package handler

import (
	"time"

	"github.com/iliyamo/raffle-settlement/internal/model"
)

type orderResp struct {
	OrderID    string       `json:"order_id"`
	DrawID     uint64       `json:"draw_id"`
	Number     int          `json:"number"`
	Price      string       `json:"price"`
	Status     model.Status `json:"status"`
	PaymentRef string       `json:"payment_ref,omitempty"`
	ExpiresAt  time.Time    `json:"expires_at"`
}

func toOrderResp(o model.Order) orderResp {
	return orderResp{
		OrderID:    o.OrderID,
		DrawID:     o.DrawID,
		Number:     o.Number,
		Price:      o.Price.StringFixed(2),
		Status:     o.Status,
		PaymentRef: o.PaymentRef,
		ExpiresAt:  o.ExpiresAt,
	}
}

type claimResp struct {
	ClaimID    string       `json:"claim_id"`
	CampaignID uint64       `json:"campaign_id"`
	Round      int          `json:"round"`
	Qty        int          `json:"qty"`
	Amount     string       `json:"amount"`
	Status     model.Status `json:"status"`
	PaymentRef string       `json:"payment_ref,omitempty"`
	ExpiresAt  time.Time    `json:"expires_at"`
}

func toClaimResp(c model.Claim) claimResp {
	return claimResp{
		ClaimID:    c.ID,
		CampaignID: c.CampaignID,
		Round:      c.Round,
		Qty:        c.TotalQty,
		Amount:     c.Amount.StringFixed(2),
		Status:     c.Status,
		PaymentRef: c.PaymentRef,
		ExpiresAt:  c.ExpiresAt,
	}
}

type drawResp struct {
	ID           uint64         `json:"id"`
	Name         string         `json:"name"`
	Type         model.DrawType `json:"type"`
	RangeStart   int            `json:"range_start"`
	RangeEnd     int            `json:"range_end"`
	Price        string         `json:"price"`
	PrizeTotal   string         `json:"prize_total"`
	IsActive     bool           `json:"is_active"`
	CurrentRound int            `json:"current_round,omitempty"`
	BaseQty      int            `json:"base_qty,omitempty"`
	DrawnNumber  *int           `json:"drawn_number,omitempty"`
}

func toDrawResp(d model.Draw) drawResp {
	r := drawResp{
		ID:          d.ID,
		Name:        d.Name,
		Type:        d.Type,
		RangeStart:  d.RangeStart,
		RangeEnd:    d.RangeEnd,
		Price:       d.Price.StringFixed(2),
		PrizeTotal:  d.PrizeTotal.StringFixed(2),
		IsActive:    d.IsActive,
		DrawnNumber: d.DrawnNumber,
	}
	if d.Type == model.DrawTypePool {
		r.CurrentRound = d.CurrentRound
		r.BaseQty = d.BaseQty
	}
	return r
}

type winnerResp struct {
	Position    int       `json:"position"`
	OrderID     string    `json:"order_id"`
	BuyerRef    string    `json:"buyer_ref"`
	Payout      string    `json:"payout"`
	PurchasedAt time.Time `json:"purchased_at"`
}

type settlementResp struct {
	DrawID       uint64       `json:"draw_id"`
	DrawnNumber  int          `json:"drawn_number"`
	PrizeTotal   string       `json:"prize_total"`
	WinnersCount int          `json:"winners_count"`
	PayoutEach   string       `json:"payout_each"`
	Remainder    string       `json:"remainder"`
	NeedsReview  bool         `json:"needs_review"`
	Winners      []winnerResp `json:"winners"`
	SettledAt    time.Time    `json:"settled_at"`
}

func toSettlementResp(s model.Settlement) settlementResp {
	winners := make([]winnerResp, 0, len(s.Winners))
	for _, w := range s.Winners {
		winners = append(winners, winnerResp{
			Position:    w.Position,
			OrderID:     w.OrderID,
			BuyerRef:    w.BuyerRef,
			Payout:      w.Payout.StringFixed(2),
			PurchasedAt: w.PurchasedAt,
		})
	}
	return settlementResp{
		DrawID:       s.DrawID,
		DrawnNumber:  s.DrawnNumber,
		PrizeTotal:   s.PrizeTotal.StringFixed(2),
		WinnersCount: s.WinnersCount,
		PayoutEach:   s.PayoutEach.StringFixed(2),
		Remainder:    s.Remainder.StringFixed(2),
		NeedsReview:  s.NeedsReview,
		Winners:      winners,
		SettledAt:    s.SettledAt,
	}
}

type anomalyResp struct {
	ID             string            `json:"id"`
	Kind           model.AnomalyKind `json:"kind"`
	PaymentRef     string            `json:"payment_ref"`
	RecordID       string            `json:"record_id,omitempty"`
	GatewayStatus  string            `json:"gateway_status,omitempty"`
	Amount         string            `json:"amount"`
	Detail         string            `json:"detail,omitempty"`
	Resolved       bool              `json:"resolved"`
	ResolutionNote string            `json:"resolution_note,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

func toAnomalyResp(a model.Anomaly) anomalyResp {
	return anomalyResp{
		ID:             formatID(a.ID),
		Kind:           a.Kind,
		PaymentRef:     a.PaymentRef,
		RecordID:       a.RecordID,
		GatewayStatus:  a.GatewayStatus,
		Amount:         a.Amount.StringFixed(2),
		Detail:         a.Detail,
		Resolved:       a.Resolved,
		ResolutionNote: a.ResolutionNote,
		CreatedAt:      a.CreatedAt,
	}
}
