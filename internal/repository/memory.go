package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/raffle-settlement/internal/model"
)

type holdKey struct {
	drawID uint64
	number int
}

// MemoryStore is a Store kept in process memory.  A single mutex
// serializes every operation, which gives the same atomicity the MySQL
// store gets from row locks and unique keys.  It backs the service
// tests and the STORE_DRIVER=memory development mode.
type MemoryStore struct {
	mu sync.Mutex

	nextDrawID     uint64
	nextCustomerID uint64
	nextOperatorID uint64

	draws       map[uint64]model.Draw
	holds       map[holdKey]string
	orders      map[string]model.Order
	claims      map[string]model.Claim
	winners     map[uint64][]model.WinnerLine
	subs        map[string]model.SubAffiliate
	vips        map[uint64]model.VipAffiliate
	commissions map[string]map[int]model.Commission
	customers   map[string]model.Customer
	anomalies   []model.Anomaly
	operators   map[string]model.Operator
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		draws:       make(map[uint64]model.Draw),
		holds:       make(map[holdKey]string),
		orders:      make(map[string]model.Order),
		claims:      make(map[string]model.Claim),
		winners:     make(map[uint64][]model.WinnerLine),
		subs:        make(map[string]model.SubAffiliate),
		vips:        make(map[uint64]model.VipAffiliate),
		commissions: make(map[string]map[int]model.Commission),
		customers:   make(map[string]model.Customer),
		operators:   make(map[string]model.Operator),
	}
}

// PutSubAffiliate and PutVipAffiliate seed the affiliate tables.  The
// engine never writes affiliates, so the Store interface has no
// counterpart.
func (m *MemoryStore) PutSubAffiliate(s model.SubAffiliate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[s.Code] = s
}

func (m *MemoryStore) PutVipAffiliate(v model.VipAffiliate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vips[v.ID] = v
}

func (m *MemoryStore) overlapsLocked(excludeID uint64, start, end int) bool {
	probe := model.Draw{RangeStart: start, RangeEnd: end}
	for id, d := range m.draws {
		if id == excludeID || !d.IsActive || d.Type != model.DrawTypeStandard {
			continue
		}
		if d.Overlaps(probe) {
			return true
		}
	}
	return false
}

func (m *MemoryStore) CreateDraw(_ context.Context, d *model.Draw) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	if d.CurrentRound == 0 {
		d.CurrentRound = 1
	}
	if d.IsActive && d.Type == model.DrawTypeStandard && m.overlapsLocked(0, d.RangeStart, d.RangeEnd) {
		return ErrRangeOverlap
	}
	m.nextDrawID++
	d.ID = m.nextDrawID
	m.draws[d.ID] = *d
	return nil
}

func (m *MemoryStore) GetDraw(_ context.Context, id uint64) (model.Draw, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.draws[id]
	if !ok {
		return model.Draw{}, ErrNotFound
	}
	return d, nil
}

func (m *MemoryStore) SetDrawActive(_ context.Context, id uint64, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.draws[id]
	if !ok {
		return ErrNotFound
	}
	if active && d.Type == model.DrawTypeStandard {
		if d.Settled() {
			return ErrAlreadySettled
		}
		if m.overlapsLocked(id, d.RangeStart, d.RangeEnd) {
			return ErrRangeOverlap
		}
	}
	d.IsActive = active
	m.draws[id] = d
	return nil
}

func (m *MemoryStore) AdvanceRound(_ context.Context, id uint64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.draws[id]
	if !ok {
		return 0, ErrNotFound
	}
	if d.Type != model.DrawTypePool {
		return 0, ErrDrawInactive
	}
	d.CurrentRound++
	m.draws[id] = d
	return d.CurrentRound, nil
}

func (m *MemoryStore) ReserveNumber(_ context.Context, o *model.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.draws[o.DrawID]
	if !ok || !d.IsActive || d.Type != model.DrawTypeStandard {
		return ErrDrawInactive
	}
	if !d.Contains(o.Number) {
		return ErrOutOfRange
	}
	k := holdKey{o.DrawID, o.Number}
	if _, held := m.holds[k]; held {
		return ErrNumberTaken
	}
	if _, dup := m.orders[o.OrderID]; dup {
		return ErrDuplicate
	}
	if o.PaymentRef != "" && m.paymentRefUsedLocked(o.PaymentRef) {
		return ErrDuplicate
	}
	o.UpdatedAt = o.CreatedAt
	m.holds[k] = o.OrderID
	m.orders[o.OrderID] = *o
	return nil
}

func (m *MemoryStore) paymentRefUsedLocked(ref string) bool {
	for _, o := range m.orders {
		if o.PaymentRef == ref {
			return true
		}
	}
	for _, c := range m.claims {
		if c.PaymentRef == ref {
			return true
		}
	}
	return false
}

func (m *MemoryStore) ReleaseNumber(_ context.Context, orderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[orderID]; ok && o.Status.Holding() {
		return false, nil
	}
	for k, id := range m.holds {
		if id == orderID {
			delete(m.holds, k)
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) ReleaseStaleHolds(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, id := range m.holds {
		o, ok := m.orders[id]
		if !ok || !o.Status.Holding() {
			delete(m.holds, k)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) HeldNumbers(_ context.Context, drawID uint64) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	held := make([]int, 0)
	for k := range m.holds {
		if k.drawID == drawID {
			held = append(held, k.number)
		}
	}
	sort.Ints(held)
	return held, nil
}

func (m *MemoryStore) GetOrder(_ context.Context, orderID string) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return model.Order{}, ErrNotFound
	}
	return o, nil
}

func (m *MemoryStore) OrderByPaymentRef(_ context.Context, paymentRef string) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if paymentRef == "" {
		return model.Order{}, ErrNotFound
	}
	for _, o := range m.orders {
		if o.PaymentRef == paymentRef {
			return o, nil
		}
	}
	return model.Order{}, ErrNotFound
}

func (m *MemoryStore) TransitionOrder(_ context.Context, orderID string, t Transition) (model.Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return model.Order{}, false, ErrNotFound
	}
	if o.Status != t.From {
		return o, false, nil
	}
	if o.PaymentRef == "" && t.PaymentRef != "" {
		if m.paymentRefUsedLocked(t.PaymentRef) {
			return model.Order{}, false, ErrDuplicate
		}
		o.PaymentRef = t.PaymentRef
	}
	o.Status = t.To
	if t.Detail != "" {
		o.StatusDetail = t.Detail
	}
	if t.To == model.StatusPaid && o.PaidAt == nil {
		at := t.At
		o.PaidAt = &at
	}
	o.UpdatedAt = t.At
	m.orders[orderID] = o
	return o, true, nil
}

func (m *MemoryStore) ExpiredOrders(_ context.Context, now time.Time, limit int) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Order, 0)
	for _, o := range m.orders {
		if o.Expired(now) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) paidOrdersLocked(drawID uint64, number *int) []model.Order {
	out := make([]model.Order, 0)
	for _, o := range m.orders {
		if o.DrawID != drawID || o.Status != model.StatusPaid {
			continue
		}
		if number != nil && o.Number != *number {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].OrderID < out[j].OrderID
	})
	return out
}

func (m *MemoryStore) PaidOrdersByDraw(_ context.Context, drawID uint64) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paidOrdersLocked(drawID, nil), nil
}

func (m *MemoryStore) usedQuotaLocked(campaignID uint64, round int) int {
	used := 0
	for _, c := range m.claims {
		if c.CampaignID == campaignID && c.Round == round && c.Status.Holding() {
			used += c.TotalQty
		}
	}
	return used
}

func (m *MemoryStore) CreateClaim(_ context.Context, c *model.Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.draws[c.CampaignID]
	if !ok || !d.IsActive || d.Type != model.DrawTypePool {
		return ErrDrawInactive
	}
	if m.usedQuotaLocked(d.ID, d.CurrentRound)+c.TotalQty > d.BaseQty {
		return ErrQuotaExhausted
	}
	if _, dup := m.claims[c.ID]; dup {
		return ErrDuplicate
	}
	if c.PaymentRef != "" && m.paymentRefUsedLocked(c.PaymentRef) {
		return ErrDuplicate
	}
	c.Round = d.CurrentRound
	c.Amount = d.Price.Mul(decimal.NewFromInt(int64(c.TotalQty)))
	c.UpdatedAt = c.CreatedAt
	m.claims[c.ID] = *c
	return nil
}

func (m *MemoryStore) GetClaim(_ context.Context, id string) (model.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[id]
	if !ok {
		return model.Claim{}, ErrNotFound
	}
	return c, nil
}

func (m *MemoryStore) ClaimByPaymentRef(_ context.Context, paymentRef string) (model.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if paymentRef == "" {
		return model.Claim{}, ErrNotFound
	}
	for _, c := range m.claims {
		if c.PaymentRef == paymentRef {
			return c, nil
		}
	}
	return model.Claim{}, ErrNotFound
}

func (m *MemoryStore) TransitionClaim(_ context.Context, id string, t Transition) (model.Claim, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.claims[id]
	if !ok {
		return model.Claim{}, false, ErrNotFound
	}
	if c.Status != t.From {
		return c, false, nil
	}
	if c.PaymentRef == "" && t.PaymentRef != "" {
		if m.paymentRefUsedLocked(t.PaymentRef) {
			return model.Claim{}, false, ErrDuplicate
		}
		c.PaymentRef = t.PaymentRef
	}
	c.Status = t.To
	if t.Detail != "" {
		c.StatusDetail = t.Detail
	}
	if t.To == model.StatusPaid && c.PaidAt == nil {
		at := t.At
		c.PaidAt = &at
	}
	c.UpdatedAt = t.At
	m.claims[id] = c
	return c, true, nil
}

func (m *MemoryStore) ExpiredClaims(_ context.Context, now time.Time, limit int) ([]model.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Claim, 0)
	for _, c := range m.claims {
		if c.Expired(now) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) RoundUsage(_ context.Context, campaignID uint64) (model.RoundUsage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.draws[campaignID]
	if !ok {
		return model.RoundUsage{}, ErrNotFound
	}
	if d.Type != model.DrawTypePool {
		return model.RoundUsage{}, ErrDrawInactive
	}
	return model.RoundUsage{
		CampaignID: campaignID,
		Round:      d.CurrentRound,
		Quota:      d.BaseQty,
		Used:       m.usedQuotaLocked(campaignID, d.CurrentRound),
	}, nil
}

func (m *MemoryStore) SettleDraw(_ context.Context, drawID uint64, drawnNumber int, fn SettleFunc) (model.Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.draws[drawID]
	if !ok {
		return model.Settlement{}, ErrNotFound
	}
	if d.Settled() {
		return model.Settlement{}, ErrAlreadySettled
	}
	s, err := fn(d, m.paidOrdersLocked(drawID, &drawnNumber))
	if err != nil {
		return model.Settlement{}, err
	}
	n := s.DrawnNumber
	settledAt := s.SettledAt
	d.DrawnNumber = &n
	d.WinnersCount = s.WinnersCount
	d.PayoutEach = s.PayoutEach
	d.PayoutRemainder = s.Remainder
	d.NeedsReview = s.NeedsReview
	d.SettledAt = &settledAt
	d.IsActive = false
	m.draws[drawID] = d
	m.winners[drawID] = append([]model.WinnerLine(nil), s.Winners...)
	return s, nil
}

func (m *MemoryStore) GetSettlement(_ context.Context, drawID uint64) (model.Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.draws[drawID]
	if !ok || !d.Settled() {
		return model.Settlement{}, ErrNotFound
	}
	s := settlementFromDraw(d)
	s.Winners = append(s.Winners, m.winners[drawID]...)
	return s, nil
}

func (m *MemoryStore) SubAffiliateByCode(_ context.Context, code string) (model.SubAffiliate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[code]
	if !ok {
		return model.SubAffiliate{}, ErrNotFound
	}
	return s, nil
}

func (m *MemoryStore) SubAffiliateByPhone(_ context.Context, phone string) (model.SubAffiliate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		if s.Phone == phone {
			return s, nil
		}
	}
	return model.SubAffiliate{}, ErrNotFound
}

func (m *MemoryStore) VipAffiliateByID(_ context.Context, id uint64) (model.VipAffiliate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vips[id]
	if !ok {
		return model.VipAffiliate{}, ErrNotFound
	}
	return v, nil
}

func (m *MemoryStore) VipAffiliateByPhone(_ context.Context, phone string) (model.VipAffiliate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.vips {
		if v.Phone == phone {
			return v, nil
		}
	}
	return model.VipAffiliate{}, ErrNotFound
}

func (m *MemoryStore) SaveCommissions(_ context.Context, lines []model.Commission) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range lines {
		tiers := m.commissions[c.OrderID]
		if tiers == nil {
			tiers = make(map[int]model.Commission)
			m.commissions[c.OrderID] = tiers
		}
		if _, exists := tiers[c.Tier]; exists {
			continue
		}
		tiers[c.Tier] = c
		n++
	}
	return n, nil
}

func (m *MemoryStore) CommissionsByOrder(_ context.Context, orderID string) ([]model.Commission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Commission, 0, len(m.commissions[orderID]))
	for _, c := range m.commissions[orderID] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tier < out[j].Tier })
	return out, nil
}

func (m *MemoryStore) UpsertCustomer(_ context.Context, c *model.Customer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.customers[c.Phone]; ok {
		existing.Name = c.Name
		if c.PixKey != "" {
			existing.PixKey = c.PixKey
		}
		m.customers[c.Phone] = existing
		*c = existing
		return nil
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	m.nextCustomerID++
	c.ID = m.nextCustomerID
	m.customers[c.Phone] = *c
	return nil
}

func (m *MemoryStore) CustomerByPhone(_ context.Context, phone string) (model.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.customers[phone]
	if !ok {
		return model.Customer{}, ErrNotFound
	}
	return c, nil
}

func (m *MemoryStore) RecordAnomaly(_ context.Context, a *model.Anomaly) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.anomalies {
		if e.Kind == a.Kind && e.PaymentRef == a.PaymentRef {
			return false, nil
		}
	}
	m.anomalies = append(m.anomalies, *a)
	return true, nil
}

func anomalyMatches(a model.Anomaly, f model.AnomalyFilter) bool {
	if f.Kind != "" && a.Kind != f.Kind {
		return false
	}
	return !f.UnresolvedOnly || !a.Resolved
}

func (m *MemoryStore) ListAnomalies(_ context.Context, f model.AnomalyFilter) ([]model.Anomaly, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Anomaly, 0)
	for i := len(m.anomalies) - 1; i >= 0; i-- {
		if anomalyMatches(m.anomalies[i], f) {
			out = append(out, m.anomalies[i])
		}
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) CountAnomalies(_ context.Context, f model.AnomalyFilter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.anomalies {
		if anomalyMatches(a, f) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) ResolveAnomaly(_ context.Context, id int64, note string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, a := range m.anomalies {
		if a.ID == id && !a.Resolved {
			t := at
			m.anomalies[i].Resolved = true
			m.anomalies[i].ResolutionNote = note
			m.anomalies[i].ResolvedAt = &t
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryStore) CreateOperator(_ context.Context, op *model.Operator) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	op.Email = strings.ToLower(strings.TrimSpace(op.Email))
	if _, exists := m.operators[op.Email]; exists {
		return ErrDuplicate
	}
	if op.Role == "" {
		op.Role = model.RoleOperator
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}
	m.nextOperatorID++
	op.ID = m.nextOperatorID
	m.operators[op.Email] = *op
	return nil
}

func (m *MemoryStore) OperatorByEmail(_ context.Context, email string) (model.Operator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.operators[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return model.Operator{}, ErrNotFound
	}
	return op, nil
}
