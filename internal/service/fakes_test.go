package service

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mintforge/dropmarket/internal/domain"
)

type fakeClock struct{ t time.Time }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memDB is a single in-memory database backing all the store fakes, so
// cross-store transactions (purchase, accept) can touch every table under
// one lock the way the real transactions do.
type memDB struct {
	mu       sync.Mutex
	phases   map[string]domain.Phase
	items    map[string]domain.Item
	listings map[string]domain.Listing
	offers   map[string]domain.Offer
	audits   []domain.AuditEntry
	percent  *float64 // persisted global increase percent
	now      func() time.Time
}

func newMemDB(clock domain.Clock) *memDB {
	return &memDB{
		phases:   map[string]domain.Phase{},
		items:    map[string]domain.Item{},
		listings: map[string]domain.Listing{},
		offers:   map[string]domain.Offer{},
		now:      clock.Now,
	}
}

type memPhaseStore struct{ db *memDB }

func (s *memPhaseStore) CreateBatch(_ context.Context, phases []domain.Phase) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, p := range phases {
		s.db.phases[p.ID] = p
	}
	return nil
}

func (s *memPhaseStore) List(_ context.Context) ([]domain.Phase, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := make([]domain.Phase, 0, len(s.db.phases))
	for _, p := range s.db.phases {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (s *memPhaseStore) GetByID(_ context.Context, id string) (domain.Phase, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	p, ok := s.db.phases[id]
	if !ok {
		return domain.Phase{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *memPhaseStore) GetByIndex(_ context.Context, index int) (domain.Phase, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, p := range s.db.phases {
		if p.Index == index {
			return p, nil
		}
	}
	return domain.Phase{}, domain.ErrNotFound
}

func (s *memPhaseStore) Active(_ context.Context) (domain.Phase, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, p := range s.db.phases {
		if p.Active {
			return p, nil
		}
	}
	return domain.Phase{}, domain.ErrNotFound
}

func (s *memPhaseStore) NextAfter(_ context.Context, index int) (domain.Phase, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var best *domain.Phase
	for _, p := range s.db.phases {
		if p.Index <= index || !p.StartTime.IsZero() {
			continue
		}
		p := p
		if best == nil || p.Index < best.Index {
			best = &p
		}
	}
	if best == nil {
		return domain.Phase{}, domain.ErrNotFound
	}
	return *best, nil
}

func (s *memPhaseStore) Update(_ context.Context, p domain.Phase) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	cur, ok := s.db.phases[p.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Version != p.Version {
		return domain.ErrConflict
	}
	p.Version++
	s.db.phases[p.ID] = p
	return nil
}

func (s *memPhaseStore) Swap(_ context.Context, cur *domain.Phase, next domain.Phase) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if cur != nil {
		stored, ok := s.db.phases[cur.ID]
		if !ok {
			return domain.ErrNotFound
		}
		if stored.Version != cur.Version {
			return domain.ErrConflict
		}
		out := *cur
		out.Version++
		s.db.phases[cur.ID] = out
	}
	stored, ok := s.db.phases[next.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Version != next.Version {
		return domain.ErrConflict
	}
	next.Version++
	s.db.phases[next.ID] = next
	return nil
}

func (s *memPhaseStore) IncreasePercent(_ context.Context) (float64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	if s.db.percent == nil {
		return 0, domain.ErrNotFound
	}
	return *s.db.percent, nil
}

func (s *memPhaseStore) SetIncreasePercent(_ context.Context, percent float64) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.percent = &percent
	return nil
}

// memBus records published signals; Subscribe is not exercised by the
// service tests.
type memBus struct {
	mu   sync.Mutex
	sent []busMsg
}

type busMsg struct {
	channel string
	payload []byte
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, busMsg{channel: channel, payload: payload})
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, nil
}

type memItemStore struct{ db *memDB }

func (s *memItemStore) CreateBatch(_ context.Context, items []domain.Item) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, it := range items {
		s.db.items[it.ID] = it
	}
	return nil
}

func (s *memItemStore) GetByID(_ context.Context, id string) (domain.Item, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	it, ok := s.db.items[id]
	if !ok {
		return domain.Item{}, domain.ErrNotFound
	}
	return it, nil
}

func (s *memItemStore) ListByOwner(_ context.Context, owner string, _ domain.ListOpts) ([]domain.Item, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []domain.Item
	for _, it := range s.db.items {
		if it.OwnedBy(owner) {
			out = append(out, it)
		}
	}
	return out, nil
}

func (s *memItemStore) ListByStatus(_ context.Context, status domain.ItemStatus, _ domain.ListOpts) ([]domain.Item, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []domain.Item
	for _, it := range s.db.items {
		if it.Status == status {
			out = append(out, it)
		}
	}
	return out, nil
}

func (s *memItemStore) Count(_ context.Context) (int64, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return int64(len(s.db.items)), nil
}

func (s *memItemStore) UpdateStatus(_ context.Context, id string, from, to domain.ItemStatus) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	it, ok := s.db.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	if it.Status != from {
		return domain.ErrConflict
	}
	it.Status = to
	s.db.items[id] = it
	return nil
}

func (s *memItemStore) Purchase(_ context.Context, p domain.PurchaseParams) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	phase, ok := s.db.phases[p.PhaseID]
	if !ok {
		return domain.ErrNotFound
	}
	if !phase.Active || phase.Paused {
		return domain.ErrConflict
	}
	if phase.Sold >= phase.Capacity {
		return domain.ErrCapacityExhausted
	}
	it, ok := s.db.items[p.ItemID]
	if !ok {
		return domain.ErrNotFound
	}
	if it.Status != domain.ItemStatusAvailable {
		return domain.ErrConflict
	}
	phase.Sold++
	phase.Version++
	s.db.phases[p.PhaseID] = phase
	buyer := p.BuyerRef
	price := p.PriceCents
	it.Status = domain.ItemStatusSold
	it.OwnerRef = &buyer
	it.PriceSnapshot = &price
	s.db.items[p.ItemID] = it
	return nil
}

type memListingStore struct{ db *memDB }

func (s *memListingStore) Create(_ context.Context, l domain.Listing) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, existing := range s.db.listings {
		if existing.ItemID == l.ItemID && existing.Status == domain.ListingStatusOpen {
			return domain.ErrAlreadyExists
		}
	}
	it, ok := s.db.items[l.ItemID]
	if !ok {
		return domain.ErrNotFound
	}
	if it.Status != domain.ItemStatusSold || !it.OwnedBy(l.SellerRef) {
		return domain.ErrConflict
	}
	it.Status = domain.ItemStatusListed
	s.db.items[l.ItemID] = it
	s.db.listings[l.ID] = l
	return nil
}

func (s *memListingStore) GetByID(_ context.Context, id string) (domain.Listing, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	l, ok := s.db.listings[id]
	if !ok {
		return domain.Listing{}, domain.ErrNotFound
	}
	return l, nil
}

func (s *memListingStore) OpenByItem(_ context.Context, itemID string) (domain.Listing, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, l := range s.db.listings {
		if l.ItemID == itemID && l.Status == domain.ListingStatusOpen {
			return l, nil
		}
	}
	return domain.Listing{}, domain.ErrNotFound
}

func (s *memListingStore) ListOpen(_ context.Context, _ domain.ListOpts) ([]domain.Listing, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []domain.Listing
	for _, l := range s.db.listings {
		if l.Status == domain.ListingStatusOpen {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *memListingStore) Cancel(_ context.Context, id string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	l, ok := s.db.listings[id]
	if !ok {
		return domain.ErrNotFound
	}
	if l.Status != domain.ListingStatusOpen {
		return domain.ErrConflict
	}
	now := s.db.now()
	l.Status = domain.ListingStatusCancelled
	l.ClosedAt = &now
	s.db.listings[id] = l
	if it, ok := s.db.items[l.ItemID]; ok && it.Status == domain.ItemStatusListed {
		it.Status = domain.ItemStatusSold
		s.db.items[l.ItemID] = it
	}
	s.db.rejectLiveOffers(id, now)
	return nil
}

// rejectLiveOffers is called with db.mu held.
func (db *memDB) rejectLiveOffers(listingID string, now time.Time) {
	for oid, o := range db.offers {
		if o.ListingID != listingID || o.Status.Terminal() {
			continue
		}
		o.Status = domain.OfferStatusRejected
		o.ResolvedAt = &now
		db.offers[oid] = o
	}
}

type memOfferStore struct{ db *memDB }

func (s *memOfferStore) Create(_ context.Context, o domain.Offer) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.offers[o.ID] = o
	return nil
}

func (s *memOfferStore) GetByID(_ context.Context, id string) (domain.Offer, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	o, ok := s.db.offers[id]
	if !ok {
		return domain.Offer{}, domain.ErrNotFound
	}
	return o, nil
}

func (s *memOfferStore) ListByListing(_ context.Context, listingID string, _ domain.ListOpts) ([]domain.Offer, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []domain.Offer
	for _, o := range s.db.offers {
		if o.ListingID == listingID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *memOfferStore) ListByBuyer(_ context.Context, buyer string, _ domain.ListOpts) ([]domain.Offer, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []domain.Offer
	for _, o := range s.db.offers {
		if o.BuyerRef == buyer {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *memOfferStore) Counter(_ context.Context, id string, amount domain.Cents) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	o, ok := s.db.offers[id]
	if !ok {
		return domain.ErrNotFound
	}
	if o.Status != domain.OfferStatusPending {
		return domain.ErrConflict
	}
	o.Status = domain.OfferStatusCountered
	o.CounterCents = &amount
	s.db.offers[id] = o
	return nil
}

func (s *memOfferStore) Resolve(_ context.Context, id string, to domain.OfferStatus, from ...domain.OfferStatus) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	o, ok := s.db.offers[id]
	if !ok {
		return domain.ErrNotFound
	}
	matched := false
	for _, f := range from {
		if o.Status == f {
			matched = true
			break
		}
	}
	if !matched {
		return domain.ErrConflict
	}
	now := s.db.now()
	o.Status = to
	o.ResolvedAt = &now
	s.db.offers[id] = o
	return nil
}

func (s *memOfferStore) Accept(_ context.Context, p domain.AcceptParams) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	o, ok := s.db.offers[p.OfferID]
	if !ok {
		return domain.ErrNotFound
	}
	if o.Status != domain.OfferStatusPending && o.Status != domain.OfferStatusCountered {
		return domain.ErrConflict
	}
	l, ok := s.db.listings[p.ListingID]
	if !ok || l.Status != domain.ListingStatusOpen {
		return domain.ErrConflict
	}
	now := s.db.now()
	o.Status = domain.OfferStatusAccepted
	o.ResolvedAt = &now
	s.db.offers[p.OfferID] = o

	l.Status = domain.ListingStatusSettled
	l.ClosedAt = &now
	s.db.listings[p.ListingID] = l

	it := s.db.items[p.ItemID]
	buyer := p.BuyerRef
	price := p.PriceCents
	it.Status = domain.ItemStatusSold
	it.OwnerRef = &buyer
	it.PriceSnapshot = &price
	s.db.items[p.ItemID] = it

	s.db.rejectLiveOffers(p.ListingID, now)
	return nil
}

func (s *memOfferStore) ExpireBefore(_ context.Context, cutoff time.Time) ([]domain.Offer, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []domain.Offer
	for id, o := range s.db.offers {
		if o.Status.Terminal() || o.ExpiresAt.After(cutoff) {
			continue
		}
		o.Status = domain.OfferStatusExpired
		resolved := cutoff
		o.ResolvedAt = &resolved
		s.db.offers[id] = o
		out = append(out, o)
	}
	return out, nil
}

func (s *memOfferStore) ListResolvedBefore(_ context.Context, cutoff time.Time, limit int) ([]domain.Offer, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []domain.Offer
	for _, o := range s.db.offers {
		if !o.Status.Terminal() || o.ResolvedAt == nil || !o.ResolvedAt.Before(cutoff) {
			continue
		}
		out = append(out, o)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

type memAuditStore struct{ db *memDB }

func (s *memAuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.audits = append(s.db.audits, domain.AuditEntry{
		ID:        int64(len(s.db.audits) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: s.db.now(),
	})
	return nil
}

func (s *memAuditStore) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	out := make([]domain.AuditEntry, len(s.db.audits))
	copy(out, s.db.audits)
	return out, nil
}

type stubLimiter struct{ allow bool }

func (l stubLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return l.allow, nil
}

type captureSettler struct {
	mu       sync.Mutex
	receipts []domain.SaleReceipt
}

func (c *captureSettler) RecordSale(_ context.Context, r domain.SaleReceipt) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receipts = append(c.receipts, r)
	return nil
}
