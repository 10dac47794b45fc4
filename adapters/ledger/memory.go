package ledger

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"rauction/auction"
)

// MemoryLedger 是保存在記憶體中的帳本，用於測試與單機部署。
// 所有寫入都在同一把鎖內完成，因此關閉拍賣與寫入出價天然是線性化的。
type MemoryLedger struct {
	mu       sync.RWMutex
	auctions map[uuid.UUID]*auction.Auction
	items    map[uuid.UUID]auction.Item
	order    map[uuid.UUID][]uuid.UUID
	bids     map[uuid.UUID][]auction.Bid
	clock    func() time.Time
}

var _ auction.Ledger = (*MemoryLedger)(nil)

type MemoryOption func(*MemoryLedger)

// WithMemoryClock 設置建立時間使用的時間來源
func WithMemoryClock(clock func() time.Time) MemoryOption {
	return func(l *MemoryLedger) {
		l.clock = clock
	}
}

func NewMemoryLedger(opts ...MemoryOption) *MemoryLedger {
	l := &MemoryLedger{
		auctions: make(map[uuid.UUID]*auction.Auction),
		items:    make(map[uuid.UUID]auction.Item),
		order:    make(map[uuid.UUID][]uuid.UUID),
		bids:     make(map[uuid.UUID][]auction.Bid),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *MemoryLedger) CreateAuction(ctx context.Context, draft auction.AuctionDraft) (auction.Auction, []auction.Item, error) {
	if err := ctx.Err(); err != nil {
		return auction.Auction{}, nil, err
	}
	a := auction.Auction{
		ID:              uuid.Must(uuid.NewV7()),
		BuyerID:         draft.BuyerID,
		Title:           draft.Title,
		StartPrice:      draft.StartPrice,
		DecrementStep:   draft.DecrementStep,
		DurationMinutes: draft.DurationMinutes,
		Status:          auction.StatusScheduled,
		CreatedAt:       l.clock(),
	}
	items := lo.Map(draft.Items, func(d auction.ItemDraft, _ int) auction.Item {
		return auction.Item{
			ID:            uuid.Must(uuid.NewV7()),
			AuctionID:     a.ID,
			Description:   d.Description,
			Quantity:      d.Quantity,
			UnitOfMeasure: d.UnitOfMeasure,
		}
	})

	l.mu.Lock()
	defer l.mu.Unlock()
	stored := a
	l.auctions[a.ID] = &stored
	for _, item := range items {
		l.items[item.ID] = item
		l.order[a.ID] = append(l.order[a.ID], item.ID)
	}
	return a, items, nil
}

func (l *MemoryLedger) GetAuction(ctx context.Context, id uuid.UUID) (auction.Auction, error) {
	const op = "MemoryLedger.GetAuction"
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.auctions[id]
	if !ok {
		return auction.Auction{}, fmt.Errorf("[%s] %w: auction %s", op, auction.ErrNotFound, id)
	}
	return *a, nil
}

func (l *MemoryLedger) ListAuctions(ctx context.Context, filter auction.ListFilter) ([]auction.Auction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []auction.Auction
	for _, a := range l.auctions {
		if filter.Status != nil && a.Status != *filter.Status {
			continue
		}
		if filter.BuyerID != "" && a.BuyerID != filter.BuyerID {
			continue
		}
		out = append(out, *a)
	}
	// 新建立的在前；UUIDv7 依時間遞增，可作為同一時間建立時的次要排序
	slices.SortFunc(out, func(x, y auction.Auction) int {
		if c := y.CreatedAt.Compare(x.CreatedAt); c != 0 {
			return c
		}
		return -slices.Compare(x.ID[:], y.ID[:])
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (l *MemoryLedger) ListLiveAuctions(ctx context.Context) ([]auction.Auction, error) {
	live := auction.StatusLive
	return l.ListAuctions(ctx, auction.ListFilter{Status: &live})
}

func (l *MemoryLedger) GetItem(ctx context.Context, id uuid.UUID) (auction.Item, error) {
	const op = "MemoryLedger.GetItem"
	l.mu.RLock()
	defer l.mu.RUnlock()
	item, ok := l.items[id]
	if !ok {
		return auction.Item{}, fmt.Errorf("[%s] %w: item %s", op, auction.ErrNotFound, id)
	}
	return item, nil
}

func (l *MemoryLedger) ListItems(ctx context.Context, auctionID uuid.UUID) ([]auction.Item, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return lo.Map(l.order[auctionID], func(id uuid.UUID, _ int) auction.Item {
		return l.items[id]
	}), nil
}

func (l *MemoryLedger) ListBidsForItem(ctx context.Context, itemID uuid.UUID) ([]auction.Bid, error) {
	l.mu.RLock()
	bids := slices.Clone(l.bids[itemID])
	l.mu.RUnlock()
	slices.SortStableFunc(bids, func(x, y auction.Bid) int {
		if c := x.Value.Cmp(y.Value); c != 0 {
			return c
		}
		return x.SubmittedAt.Compare(y.SubmittedAt)
	})
	return bids, nil
}

func (l *MemoryLedger) AppendBid(ctx context.Context, req auction.AppendBidRequest) (auction.Bid, error) {
	const op = "MemoryLedger.AppendBid"
	if err := ctx.Err(); err != nil {
		return auction.Bid{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.auctions[req.AuctionID]
	if !ok {
		return auction.Bid{}, fmt.Errorf("[%s] %w: auction %s", op, auction.ErrNotFound, req.AuctionID)
	}
	if !a.AcceptsBidsAt(req.Now) {
		return auction.Bid{}, fmt.Errorf("[%s] %w", op, auction.ErrAuctionNotLive)
	}
	item, ok := l.items[req.ItemID]
	if !ok || item.AuctionID != req.AuctionID {
		return auction.Bid{}, fmt.Errorf("[%s] %w: item %s", op, auction.ErrNotFound, req.ItemID)
	}

	existing := l.bids[req.ItemID]
	floor := auction.Floor(a.StartPrice, existing)
	if !floor.Equal(req.ExpectedFloor) {
		return auction.Bid{}, fmt.Errorf("[%s] %w: floor moved from %s to %s", op, auction.ErrConflict, req.ExpectedFloor, floor)
	}

	submittedAt := req.Now
	if n := len(existing); n > 0 && !submittedAt.After(existing[n-1].SubmittedAt) {
		submittedAt = existing[n-1].SubmittedAt.Add(time.Microsecond)
	}
	bid := auction.Bid{
		ID:          uuid.Must(uuid.NewV7()),
		AuctionID:   req.AuctionID,
		ItemID:      req.ItemID,
		SupplierID:  req.SupplierID,
		Value:       req.Value,
		SubmittedAt: submittedAt,
	}
	l.bids[req.ItemID] = append(existing, bid)
	return bid, nil
}

func (l *MemoryLedger) UpdateAuctionStatus(ctx context.Context, req auction.StatusUpdate) (auction.Auction, error) {
	const op = "MemoryLedger.UpdateAuctionStatus"
	if err := ctx.Err(); err != nil {
		return auction.Auction{}, err
	}
	if !req.From.CanTransitionTo(req.To) {
		return auction.Auction{}, fmt.Errorf("[%s] %w: %s -> %s", op, auction.ErrInvalidTransition, req.From, req.To)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.auctions[req.AuctionID]
	if !ok {
		return auction.Auction{}, fmt.Errorf("[%s] %w: auction %s", op, auction.ErrNotFound, req.AuctionID)
	}
	if a.Status != req.From {
		return auction.Auction{}, fmt.Errorf("[%s] %w: auction is %s, expected %s", op, auction.ErrInvalidTransition, a.Status, req.From)
	}
	a.Status = req.To
	if req.StartTime != nil {
		a.StartTime = lo.ToPtr(*req.StartTime)
	}
	if req.EndTime != nil {
		end := *req.EndTime
		if req.To == auction.StatusClosed {
			// 截止時間不得早於已寫入的出價
			if last, ok := l.lastBidAt(req.AuctionID); ok && last.After(end) {
				end = last
			}
		}
		a.EndTime = &end
	}
	return *a, nil
}

// lastBidAt 回傳拍賣中最晚寫入的出價時間，呼叫者需持有 l.mu
func (l *MemoryLedger) lastBidAt(auctionID uuid.UUID) (time.Time, bool) {
	var last time.Time
	found := false
	for _, itemID := range l.order[auctionID] {
		bids := l.bids[itemID]
		if n := len(bids); n > 0 && (!found || bids[n-1].SubmittedAt.After(last)) {
			last = bids[n-1].SubmittedAt
			found = true
		}
	}
	return last, found
}
