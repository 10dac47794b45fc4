package auction_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"rauction/adapters/ledger"
	"rauction/auction"
)

var (
	buyer    = auction.Actor{ID: "buyer-1", Role: auction.RoleBuyer}
	stranger = auction.Actor{ID: "buyer-2", Role: auction.RoleBuyer}
)

// fakeClock 是可以手動推進的時間來源
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// eventRecorder 收集引擎發布的事件
type eventRecorder struct {
	mu     sync.Mutex
	events []auction.UpdateEvent
}

func (r *eventRecorder) Publish(_ context.Context, event auction.UpdateEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *eventRecorder) Events() []auction.UpdateEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]auction.UpdateEvent(nil), r.events...)
}

type fixture struct {
	clock    *fakeClock
	ledger   *ledger.MemoryLedger
	engine   *auction.Engine
	recorder *eventRecorder
}

func setupEngine(t *testing.T, opts ...auction.EngineOption) *fixture {
	t.Helper()
	clock := newFakeClock()
	recorder := &eventRecorder{}
	memory := ledger.NewMemoryLedger(ledger.WithMemoryClock(clock.Now))
	return setupEngineWith(t, memory, clock, recorder, opts...)
}

func setupEngineWith(t *testing.T, l auction.Ledger, clock *fakeClock, recorder *eventRecorder, opts ...auction.EngineOption) *fixture {
	t.Helper()
	engine, err := auction.NewEngine(l, append([]auction.EngineOption{
		auction.WithClock(clock.Now),
		auction.WithNotifier(recorder),
	}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(engine.Shutdown)
	memory, _ := l.(*ledger.MemoryLedger)
	return &fixture{clock: clock, ledger: memory, engine: engine, recorder: recorder}
}

// liveAuction 建立並開始一場起始價 1000、遞減 50、為期 30 分鐘的拍賣
func (f *fixture) liveAuction(t *testing.T, items ...string) auction.AuctionView {
	t.Helper()
	if len(items) == 0 {
		items = []string{"Steel pipe"}
	}
	drafts := make([]auction.ItemDraft, len(items))
	for i, desc := range items {
		drafts[i] = auction.ItemDraft{Description: desc}
	}
	ctx := context.Background()
	view, err := f.engine.CreateAuction(ctx, auction.AuctionDraft{
		BuyerID:         buyer.ID,
		Title:           "Steel supply",
		StartPrice:      decimal.NewFromInt(1000),
		DecrementStep:   decimal.NewFromInt(50),
		DurationMinutes: 30,
		Items:           drafts,
	})
	require.NoError(t, err)
	_, err = f.engine.Start(ctx, view.ID, buyer)
	require.NoError(t, err)
	return view
}

func (f *fixture) bid(itemID uuid.UUID, supplier string, value int64) (auction.BidReceipt, error) {
	return f.engine.SubmitBid(context.Background(), auction.BidRequest{
		ItemID:     itemID,
		SupplierID: supplier,
		Value:      decimal.NewFromInt(value),
	})
}
