package auction_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rauction/adapters/ledger"
	"rauction/auction"
)

// slowCloseLedger 在寫入 CLOSED 之前暫停，讓出價可以插隊到關閉之前
type slowCloseLedger struct {
	*ledger.MemoryLedger
	paused  chan struct{}
	release chan struct{}
	once    sync.Once
}

func newSlowCloseLedger(clock *fakeClock) *slowCloseLedger {
	return &slowCloseLedger{
		MemoryLedger: ledger.NewMemoryLedger(ledger.WithMemoryClock(clock.Now)),
		paused:       make(chan struct{}),
		release:      make(chan struct{}),
	}
}

func (l *slowCloseLedger) UpdateAuctionStatus(ctx context.Context, req auction.StatusUpdate) (auction.Auction, error) {
	if req.To == auction.StatusClosed {
		l.once.Do(func() {
			close(l.paused)
			<-l.release
		})
	}
	return l.MemoryLedger.UpdateAuctionStatus(ctx, req)
}

func TestEngineCloseAfterInterleavedBid(t *testing.T) {
	clock := newFakeClock()
	l := newSlowCloseLedger(clock)
	f := setupEngineWith(t, l, clock, &eventRecorder{})
	view := f.liveAuction(t)
	itemID := view.Items[0].ID

	type closeResult struct {
		auction auction.Auction
		err     error
	}
	done := make(chan closeResult, 1)
	go func() {
		a, err := f.engine.Close(context.Background(), view.ID, buyer)
		done <- closeResult{auction: a, err: err}
	}()

	// Close 已讀取時間但尚未寫入，之後的出價仍然被接受
	<-l.paused
	clock.Advance(time.Second)
	receipt, err := f.bid(itemID, "supplier-1", 950)
	require.NoError(t, err)
	close(l.release)

	result := <-done
	require.NoError(t, result.err)
	require.NotNil(t, result.auction.EndTime)
	assert.False(t, receipt.Bid.SubmittedAt.After(*result.auction.EndTime),
		"bid at %s after close at %s", receipt.Bid.SubmittedAt, result.auction.EndTime)

	// 狀態事件帶有帳本保存的截止時間
	events := f.recorder.Events()
	last := events[len(events)-1]
	assert.Equal(t, auction.EventKindStatus, last.Kind)
	assert.True(t, last.Timestamp.Equal(*result.auction.EndTime))

	_, err = f.bid(itemID, "supplier-2", 900)
	requireRejected(t, err, auction.ReasonAuctionNotLive)
}

func TestEngineCloseRacesBids(t *testing.T) {
	f := setupEngine(t)
	view := f.liveAuction(t)
	itemID := view.Items[0].ID

	var (
		counter atomic.Int64
		closed  atomic.Bool
		wg      sync.WaitGroup
		start   = make(chan struct{})
	)
	submit := func(supplier string) {
		n := counter.Add(1)
		afterClose := closed.Load()
		_, err := f.bid(itemID, supplier, 1000-50*n)
		if afterClose {
			rejected, ok := auction.RejectionOf(err)
			if assert.True(t, ok, "bid after close: %v", err) {
				assert.Equal(t, auction.ReasonAuctionNotLive, rejected.Reason)
			}
			return
		}
		if err == nil {
			return
		}
		if rejected, ok := auction.RejectionOf(err); ok {
			assert.Contains(t, []auction.RejectReason{
				auction.ReasonTooHigh, auction.ReasonAuctionNotLive, auction.ReasonNonPositive,
			}, rejected.Reason)
			return
		}
		assert.ErrorIs(t, err, auction.ErrConflict)
	}

	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for range 2 {
				submit("supplier-" + string(rune('a'+i)))
			}
		}()
	}
	close(start)
	result, err := f.engine.Close(context.Background(), view.ID, buyer)
	require.NoError(t, err)
	closed.Store(true)
	wg.Wait()
	for range 4 {
		submit("late-supplier")
	}

	require.NotNil(t, result.EndTime)
	bids, err := f.ledger.ListBidsForItem(context.Background(), itemID)
	require.NoError(t, err)
	for _, b := range bids {
		assert.False(t, b.SubmittedAt.After(*result.EndTime),
			"bid %s at %s after close at %s", b.Value, b.SubmittedAt, result.EndTime)
	}
	stored, err := f.ledger.GetAuction(context.Background(), view.ID)
	require.NoError(t, err)
	assert.Equal(t, auction.StatusClosed, stored.Status)
	assert.True(t, stored.EndTime.Equal(*result.EndTime))
}
