package auction_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rauction/auction"
)

func auctionStatus(t *testing.T, f *fixture, view auction.AuctionView) auction.Status {
	t.Helper()
	a, err := f.ledger.GetAuction(context.Background(), view.ID)
	require.NoError(t, err)
	return a.Status
}

func TestSchedulerRecoverClosesOverdueAuctions(t *testing.T) {
	f := setupEngine(t)
	overdue := f.liveAuction(t)
	f.clock.Advance(20 * time.Minute)
	pending := f.liveAuction(t)
	f.engine.Shutdown()

	// 模擬行程重啟：新的引擎只能從帳本得知截止時間
	f.clock.Advance(15 * time.Minute)
	restarted := setupEngineWith(t, f.ledger, f.clock, &eventRecorder{})
	require.NoError(t, restarted.engine.Scheduler().Recover(context.Background()))

	assert.Equal(t, auction.StatusClosed, auctionStatus(t, f, overdue))
	assert.Equal(t, auction.StatusLive, auctionStatus(t, f, pending))
	at, ok := restarted.engine.Scheduler().Pending(pending.ID)
	require.True(t, ok)
	assert.True(t, at.Equal(f.clock.Now().Add(15*time.Minute)))
	_, ok = restarted.engine.Scheduler().Pending(overdue.ID)
	assert.False(t, ok)

	events := restarted.recorder.Events()
	require.Len(t, events, 1)
	assert.Equal(t, auction.StatusClosed, events[0].Status)
	assert.Equal(t, overdue.ID, events[0].AuctionID)
}

func TestSchedulerTimerClosesAuction(t *testing.T) {
	f := setupEngine(t)
	view := f.liveAuction(t)
	end, ok := f.engine.Scheduler().Pending(view.ID)
	require.True(t, ok)

	// 時間到達後重新設定計時器，會立即觸發
	f.clock.Advance(30 * time.Minute)
	f.engine.Scheduler().Arm(view.ID, end)
	assert.Eventually(t, func() bool {
		return auctionStatus(t, f, view) == auction.StatusClosed
	}, time.Second, 5*time.Millisecond)
}

func TestSchedulerEarlyFireRearms(t *testing.T) {
	f := setupEngine(t)
	view := f.liveAuction(t)
	end, ok := f.engine.Scheduler().Pending(view.ID)
	require.True(t, ok)

	// 計時器比帳本的截止時間早觸發時，不能關閉拍賣
	f.engine.Scheduler().Arm(view.ID, f.clock.Now())
	assert.Eventually(t, func() bool {
		at, ok := f.engine.Scheduler().Pending(view.ID)
		return ok && at.Equal(end)
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, auction.StatusLive, auctionStatus(t, f, view))
}

func TestSchedulerIgnoresClosedAuction(t *testing.T) {
	f := setupEngine(t)
	view := f.liveAuction(t)
	_, err := f.engine.Close(context.Background(), view.ID, buyer)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	require.NoError(t, f.engine.Scheduler().Sweep(context.Background()))
	assert.Equal(t, auction.StatusClosed, auctionStatus(t, f, view))
}

func TestSchedulerRun(t *testing.T) {
	f := setupEngine(t, auction.WithSchedulerOptions(auction.WithSchedulerSweepInterval(10*time.Millisecond)))
	view := f.liveAuction(t)
	f.clock.Advance(31 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.engine.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return auctionStatus(t, f, view) == auction.StatusClosed
	}, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
