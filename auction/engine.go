package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"rauction/adapters/metrics"
)

// Notifier 接收拍賣更新事件並推送給訂閱者。
// 發布失敗只會被記錄，不會影響觸發它的出價或狀態轉換。
type Notifier interface {
	Publish(ctx context.Context, event UpdateEvent) error
}

// NotifierFunc 將函式轉換為 Notifier
type NotifierFunc func(ctx context.Context, event UpdateEvent) error

func (f NotifierFunc) Publish(ctx context.Context, event UpdateEvent) error {
	return f(ctx, event)
}

// BidRequest 是供應商對單一品項的出價
type BidRequest struct {
	ItemID     uuid.UUID
	SupplierID string
	Value      decimal.Decimal
}

// BidReceipt 是出價被接受後的回執
type BidReceipt struct {
	Bid           Bid             `json:"bid"`
	PreviousFloor decimal.Decimal `json:"previousFloor"`
	NewFloor      decimal.Decimal `json:"newFloor"`
}

// BidOutcome 是批次出價中單筆出價的結果，Err 為 nil 時 Receipt 有值
type BidOutcome struct {
	Request BidRequest
	Receipt *BidReceipt
	Err     error
}

type engineOptions struct {
	logger           *slog.Logger
	locker           Locker
	notifier         Notifier
	metrics          *metrics.AuctionMetrics
	clock            func() time.Time
	maxAttempts      int
	schedulerOptions []SchedulerOption
}

type EngineOption func(*engineOptions)

// WithLogger 設置日誌記錄器
func WithLogger(logger *slog.Logger) EngineOption {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

// WithLocker 設置品項與拍賣的互斥鎖
func WithLocker(locker Locker) EngineOption {
	return func(o *engineOptions) {
		o.locker = locker
	}
}

// WithNotifier 設置更新事件的發布者
func WithNotifier(notifier Notifier) EngineOption {
	return func(o *engineOptions) {
		o.notifier = notifier
	}
}

// WithMetrics 設置指標
func WithMetrics(m *metrics.AuctionMetrics) EngineOption {
	return func(o *engineOptions) {
		o.metrics = m
	}
}

// WithClock 設置時間來源
func WithClock(clock func() time.Time) EngineOption {
	return func(o *engineOptions) {
		o.clock = clock
	}
}

// WithMaxAttempts 設置出價遇到寫入衝突時的最大嘗試次數
func WithMaxAttempts(n int) EngineOption {
	return func(o *engineOptions) {
		o.maxAttempts = n
	}
}

// WithSchedulerOptions 設置內部排程器的選項
func WithSchedulerOptions(opts ...SchedulerOption) EngineOption {
	return func(o *engineOptions) {
		o.schedulerOptions = append(o.schedulerOptions, opts...)
	}
}

// Engine 是拍賣的狀態機與出價引擎。
//   - 出價：以品項為單位序列化「讀取底價 → 驗證 → 寫入」，帳本再以 compare-and-append 把關
//   - 狀態轉換：以拍賣為單位序列化，帳本以 compare-and-set 把關
//   - 截盤：帳本寫入出價時在同一交易內重新確認拍賣仍為 LIVE，關閉後不可能再寫入出價
type Engine struct {
	ledger    Ledger
	locker    Locker
	notifier  Notifier
	metrics   *metrics.AuctionMetrics
	clock     func() time.Time
	logger    *slog.Logger
	scheduler *Scheduler
	options   engineOptions
}

// NewEngine 建立一個新的拍賣引擎
func NewEngine(ledger Ledger, opts ...EngineOption) (*Engine, error) {
	const op = "NewEngine"
	if ledger == nil {
		return nil, errors.New("ledger cannot be nil")
	}

	// 默認選項
	options := engineOptions{
		logger:      slog.Default(),
		clock:       time.Now,
		maxAttempts: 3,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.locker == nil {
		options.locker = NewLocalLocker()
	}
	if options.maxAttempts <= 0 {
		options.maxAttempts = 1
	}

	e := &Engine{
		ledger:   ledger,
		locker:   options.locker,
		notifier: options.notifier,
		metrics:  options.metrics,
		clock:    options.clock,
		logger:   options.logger.With(slog.String("caller", "Engine")),
		options:  options,
	}

	schedulerOpts := append([]SchedulerOption{
		WithSchedulerLogger(options.logger),
		WithSchedulerMetrics(options.metrics),
		WithSchedulerClock(options.clock),
	}, options.schedulerOptions...)
	scheduler, err := NewScheduler(ledger, e.expire, schedulerOpts...)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create scheduler, err=%w", op, err)
	}
	e.scheduler = scheduler
	return e, nil
}

// Scheduler 回傳引擎內部的排程器
func (e *Engine) Scheduler() *Scheduler {
	return e.scheduler
}

// Run 執行排程器直到 ctx 取消，啟動時會從帳本重建所有截止時間
func (e *Engine) Run(ctx context.Context) error {
	return e.scheduler.Run(ctx)
}

// Shutdown 停止排程器
func (e *Engine) Shutdown() {
	e.scheduler.Close()
}

// CreateAuction 建立一場 SCHEDULED 拍賣
func (e *Engine) CreateAuction(ctx context.Context, draft AuctionDraft) (AuctionView, error) {
	const op = "Engine.CreateAuction"
	normalized, err := draft.Normalize()
	if err != nil {
		return AuctionView{}, err
	}
	a, items, err := e.ledger.CreateAuction(ctx, normalized)
	if err != nil {
		return AuctionView{}, ledgerError(op, "Fail to create auction", err)
	}
	e.logger.Info("auction created",
		slog.String("auctionID", a.ID.String()),
		slog.String("buyerID", a.BuyerID),
		slog.Int("items", len(items)))
	return AuctionView{
		Auction: a,
		Items: lo.Map(items, func(item Item, _ int) ItemView {
			return ItemView{Item: item, Floor: a.StartPrice}
		}),
	}, nil
}

// Start 將 SCHEDULED 拍賣轉為 LIVE，並設定截止計時器
func (e *Engine) Start(ctx context.Context, auctionID uuid.UUID, actor Actor) (Auction, error) {
	const op = "Engine.Start"
	unlock, err := e.lock(ctx, auctionLockKey(auctionID))
	if err != nil {
		return Auction{}, fmt.Errorf("[%s] Fail to acquire auction lock, err=%w", op, err)
	}
	defer unlock()

	a, err := e.ledger.GetAuction(ctx, auctionID)
	if err != nil {
		return Auction{}, ledgerError(op, "Fail to get auction", err)
	}
	if !actor.canManage(a) {
		return Auction{}, fmt.Errorf("[%s] %w: actor %s does not own auction %s", op, ErrForbidden, actor.ID, auctionID)
	}
	if a.Status != StatusScheduled {
		return Auction{}, fmt.Errorf("[%s] %w: cannot start auction in status %s", op, ErrInvalidTransition, a.Status)
	}

	now := e.clock()
	end := now.Add(a.Duration())
	updated, err := e.ledger.UpdateAuctionStatus(ctx, StatusUpdate{
		AuctionID: auctionID,
		From:      StatusScheduled,
		To:        StatusLive,
		StartTime: &now,
		EndTime:   &end,
	})
	if err != nil {
		return Auction{}, ledgerError(op, "Fail to start auction", err)
	}

	e.scheduler.Arm(auctionID, end)
	e.metrics.ObserveTransition(string(StatusLive), string(actor.Role))
	e.logger.Info("auction started",
		slog.String("auctionID", auctionID.String()),
		slog.Time("endTime", end))
	e.publish(ctx, statusEvent(updated, now))
	return updated, nil
}

// Close 將 LIVE 拍賣轉為 CLOSED。對非 LIVE 的拍賣 (包含已關閉者) 回傳 ErrInvalidTransition。
func (e *Engine) Close(ctx context.Context, auctionID uuid.UUID, actor Actor) (Auction, error) {
	const op = "Engine.Close"
	unlock, err := e.lock(ctx, auctionLockKey(auctionID))
	if err != nil {
		return Auction{}, fmt.Errorf("[%s] Fail to acquire auction lock, err=%w", op, err)
	}
	defer unlock()

	a, err := e.ledger.GetAuction(ctx, auctionID)
	if err != nil {
		return Auction{}, ledgerError(op, "Fail to get auction", err)
	}
	if !actor.canManage(a) {
		return Auction{}, fmt.Errorf("[%s] %w: actor %s does not own auction %s", op, ErrForbidden, actor.ID, auctionID)
	}
	if a.Status != StatusLive {
		return Auction{}, fmt.Errorf("[%s] %w: cannot close auction in status %s", op, ErrInvalidTransition, a.Status)
	}
	return e.closeLive(ctx, a, string(actor.Role))
}

// expire 由排程器在截止時間到達時呼叫。拍賣已被手動關閉時不做任何事。
func (e *Engine) expire(ctx context.Context, auctionID uuid.UUID) error {
	const op = "Engine.expire"
	unlock, err := e.lock(ctx, auctionLockKey(auctionID))
	if err != nil {
		return fmt.Errorf("[%s] Fail to acquire auction lock, err=%w", op, err)
	}
	defer unlock()

	a, err := e.ledger.GetAuction(ctx, auctionID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return ledgerError(op, "Fail to get auction", err)
	}
	if a.Status != StatusLive {
		return nil
	}
	if a.EndTime != nil && e.clock().Before(*a.EndTime) {
		// 計時器提早觸發，重新設定
		e.scheduler.Arm(auctionID, *a.EndTime)
		return nil
	}
	_, err = e.closeLive(ctx, a, "deadline")
	if errors.Is(err, ErrInvalidTransition) {
		return nil
	}
	return err
}

func (e *Engine) closeLive(ctx context.Context, a Auction, trigger string) (Auction, error) {
	const op = "Engine.closeLive"
	now := e.clock()
	updated, err := e.ledger.UpdateAuctionStatus(ctx, StatusUpdate{
		AuctionID: a.ID,
		From:      StatusLive,
		To:        StatusClosed,
		EndTime:   &now,
	})
	if err != nil {
		return Auction{}, ledgerError(op, "Fail to close auction", err)
	}

	e.scheduler.Disarm(a.ID)
	e.metrics.ObserveTransition(string(StatusClosed), trigger)
	e.logger.Info("auction closed",
		slog.String("auctionID", a.ID.String()),
		slog.String("trigger", trigger))
	e.publish(ctx, statusEvent(updated, lo.FromPtrOr(updated.EndTime, now)))
	return updated, nil
}

// SubmitBid 驗證並寫入一筆出價。
// 被拒絕時回傳包含原因的 *BidRejectedError；重試後仍寫入衝突時回傳 ErrConflict。
func (e *Engine) SubmitBid(ctx context.Context, req BidRequest) (BidReceipt, error) {
	const op = "Engine.SubmitBid"
	receipt, err := e.submitBid(ctx, req)
	if err != nil {
		if rejected, ok := RejectionOf(err); ok {
			e.metrics.ObserveBid(string(rejected.Reason))
			return BidReceipt{}, fmt.Errorf("[%s] %w", op, err)
		}
		if errors.Is(err, ErrConflict) {
			e.metrics.ObserveBid("conflict")
		} else {
			e.metrics.ObserveBid("error")
		}
		return BidReceipt{}, err
	}
	e.metrics.ObserveBid("accepted")
	return receipt, nil
}

func (e *Engine) submitBid(ctx context.Context, req BidRequest) (BidReceipt, error) {
	const op = "Engine.SubmitBid"
	if strings.TrimSpace(req.SupplierID) == "" {
		return BidReceipt{}, fmt.Errorf("[%s] %w: supplier is required", op, ErrInvalidArgument)
	}

	item, err := e.ledger.GetItem(ctx, req.ItemID)
	if err != nil {
		return BidReceipt{}, ledgerError(op, "Fail to get item", err)
	}
	a, err := e.ledger.GetAuction(ctx, item.AuctionID)
	if err != nil {
		return BidReceipt{}, ledgerError(op, "Fail to get auction", err)
	}
	if !a.AcceptsBidsAt(e.clock()) {
		return BidReceipt{}, rejectBid(ReasonAuctionNotLive)
	}
	if !req.Value.IsPositive() {
		return BidReceipt{}, rejectBid(ReasonNonPositive)
	}

	// 取得品項的出價鎖，序列化「讀取底價 → 驗證 → 寫入」
	unlock, err := e.lock(ctx, itemLockKey(item.ID))
	if err != nil {
		return BidReceipt{}, fmt.Errorf("[%s] Fail to acquire bid lock, err=%w", op, err)
	}
	defer unlock()

	for attempt := 1; ; attempt++ {
		bids, err := e.ledger.ListBidsForItem(ctx, item.ID)
		if err != nil {
			return BidReceipt{}, ledgerError(op, "Fail to list bids", err)
		}
		floor := Floor(a.StartPrice, bids)
		if err := ValidateBid(a.DecrementStep, floor, req.Value); err != nil {
			return BidReceipt{}, err
		}

		bid, err := e.ledger.AppendBid(ctx, AppendBidRequest{
			AuctionID:     a.ID,
			ItemID:        item.ID,
			SupplierID:    req.SupplierID,
			Value:         req.Value,
			ExpectedFloor: floor,
			Now:           e.clock(),
		})
		switch {
		case err == nil:
			e.logger.Info("lower bid accepted",
				slog.String("auctionID", a.ID.String()),
				slog.String("itemID", item.ID.String()),
				slog.String("supplierID", req.SupplierID),
				slog.String("from", floor.String()),
				slog.String("to", bid.Value.String()))
			newFloor := bid.Value
			e.publish(ctx, UpdateEvent{
				Kind:      EventKindFloor,
				AuctionID: a.ID,
				ItemID:    &item.ID,
				NewFloor:  &newFloor,
				Timestamp: bid.SubmittedAt,
			})
			return BidReceipt{Bid: bid, PreviousFloor: floor, NewFloor: newFloor}, nil
		case errors.Is(err, ErrAuctionNotLive):
			return BidReceipt{}, rejectBid(ReasonAuctionNotLive)
		case errors.Is(err, ErrConflict):
			e.logger.Debug("bid append conflict",
				slog.String("itemID", item.ID.String()),
				slog.Int("attempt", attempt))
			if attempt >= e.options.maxAttempts {
				return BidReceipt{}, fmt.Errorf("[%s] Fail to append bid after %d attempts, err=%w", op, attempt, err)
			}
		default:
			return BidReceipt{}, ledgerError(op, "Fail to append bid", err)
		}
	}
}

// SubmitBids 依序處理同一供應商的多筆出價，每筆出價獨立成功或失敗
func (e *Engine) SubmitBids(ctx context.Context, supplierID string, entries []BidRequest) []BidOutcome {
	outcomes := make([]BidOutcome, len(entries))
	for i, entry := range entries {
		entry.SupplierID = supplierID
		outcomes[i].Request = entry
		receipt, err := e.SubmitBid(ctx, entry)
		if err != nil {
			outcomes[i].Err = err
			continue
		}
		outcomes[i].Receipt = &receipt
	}
	return outcomes
}

// GetAuction 取得拍賣以及每個品項目前的底價
func (e *Engine) GetAuction(ctx context.Context, auctionID uuid.UUID) (AuctionView, error) {
	const op = "Engine.GetAuction"
	a, err := e.ledger.GetAuction(ctx, auctionID)
	if err != nil {
		return AuctionView{}, ledgerError(op, "Fail to get auction", err)
	}
	return e.view(ctx, a)
}

// ListAuctions 列出拍賣以及每個品項目前的底價
func (e *Engine) ListAuctions(ctx context.Context, filter ListFilter) ([]AuctionView, error) {
	const op = "Engine.ListAuctions"
	auctions, err := e.ledger.ListAuctions(ctx, filter)
	if err != nil {
		return nil, ledgerError(op, "Fail to list auctions", err)
	}
	views := make([]AuctionView, 0, len(auctions))
	for _, a := range auctions {
		v, err := e.view(ctx, a)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

// Summary 回傳每個品項的 L1 (最低) 出價
func (e *Engine) Summary(ctx context.Context, auctionID uuid.UUID) (Summary, error) {
	const op = "Engine.Summary"
	a, err := e.ledger.GetAuction(ctx, auctionID)
	if err != nil {
		return Summary{}, ledgerError(op, "Fail to get auction", err)
	}
	items, err := e.ledger.ListItems(ctx, auctionID)
	if err != nil {
		return Summary{}, ledgerError(op, "Fail to list items", err)
	}
	summary := Summary{Auction: a, Items: make([]ItemSummary, len(items))}
	for i, item := range items {
		bids, err := e.ledger.ListBidsForItem(ctx, item.ID)
		if err != nil {
			return Summary{}, ledgerError(op, "Fail to list bids", err)
		}
		summary.Items[i] = ItemSummary{Item: item, L1: LowestBid(bids), BidCount: len(bids)}
	}
	return summary, nil
}

func (e *Engine) view(ctx context.Context, a Auction) (AuctionView, error) {
	const op = "Engine.view"
	items, err := e.ledger.ListItems(ctx, a.ID)
	if err != nil {
		return AuctionView{}, ledgerError(op, "Fail to list items", err)
	}
	view := AuctionView{Auction: a, Items: make([]ItemView, len(items))}
	for i, item := range items {
		bids, err := e.ledger.ListBidsForItem(ctx, item.ID)
		if err != nil {
			return AuctionView{}, ledgerError(op, "Fail to list bids", err)
		}
		view.Items[i] = ItemView{Item: item, Floor: Floor(a.StartPrice, bids), BidCount: len(bids)}
	}
	return view, nil
}

func (e *Engine) lock(ctx context.Context, key string) (func(), error) {
	unlock, err := e.locker.Lock(ctx, key)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	return unlock, nil
}

func (e *Engine) publish(ctx context.Context, event UpdateEvent) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Publish(context.WithoutCancel(ctx), event); err != nil {
		e.metrics.IncBroadcastFailure()
		e.logger.Warn("fail to publish update event",
			slog.String("auctionID", event.AuctionID.String()),
			slog.String("kind", string(event.Kind)),
			slog.Any("error", err))
	}
}

func statusEvent(a Auction, at time.Time) UpdateEvent {
	return UpdateEvent{
		Kind:      EventKindStatus,
		AuctionID: a.ID,
		Status:    a.Status,
		Timestamp: at,
	}
}

// ledgerError 包裝帳本回傳的錯誤；未知錯誤一律視為 ErrUpstreamUnavailable
func ledgerError(op, msg string, err error) error {
	for _, known := range []error{ErrNotFound, ErrInvalidTransition, ErrConflict, ErrAuctionNotLive, ErrInvalidArgument, ErrUpstreamUnavailable} {
		if errors.Is(err, known) {
			return fmt.Errorf("[%s] %s, err=%w", op, msg, err)
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("[%s] %s, err=%w", op, msg, err)
	}
	return fmt.Errorf("[%s] %s, err=%w: %w", op, msg, ErrUpstreamUnavailable, err)
}

func auctionLockKey(id uuid.UUID) string {
	return "auction:" + id.String()
}

func itemLockKey(id uuid.UUID) string {
	return "item:" + id.String()
}
