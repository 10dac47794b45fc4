package auction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"rauction/adapters/metrics"
)

// ExpireFunc 在拍賣截止時間到達時被呼叫
type ExpireFunc func(ctx context.Context, auctionID uuid.UUID) error

type schedulerOptions struct {
	logger        *slog.Logger
	metrics       *metrics.AuctionMetrics
	clock         func() time.Time
	sweepInterval time.Duration
	expireTimeout time.Duration
}

type SchedulerOption func(*schedulerOptions)

// WithSchedulerLogger 設置日誌記錄器
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(o *schedulerOptions) {
		o.logger = logger
	}
}

// WithSchedulerMetrics 設置指標
func WithSchedulerMetrics(m *metrics.AuctionMetrics) SchedulerOption {
	return func(o *schedulerOptions) {
		o.metrics = m
	}
}

// WithSchedulerClock 設置時間來源
func WithSchedulerClock(clock func() time.Time) SchedulerOption {
	return func(o *schedulerOptions) {
		o.clock = clock
	}
}

// WithSchedulerSweepInterval 設置定期掃描的間隔
func WithSchedulerSweepInterval(d time.Duration) SchedulerOption {
	return func(o *schedulerOptions) {
		o.sweepInterval = d
	}
}

// WithSchedulerExpireTimeout 設置單次關閉拍賣的逾時時間
func WithSchedulerExpireTimeout(d time.Duration) SchedulerOption {
	return func(o *schedulerOptions) {
		o.expireTimeout = d
	}
}

type deadline struct {
	at    time.Time
	timer *time.Timer
}

// Scheduler 為每場 LIVE 拍賣維護一個截止計時器。
// 計時器只是盡力而為，真正的依據是帳本中的 end_time：
// 啟動時與每次定期掃描都會從帳本重建截止時間，並關閉已逾期的拍賣。
type Scheduler struct {
	ledger  Ledger
	expire  ExpireFunc
	logger  *slog.Logger
	options schedulerOptions

	mu        sync.Mutex
	wg        sync.WaitGroup
	deadlines map[uuid.UUID]*deadline
	closed    bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewScheduler 建立一個新的排程器
func NewScheduler(ledger Ledger, expire ExpireFunc, opts ...SchedulerOption) (*Scheduler, error) {
	if ledger == nil {
		return nil, errors.New("ledger cannot be nil")
	}
	if expire == nil {
		return nil, errors.New("expire func cannot be nil")
	}

	// 默認選項
	options := schedulerOptions{
		logger:        slog.Default(),
		clock:         time.Now,
		sweepInterval: 30 * time.Second,
		expireTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(&options)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		ledger:    ledger,
		expire:    expire,
		logger:    options.logger.With(slog.String("caller", "Scheduler")),
		options:   options,
		deadlines: make(map[uuid.UUID]*deadline),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Arm 設定 (或取代) 拍賣的截止計時器。已過期的截止時間會立即觸發。
func (s *Scheduler) Arm(auctionID uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	if old, ok := s.deadlines[auctionID]; ok {
		old.timer.Stop()
	}
	delay := at.Sub(s.options.clock())
	if delay < 0 {
		delay = 0
	}
	entry := &deadline{at: at}
	entry.timer = time.AfterFunc(delay, func() {
		s.fire(auctionID, entry)
	})
	s.deadlines[auctionID] = entry
	s.logger.Debug("deadline armed", slog.String("auctionID", auctionID.String()), slog.Time("deadline", at))
}

// Disarm 取消拍賣的截止計時器
func (s *Scheduler) Disarm(auctionID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.deadlines[auctionID]; ok {
		entry.timer.Stop()
		delete(s.deadlines, auctionID)
	}
}

// Pending 回傳拍賣目前設定的截止時間
func (s *Scheduler) Pending(auctionID uuid.UUID) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.deadlines[auctionID]
	if !ok {
		return time.Time{}, false
	}
	return entry.at, true
}

func (s *Scheduler) fire(auctionID uuid.UUID, entry *deadline) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if current, ok := s.deadlines[auctionID]; ok && current == entry {
		delete(s.deadlines, auctionID)
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(s.ctx, s.options.expireTimeout)
	defer cancel()
	if err := s.expire(ctx, auctionID); err != nil {
		// 交給下一次掃描重試
		s.logger.Error("fail to close expired auction",
			slog.String("auctionID", auctionID.String()),
			slog.Any("error", err))
	}
}

// Sweep 從帳本讀取所有 LIVE 拍賣，關閉已逾期者，並為尚未設定計時器者補上計時器。
// 行程重啟後呼叫一次即可重建所有截止時間。
func (s *Scheduler) Sweep(ctx context.Context) error {
	const op = "Scheduler.Sweep"
	start := time.Now()
	defer func() {
		s.options.metrics.ObserveSweep(time.Since(start))
	}()

	auctions, err := s.ledger.ListLiveAuctions(ctx)
	if err != nil {
		return fmt.Errorf("[%s] Fail to list live auctions, err=%w", op, err)
	}
	now := s.options.clock()
	var errs []error
	for _, a := range auctions {
		if a.EndTime == nil {
			s.logger.Warn("live auction without end time", slog.String("auctionID", a.ID.String()))
			continue
		}
		if !now.Before(*a.EndTime) {
			s.Disarm(a.ID)
			if err := s.expire(ctx, a.ID); err != nil {
				errs = append(errs, fmt.Errorf("auction %s: %w", a.ID, err))
			}
			continue
		}
		if at, ok := s.Pending(a.ID); !ok || !at.Equal(*a.EndTime) {
			s.Arm(a.ID, *a.EndTime)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("[%s] Fail to close expired auctions, err=%w", op, errors.Join(errs...))
	}
	return nil
}

// Recover 在行程啟動時重建截止時間：已逾期的 LIVE 拍賣立即關閉，其餘重新設定計時器。
func (s *Scheduler) Recover(ctx context.Context) error {
	const op = "Scheduler.Recover"
	if err := s.Sweep(ctx); err != nil {
		return fmt.Errorf("[%s] %w", op, err)
	}
	return nil
}

// Run 先執行 Recover，之後定期掃描，直到 ctx 取消。
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", slog.Duration("sweepInterval", s.options.sweepInterval))
	defer s.logger.Info("scheduler stopped")

	if err := s.Recover(ctx); err != nil {
		s.logger.Error("recovery failed", slog.Any("error", err))
	}
	ticker := time.NewTicker(s.options.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error("sweep failed", slog.Any("error", err))
			}
		}
	}
}

// Close 停止所有計時器並等待執行中的回呼結束
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for id, entry := range s.deadlines {
		entry.timer.Stop()
		delete(s.deadlines, id)
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}
