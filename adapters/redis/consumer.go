package redis

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type consumerOptions[T any] struct {
	logger       *slog.Logger
	bufferSize   int
	batchSize    int64
	blockTimeout time.Duration
	retryDelay   time.Duration
	startID      string
	parseFunc    func(map[string]any) (T, error)
}

type ConsumerOption[T any] func(*consumerOptions[T])

// WithConsumerLogger 設置日誌記錄器
func WithConsumerLogger[T any](logger *slog.Logger) ConsumerOption[T] {
	return func(o *consumerOptions[T]) {
		o.logger = logger
	}
}

// WithConsumerBufferSize 設置下游channel的緩衝大小
func WithConsumerBufferSize[T any](size int) ConsumerOption[T] {
	return func(o *consumerOptions[T]) {
		o.bufferSize = size
	}
}

// WithConsumerBatchSize 設置每次 XREAD 讀取的最大消息數
func WithConsumerBatchSize[T any](n int64) ConsumerOption[T] {
	return func(o *consumerOptions[T]) {
		o.batchSize = n
	}
}

// WithConsumerBlockTimeout 設置阻塞讀取超時時間
func WithConsumerBlockTimeout[T any](d time.Duration) ConsumerOption[T] {
	return func(o *consumerOptions[T]) {
		o.blockTimeout = d
	}
}

// WithConsumerRetryDelay 設置讀取失敗後的等待時間
func WithConsumerRetryDelay[T any](d time.Duration) ConsumerOption[T] {
	return func(o *consumerOptions[T]) {
		o.retryDelay = d
	}
}

// WithConsumerStartID 設置開始讀取的消息 ID，預設 "$" 只讀取新消息
func WithConsumerStartID[T any](id string) ConsumerOption[T] {
	return func(o *consumerOptions[T]) {
		o.startID = id
	}
}

// WithConsumerParseFunc 設置自定義解析函數
func WithConsumerParseFunc[T any](fn func(map[string]any) (T, error)) ConsumerOption[T] {
	return func(o *consumerOptions[T]) {
		o.parseFunc = fn
	}
}

// Consumer 以 XREAD 持續讀取 Redis Stream，解析後送往下游 channel。
// 不使用消費者群組，每個 Consumer 都會收到 stream 中的每一則消息。
type Consumer[T any] struct {
	client     *redis.Client
	stream     string
	lastID     string
	downStream chan T
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.Mutex
	closed     bool
	logger     *slog.Logger
	options    consumerOptions[T]
}

func NewConsumer[T any](client *redis.Client, stream string, opts ...ConsumerOption[T]) (IConsumer[T], error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" {
		return nil, errors.New("stream cannot be empty")
	}

	// 默認選項
	options := consumerOptions[T]{
		logger:       slog.Default(),
		bufferSize:   100,
		batchSize:    16,
		blockTimeout: time.Second,
		retryDelay:   100 * time.Millisecond,
		startID:      "$",
		parseFunc:    DefaultParseFromMessage[T],
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Consumer[T]{
		client:     client,
		stream:     stream,
		lastID:     options.startID,
		downStream: make(chan T, options.bufferSize),
		closed:     true,
		logger:     options.logger.With(slog.String("caller", "Consumer"), slog.String("stream", stream)),
		options:    options,
	}, nil
}

func (s *Consumer[T]) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.closed = false
	s.cancelFunc = cancel
	s.logger.Info("starting stream consumer")

	// 在返回前確定起始位置，Start 之後寫入的消息都會被讀到
	if s.lastID == "$" {
		resolveCtx, resolveCancel := context.WithTimeout(ctx, s.options.blockTimeout)
		if err := s.resolveLastID(resolveCtx); err != nil {
			s.logger.Warn("fail to resolve start id, retry on first fetch", slog.Any("error", err))
		}
		resolveCancel()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.logger.Info("consumer goroutine stopped")
		defer close(s.downStream)

		for ctx.Err() == nil {
			messages, err := s.fetch(ctx)
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				s.logger.Error("fetch message error", slog.Any("error", err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(s.options.retryDelay):
				}
				continue
			}

			for _, message := range messages {
				data, err := s.options.parseFunc(message.Values)
				if err != nil {
					s.logger.Error("failed to parse message",
						slog.String("messageId", message.ID),
						slog.Any("error", err))
					continue
				}
				select {
				case <-ctx.Done():
					return
				case s.downStream <- data:
					s.logger.Debug("message sent to downstream", slog.String("messageId", message.ID))
				}
			}
		}
	}()
}

func (s *Consumer[T]) fetch(ctx context.Context) ([]redis.XMessage, error) {
	if s.lastID == "$" {
		// "$" 在每次 XREAD 時都代表當下最新的 ID，兩次阻塞讀取之間寫入的消息會被跳過，
		// 因此先換成 stream 目前最後一則消息的 ID
		if err := s.resolveLastID(ctx); err != nil {
			return nil, err
		}
	}
	streams, err := s.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{s.stream, s.lastID},
		Count:   s.options.batchSize,
		Block:   s.options.blockTimeout,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, redis.Nil
	}
	messages := streams[0].Messages
	s.lastID = messages[len(messages)-1].ID
	return messages, nil
}

func (s *Consumer[T]) resolveLastID(ctx context.Context) error {
	messages, err := s.client.XRevRangeN(ctx, s.stream, "+", "-", 1).Result()
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		s.lastID = "0-0"
		return nil
	}
	s.lastID = messages[0].ID
	return nil
}

// Subscribe 訂閱數據流，Close 之後 channel 會被關閉
func (s *Consumer[T]) Subscribe() <-chan T {
	return s.downStream
}

// Close 關閉消費者
func (s *Consumer[T]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.logger.Info("closing stream consumer")
	s.closed = true
	s.cancelFunc()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("stream consumer closed")
}
