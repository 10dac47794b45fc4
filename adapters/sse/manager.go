package sse

import (
	"context"
	"log/slog"
	"sync"

	"github.com/smallnest/chanx"

	"rauction/adapters/metrics"
)

type managerOptions[T any] struct {
	logger     *slog.Logger
	bufferSize int
	publisher  Publisher[T]
	subscriber Subscriber[T]
	metrics    *metrics.AuctionMetrics
	newChannel func(bufferSize int) IChannel[T]
}

type ManagerOption[T any] func(*managerOptions[T])

// WithLogger 設置日誌記錄器
func WithLogger[T any](logger *slog.Logger) ManagerOption[T] {
	return func(o *managerOptions[T]) {
		o.logger = logger
	}
}

// WithBufferSize 設置每個訂閱者的緩衝大小
func WithBufferSize[T any](size int) ManagerOption[T] {
	return func(o *managerOptions[T]) {
		o.bufferSize = size
	}
}

// WithPublisher 設置跨節點的發布者。設置後 Publish 只會送往傳輸層，
// 本節點的訂閱者透過 WithSubscriber 設置的消費者收到訊息。
func WithPublisher[T any](publisher Publisher[T]) ManagerOption[T] {
	return func(o *managerOptions[T]) {
		o.publisher = publisher
	}
}

// WithSubscriber 設置跨節點的消費者
func WithSubscriber[T any](subscriber Subscriber[T]) ManagerOption[T] {
	return func(o *managerOptions[T]) {
		o.subscriber = subscriber
	}
}

// WithChannelFactory 設置建立頻道的函式，預設為 NewChannel
func WithChannelFactory[T any](fn func(bufferSize int) IChannel[T]) ManagerOption[T] {
	return func(o *managerOptions[T]) {
		o.newChannel = fn
	}
}

// WithMetrics 設置指標
func WithMetrics[T any](m *metrics.AuctionMetrics) ManagerOption[T] {
	return func(o *managerOptions[T]) {
		o.metrics = m
	}
}

// connectionManager 管理多個 SSE 頻道的訂閱與發布。
// 未設置傳輸層時，訊息經由本地的無上限佇列分派；
// 設置 Redis Stream 等傳輸層後，多個服務實例可以共享同一個事件流。
type connectionManager[T any] struct {
	logger  *slog.Logger
	options managerOptions[T]

	mu      sync.RWMutex   // 保護 active 和 channels 的讀寫
	wg      sync.WaitGroup // 用於等待所有 goroutine 完成
	active  bool           // 標記 manager 是否正在運作中
	started bool

	local    *chanx.UnboundedChan[PublishRequest[T]]
	cancel   context.CancelFunc
	channels map[string]IChannel[T] // 儲存所有活躍的頻道
}

// NewConnectionManager 建立一個新的連線管理器。
func NewConnectionManager[T any](opts ...ManagerOption[T]) (IConnectionManager[T], error) {
	// 默認選項
	options := managerOptions[T]{
		logger:     slog.Default(),
		bufferSize: 16,
		newChannel: func(bufferSize int) IChannel[T] {
			return NewChannel[T](bufferSize)
		},
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &connectionManager[T]{
		logger:   options.logger.With(slog.String("caller", "ConnectionManager")),
		options:  options,
		channels: make(map[string]IChannel[T]),
	}, nil
}

// Start 啟動連線管理器，開始處理訊息的接收與廣播。
func (cm *connectionManager[T]) Start() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.started {
		return
	}
	cm.started = true
	cm.active = true

	ctx, cancel := context.WithCancel(context.Background())
	cm.cancel = cancel
	cm.local = chanx.NewUnboundedChan[PublishRequest[T]](ctx, cm.options.bufferSize)

	var remote <-chan PublishRequest[T]
	if cm.options.subscriber != nil {
		cm.options.subscriber.Start()
		remote = cm.options.subscriber.Subscribe()
	}

	cm.wg.Add(1)
	go func() {
		defer cm.wg.Done()
		defer cm.logger.Info("dispatcher stopped")
		for {
			select {
			case <-ctx.Done():
				return
			case req, ok := <-cm.local.Out:
				if !ok {
					return
				}
				cm.dispatch(req)
			case req, ok := <-remote:
				if !ok {
					remote = nil
					continue
				}
				cm.dispatch(req)
			}
		}
	}()
	cm.logger.Info("connection manager started")
}

func (cm *connectionManager[T]) dispatch(req PublishRequest[T]) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	dropped := 0
	if c, ok := cm.channels[req.Channel]; ok {
		dropped += c.Broadcast(req.Message)
	}
	if req.Channel != WildcardChannel {
		if c, ok := cm.channels[WildcardChannel]; ok {
			dropped += c.Broadcast(req.Message)
		}
	}
	if dropped > 0 {
		cm.options.metrics.AddDropped(dropped)
		cm.logger.Warn("dropped message for slow subscribers",
			slog.String("channel", req.Channel),
			slog.Int("dropped", dropped))
	}
}

// Done 停止連線管理器的運作。
func (cm *connectionManager[T]) Done() {
	cm.mu.Lock()
	if !cm.active {
		cm.mu.Unlock()
		return
	}
	cm.active = false
	cm.cancel()
	cm.mu.Unlock()

	if cm.options.subscriber != nil {
		cm.options.subscriber.Close()
	}
	cm.wg.Wait()

	cm.mu.Lock()
	defer cm.mu.Unlock()
	for name, channel := range cm.channels {
		for range channel.Len() {
			cm.options.metrics.SubscriberDisconnected()
		}
		channel.UnsubscribeAll()
		delete(cm.channels, name)
	}
	cm.logger.Info("connection manager stopped")
}

// Subscribe 訂閱指定的頻道。
func (cm *connectionManager[T]) Subscribe(channelName string) (<-chan T, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if !cm.active {
		return nil, ErrManagerClosed
	}

	c, ok := cm.channels[channelName]
	if !ok {
		c = cm.options.newChannel(cm.options.bufferSize)
		cm.channels[channelName] = c
	}
	cm.options.metrics.SubscriberConnected()
	return c.Subscribe(), nil
}

// Publish 發布訊息到指定的頻道。
func (cm *connectionManager[T]) Publish(channelName string, data T) error {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if !cm.active {
		return ErrManagerClosed
	}

	req := PublishRequest[T]{Channel: channelName, Message: data}
	if cm.options.publisher != nil {
		return cm.options.publisher.Publish(req)
	}
	cm.local.In <- req
	return nil
}

// Unsubscribe 取消訂閱指定的頻道。
func (cm *connectionManager[T]) Unsubscribe(channelName string, ch <-chan T) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	c, ok := cm.channels[channelName]
	if !ok {
		return
	}
	if c.Unsubscribe(ch) {
		cm.options.metrics.SubscriberDisconnected()
	}
	if c.IsIdle() {
		delete(cm.channels, channelName)
	}
}

func (cm *connectionManager[T]) Subscribers(channelName string) int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if c, ok := cm.channels[channelName]; ok {
		return c.Len()
	}
	return 0
}
