package sse

import "errors"

// WildcardChannel 會收到所有頻道的訊息
const WildcardChannel = "*"

// ErrManagerClosed 表示連線管理員尚未啟動或已停止
var ErrManagerClosed = errors.New("connection manager is closed")

// PublishRequest 表示一個發布請求，包含頻道名稱和訊息。
type PublishRequest[T any] struct {
	Channel string `json:"channel" msgpack:"channel"`
	Message T      `json:"message" msgpack:"message"`
}

// IChannel 定義了 SSE 頻道的介面
type IChannel[T any] interface {
	// Subscribe 建立一個新的訂閱並返回接收訊息的通道
	Subscribe() <-chan T
	// Unsubscribe 取消指定通道的訂閱，回傳該通道是否仍在訂閱中
	Unsubscribe(ch <-chan T) bool
	// UnsubscribeAll 取消所有訂閱
	UnsubscribeAll()
	// Broadcast 將訊息廣播給所有訂閱者，回傳因緩衝已滿而被丟棄的數量
	Broadcast(message T) int
	// IsIdle 檢查是否沒有訂閱者
	IsIdle() bool
	// Len 回傳訂閱者數量
	Len() int
}

// IConnectionManager 定義了 SSE 連線管理員的介面
type IConnectionManager[T any] interface {
	// Start 啟動 ConnectionManager，開始處理訊息的接收與廣播。
	// 應在呼叫其他方法前先呼叫此方法。
	Start()
	// Done 停止 ConnectionManager，關閉所有訂閱者的通道。
	Done()
	// Subscribe 訂閱指定頻道，訂閱 WildcardChannel 可收到所有頻道的訊息。
	Subscribe(channelName string) (<-chan T, error)
	// Publish 將資料推送到指定頻道，不會等待訂閱者接收。
	Publish(channelName string, data T) error
	// Unsubscribe 取消訂閱指定頻道。
	Unsubscribe(channelName string, ch <-chan T)
	// Subscribers 回傳指定頻道目前的訂閱者數量
	Subscribers(channelName string) int
}

// Publisher 將發布請求送往跨節點的傳輸層，例如 Redis Stream 生產者
type Publisher[T any] interface {
	Publish(data PublishRequest[T]) error
}

// Subscriber 從跨節點的傳輸層接收發布請求，例如 Redis Stream 消費者
type Subscriber[T any] interface {
	Start()
	Subscribe() <-chan PublishRequest[T]
	Close()
}
