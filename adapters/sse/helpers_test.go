package sse_test

import (
	"io"
	"log"
	"sync"

	"rauction/adapters/sse"
)

func init() {
	// 將日誌輸出重定向到io.Discard
	log.SetOutput(io.Discard)
}

// Message 表示一個測試用的訊息
type Message struct {
	Data string `json:"data"`
}

// loopback 模擬跨節點傳輸層：Publish 的請求會由 Subscribe 的通道送回
type loopback struct {
	mu      sync.Mutex
	ch      chan sse.PublishRequest[Message]
	started bool
	closed  bool
}

func newLoopback() *loopback {
	return &loopback{ch: make(chan sse.PublishRequest[Message], 16)}
}

func (l *loopback) Publish(req sse.PublishRequest[Message]) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return sse.ErrManagerClosed
	}
	l.ch <- req
	return nil
}

func (l *loopback) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = true
}

func (l *loopback) Subscribe() <-chan sse.PublishRequest[Message] {
	return l.ch
}

func (l *loopback) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.ch)
	}
}

func (l *loopback) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
