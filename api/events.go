package api

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"rauction/adapters/sse"
	"rauction/auction"
)

const defaultHeartbeat = 15 * time.Second

// Track the updates of one auction
// (GET /api/auctions/{auctionID}/events)
func (impl *ServerImpl) getAuctionEvents(c *gin.Context) {
	id, err := pathUUID(c, "auctionID")
	if err != nil {
		impl.abortWithError(c, err)
		return
	}
	impl.stream(c, id.String(), func() (any, error) {
		return impl.engine.GetAuction(c.Request.Context(), id)
	})
}

// Track the updates of every auction
// (GET /api/events)
func (impl *ServerImpl) getEvents(c *gin.Context) {
	impl.stream(c, sse.WildcardChannel, func() (any, error) {
		live := auction.StatusLive
		return impl.engine.ListAuctions(c.Request.Context(), auction.ListFilter{Status: &live})
	})
}

// stream 先訂閱頻道再送出快照，確保快照之後的事件都不會遺漏
func (impl *ServerImpl) stream(c *gin.Context, channel string, snapshot func() (any, error)) {
	const op = "stream"
	ch, err := impl.sseManager.Subscribe(channel)
	if err != nil {
		impl.abortWithError(c, fmt.Errorf("[%s] %w: %w", op, auction.ErrUpstreamUnavailable, err))
		return
	}
	defer impl.sseManager.Unsubscribe(channel, ch)

	initial, err := snapshot()
	if err != nil {
		impl.abortWithError(c, err)
		return
	}

	// SSE請求合法，開始初始化串流
	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	c.SSEvent("snapshot", initial)
	w.Flush()

	heartbeat := impl.config.SSE.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				// 伺服器關閉中
				return
			}
			c.SSEvent(string(event.Kind), event)
			w.Flush()
		// 一段時間沒有事件就發送註解行，確保瀏覽器和代理不會斷開連線
		case <-ticker.C:
			if _, err := w.WriteString(": ping\n\n"); err != nil {
				impl.logger.Debug("sse client gone", slog.String("channel", channel), slog.Any("error", err))
				return
			}
			w.Flush()
		}
	}
}
