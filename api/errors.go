package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"rauction/auction"
)

type errorResponse struct {
	Error string `json:"error"`
	// Reason 只在出價被拒絕時出現
	Reason        auction.RejectReason `json:"reason,omitempty"`
	MaxAcceptable *decimal.Decimal     `json:"maxAcceptable,omitempty"`
	// Retryable 表示呼叫者可以重新讀取底價後再試一次
	Retryable bool `json:"retryable,omitempty"`
}

// statusOf 將領域錯誤對應到 HTTP 狀態碼
func statusOf(err error) int {
	switch {
	case errors.Is(err, auction.ErrBidRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, auction.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, auction.ErrInvalidTransition), errors.Is(err, auction.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, auction.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, auction.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, errNoActor):
		return http.StatusUnauthorized
	case errors.Is(err, auction.ErrUpstreamUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func toErrorResponse(err error) errorResponse {
	resp := errorResponse{Error: err.Error()}
	if rejected, ok := auction.RejectionOf(err); ok {
		resp.Error = rejected.Error()
		resp.Reason = rejected.Reason
		resp.MaxAcceptable = rejected.Boundary
	}
	if errors.Is(err, auction.ErrConflict) {
		resp.Retryable = true
	}
	return resp
}

func (impl *ServerImpl) abortWithError(c *gin.Context, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		impl.logger.Error("request failed",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Any("error", err))
	}
	resp := toErrorResponse(err)
	if status >= http.StatusInternalServerError {
		resp.Error = http.StatusText(status)
	}
	c.AbortWithStatusJSON(status, resp)
}
