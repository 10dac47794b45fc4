package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"rauction/auction"
)

type placeBidRequest struct {
	Value decimal.Decimal `json:"value"`
}

type batchBidEntry struct {
	ItemID uuid.UUID       `json:"itemId"`
	Value  decimal.Decimal `json:"value"`
}

type batchBidRequest struct {
	Bids []batchBidEntry `json:"bids"`
}

type batchBidResult struct {
	ItemID        uuid.UUID            `json:"itemId"`
	Accepted      bool                 `json:"accepted"`
	Bid           *auction.Bid         `json:"bid,omitempty"`
	NewFloor      *decimal.Decimal     `json:"newFloor,omitempty"`
	Error         string               `json:"error,omitempty"`
	Reason        auction.RejectReason `json:"reason,omitempty"`
	MaxAcceptable *decimal.Decimal     `json:"maxAcceptable,omitempty"`
	Retryable     bool                 `json:"retryable,omitempty"`
}

// bidContext 限制單次出價等待鎖與帳本的時間
func (impl *ServerImpl) bidContext(c *gin.Context) (context.Context, context.CancelFunc) {
	if impl.config.Bids.LockTimeout > 0 {
		return context.WithTimeout(c.Request.Context(), impl.config.Bids.LockTimeout)
	}
	return context.WithCancel(c.Request.Context())
}

// Place a lower bid on an item
// (POST /api/items/{itemID}/bids)
func (impl *ServerImpl) postItemBid(c *gin.Context) {
	actor, err := actorFrom(c)
	if err != nil {
		impl.abortWithError(c, err)
		return
	}
	itemID, err := pathUUID(c, "itemID")
	if err != nil {
		impl.abortWithError(c, err)
		return
	}
	var req placeBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		impl.abortWithError(c, fmt.Errorf("%w: %w", auction.ErrInvalidArgument, err))
		return
	}

	ctx, cancel := impl.bidContext(c)
	defer cancel()
	receipt, err := impl.engine.SubmitBid(ctx, auction.BidRequest{
		ItemID:     itemID,
		SupplierID: actor.ID,
		Value:      req.Value,
	})
	if err != nil {
		impl.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, receipt)
}

// Place bids on several items at once; every entry succeeds or fails on its own
// (POST /api/bids)
func (impl *ServerImpl) postBids(c *gin.Context) {
	actor, err := actorFrom(c)
	if err != nil {
		impl.abortWithError(c, err)
		return
	}
	var req batchBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		impl.abortWithError(c, fmt.Errorf("%w: %w", auction.ErrInvalidArgument, err))
		return
	}
	if len(req.Bids) == 0 {
		impl.abortWithError(c, fmt.Errorf("%w: at least one bid is required", auction.ErrInvalidArgument))
		return
	}

	ctx, cancel := impl.bidContext(c)
	defer cancel()
	entries := lo.Map(req.Bids, func(entry batchBidEntry, _ int) auction.BidRequest {
		return auction.BidRequest{ItemID: entry.ItemID, Value: entry.Value}
	})
	outcomes := impl.engine.SubmitBids(ctx, actor.ID, entries)

	results := lo.Map(outcomes, func(outcome auction.BidOutcome, _ int) batchBidResult {
		result := batchBidResult{ItemID: outcome.Request.ItemID}
		if outcome.Err == nil {
			result.Accepted = true
			result.Bid = &outcome.Receipt.Bid
			result.NewFloor = &outcome.Receipt.NewFloor
			return result
		}
		resp := toErrorResponse(outcome.Err)
		if statusOf(outcome.Err) >= http.StatusInternalServerError {
			impl.logger.Error("batch bid entry failed",
				slog.String("itemID", outcome.Request.ItemID.String()),
				slog.Any("error", outcome.Err))
			resp.Error = http.StatusText(http.StatusServiceUnavailable)
		}
		result.Error = resp.Error
		result.Reason = resp.Reason
		result.MaxAcceptable = resp.MaxAcceptable
		result.Retryable = resp.Retryable
		return result
	})
	c.JSON(http.StatusOK, gin.H{"results": results})
}
