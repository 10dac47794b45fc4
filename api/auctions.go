package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"rauction/auction"
)

type createAuctionRequest struct {
	Title           string              `json:"title"`
	StartPrice      decimal.Decimal     `json:"startPrice"`
	DecrementStep   decimal.Decimal     `json:"decrementStep"`
	DurationMinutes int                 `json:"durationMinutes"`
	Items           []auction.ItemDraft `json:"items"`
	// ItemsText 每行一個品項，格式為 description,quantity,uom；與 Items 擇一使用
	ItemsText string `json:"itemsText"`
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s", auction.ErrInvalidArgument, name)
	}
	return id, nil
}

// Create a reverse auction
// (POST /api/auctions)
func (impl *ServerImpl) postAuction(c *gin.Context) {
	actor, err := actorFrom(c)
	if err != nil {
		impl.abortWithError(c, err)
		return
	}
	var req createAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		impl.abortWithError(c, fmt.Errorf("%w: %w", auction.ErrInvalidArgument, err))
		return
	}

	items := req.Items
	if len(items) == 0 && req.ItemsText != "" {
		items, err = auction.ParseItemsText(req.ItemsText)
		if err != nil {
			impl.abortWithError(c, err)
			return
		}
	}
	// 移除使用者輸入中的 HTML
	items = lo.Map(items, func(item auction.ItemDraft, _ int) auction.ItemDraft {
		item.Description = impl.htmlChecker.Sanitize(item.Description)
		item.UnitOfMeasure = impl.htmlChecker.Sanitize(item.UnitOfMeasure)
		return item
	})

	view, err := impl.engine.CreateAuction(c.Request.Context(), auction.AuctionDraft{
		BuyerID:         actor.ID,
		Title:           impl.htmlChecker.Sanitize(req.Title),
		StartPrice:      req.StartPrice,
		DecrementStep:   req.DecrementStep,
		DurationMinutes: req.DurationMinutes,
		Items:           items,
	})
	if err != nil {
		impl.abortWithError(c, err)
		return
	}
	c.Header("Location", "/api/auctions/"+view.ID.String())
	c.JSON(http.StatusCreated, view)
}

// List auctions with their current floors
// (GET /api/auctions)
func (impl *ServerImpl) getAuctions(c *gin.Context) {
	var filter auction.ListFilter
	if raw := c.Query("status"); raw != "" {
		status, err := auction.ParseStatus(raw)
		if err != nil {
			impl.abortWithError(c, err)
			return
		}
		filter.Status = &status
	}
	filter.BuyerID = c.Query("buyer")
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			impl.abortWithError(c, fmt.Errorf("%w: invalid limit", auction.ErrInvalidArgument))
			return
		}
		filter.Limit = limit
	}

	views, err := impl.engine.ListAuctions(c.Request.Context(), filter)
	if err != nil {
		impl.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"auctions": lo.Ternary(views == nil, []auction.AuctionView{}, views)})
}

// Get an auction with its items and current floors
// (GET /api/auctions/{auctionID})
func (impl *ServerImpl) getAuction(c *gin.Context) {
	id, err := pathUUID(c, "auctionID")
	if err != nil {
		impl.abortWithError(c, err)
		return
	}
	view, err := impl.engine.GetAuction(c.Request.Context(), id)
	if err != nil {
		impl.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// Get the lowest bid of every item
// (GET /api/auctions/{auctionID}/summary)
func (impl *ServerImpl) getAuctionSummary(c *gin.Context) {
	id, err := pathUUID(c, "auctionID")
	if err != nil {
		impl.abortWithError(c, err)
		return
	}
	summary, err := impl.engine.Summary(c.Request.Context(), id)
	if err != nil {
		impl.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// Start a scheduled auction
// (POST /api/auctions/{auctionID}/start)
func (impl *ServerImpl) postAuctionStart(c *gin.Context) {
	impl.transition(c, impl.engine.Start)
}

// Close a live auction
// (POST /api/auctions/{auctionID}/close)
func (impl *ServerImpl) postAuctionClose(c *gin.Context) {
	impl.transition(c, impl.engine.Close)
}

func (impl *ServerImpl) transition(c *gin.Context, fn func(ctx context.Context, id uuid.UUID, actor auction.Actor) (auction.Auction, error)) {
	actor, err := actorFrom(c)
	if err != nil {
		impl.abortWithError(c, err)
		return
	}
	id, err := pathUUID(c, "auctionID")
	if err != nil {
		impl.abortWithError(c, err)
		return
	}
	a, err := fn(c.Request.Context(), id, actor)
	if err != nil {
		impl.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}
