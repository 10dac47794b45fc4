package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rauction/auction"
)

func (impl *ServerImpl) newRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	router.GET("/healthz", impl.getHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(impl.registry, promhttp.HandlerOpts{})))

	api := router.Group("/api")
	{
		api.GET("/auctions", impl.getAuctions)
		api.GET("/auctions/:auctionID", impl.getAuction)
		api.GET("/auctions/:auctionID/summary", impl.getAuctionSummary)
		api.GET("/auctions/:auctionID/events", impl.getAuctionEvents)
		api.GET("/events", impl.getEvents)

		buyer := api.Group("", impl.authenticate(auction.RoleBuyer))
		buyer.POST("/auctions", impl.postAuction)
		buyer.POST("/auctions/:auctionID/start", impl.postAuctionStart)
		buyer.POST("/auctions/:auctionID/close", impl.postAuctionClose)

		supplier := api.Group("", impl.authenticate(auction.RoleSupplier))
		supplier.POST("/items/:itemID/bids", impl.postItemBid)
		supplier.POST("/bids", impl.postBids)
	}
	return router
}

func (impl *ServerImpl) getHealth(c *gin.Context) {
	if impl.db != nil {
		sqlDB, err := impl.db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			impl.logger.Warn("health check failed", slog.Any("error", err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
