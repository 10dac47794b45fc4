package redis

import (
	"io"
	"log"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"rauction/auction"
)

func init() {
	// 將日誌輸出重定向到io.Discard
	log.SetOutput(io.Discard)
}

func setupTest(t *testing.T) (*redis.Client, redismock.ClientMock, func()) {
	db, mock := redismock.NewClientMock()
	return db, mock, func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	}
}

func floorEvent(value string) auction.UpdateEvent {
	itemID := uuid.MustParse("0192f0c8-6a3e-7c4d-9a51-3c7b1e2f4a10")
	floor := decimal.RequireFromString(value)
	return auction.UpdateEvent{
		Kind:      auction.EventKindFloor,
		AuctionID: uuid.MustParse("0192f0c8-6a3e-7c4d-9a51-3c7b1e2f4a01"),
		ItemID:    &itemID,
		NewFloor:  &floor,
		Timestamp: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}
