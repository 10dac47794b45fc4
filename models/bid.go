package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"rauction/auction"
)

// Bid 代表供應商對品項的出價紀錄
// 只會新增，(item_id, value) 索引用於快速取得目前底價
type Bid struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey;<-:create"`
	AuctionID   uuid.UUID       `gorm:"type:uuid;not null;index;<-:create"`
	ItemID      uuid.UUID       `gorm:"type:uuid;not null;index:idx_bids_item_value,priority:1;<-:create"`
	SupplierID  string          `gorm:"type:varchar(255);not null;<-:create"`
	Value       decimal.Decimal `gorm:"type:numeric(20,4);not null;index:idx_bids_item_value,priority:2;<-:create"`
	SubmittedAt time.Time       `gorm:"not null;index;<-:create"`

	// 外鍵關聯
	Auction *Auction `gorm:"foreignKey:AuctionID"`
	Item    *Item    `gorm:"foreignKey:ItemID"`
}

func (b Bid) ToDomain() auction.Bid {
	return auction.Bid{
		ID:          b.ID,
		AuctionID:   b.AuctionID,
		ItemID:      b.ItemID,
		SupplierID:  b.SupplierID,
		Value:       b.Value,
		SubmittedAt: b.SubmittedAt,
	}
}
