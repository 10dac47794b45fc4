package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"rauction/auction"
)

// Auction 代表一場反向拍賣
// 包含買方、起始價、每次最少降價幅度、持續時間以及目前狀態
type Auction struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey;<-:create"`
	BuyerID         string          `gorm:"type:varchar(255);not null;index;<-:create"`
	Title           string          `gorm:"type:varchar(255);not null;<-:create"`
	StartPrice      decimal.Decimal `gorm:"type:numeric(20,4);not null;<-:create"`
	DecrementStep   decimal.Decimal `gorm:"type:numeric(20,4);not null;<-:create"`
	DurationMinutes int             `gorm:"not null;<-:create"`
	Status          string          `gorm:"type:varchar(16);not null;index"`
	StartTime       *time.Time
	EndTime         *time.Time
	CreatedAt       time.Time `gorm:"index"`
	UpdatedAt       time.Time

	// 外鍵關聯
	Items []Item
	Bids  []Bid
}

// ToDomain 轉換為領域物件
func (a Auction) ToDomain() auction.Auction {
	return auction.Auction{
		ID:              a.ID,
		BuyerID:         a.BuyerID,
		Title:           a.Title,
		StartPrice:      a.StartPrice,
		DecrementStep:   a.DecrementStep,
		DurationMinutes: a.DurationMinutes,
		Status:          auction.Status(a.Status),
		StartTime:       a.StartTime,
		EndTime:         a.EndTime,
		CreatedAt:       a.CreatedAt,
	}
}
