package auction

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Auction 代表一場反向拍賣 (價格遞減)，由買方建立，
// 供應商對其中的每個品項出價，每個品項最低價者得標。
type Auction struct {
	ID              uuid.UUID       `json:"id"`
	BuyerID         string          `json:"buyerId"`
	Title           string          `json:"title"`
	StartPrice      decimal.Decimal `json:"startPrice"`
	DecrementStep   decimal.Decimal `json:"decrementStep"`
	DurationMinutes int             `json:"durationMinutes"`
	Status          Status          `json:"status"`
	StartTime       *time.Time      `json:"startTime"`
	EndTime         *time.Time      `json:"endTime"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// Duration 回傳拍賣的持續時間
func (a Auction) Duration() time.Duration {
	return time.Duration(a.DurationMinutes) * time.Minute
}

// AcceptsBidsAt 判斷拍賣在指定時間點是否可以接受出價
func (a Auction) AcceptsBidsAt(now time.Time) bool {
	if a.Status != StatusLive || a.EndTime == nil {
		return false
	}
	return now.Before(*a.EndTime)
}

// Item 代表拍賣中的一個品項，建立後不可修改
type Item struct {
	ID            uuid.UUID `json:"id"`
	AuctionID     uuid.UUID `json:"auctionId"`
	Description   string    `json:"description"`
	Quantity      int       `json:"quantity"`
	UnitOfMeasure string    `json:"uom"`
}

// Bid 代表一筆出價紀錄，只會新增，不會修改或刪除
type Bid struct {
	ID          uuid.UUID       `json:"id"`
	AuctionID   uuid.UUID       `json:"auctionId"`
	ItemID      uuid.UUID       `json:"itemId"`
	SupplierID  string          `json:"supplierId"`
	Value       decimal.Decimal `json:"value"`
	SubmittedAt time.Time       `json:"submittedAt"`
}

// DefaultUnitOfMeasure 是未指定單位時使用的預設值
const DefaultUnitOfMeasure = "NOS"

// AuctionDraft 是建立拍賣時由買方提供的資料
type AuctionDraft struct {
	BuyerID         string
	Title           string
	StartPrice      decimal.Decimal
	DecrementStep   decimal.Decimal
	DurationMinutes int
	Items           []ItemDraft
}

// ItemDraft 是建立拍賣時的品項資料
type ItemDraft struct {
	Description   string `json:"description"`
	Quantity      int    `json:"quantity"`
	UnitOfMeasure string `json:"uom"`
}

// EventKind 區分推送給訂閱者的事件種類
type EventKind string

const (
	EventKindFloor  EventKind = "floor"
	EventKindStatus EventKind = "status"
)

// UpdateEvent 是推送給所有訂閱者的拍賣更新事件。
// 每一筆被接受的出價都會產生一個 floor 事件；狀態轉換會產生 status 事件。
type UpdateEvent struct {
	Kind      EventKind        `json:"kind" msgpack:"kind"`
	AuctionID uuid.UUID        `json:"auctionId" msgpack:"auctionId"`
	ItemID    *uuid.UUID       `json:"itemId,omitempty" msgpack:"itemId,omitempty"`
	NewFloor  *decimal.Decimal `json:"newFloor,omitempty" msgpack:"newFloor,omitempty"`
	Status    Status           `json:"status,omitempty" msgpack:"status,omitempty"`
	Timestamp time.Time        `json:"timestamp" msgpack:"timestamp"`
}

// ItemView 是品項加上目前底價的唯讀檢視
type ItemView struct {
	Item
	Floor    decimal.Decimal `json:"floor"`
	BidCount int             `json:"bidCount"`
}

// AuctionView 是拍賣加上每個品項目前底價的唯讀檢視
type AuctionView struct {
	Auction
	Items []ItemView `json:"items"`
}

// ItemSummary 是拍賣結算時單一品項的 L1 (最低出價) 資訊
type ItemSummary struct {
	Item
	L1       *Bid `json:"l1"`
	BidCount int  `json:"bidCount"`
}

// Summary 是整場拍賣的 L1 摘要
type Summary struct {
	Auction
	Items []ItemSummary `json:"items"`
}
