package auction

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AppendBidRequest 是寫入出價的請求。
// 帳本必須在同一個交易中確認：
//   - 拍賣仍為 LIVE 且尚未超過截止時間，否則回傳 ErrAuctionNotLive
//   - 品項目前的底價仍等於 ExpectedFloor，否則回傳 ErrConflict
type AppendBidRequest struct {
	AuctionID     uuid.UUID
	ItemID        uuid.UUID
	SupplierID    string
	Value         decimal.Decimal
	ExpectedFloor decimal.Decimal
	Now           time.Time
}

// StatusUpdate 是對拍賣狀態的 compare-and-set 請求。
// 只有當目前狀態等於 From 時才會更新，否則回傳 ErrInvalidTransition。
// 轉為 CLOSED 時，帳本保存的 EndTime 為 EndTime 與最後一筆出價時間中較晚者。
type StatusUpdate struct {
	AuctionID uuid.UUID
	From      Status
	To        Status
	StartTime *time.Time
	EndTime   *time.Time
}

// ListFilter 是列出拍賣時的篩選條件
type ListFilter struct {
	Status  *Status
	BuyerID string
	Limit   int
}

// Ledger 是拍賣、品項和出價的持久化紀錄
type Ledger interface {
	// CreateAuction 建立一場 SCHEDULED 拍賣以及它的所有品項
	CreateAuction(ctx context.Context, draft AuctionDraft) (Auction, []Item, error)
	// GetAuction 取得拍賣，不存在時回傳 ErrNotFound
	GetAuction(ctx context.Context, id uuid.UUID) (Auction, error)
	// ListAuctions 依條件列出拍賣，新建立的在前
	ListAuctions(ctx context.Context, filter ListFilter) ([]Auction, error)
	// ListLiveAuctions 列出所有 LIVE 拍賣，用於排程器重建截止時間
	ListLiveAuctions(ctx context.Context) ([]Auction, error)
	// GetItem 取得品項，不存在時回傳 ErrNotFound
	GetItem(ctx context.Context, id uuid.UUID) (Item, error)
	// ListItems 列出拍賣的所有品項
	ListItems(ctx context.Context, auctionID uuid.UUID) ([]Item, error)
	// ListBidsForItem 依出價金額由低到高列出品項的所有出價
	ListBidsForItem(ctx context.Context, itemID uuid.UUID) ([]Bid, error)
	// AppendBid 原子性地寫入出價 (compare-and-append)
	AppendBid(ctx context.Context, req AppendBidRequest) (Bid, error)
	// UpdateAuctionStatus 原子性地更新拍賣狀態 (compare-and-set)
	UpdateAuctionStatus(ctx context.Context, req StatusUpdate) (Auction, error)
}
