package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"rauction/auction"
	"rauction/models"
)

// GormLedger 以關聯式資料庫保存拍賣、品項和出價。
// 寫入出價時的交易順序：
//  1. 以 FOR SHARE 鎖定拍賣，確認仍為 LIVE 且未過截止時間
//  2. 以 FOR UPDATE 鎖定品項，重新計算底價並與 ExpectedFloor 比較
//  3. 寫入出價
//
// 關閉拍賣的 UPDATE 必須等待所有持有 FOR SHARE 的交易結束，
// 因此關閉之後不會再有任何出價被寫入。
type GormLedger struct {
	db *gorm.DB
}

var _ auction.Ledger = (*GormLedger)(nil)

// NewGormLedger 建立以 gorm 為基礎的帳本
func NewGormLedger(db *gorm.DB) (*GormLedger, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	return &GormLedger{db: db}, nil
}

// Migrate 建立或更新資料表
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("[Migrate] Fail to migrate schema, err=%w", err)
	}
	return nil
}

func (l *GormLedger) CreateAuction(ctx context.Context, draft auction.AuctionDraft) (auction.Auction, []auction.Item, error) {
	const op = "GormLedger.CreateAuction"
	record := models.Auction{
		ID:              uuid.Must(uuid.NewV7()),
		BuyerID:         draft.BuyerID,
		Title:           draft.Title,
		StartPrice:      draft.StartPrice,
		DecrementStep:   draft.DecrementStep,
		DurationMinutes: draft.DurationMinutes,
		Status:          string(auction.StatusScheduled),
	}
	items := lo.Map(draft.Items, func(item auction.ItemDraft, i int) models.Item {
		return models.Item{
			ID:            uuid.Must(uuid.NewV7()),
			AuctionID:     record.ID,
			Position:      i,
			Description:   item.Description,
			Quantity:      item.Quantity,
			UnitOfMeasure: item.UnitOfMeasure,
		}
	})

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&record).Error; err != nil {
			return fmt.Errorf("fail to create auction, err=%w", err)
		}
		if err := tx.Omit(clause.Associations).Create(&items).Error; err != nil {
			return fmt.Errorf("fail to create items, err=%w", err)
		}
		return nil
	})
	if err != nil {
		return auction.Auction{}, nil, fmt.Errorf("[%s] %w", op, err)
	}
	return record.ToDomain(), lo.Map(items, func(item models.Item, _ int) auction.Item {
		return item.ToDomain()
	}), nil
}

func (l *GormLedger) GetAuction(ctx context.Context, id uuid.UUID) (auction.Auction, error) {
	const op = "GormLedger.GetAuction"
	var record models.Auction
	if err := l.db.WithContext(ctx).Where("id = ?", id).Take(&record).Error; err != nil {
		return auction.Auction{}, fmt.Errorf("[%s] Fail to find auction, err=%w", op, translate(err))
	}
	return record.ToDomain(), nil
}

func (l *GormLedger) ListAuctions(ctx context.Context, filter auction.ListFilter) ([]auction.Auction, error) {
	const op = "GormLedger.ListAuctions"
	query := l.db.WithContext(ctx).Model(&models.Auction{})
	if filter.Status != nil {
		query = query.Where("status = ?", string(*filter.Status))
	}
	if filter.BuyerID != "" {
		query = query.Where("buyer_id = ?", filter.BuyerID)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	var records []models.Auction
	if err := query.Order("created_at desc").Order("id desc").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("[%s] Fail to list auctions, err=%w", op, translate(err))
	}
	return lo.Map(records, func(r models.Auction, _ int) auction.Auction { return r.ToDomain() }), nil
}

func (l *GormLedger) ListLiveAuctions(ctx context.Context) ([]auction.Auction, error) {
	live := auction.StatusLive
	return l.ListAuctions(ctx, auction.ListFilter{Status: &live})
}

func (l *GormLedger) GetItem(ctx context.Context, id uuid.UUID) (auction.Item, error) {
	const op = "GormLedger.GetItem"
	var record models.Item
	if err := l.db.WithContext(ctx).Where("id = ?", id).Take(&record).Error; err != nil {
		return auction.Item{}, fmt.Errorf("[%s] Fail to find item, err=%w", op, translate(err))
	}
	return record.ToDomain(), nil
}

func (l *GormLedger) ListItems(ctx context.Context, auctionID uuid.UUID) ([]auction.Item, error) {
	const op = "GormLedger.ListItems"
	var records []models.Item
	if err := l.db.WithContext(ctx).Where("auction_id = ?", auctionID).Order("position").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("[%s] Fail to list items, err=%w", op, translate(err))
	}
	return lo.Map(records, func(r models.Item, _ int) auction.Item { return r.ToDomain() }), nil
}

func (l *GormLedger) ListBidsForItem(ctx context.Context, itemID uuid.UUID) ([]auction.Bid, error) {
	const op = "GormLedger.ListBidsForItem"
	var records []models.Bid
	if err := l.db.WithContext(ctx).
		Where("item_id = ?", itemID).
		Order("value").
		Order("submitted_at").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("[%s] Fail to list bids, err=%w", op, translate(err))
	}
	return lo.Map(records, func(r models.Bid, _ int) auction.Bid { return r.ToDomain() }), nil
}

func (l *GormLedger) AppendBid(ctx context.Context, req auction.AppendBidRequest) (auction.Bid, error) {
	const op = "GormLedger.AppendBid"
	var record models.Bid
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 鎖定拍賣，阻止並行的關閉操作
		var a models.Auction
		if err := tx.Clauses(clause.Locking{Strength: "SHARE"}).
			Where("id = ?", req.AuctionID).
			Take(&a).Error; err != nil {
			return fmt.Errorf("fail to lock auction, err=%w", translate(err))
		}
		if a.Status != string(auction.StatusLive) || a.EndTime == nil || !req.Now.Before(*a.EndTime) {
			return auction.ErrAuctionNotLive
		}

		// 鎖定品項，序列化同一品項的出價
		var item models.Item
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND auction_id = ?", req.ItemID, req.AuctionID).
			Take(&item).Error; err != nil {
			return fmt.Errorf("fail to lock item, err=%w", translate(err))
		}

		var lowest decimal.NullDecimal
		if err := tx.Model(&models.Bid{}).
			Select("MIN(value)").
			Where("item_id = ?", req.ItemID).
			Row().Scan(&lowest); err != nil {
			return fmt.Errorf("fail to read floor, err=%w", err)
		}
		floor := a.StartPrice
		if lowest.Valid && lowest.Decimal.LessThan(floor) {
			floor = lowest.Decimal
		}
		if !floor.Equal(req.ExpectedFloor) {
			return fmt.Errorf("%w: floor moved from %s to %s", auction.ErrConflict, req.ExpectedFloor, floor)
		}

		// 同一品項的出價時間必須嚴格遞增
		submittedAt := req.Now.UTC().Truncate(time.Microsecond)
		var last models.Bid
		result := tx.Where("item_id = ?", req.ItemID).Order("submitted_at desc").Limit(1).Find(&last)
		if result.Error != nil {
			return fmt.Errorf("fail to read last bid, err=%w", result.Error)
		}
		if result.RowsAffected > 0 && !submittedAt.After(last.SubmittedAt) {
			submittedAt = last.SubmittedAt.Add(time.Microsecond)
		}

		record = models.Bid{
			ID:          uuid.Must(uuid.NewV7()),
			AuctionID:   req.AuctionID,
			ItemID:      req.ItemID,
			SupplierID:  req.SupplierID,
			Value:       req.Value,
			SubmittedAt: submittedAt,
		}
		if err := tx.Omit(clause.Associations).Create(&record).Error; err != nil {
			return fmt.Errorf("fail to create bid, err=%w", err)
		}
		return nil
	})
	if err != nil {
		return auction.Bid{}, fmt.Errorf("[%s] %w", op, err)
	}
	return record.ToDomain(), nil
}

func (l *GormLedger) UpdateAuctionStatus(ctx context.Context, req auction.StatusUpdate) (auction.Auction, error) {
	const op = "GormLedger.UpdateAuctionStatus"
	if !req.From.CanTransitionTo(req.To) {
		return auction.Auction{}, fmt.Errorf("[%s] %w: %s -> %s", op, auction.ErrInvalidTransition, req.From, req.To)
	}
	updates := map[string]any{"status": string(req.To)}
	if req.StartTime != nil {
		updates["start_time"] = req.StartTime.UTC()
	}
	if req.EndTime != nil {
		updates["end_time"] = req.EndTime.UTC().Truncate(time.Microsecond)
	}

	var record models.Auction
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if req.To == auction.StatusClosed && req.EndTime != nil {
			// 等待持有 FOR SHARE 的出價交易結束，截止時間不得早於已寫入的出價
			var locked models.Auction
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("id = ?", req.AuctionID).
				Take(&locked).Error; err != nil {
				return fmt.Errorf("fail to lock auction, err=%w", translate(err))
			}
			end := req.EndTime.UTC().Truncate(time.Microsecond)
			var last models.Bid
			result := tx.Where("auction_id = ?", req.AuctionID).Order("submitted_at desc").Limit(1).Find(&last)
			if result.Error != nil {
				return fmt.Errorf("fail to read last bid, err=%w", result.Error)
			}
			if result.RowsAffected > 0 && last.SubmittedAt.After(end) {
				end = last.SubmittedAt.UTC()
			}
			updates["end_time"] = end
		}

		// compare-and-set：只有狀態仍為 From 時才會更新
		result := tx.Model(&models.Auction{}).
			Where("id = ? AND status = ?", req.AuctionID, string(req.From)).
			Updates(updates)
		if result.Error != nil {
			return fmt.Errorf("fail to update status, err=%w", result.Error)
		}
		if err := tx.Where("id = ?", req.AuctionID).Take(&record).Error; err != nil {
			return fmt.Errorf("fail to find auction, err=%w", translate(err))
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: auction is %s, expected %s", auction.ErrInvalidTransition, record.Status, req.From)
		}
		return nil
	})
	if err != nil {
		return auction.Auction{}, fmt.Errorf("[%s] %w", op, err)
	}
	return record.ToDomain(), nil
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %w", auction.ErrNotFound, err)
	}
	return err
}
