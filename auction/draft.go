package auction

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

const maxTitleLength = 255

// Normalize 檢查並整理建立拍賣的資料，回傳整理後的副本
func (d AuctionDraft) Normalize() (AuctionDraft, error) {
	const op = "AuctionDraft.Normalize"
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("[%s] %w: %s", op, ErrInvalidArgument, fmt.Sprintf(format, args...))
	}

	out := d
	out.BuyerID = strings.TrimSpace(d.BuyerID)
	out.Title = strings.TrimSpace(d.Title)
	if out.BuyerID == "" {
		return AuctionDraft{}, invalid("buyer is required")
	}
	if out.Title == "" {
		return AuctionDraft{}, invalid("title is required")
	}
	if utf8.RuneCountInString(out.Title) > maxTitleLength {
		return AuctionDraft{}, invalid("title exceeds %d characters", maxTitleLength)
	}
	if !d.StartPrice.IsPositive() {
		return AuctionDraft{}, invalid("start price must be positive")
	}
	if !d.DecrementStep.IsPositive() {
		return AuctionDraft{}, invalid("decrement step must be positive")
	}
	if !fitsMoneyScale(d.StartPrice) || !fitsMoneyScale(d.DecrementStep) {
		return AuctionDraft{}, invalid("prices allow at most %d decimal places", MoneyScale)
	}
	if !d.DecrementStep.LessThan(d.StartPrice) {
		return AuctionDraft{}, invalid("decrement step must be smaller than start price")
	}
	if d.DurationMinutes <= 0 {
		return AuctionDraft{}, invalid("duration must be a positive number of minutes")
	}
	if len(d.Items) == 0 {
		return AuctionDraft{}, invalid("at least one item is required")
	}

	out.Items = make([]ItemDraft, len(d.Items))
	for i, item := range d.Items {
		item.Description = strings.TrimSpace(item.Description)
		item.UnitOfMeasure = strings.TrimSpace(item.UnitOfMeasure)
		if item.Description == "" {
			return AuctionDraft{}, invalid("item %d: description is required", i+1)
		}
		if item.Quantity == 0 {
			item.Quantity = 1
		}
		if item.Quantity < 0 {
			return AuctionDraft{}, invalid("item %d: quantity must be positive", i+1)
		}
		if item.UnitOfMeasure == "" {
			item.UnitOfMeasure = DefaultUnitOfMeasure
		}
		out.Items[i] = item
	}
	return out, nil
}

// ParseItemsText 解析每行一個品項的文字，格式為 `description,quantity,uom`。
// quantity 預設為 1，uom 預設為 NOS，空白行會被忽略。
func ParseItemsText(text string) ([]ItemDraft, error) {
	const op = "ParseItemsText"
	var items []ItemDraft
	for n, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		item := ItemDraft{
			Description:   parts[0],
			Quantity:      1,
			UnitOfMeasure: DefaultUnitOfMeasure,
		}
		if len(parts) > 1 && parts[1] != "" {
			qty, err := strconv.Atoi(parts[1])
			if err != nil || qty <= 0 {
				return nil, fmt.Errorf("[%s] %w: line %d: invalid quantity %q", op, ErrInvalidArgument, n+1, parts[1])
			}
			item.Quantity = qty
		}
		if len(parts) > 2 && parts[2] != "" {
			item.UnitOfMeasure = parts[2]
		}
		items = append(items, item)
	}
	return items, nil
}
