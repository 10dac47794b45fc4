package auction

import (
	"github.com/shopspring/decimal"
)

// Floor returns the current floor of an item: the lowest bid value, or
// startPrice when the item has no bids yet.
func Floor(startPrice decimal.Decimal, bids []Bid) decimal.Decimal {
	floor := startPrice
	for _, bid := range bids {
		if bid.Value.LessThan(floor) {
			floor = bid.Value
		}
	}
	return floor
}

// LowestBid returns the L1 bid of an item. Ties go to the earliest submission.
func LowestBid(bids []Bid) *Bid {
	var lowest *Bid
	for i := range bids {
		bid := &bids[i]
		if lowest == nil ||
			bid.Value.LessThan(lowest.Value) ||
			bid.Value.Equal(lowest.Value) && bid.SubmittedAt.Before(lowest.SubmittedAt) {
			lowest = bid
		}
	}
	if lowest == nil {
		return nil
	}
	l1 := *lowest
	return &l1
}
