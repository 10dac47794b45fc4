package auction

import (
	"github.com/shopspring/decimal"
)

// MoneyScale 是金額允許的小數位數，與資料庫 numeric(20,4) 欄位一致
const MoneyScale = 4

// fitsMoneyScale 判斷金額在 MoneyScale 位小數內可以完整保存
func fitsMoneyScale(v decimal.Decimal) bool {
	return v.Equal(v.Truncate(MoneyScale))
}

// MaxAcceptableBid returns the highest value a new bid may take: floor - step.
func MaxAcceptableBid(floor, step decimal.Decimal) decimal.Decimal {
	return floor.Sub(step)
}

// ValidateBid decides whether value is admissible against the current floor.
// A bid must be positive and undercut the floor by at least one full step;
// a bid equal to the floor, or undercutting it by less than step, is rejected.
func ValidateBid(step, floor, value decimal.Decimal) error {
	if !value.IsPositive() {
		return rejectBid(ReasonNonPositive)
	}
	if !fitsMoneyScale(value) {
		return rejectBid(ReasonTooPrecise)
	}
	boundary := MaxAcceptableBid(floor, step)
	if value.GreaterThan(boundary) {
		return &BidRejectedError{Reason: ReasonTooHigh, Boundary: &boundary}
	}
	return nil
}
