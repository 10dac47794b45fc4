package auction

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound 表示拍賣或品項不存在
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition 表示違反狀態機規則
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrBidRejected 表示出價不符合規則，詳細原因見 BidRejectedError
	ErrBidRejected = errors.New("bid rejected")
	// ErrConflict 表示同一品項的寫入競爭失敗，呼叫者應重新讀取底價後再出價
	ErrConflict = errors.New("conflict")
	// ErrUpstreamUnavailable 表示帳本或廣播等外部依賴失敗
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrInvalidArgument 表示輸入資料不合法
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrForbidden 表示操作者沒有權限
	ErrForbidden = errors.New("forbidden")
	// ErrAuctionNotLive 由帳本在寫入出價時回傳，表示拍賣已不在 LIVE 狀態或已過截止時間
	ErrAuctionNotLive = errors.New("auction not live")
)

// RejectReason 是出價被拒絕的原因
type RejectReason string

const (
	ReasonNonPositive    RejectReason = "non_positive"
	ReasonTooHigh        RejectReason = "too_high"
	ReasonAuctionNotLive RejectReason = "auction_not_live"
	ReasonTooPrecise     RejectReason = "too_precise"
)

// BidRejectedError 包含出價被拒絕的具體原因
type BidRejectedError struct {
	Reason RejectReason
	// Boundary 是可接受的最高出價 (floor - step)，只有 ReasonTooHigh 時有值
	Boundary *decimal.Decimal
}

func (e *BidRejectedError) Error() string {
	switch e.Reason {
	case ReasonTooHigh:
		if e.Boundary != nil {
			return fmt.Sprintf("bid rejected: must be <= %s", e.Boundary.String())
		}
		return "bid rejected: too high"
	case ReasonNonPositive:
		return "bid rejected: value must be positive"
	case ReasonAuctionNotLive:
		return "bid rejected: auction is not live"
	case ReasonTooPrecise:
		return fmt.Sprintf("bid rejected: at most %d decimal places are allowed", MoneyScale)
	default:
		return "bid rejected: " + string(e.Reason)
	}
}

func (e *BidRejectedError) Is(target error) bool {
	return target == ErrBidRejected
}

func rejectBid(reason RejectReason) *BidRejectedError {
	return &BidRejectedError{Reason: reason}
}

// RejectionOf 取出 err 中的 BidRejectedError
func RejectionOf(err error) (*BidRejectedError, bool) {
	var rejected *BidRejectedError
	if errors.As(err, &rejected) {
		return rejected, true
	}
	return nil, false
}
