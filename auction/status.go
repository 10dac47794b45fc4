package auction

import (
	"fmt"
	"strings"
)

// Status 是拍賣的生命週期狀態
type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusLive      Status = "LIVE"
	StatusClosed    Status = "CLOSED"
)

// ParseStatus 將字串轉換為 Status
func ParseStatus(s string) (Status, error) {
	switch status := Status(strings.ToUpper(strings.TrimSpace(s))); status {
	case StatusScheduled, StatusLive, StatusClosed:
		return status, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, s)
	}
}

// CanTransitionTo 判斷狀態是否可以轉換到 next。
// 只允許 SCHEDULED → LIVE → CLOSED，不能倒退也不能跳過。
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusScheduled:
		return next == StatusLive
	case StatusLive:
		return next == StatusClosed
	default:
		return false
	}
}

func (s Status) String() string {
	return string(s)
}
