package dispatch

import (
	"time"

	"github.com/reachforge/outreach-core/pkg/types/common"
)

// AccountRateState tracks one account's position in its daily send window.
// Mutated only by the account's worker; all other readers get copies.
type AccountRateState struct {
	AccountKey    common.AccountKey `json:"account_key"`
	SentToday     int               `json:"sent_today"`
	DailyLimit    int               `json:"daily_limit"`
	WindowResetAt time.Time         `json:"window_reset_at"`
}

// NewAccountRateState creates a fresh window for an account, resetting at
// the next midnight in loc.
func NewAccountRateState(key common.AccountKey, dailyLimit int, now time.Time, loc *time.Location) *AccountRateState {
	return &AccountRateState{
		AccountKey:    key,
		DailyLimit:    dailyLimit,
		WindowResetAt: nextMidnight(now, loc),
	}
}

// Exhausted reports whether the account hit its daily ceiling.
func (s *AccountRateState) Exhausted() bool {
	return s.SentToday >= s.DailyLimit
}

// Remaining is the quota left in the current window.
func (s *AccountRateState) Remaining() int {
	r := s.DailyLimit - s.SentToday
	if r < 0 {
		return 0
	}
	return r
}

// RecordSend counts one completed send against the window.
func (s *AccountRateState) RecordSend() {
	s.SentToday++
}

// RolloverIfDue resets the counter when now has crossed the window boundary.
// The reset is idempotent per boundary: repeated calls for the same instant
// roll over at most once, and the new boundary is always in the future, so a
// long stall rolls through multiple missed windows in one call.
func (s *AccountRateState) RolloverIfDue(now time.Time, loc *time.Location) bool {
	if now.Before(s.WindowResetAt) {
		return false
	}
	s.SentToday = 0
	s.WindowResetAt = nextMidnight(now, loc)
	return true
}

// WindowDate is the YYYY-MM-DD label of the current window in loc, used as
// the hot-counter key.
func (s *AccountRateState) WindowDate(now time.Time, loc *time.Location) string {
	return now.In(loc).Format("2006-01-02")
}

// nextMidnight returns the first midnight in loc strictly after now.
func nextMidnight(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return day.AddDate(0, 0, 1)
}
