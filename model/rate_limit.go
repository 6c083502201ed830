package model

import "time"

// RateWindow is the per-identity fixed-window record. Count only grows inside
// the current window; once BlockedUntil is set and in the future the identity
// is denied regardless of window state.
type RateWindow struct {
	Count         int
	WindowResetAt time.Time
	BlockedUntil  *time.Time
}

// Expired reports whether both the window and any block have elapsed, making
// the record eligible for sweep removal.
func (r *RateWindow) Expired(now time.Time) bool {
	if now.Before(r.WindowResetAt) {
		return false
	}
	return r.BlockedUntil == nil || !now.Before(*r.BlockedUntil)
}
