package model

import "time"

// LoginAttempt tracks consecutive authentication failures for one client
// identity. Failures reset to zero on success and when a lock is applied, so
// a fresh threshold must be reached again after the lock expires.
type LoginAttempt struct {
	Failures    int
	LockedUntil *time.Time
	UpdatedAt   time.Time
}

func (a *LoginAttempt) Locked(now time.Time) bool {
	return a.LockedUntil != nil && now.Before(*a.LockedUntil)
}
